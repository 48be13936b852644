package log

import (
	"time"

	"github.com/lwm2m-go/regsync/pkg/coap"
	"github.com/lwm2m-go/regsync/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the server session (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Endpoint is the client endpoint name.
	Endpoint string `cbor:"6,keyasint,omitempty"`

	// Server identifies the management server (URI or address).
	Server string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Datagram    *DatagramEvent    `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Exchange layer
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Session layer
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
	// DirectionNone is used for events without a direction (state changes).
	DirectionNone Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the datagram layer (raw bytes).
	LayerTransport Layer = 0
	// LayerExchange is the CoAP message layer.
	LayerExchange Layer = 1
	// LayerSession is the registration state machine.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerExchange:
		return "EXCHANGE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// DatagramEvent captures raw datagram data at the transport layer.
type DatagramEvent struct {
	// Size is the datagram size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw datagram (may be truncated for large datagrams).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MaxDatagramCapture is the number of bytes kept in DatagramEvent.Data.
const MaxDatagramCapture = 256

// NewDatagramEvent captures data, truncating it to MaxDatagramCapture.
func NewDatagramEvent(data []byte) *DatagramEvent {
	ev := &DatagramEvent{Size: len(data)}
	if len(data) > MaxDatagramCapture {
		ev.Data = append([]byte(nil), data[:MaxDatagramCapture]...)
		ev.Truncated = true
	} else {
		ev.Data = append([]byte(nil), data...)
	}
	return ev
}

// MessageEvent captures a decoded CoAP message at the exchange layer.
type MessageEvent struct {
	// Type is the CoAP message type (CON/NON/ACK/RST).
	Type coap.Type `cbor:"1,keyasint"`

	// Code is the CoAP method or response code.
	Code coap.Code `cbor:"2,keyasint"`

	// MessageID is the CoAP message id.
	MessageID uint16 `cbor:"3,keyasint"`

	// Token correlates requests and responses.
	Token []byte `cbor:"4,keyasint,omitempty"`

	// For requests: the registration operation.
	Operation *wire.Operation `cbor:"5,keyasint,omitempty"`

	// URI is the request path and query.
	URI string `cbor:"6,keyasint,omitempty"`

	// For responses: the mapped status.
	Status *wire.Status `cbor:"7,keyasint,omitempty"`

	// Payload is the message payload (instance listings are text).
	Payload string `cbor:"8,keyasint,omitempty"`

	// Attempt is the transmission attempt (0 for the first send).
	Attempt int `cbor:"9,keyasint,omitempty"`

	// Stray marks an inbound message that matched no pending exchange.
	Stray bool `cbor:"10,keyasint,omitempty"`

	// RoundTrip is the time from first transmission to the response.
	RoundTrip *time.Duration `cbor:"11,keyasint,omitempty"`
}

// StateChangeEvent captures registration lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntitySession indicates a registration session state change.
	StateEntitySession StateEntity = 1
	// StateEntityTransport indicates a transport state change.
	StateEntityTransport StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntitySession:
		return "SESSION"
	case StateEntityTransport:
		return "TRANSPORT"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
