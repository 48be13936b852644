package session

import (
	"github.com/lwm2m-go/regsync/pkg/dm"
	"github.com/lwm2m-go/regsync/pkg/wire"
)

// State is the registration state of a session.
type State uint8

const (
	// StateUnregistered is the initial state. No exchange is outstanding.
	StateUnregistered State = iota

	// StateRegistering indicates a Register exchange is in flight.
	StateRegistering

	// StateRegistered indicates the server acknowledged the registration.
	StateRegistered

	// StateUpdating indicates an Update exchange is in flight.
	StateUpdating

	// StateDeregistering indicates a Deregister exchange is in flight.
	StateDeregistering

	// StateDeregistered is terminal for the session. A new registration
	// starts a fresh session.
	StateDeregistered
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "UNREGISTERED"
	case StateRegistering:
		return "REGISTERING"
	case StateRegistered:
		return "REGISTERED"
	case StateUpdating:
		return "UPDATING"
	case StateDeregistering:
		return "DEREGISTERING"
	case StateDeregistered:
		return "DEREGISTERED"
	default:
		return "UNKNOWN"
	}
}

// InFlight reports whether the state has an outstanding exchange.
func (s State) InFlight() bool {
	return s == StateRegistering || s == StateUpdating || s == StateDeregistering
}

// Exchange identifies the outstanding exchange of a session.
type Exchange struct {
	// Seq is the machine-local sequence number of the exchange.
	Seq uint64

	// Operation is the request being performed.
	Operation wire.Operation

	// Objects is the listing sent with a Register or Update.
	Objects dm.Set

	// Token and MessageID are the correlation identifiers assigned by the
	// exchange driver, once known.
	Token     []byte
	MessageID uint16
}

// Record is the per-session registration state.
type Record struct {
	Endpoint string
	Lifetime uint32

	// Location is the server-assigned session path, set once registered.
	Location string

	// Acknowledged is the instance set last acknowledged by the server.
	// It only changes on a successful exchange.
	Acknowledged dm.Set

	State State

	// Pending is the outstanding exchange, nil when none.
	Pending *Exchange
}

// Clone returns a copy of r that shares no mutable state with it.
func (r Record) Clone() Record {
	if r.Pending != nil {
		p := *r.Pending
		p.Token = append([]byte(nil), p.Token...)
		r.Pending = &p
	}
	return r
}
