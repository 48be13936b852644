package coap

import "fmt"

// Type is the CoAP message type.
type Type uint8

const (
	// Confirmable messages require an acknowledgement.
	Confirmable Type = 0
	// NonConfirmable messages are not acknowledged.
	NonConfirmable Type = 1
	// Acknowledgement acknowledges a Confirmable message.
	Acknowledgement Type = 2
	// Reset rejects a message.
	Reset Type = 3
)

// String returns the type abbreviation.
func (t Type) String() string {
	switch t {
	case Confirmable:
		return "CON"
	case NonConfirmable:
		return "NON"
	case Acknowledgement:
		return "ACK"
	case Reset:
		return "RST"
	default:
		return "UNKNOWN"
	}
}

// Code is a CoAP method or response code (class.detail).
type Code uint8

// NewCode builds a code from its class and detail.
func NewCode(class, detail uint8) Code {
	return Code(class<<5 | detail&0x1f)
}

// Method and response codes used by the registration interface.
const (
	Empty  Code = 0
	GET    Code = 1
	POST   Code = 2
	PUT    Code = 3
	DELETE Code = 4

	Created             Code = 65  // 2.01
	Deleted             Code = 66  // 2.02
	Valid               Code = 67  // 2.03
	Changed             Code = 68  // 2.04
	Content             Code = 69  // 2.05
	BadRequest          Code = 128 // 4.00
	Unauthorized        Code = 129 // 4.01
	BadOption           Code = 130 // 4.02
	Forbidden           Code = 131 // 4.03
	NotFound            Code = 132 // 4.04
	MethodNotAllowed    Code = 133 // 4.05
	NotAcceptable       Code = 134 // 4.06
	PreconditionFailed  Code = 140 // 4.12
	InternalServerError Code = 160 // 5.00
	NotImplemented      Code = 161 // 5.01
	ServiceUnavailable  Code = 163 // 5.03
	GatewayTimeout      Code = 164 // 5.04
)

// Class returns the code class (0 request, 2 success, 4 client error, 5 server error).
func (c Code) Class() uint8 {
	return uint8(c) >> 5
}

// Detail returns the code detail.
func (c Code) Detail() uint8 {
	return uint8(c) & 0x1f
}

// IsRequest returns true for method codes.
func (c Code) IsRequest() bool {
	return c.Class() == 0 && c != Empty
}

// IsResponse returns true for response codes.
func (c Code) IsResponse() bool {
	return c.Class() >= 2
}

// IsSuccess returns true for 2.xx codes.
func (c Code) IsSuccess() bool {
	return c.Class() == 2
}

// String renders the code in dotted form, e.g. "2.04".
func (c Code) String() string {
	switch c {
	case Empty:
		return "EMPTY"
	case GET:
		return "GET"
	case POST:
		return "POST"
	case PUT:
		return "PUT"
	case DELETE:
		return "DELETE"
	}
	return fmt.Sprintf("%d.%02d", c.Class(), c.Detail())
}
