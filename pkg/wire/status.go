package wire

import "github.com/lwm2m-go/regsync/pkg/coap"

// Status represents a response status as seen by the registration interface.
type Status uint8

const (
	// StatusSuccess indicates the server accepted the request.
	StatusSuccess Status = 0

	// StatusBadRequest indicates malformed parameters or payload.
	StatusBadRequest Status = 1

	// StatusUnauthorized indicates the server rejected the client identity.
	StatusUnauthorized Status = 2

	// StatusForbidden indicates the endpoint name is not allowed.
	StatusForbidden Status = 3

	// StatusNotFound indicates the location is unknown to the server.
	StatusNotFound Status = 4

	// StatusPreconditionFailed indicates a protocol version mismatch.
	StatusPreconditionFailed Status = 5

	// StatusServerError indicates a 5.xx response.
	StatusServerError Status = 6

	// StatusReset indicates the server answered with a Reset message.
	StatusReset Status = 7

	// StatusUnexpected indicates any other response code.
	StatusUnexpected Status = 8
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusBadRequest:
		return "BAD_REQUEST"
	case StatusUnauthorized:
		return "UNAUTHORIZED"
	case StatusForbidden:
		return "FORBIDDEN"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusPreconditionFailed:
		return "PRECONDITION_FAILED"
	case StatusServerError:
		return "SERVER_ERROR"
	case StatusReset:
		return "RESET"
	case StatusUnexpected:
		return "UNEXPECTED"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusSuccess
}

// StatusFromCode maps a CoAP response code to a Status. Any 2.xx code is
// a success; SuccessCode names the one a conforming server sends.
func StatusFromCode(code coap.Code) Status {
	if code.IsSuccess() {
		return StatusSuccess
	}
	switch code {
	case coap.BadRequest:
		return StatusBadRequest
	case coap.Unauthorized:
		return StatusUnauthorized
	case coap.Forbidden:
		return StatusForbidden
	case coap.NotFound:
		return StatusNotFound
	case coap.PreconditionFailed:
		return StatusPreconditionFailed
	}
	if code.Class() == 5 {
		return StatusServerError
	}
	return StatusUnexpected
}

// SuccessCode returns the response code the server sends on success.
func (o Operation) SuccessCode() coap.Code {
	switch o {
	case OpRegister:
		return coap.Created
	case OpUpdate:
		return coap.Changed
	case OpDeregister:
		return coap.Deleted
	default:
		return coap.Empty
	}
}
