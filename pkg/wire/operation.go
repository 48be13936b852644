package wire

// Operation represents a registration interface operation.
type Operation uint8

const (
	// OpRegister creates a session on the server.
	OpRegister Operation = 1

	// OpUpdate refreshes the session's instance listing.
	OpUpdate Operation = 2

	// OpDeregister removes the session from the server.
	OpDeregister Operation = 3
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpRegister:
		return "Register"
	case OpUpdate:
		return "Update"
	case OpDeregister:
		return "Deregister"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the operation is a registration interface operation.
func (o Operation) IsValid() bool {
	return o >= OpRegister && o <= OpDeregister
}
