package wire

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/lwm2m-go/regsync/pkg/coap"
	"github.com/lwm2m-go/regsync/pkg/dm"
)

// Protocol defaults.
const (
	// DefaultVersion is the LwM2M version sent in the lwm2m= parameter.
	DefaultVersion = "1.0"

	// DefaultBinding is the UDP binding. It is omitted from Register.
	DefaultBinding = "U"

	// RegisterPath is the resource directory path used by Register.
	RegisterPath = "/rd"
)

// Query parameter names.
const (
	QueryVersion  = "lwm2m"
	QueryEndpoint = "ep"
	QueryLifetime = "lt"
	QueryBinding  = "b"
)

// Message errors.
var (
	ErrMissingEndpoint = errors.New("endpoint name is required")
	ErrInvalidLifetime = errors.New("lifetime must be positive")
	ErrMissingLocation = errors.New("session location is required")
	ErrNoLocation      = errors.New("response carries no location")
)

// RegisterParams holds the parameters of a Register request.
type RegisterParams struct {
	Endpoint string
	Version  string
	Lifetime uint32
	Binding  string
	Objects  dm.Set
}

// Validate checks the parameters.
func (p *RegisterParams) Validate() error {
	if p.Endpoint == "" {
		return ErrMissingEndpoint
	}
	if p.Lifetime == 0 {
		return ErrInvalidLifetime
	}
	return nil
}

// NewRegister builds a Register request.
//
// The query is ordered lwm2m, ep, lt, b; b is omitted for the default
// UDP binding.
func NewRegister(p RegisterParams) (*coap.Message, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid register: %w", err)
	}
	version := p.Version
	if version == "" {
		version = DefaultVersion
	}

	m := &coap.Message{Type: coap.Confirmable, Code: coap.POST}
	m.SetPath(RegisterPath)
	m.AddQuery(QueryVersion, version)
	m.AddQuery(QueryEndpoint, p.Endpoint)
	m.AddQuery(QueryLifetime, strconv.FormatUint(uint64(p.Lifetime), 10))
	if p.Binding != "" && p.Binding != DefaultBinding {
		m.AddQuery(QueryBinding, p.Binding)
	}
	setListing(m, p.Objects)
	return m, nil
}

// NewUpdate builds an Update request to the session location carrying the
// complete current instance listing.
func NewUpdate(location string, objects dm.Set) (*coap.Message, error) {
	if location == "" {
		return nil, fmt.Errorf("invalid update: %w", ErrMissingLocation)
	}
	m := &coap.Message{Type: coap.Confirmable, Code: coap.POST}
	m.SetPath(location)
	setListing(m, objects)
	return m, nil
}

// NewDeregister builds a Deregister request to the session location.
func NewDeregister(location string) (*coap.Message, error) {
	if location == "" {
		return nil, fmt.Errorf("invalid deregister: %w", ErrMissingLocation)
	}
	m := &coap.Message{Type: coap.Confirmable, Code: coap.DELETE}
	m.SetPath(location)
	return m, nil
}

func setListing(m *coap.Message, objects dm.Set) {
	m.SetUintOption(coap.ContentFormat, coap.FormatLinkFormat)
	m.Payload = []byte(objects.Listing())
}

// RegisteredLocation extracts the session location from a Register
// response.
func RegisteredLocation(resp *coap.Message) (string, error) {
	loc := resp.LocationPath()
	if loc == "" {
		return "", ErrNoLocation
	}
	return loc, nil
}

// Classify returns the operation a registration request performs, based on
// its method and path. Used when logging outbound messages and by test
// servers.
func Classify(m *coap.Message) Operation {
	switch {
	case m.Code == coap.POST && m.Path() == RegisterPath:
		return OpRegister
	case m.Code == coap.POST:
		return OpUpdate
	case m.Code == coap.DELETE:
		return OpDeregister
	default:
		return 0
	}
}

// Objects parses the instance listing carried by a Register or Update.
func Objects(m *coap.Message) (dm.Set, error) {
	return dm.ParseListing(string(m.Payload))
}
