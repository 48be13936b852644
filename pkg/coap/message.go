package coap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Protocol constants.
const (
	// Version is the only CoAP version defined.
	Version = 1

	// MaxTokenLength is the largest token a message may carry.
	MaxTokenLength = 8

	payloadMarker = 0xff
)

// Codec errors.
var (
	ErrMessageTooShort = errors.New("coap: message too short")
	ErrInvalidVersion  = errors.New("coap: invalid version")
	ErrInvalidToken    = errors.New("coap: invalid token length")
	ErrInvalidOption   = errors.New("coap: invalid option")
	ErrEmptyPayload    = errors.New("coap: payload marker without payload")
)

// Message is a CoAP message.
type Message struct {
	Type      Type
	Code      Code
	MessageID uint16
	Token     []byte
	Options   []Option
	Payload   []byte
}

// IsEmpty returns true for an empty message (code 0.00), e.g. a bare ACK.
func (m *Message) IsEmpty() bool {
	return m.Code == Empty
}

// AddOption appends an option.
func (m *Message) AddOption(id OptionID, value []byte) {
	m.Options = append(m.Options, Option{ID: id, Value: value})
}

// AddStringOption appends a string-valued option.
func (m *Message) AddStringOption(id OptionID, value string) {
	m.AddOption(id, []byte(value))
}

// SetUintOption replaces all values of id with a single uint value.
func (m *Message) SetUintOption(id OptionID, value uint32) {
	m.RemoveOption(id)
	m.AddOption(id, encodeUint(value))
}

// RemoveOption drops every option with the given id.
func (m *Message) RemoveOption(id OptionID) {
	out := m.Options[:0]
	for _, o := range m.Options {
		if o.ID != id {
			out = append(out, o)
		}
	}
	m.Options = out
}

// Option returns the first value of id.
func (m *Message) Option(id OptionID) ([]byte, bool) {
	for _, o := range m.Options {
		if o.ID == id {
			return o.Value, true
		}
	}
	return nil, false
}

// UintOption returns the first value of id decoded as an unsigned integer.
func (m *Message) UintOption(id OptionID) (uint32, bool) {
	v, ok := m.Option(id)
	if !ok {
		return 0, false
	}
	return decodeUint(v), true
}

// StringOptions returns all values of id as strings, in order.
func (m *Message) StringOptions(id OptionID) []string {
	var out []string
	for _, o := range m.Options {
		if o.ID == id {
			out = append(out, string(o.Value))
		}
	}
	return out
}

// SetPath sets the Uri-Path options from a slash-separated path.
func (m *Message) SetPath(path string) {
	m.RemoveOption(URIPath)
	for _, seg := range splitPath(path) {
		m.AddStringOption(URIPath, seg)
	}
}

// Path returns the Uri-Path options joined as "/a/b".
func (m *Message) Path() string {
	return joinPath(m.StringOptions(URIPath))
}

// AddQuery appends a Uri-Query option "key=value".
func (m *Message) AddQuery(key, value string) {
	m.AddStringOption(URIQuery, key+"="+value)
}

// Queries returns the Uri-Query options.
func (m *Message) Queries() []string {
	return m.StringOptions(URIQuery)
}

// LocationPath returns the Location-Path options joined as "/a/b".
func (m *Message) LocationPath() string {
	return joinPath(m.StringOptions(LocationPath))
}

// SetLocationPath sets the Location-Path options from a slash-separated path.
func (m *Message) SetLocationPath(path string) {
	m.RemoveOption(LocationPath)
	for _, seg := range splitPath(path) {
		m.AddStringOption(LocationPath, seg)
	}
}

// ContentFormat returns the Content-Format option.
func (m *Message) ContentFormat() (uint32, bool) {
	return m.UintOption(ContentFormat)
}

// URI renders path and query, e.g. "/rd?ep=x&lt=60". Used for logging and
// comparisons in tests.
func (m *Message) URI() string {
	uri := m.Path()
	if q := m.Queries(); len(q) > 0 {
		uri += "?" + strings.Join(q, "&")
	}
	return uri
}

// String implements fmt.Stringer.
func (m *Message) String() string {
	return fmt.Sprintf("%s %s mid=%d token=%x %s", m.Type, m.Code, m.MessageID, m.Token, m.URI())
}

func splitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func joinPath(segs []string) string {
	if len(segs) == 0 {
		return ""
	}
	return "/" + strings.Join(segs, "/")
}

// Marshal encodes the message.
func (m *Message) Marshal() ([]byte, error) {
	if len(m.Token) > MaxTokenLength {
		return nil, ErrInvalidToken
	}

	var buf bytes.Buffer
	buf.WriteByte(Version<<6 | byte(m.Type&0x3)<<4 | byte(len(m.Token)))
	buf.WriteByte(byte(m.Code))
	var mid [2]byte
	binary.BigEndian.PutUint16(mid[:], m.MessageID)
	buf.Write(mid[:])
	buf.Write(m.Token)

	opts := make([]Option, len(m.Options))
	copy(opts, m.Options)
	sort.SliceStable(opts, func(i, j int) bool { return opts[i].ID < opts[j].ID })

	var prev OptionID
	for _, o := range opts {
		if len(o.Value) > 65535+269 {
			return nil, fmt.Errorf("%w: option %d too long", ErrInvalidOption, o.ID)
		}
		delta := int(o.ID - prev)
		prev = o.ID

		dNib, dExt := optionNibble(delta)
		lNib, lExt := optionNibble(len(o.Value))
		buf.WriteByte(byte(dNib<<4 | lNib))
		buf.Write(dExt)
		buf.Write(lExt)
		buf.Write(o.Value)
	}

	if len(m.Payload) > 0 {
		buf.WriteByte(payloadMarker)
		buf.Write(m.Payload)
	}
	return buf.Bytes(), nil
}

// optionNibble returns the 4-bit header value and extended bytes for an
// option delta or length.
func optionNibble(v int) (int, []byte) {
	switch {
	case v < 13:
		return v, nil
	case v < 269:
		return 13, []byte{byte(v - 13)}
	default:
		v -= 269
		return 14, []byte{byte(v >> 8), byte(v)}
	}
}

// Unmarshal decodes a message.
func Unmarshal(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, ErrMessageTooShort
	}
	if data[0]>>6 != Version {
		return nil, ErrInvalidVersion
	}

	m := &Message{
		Type:      Type(data[0] >> 4 & 0x3),
		Code:      Code(data[1]),
		MessageID: binary.BigEndian.Uint16(data[2:4]),
	}

	tkl := int(data[0] & 0xf)
	if tkl > MaxTokenLength {
		return nil, ErrInvalidToken
	}
	data = data[4:]
	if len(data) < tkl {
		return nil, ErrMessageTooShort
	}
	if tkl > 0 {
		m.Token = append([]byte(nil), data[:tkl]...)
	}
	data = data[tkl:]

	var id OptionID
	for len(data) > 0 {
		if data[0] == payloadMarker {
			if len(data) == 1 {
				return nil, ErrEmptyPayload
			}
			m.Payload = append([]byte(nil), data[1:]...)
			return m, nil
		}

		dNib := int(data[0] >> 4)
		lNib := int(data[0] & 0xf)
		data = data[1:]

		delta, rest, err := readExtended(dNib, data)
		if err != nil {
			return nil, err
		}
		length, rest, err := readExtended(lNib, rest)
		if err != nil {
			return nil, err
		}
		if len(rest) < length {
			return nil, fmt.Errorf("%w: value truncated", ErrInvalidOption)
		}

		id += OptionID(delta)
		m.Options = append(m.Options, Option{ID: id, Value: append([]byte(nil), rest[:length]...)})
		data = rest[length:]
	}
	return m, nil
}

func readExtended(nibble int, data []byte) (int, []byte, error) {
	switch nibble {
	case 13:
		if len(data) < 1 {
			return 0, nil, fmt.Errorf("%w: truncated extension", ErrInvalidOption)
		}
		return int(data[0]) + 13, data[1:], nil
	case 14:
		if len(data) < 2 {
			return 0, nil, fmt.Errorf("%w: truncated extension", ErrInvalidOption)
		}
		return int(binary.BigEndian.Uint16(data[:2])) + 269, data[2:], nil
	case 15:
		return 0, nil, fmt.Errorf("%w: reserved nibble", ErrInvalidOption)
	default:
		return nibble, data, nil
	}
}
