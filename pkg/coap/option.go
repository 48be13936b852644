package coap

// OptionID is a CoAP option number.
type OptionID uint16

// Option numbers used by the registration interface.
const (
	IfMatch       OptionID = 1
	URIHost       OptionID = 3
	ETag          OptionID = 4
	IfNoneMatch   OptionID = 5
	Observe       OptionID = 6
	URIPort       OptionID = 7
	LocationPath  OptionID = 8
	URIPath       OptionID = 11
	ContentFormat OptionID = 12
	MaxAge        OptionID = 14
	URIQuery      OptionID = 15
	Accept        OptionID = 17
	LocationQuery OptionID = 20
)

// Content formats.
const (
	FormatTextPlain  uint32 = 0
	FormatLinkFormat uint32 = 40
	FormatOctets     uint32 = 42
	FormatCBOR       uint32 = 60
)

// Option is a single CoAP option.
type Option struct {
	ID    OptionID
	Value []byte
}

// encodeUint encodes v in the minimal number of bytes (zero is empty).
func encodeUint(v uint32) []byte {
	switch {
	case v == 0:
		return nil
	case v <= 0xff:
		return []byte{byte(v)}
	case v <= 0xffff:
		return []byte{byte(v >> 8), byte(v)}
	case v <= 0xffffff:
		return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
	default:
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

// decodeUint decodes a big-endian unsigned option value.
func decodeUint(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}
