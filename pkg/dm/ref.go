package dm

import (
	"fmt"
	"strconv"
)

// ObjectID identifies an LwM2M object.
type ObjectID uint16

// InstanceID identifies an instance within an object.
type InstanceID uint16

// MaxInstanceID is the largest usable instance id. 65535 is reserved.
const MaxInstanceID InstanceID = 65534

// Well-known object ids.
const (
	ObjectSecurity               ObjectID = 0
	ObjectServer                 ObjectID = 1
	ObjectAccessControl          ObjectID = 2
	ObjectDevice                 ObjectID = 3
	ObjectConnectivityMonitoring ObjectID = 4
	ObjectFirmwareUpdate         ObjectID = 5
	ObjectLocation               ObjectID = 6
	ObjectConnectivityStatistics ObjectID = 7
	ObjectCellularConnectivity   ObjectID = 10
	ObjectAPNConnectionProfile   ObjectID = 11
)

// String returns the object name for well-known objects, or the decimal id.
func (o ObjectID) String() string {
	switch o {
	case ObjectSecurity:
		return "Security"
	case ObjectServer:
		return "Server"
	case ObjectAccessControl:
		return "AccessControl"
	case ObjectDevice:
		return "Device"
	case ObjectConnectivityMonitoring:
		return "ConnectivityMonitoring"
	case ObjectFirmwareUpdate:
		return "FirmwareUpdate"
	case ObjectLocation:
		return "Location"
	case ObjectConnectivityStatistics:
		return "ConnectivityStatistics"
	case ObjectCellularConnectivity:
		return "CellularConnectivity"
	case ObjectAPNConnectionProfile:
		return "APNConnectionProfile"
	default:
		return strconv.FormatUint(uint64(o), 10)
	}
}

// Ref identifies one object instance.
type Ref struct {
	Object   ObjectID
	Instance InstanceID
}

// NewRef creates a Ref.
func NewRef(oid ObjectID, iid InstanceID) Ref {
	return Ref{Object: oid, Instance: iid}
}

// Less reports whether r sorts before other in canonical order.
func (r Ref) Less(other Ref) bool {
	if r.Object != other.Object {
		return r.Object < other.Object
	}
	return r.Instance < other.Instance
}

// Path returns the instance path, e.g. "/3/0".
func (r Ref) Path() string {
	return "/" + strconv.FormatUint(uint64(r.Object), 10) + "/" + strconv.FormatUint(uint64(r.Instance), 10)
}

// Link returns the link-format entry for the instance, e.g. "</3/0>".
func (r Ref) Link() string {
	return "<" + r.Path() + ">"
}

// String implements fmt.Stringer.
func (r Ref) String() string {
	return r.Path()
}

// ParsePath parses an instance path of the form "/O/I" (the leading slash
// is optional).
func ParsePath(s string) (Ref, error) {
	if len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '/' {
			continue
		}
		oid, err := parseID(s[:i])
		if err != nil {
			return Ref{}, fmt.Errorf("invalid object id in %q: %w", s, err)
		}
		iid, err := parseID(s[i+1:])
		if err != nil {
			return Ref{}, fmt.Errorf("invalid instance id in %q: %w", s, err)
		}
		if InstanceID(iid) > MaxInstanceID {
			return Ref{}, fmt.Errorf("%w: %d", ErrInvalidInstanceID, iid)
		}
		return NewRef(ObjectID(oid), InstanceID(iid)), nil
	}
	return Ref{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
}

// parseID parses a decimal identifier without sign or leading zeros.
func parseID(s string) (uint16, error) {
	if s == "" {
		return 0, ErrInvalidPath
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, fmt.Errorf("%w: leading zero in %q", ErrInvalidPath, s)
	}
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
