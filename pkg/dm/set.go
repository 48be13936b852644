package dm

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Parsing errors.
var (
	ErrInvalidPath       = errors.New("invalid instance path")
	ErrInvalidInstanceID = errors.New("invalid instance id")
	ErrInvalidListing    = errors.New("invalid instance listing")
)

// Set is a set of object instances.
//
// A Set is a value: methods that change membership return a new Set and
// leave the receiver untouched. The zero value is an empty set.
type Set struct {
	refs map[Ref]struct{}
}

// NewSet creates a set holding the given refs. Duplicates collapse.
func NewSet(refs ...Ref) Set {
	s := Set{refs: make(map[Ref]struct{}, len(refs))}
	for _, r := range refs {
		s.refs[r] = struct{}{}
	}
	return s
}

// Len returns the number of instances in the set.
func (s Set) Len() int {
	return len(s.refs)
}

// IsEmpty returns true if the set has no instances.
func (s Set) IsEmpty() bool {
	return len(s.refs) == 0
}

// Contains reports whether r is in the set.
func (s Set) Contains(r Ref) bool {
	_, ok := s.refs[r]
	return ok
}

// HasObject reports whether any instance of oid is in the set.
func (s Set) HasObject(oid ObjectID) bool {
	for r := range s.refs {
		if r.Object == oid {
			return true
		}
	}
	return false
}

// Instances returns the sorted instance ids of oid present in the set.
func (s Set) Instances(oid ObjectID) []InstanceID {
	var ids []InstanceID
	for r := range s.refs {
		if r.Object == oid {
			ids = append(ids, r.Instance)
		}
	}
	slices.Sort(ids)
	return ids
}

// With returns a copy of the set with refs added.
func (s Set) With(refs ...Ref) Set {
	out := s.clone(len(refs))
	for _, r := range refs {
		out.refs[r] = struct{}{}
	}
	return out
}

// Without returns a copy of the set with refs removed.
func (s Set) Without(refs ...Ref) Set {
	out := s.clone(0)
	for _, r := range refs {
		delete(out.refs, r)
	}
	return out
}

// WithoutObject returns a copy of the set with every instance of oid removed.
func (s Set) WithoutObject(oid ObjectID) Set {
	out := Set{refs: make(map[Ref]struct{}, len(s.refs))}
	for r := range s.refs {
		if r.Object != oid {
			out.refs[r] = struct{}{}
		}
	}
	return out
}

// Equal reports whether both sets hold the same instances.
func (s Set) Equal(other Set) bool {
	if len(s.refs) != len(other.refs) {
		return false
	}
	for r := range s.refs {
		if _, ok := other.refs[r]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the instances in canonical order: ascending by object id,
// then instance id.
func (s Set) Sorted() []Ref {
	out := make([]Ref, 0, len(s.refs))
	for r := range s.refs {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Ref) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		default:
			return 0
		}
	})
	return out
}

// Listing renders the canonical instance listing used in Register and
// Update payloads. An empty set renders as "".
func (s Set) Listing() string {
	sorted := s.Sorted()
	var b strings.Builder
	for i, r := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(r.Link())
	}
	return b.String()
}

// String implements fmt.Stringer.
func (s Set) String() string {
	return "{" + s.Listing() + "}"
}

func (s Set) clone(extra int) Set {
	out := Set{refs: make(map[Ref]struct{}, len(s.refs)+extra)}
	for r := range s.refs {
		out.refs[r] = struct{}{}
	}
	return out
}

// ParseListing parses a link-format instance listing.
//
// Entries may carry link attributes after ';' which are ignored, and
// object-only entries ("</3>") are accepted without contributing an
// instance. An empty string parses as the empty set.
func ParseListing(listing string) (Set, error) {
	s := NewSet()
	if strings.TrimSpace(listing) == "" {
		return s, nil
	}
	for _, entry := range strings.Split(listing, ",") {
		entry = strings.TrimSpace(entry)
		if i := strings.IndexByte(entry, ';'); i >= 0 {
			entry = entry[:i]
		}
		if len(entry) < 3 || entry[0] != '<' || entry[len(entry)-1] != '>' {
			return Set{}, fmt.Errorf("%w: entry %q", ErrInvalidListing, entry)
		}
		path := entry[1 : len(entry)-1]
		if strings.Count(path, "/") == 1 {
			if _, err := parseID(strings.TrimPrefix(path, "/")); err != nil {
				return Set{}, fmt.Errorf("%w: entry %q", ErrInvalidListing, entry)
			}
			continue
		}
		ref, err := ParsePath(path)
		if err != nil {
			return Set{}, fmt.Errorf("%w: %v", ErrInvalidListing, err)
		}
		s.refs[ref] = struct{}{}
	}
	return s, nil
}

// MustParseListing is like ParseListing but panics on error.
// Intended for tests and static tables.
func MustParseListing(listing string) Set {
	s, err := ParseListing(listing)
	if err != nil {
		panic(err)
	}
	return s
}
