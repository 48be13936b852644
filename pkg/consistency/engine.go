package consistency

import (
	"github.com/lwm2m-go/regsync/pkg/dm"
)

// Kind identifies the direction of a mutation.
type Kind uint8

const (
	// KindAdd adds instances to the registry.
	KindAdd Kind = iota + 1

	// KindRemove removes instances from the registry.
	KindRemove
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindAdd:
		return "ADD"
	case KindRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// Mutation is a batch of instances added to or removed from the registry.
type Mutation struct {
	Kind Kind
	Refs []dm.Ref
}

// Add returns an add mutation.
func Add(refs ...dm.Ref) Mutation {
	return Mutation{Kind: KindAdd, Refs: refs}
}

// Remove returns a remove mutation.
func Remove(refs ...dm.Ref) Mutation {
	return Mutation{Kind: KindRemove, Refs: refs}
}

// Apply returns the set that results from applying m to before.
func (m Mutation) Apply(before dm.Set) dm.Set {
	switch m.Kind {
	case KindAdd:
		return before.With(m.Refs...)
	case KindRemove:
		return before.Without(m.Refs...)
	default:
		return before
	}
}

// Verdict is the outcome of evaluating a mutation.
type Verdict uint8

const (
	// Accept applies the mutation and lets sessions react to it.
	Accept Verdict = iota

	// AcceptSuppress applies the mutation, but sessions bound to the
	// orphaned Security instances must not schedule an exchange for it.
	AcceptSuppress
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case Accept:
		return "ACCEPT"
	case AcceptSuppress:
		return "ACCEPT_SUPPRESS"
	default:
		return "UNKNOWN"
	}
}

// Decision is the tagged result of Evaluate.
type Decision struct {
	Verdict Verdict

	// Orphaned lists the Security instances whose paired Server instance
	// was removed by this mutation while they survive it.
	Orphaned []dm.InstanceID
}

// Suppresses reports whether the decision suppresses protocol action for
// the session bound to the given Security instance.
func (d Decision) Suppresses(security dm.InstanceID) bool {
	if d.Verdict != AcceptSuppress {
		return false
	}
	for _, iid := range d.Orphaned {
		if iid == security {
			return true
		}
	}
	return false
}

// Pairing maps a Server instance id to the Security instance id it belongs to.
type Pairing func(server dm.InstanceID) dm.InstanceID

// SameIndex pairs Security and Server instances with the same instance id.
func SameIndex(server dm.InstanceID) dm.InstanceID {
	return server
}

// Engine evaluates mutations against the Security/Server pairing rule.
// The zero value uses SameIndex pairing.
type Engine struct {
	pairing Pairing
}

// NewEngine creates an engine. A nil pairing means SameIndex.
func NewEngine(pairing Pairing) *Engine {
	return &Engine{pairing: pairing}
}

// Evaluate decides how the registry and the sessions treat m, given the
// registry content before the mutation. It never fails.
func (e *Engine) Evaluate(m Mutation, before dm.Set) Decision {
	if m.Kind != KindRemove {
		return Decision{Verdict: Accept}
	}

	pairing := SameIndex
	if e != nil && e.pairing != nil {
		pairing = e.pairing
	}

	after := m.Apply(before)
	var orphaned []dm.InstanceID
	for _, ref := range m.Refs {
		if ref.Object != dm.ObjectServer || !before.Contains(ref) {
			continue
		}
		security := dm.NewRef(dm.ObjectSecurity, pairing(ref.Instance))
		if after.Contains(security) {
			orphaned = append(orphaned, security.Instance)
		}
	}

	if len(orphaned) == 0 {
		return Decision{Verdict: Accept}
	}
	return Decision{Verdict: AcceptSuppress, Orphaned: orphaned}
}

// IsOrphaned reports whether the Security instance is present in s while its
// paired Server instance is not. Sessions in that state take no protocol
// action until the pair is consistent again or the Security instance goes.
func (e *Engine) IsOrphaned(s dm.Set, security, server dm.InstanceID) bool {
	return s.Contains(dm.NewRef(dm.ObjectSecurity, security)) &&
		!s.Contains(dm.NewRef(dm.ObjectServer, server))
}
