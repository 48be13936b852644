package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lwm2m-go/regsync/pkg/consistency"
	"github.com/lwm2m-go/regsync/pkg/dm"
)

// Registry errors.
var (
	ErrNoFreeInstance = errors.New("no free instance id")
)

// Change describes an accepted mutation.
type Change struct {
	// Mutation is the mutation as requested. Refs that did not change the
	// set are already filtered out.
	Mutation consistency.Mutation

	// Decision is the consistency engine's verdict for the mutation.
	Decision consistency.Decision

	// Snapshot is the registry content after the mutation.
	Snapshot dm.Set
}

// Observer receives accepted registry changes.
type Observer interface {
	RegistryChanged(change Change)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(change Change)

// RegistryChanged calls f(change).
func (f ObserverFunc) RegistryChanged(change Change) {
	f(change)
}

// Registry is the in-memory set of enabled object instances.
type Registry struct {
	mu      sync.Mutex
	current dm.Set
	engine  *consistency.Engine

	observersMu sync.RWMutex
	observers   []Observer

	// notifyMu keeps observer callbacks in mutation order without holding mu.
	notifyMu sync.Mutex
}

// New creates an empty registry. A nil engine uses the default pairing.
func New(engine *consistency.Engine) *Registry {
	if engine == nil {
		engine = consistency.NewEngine(nil)
	}
	return &Registry{
		current: dm.NewSet(),
		engine:  engine,
	}
}

// Engine returns the consistency engine used by the registry.
func (r *Registry) Engine() *consistency.Engine {
	return r.engine
}

// Subscribe registers an observer for accepted changes.
func (r *Registry) Subscribe(o Observer) {
	r.observersMu.Lock()
	defer r.observersMu.Unlock()
	r.observers = append(r.observers, o)
}

// Current returns a snapshot of the enabled instances.
func (r *Registry) Current() dm.Set {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Restore replaces the registry content without notifying observers.
// Used when loading persisted state before any session starts.
func (r *Registry) Restore(s dm.Set) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = s.With()
}

// Add enables instances. Returns true if the set changed.
func (r *Registry) Add(refs ...dm.Ref) bool {
	return r.apply(consistency.Add(refs...))
}

// Remove disables instances. Removing an absent instance is a no-op.
// Returns true if the set changed.
func (r *Registry) Remove(refs ...dm.Ref) bool {
	return r.apply(consistency.Remove(refs...))
}

// RemoveObject disables every instance of oid as one mutation.
// Returns true if the set changed.
func (r *Registry) RemoveObject(oid dm.ObjectID) bool {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	var refs []dm.Ref
	for _, iid := range r.current.Instances(oid) {
		refs = append(refs, dm.NewRef(oid, iid))
	}
	change, ok := r.applyLocked(consistency.Remove(refs...))
	r.mu.Unlock()

	if ok {
		r.notify(change)
	}
	return ok
}

// Create enables a new instance of oid using the lowest free instance id.
func (r *Registry) Create(oid dm.ObjectID) (dm.Ref, error) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	iid, err := lowestFree(r.current.Instances(oid))
	if err != nil {
		r.mu.Unlock()
		return dm.Ref{}, fmt.Errorf("object %d: %w", oid, err)
	}
	ref := dm.NewRef(oid, iid)
	change, ok := r.applyLocked(consistency.Add(ref))
	r.mu.Unlock()

	if ok {
		r.notify(change)
	}
	return ref, nil
}

func (r *Registry) apply(m consistency.Mutation) bool {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	change, ok := r.applyLocked(m)
	r.mu.Unlock()

	if ok {
		r.notify(change)
	}
	return ok
}

// applyLocked evaluates and applies m. Must be called with mu held.
func (r *Registry) applyLocked(m consistency.Mutation) (Change, bool) {
	effective := consistency.Mutation{Kind: m.Kind}
	seen := make(map[dm.Ref]struct{}, len(m.Refs))
	for _, ref := range m.Refs {
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		present := r.current.Contains(ref)
		if (m.Kind == consistency.KindAdd && !present) || (m.Kind == consistency.KindRemove && present) {
			effective.Refs = append(effective.Refs, ref)
		}
	}
	if len(effective.Refs) == 0 {
		return Change{}, false
	}

	decision := r.engine.Evaluate(effective, r.current)
	r.current = effective.Apply(r.current)

	return Change{
		Mutation: effective,
		Decision: decision,
		Snapshot: r.current,
	}, true
}

func (r *Registry) notify(change Change) {
	r.observersMu.RLock()
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.observersMu.RUnlock()

	for _, o := range observers {
		o.RegistryChanged(change)
	}
}

// lowestFree returns the lowest instance id not in used (sorted ascending).
func lowestFree(used []dm.InstanceID) (dm.InstanceID, error) {
	var next dm.InstanceID
	for _, iid := range used {
		if iid != next {
			break
		}
		if next == dm.MaxInstanceID {
			return 0, ErrNoFreeInstance
		}
		next++
	}
	return next, nil
}
