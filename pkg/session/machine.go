package session

import (
	"errors"
	"fmt"

	"github.com/lwm2m-go/regsync/pkg/consistency"
	"github.com/lwm2m-go/regsync/pkg/dm"
	"github.com/lwm2m-go/regsync/pkg/exchange"
	"github.com/lwm2m-go/regsync/pkg/wire"
)

// Session errors.
var (
	ErrRegistrationFailed = errors.New("registration failed")
	ErrNotRegistered      = errors.New("session is not registered")
	ErrSessionReset       = errors.New("session reset")
	ErrBusy               = errors.New("deregistration in progress")
	ErrSessionClosed      = errors.New("session is closed")
)

// Event is an input to the Machine.
type Event interface {
	event()
}

// RegisterRequested starts a registration with the given instance set.
type RegisterRequested struct {
	Snapshot dm.Set
}

// DeregisterRequested asks to end the session.
type DeregisterRequested struct{}

// RegistryChanged reports an accepted registry mutation.
type RegistryChanged struct {
	Snapshot dm.Set
	Decision consistency.Decision
}

// ExchangeSucceeded reports a 2.xx response for exchange Seq.
type ExchangeSucceeded struct {
	Seq uint64

	// Location is the session path from a Register response.
	Location string
}

// ExchangeFailed reports that exchange Seq was rejected or timed out.
type ExchangeFailed struct {
	Seq uint64
	Err error
}

// SessionReset discards the session, e.g. after transport teardown.
type SessionReset struct{}

func (RegisterRequested) event()   {}
func (DeregisterRequested) event() {}
func (RegistryChanged) event()     {}
func (ExchangeSucceeded) event()   {}
func (ExchangeFailed) event()      {}
func (SessionReset) event()        {}

// Action is an output of the Machine.
type Action interface {
	action()
}

// SendRegister asks the runtime to perform a Register exchange.
type SendRegister struct {
	Seq    uint64
	Params wire.RegisterParams
}

// SendUpdate asks the runtime to perform an Update exchange.
type SendUpdate struct {
	Seq      uint64
	Location string
	Objects  dm.Set
}

// SendDeregister asks the runtime to perform a Deregister exchange.
type SendDeregister struct {
	Seq      uint64
	Location string
}

// CancelExchange abandons exchange Seq. Its outcome will be a stray.
type CancelExchange struct {
	Seq uint64
}

// ReportFailure surfaces a failed exchange to whoever initiated it.
type ReportFailure struct {
	Operation wire.Operation
	Err       error
}

func (SendRegister) action()   {}
func (SendUpdate) action()     {}
func (SendDeregister) action() {}
func (CancelExchange) action() {}
func (ReportFailure) action()  {}

// MachineConfig configures a Machine.
type MachineConfig struct {
	Endpoint string
	Lifetime uint32
	Version  string
	Binding  string

	// SecurityInstance and ServerInstance bind the session to its
	// Security and Server object instances.
	SecurityInstance dm.InstanceID
	ServerInstance   dm.InstanceID

	// Engine decides whether the pair is orphaned. Nil uses the default.
	Engine *consistency.Engine
}

// Machine is the registration state machine of one session.
//
// Machine is not safe for concurrent use; callers serialize events.
type Machine struct {
	config MachineConfig
	record Record

	// current is the latest registry snapshot observed.
	current dm.Set

	// dirty is set when the registry changed while an exchange was in flight.
	dirty bool

	// orphaned is set while the paired Server instance is missing.
	orphaned bool

	// deregisterDeferred is set when a deregistration was requested
	// during Registering.
	deregisterDeferred bool

	seq uint64
}

// NewMachine creates a machine in the Unregistered state.
func NewMachine(config MachineConfig) *Machine {
	if config.Engine == nil {
		config.Engine = consistency.NewEngine(nil)
	}
	return &Machine{
		config: config,
		record: Record{
			Endpoint:     config.Endpoint,
			Lifetime:     config.Lifetime,
			Acknowledged: dm.NewSet(),
		},
		current: dm.NewSet(),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.record.State
}

// Record returns a copy of the session record.
func (m *Machine) Record() Record {
	return m.record.Clone()
}

// Dirty reports whether a registry change awaits re-evaluation.
func (m *Machine) Dirty() bool {
	return m.dirty
}

// Orphaned reports whether the session's Server instance is missing.
func (m *Machine) Orphaned() bool {
	return m.orphaned
}

// SetCorrelation records the identifiers the driver assigned to exchange
// seq. Ignored if seq is not the outstanding exchange.
func (m *Machine) SetCorrelation(seq uint64, token []byte, messageID uint16) {
	if p := m.record.Pending; p != nil && p.Seq == seq {
		p.Token = append([]byte(nil), token...)
		p.MessageID = messageID
	}
}

// Handle applies ev and returns the resulting actions.
func (m *Machine) Handle(ev Event) []Action {
	switch ev := ev.(type) {
	case RegisterRequested:
		return m.handleRegister(ev)
	case DeregisterRequested:
		return m.handleDeregister()
	case RegistryChanged:
		return m.handleRegistryChanged(ev)
	case ExchangeSucceeded:
		return m.handleSucceeded(ev)
	case ExchangeFailed:
		return m.handleFailed(ev)
	case SessionReset:
		return m.handleReset()
	default:
		return nil
	}
}

func (m *Machine) handleRegister(ev RegisterRequested) []Action {
	switch m.record.State {
	case StateUnregistered, StateDeregistered:
	default:
		return nil
	}

	m.current = ev.Snapshot
	m.orphaned = m.config.Engine.IsOrphaned(m.current, m.config.SecurityInstance, m.config.ServerInstance)
	m.dirty = false
	m.deregisterDeferred = false
	m.record.Location = ""
	m.record.Acknowledged = dm.NewSet()

	seq := m.begin(StateRegistering, wire.OpRegister, m.current)
	return []Action{SendRegister{
		Seq: seq,
		Params: wire.RegisterParams{
			Endpoint: m.config.Endpoint,
			Version:  m.config.Version,
			Lifetime: m.config.Lifetime,
			Binding:  m.config.Binding,
			Objects:  m.current,
		},
	}}
}

func (m *Machine) handleDeregister() []Action {
	switch m.record.State {
	case StateRegistering:
		m.deregisterDeferred = true
		return nil
	case StateRegistered:
		return m.deregister()
	case StateUpdating:
		cancel := CancelExchange{Seq: m.record.Pending.Seq}
		m.record.Pending = nil
		return append([]Action{cancel}, m.deregister()...)
	default:
		return nil
	}
}

func (m *Machine) handleRegistryChanged(ev RegistryChanged) []Action {
	m.current = ev.Snapshot
	m.orphaned = ev.Decision.Suppresses(m.config.SecurityInstance) ||
		m.config.Engine.IsOrphaned(m.current, m.config.SecurityInstance, m.config.ServerInstance)

	switch m.record.State {
	case StateRegistered:
		return m.reconcile()
	case StateRegistering, StateUpdating:
		m.dirty = true
	}
	return nil
}

func (m *Machine) handleSucceeded(ev ExchangeSucceeded) []Action {
	p := m.record.Pending
	if p == nil || p.Seq != ev.Seq {
		return nil
	}
	m.record.Pending = nil

	switch p.Operation {
	case wire.OpRegister:
		m.record.Location = ev.Location
		m.record.Acknowledged = p.Objects
		m.record.State = StateRegistered
		if m.deregisterDeferred {
			m.deregisterDeferred = false
			m.dirty = false
			return m.deregister()
		}
		return m.resume()

	case wire.OpUpdate:
		m.record.Acknowledged = p.Objects
		m.record.State = StateRegistered
		return m.resume()

	case wire.OpDeregister:
		m.finishDeregister()
	}
	return nil
}

func (m *Machine) handleFailed(ev ExchangeFailed) []Action {
	p := m.record.Pending
	if p == nil || p.Seq != ev.Seq {
		return nil
	}
	m.record.Pending = nil

	var rejected *exchange.RejectedError
	if errors.As(ev.Err, &rejected) {
		m.unregister()
		return []Action{ReportFailure{Operation: p.Operation, Err: ev.Err}}
	}

	switch p.Operation {
	case wire.OpRegister:
		m.unregister()
		return []Action{ReportFailure{
			Operation: wire.OpRegister,
			Err:       fmt.Errorf("%w: %w", ErrRegistrationFailed, ev.Err),
		}}

	case wire.OpUpdate:
		// The baseline is kept; the next change retries against it.
		m.record.State = StateRegistered
		return append(m.resume(), ReportFailure{Operation: wire.OpUpdate, Err: ev.Err})

	case wire.OpDeregister:
		m.finishDeregister()
	}
	return nil
}

func (m *Machine) handleReset() []Action {
	var actions []Action
	if p := m.record.Pending; p != nil {
		actions = append(actions, CancelExchange{Seq: p.Seq})
		actions = append(actions, ReportFailure{Operation: p.Operation, Err: ErrSessionReset})
	}
	m.unregister()
	return actions
}

// resume re-evaluates changes queued during the last exchange.
func (m *Machine) resume() []Action {
	if !m.dirty {
		return nil
	}
	m.dirty = false
	return m.reconcile()
}

// reconcile decides the protocol action for the current snapshot while
// Registered.
func (m *Machine) reconcile() []Action {
	security := dm.NewRef(dm.ObjectSecurity, m.config.SecurityInstance)
	if m.record.Acknowledged.Contains(security) && !m.current.Contains(security) {
		return m.deregister()
	}
	if m.current.IsEmpty() {
		return m.deregister()
	}
	if m.orphaned {
		return nil
	}
	if dm.Diff(m.record.Acknowledged, m.current).Empty() {
		return nil
	}

	seq := m.begin(StateUpdating, wire.OpUpdate, m.current)
	return []Action{SendUpdate{Seq: seq, Location: m.record.Location, Objects: m.current}}
}

func (m *Machine) deregister() []Action {
	m.dirty = false
	seq := m.begin(StateDeregistering, wire.OpDeregister, dm.NewSet())
	return []Action{SendDeregister{Seq: seq, Location: m.record.Location}}
}

func (m *Machine) begin(state State, op wire.Operation, objects dm.Set) uint64 {
	m.seq++
	m.record.State = state
	m.record.Pending = &Exchange{Seq: m.seq, Operation: op, Objects: objects}
	return m.seq
}

func (m *Machine) finishDeregister() {
	m.record.State = StateDeregistered
	m.record.Location = ""
	m.record.Acknowledged = dm.NewSet()
	m.record.Pending = nil
	m.dirty = false
}

func (m *Machine) unregister() {
	m.record.State = StateUnregistered
	m.record.Location = ""
	m.record.Acknowledged = dm.NewSet()
	m.record.Pending = nil
	m.dirty = false
	m.deregisterDeferred = false
}
