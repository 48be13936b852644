package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lwm2m-go/regsync/pkg/coap"
	"github.com/lwm2m-go/regsync/pkg/consistency"
	"github.com/lwm2m-go/regsync/pkg/dm"
	"github.com/lwm2m-go/regsync/pkg/exchange"
	"github.com/lwm2m-go/regsync/pkg/log"
	"github.com/lwm2m-go/regsync/pkg/registry"
	"github.com/lwm2m-go/regsync/pkg/wire"
)

// Config configures a Session.
type Config struct {
	// Endpoint is the client endpoint name.
	Endpoint string

	// Lifetime is the requested registration lifetime in seconds.
	Lifetime uint32

	// Version and Binding are sent with Register. Empty means the defaults.
	Version string
	Binding string

	// Server names the server in logs.
	Server string

	// SecurityInstance and ServerInstance bind the session to its
	// Security and Server object instances.
	SecurityInstance dm.InstanceID
	ServerInstance   dm.InstanceID

	// Exchange configures the retransmission parameters.
	Exchange exchange.Config

	// ProtocolLogger receives protocol events. Nil disables capture.
	ProtocolLogger log.Logger

	// Logger is the optional logger for debug output.
	Logger *slog.Logger

	// OnStateChange is called with the session lock held after every state
	// transition. It must not call back into the session.
	OnStateChange func(id string, oldState, newState State, record Record)
}

// Session runs the registration state machine for one server.
type Session struct {
	mu sync.Mutex

	id       string
	config   Config
	machine  *Machine
	driver   *exchange.Driver
	registry *registry.Registry

	// cancels holds the cancel functions of running exchanges by sequence.
	cancels map[uint64]context.CancelFunc

	// changed is closed and replaced on every state transition.
	changed chan struct{}

	// lastErr is the most recent reported failure.
	lastErr error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New creates a session over reg, sending through transport. The session
// subscribes to reg immediately.
func New(config Config, reg *registry.Registry, transport exchange.Transport) *Session {
	if config.ProtocolLogger == nil {
		config.ProtocolLogger = log.NoopLogger{}
	}

	id := uuid.New().String()

	exCfg := config.Exchange
	exCfg.SessionID = id
	exCfg.Endpoint = config.Endpoint
	exCfg.Server = config.Server
	exCfg.ProtocolLogger = config.ProtocolLogger
	if exCfg.Logger == nil {
		exCfg.Logger = config.Logger
	}

	var engine *consistency.Engine
	if reg != nil {
		engine = reg.Engine()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     id,
		config: config,
		machine: NewMachine(MachineConfig{
			Endpoint:         config.Endpoint,
			Lifetime:         config.Lifetime,
			Version:          config.Version,
			Binding:          config.Binding,
			SecurityInstance: config.SecurityInstance,
			ServerInstance:   config.ServerInstance,
			Engine:           engine,
		}),
		driver:   exchange.NewDriver(transport, exCfg),
		registry: reg,
		cancels:  make(map[uint64]context.CancelFunc),
		changed:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	if reg != nil {
		reg.Subscribe(s)
	}
	return s
}

// ID returns the session id used in protocol logs.
func (s *Session) ID() string {
	return s.id
}

// Server returns the configured server name.
func (s *Session) Server() string {
	return s.config.Server
}

// State returns the current registration state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State()
}

// Record returns a copy of the session record.
func (s *Session) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Record()
}

// Orphaned reports whether the session's Server instance is missing.
func (s *Session) Orphaned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Orphaned()
}

// LastError returns the most recent reported failure, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// HandleDatagram passes a datagram received from the server to the
// exchange driver.
func (s *Session) HandleDatagram(data []byte) {
	s.driver.HandleDatagram(data)
}

// RegistryChanged implements registry.Observer.
func (s *Session) RegistryChanged(change registry.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.handleLocked(RegistryChanged{Snapshot: change.Snapshot, Decision: change.Decision})
}

// Register registers with the current registry content and blocks until
// the registration resolves. It returns nil if the session is already
// registered.
func (s *Session) Register(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	switch s.machine.State() {
	case StateDeregistering:
		s.mu.Unlock()
		return ErrBusy
	case StateUnregistered, StateDeregistered:
		s.lastErr = nil
		snapshot := dm.NewSet()
		if s.registry != nil {
			snapshot = s.registry.Current()
		}
		s.handleLocked(RegisterRequested{Snapshot: snapshot})
	}
	s.mu.Unlock()

	return s.waitFor(ctx, func(st State) (bool, error) {
		switch st {
		case StateRegistering:
			return false, nil
		case StateUnregistered:
			if s.lastErr != nil {
				return true, s.lastErr
			}
			return true, ErrRegistrationFailed
		default:
			return true, nil
		}
	})
}

// Deregister ends the session and blocks until the deregistration
// resolves. A deregistration requested while registering is performed once
// the registration completes.
func (s *Session) Deregister(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	switch s.machine.State() {
	case StateUnregistered:
		s.mu.Unlock()
		return ErrNotRegistered
	case StateDeregistered:
		s.mu.Unlock()
		return nil
	}
	s.lastErr = nil
	s.handleLocked(DeregisterRequested{})
	s.mu.Unlock()

	return s.waitFor(ctx, func(st State) (bool, error) {
		switch st {
		case StateDeregistered:
			return true, nil
		case StateUnregistered:
			if s.lastErr != nil {
				return true, s.lastErr
			}
			return true, ErrNotRegistered
		default:
			return false, nil
		}
	})
}

// Reset abandons the session and any outstanding exchange.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.handleLocked(SessionReset{})
}

// Close resets the session, fails outstanding exchanges and waits for
// their goroutines.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.handleLocked(SessionReset{})
	s.closed = true
	s.cancel()
	s.mu.Unlock()

	err := s.driver.Close()
	s.wg.Wait()
	return err
}

// waitFor blocks until done reports true for the current state. done is
// called with the lock held.
func (s *Session) waitFor(ctx context.Context, done func(State) (bool, error)) error {
	for {
		s.mu.Lock()
		ok, err := done(s.machine.State())
		ch := s.changed
		closed := s.closed
		s.mu.Unlock()

		if ok {
			return err
		}
		if closed {
			return ErrSessionClosed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// handleLocked feeds ev to the machine and executes the resulting actions.
// Must be called with mu held.
func (s *Session) handleLocked(ev Event) {
	oldState := s.machine.State()
	actions := s.machine.Handle(ev)
	newState := s.machine.State()

	if oldState != newState {
		s.stateChanged(oldState, newState, fmt.Sprintf("%T", ev))
	}

	for _, a := range actions {
		s.execute(a)
	}
}

func (s *Session) execute(a Action) {
	switch a := a.(type) {
	case SendRegister:
		req, err := wire.NewRegister(a.Params)
		s.startExchange(a.Seq, wire.OpRegister, req, err)

	case SendUpdate:
		req, err := wire.NewUpdate(a.Location, a.Objects)
		s.startExchange(a.Seq, wire.OpUpdate, req, err)

	case SendDeregister:
		req, err := wire.NewDeregister(a.Location)
		s.startExchange(a.Seq, wire.OpDeregister, req, err)

	case CancelExchange:
		if cancel, ok := s.cancels[a.Seq]; ok {
			cancel()
			delete(s.cancels, a.Seq)
		}

	case ReportFailure:
		s.lastErr = a.Err
		s.debugLog("exchange failed", "operation", a.Operation, "error", a.Err)
		s.config.ProtocolLogger.Log(log.Event{
			Timestamp: time.Now(),
			SessionID: s.id,
			Direction: log.DirectionNone,
			Layer:     log.LayerSession,
			Category:  log.CategoryError,
			Endpoint:  s.config.Endpoint,
			Server:    s.config.Server,
			Error: &log.ErrorEventData{
				Layer:   log.LayerSession,
				Message: a.Err.Error(),
				Context: a.Operation.String(),
			},
		})
	}
}

// startExchange transmits req and waits for the outcome in its own
// goroutine. The first transmission happens under the session lock, so
// requests reach the wire in the order the machine emitted them.
// A request that could not be built or sent fails the exchange immediately.
func (s *Session) startExchange(seq uint64, op wire.Operation, req *coap.Message, buildErr error) {
	if buildErr != nil {
		s.handleLocked(ExchangeFailed{Seq: seq, Err: buildErr})
		return
	}

	s.debugLog("starting exchange", "seq", seq, "operation", op, "uri", req.URI())
	call, err := s.driver.Start(req)
	if err != nil {
		s.handleLocked(ExchangeFailed{Seq: seq, Err: err})
		return
	}
	s.machine.SetCorrelation(seq, call.Token(), call.MessageID())

	ctx, cancel := context.WithCancel(s.ctx)
	s.cancels[seq] = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		resp, err := call.Wait(ctx)
		s.complete(seq, op, resp, err)
	}()
}

func (s *Session) complete(seq uint64, op wire.Operation, resp *coap.Message, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cancels, seq)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Superseded or closed; the machine has already moved on.
			s.debugLog("exchange cancelled", "seq", seq, "operation", op)
		}
		s.handleLocked(ExchangeFailed{Seq: seq, Err: err})
		return
	}

	var location string
	if op == wire.OpRegister {
		location, err = wire.RegisteredLocation(resp)
		if err != nil {
			s.handleLocked(ExchangeFailed{Seq: seq, Err: err})
			return
		}
	}
	s.handleLocked(ExchangeSucceeded{Seq: seq, Location: location})
}

func (s *Session) stateChanged(oldState, newState State, reason string) {
	s.debugLog("state changed", "from", oldState, "to", newState)

	s.config.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: s.id,
		Direction: log.DirectionNone,
		Layer:     log.LayerSession,
		Category:  log.CategoryState,
		Endpoint:  s.config.Endpoint,
		Server:    s.config.Server,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})

	if s.config.OnStateChange != nil {
		s.config.OnStateChange(s.id, oldState, newState, s.machine.Record())
	}

	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, append([]any{"session", s.id, "server", s.config.Server}, args...)...)
	}
}
