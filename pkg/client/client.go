package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lwm2m-go/regsync/pkg/config"
	"github.com/lwm2m-go/regsync/pkg/exchange"
	"github.com/lwm2m-go/regsync/pkg/log"
	"github.com/lwm2m-go/regsync/pkg/persistence"
	"github.com/lwm2m-go/regsync/pkg/registry"
	"github.com/lwm2m-go/regsync/pkg/session"
)

// Client errors.
var (
	ErrNoTransport   = errors.New("no transport for server")
	ErrUnknownServer = errors.New("unknown server")
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithProtocolLogger sets the protocol event logger.
func WithProtocolLogger(logger log.Logger) Option {
	return func(c *Client) { c.protocolLogger = logger }
}

// WithStateStore records session state changes to store.
func WithStateStore(store *persistence.StateStore) Option {
	return func(c *Client) { c.stateStore = store }
}

// WithSnapshotStore restores the registry from store on creation and saves
// it after every change.
func WithSnapshotStore(store *persistence.SnapshotStore) Option {
	return func(c *Client) { c.snapshotStore = store }
}

// Status summarizes one session.
type Status struct {
	Server       string
	SessionID    string
	State        session.State
	Location     string
	Acknowledged string
	Orphaned     bool
	LastError    error
}

// Client manages the sessions of one endpoint.
type Client struct {
	config   config.Config
	registry *registry.Registry

	sessions []*session.Session
	byName   map[string]*session.Session

	logger         *slog.Logger
	protocolLogger log.Logger
	stateStore     *persistence.StateStore
	snapshotStore  *persistence.SnapshotStore

	// stateMu guards state.
	stateMu sync.Mutex
	state   *persistence.ClientState
}

// New creates a client with one session per configured server. transports
// maps server names to the transport used to reach them.
//
// If reg is empty it is seeded from the snapshot store, if one is
// configured and holds a snapshot, and from the configured instances
// otherwise.
func New(cfg config.Config, reg *registry.Registry, transports map[string]exchange.Transport, opts ...Option) (*Client, error) {
	c := &Client{
		config:         cfg,
		registry:       reg,
		byName:         make(map[string]*session.Session),
		protocolLogger: log.NoopLogger{},
		state:          &persistence.ClientState{Endpoint: cfg.Endpoint},
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, s := range cfg.Servers {
		if transports[s.Name] == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoTransport, s.Name)
		}
	}

	if err := c.seed(); err != nil {
		return nil, err
	}

	for _, s := range cfg.Servers {
		sess := session.New(session.Config{
			Endpoint:         cfg.Endpoint,
			Lifetime:         cfg.Lifetime,
			Version:          cfg.Version,
			Binding:          cfg.Binding,
			Server:           s.Name,
			SecurityInstance: s.SecurityInstance,
			ServerInstance:   s.ServerInstance,
			Exchange:         cfg.DriverConfig(),
			ProtocolLogger:   c.protocolLogger,
			Logger:           c.logger,
			OnStateChange:    c.recordState(s.Name),
		}, reg, transports[s.Name])

		c.sessions = append(c.sessions, sess)
		c.byName[s.Name] = sess
	}

	if c.snapshotStore != nil {
		reg.Subscribe(registry.ObserverFunc(c.saveSnapshot))
	}
	return c, nil
}

// seed fills an empty registry.
func (c *Client) seed() error {
	if !c.registry.Current().IsEmpty() {
		return nil
	}

	if c.snapshotStore != nil {
		set, ok, err := c.snapshotStore.Load()
		if err != nil {
			return fmt.Errorf("failed to load registry snapshot: %w", err)
		}
		if ok {
			c.debugLog("registry restored from snapshot", "instances", set.Len())
			c.registry.Restore(set)
			return nil
		}
	}

	set, err := c.config.Objects()
	if err != nil {
		return err
	}
	c.registry.Restore(set)
	return nil
}

// Registry returns the shared registry.
func (c *Client) Registry() *registry.Registry {
	return c.registry
}

// Sessions returns the sessions in configuration order.
func (c *Client) Sessions() []*session.Session {
	return append([]*session.Session(nil), c.sessions...)
}

// Session returns the session for the named server.
func (c *Client) Session(name string) (*session.Session, bool) {
	s, ok := c.byName[name]
	return s, ok
}

// HandleDatagram routes a datagram received from the named server.
func (c *Client) HandleDatagram(server string, data []byte) {
	if s, ok := c.byName[server]; ok {
		s.HandleDatagram(data)
		return
	}
	c.debugLog("datagram from unknown server", "server", server)
}

// Start registers every session concurrently. It returns the first
// failure; the other sessions are not affected by it.
func (c *Client) Start(ctx context.Context) error {
	var g errgroup.Group
	for _, s := range c.sessions {
		g.Go(func() error {
			if err := s.Register(ctx); err != nil {
				return fmt.Errorf("server %s: %w", s.Server(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Register registers the named session.
func (c *Client) Register(ctx context.Context, server string) error {
	s, ok := c.byName[server]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}
	return s.Register(ctx)
}

// Deregister deregisters the named session.
func (c *Client) Deregister(ctx context.Context, server string) error {
	s, ok := c.byName[server]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}
	return s.Deregister(ctx)
}

// Reset abandons the named session without telling the server. It is
// called when the transport to that server goes away.
func (c *Client) Reset(server string) error {
	s, ok := c.byName[server]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}
	s.Reset()
	return nil
}

// Stop deregisters every active session concurrently and closes all
// sessions. Deregistration is best effort; the first failure is returned.
func (c *Client) Stop(ctx context.Context) error {
	var g errgroup.Group
	for _, s := range c.sessions {
		switch s.State() {
		case session.StateUnregistered, session.StateDeregistered:
			continue
		}
		g.Go(func() error {
			if err := s.Deregister(ctx); err != nil {
				return fmt.Errorf("server %s: %w", s.Server(), err)
			}
			return nil
		})
	}
	err := g.Wait()

	for _, s := range c.sessions {
		_ = s.Close()
	}
	return err
}

// Status returns a summary of every session in configuration order.
func (c *Client) Status() []Status {
	out := make([]Status, 0, len(c.sessions))
	for _, s := range c.sessions {
		rec := s.Record()
		out = append(out, Status{
			Server:       s.Server(),
			SessionID:    s.ID(),
			State:        rec.State,
			Location:     rec.Location,
			Acknowledged: rec.Acknowledged.Listing(),
			Orphaned:     s.Orphaned(),
			LastError:    s.LastError(),
		})
	}
	return out
}

// recordState returns the state change hook of the named session.
func (c *Client) recordState(server string) func(string, session.State, session.State, session.Record) {
	return func(id string, _, newState session.State, rec session.Record) {
		c.stateMu.Lock()
		defer c.stateMu.Unlock()

		c.state.SetSession(persistence.SessionRecord{
			Server:       server,
			SessionID:    id,
			State:        newState.String(),
			Location:     rec.Location,
			Acknowledged: rec.Acknowledged.Listing(),
			UpdatedAt:    time.Now(),
		})
		if c.stateStore == nil {
			return
		}
		if err := c.stateStore.Save(c.state); err != nil {
			c.debugLog("failed to save state", "error", err)
		}
	}
}

func (c *Client) saveSnapshot(change registry.Change) {
	if err := c.snapshotStore.Save(change.Snapshot); err != nil {
		c.debugLog("failed to save registry snapshot", "error", err)
	}
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
