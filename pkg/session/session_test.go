package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwm2m-go/regsync/pkg/coap"
	"github.com/lwm2m-go/regsync/pkg/dm"
	"github.com/lwm2m-go/regsync/pkg/exchange"
	"github.com/lwm2m-go/regsync/pkg/log"
	"github.com/lwm2m-go/regsync/pkg/registry"
	"github.com/lwm2m-go/regsync/pkg/wire"
)

// fakeServer is a transport that answers requests like a registration
// server. A handler returning nil drops the request.
type fakeServer struct {
	mu       sync.Mutex
	session  *Session
	handler  func(req *coap.Message) *coap.Message
	requests []*coap.Message
	seen     map[uint16]bool
}

func newFakeServer() *fakeServer {
	f := &fakeServer{seen: make(map[uint16]bool)}
	f.handler = f.acknowledge
	return f
}

// acknowledge answers every request with its success code.
func (f *fakeServer) acknowledge(req *coap.Message) *coap.Message {
	op := wire.Classify(req)
	resp := respond(req, op.SuccessCode())
	if op == wire.OpRegister {
		resp.SetLocationPath("/rd/X")
	}
	return resp
}

func respond(req *coap.Message, code coap.Code) *coap.Message {
	return &coap.Message{
		Type:      coap.Acknowledgement,
		Code:      code,
		MessageID: req.MessageID,
		Token:     req.Token,
	}
}

func (f *fakeServer) setHandler(h func(req *coap.Message) *coap.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeServer) Send(data []byte) error {
	msg, err := coap.Unmarshal(data)
	if err != nil {
		return err
	}
	if !msg.Code.IsRequest() {
		return nil
	}

	f.mu.Lock()
	if !f.seen[msg.MessageID] {
		f.seen[msg.MessageID] = true
		f.requests = append(f.requests, msg)
	}
	handler := f.handler
	s := f.session
	f.mu.Unlock()

	if handler == nil {
		return nil
	}
	if resp := handler(msg); resp != nil {
		deliver(s, resp)
	}
	return nil
}

func deliver(s *Session, resp *coap.Message) {
	data, err := resp.Marshal()
	if err != nil {
		panic(err)
	}
	go s.HandleDatagram(data)
}

// exchanges returns the distinct requests received, retransmissions excluded.
func (f *fakeServer) exchanges() []*coap.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*coap.Message(nil), f.requests...)
}

func (f *fakeServer) count(op wire.Operation) int {
	n := 0
	for _, req := range f.exchanges() {
		if wire.Classify(req) == op {
			n++
		}
	}
	return n
}

func (f *fakeServer) last() *coap.Message {
	reqs := f.exchanges()
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

type stateLogger struct {
	mu     sync.Mutex
	states []string
}

func (l *stateLogger) Log(e log.Event) {
	if e.StateChange == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, e.StateChange.NewState)
}

func (l *stateLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.states...)
}

type fixture struct {
	reg     *registry.Registry
	server  *fakeServer
	session *Session
	logger  *stateLogger
}

func newFixture(t *testing.T, ex exchange.Config) *fixture {
	t.Helper()
	reg := registry.New(nil)
	reg.Restore(initialSet())

	server := newFakeServer()
	logger := &stateLogger{}
	s := New(Config{
		Endpoint:       "dev",
		Lifetime:       86400,
		Server:         "test",
		Exchange:       ex,
		ProtocolLogger: logger,
	}, reg, server)
	server.session = s
	t.Cleanup(func() { _ = s.Close() })

	return &fixture{reg: reg, server: server, session: s, logger: logger}
}

func fastExchange() exchange.Config {
	return exchange.Config{
		AckTimeout:       10 * time.Millisecond,
		AckRandomFactor:  1,
		MaxRetransmit:    1,
		ExchangeLifetime: 100 * time.Millisecond,
	}
}

func slowExchange() exchange.Config {
	return exchange.Config{
		AckTimeout:       time.Second,
		AckRandomFactor:  1,
		MaxRetransmit:    4,
		ExchangeLifetime: time.Second,
	}
}

func (f *fixture) register(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.session.Register(ctx))
	require.Equal(t, StateRegistered, f.session.State())
}

func (f *fixture) settled(t *testing.T, state State, requests int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.session.State() == state && len(f.server.exchanges()) == requests
	}, 2*time.Second, 5*time.Millisecond, "want %s after %d requests, got %s after %d",
		state, requests, f.session.State(), len(f.server.exchanges()))
}

func TestSessionRoundTrip(t *testing.T) {
	f := newFixture(t, slowExchange())
	f.register(t)

	reg := f.server.last()
	assert.Equal(t, wire.OpRegister, wire.Classify(reg))
	assert.Equal(t, "/rd?lwm2m=1.0&ep=dev&lt=86400", reg.URI())
	assert.Equal(t, initialSet().Listing(), string(reg.Payload))
	assert.Equal(t, "/rd/X", f.session.Record().Location)

	require.True(t, f.reg.Remove(dm.NewRef(testObject, 3)))
	f.settled(t, StateRegistered, 2)

	upd := f.server.last()
	assert.Equal(t, wire.OpUpdate, wire.Classify(upd))
	assert.Equal(t, "/rd/X", upd.URI())
	assert.Equal(t, "</0/0>,</1/0>,</3303/0>,</3303/1>,</3303/2>", string(upd.Payload))
	format, ok := upd.ContentFormat()
	require.True(t, ok)
	assert.Equal(t, uint32(coap.FormatLinkFormat), format)

	assert.True(t, f.session.Record().Acknowledged.Equal(initialSet().Without(dm.NewRef(testObject, 3))))
	assert.Nil(t, f.session.Record().Pending)
}

func TestSessionIdempotentRemoval(t *testing.T) {
	f := newFixture(t, slowExchange())
	f.register(t)

	ref := dm.NewRef(testObject, 3)
	assert.True(t, f.reg.Remove(ref))
	assert.False(t, f.reg.Remove(ref))
	f.settled(t, StateRegistered, 2)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.server.count(wire.OpUpdate))
	assert.False(t, f.reg.Current().Contains(ref))
}

func TestSessionServerRemovalEmitsNothing(t *testing.T) {
	f := newFixture(t, slowExchange())
	f.register(t)

	require.True(t, f.reg.Remove(server0))
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, f.server.exchanges(), 1)
	assert.False(t, f.reg.Current().Contains(server0))
	assert.True(t, f.session.Orphaned())
	assert.Equal(t, StateRegistered, f.session.State())
}

func TestSessionTeardownOrders(t *testing.T) {
	orders := map[string][]dm.Ref{
		"SecurityThenServer": {security0, server0},
		"ServerThenSecurity": {server0, security0},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, slowExchange())
			f.register(t)

			for _, ref := range order {
				f.reg.Remove(ref)
			}
			f.settled(t, StateDeregistered, 2)

			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, 1, f.server.count(wire.OpDeregister))
			assert.Equal(t, 0, f.server.count(wire.OpUpdate))
			assert.Equal(t, "/rd/X", f.server.last().URI())
			assert.Equal(t, coap.DELETE, f.server.last().Code)
			assert.Empty(t, f.server.last().Payload)
		})
	}
}

func TestSessionUpdateTimeoutFallback(t *testing.T) {
	f := newFixture(t, fastExchange())
	f.register(t)

	f.server.setHandler(func(req *coap.Message) *coap.Message {
		if wire.Classify(req) == wire.OpUpdate {
			return nil
		}
		return f.server.acknowledge(req)
	})

	require.True(t, f.reg.Remove(dm.NewRef(testObject, 3)))
	f.settled(t, StateRegistered, 2)
	assert.True(t, f.session.Record().Acknowledged.Equal(initialSet()))
	assert.ErrorIs(t, f.session.LastError(), exchange.ErrExchangeTimeout)

	f.server.setHandler(f.server.acknowledge)
	require.True(t, f.reg.Remove(dm.NewRef(testObject, 2)))
	f.settled(t, StateRegistered, 3)

	assert.Equal(t, "</0/0>,</1/0>,</3303/0>,</3303/1>", string(f.server.last().Payload))
	assert.Equal(t, "</0/0>,</1/0>,</3303/0>,</3303/1>", f.session.Record().Acknowledged.Listing())
}

func TestSessionRegistrationTimeout(t *testing.T) {
	f := newFixture(t, fastExchange())
	f.server.setHandler(nil)

	err := f.session.Register(context.Background())
	assert.ErrorIs(t, err, ErrRegistrationFailed)
	assert.ErrorIs(t, err, exchange.ErrExchangeTimeout)
	assert.Equal(t, StateUnregistered, f.session.State())

	f.server.setHandler(f.server.acknowledge)
	f.register(t)
}

func TestSessionRegistrationRejected(t *testing.T) {
	f := newFixture(t, slowExchange())
	f.server.setHandler(func(req *coap.Message) *coap.Message {
		return respond(req, coap.Forbidden)
	})

	err := f.session.Register(context.Background())
	var rejected *exchange.RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, wire.StatusForbidden, rejected.Status())
	assert.Equal(t, StateUnregistered, f.session.State())
}

func TestSessionRegisterWithoutLocationFails(t *testing.T) {
	f := newFixture(t, slowExchange())
	f.server.setHandler(func(req *coap.Message) *coap.Message {
		return respond(req, coap.Created)
	})

	err := f.session.Register(context.Background())
	assert.ErrorIs(t, err, wire.ErrNoLocation)
	assert.Equal(t, StateUnregistered, f.session.State())
}

func TestSessionQueuesMutationDuringRegistration(t *testing.T) {
	f := newFixture(t, slowExchange())

	held := make(chan *coap.Message, 1)
	f.server.setHandler(func(req *coap.Message) *coap.Message {
		if wire.Classify(req) == wire.OpRegister {
			select {
			case held <- req:
			default:
			}
			return nil
		}
		return f.server.acknowledge(req)
	})

	done := make(chan error, 1)
	go func() { done <- f.session.Register(context.Background()) }()

	var reg *coap.Message
	select {
	case reg = <-held:
	case <-time.After(time.Second):
		t.Fatal("register not sent")
	}

	require.True(t, f.reg.Remove(dm.NewRef(testObject, 3)))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.server.exchanges(), 1, "no second request while one is in flight")
	assert.Equal(t, StateRegistering, f.session.State())

	resp := respond(reg, coap.Created)
	resp.SetLocationPath("/rd/X")
	deliver(f.session, resp)
	require.NoError(t, <-done)

	f.settled(t, StateRegistered, 2)
	assert.Equal(t, "</0/0>,</1/0>,</3303/0>,</3303/1>,</3303/2>", string(f.server.last().Payload))
}

func TestSessionDeregisterSupersedesUpdate(t *testing.T) {
	f := newFixture(t, slowExchange())
	f.register(t)

	held := make(chan *coap.Message, 1)
	f.server.setHandler(func(req *coap.Message) *coap.Message {
		if wire.Classify(req) == wire.OpUpdate {
			select {
			case held <- req:
			default:
			}
			return nil
		}
		return f.server.acknowledge(req)
	})

	require.True(t, f.reg.Remove(dm.NewRef(testObject, 3)))
	var upd *coap.Message
	select {
	case upd = <-held:
	case <-time.After(time.Second):
		t.Fatal("update not sent")
	}
	assert.Equal(t, StateUpdating, f.session.State())

	require.NoError(t, f.session.Deregister(context.Background()))
	assert.Equal(t, StateDeregistered, f.session.State())

	// The late update response is a stray and changes nothing.
	deliver(f.session, respond(upd, coap.Changed))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateDeregistered, f.session.State())
	assert.True(t, f.session.Record().Acknowledged.IsEmpty())
	assert.Equal(t, 1, f.server.count(wire.OpDeregister))
}

func TestSessionRequestsKeepMachineOrder(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t, slowExchange())
		f.register(t)
		f.server.setHandler(func(req *coap.Message) *coap.Message {
			if wire.Classify(req) == wire.OpUpdate {
				return nil
			}
			return f.server.acknowledge(req)
		})

		require.True(t, f.reg.Remove(dm.NewRef(testObject, 3)))
		require.NoError(t, f.session.Deregister(context.Background()))

		var ops []wire.Operation
		for _, req := range f.server.exchanges() {
			ops = append(ops, wire.Classify(req))
		}
		require.Equal(t, []wire.Operation{wire.OpRegister, wire.OpUpdate, wire.OpDeregister}, ops, "run %d", i)
		require.NoError(t, f.session.Close())
	}
}

func TestSessionExplicitDeregister(t *testing.T) {
	f := newFixture(t, slowExchange())

	assert.ErrorIs(t, f.session.Deregister(context.Background()), ErrNotRegistered)

	f.register(t)
	require.NoError(t, f.session.Deregister(context.Background()))
	assert.Equal(t, StateDeregistered, f.session.State())
	assert.Equal(t, "/rd/X", f.server.last().URI())

	// Deregistering again is a no-op.
	require.NoError(t, f.session.Deregister(context.Background()))
	assert.Equal(t, 1, f.server.count(wire.OpDeregister))

	assert.Equal(t, []string{"REGISTERING", "REGISTERED", "DEREGISTERING", "DEREGISTERED"}, f.logger.snapshot())
}

func TestSessionDeregisterTimeoutIsBestEffort(t *testing.T) {
	f := newFixture(t, fastExchange())
	f.register(t)

	f.server.setHandler(nil)
	require.NoError(t, f.session.Deregister(context.Background()))
	assert.Equal(t, StateDeregistered, f.session.State())
}

func TestSessionRemoveAllDeregisters(t *testing.T) {
	f := newFixture(t, slowExchange())
	f.register(t)

	f.reg.Remove(initialSet().Sorted()...)
	f.settled(t, StateDeregistered, 2)
	assert.Equal(t, coap.DELETE, f.server.last().Code)
}

func TestSessionRegisterHonorsContext(t *testing.T) {
	f := newFixture(t, slowExchange())
	f.server.setHandler(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.session.Register(ctx), context.DeadlineExceeded)
	assert.Equal(t, StateRegistering, f.session.State())
}

func TestSessionClose(t *testing.T) {
	f := newFixture(t, slowExchange())
	f.register(t)

	require.NoError(t, f.session.Close())
	assert.Equal(t, StateUnregistered, f.session.State())
	assert.ErrorIs(t, f.session.Register(context.Background()), ErrSessionClosed)

	// Registry changes after close are ignored.
	f.reg.Remove(dm.NewRef(testObject, 0))
	assert.Len(t, f.server.exchanges(), 1)
}

func TestSessionRecordsCorrelation(t *testing.T) {
	f := newFixture(t, slowExchange())

	held := make(chan *coap.Message, 1)
	f.server.setHandler(func(req *coap.Message) *coap.Message {
		select {
		case held <- req:
		default:
		}
		return nil
	})
	go func() { _ = f.session.Register(context.Background()) }()

	req := <-held
	require.Eventually(t, func() bool {
		p := f.session.Record().Pending
		return p != nil && p.MessageID == req.MessageID && string(p.Token) == string(req.Token)
	}, time.Second, 5*time.Millisecond)
}
