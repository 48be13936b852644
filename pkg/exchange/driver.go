package exchange

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/lwm2m-go/regsync/pkg/coap"
	"github.com/lwm2m-go/regsync/pkg/log"
	"github.com/lwm2m-go/regsync/pkg/wire"
)

// Exchange errors.
var (
	ErrExchangeTimeout = errors.New("exchange timed out")
	ErrDriverClosed    = errors.New("exchange driver is closed")
	ErrNotRequest      = errors.New("message is not a request")
)

// TokenLength is the length of tokens assigned to requests.
const TokenLength = 8

// RejectedError reports a response that explicitly rejected the request.
type RejectedError struct {
	// Code is the response code. Zero for a Reset.
	Code coap.Code

	// Reset is true if the server answered with a Reset message.
	Reset bool
}

func (e *RejectedError) Error() string {
	if e.Reset {
		return "request rejected: reset"
	}
	return fmt.Sprintf("request rejected: %s", e.Code)
}

// Status returns the wire status for the rejection.
func (e *RejectedError) Status() wire.Status {
	if e.Reset {
		return wire.StatusReset
	}
	return wire.StatusFromCode(e.Code)
}

// Transport sends datagrams to the server.
type Transport interface {
	Send(data []byte) error
}

// Config configures a Driver.
type Config struct {
	// AckTimeout is the base acknowledgement timeout.
	AckTimeout time.Duration

	// AckRandomFactor randomizes the initial timeout (>= 1).
	AckRandomFactor float64

	// MaxRetransmit is the number of retransmissions before timing out.
	MaxRetransmit int

	// ExchangeLifetime bounds the wait for a separate response.
	ExchangeLifetime time.Duration

	// SessionID, Endpoint and Server label protocol log events.
	SessionID string
	Endpoint  string
	Server    string

	// ProtocolLogger receives protocol events. Nil disables capture.
	ProtocolLogger log.Logger

	// Logger is the optional logger for debug output.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with the RFC 7252 transmission parameters.
func DefaultConfig() Config {
	return Config{
		AckTimeout:       DefaultAckTimeout,
		AckRandomFactor:  DefaultAckRandomFactor,
		MaxRetransmit:    DefaultMaxRetransmit,
		ExchangeLifetime: DefaultExchangeLifetime,
	}
}

// result is the resolution of one pending exchange.
type result struct {
	resp *coap.Message
	err  error
}

// pending tracks one outstanding exchange.
type pending struct {
	token     []byte
	messageID uint16
	op        wire.Operation
	started   time.Time

	// acked is closed when an empty ACK stops retransmission.
	acked     chan struct{}
	ackClosed bool

	result chan result
}

// Driver sends requests reliably and matches their responses.
type Driver struct {
	mu sync.Mutex

	transport Transport
	config    Config

	nextMID uint16
	rng     *rand.Rand

	byToken map[string]*pending
	byMID   map[uint16]*pending

	closed bool
}

// NewDriver creates a driver sending over transport.
func NewDriver(transport Transport, config Config) *Driver {
	defaults := DefaultConfig()
	if config.AckTimeout <= 0 {
		config.AckTimeout = defaults.AckTimeout
	}
	if config.AckRandomFactor < 1 {
		config.AckRandomFactor = defaults.AckRandomFactor
	}
	if config.MaxRetransmit < 0 {
		config.MaxRetransmit = defaults.MaxRetransmit
	}
	if config.ExchangeLifetime <= 0 {
		config.ExchangeLifetime = defaults.ExchangeLifetime
	}
	if config.ProtocolLogger == nil {
		config.ProtocolLogger = log.NoopLogger{}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Driver{
		transport: transport,
		config:    config,
		nextMID:   uint16(rng.Intn(1 << 16)),
		rng:       rng,
		byToken:   make(map[string]*pending),
		byMID:     make(map[uint16]*pending),
	}
}

// Config returns the effective configuration.
func (d *Driver) Config() Config {
	return d.config
}

// Pending returns the number of outstanding exchanges.
func (d *Driver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byToken)
}

// Close fails all outstanding exchanges with ErrDriverClosed.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	for _, p := range d.byToken {
		p.result <- result{err: ErrDriverClosed}
	}
	d.byToken = make(map[string]*pending)
	d.byMID = make(map[uint16]*pending)
	return nil
}

// Do sends req and waits for its response.
//
// The request's type, token and message id are overwritten. A 2.xx
// response is returned with a nil error. A 4.xx/5.xx response or a Reset
// yields a *RejectedError (with the response, if any). Exhausting the
// retry budget yields ErrExchangeTimeout. Cancelling ctx abandons the
// exchange; a response arriving afterwards is treated as a stray.
func (d *Driver) Do(ctx context.Context, req *coap.Message) (*coap.Message, error) {
	call, err := d.Start(req)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// Call is an exchange started with Start.
type Call struct {
	d       *Driver
	p       *pending
	req     *coap.Message
	data    []byte
	backoff *Backoff
}

// Start assigns correlation identifiers to req and transmits it once.
// The caller must call Wait, which drives retransmission and releases the
// exchange.
func (d *Driver) Start(req *coap.Message) (*Call, error) {
	if !req.Code.IsRequest() {
		return nil, ErrNotRequest
	}

	p, backoff, data, err := d.start(req)
	if err != nil {
		return nil, err
	}

	call := &Call{d: d, p: p, req: req, data: data, backoff: backoff}
	if err := d.send(data, req, 0); err != nil {
		d.finish(p)
		return nil, err
	}
	return call, nil
}

// Token returns the token assigned to the request.
func (c *Call) Token() []byte {
	return c.p.token
}

// MessageID returns the message id assigned to the request.
func (c *Call) MessageID() uint16 {
	return c.p.messageID
}

// Wait blocks until the exchange resolves. See Do for the outcomes.
func (c *Call) Wait(ctx context.Context) (*coap.Message, error) {
	d, p := c.d, c.p
	defer d.finish(p)

	timer := time.NewTimer(c.backoff.Next())
	defer timer.Stop()

	acked := p.acked
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case res := <-p.result:
			return res.resp, res.err

		case <-acked:
			// Retransmission stops; wait for the separate response.
			acked = nil
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.config.ExchangeLifetime)
			attempt = -1

		case <-timer.C:
			if attempt < 0 || attempt >= d.config.MaxRetransmit {
				d.logError(c.req, ErrExchangeTimeout, "exchange")
				return nil, ErrExchangeTimeout
			}
			attempt++
			if err := d.send(c.data, c.req, attempt); err != nil {
				return nil, err
			}
			timer.Reset(c.backoff.Next())
		}
	}
}

// start registers a pending exchange and encodes the request.
func (d *Driver) start(req *coap.Message) (*pending, *Backoff, []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, nil, nil, ErrDriverClosed
	}

	token := make([]byte, TokenLength)
	for {
		if _, err := crand.Read(token); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to generate token: %w", err)
		}
		if _, taken := d.byToken[string(token)]; !taken {
			break
		}
	}

	mid := d.nextMID
	d.nextMID++

	req.Type = coap.Confirmable
	req.Token = token
	req.MessageID = mid

	data, err := req.Marshal()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode request: %w", err)
	}

	p := &pending{
		token:     token,
		messageID: mid,
		op:        wire.Classify(req),
		started:   time.Now(),
		acked:     make(chan struct{}),
		result:    make(chan result, 1),
	}
	d.byToken[string(token)] = p
	d.byMID[mid] = p

	return p, NewBackoff(d.config.AckTimeout, d.config.AckRandomFactor, d.rng), data, nil
}

// finish removes a pending exchange. Responses arriving later are strays.
func (d *Driver) finish(p *pending) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.byToken[string(p.token)]; ok && cur == p {
		delete(d.byToken, string(p.token))
	}
	if cur, ok := d.byMID[p.messageID]; ok && cur == p {
		delete(d.byMID, p.messageID)
	}
}

func (d *Driver) send(data []byte, req *coap.Message, attempt int) error {
	d.logMessage(log.DirectionOut, req, attempt, false, nil)
	if err := d.transport.Send(data); err != nil {
		d.logError(req, err, "send")
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

// HandleDatagram processes a datagram received from the server.
func (d *Driver) HandleDatagram(data []byte) {
	msg, err := coap.Unmarshal(data)
	if err != nil {
		d.config.ProtocolLogger.Log(log.Event{
			Timestamp: time.Now(),
			SessionID: d.config.SessionID,
			Direction: log.DirectionIn,
			Layer:     log.LayerTransport,
			Category:  log.CategoryError,
			Endpoint:  d.config.Endpoint,
			Server:    d.config.Server,
			Datagram:  log.NewDatagramEvent(data),
			Error:     &log.ErrorEventData{Layer: log.LayerTransport, Message: err.Error(), Context: "decode"},
		})
		return
	}
	d.HandleMessage(msg)
}

// HandleMessage processes a decoded message received from the server.
func (d *Driver) HandleMessage(msg *coap.Message) {
	switch msg.Type {
	case coap.Acknowledgement:
		d.handleAck(msg)
	case coap.Reset:
		d.handleReset(msg)
	case coap.Confirmable, coap.NonConfirmable:
		d.handleSeparate(msg)
	}
}

func (d *Driver) handleAck(msg *coap.Message) {
	d.mu.Lock()
	p, ok := d.byMID[msg.MessageID]
	if !ok {
		d.mu.Unlock()
		d.logMessage(log.DirectionIn, msg, 0, true, nil)
		return
	}

	if msg.IsEmpty() {
		if !p.ackClosed {
			p.ackClosed = true
			close(p.acked)
		}
		// The message id is done; the token still awaits the response.
		delete(d.byMID, msg.MessageID)
		d.mu.Unlock()
		d.logMessage(log.DirectionIn, msg, 0, false, nil)
		return
	}

	if string(msg.Token) != string(p.token) {
		d.mu.Unlock()
		d.logMessage(log.DirectionIn, msg, 0, true, nil)
		return
	}
	d.resolveLocked(p, msg)
	d.mu.Unlock()
	d.logMessage(log.DirectionIn, msg, 0, false, p)
}

func (d *Driver) handleReset(msg *coap.Message) {
	d.mu.Lock()
	p, ok := d.byMID[msg.MessageID]
	if !ok {
		d.mu.Unlock()
		d.logMessage(log.DirectionIn, msg, 0, true, nil)
		return
	}
	d.removeLocked(p)
	p.result <- result{err: &RejectedError{Reset: true}}
	d.mu.Unlock()
	d.logMessage(log.DirectionIn, msg, 0, false, p)
}

func (d *Driver) handleSeparate(msg *coap.Message) {
	if !msg.Code.IsResponse() {
		// Requests from the server are not served by this client.
		d.logMessage(log.DirectionIn, msg, 0, true, nil)
		if msg.Type == coap.Confirmable {
			d.reply(coap.Reset, msg.MessageID)
		}
		return
	}

	d.mu.Lock()
	p, ok := d.byToken[string(msg.Token)]
	if ok {
		d.resolveLocked(p, msg)
	}
	d.mu.Unlock()

	d.logMessage(log.DirectionIn, msg, 0, !ok, p)
	if msg.Type != coap.Confirmable {
		return
	}
	if ok {
		d.reply(coap.Acknowledgement, msg.MessageID)
	} else {
		d.reply(coap.Reset, msg.MessageID)
	}
}

// resolveLocked delivers a response to p. Must be called with mu held.
func (d *Driver) resolveLocked(p *pending, msg *coap.Message) {
	d.removeLocked(p)
	var err error
	if !msg.Code.IsSuccess() {
		err = &RejectedError{Code: msg.Code}
	}
	p.result <- result{resp: msg, err: err}
}

func (d *Driver) removeLocked(p *pending) {
	delete(d.byToken, string(p.token))
	if cur, ok := d.byMID[p.messageID]; ok && cur == p {
		delete(d.byMID, p.messageID)
	}
}

// reply sends an empty ACK or RST for a received Confirmable message.
func (d *Driver) reply(typ coap.Type, mid uint16) {
	m := &coap.Message{Type: typ, Code: coap.Empty, MessageID: mid}
	data, err := m.Marshal()
	if err != nil {
		return
	}
	d.logMessage(log.DirectionOut, m, 0, false, nil)
	if err := d.transport.Send(data); err != nil {
		d.debugLog("reply failed", "type", typ, "mid", mid, "error", err)
	}
}

func (d *Driver) logMessage(dir log.Direction, msg *coap.Message, attempt int, stray bool, p *pending) {
	ev := &log.MessageEvent{
		Type:      msg.Type,
		Code:      msg.Code,
		MessageID: msg.MessageID,
		Token:     msg.Token,
		URI:       msg.URI(),
		Payload:   string(msg.Payload),
		Attempt:   attempt,
		Stray:     stray,
	}
	if msg.Code.IsRequest() {
		op := wire.Classify(msg)
		ev.Operation = &op
	}
	if msg.Code.IsResponse() {
		status := wire.StatusFromCode(msg.Code)
		ev.Status = &status
	}
	if p != nil {
		op := p.op
		ev.Operation = &op
		rtt := time.Since(p.started)
		ev.RoundTrip = &rtt
	}
	if stray {
		d.debugLog("dropping stray message", "msg", msg.String())
	}

	d.config.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: d.config.SessionID,
		Direction: dir,
		Layer:     log.LayerExchange,
		Category:  log.CategoryMessage,
		Endpoint:  d.config.Endpoint,
		Server:    d.config.Server,
		Message:   ev,
	})
}

func (d *Driver) logError(req *coap.Message, err error, context string) {
	d.debugLog("exchange failed", "msg", req.String(), "error", err)
	d.config.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: d.config.SessionID,
		Direction: log.DirectionOut,
		Layer:     log.LayerExchange,
		Category:  log.CategoryError,
		Endpoint:  d.config.Endpoint,
		Server:    d.config.Server,
		Error:     &log.ErrorEventData{Layer: log.LayerExchange, Message: err.Error(), Context: context},
	})
}

func (d *Driver) debugLog(msg string, args ...any) {
	if d.config.Logger != nil {
		d.config.Logger.Debug(msg, args...)
	}
}
