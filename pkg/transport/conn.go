package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/lwm2m-go/regsync/pkg/log"
)

// DefaultMaxDatagramSize is the receive buffer size. CoAP recommends
// keeping messages below 1152 bytes; the buffer leaves headroom.
const DefaultMaxDatagramSize = 2048

// Connection states.
type ConnectionState int

const (
	// StateDisconnected indicates no socket is open.
	StateDisconnected ConnectionState = iota

	// StateConnected indicates an open socket.
	StateConnected

	// StateClosed indicates the socket was closed.
	StateClosed
)

// String returns the connection state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrAlreadyServing   = errors.New("read loop already running")
	ErrDatagramTooLarge = errors.New("datagram too large")
)

// Handler receives datagrams read from a socket.
type Handler func(data []byte)

// ConnConfig configures a Conn.
type ConnConfig struct {
	// MaxDatagramSize is the largest datagram sent or received.
	MaxDatagramSize int

	// Server and Endpoint label protocol log events.
	Server   string
	Endpoint string

	// OnClose is called once when the socket goes away, with nil after
	// Close and with the read error when the socket failed underneath.
	OnClose func(err error)

	// ProtocolLogger receives datagram events. Nil disables capture.
	ProtocolLogger log.Logger

	// Logger is the optional logger for debug output.
	Logger *slog.Logger
}

// Conn is a UDP socket connected to one server.
type Conn struct {
	conn   *net.UDPConn
	config ConnConfig

	mu      sync.Mutex
	state   ConnectionState
	serving bool

	closeCh    chan struct{}
	closeOnce  sync.Once
	notifyOnce sync.Once
	wg         sync.WaitGroup
}

// Dial opens a UDP socket connected to address.
func Dial(ctx context.Context, address string, config ConnConfig) (*Conn, error) {
	if config.MaxDatagramSize <= 0 {
		config.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if config.ProtocolLogger == nil {
		config.ProtocolLogger = log.NoopLogger{}
	}

	dialer := &net.Dialer{}
	nc, err := dialer.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	c := &Conn{
		conn:    nc.(*net.UDPConn),
		config:  config,
		closeCh: make(chan struct{}),
	}
	c.setState(StateConnected, "dial "+address)
	return c, nil
}

// State returns the connection state.
func (c *Conn) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes one datagram to the server.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	if len(data) > c.config.MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes", ErrDatagramTooLarge, len(data))
	}

	c.logDatagram(log.DirectionOut, data)
	_, err := c.conn.Write(data)
	return err
}

// Serve starts the read loop, passing each datagram to handler. It returns
// immediately; the loop ends when the connection is closed.
func (c *Conn) Serve(handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return ErrConnectionClosed
	}
	if c.serving {
		return ErrAlreadyServing
	}
	c.serving = true

	c.wg.Add(1)
	go c.readLoop(handler)
	return nil
}

func (c *Conn) readLoop(handler Handler) {
	defer c.wg.Done()

	buf := make([]byte, c.config.MaxDatagramSize+1)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			select {
			case <-c.closeCh:
				return
			default:
			}
			// ICMP errors surface as read errors on connected sockets;
			// the exchange driver's retransmission covers them.
			c.debugLog("read failed", "error", err)
			if errors.Is(err, net.ErrClosed) {
				c.setState(StateClosed, err.Error())
				c.notifyClosed(err)
				return
			}
			continue
		}
		if n > c.config.MaxDatagramSize {
			c.debugLog("dropping oversized datagram", "size", n)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		c.logDatagram(log.DirectionIn, data)
		handler(data)
	}
}

// Close closes the socket and waits for the read loop.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
		c.wg.Wait()
		c.setState(StateClosed, "close")
		c.notifyClosed(nil)
	})
	return err
}

func (c *Conn) notifyClosed(err error) {
	if c.config.OnClose == nil {
		return
	}
	c.notifyOnce.Do(func() { c.config.OnClose(err) })
}

func (c *Conn) setState(state ConnectionState, reason string) {
	c.mu.Lock()
	old := c.state
	c.state = state
	c.mu.Unlock()

	c.config.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionNone,
		Layer:     log.LayerTransport,
		Category:  log.CategoryState,
		Endpoint:  c.config.Endpoint,
		Server:    c.config.Server,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityTransport,
			OldState: old.String(),
			NewState: state.String(),
			Reason:   reason,
		},
	})
}

func (c *Conn) logDatagram(dir log.Direction, data []byte) {
	c.config.ProtocolLogger.Log(log.Event{
		Timestamp: time.Now(),
		Direction: dir,
		Layer:     log.LayerTransport,
		Category:  log.CategoryMessage,
		Endpoint:  c.config.Endpoint,
		Server:    c.config.Server,
		Datagram:  log.NewDatagramEvent(data),
	})
}

func (c *Conn) debugLog(msg string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, append([]any{"server", c.config.Server}, args...)...)
	}
}
