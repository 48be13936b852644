package transport

import (
	"fmt"
	"net"
	"sync"
)

// PacketHandler receives datagrams read by a Server along with the sender.
type PacketHandler func(data []byte, from net.Addr)

// Server is a listening UDP socket.
type Server struct {
	conn    *net.UDPConn
	handler PacketHandler
	maxSize int

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen opens a UDP socket on address and starts passing received
// datagrams to handler.
func Listen(address string, handler PacketHandler) (*Server, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve failed: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen failed: %w", err)
	}

	s := &Server{
		conn:    conn,
		handler: handler,
		maxSize: DefaultMaxDatagramSize,
		closeCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// WriteTo sends a datagram to addr.
func (s *Server) WriteTo(data []byte, addr net.Addr) error {
	select {
	case <-s.closeCh:
		return ErrConnectionClosed
	default:
	}
	_, err := s.conn.WriteTo(data, addr)
	return err
}

func (s *Server) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, s.maxSize)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.handler(data, from)
	}
}

// Close stops the server and waits for its read loop.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}
