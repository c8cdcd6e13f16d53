// Package wpatest provides a mock wpa_supplicant/hostapd control
// interface for tests.
package wpatest

import (
	"fmt"
	"net"
	"sync"
)

// NewServer creates a mock control interface listening on sockPath.
func NewServer(sockPath string) (*Server, error) {
	sockAddr, err := net.ResolveUnixAddr("unixgram", sockPath)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUnixgram("unixgram", sockAddr)
	if err != nil {
		return nil, err
	}

	return &Server{
		Addr:     sockAddr.String(),
		conn:     conn,
		buf:      make([]byte, 1024),
		attached: make(map[string]chan struct{}),
	}, nil
}

// Server mocks a control interface socket.
type Server struct {
	Addr string
	conn *net.UnixConn
	buf  []byte

	mu       sync.Mutex
	closed   bool
	attached map[string]chan struct{} // Remote address -> stop forwarding events.
}

// Close the socket.
func (s *Server) Close() error {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	for addr, stop := range s.attached {
		close(stop)
		delete(s.attached, addr)
	}
	s.mu.Unlock()
	if alreadyClosed {
		return nil
	}
	return s.conn.Close()
}

// WriteTo writes the message to the given address.
func (s *Server) WriteTo(msg string, addr net.Addr) error {
	if _, err := s.conn.WriteTo([]byte(msg), addr); err != nil {
		return fmt.Errorf("WriteTo(%q) err: %w", msg, err)
	}
	return nil
}

// ReadFrom reads a message and returns it as a string along with the
// remote address. Must not be used after calling Serve.
func (s *Server) ReadFrom() (string, net.Addr, error) {
	n, raddr, err := s.conn.ReadFrom(s.buf)
	if err != nil {
		return "", nil, err
	}
	return string(s.buf[:n]), raddr, nil
}

// Serve uses the handler to serve requests. This method
// blocks until the server is closed or an error is encountered.
func (s *Server) Serve(handler *Handler) error {
	for {
		msg, raddr, err := s.ReadFrom()
		if err != nil {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.closed {
				return nil
			}
			return err
		}

		handler.handleMessage(msg)

		switch msg {
		case "PING":
			if handler.handlePing() {
				if err := s.WriteTo("PONG", raddr); err != nil {
					return err
				}
			}

		case "ATTACH":
			events := handler.handleAttach()
			if events == nil {
				if err := s.WriteTo("FAIL", raddr); err != nil {
					return err
				}
				continue
			}
			if err := s.WriteTo("OK", raddr); err != nil {
				return err
			}
			s.forward(events, raddr)

		case "DETACH":
			s.stopForward(raddr)
			// The other side of the connection may already have closed.
			_ = s.WriteTo("OK", raddr)
			handler.handleDetach()

		default:
			resp, ok := handler.handleCommand(msg)
			if !ok {
				resp = "UNKNOWN COMMAND"
			}
			if err := s.WriteTo(resp, raddr); err != nil {
				return err
			}
		}
	}
}

// forward sends each message received from events to raddr until
// it detaches or the server is closed.
func (s *Server) forward(events <-chan string, raddr net.Addr) {
	stop := make(chan struct{})

	s.mu.Lock()
	if prev, ok := s.attached[raddr.String()]; ok {
		close(prev)
	}
	s.attached[raddr.String()] = stop
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			case msg, ok := <-events:
				if !ok {
					return
				}
				if err := s.WriteTo(msg, raddr); err != nil {
					return
				}
			}
		}
	}()
}

func (s *Server) stopForward(raddr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.attached[raddr.String()]; ok {
		close(stop)
		delete(s.attached, raddr.String())
	}
}
