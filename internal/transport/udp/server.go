package udp

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/geomodel-core/internal/wire"
)

// Handler turns one inbound request into exactly one reply.
//
// HandleRequest runs on the serving goroutine; while it runs no other
// datagram is read.
type Handler interface {
	HandleRequest(req wire.Message) wire.Message
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req wire.Message) wire.Message

// HandleRequest calls f(req).
func (f HandlerFunc) HandleRequest(req wire.Message) wire.Message { return f(req) }

// ServerStats is a snapshot of server counters.
type ServerStats struct {
	Requests     uint64
	Replies      uint64
	IdleTimeouts uint64
	Panics       uint64

	// Oversized counts inbound datagrams dropped for exceeding
	// wire.MaxDatagramSize; DroppedReplies counts replies dropped for the
	// same reason.
	Oversized      uint64
	DroppedReplies uint64

	Running bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerIdleTimeout sets how long a receive blocks before the loop wakes up.
func WithServerIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithServerLogger sets the server logger.
func WithServerLogger(l Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBindHost restricts the server to one local address.
func WithBindHost(host string) ServerOption {
	return func(s *Server) {
		s.bindHost = host
	}
}

// Server binds a local UDP port and answers every request datagram with the
// handler's reply, sent back to the datagram's source address.
type Server struct {
	idleTimeout time.Duration
	logger      Logger
	bindHost    string

	mu   sync.Mutex
	conn *net.UDPConn
	done *closeOnce
	wg   sync.WaitGroup

	requests     atomic.Uint64
	replies      atomic.Uint64
	idleTimeouts atomic.Uint64
	panics       atomic.Uint64

	oversized      atomic.Uint64
	droppedReplies atomic.Uint64
}

// NewServer creates a stopped server.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		idleTimeout: DefaultIdleTimeout,
		logger:      noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds port and starts the serving goroutine. Port 0 binds an
// ephemeral port, reported by Addr.
//
// A server holds at most one binding: calling Start while running logs a
// warning, leaves the active binding untouched and returns ErrAlreadyRunning.
//
// Parameters:
//   - port: Local UDP port, 0 for ephemeral
//   - handler: Produces the reply for each request
//
// Returns:
//   - error: ErrAlreadyRunning, ErrNilHandler, ErrResolveFailed or ErrSocketFailed
func (s *Server) Start(port int, handler Handler) error {
	if handler == nil {
		return ErrNilHandler
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.logger.Warn("server already running, start ignored", "addr", s.conn.LocalAddr().String())
		return ErrAlreadyRunning
	}

	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrResolveFailed, port)
	}

	laddr := &net.UDPAddr{Port: port}
	if s.bindHost != "" {
		ip := net.ParseIP(s.bindHost)
		if ip == nil {
			return fmt.Errorf("%w: bind host %q is not an address", ErrResolveFailed, s.bindHost)
		}
		laddr.IP = ip
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		s.logger.Error("cannot bind server socket", "port", port, "error", err)
		return fmt.Errorf("%w: port %d: %w", ErrSocketFailed, port, err)
	}

	done := newCloseOnce()
	s.conn, s.done = conn, done

	s.wg.Add(1)
	go s.serve(conn, done, handler)

	s.logger.Info("udp server started", "addr", conn.LocalAddr().String())
	return nil
}

// Stop signals the serving goroutine and closes the socket. An in-flight
// request may or may not get its reply. Safe to call repeatedly; a stopped
// server can be started again.
func (s *Server) Stop() {
	s.mu.Lock()
	conn, done := s.conn, s.done
	s.conn, s.done = nil, nil
	s.mu.Unlock()

	if done != nil {
		done.Close()
	}
	if conn != nil {
		conn.Close() //nolint:errcheck // unblocks the reader
		s.logger.Info("udp server stopped")
	}
}

// Wait blocks until the serving goroutine has exited.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Addr returns the bound address, or nil when stopped.
func (s *Server) Addr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	addr, _ := s.conn.LocalAddr().(*net.UDPAddr) //nolint:errcheck // always *net.UDPAddr for a UDPConn
	return addr
}

// Running reports whether the server holds a bound socket.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Stats returns a snapshot of server counters.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Requests:       s.requests.Load(),
		Replies:        s.replies.Load(),
		IdleTimeouts:   s.idleTimeouts.Load(),
		Panics:         s.panics.Load(),
		Oversized:      s.oversized.Load(),
		DroppedReplies: s.droppedReplies.Load(),
		Running:        s.Running(),
	}
}

func (s *Server) serve(conn *net.UDPConn, done *closeOnce, handler Handler) {
	defer s.wg.Done()
	defer conn.Close() //nolint:errcheck // may already be closed by Stop

	// One spare byte tells an oversized datagram from one that fits exactly.
	buf := make([]byte, wire.MaxDatagramSize+1)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
			if !done.closed() {
				s.logger.Error("set read deadline failed, stopping server", "error", err)
				s.release(conn)
			}
			return
		}

		n, from, err := conn.ReadFromUDP(buf)

		if done.closed() {
			return
		}

		if err != nil {
			if isTimeout(err) {
				s.idleTimeouts.Add(1)
				s.logger.Debug("periodic sanity check", "idle", s.idleTimeout.String())
				continue
			}
			s.logger.Error("receive failed, stopping server", "error", err)
			s.release(conn)
			return
		}

		if n > wire.MaxDatagramSize {
			s.oversized.Add(1)
			s.logger.Warn("oversized datagram dropped", "from", from.String(), "max", wire.MaxDatagramSize)
			continue
		}

		s.requests.Add(1)
		reply := s.handle(handler, wire.NewMessage(buf, n))

		if done.closed() {
			return
		}

		if reply.Len() > wire.MaxDatagramSize {
			s.droppedReplies.Add(1)
			s.logger.Error("reply exceeds datagram size, dropped", "to", from.String(), "bytes", reply.Len(), "max", wire.MaxDatagramSize)
			continue
		}

		if _, err := conn.WriteToUDP(reply.Bytes(), from); err != nil {
			if done.closed() {
				return
			}
			s.logger.Error("reply failed, stopping server", "to", from.String(), "error", err)
			s.release(conn)
			return
		}
		s.replies.Add(1)
	}
}

// handle runs the handler. A panicking handler still produces one (empty)
// reply so the requester is not left waiting on a datagram that never comes.
func (s *Server) handle(handler Handler, req wire.Message) (reply wire.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			s.logger.Error("handler panicked", "panic", fmt.Sprint(r))
			reply = wire.Message{}
		}
	}()
	return handler.HandleRequest(req)
}

func (s *Server) release(conn *net.UDPConn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}
