package udp

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/geomodel-core/internal/wire"
)

// Listener receives every datagram the client reads.
//
// ReceiveMessage runs on the client's receive goroutine, the only goroutine
// reading the socket, so it must return promptly.
type Listener interface {
	ReceiveMessage(msg wire.Message)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(msg wire.Message)

// ReceiveMessage calls f(msg).
func (f ListenerFunc) ReceiveMessage(msg wire.Message) { f(msg) }

// ClientStats is a snapshot of client counters.
type ClientStats struct {
	Sent         uint64
	SendErrors   uint64
	Received     uint64
	Oversized    uint64
	IdleTimeouts uint64
	LastActivity time.Time
	Running      bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithIdleTimeout sets how long a receive blocks before the loop wakes up.
func WithIdleTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client sends fire-and-forget datagrams to one server endpoint and feeds
// every datagram it receives to a Listener.
//
// Thread Safety:
//   - Start, Send, Stop and Stats may be called from any goroutine.
type Client struct {
	idleTimeout time.Duration
	logger      Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	server *net.UDPAddr
	done   *closeOnce
	wg     sync.WaitGroup

	sent         atomic.Uint64
	sendErrors   atomic.Uint64
	received     atomic.Uint64
	oversized    atomic.Uint64
	idleTimeouts atomic.Uint64
	lastActivity atomic.Int64

	// inListener is set while the receive goroutine runs the listener, so
	// a Stop from inside the listener does not wait on itself.
	inListener atomic.Bool
}

// NewClient creates a stopped client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		idleTimeout: DefaultIdleTimeout,
		logger:      noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start resolves the server endpoint, opens a local socket and starts the
// receive goroutine.
//
// Host may be a name or a literal address. On any failure nothing is
// started and the caller decides whether to retry.
//
// Parameters:
//   - host: Server host name or address
//   - port: Server UDP port
//   - listener: Receives each inbound datagram
//
// Returns:
//   - error: ErrResolveFailed, ErrSocketFailed, ErrAlreadyRunning or ErrNilListener
func (c *Client) Start(host string, port int, listener Listener) error {
	if listener == nil {
		return ErrNilListener
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return ErrAlreadyRunning
	}

	server, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		c.logger.Error("cannot resolve table address", "host", host, "port", port, "error", err)
		return fmt.Errorf("%w: %s:%d: %w", ErrResolveFailed, host, port, err)
	}

	conn, err := net.ListenUDP(network(server.IP), nil)
	if err != nil {
		c.logger.Error("cannot open client socket", "error", err)
		return fmt.Errorf("%w: %w", ErrSocketFailed, err)
	}

	done := newCloseOnce()
	c.conn, c.server, c.done = conn, server, done

	c.wg.Add(1)
	go c.receiveLoop(conn, done, listener)

	c.logger.Info("udp client started", "server", server.String(), "local", conn.LocalAddr().String())
	return nil
}

// Send transmits msg to the server. Failures are logged and counted, never
// returned: a lost send looks the same to the caller as a lost datagram.
func (c *Client) Send(msg wire.Message) {
	c.mu.Lock()
	conn, server := c.conn, c.server
	c.mu.Unlock()

	if conn == nil {
		c.sendErrors.Add(1)
		c.logger.Warn("send on stopped client dropped", "bytes", msg.Len())
		return
	}
	if msg.Len() > wire.MaxDatagramSize {
		c.sendErrors.Add(1)
		c.logger.Error("message exceeds datagram size, dropped", "bytes", msg.Len(), "max", wire.MaxDatagramSize)
		return
	}

	if _, err := conn.WriteToUDP(msg.Bytes(), server); err != nil {
		c.sendErrors.Add(1)
		c.logger.Error("send failed", "server", server.String(), "error", err)
		return
	}

	c.sent.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	c.logger.Debug("datagram sent", "bytes", msg.Len(), "dump", msg.HexDump())
}

// Stop signals the receive goroutine, closes the socket to unblock a pending
// read and waits for the goroutine to exit. Safe to call repeatedly and on a
// client that never started.
//
// Stop may be called from a Listener. It then returns without waiting; the
// receive goroutine exits as soon as the listener returns.
func (c *Client) Stop() {
	c.mu.Lock()
	conn, done := c.conn, c.done
	c.conn, c.done = nil, nil
	c.mu.Unlock()

	if done != nil {
		done.Close()
	}
	if conn != nil {
		conn.Close() //nolint:errcheck // unblocks the reader; error is irrelevant
	}
	if c.inListener.Load() {
		return
	}
	c.wg.Wait()
}

// Running reports whether the client currently holds a socket.
func (c *Client) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// LocalAddr returns the local socket address, or nil when stopped.
func (c *Client) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// Stats returns a snapshot of client counters.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Sent:         c.sent.Load(),
		SendErrors:   c.sendErrors.Load(),
		Received:     c.received.Load(),
		Oversized:    c.oversized.Load(),
		IdleTimeouts: c.idleTimeouts.Load(),
		LastActivity: time.Unix(c.lastActivity.Load(), 0),
		Running:      c.Running(),
	}
}

// receiveLoop owns conn until it returns. The stop signal is checked after
// every read, whatever the read returned.
func (c *Client) receiveLoop(conn *net.UDPConn, done *closeOnce, listener Listener) {
	defer c.wg.Done()
	defer conn.Close() //nolint:errcheck // may already be closed by Stop

	// One spare byte tells an oversized datagram from one that fits exactly.
	buf := make([]byte, wire.MaxDatagramSize+1)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			if !done.closed() {
				c.logger.Error("set read deadline failed, stopping client", "error", err)
				c.release(conn)
			}
			return
		}

		n, from, err := conn.ReadFromUDP(buf)

		if done.closed() {
			return
		}

		if err != nil {
			if isTimeout(err) {
				c.idleTimeouts.Add(1)
				c.logger.Debug("periodic sanity check", "idle", c.idleTimeout.String())
				continue
			}
			c.logger.Error("receive failed, stopping client", "error", err)
			c.release(conn)
			return
		}

		if n > wire.MaxDatagramSize {
			c.oversized.Add(1)
			c.logger.Warn("oversized datagram dropped", "from", from.String(), "max", wire.MaxDatagramSize)
			continue
		}

		c.received.Add(1)
		c.lastActivity.Store(time.Now().Unix())

		msg := wire.NewMessage(buf, n)
		c.logger.Debug("datagram received", "from", from.String(), "bytes", n, "dump", msg.HexDump())
		c.deliver(listener, msg)
	}
}

// release forgets conn after a fatal error so Running reports false and a
// later Start can open a fresh socket.
func (c *Client) release(conn *net.UDPConn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Client) deliver(listener Listener, msg wire.Message) {
	c.inListener.Store(true)
	defer c.inListener.Store(false)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("listener panicked", "panic", fmt.Sprint(r))
		}
	}()
	listener.ReceiveMessage(msg)
}
