package table

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/geomodel-core/internal/transport/udp"
	"github.com/nerrad567/geomodel-core/internal/wire"
)

// DefaultPort is the table's UDP port.
const DefaultPort = 4000

// UDPOptions configures a UDPConnection.
type UDPOptions struct {
	Host        string
	Port        int
	IdleTimeout time.Duration
	Codec       Codec
	Logger      Logger
}

// UDPConnection talks to the table over datagrams.
type UDPConnection struct {
	opts   UDPOptions
	logger Logger

	mu     sync.Mutex
	client *udp.Client

	listeners listenerSet
	seq       sequencer
}

// NewUDPConnection creates a disconnected UDP transport. A zero port means
// DefaultPort and a nil codec means TextCodec.
func NewUDPConnection(opts UDPOptions) *UDPConnection {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Codec == nil {
		opts.Codec = TextCodec{}
	}
	return &UDPConnection{opts: opts, logger: orNoop(opts.Logger)}
}

// Connect starts the datagram client. Connecting an already connected
// transport is a no-op.
func (c *UDPConnection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.client.Running() {
		return nil
	}

	client := udp.NewClient(udp.WithIdleTimeout(c.opts.IdleTimeout), udp.WithLogger(c.logger))
	if err := client.Start(c.opts.Host, c.opts.Port, udp.ListenerFunc(c.receive)); err != nil {
		return fmt.Errorf("connecting to table at %s:%d: %w", c.opts.Host, c.opts.Port, err)
	}
	c.client = client
	return nil
}

// Disconnect stops the datagram client.
func (c *UDPConnection) Disconnect() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil {
		client.Stop()
	}
}

// IsConnected reports whether the receive loop is running.
func (c *UDPConnection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.Running()
}

// SendRequest encodes req and sends it as one datagram.
func (c *UDPConnection) SendRequest(req Request) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil {
		c.logger.Debug("request dropped, not connected", "request", req.String())
		return
	}

	seq := c.seq.nextSeq()
	msg, err := c.opts.Codec.EncodeRequest(seq, req)
	if err != nil {
		c.logger.Error("cannot encode request", "request", req.String(), "error", err)
		return
	}
	c.logger.Debug("sending request", "seq", seq, "request", req.String())
	client.Send(msg)
}

// AddListener registers l for decoded responses.
func (c *UDPConnection) AddListener(l ResponseListener) {
	c.listeners.add(l)
}

// LastTableSequence returns the sequence number of the latest response.
func (c *UDPConnection) LastTableSequence() uint32 {
	return c.seq.LastTableSequence()
}

// Stats returns the datagram client counters.
func (c *UDPConnection) Stats() udp.ClientStats {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return udp.ClientStats{}
	}
	return client.Stats()
}

func (c *UDPConnection) receive(msg wire.Message) {
	seq, resp, err := c.opts.Codec.DecodeResponse(msg)
	if err != nil {
		c.logger.Warn("undecodable datagram ignored", "bytes", msg.Len(), "error", err)
		return
	}
	c.seq.observe(seq)
	c.listeners.deliver(c.logger, []Response{resp})
}
