package table

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/geomodel-core/internal/transport/serialio"
	"github.com/nerrad567/geomodel-core/internal/wire"
)

// SerialOptions configures a SerialConnection.
type SerialOptions struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
	Codec       Codec
	Logger      Logger

	// Opener overrides how the port is opened; tests use it.
	Opener serialio.Opener
}

// SerialConnection talks to the table over an EOM-framed serial link.
type SerialConnection struct {
	opts   SerialOptions
	logger Logger

	mu   sync.Mutex
	link *serialio.Link

	listeners listenerSet
	seq       sequencer
}

// NewSerialConnection creates a disconnected serial transport.
func NewSerialConnection(opts SerialOptions) *SerialConnection {
	if opts.Codec == nil {
		opts.Codec = TextCodec{}
	}
	return &SerialConnection{opts: opts, logger: orNoop(opts.Logger)}
}

// Connect opens the serial port. Connecting twice is a no-op.
func (c *SerialConnection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.link != nil {
		return nil
	}

	link, err := serialio.Open(serialio.Config{
		Name:        c.opts.Port,
		Baud:        c.opts.Baud,
		ReadTimeout: c.opts.ReadTimeout,
		Opener:      c.opts.Opener,
		Logger:      c.logger,
	}, c.receive)
	if err != nil {
		return fmt.Errorf("connecting to table on %s: %w", c.opts.Port, err)
	}
	c.link = link
	c.logger.Info("serial link open", "port", c.opts.Port)
	return nil
}

// Disconnect closes the serial port.
func (c *SerialConnection) Disconnect() {
	c.mu.Lock()
	link := c.link
	c.link = nil
	c.mu.Unlock()

	if link != nil {
		if err := link.Close(); err != nil {
			c.logger.Warn("closing serial link", "port", c.opts.Port, "error", err)
		}
	}
}

// IsConnected reports whether the port is open.
func (c *SerialConnection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// SendRequest encodes req and writes it as one frame.
func (c *SerialConnection) SendRequest(req Request) {
	c.mu.Lock()
	link := c.link
	c.mu.Unlock()

	if link == nil {
		c.logger.Debug("request dropped, not connected", "request", req.String())
		return
	}

	msg, err := c.opts.Codec.EncodeRequest(c.seq.nextSeq(), req)
	if err != nil {
		c.logger.Error("cannot encode request", "request", req.String(), "error", err)
		return
	}
	if err := link.WriteFrame(msg); err != nil {
		c.logger.Error("serial write failed", "request", req.String(), "error", err)
	}
}

// AddListener registers l for decoded responses.
func (c *SerialConnection) AddListener(l ResponseListener) {
	c.listeners.add(l)
}

// LastTableSequence returns the sequence number of the latest response.
func (c *SerialConnection) LastTableSequence() uint32 {
	return c.seq.LastTableSequence()
}

func (c *SerialConnection) receive(frame wire.Message) {
	seq, resp, err := c.opts.Codec.DecodeResponse(frame)
	if err != nil {
		c.logger.Warn("undecodable frame ignored", "bytes", frame.Len(), "error", err)
		return
	}
	c.seq.observe(seq)
	c.listeners.deliver(c.logger, []Response{resp})
}
