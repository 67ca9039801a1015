package table

import (
	"sync"
)

// LoopbackOptions configures a LoopbackConnection.
type LoopbackOptions struct {
	Codec Codec

	// Echo turns each request around through the codec and delivers it as
	// a response, the way a null-modem cable does. With the text codec the
	// echoed "status" is the request verb.
	Echo bool

	Logger Logger
}

// LoopbackConnection is an in-process transport. It records every request
// and lets callers inject responses, which makes it the test double for
// anything built on a Connection.
type LoopbackConnection struct {
	codec  Codec
	echo   bool
	logger Logger

	mu         sync.Mutex
	connected  bool
	connectErr error
	requests   []Request

	listeners listenerSet
	seq       sequencer
}

// NewLoopbackConnection creates a disconnected loopback transport.
func NewLoopbackConnection(opts LoopbackOptions) *LoopbackConnection {
	if opts.Codec == nil {
		opts.Codec = TextCodec{}
	}
	return &LoopbackConnection{codec: opts.Codec, echo: opts.Echo, logger: orNoop(opts.Logger)}
}

// FailConnect makes the next Connect calls return err. Pass nil to clear.
func (c *LoopbackConnection) FailConnect(err error) {
	c.mu.Lock()
	c.connectErr = err
	c.mu.Unlock()
}

// Connect marks the loopback connected.
func (c *LoopbackConnection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

// Disconnect marks the loopback disconnected.
func (c *LoopbackConnection) Disconnect() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// IsConnected reports the connected flag.
func (c *LoopbackConnection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendRequest records req and, when echoing and connected, delivers it
// back as a response on the caller's goroutine.
func (c *LoopbackConnection) SendRequest(req Request) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	connected, echo := c.connected, c.echo
	c.mu.Unlock()

	if !connected || !echo {
		return
	}

	msg, err := c.codec.EncodeRequest(c.seq.nextSeq(), req)
	if err != nil {
		c.logger.Error("loopback encode failed", "error", err)
		return
	}
	seq, resp, err := c.codec.DecodeResponse(msg)
	if err != nil {
		c.logger.Error("loopback decode failed", "error", err)
		return
	}
	c.seq.observe(seq)
	c.listeners.deliver(c.logger, []Response{resp})
}

// AddListener registers l for responses.
func (c *LoopbackConnection) AddListener(l ResponseListener) {
	c.listeners.add(l)
}

// Inject delivers responses to every listener as one batch, as if the
// table had sent them.
func (c *LoopbackConnection) Inject(responses ...Response) {
	c.listeners.deliver(c.logger, responses)
}

// Requests returns a copy of every request passed to SendRequest.
func (c *LoopbackConnection) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// SendCount returns how many times SendRequest was called.
func (c *LoopbackConnection) SendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// LastTableSequence returns the sequence number of the latest echoed frame.
func (c *LoopbackConnection) LastTableSequence() uint32 {
	return c.seq.LastTableSequence()
}
