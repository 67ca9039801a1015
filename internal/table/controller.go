package table

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/geomodel-core/internal/infrastructure/config"
)

// StatusPolicy decides what status the controller caches for a response.
type StatusPolicy int

const (
	// StatusForceOK caches every accepted response as OK, whatever the
	// table reported. Early firmware and the null-modem loopback put the
	// request verb in the status slot, so the field was not trusted.
	StatusForceOK StatusPolicy = iota

	// StatusPassThrough caches the status exactly as received.
	StatusPassThrough
)

// ParseStatusPolicy maps "force_ok" and "passthrough" onto a policy.
func ParseStatusPolicy(s string) (StatusPolicy, error) {
	switch s {
	case "", config.StatusPolicyForceOK:
		return StatusForceOK, nil
	case config.StatusPolicyPassThrough:
		return StatusPassThrough, nil
	default:
		return StatusForceOK, fmt.Errorf("table: unknown status policy %q", s)
	}
}

// String returns the config spelling of the policy.
func (p StatusPolicy) String() string {
	if p == StatusPassThrough {
		return config.StatusPolicyPassThrough
	}
	return config.StatusPolicyForceOK
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	StatusPolicy StatusPolicy
	Logger       Logger
}

// ControllerStats is a snapshot of controller counters.
type ControllerStats struct {
	Updates   uint64 `json:"updates"`
	Dropped   uint64 `json:"dropped"`
	Connected bool   `json:"connected"`
}

// cache maps every declared device to its latest response.
type cache struct {
	mu      sync.RWMutex
	entries map[Device]Response
}

func newSeededCache() *cache {
	c := &cache{entries: make(map[Device]Response, len(declared))}
	for _, d := range declared {
		c.entries[d] = Uninitialized(d)
	}
	return c
}

func (c *cache) get(d Device) (Response, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[d]
	return r, ok
}

func (c *cache) put(r Response) {
	c.mu.Lock()
	c.entries[r.Device] = r
	c.mu.Unlock()
}

// Controller owns the device-state cache and is the only thing callers use
// to talk to the table.
//
// Reads never touch the network: CurrentValue returns whatever the last
// accepted response was, or the uninitialized placeholder. Updates arrive
// asynchronously through ReceiveResponses; there is no change notification,
// so consumers poll.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Controller struct {
	conn   Connection
	policy StatusPolicy
	logger Logger

	cache    atomic.Pointer[cache]
	register sync.Once

	updates atomic.Uint64
	dropped atomic.Uint64
}

// NewController creates a disconnected controller over conn, with every
// declared device seeded as uninitialized.
func NewController(conn Connection, opts ControllerOptions) *Controller {
	c := &Controller{
		conn:   conn,
		policy: opts.StatusPolicy,
		logger: orNoop(opts.Logger),
	}
	c.cache.Store(newSeededCache())
	return c
}

// Connect resets the cache, registers the controller as the connection's
// response listener and opens the connection.
//
// The cache is replaced before the connection opens so no response from
// the new session can be lost to the reset. The listener is registered once
// per controller however often Connect is called.
func (c *Controller) Connect() error {
	c.cache.Store(newSeededCache())
	c.register.Do(func() { c.conn.AddListener(c) })

	if err := c.conn.Connect(); err != nil {
		c.logger.Error("table connect failed", "error", err)
		return err
	}
	c.logger.Info("table connected", "status_policy", c.policy.String())
	return nil
}

// Disconnect closes the connection. Cached values are kept.
func (c *Controller) Disconnect() {
	c.conn.Disconnect()
	c.logger.Info("table disconnected")
}

// IsConnected reports the connection state.
func (c *Controller) IsConnected() bool {
	return c.conn.IsConnected()
}

// SendRequest forwards req to the table. While disconnected it does nothing;
// the cache simply keeps its last value.
func (c *Controller) SendRequest(req Request) {
	if !c.conn.IsConnected() {
		c.logger.Debug("request ignored while disconnected", "request", req.String())
		return
	}
	c.conn.SendRequest(req)
}

// CurrentValue returns the cached response for d. It never blocks on I/O
// and never returns an empty value: undeclared devices get an
// uninitialized placeholder.
func (c *Controller) CurrentValue(d Device) Response {
	if r, ok := c.cache.Load().get(d); ok {
		return r
	}
	return Uninitialized(d)
}

// CurrentValues returns the cached response of every declared device, in
// device code order.
func (c *Controller) CurrentValues() []Response {
	snapshot := c.cache.Load()
	out := make([]Response, 0, len(declared))
	for _, d := range declared {
		r, ok := snapshot.get(d)
		if !ok {
			r = Uninitialized(d)
		}
		out = append(out, r)
	}
	return out
}

// ReceiveResponses applies a batch from the connection. Each response for a
// declared device replaces that device's entry wholesale; last write wins.
// Responses for other devices are dropped.
func (c *Controller) ReceiveResponses(responses []Response) {
	snapshot := c.cache.Load()
	for _, r := range responses {
		if !r.Device.Valid() {
			c.dropped.Add(1)
			c.logger.Warn("response for undeclared device dropped", "device", int(r.Device), "status", string(r.Status))
			continue
		}
		if c.policy == StatusForceOK {
			r.Status = StatusOK
		}
		snapshot.put(r)
		c.updates.Add(1)
		c.logger.Debug("cache updated", "response", r.String())
	}
}

// Stats returns a snapshot of controller counters.
func (c *Controller) Stats() ControllerStats {
	return ControllerStats{
		Updates:   c.updates.Load(),
		Dropped:   c.dropped.Load(),
		Connected: c.IsConnected(),
	}
}
