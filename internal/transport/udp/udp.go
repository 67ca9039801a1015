package udp

import (
	"errors"
	"net"
	"sync"
	"time"
)

// DefaultIdleTimeout bounds each blocking receive so the loops wake up
// periodically even when the table is silent.
const DefaultIdleTimeout = 10 * time.Second

// Logger is the logging surface used by the client and server.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

func (c *closeOnce) closed() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// isTimeout reports whether err is the idle deadline expiring.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// network picks udp4 for IPv4 peers so the local socket family matches.
func network(ip net.IP) string {
	if ip == nil || ip.To4() != nil {
		return "udp4"
	}
	return "udp6"
}
