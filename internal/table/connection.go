package table

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/geomodel-core/internal/infrastructure/config"
)

// Connection carries requests to the table and responses back.
//
// SendRequest is best effort and must not block on the network beyond a
// single transmit. Listeners may be added before or after Connect; each
// listener is called on the transport's receive goroutine.
type Connection interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	SendRequest(req Request)
	AddListener(l ResponseListener)
}

// ResponseListener consumes batches of decoded responses.
type ResponseListener interface {
	ReceiveResponses(responses []Response)
}

// ResponseListenerFunc adapts a function to ResponseListener.
type ResponseListenerFunc func(responses []Response)

// ReceiveResponses calls f(responses).
func (f ResponseListenerFunc) ReceiveResponses(responses []Response) { f(responses) }

// Logger is the logging surface used across the table package.
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

func orNoop(l Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return l
}

// firstSequence is where request numbering starts. The firmware treats
// anything below 100 as console-originated.
const firstSequence = 100

// sequencer numbers outbound requests and remembers the last sequence
// number the table sent.
type sequencer struct {
	sent   atomic.Uint32
	lastRx atomic.Uint32
}

func (s *sequencer) nextSeq() uint32 {
	return firstSequence + s.sent.Add(1) - 1
}

func (s *sequencer) observe(seq uint32) {
	s.lastRx.Store(seq)
}

// LastTableSequence returns the sequence number of the latest response.
func (s *sequencer) LastTableSequence() uint32 {
	return s.lastRx.Load()
}

// listenerSet fans a response batch out to registered listeners.
type listenerSet struct {
	mu        sync.RWMutex
	listeners []ResponseListener
}

func (s *listenerSet) add(l ResponseListener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *listenerSet) deliver(logger Logger, responses []Response) {
	s.mu.RLock()
	listeners := make([]ResponseListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("response listener panicked", "panic", fmt.Sprint(r))
				}
			}()
			l.ReceiveResponses(responses)
		}()
	}
}

// NewConnection builds the transport named by cfg.Transport with the codec
// named by cfg.Codec.
//
// Parameters:
//   - cfg: Table section of config.yaml
//   - logger: Optional logger, nil for silence
//
// Returns:
//   - Connection: Disconnected transport ready for a Controller
//   - error: ErrUnknownCodec or ErrUnknownTransport
func NewConnection(cfg config.TableConfig, logger Logger) (Connection, error) {
	codec, err := NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	switch cfg.Transport {
	case config.TransportUDP:
		return NewUDPConnection(UDPOptions{
			Host:        cfg.UDP.Host,
			Port:        cfg.UDP.Port,
			IdleTimeout: cfg.UDP.IdleTimeout,
			Codec:       codec,
			Logger:      logger,
		}), nil
	case config.TransportSerial:
		return NewSerialConnection(SerialOptions{
			Port:        cfg.Serial.Port,
			Baud:        cfg.Serial.Baud,
			ReadTimeout: cfg.Serial.ReadTimeout,
			Codec:       codec,
			Logger:      logger,
		}), nil
	case config.TransportLoopback:
		return NewLoopbackConnection(LoopbackOptions{
			Codec:  codec,
			Echo:   cfg.Loopback.Echo,
			Logger: logger,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
	}
}
