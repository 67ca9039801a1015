package serialio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/nerrad567/geomodel-core/internal/wire"
)

// EOM terminates every frame on the serial link.
const EOM byte = 0xFF

// ESC marks a stuffed byte. An EOM or ESC inside a frame goes out as ESC
// followed by the byte XOR stuffMask. Text frames are plain ASCII, so they
// cross the link unchanged.
const (
	ESC       byte = 0xFE
	stuffMask byte = 0x20
)

const (
	// DefaultBaud matches the table firmware.
	DefaultBaud = 9600

	// DefaultReadTimeout bounds each Read so the loop can notice Close.
	DefaultReadTimeout = time.Second
)

// Errors returned by the serial link.
var (
	ErrOpenFailed  = errors.New("serialio: cannot open port")
	ErrClosed      = errors.New("serialio: link closed")
	ErrFrameTooBig = errors.New("serialio: frame exceeds maximum size")
)

// Port is the subset of serial.Port the link uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a named port. The default wraps serial.Open with 8N1 framing.
type Opener func(name string, baud int) (Port, error)

// FrameHandler receives each complete frame, without the EOM byte.
type FrameHandler func(frame wire.Message)

// Logger is the logging surface used by the link.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config describes the port to open.
type Config struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration
	Opener      Opener
	Logger      Logger
}

func openSerial(name string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// Stats is a snapshot of link counters.
type Stats struct {
	FramesTx  uint64
	FramesRx  uint64
	Discarded uint64
}

// Link is an open, EOM-framed serial connection with a background reader.
type Link struct {
	port    Port
	handler FrameHandler
	logger  Logger
	name    string

	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	framesTx  atomic.Uint64
	framesRx  atomic.Uint64
	discarded atomic.Uint64
}

// Open opens the port and starts reading frames into handler.
//
// Parameters:
//   - cfg: Port name, baud rate, read timeout and optional opener/logger
//   - handler: Called on the reader goroutine for each complete frame
//
// Returns:
//   - *Link: Running link; call Close to release the port
//   - error: ErrOpenFailed wrapping the driver error
func Open(cfg Config, handler FrameHandler) (*Link, error) {
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Opener == nil {
		cfg.Opener = openSerial
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	port, err := cfg.Opener(cfg.Name, cfg.Baud)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, cfg.Name, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close() //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("%w: %s: set read timeout: %w", ErrOpenFailed, cfg.Name, err)
	}

	l := &Link{
		port:    port,
		handler: handler,
		logger:  cfg.Logger,
		name:    cfg.Name,
		done:    make(chan struct{}),
	}

	l.wg.Add(1)
	go l.readLoop()

	return l, nil
}

// WriteFrame writes msg, stuffed, followed by EOM.
func (l *Link) WriteFrame(msg wire.Message) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if msg.Len() > wire.MaxDatagramSize {
		return ErrFrameTooBig
	}

	frame := AppendFrame(make([]byte, 0, msg.Len()+8), msg.Bytes())

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if _, err := l.port.Write(frame); err != nil {
		return fmt.Errorf("serialio: write %s: %w", l.name, err)
	}
	l.framesTx.Add(1)
	return nil
}

// Close stops the reader and closes the port. Safe to call repeatedly.
func (l *Link) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(l.done)
	err := l.port.Close()
	l.wg.Wait()
	return err
}

// Stats returns a snapshot of link counters.
func (l *Link) Stats() Stats {
	return Stats{
		FramesTx:  l.framesTx.Load(),
		FramesRx:  l.framesRx.Load(),
		Discarded: l.discarded.Load(),
	}
}

func (l *Link) readLoop() {
	defer l.wg.Done()

	var (
		buf     = make([]byte, 64)
		frame   = make([]byte, 0, wire.MaxDatagramSize)
		skip    bool
		escaped bool
	)

	for {
		n, err := l.port.Read(buf)

		select {
		case <-l.done:
			return
		default:
		}

		// go.bug.st/serial reports a read timeout as (0, nil).
		if err != nil {
			if errors.Is(err, io.EOF) {
				l.logger.Warn("serial port closed by peer", "port", l.name)
			} else {
				l.logger.Error("serial read failed", "port", l.name, "error", err)
			}
			return
		}

		for _, b := range buf[:n] {
			if b == EOM {
				switch {
				case skip:
					skip = false
				case escaped:
					l.discarded.Add(1)
					l.logger.Warn("serial frame ends inside escape, discarded", "port", l.name)
				default:
					l.emit(frame)
				}
				frame = frame[:0]
				escaped = false
				continue
			}
			if skip {
				continue
			}
			if escaped {
				b ^= stuffMask
				escaped = false
			} else if b == ESC {
				escaped = true
				continue
			}
			if len(frame) == wire.MaxDatagramSize {
				l.discarded.Add(1)
				l.logger.Warn("oversized serial frame discarded", "port", l.name)
				frame = frame[:0]
				skip = true
				continue
			}
			frame = append(frame, b)
		}
	}
}

func (l *Link) emit(frame []byte) {
	l.framesRx.Add(1)
	msg := wire.NewMessage(frame, len(frame))
	l.logger.Debug("serial frame received", "port", l.name, "bytes", msg.Len())

	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("frame handler panicked", "panic", fmt.Sprint(r))
		}
	}()
	if l.handler != nil {
		l.handler(msg)
	}
}

// AppendFrame appends p to dst as it travels on the link: every EOM and
// ESC stuffed, then a closing EOM.
func AppendFrame(dst, p []byte) []byte {
	for _, b := range p {
		if b == EOM || b == ESC {
			dst = append(dst, ESC, b^stuffMask)
			continue
		}
		dst = append(dst, b)
	}
	return append(dst, EOM)
}
