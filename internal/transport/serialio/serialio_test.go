package serialio

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/geomodel-core/internal/wire"
)

// fakePort feeds queued chunks to Read and records writes.
type fakePort struct {
	mu       sync.Mutex
	written  bytes.Buffer
	incoming chan []byte
	closed   chan struct{}
	once     sync.Once
	timeout  time.Duration
}

func newFakePort() *fakePort {
	return &fakePort{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case chunk := <-p.incoming:
		return copy(b, chunk), nil
	case <-p.closed:
		return 0, io.EOF
	case <-time.After(20 * time.Millisecond):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *fakePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written.Bytes()...)
}

func openFake(t *testing.T, port *fakePort) (*Link, <-chan wire.Message) {
	t.Helper()
	frames := make(chan wire.Message, 16)
	link, err := Open(Config{
		Name:   "fake0",
		Opener: func(string, int) (Port, error) { return port, nil },
	}, func(frame wire.Message) { frames <- frame })
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { link.Close() }) //nolint:errcheck // test cleanup
	return link, frames
}

func nextFrame(t *testing.T, frames <-chan wire.Message) string {
	t.Helper()
	select {
	case f := <-frames:
		return f.String()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

func TestOpen_Defaults(t *testing.T) {
	port := newFakePort()
	var gotBaud int
	link, err := Open(Config{
		Name: "fake0",
		Opener: func(_ string, baud int) (Port, error) {
			gotBaud = baud
			return port, nil
		},
	}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer link.Close() //nolint:errcheck // test cleanup

	if gotBaud != DefaultBaud {
		t.Errorf("baud = %d, want %d", gotBaud, DefaultBaud)
	}
	if port.timeout != DefaultReadTimeout {
		t.Errorf("read timeout = %v, want %v", port.timeout, DefaultReadTimeout)
	}
}

func TestOpen_Failure(t *testing.T) {
	_, err := Open(Config{
		Name:   "/dev/missing",
		Opener: func(string, int) (Port, error) { return nil, errors.New("no such device") },
	}, nil)
	if !errors.Is(err, ErrOpenFailed) {
		t.Errorf("Open() error = %v, want ErrOpenFailed", err)
	}
}

func TestWriteFrame_AppendsEOM(t *testing.T) {
	port := newFakePort()
	link, _ := openFake(t, port)

	if err := link.WriteFrame(wire.FromString("100 0 GET 0.00 0")); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	want := append([]byte("100 0 GET 0.00 0"), EOM)
	if got := port.Written(); !bytes.Equal(got, want) {
		t.Errorf("written = %q, want %q", got, want)
	}
	if link.Stats().FramesTx != 1 {
		t.Errorf("FramesTx = %d, want 1", link.Stats().FramesTx)
	}
}

func TestWriteFrame_StuffsReservedBytes(t *testing.T) {
	port := newFakePort()
	link, _ := openFake(t, port)

	payload := []byte{0x08, EOM, 0x01, ESC, 0x10}
	if err := link.WriteFrame(wire.NewMessage(payload, len(payload))); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	want := []byte{0x08, ESC, EOM ^ stuffMask, 0x01, ESC, ESC ^ stuffMask, 0x10, EOM}
	if got := port.Written(); !bytes.Equal(got, want) {
		t.Errorf("written = % x, want % x", got, want)
	}
}

func TestReadLoop_UnstuffsFrames(t *testing.T) {
	port := newFakePort()
	link, frames := openFake(t, port)

	// Escape split across reads, then a frame cut off mid-escape.
	port.incoming <- []byte{0x18, ESC}
	port.incoming <- []byte{EOM ^ stuffMask, 0x01, ESC, ESC ^ stuffMask, EOM}
	port.incoming <- []byte{0x02, ESC, EOM}
	port.incoming <- []byte("11 0 OK 1.00 0\xff")

	if got := nextFrame(t, frames); got != string([]byte{0x18, EOM, 0x01, ESC}) {
		t.Errorf("frame = % x", got)
	}
	if got := nextFrame(t, frames); got != "11 0 OK 1.00 0" {
		t.Errorf("frame after broken escape = %q", got)
	}
	if link.Stats().Discarded != 1 {
		t.Errorf("Discarded = %d, want 1", link.Stats().Discarded)
	}
}

func TestReadLoop_SplitsFrames(t *testing.T) {
	port := newFakePort()
	_, frames := openFake(t, port)

	// One frame split across reads, then two frames in one read.
	port.incoming <- []byte("7 0 OK ")
	port.incoming <- []byte("1.50 3\xff")
	port.incoming <- []byte("8 1 OK -0.50 0\xff9 4 BADPARAM 0.00 0\xff")

	want := []string{"7 0 OK 1.50 3", "8 1 OK -0.50 0", "9 4 BADPARAM 0.00 0"}
	for _, w := range want {
		if got := nextFrame(t, frames); got != w {
			t.Errorf("frame = %q, want %q", got, w)
		}
	}
}

func TestReadLoop_DiscardsOversizedFrame(t *testing.T) {
	port := newFakePort()
	link, frames := openFake(t, port)

	big := bytes.Repeat([]byte{'x'}, 60)
	for range wire.MaxDatagramSize/len(big) + 1 {
		port.incoming <- big
	}
	port.incoming <- []byte{EOM}
	port.incoming <- []byte("10 2 OK 50.00 0\xff")

	if got := nextFrame(t, frames); got != "10 2 OK 50.00 0" {
		t.Errorf("frame after oversize = %q", got)
	}
	if link.Stats().Discarded != 1 {
		t.Errorf("Discarded = %d, want 1", link.Stats().Discarded)
	}
}

func TestClose(t *testing.T) {
	port := newFakePort()
	link, _ := openFake(t, port)

	if err := link.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := link.WriteFrame(wire.FromString("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteFrame after Close error = %v, want ErrClosed", err)
	}
}
