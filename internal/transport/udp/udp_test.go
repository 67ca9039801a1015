package udp

import (
	"bytes"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/geomodel-core/internal/wire"
)

const (
	testIdle    = 100 * time.Millisecond
	testTimeout = 2 * time.Second
)

var echo = HandlerFunc(func(req wire.Message) wire.Message { return req })

func startServer(t *testing.T, handler Handler) *Server {
	t.Helper()
	srv := NewServer(WithServerIdleTimeout(testIdle), WithBindHost("127.0.0.1"))
	if err := srv.Start(0, handler); err != nil {
		t.Fatalf("server Start() error = %v", err)
	}
	t.Cleanup(func() {
		srv.Stop()
		srv.Wait()
	})
	return srv
}

func chanListener() (Listener, <-chan wire.Message) {
	ch := make(chan wire.Message, 16)
	return ListenerFunc(func(msg wire.Message) { ch <- msg }), ch
}

func startClient(t *testing.T, port int, listener Listener) *Client {
	t.Helper()
	client := NewClient(WithIdleTimeout(testIdle))
	if err := client.Start("127.0.0.1", port, listener); err != nil {
		t.Fatalf("client Start() error = %v", err)
	}
	t.Cleanup(client.Stop)
	return client
}

func receive(t *testing.T, ch <-chan wire.Message) wire.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for datagram")
		return wire.Message{}
	}
}

func TestEchoRoundTrip(t *testing.T) {
	srv := startServer(t, echo)
	listener, ch := chanListener()
	client := startClient(t, srv.Addr().Port, listener)

	payload := []byte{0x01, 0x02, 0x03, 0x04}
	client.Send(wire.NewMessage(payload, len(payload)))

	got := receive(t, ch)
	if !bytes.Equal(got.Bytes(), payload) {
		t.Errorf("received %x, want %x", got.Bytes(), payload)
	}

	stats := client.Stats()
	if stats.Sent != 1 || stats.Received != 1 {
		t.Errorf("client stats = %+v, want 1 sent and 1 received", stats)
	}
	if s := srv.Stats(); s.Requests != 1 || s.Replies != 1 {
		t.Errorf("server stats = %+v, want 1 request and 1 reply", s)
	}
}

func TestServer_ReplyGoesToOrigin(t *testing.T) {
	srv := startServer(t, echo)
	port := srv.Addr().Port

	l1, ch1 := chanListener()
	l2, ch2 := chanListener()
	c1 := startClient(t, port, l1)
	c2 := startClient(t, port, l2)

	c1.Send(wire.FromString("from-one"))
	c2.Send(wire.FromString("from-two"))

	if got := receive(t, ch1).String(); got != "from-one" {
		t.Errorf("client one got %q", got)
	}
	if got := receive(t, ch2).String(); got != "from-two" {
		t.Errorf("client two got %q", got)
	}
}

func TestServer_StartWhileRunning(t *testing.T) {
	srv := startServer(t, echo)
	addr := srv.Addr()

	err := srv.Start(0, echo)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if got := srv.Addr(); got.Port != addr.Port {
		t.Errorf("binding changed from %v to %v", addr, got)
	}
}

func TestServer_RestartAfterStop(t *testing.T) {
	srv := NewServer(WithServerIdleTimeout(testIdle), WithBindHost("127.0.0.1"))
	if err := srv.Start(0, echo); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	srv.Stop()
	srv.Stop()
	srv.Wait()

	if srv.Running() || srv.Addr() != nil {
		t.Fatal("server still reports running after Stop")
	}

	if err := srv.Start(0, echo); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	srv.Stop()
	srv.Wait()
}

func TestServer_NilHandler(t *testing.T) {
	if err := NewServer().Start(0, nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("Start(nil) error = %v, want ErrNilHandler", err)
	}
}

func TestServer_BindConflict(t *testing.T) {
	srv := startServer(t, echo)

	other := NewServer(WithBindHost("127.0.0.1"))
	err := other.Start(srv.Addr().Port, echo)
	if !errors.Is(err, ErrSocketFailed) {
		t.Errorf("Start() on taken port error = %v, want ErrSocketFailed", err)
	}
}

func TestServer_HandlerPanicStillReplies(t *testing.T) {
	srv := startServer(t, HandlerFunc(func(wire.Message) wire.Message {
		panic("bad request")
	}))
	listener, ch := chanListener()
	client := startClient(t, srv.Addr().Port, listener)

	client.Send(wire.FromString("GET"))

	if got := receive(t, ch); got.Len() != 0 {
		t.Errorf("reply = %q, want empty", got.String())
	}
	if srv.Stats().Panics != 1 {
		t.Errorf("Panics = %d, want 1", srv.Stats().Panics)
	}
}

func TestClient_StartFailures(t *testing.T) {
	c := NewClient()

	if err := c.Start("127.0.0.1", 4000, nil); !errors.Is(err, ErrNilListener) {
		t.Errorf("nil listener error = %v, want ErrNilListener", err)
	}

	listener, _ := chanListener()
	if err := c.Start("127.0.0.1", 70000, listener); !errors.Is(err, ErrResolveFailed) {
		t.Errorf("bad port error = %v, want ErrResolveFailed", err)
	}
	if c.Running() {
		t.Error("client running after failed Start")
	}
}

func TestClient_StartTwice(t *testing.T) {
	listener, _ := chanListener()
	c := startClient(t, 4000, listener)

	if err := c.Start("127.0.0.1", 4000, listener); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestClient_StopUnblocksReceive(t *testing.T) {
	listener, _ := chanListener()
	c := NewClient(WithIdleTimeout(time.Hour))
	if err := c.Start("127.0.0.1", 4000, listener); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	local := c.LocalAddr().(*net.UDPAddr)

	// Let the loop park in ReadFromUDP with a deadline far in the future.
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(testTimeout):
		t.Fatal("Stop() did not return while the loop was blocked")
	}

	if c.Running() || c.LocalAddr() != nil {
		t.Error("client still reports running after Stop")
	}

	// The socket was released: its port can be bound again.
	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		t.Fatalf("local port %d still held after Stop: %v", local.Port, err)
	}
	conn.Close()
}

func TestClient_StopIsIdempotent(t *testing.T) {
	c := NewClient()
	c.Stop()

	listener, _ := chanListener()
	if err := c.Start("127.0.0.1", 4000, listener); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	c.Stop()
	c.Stop()
}

func TestClient_SendAfterStopIsSwallowed(t *testing.T) {
	c := NewClient()
	c.Send(wire.FromString("lost"))

	if got := c.Stats().SendErrors; got != 1 {
		t.Errorf("SendErrors = %d, want 1", got)
	}
}

func TestClient_OversizedSendDropped(t *testing.T) {
	listener, _ := chanListener()
	c := startClient(t, 4000, listener)

	big := make([]byte, wire.MaxDatagramSize+1)
	c.Send(wire.NewMessage(big, len(big)))

	if s := c.Stats(); s.Sent != 0 || s.SendErrors != 1 {
		t.Errorf("stats = %+v, want oversize message counted as error", s)
	}
}

func TestClient_IdleTimeoutKeepsLooping(t *testing.T) {
	srv := startServer(t, echo)
	listener, ch := chanListener()
	c := startClient(t, srv.Addr().Port, listener)

	time.Sleep(3 * testIdle)

	if c.Stats().IdleTimeouts == 0 {
		t.Error("expected at least one idle timeout")
	}

	c.Send(wire.FromString("still alive"))
	if got := receive(t, ch).String(); got != "still alive" {
		t.Errorf("got %q after idle timeouts", got)
	}
}

func TestClient_ListenerPanicDoesNotStopLoop(t *testing.T) {
	srv := startServer(t, echo)

	var calls atomic.Int32
	got := make(chan wire.Message, 1)
	c := startClient(t, srv.Addr().Port, ListenerFunc(func(msg wire.Message) {
		if calls.Add(1) == 1 {
			panic("listener bug")
		}
		got <- msg
	}))

	c.Send(wire.FromString("first"))
	time.Sleep(50 * time.Millisecond)
	c.Send(wire.FromString("second"))

	if msg := receive(t, got); msg.String() != "second" {
		t.Errorf("got %q, want second", msg.String())
	}
}

func TestServer_OversizedReplyDropped(t *testing.T) {
	srv := startServer(t, HandlerFunc(func(req wire.Message) wire.Message {
		if req.String() == "ping" {
			big := bytes.Repeat([]byte{'x'}, 1500)
			return wire.NewMessage(big, len(big))
		}
		return req
	}))
	listener, ch := chanListener()
	c := startClient(t, srv.Addr().Port, listener)

	c.Send(wire.FromString("ping"))
	c.Send(wire.FromString("after"))

	if got := receive(t, ch).String(); got != "after" {
		t.Errorf("first datagram = %d bytes, want the reply to %q", len(got), "after")
	}

	// Replies is counted just after the write the client already saw.
	deadline := time.Now().Add(testTimeout)
	for srv.Stats().Replies == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s := srv.Stats(); s.Requests != 2 || s.Replies != 1 || s.DroppedReplies != 1 {
		t.Errorf("server stats = %+v, want 2 requests, 1 reply, 1 dropped", s)
	}
}

func TestServer_OversizedRequestDropped(t *testing.T) {
	var handled atomic.Int32
	srv := startServer(t, HandlerFunc(func(req wire.Message) wire.Message {
		handled.Add(1)
		return req
	}))

	conn, err := net.DialUDP("udp", nil, srv.Addr())
	if err != nil {
		t.Fatalf("DialUDP() error = %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(bytes.Repeat([]byte{'x'}, wire.MaxDatagramSize+1)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := conn.Write([]byte("fits")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	buf := make([]byte, 2*wire.MaxDatagramSize)
	conn.SetReadDeadline(time.Now().Add(testTimeout)) //nolint:errcheck // a failed deadline shows up as a hang
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := string(buf[:n]); got != "fits" {
		t.Errorf("reply = %d bytes, want %q", n, "fits")
	}
	if handled.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", handled.Load())
	}
	if s := srv.Stats(); s.Oversized != 1 || s.Requests != 1 {
		t.Errorf("server stats = %+v, want 1 oversized and 1 request", s)
	}
}

func TestClient_OversizedDatagramDropped(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer peer.Close()

	listener, ch := chanListener()
	c := startClient(t, peer.LocalAddr().(*net.UDPAddr).Port, listener)

	// The peer learns the client's address from its first datagram.
	c.Send(wire.FromString("hello"))
	buf := make([]byte, wire.MaxDatagramSize)
	peer.SetReadDeadline(time.Now().Add(testTimeout)) //nolint:errcheck // a failed deadline shows up as a hang
	_, from, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP() error = %v", err)
	}

	if _, err := peer.WriteToUDP(bytes.Repeat([]byte{'x'}, 1500), from); err != nil {
		t.Fatalf("WriteToUDP() error = %v", err)
	}
	if _, err := peer.WriteToUDP([]byte("fits"), from); err != nil {
		t.Fatalf("WriteToUDP() error = %v", err)
	}

	if got := receive(t, ch); got.String() != "fits" {
		t.Errorf("first datagram = %d bytes, want %q", got.Len(), "fits")
	}
	if s := c.Stats(); s.Oversized != 1 || s.Received != 1 {
		t.Errorf("client stats = %+v, want 1 oversized and 1 received", s)
	}
}

func TestClient_StopFromListener(t *testing.T) {
	srv := startServer(t, echo)

	var client atomic.Pointer[Client]
	stopped := make(chan struct{})
	c := startClient(t, srv.Addr().Port, ListenerFunc(func(wire.Message) {
		client.Load().Stop()
		close(stopped)
	}))
	client.Store(c)

	c.Send(wire.FromString("stop"))

	select {
	case <-stopped:
	case <-time.After(testTimeout):
		t.Fatal("Stop() called from the listener did not return")
	}
	if c.Running() {
		t.Error("client still running after Stop")
	}
}
