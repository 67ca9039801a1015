package script

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/geomodel-core/internal/table"
)

type recordingSender struct {
	mu       sync.Mutex
	requests []table.Request
}

func (s *recordingSender) SendRequest(req table.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testScript(loop bool, period time.Duration) *Script {
	return &Script{
		Name:   "test",
		Loop:   loop,
		Period: period,
		Steps: []Step{
			{At: 0, Device: table.Pump, Command: "SET", Value: 300, Seconds: 5},
			{At: 10 * time.Second, Device: table.Pitch, Command: "SET", Value: 1, Seconds: 5},
			{At: 20 * time.Second, Device: table.Roll, Command: "SET", Value: -1, Seconds: 5},
		},
	}
}

// newManualRunner returns a runner whose ticker never fires, so tests
// drive it by calling tick.
func newManualRunner(t *testing.T, s *Script) (*Runner, *recordingSender, *fakeClock) {
	t.Helper()
	sender := &recordingSender{}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	r := NewRunner(sender, Options{TickInterval: time.Hour, Clock: clock.Now})
	if s != nil {
		if err := r.SetScript(s); err != nil {
			t.Fatalf("SetScript() error = %v", err)
		}
	}
	t.Cleanup(r.Close)
	return r, sender, clock
}

func TestRunner_StartWithoutScript(t *testing.T) {
	r, _, _ := newManualRunner(t, nil)
	if err := r.Start(); !errors.Is(err, ErrNoScript) {
		t.Errorf("Start() error = %v, want ErrNoScript", err)
	}
}

func TestRunner_DispatchesDueSteps(t *testing.T) {
	r, sender, clock := newManualRunner(t, testScript(false, 0))
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	r.tick(clock.Now())
	if sender.count() != 1 {
		t.Fatalf("sent = %d at t=0, want 1", sender.count())
	}

	clock.Advance(15 * time.Second)
	r.tick(clock.Now())
	if sender.count() != 2 {
		t.Fatalf("sent = %d at t=15s, want 2", sender.count())
	}

	clock.Advance(5 * time.Second)
	if !r.tick(clock.Now()) {
		t.Error("tick() did not report finish after last step")
	}
	if st := r.Status(); st.State != StateFinished || st.Sent != 3 {
		t.Errorf("Status() = %+v, want finished with 3 sent", st)
	}
	if sender.requests[2].Device != table.Roll {
		t.Errorf("last request = %+v", sender.requests[2])
	}
}

func TestRunner_PauseExcludesTime(t *testing.T) {
	r, sender, clock := newManualRunner(t, testScript(false, 0))
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	r.tick(clock.Now())

	clock.Advance(5 * time.Second)
	if err := r.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	clock.Advance(time.Minute)
	r.tick(clock.Now())
	if sender.count() != 1 {
		t.Errorf("sent = %d while paused, want 1", sender.count())
	}
	if st := r.Status(); st.Elapsed != 5*time.Second || st.State != StatePaused {
		t.Errorf("Status() = %+v, want paused at 5s", st)
	}

	if err := r.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	clock.Advance(4 * time.Second)
	r.tick(clock.Now())
	if sender.count() != 1 {
		t.Errorf("sent = %d at script time 9s, want 1", sender.count())
	}
	clock.Advance(time.Second)
	r.tick(clock.Now())
	if sender.count() != 2 {
		t.Errorf("sent = %d at script time 10s, want 2", sender.count())
	}
}

func TestRunner_StartResumesPaused(t *testing.T) {
	r, _, _ := newManualRunner(t, testScript(false, 0))
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start() while paused error = %v", err)
	}
	if st := r.Status(); st.State != StateRunning {
		t.Errorf("State = %s, want running", st.State)
	}
}

func TestRunner_StateErrors(t *testing.T) {
	r, _, _ := newManualRunner(t, testScript(false, 0))
	if err := r.Pause(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Pause() idle error = %v, want ErrNotRunning", err)
	}
	if err := r.Resume(); !errors.Is(err, ErrNotPaused) {
		t.Errorf("Resume() idle error = %v, want ErrNotPaused", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.SetScript(testScript(false, 0)); !errors.Is(err, ErrBusy) {
		t.Errorf("SetScript() while running error = %v, want ErrBusy", err)
	}
}

func TestRunner_Reset(t *testing.T) {
	r, sender, clock := newManualRunner(t, testScript(false, 0))
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	clock.Advance(12 * time.Second)
	r.tick(clock.Now())

	r.Reset()
	st := r.Status()
	if st.State != StateIdle || st.Elapsed != 0 || st.NextStep != 0 || st.Script != "test" {
		t.Errorf("Status() after reset = %+v", st)
	}

	before := sender.count()
	clock.Advance(time.Minute)
	r.tick(clock.Now())
	if sender.count() != before {
		t.Error("idle runner sent requests")
	}
}

func TestRunner_Loops(t *testing.T) {
	r, sender, clock := newManualRunner(t, testScript(true, 30*time.Second))
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	clock.Advance(25 * time.Second)
	r.tick(clock.Now())
	if sender.count() != 3 {
		t.Fatalf("sent = %d in first pass, want 3", sender.count())
	}

	clock.Advance(10 * time.Second)
	if r.tick(clock.Now()) {
		t.Fatal("looping script reported finished")
	}
	st := r.Status()
	if st.Loops != 1 || st.Elapsed != 5*time.Second {
		t.Errorf("Status() = %+v, want 1 loop at 5s", st)
	}
	if sender.count() != 4 {
		t.Errorf("sent = %d after wrap, want 4", sender.count())
	}
}

func TestRunner_TickerDrivesPlayback(t *testing.T) {
	sender := &recordingSender{}
	r := NewRunner(sender, Options{TickInterval: 5 * time.Millisecond})
	t.Cleanup(r.Close)

	s := &Script{Name: "quick", Steps: []Step{{At: 0, Device: table.Pump, Command: "GET"}}}
	if err := r.SetScript(s); err != nil {
		t.Fatalf("SetScript() error = %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.Status().State != StateFinished {
		if time.Now().After(deadline) {
			t.Fatal("script did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sender.count() != 1 {
		t.Errorf("sent = %d, want 1", sender.count())
	}
}
