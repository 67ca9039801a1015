package script

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/geomodel-core/internal/table"
)

// DefaultTickInterval is how often a running script checks for due steps.
const DefaultTickInterval = 100 * time.Millisecond

// State is the runner lifecycle state.
type State string

// Runner states.
const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateFinished State = "finished"
)

// RequestSender receives the requests a script produces.
// *table.Controller satisfies it.
type RequestSender interface {
	SendRequest(req table.Request)
}

// Logger is the logging interface used by the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Options configures a Runner.
type Options struct {
	TickInterval time.Duration
	Clock        func() time.Time
	Logger       Logger
}

// Status is a snapshot of the runner.
type Status struct {
	Script      string        `json:"script"`
	State       State         `json:"state"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	ElapsedText string        `json:"elapsed"`
	NextStep    int           `json:"next_step"`
	Steps       int           `json:"steps"`
	Sent        int           `json:"sent"`
	Loops       int           `json:"loops"`
}

// Runner plays a Script against a RequestSender.
//
// Script time only advances while running: time spent paused is excluded
// from Elapsed, so steps keep their spacing across a pause.
type Runner struct {
	sender   RequestSender
	interval time.Duration
	now      func() time.Time
	logger   Logger

	mu       sync.Mutex
	script   *Script
	state    State
	elapsed  time.Duration
	lastTick time.Time
	next     int
	sent     int
	loops    int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates an idle runner with no script.
func NewRunner(sender RequestSender, opts Options) *Runner {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Runner{
		sender:   sender,
		interval: opts.TickInterval,
		now:      opts.Clock,
		logger:   opts.Logger,
		state:    StateIdle,
	}
}

// SetScript replaces the loaded script. The runner must not be running or
// paused.
func (r *Runner) SetScript(s *Script) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning || r.state == StatePaused {
		return ErrBusy
	}
	r.script = s
	r.state = StateIdle
	r.elapsed, r.next, r.sent, r.loops = 0, 0, 0, 0
	return nil
}

// Start begins playback from the top. Starting a paused runner resumes it;
// starting a running one is a no-op.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateRunning:
		return nil
	case StatePaused:
		r.resumeLocked()
		return nil
	}
	if r.script == nil {
		return ErrNoScript
	}

	r.stopLocked()
	r.elapsed, r.next, r.sent, r.loops = 0, 0, 0, 0
	r.lastTick = r.now()
	r.state = StateRunning

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.loop(ctx)

	r.logger.Info("script started", "script", r.script.Name, "steps", len(r.script.Steps))
	return nil
}

// Pause freezes script time.
func (r *Runner) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return ErrNotRunning
	}
	now := r.now()
	r.elapsed += now.Sub(r.lastTick)
	r.lastTick = now
	r.state = StatePaused
	r.logger.Info("script paused", "elapsed", FormatElapsed(r.elapsed))
	return nil
}

// Resume continues a paused script.
func (r *Runner) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return ErrNotPaused
	}
	r.resumeLocked()
	return nil
}

// Reset stops playback and rewinds to the start. The script stays loaded.
func (r *Runner) Reset() {
	r.mu.Lock()
	r.stopLocked()
	r.state = StateIdle
	r.elapsed, r.next, r.sent, r.loops = 0, 0, 0, 0
	r.mu.Unlock()
	r.wg.Wait()
	r.logger.Info("script reset")
}

// Close stops the playback goroutine.
func (r *Runner) Close() {
	r.mu.Lock()
	r.stopLocked()
	if r.state == StateRunning || r.state == StatePaused {
		r.state = StateIdle
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Status returns a snapshot of the runner.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := r.elapsed
	if r.state == StateRunning {
		elapsed += r.now().Sub(r.lastTick)
	}
	st := Status{
		State:       r.state,
		Elapsed:     elapsed,
		ElapsedText: FormatElapsed(elapsed),
		NextStep:    r.next,
		Sent:        r.sent,
		Loops:       r.loops,
	}
	if r.script != nil {
		st.Script = r.script.Name
		st.Steps = len(r.script.Steps)
	}
	return st
}

func (r *Runner) resumeLocked() {
	r.lastTick = r.now()
	r.state = StateRunning
	r.logger.Info("script resumed", "elapsed", FormatElapsed(r.elapsed))
}

func (r *Runner) stopLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.tick(r.now()) {
				return
			}
		}
	}
}

// tick advances script time to now and sends every step that came due.
// It reports whether the script has finished.
func (r *Runner) tick(now time.Time) bool {
	r.mu.Lock()
	if r.state != StateRunning || r.script == nil {
		r.lastTick = now
		r.mu.Unlock()
		return false
	}

	r.elapsed += now.Sub(r.lastTick)
	r.lastTick = now

	var due []table.Request
	steps := r.script.Steps
	for {
		for r.next < len(steps) && steps[r.next].At <= r.elapsed {
			due = append(due, steps[r.next].Request())
			r.next++
		}
		if r.next < len(steps) || !r.script.Loop || r.script.Period <= 0 || r.elapsed < r.script.Period {
			break
		}
		r.elapsed -= r.script.Period
		r.next = 0
		r.loops++
	}

	finished := r.next >= len(steps) && !r.script.Loop
	if finished {
		r.state = StateFinished
		r.stopLocked()
	}
	r.sent += len(due)
	r.mu.Unlock()

	for _, req := range due {
		r.logger.Debug("script step", "request", req.String())
		r.sender.SendRequest(req)
	}
	if finished {
		r.logger.Info("script finished")
	}
	return finished
}
