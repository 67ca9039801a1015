package table

import (
	"testing"
	"time"

	"github.com/nerrad567/geomodel-core/internal/wire"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestSimulator() (*Simulator, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewSimulator(SimulatorOptions{Clock: clock.Now}), clock
}

func TestSimulator_LinearMotion(t *testing.T) {
	sim, clock := newTestSimulator()

	resp := sim.Apply(NewSet(Pitch, 2.0, 4))
	want := Response{Device: Pitch, Status: StatusOK, Value: 0, Seconds: 4}
	if resp != want {
		t.Fatalf("SET = %+v, want %+v", resp, want)
	}

	clock.Advance(2 * time.Second)
	resp = sim.Apply(NewGet(Pitch))
	want = Response{Device: Pitch, Status: StatusOK, Value: 1.0, Seconds: 2}
	if resp != want {
		t.Errorf("GET mid-move = %+v, want %+v", resp, want)
	}

	clock.Advance(10 * time.Second)
	if got := sim.Position(Pitch); got != 2.0 {
		t.Errorf("Position after move = %v, want 2", got)
	}
}

func TestSimulator_StopFreezes(t *testing.T) {
	sim, clock := newTestSimulator()
	sim.Apply(NewSet(UpPipe, 80, 8))

	clock.Advance(4 * time.Second)
	resp := sim.Apply(NewStop(UpPipe))
	if resp.Status != StatusOK || resp.Value != 40 {
		t.Errorf("STOP = %+v, want OK at 40", resp)
	}

	clock.Advance(10 * time.Second)
	if got := sim.Position(UpPipe); got != 40 {
		t.Errorf("Position after stop = %v, want 40", got)
	}
}

func TestSimulator_StopAll(t *testing.T) {
	sim, clock := newTestSimulator()
	sim.Apply(NewSet(Pump, 400, 4))
	sim.Apply(NewSet(Roll, -2, 4))

	clock.Advance(2 * time.Second)
	if resp := sim.Apply(NewStop(Unknown)); resp.Status != StatusOK || resp.Device != Unknown {
		t.Errorf("STOP all = %+v", resp)
	}

	clock.Advance(time.Minute)
	if got := sim.Position(Pump); got != 200 {
		t.Errorf("Pump = %v, want 200", got)
	}
	if got := sim.Position(Roll); got != -1 {
		t.Errorf("Roll = %v, want -1", got)
	}
}

func TestSimulator_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"out of range", NewSet(Pitch, 9, 1)},
		{"set unknown", NewSet(Unknown, 0, 1)},
		{"bad verb", Request{Verb: "RESET", Device: Pitch}},
		{"get all", NewGet(Unknown)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, _ := newTestSimulator()
			if resp := sim.Apply(tt.req); resp.Status != StatusBadParam {
				t.Errorf("Apply(%v) = %+v, want BADPARAM", tt.req, resp)
			}
		})
	}
}

func TestSimulator_HandleRequest(t *testing.T) {
	sim, _ := newTestSimulator()

	reply := sim.HandleRequest(wire.FromString("100 4 SET 500.00 0"))
	_, resp, err := TextCodec{}.DecodeResponse(reply)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	want := Response{Device: Pump, Status: StatusOK, Value: 500, Seconds: 0}
	if resp != want {
		t.Errorf("reply = %+v, want %+v", resp, want)
	}

	reply = sim.HandleRequest(wire.FromString("garbage"))
	_, resp, err = TextCodec{}.DecodeResponse(reply)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if resp.Device != Unknown || resp.Status != StatusFailed {
		t.Errorf("reply to garbage = %+v, want Unknown FAILED", resp)
	}
}
