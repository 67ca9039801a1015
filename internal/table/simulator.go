package table

import (
	"math"
	"sync"
	"time"

	"github.com/nerrad567/geomodel-core/internal/wire"
)

// actuator models one device moving linearly to a target.
type actuator struct {
	from, to float64
	start    time.Time
	duration time.Duration
}

func (a actuator) position(now time.Time) float64 {
	if a.duration <= 0 || !now.Before(a.start.Add(a.duration)) {
		return a.to
	}
	elapsed := now.Sub(a.start)
	if elapsed <= 0 {
		return a.from
	}
	frac := float64(elapsed) / float64(a.duration)
	return a.from + (a.to-a.from)*frac
}

func (a actuator) remaining(now time.Time) int {
	left := a.start.Add(a.duration).Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

// SimulatorOptions configures a Simulator.
type SimulatorOptions struct {
	Codec  Codec
	Clock  func() time.Time
	Logger Logger
}

// Simulator behaves like the table firmware with no driver hardware
// attached: SET moves a device linearly to its target over the requested
// seconds, GET reports where it is, STOP freezes it.
//
// It implements udp.Handler, so it can sit behind a udp.Server.
type Simulator struct {
	codec  Codec
	now    func() time.Time
	logger Logger

	mu        sync.Mutex
	actuators map[Device]actuator
	seq       uint32
}

// NewSimulator creates a simulator with every device at its range minimum,
// or zero when zero is inside the range.
func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.Codec == nil {
		opts.Codec = TextCodec{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	s := &Simulator{
		codec:     opts.Codec,
		now:       opts.Clock,
		logger:    orNoop(opts.Logger),
		actuators: make(map[Device]actuator, len(declared)),
	}
	for _, d := range declared {
		rest := d.Range().Clamp(0)
		s.actuators[d] = actuator{from: rest, to: rest}
	}
	return s
}

// HandleRequest decodes one request and returns exactly one encoded reply.
func (s *Simulator) HandleRequest(msg wire.Message) wire.Message {
	_, req, err := s.codec.DecodeRequest(msg)
	if err != nil {
		s.logger.Warn("undecodable request", "bytes", msg.Len(), "error", err)
		return s.encode(Response{Device: Unknown, Status: StatusFailed})
	}
	return s.encode(s.Apply(req))
}

// Apply executes req against the simulated actuators.
func (s *Simulator) Apply(req Request) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if err := req.Validate(); err != nil {
		s.logger.Info("request rejected", "request", req.String(), "error", err)
		resp := Response{Device: req.Device, Status: StatusBadParam}
		if a, ok := s.actuators[req.Device]; ok {
			resp.Value = a.position(now)
		}
		return resp
	}

	switch req.Verb {
	case VerbSet:
		a := s.actuators[req.Device]
		next := actuator{
			from:     a.position(now),
			to:       req.Value,
			start:    now,
			duration: time.Duration(req.Seconds) * time.Second,
		}
		s.actuators[req.Device] = next
		s.logger.Debug("actuator moving", "device", req.Device.String(), "from", next.from, "to", next.to, "seconds", req.Seconds)
		return Response{Device: req.Device, Status: StatusOK, Value: next.position(now), Seconds: next.remaining(now)}

	case VerbStop:
		if req.Device == Unknown {
			for d, a := range s.actuators {
				s.actuators[d] = s.freeze(a, now)
			}
			return Response{Device: Unknown, Status: StatusOK}
		}
		a := s.freeze(s.actuators[req.Device], now)
		s.actuators[req.Device] = a
		return Response{Device: req.Device, Status: StatusOK, Value: a.to}

	default: // VerbGet
		if req.Device == Unknown {
			// One reply per request cannot carry every device.
			return Response{Device: Unknown, Status: StatusBadParam}
		}
		a := s.actuators[req.Device]
		return Response{Device: req.Device, Status: StatusOK, Value: a.position(now), Seconds: a.remaining(now)}
	}
}

// Position returns the simulated position of d.
func (s *Simulator) Position(d Device) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actuators[d].position(s.now())
}

func (s *Simulator) freeze(a actuator, now time.Time) actuator {
	p := a.position(now)
	return actuator{from: p, to: p}
}

func (s *Simulator) encode(resp Response) wire.Message {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	msg, err := s.codec.EncodeResponse(seq, resp)
	if err != nil {
		s.logger.Error("cannot encode response", "response", resp.String(), "error", err)
		msg, _ = TextCodec{}.EncodeResponse(seq, Response{Device: resp.Device, Status: StatusFailed}) //nolint:errcheck // fixed status cannot fail
	}
	return msg
}
