package table

import (
	"fmt"
	"strings"
)

// Verb is a request command understood by the table.
type Verb string

// Request verbs.
const (
	VerbSet  Verb = "SET"
	VerbGet  Verb = "GET"
	VerbStop Verb = "STOP"
)

// ParseVerb normalises a verb token. It does not reject unknown verbs;
// Request.Validate does.
func ParseVerb(s string) Verb {
	return Verb(strings.ToUpper(strings.TrimSpace(s)))
}

// Valid reports whether v is SET, GET or STOP.
func (v Verb) Valid() bool {
	switch v {
	case VerbSet, VerbGet, VerbStop:
		return true
	default:
		return false
	}
}

// Status is the outcome the table reports for a device.
type Status string

// Response statuses. StatusUninitialized is never sent by the table; the
// controller seeds its cache with it.
const (
	StatusOK            Status = "OK"
	StatusBadParam      Status = "BADPARAM"
	StatusFailed        Status = "FAILED"
	StatusTimeout       Status = "TIMEOUT"
	StatusUninitialized Status = "uninitialized"
)

// Request is a command for one device, or for the whole table when Device
// is Unknown (GET and STOP only).
//
// Seconds is the time the table should take to reach Value.
type Request struct {
	Verb    Verb    `json:"verb"`
	Device  Device  `json:"device"`
	Value   float64 `json:"value"`
	Seconds int     `json:"seconds"`
}

// NewSet builds a SET request.
func NewSet(d Device, value float64, seconds int) Request {
	return Request{Verb: VerbSet, Device: d, Value: value, Seconds: seconds}
}

// NewGet builds a GET request. Pass Unknown to query every device.
func NewGet(d Device) Request {
	return Request{Verb: VerbGet, Device: d}
}

// NewStop builds a STOP request. Pass Unknown to stop every device.
func NewStop(d Device) Request {
	return Request{Verb: VerbStop, Device: d}
}

// Validate checks the verb, the target device and, for SET, that the value
// is inside the device range.
func (r Request) Validate() error {
	if !r.Verb.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidVerb, string(r.Verb))
	}
	if r.Seconds < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSeconds, r.Seconds)
	}

	if r.Verb != VerbSet {
		if r.Device != Unknown && !r.Device.Valid() {
			return fmt.Errorf("%w: code %d", ErrUnknownDevice, int(r.Device))
		}
		return nil
	}

	if !r.Device.Valid() {
		return fmt.Errorf("%w: SET needs a target, got code %d", ErrUnknownDevice, int(r.Device))
	}
	rng := r.Device.Range()
	if !rng.Contains(r.Value) {
		return fmt.Errorf("%w: %s %.2f outside [%g, %g] %s",
			ErrOutOfRange, r.Device, r.Value, rng.Min, rng.Max, rng.Unit)
	}
	return nil
}

// String renders the request for logs.
func (r Request) String() string {
	return fmt.Sprintf("%s %s %.2f in %ds", r.Verb, r.Device, r.Value, r.Seconds)
}

// Response is the state the table reports for one device.
type Response struct {
	Device  Device  `json:"device"`
	Status  Status  `json:"status"`
	Value   float64 `json:"value"`
	Seconds int     `json:"seconds"`
}

// Uninitialized returns the placeholder cached for a device before the
// table has said anything about it.
func Uninitialized(d Device) Response {
	return Response{Device: d, Status: StatusUninitialized}
}

// String renders the response for logs.
func (r Response) String() string {
	return fmt.Sprintf("%s %s %.2f %ds", r.Device, r.Status, r.Value, r.Seconds)
}
