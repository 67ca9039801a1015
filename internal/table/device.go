package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Device identifies one actuator on the table. Numeric values are the codes
// the table firmware uses on the wire.
type Device int

// Table devices.
const (
	Unknown  Device = -1
	Pitch    Device = 0
	Roll     Device = 1
	UpPipe   Device = 2
	DownPipe Device = 3
	Pump     Device = 4
)

// declared lists the devices the table has, in code order.
var declared = [...]Device{Pitch, Roll, UpPipe, DownPipe, Pump}

// Devices returns the declared devices in code order. Unknown is not one of them.
func Devices() []Device {
	out := make([]Device, len(declared))
	copy(out, declared[:])
	return out
}

// Range is the physical envelope of a device.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
	Unit string  `json:"unit"`
}

// rangeEpsilon absorbs the rounding of the two-decimal text encoding.
const rangeEpsilon = 1e-9

// Contains reports whether v lies within [Min, Max].
func (r Range) Contains(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	return v >= r.Min-rangeEpsilon && v <= r.Max+rangeEpsilon
}

// Clamp limits v to [Min, Max].
func (r Range) Clamp(v float64) float64 {
	return math.Max(r.Min, math.Min(r.Max, v))
}

type deviceInfo struct {
	name  string
	slug  string
	rng   Range
	alias []string
}

var deviceTable = map[Device]deviceInfo{
	Pitch:    {"Pitch", "pitch", Range{0, 4, 0.1, "degrees"}, nil},
	Roll:     {"Roll", "roll", Range{-3, 3, 0.1, "degrees"}, nil},
	UpPipe:   {"Upper", "uppipe", Range{0, 100, 1, "mm"}, []string{"upper", "up_pipe", "up-pipe"}},
	DownPipe: {"Lower", "downpipe", Range{0, 100, 1, "mm"}, []string{"lower", "down_pipe", "down-pipe"}},
	Pump:     {"Pump", "pump", Range{0, 900, 10, "mL/s"}, nil},
	Unknown:  {"Unknown", "unknown", Range{-1, 1, 0.1, "?"}, nil},
}

// Valid reports whether d is a declared device.
func (d Device) Valid() bool {
	return d >= Pitch && d <= Pump
}

// Code returns the wire code.
func (d Device) Code() int {
	return int(d)
}

// String returns the display name used on the table console.
func (d Device) String() string {
	if info, ok := deviceTable[d]; ok {
		return info.name
	}
	return "Device(" + strconv.Itoa(int(d)) + ")"
}

// Slug returns the lowercase identifier used in topics, URLs and JSON.
func (d Device) Slug() string {
	if info, ok := deviceTable[d]; ok {
		return info.slug
	}
	return strconv.Itoa(int(d))
}

// Range returns the device envelope. Undeclared devices get the Unknown range.
func (d Device) Range() Range {
	if info, ok := deviceTable[d]; ok {
		return info.rng
	}
	return deviceTable[Unknown].rng
}

// ParseDevice accepts a slug, display name, alias or numeric code,
// case-insensitively.
func ParseDevice(s string) (Device, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return Unknown, fmt.Errorf("%w: empty name", ErrUnknownDevice)
	}

	if code, err := strconv.Atoi(key); err == nil {
		d := Device(code)
		if !d.Valid() {
			return Unknown, fmt.Errorf("%w: code %d", ErrUnknownDevice, code)
		}
		return d, nil
	}

	for _, d := range declared {
		info := deviceTable[d]
		if key == info.slug || key == strings.ToLower(info.name) {
			return d, nil
		}
		for _, a := range info.alias {
			if key == a {
				return d, nil
			}
		}
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnknownDevice, s)
}

// MarshalText encodes the device as its slug.
func (d Device) MarshalText() ([]byte, error) {
	return []byte(d.Slug()), nil
}

// UnmarshalText decodes a slug, name, alias or code. "unknown" decodes to
// Unknown so optional targets round-trip.
func (d *Device) UnmarshalText(text []byte) error {
	if strings.EqualFold(string(text), "unknown") {
		*d = Unknown
		return nil
	}
	parsed, err := ParseDevice(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
