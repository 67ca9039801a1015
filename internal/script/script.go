package script

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/geomodel-core/internal/table"
)

// Script is a timed sequence of table requests.
//
//	name: flood-event
//	loop: true
//	period: 10m
//	steps:
//	  - at: 0s
//	    device: pump
//	    command: SET
//	    value: 300
//	    seconds: 10
//	  - at: 2m30s
//	    device: pitch
//	    command: SET
//	    value: 1.5
//	    seconds: 30
type Script struct {
	Name string `yaml:"name" json:"name"`

	// Loop restarts the script every Period.
	Loop   bool          `yaml:"loop" json:"loop"`
	Period time.Duration `yaml:"period" json:"period"`

	Steps []Step `yaml:"steps" json:"steps"`
}

// Step is one request sent At a point in script time.
type Step struct {
	At      time.Duration `yaml:"at" json:"at"`
	Device  table.Device  `yaml:"device" json:"device"`
	Command string        `yaml:"command" json:"command"`
	Value   float64       `yaml:"value" json:"value"`
	Seconds int           `yaml:"seconds" json:"seconds"`
}

// Request converts the step into a table request.
func (s Step) Request() table.Request {
	return table.Request{
		Verb:    table.ParseVerb(s.Command),
		Device:  s.Device,
		Value:   s.Value,
		Seconds: s.Seconds,
	}
}

// Load reads and validates a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path) //nolint:gosec // script path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("reading script %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML script. Steps are sorted by time.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate sorts the steps and checks each one against the device ranges.
func (s *Script) Validate() error {
	var errs []error

	if len(s.Steps) == 0 {
		errs = append(errs, errors.New("no steps"))
	}

	sort.SliceStable(s.Steps, func(i, j int) bool { return s.Steps[i].At < s.Steps[j].At })

	for i, step := range s.Steps {
		if step.At < 0 {
			errs = append(errs, fmt.Errorf("step %d: negative time %s", i, step.At))
		}
		if err := step.Request().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d: %w", i, err))
		}
	}

	if s.Loop {
		switch {
		case s.Period <= 0:
			errs = append(errs, errors.New("loop needs a positive period"))
		case len(s.Steps) > 0 && s.Steps[len(s.Steps)-1].At >= s.Period:
			errs = append(errs, fmt.Errorf("last step at %s is not before period %s",
				s.Steps[len(s.Steps)-1].At, s.Period))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidScript, s.Name, errors.Join(errs...))
	}
	return nil
}

// FormatElapsed renders d as H:MM:SS.
func FormatElapsed(d time.Duration) string {
	es := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", es/3600, (es%3600)/60, es%60)
}
