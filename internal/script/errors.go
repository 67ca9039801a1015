package script

import "errors"

// Domain errors for script loading and control.
var (
	// ErrInvalidScript is returned when a script fails validation.
	ErrInvalidScript = errors.New("script: invalid script")

	// ErrNoScript is returned when Start is called before a script is loaded.
	ErrNoScript = errors.New("script: no script loaded")

	// ErrBusy is returned when a script is replaced while it is running.
	ErrBusy = errors.New("script: runner is busy")

	// ErrNotRunning is returned by Pause when nothing is running.
	ErrNotRunning = errors.New("script: not running")

	// ErrNotPaused is returned by Resume when the runner is not paused.
	ErrNotPaused = errors.New("script: not paused")
)
