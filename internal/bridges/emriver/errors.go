package emriver

import "errors"

// Domain errors for the EMRiver bridge package.
var (
	// ErrMissingController is returned by NewBridge when no controller is set.
	ErrMissingController = errors.New("emriver: controller is required")

	// ErrInvalidTopic is returned when a command topic does not name a device.
	ErrInvalidTopic = errors.New("emriver: invalid command topic")

	// ErrInvalidCommand is returned when a command payload cannot be parsed.
	ErrInvalidCommand = errors.New("emriver: invalid command")

	// ErrSubscribeFailed is returned by Start when the command subscription fails.
	ErrSubscribeFailed = errors.New("emriver: subscribe failed")
)
