package udp

import "errors"

// Domain errors for the udp package.
var (
	// ErrAlreadyRunning is returned by Start on a client or server that
	// already holds an active socket.
	ErrAlreadyRunning = errors.New("udp: already running")

	// ErrResolveFailed is returned when the server host or port cannot be
	// turned into an address.
	ErrResolveFailed = errors.New("udp: address resolution failed")

	// ErrSocketFailed is returned when the local socket cannot be opened
	// or bound.
	ErrSocketFailed = errors.New("udp: socket setup failed")

	// ErrNilListener is returned when Start is called without a listener.
	ErrNilListener = errors.New("udp: listener is required")

	// ErrNilHandler is returned when Start is called without a handler.
	ErrNilHandler = errors.New("udp: handler is required")
)
