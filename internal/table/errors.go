package table

import "errors"

// Domain errors for the table package.
var (
	// ErrUnknownDevice is returned when a device name or code is not one
	// of the declared table devices.
	ErrUnknownDevice = errors.New("table: unknown device")

	// ErrInvalidVerb is returned for a request verb other than SET, GET or STOP.
	ErrInvalidVerb = errors.New("table: invalid verb")

	// ErrOutOfRange is returned when a SET value lies outside the device range.
	ErrOutOfRange = errors.New("table: value out of range")

	// ErrInvalidSeconds is returned for a negative time-to-achieve.
	ErrInvalidSeconds = errors.New("table: seconds must not be negative")

	// ErrDecodeFailed is returned when a wire message cannot be decoded.
	ErrDecodeFailed = errors.New("table: decode failed")

	// ErrEncodeFailed is returned when a request or response cannot be encoded.
	ErrEncodeFailed = errors.New("table: encode failed")

	// ErrUnknownCodec is returned by NewCodec for an unsupported name.
	ErrUnknownCodec = errors.New("table: unknown codec")

	// ErrUnknownTransport is returned by NewConnection for an unsupported transport.
	ErrUnknownTransport = errors.New("table: unknown transport")

	// ErrNotConnected is returned by connection-level operations that need
	// an open transport.
	ErrNotConnected = errors.New("table: not connected")
)
