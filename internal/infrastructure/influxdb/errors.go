package influxdb

import "errors"

var (
	// ErrDisabled means influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled")

	// ErrConnectionFailed means the first ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected means the client was closed or never opened.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrUnhealthy means the server answered the ping but reported itself unhealthy.
	ErrUnhealthy = errors.New("influxdb: server unhealthy")
)
