package mqtt

import "errors"

var (
	// ErrNotConnected means the broker link is down.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrConnectionFailed means the first connection to the broker failed.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed means the broker did not accept a message.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed means the broker did not accept a subscription.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS means a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS")

	// ErrInvalidTopic means an empty topic.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
