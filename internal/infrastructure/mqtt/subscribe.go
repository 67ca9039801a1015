package mqtt

import "fmt"

// Subscribe routes messages matching topic to handler.
//
// The subscription is remembered and restored after every reconnect, so the
// bridge subscribes once to geomodel/command/table/+ at start-up.
//
// Parameters:
//   - topic: Topic or pattern (+ and # wildcards)
//   - qos: Maximum QoS for delivered messages
//   - handler: Called for each message; panics are recovered and counted
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected or ErrSubscribeFailed
func (c *Client) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.paho.Subscribe(topic, qos, c.deliver(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: no ack within %v", ErrSubscribeFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	c.mu.Lock()
	c.handlers[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()
	return nil
}
