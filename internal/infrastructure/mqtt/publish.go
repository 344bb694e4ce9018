package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a message to the specified MQTT topic.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "vdba/events/sqlite3/<id>/opened")
//   - payload: The message payload (typically JSON, max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}
