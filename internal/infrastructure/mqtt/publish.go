package mqtt

import (
	"context"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

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

// Publish sends a message and waits up to the default publish timeout for
// the broker to acknowledge it.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	return c.PublishContext(ctx, topic, payload, qos, retained)
}

// PublishContext sends a message and waits for the acknowledgement until
// ctx is done. The hardware bridge uses this to keep each servo write
// inside its per-attempt deadline.
func (c *Client) PublishContext(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// paho blocks in Publish while its outbound queue is full, so the
	// hand-off itself has to race ctx. An abandoned hand-off finishes
	// within the client's write timeout.
	queued := make(chan pahomqtt.Token, 1)
	go func() {
		queued <- c.client.Publish(topic, qos, retained, payload)
	}()

	var token pahomqtt.Token
	select {
	case token = <-queued:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishAsync hands a message to paho and returns without waiting.
// Delivery failures are logged. Used for fire-and-forget effect triggers.
func (c *Client) PublishAsync(topic string, payload []byte, qos byte) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	go func() {
		token := c.client.Publish(topic, qos, false, payload)
		if !token.WaitTimeout(defaultPublishTimeout) {
			c.logAsyncFailure(topic, fmt.Errorf("%w: no ack after %v", ErrTimeout, defaultPublishTimeout))
			return
		}
		if err := token.Error(); err != nil {
			c.logAsyncFailure(topic, err)
		}
	}()
	return nil
}

func (c *Client) logAsyncFailure(topic string, err error) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT async publish failed", "topic", topic, "error", err)
	}
}

// PublishRetained publishes a retained message with the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}

// QoS returns the configured default QoS level.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}
