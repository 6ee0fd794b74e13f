package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-motion-core/internal/channel"
	"github.com/nerrad567/gray-motion-core/internal/infrastructure/mqtt"
)

// Publisher is the MQTT publish surface. *mqtt.Client satisfies it.
type Publisher interface {
	PublishContext(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	PublishAsync(topic string, payload []byte, qos byte) error
}

// Hardware writes channel positions to servo controller bridges over
// MQTT. It implements channel.Hardware.
//
// A write succeeds once the broker acknowledges the set message. The
// registry bounds each attempt with its write timeout through ctx.
type Hardware struct {
	pub    Publisher
	qos    byte
	topics mqtt.Topics
	names  map[channel.Address]string
	now    func() time.Time
}

// NewHardware creates the servo writer.
//
// Parameters:
//   - pub: MQTT publisher
//   - qos: QoS for set messages; 1 is recommended so the ack means delivery
//   - descriptors: used to label messages with the channel name
func NewHardware(pub Publisher, qos byte, descriptors []channel.Descriptor) *Hardware {
	names := make(map[channel.Address]string, len(descriptors))
	for _, d := range descriptors {
		names[d.Address()] = d.Name
	}
	return &Hardware{pub: pub, qos: qos, names: names, now: time.Now}
}

// Write publishes one servo set message and waits for the broker.
func (h *Hardware) Write(ctx context.Context, addr channel.Address, position float64) error {
	payload, err := json.Marshal(ServoCommand{
		Channel:   h.names[addr],
		Position:  position,
		Timestamp: h.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	topic := h.topics.ServoSet(addr.Controller, addr.Index)
	if err := h.pub.PublishContext(ctx, topic, payload, h.qos, false); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, topic, err)
	}
	return nil
}
