package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-motion-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-motion-core/internal/motion"
)

// Effects publishes step triggers to the effects player. It implements
// motion.TriggerSink and never waits for the broker.
type Effects struct {
	pub    Publisher
	qos    byte
	topics mqtt.Topics
}

// NewEffects creates the trigger publisher.
func NewEffects(pub Publisher, qos byte) *Effects {
	return &Effects{pub: pub, qos: qos}
}

// Fire publishes cue to graymotion/effects/{kind}.
func (e *Effects) Fire(cue motion.Cue) error {
	payload, err := json.Marshal(EffectMessage{
		ExecutionID: cue.ExecutionID,
		SequenceID:  cue.SequenceID,
		Step:        cue.Step,
		Name:        cue.Name,
		Params:      cue.Params,
		Timestamp:   cue.At.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding %s trigger: %w", cue.Kind, err)
	}
	return e.pub.PublishAsync(e.topics.Effect(cue.Kind), payload, e.qos)
}
