package bridge

import "time"

// ServoCommand is published to graymotion/servo/{controller}/{index}/set.
type ServoCommand struct {
	Channel   string    `json:"channel"`
	Position  float64   `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

// EffectMessage is published to graymotion/effects/{kind} when a step
// trigger fires.
type EffectMessage struct {
	ExecutionID string            `json:"execution_id"`
	SequenceID  string            `json:"sequence_id"`
	Step        int               `json:"step"`
	Name        string            `json:"name"`
	Params      map[string]string `json:"params,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// VisionEvent arrives on graymotion/vision/events.
type VisionEvent struct {
	// Event is the detection name looked up in events.mappings,
	// e.g. "person_detected".
	Event      string    `json:"event"`
	Source     string    `json:"source,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
}

// MetricMessage arrives on graymotion/metrics/{metric}.
type MetricMessage struct {
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Unit      string    `json:"unit,omitempty"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// HealthMessage arrives on graymotion/controller/{id}/health.
type HealthMessage struct {
	Online    bool      `json:"online"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
