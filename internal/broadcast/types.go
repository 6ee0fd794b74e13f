package broadcast

import (
	"context"
	"time"

	"github.com/nerrad567/gray-motion-core/internal/motion"
	"github.com/nerrad567/gray-motion-core/internal/safety"
)

// Topics a session can subscribe to.
const (
	TopicStatus = "status"
	TopicEvents = "events"
	TopicAlerts = "alerts"
)

// AllTopics lists every topic. New sessions start subscribed to all.
var AllTopics = []string{TopicStatus, TopicEvents, TopicAlerts}

func validTopic(topic string) bool {
	switch topic {
	case TopicStatus, TopicEvents, TopicAlerts:
		return true
	}
	return false
}

// Message types carried on the topics.
const (
	TypeStatus       = "status"
	TypeAlertRaised  = "alert.raised"
	TypeAlertCleared = "alert.cleared"
	TypeAlertHistory = "alert.history"
)

// Message is one item delivered to a session. Seq counts messages sent on
// Topic to this session, starting at 1, so a client can detect gaps.
type Message struct {
	Topic     string    `json:"topic"`
	Seq       uint64    `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Status is the periodic snapshot payload.
type Status struct {
	Generation      uint64                   `json:"generation"`
	State           safety.State             `json:"state"`
	Violations      []safety.Violation       `json:"violations"`
	ActiveSequences []string                 `json:"active_sequences"`
	Executions      []motion.ExecutionStatus `json:"executions"`
	Positions       map[string]float64       `json:"positions"`
	Sessions        int                      `json:"sessions"`
	At              time.Time                `json:"at"`
}

// MetricReading is a sample from an external monitoring collaborator.
// The metric is over threshold when Value > Threshold.
type MetricReading struct {
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Unit      string    `json:"unit,omitempty"`
	Source    string    `json:"source,omitempty"`
	At        time.Time `json:"at"`
}

// Alert is one raised or cleared notification.
type Alert struct {
	Metric    string    `json:"metric"`
	Kind      string    `json:"kind"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Unit      string    `json:"unit,omitempty"`
	Source    string    `json:"source,omitempty"`
	At        time.Time `json:"at"`

	// Suppressed counts readings over threshold that were throttled since
	// the previous raise.
	Suppressed int `json:"suppressed,omitempty"`
}

// Command actions accepted from observers.
const (
	ActionExecute = "execute"
	ActionMove    = "move"
	ActionCancel  = "cancel"
	ActionStop    = "stop"
)

// Command is an inbound request from an observer session.
type Command struct {
	Action      string             `json:"action"`
	Sequence    string             `json:"sequence,omitempty"`
	ExecutionID string             `json:"execution_id,omitempty"`
	Targets     map[string]float64 `json:"targets,omitempty"`
	DurationMS  int                `json:"duration_ms,omitempty"`
	Priority    int                `json:"priority,omitempty"`
	Reason      string             `json:"reason,omitempty"`
}

// CommandHandler executes observer commands.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd Command) (any, error)
}

// StatusSource provides the latest engine snapshot. *motion.Engine
// satisfies it.
type StatusSource interface {
	Snapshot() *motion.Snapshot
}
