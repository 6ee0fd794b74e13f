package history

import (
	"context"
	"time"

	"github.com/nerrad567/gray-motion-core/internal/motion"
	"github.com/nerrad567/gray-motion-core/internal/safety"
)

// OutcomeRunning marks an execution that has started but not finished.
const OutcomeRunning = "running"

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Execution is one row of the executions table.
type Execution struct {
	ID          string        `json:"id"`
	SequenceID  string        `json:"sequence_id"`
	Origin      motion.Origin `json:"origin"`
	Source      string        `json:"source,omitempty"`
	Priority    int           `json:"priority"`
	Channels    []string      `json:"channels"`
	Outcome     string        `json:"outcome"`
	Reason      string        `json:"reason,omitempty"`
	PreemptedBy string        `json:"preempted_by,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}

// Incident is one safety state transition.
type Incident struct {
	ID         string             `json:"id"`
	From       safety.State       `json:"from"`
	To         safety.State       `json:"to"`
	Reason     string             `json:"reason,omitempty"`
	Violations []safety.Violation `json:"violations"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	SequenceID string // executions only
	Outcome    string // executions only
	Limit      int    // default 50, max 200
	Offset     int
}

// Repository stores and lists history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// RecordExecution inserts or updates an execution from an engine
	// event. A started event creates a running row; a terminal event
	// sets the outcome and finish time.
	RecordExecution(ctx context.Context, ev motion.ExecutionEvent) error

	// RecordIncident inserts one safety transition.
	RecordIncident(ctx context.Context, tr safety.Transition) error

	// ListExecutions returns executions newest first.
	ListExecutions(ctx context.Context, filter Filter) ([]Execution, error)

	// ListIncidents returns incidents newest first.
	ListIncidents(ctx context.Context, filter Filter) ([]Incident, error)

	// Prune deletes rows older than olderThan and returns how many went.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

func (f *Filter) clamp() {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
