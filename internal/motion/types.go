package motion

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/nerrad567/gray-motion-core/internal/sequence"
)

// Origin says who produced a request.
type Origin string

const (
	OriginManual   Origin = "manual"
	OriginSequence Origin = "sequence"
	OriginSafety   Origin = "safety"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	switch o {
	case OriginManual, OriginSequence, OriginSafety:
		return true
	}
	return false
}

// Event types emitted by the engine.
const (
	EventExecutionStarted   = "execution.started"
	EventExecutionCompleted = "execution.completed"
	EventExecutionPreempted = "execution.preempted"
	EventExecutionCancelled = "execution.cancelled"
	EventSafetyTransition   = "safety.transition"
)

// Outcome is how an execution ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePreempted Outcome = "preempted"
	OutcomeCancelled Outcome = "cancelled"
)

func (o Outcome) eventType() string {
	switch o {
	case OutcomeCompleted:
		return EventExecutionCompleted
	case OutcomePreempted:
		return EventExecutionPreempted
	default:
		return EventExecutionCancelled
	}
}

// MotionCommand is a one-shot move of one or more channels. It is run as
// a single-step sequence created on admission.
type MotionCommand struct {
	Targets  map[string]float64 `json:"targets"`
	Duration time.Duration      `json:"duration"`

	// Priority 0 means the configured manual priority.
	Priority int    `json:"priority"`
	Origin   Origin `json:"origin"`
	Source   string `json:"source,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
}

// fingerprint identifies commands that would produce the same trajectory.
func (c MotionCommand) fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|%d", c.Origin, c.Source, c.Priority, c.Duration)
	for _, name := range slices.Sorted(maps.Keys(c.Targets)) {
		fmt.Fprintf(&b, "|%s=%g", name, c.Targets[name])
	}
	return b.String()
}

// ExecuteOptions modifies a sequence execution request.
type ExecuteOptions struct {
	// Priority overrides the sequence's own priority when non-zero.
	Priority int
	Origin   Origin
	Source   string
}

// Admission is the result of a successful request.
type Admission struct {
	ExecutionID string   `json:"execution_id"`
	SequenceID  string   `json:"sequence_id"`
	Priority    int      `json:"priority"`
	Channels    []string `json:"channels"`

	// Preempted lists executions cancelled to make room.
	Preempted []string `json:"preempted,omitempty"`

	// Clamped lists channels whose target was limited to the safe range.
	Clamped []string `json:"clamped,omitempty"`

	// Duplicate is true when an identical live command was found and its
	// execution id returned instead of starting a new one.
	Duplicate bool `json:"duplicate,omitempty"`
}

// ExecutionEvent is the payload of every execution.* event.
type ExecutionEvent struct {
	ExecutionID  string    `json:"execution_id"`
	SequenceID   string    `json:"sequence_id"`
	SequenceName string    `json:"sequence_name,omitempty"`
	Origin       Origin    `json:"origin"`
	Source       string    `json:"source,omitempty"`
	Priority     int       `json:"priority"`
	Channels     []string  `json:"channels"`
	Outcome      Outcome   `json:"outcome,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	PreemptedBy  string    `json:"preempted_by,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	At           time.Time `json:"at"`
}

// Cue is a step trigger handed to the effects collaborator.
type Cue struct {
	ExecutionID string            `json:"execution_id"`
	SequenceID  string            `json:"sequence_id"`
	Step        int               `json:"step"`
	Kind        string            `json:"kind"`
	Name        string            `json:"name"`
	Params      map[string]string `json:"params,omitempty"`
	At          time.Time         `json:"at"`
}

func newCue(x *execution, step int, tr *sequence.Trigger, at time.Time) Cue {
	return Cue{
		ExecutionID: x.id,
		SequenceID:  x.seq.ID,
		Step:        step,
		Kind:        tr.Kind,
		Name:        tr.Name,
		Params:      tr.Params,
		At:          at,
	}
}
