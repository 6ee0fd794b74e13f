package motion

import (
	"time"

	"github.com/nerrad567/gray-motion-core/internal/safety"
)

// Snapshot is an immutable copy of the control loop's state. A new one
// is published after every tick and every handled request; Generation
// increases by one each time.
type Snapshot struct {
	Generation uint64            `json:"generation"`
	At         time.Time         `json:"at"`
	Safety     safety.Status     `json:"safety"`
	Channels   []ChannelStatus   `json:"channels"`
	Executions []ExecutionStatus `json:"executions"`
}

// ChannelStatus is one channel in a snapshot.
type ChannelStatus struct {
	Name       string    `json:"name"`
	Controller string    `json:"controller"`
	Index      int       `json:"index"`
	Position   float64   `json:"position"`
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	Owner      string    `json:"owner,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ExecutionStatus is one live execution in a snapshot.
type ExecutionStatus struct {
	ID           string    `json:"id"`
	SequenceID   string    `json:"sequence_id"`
	SequenceName string    `json:"sequence_name"`
	Origin       Origin    `json:"origin"`
	Source       string    `json:"source,omitempty"`
	Priority     int       `json:"priority"`
	Channels     []string  `json:"channels"`
	Step         int       `json:"step"`
	Steps        int       `json:"steps"`
	Progress     float64   `json:"progress"`
	StartedAt    time.Time `json:"started_at"`
}

// Execution returns the live execution with id.
func (s *Snapshot) Execution(id string) (ExecutionStatus, bool) {
	for _, x := range s.Executions {
		if x.ID == id {
			return x, true
		}
	}
	return ExecutionStatus{}, false
}

// Channel returns the channel named name.
func (s *Snapshot) Channel(name string) (ChannelStatus, bool) {
	for _, c := range s.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return ChannelStatus{}, false
}

// ActiveSequences returns the display names of running executions.
func (s *Snapshot) ActiveSequences() []string {
	out := make([]string, 0, len(s.Executions))
	for _, x := range s.Executions {
		name := x.SequenceName
		if name == "" {
			name = x.SequenceID
		}
		out = append(out, name)
	}
	return out
}

func (e *Engine) publish(now time.Time) {
	e.generation++

	owners := e.table.Owners()
	states := e.registry.States()
	descs := e.registry.Descriptors()
	channels := make([]ChannelStatus, len(descs))
	for i, d := range descs {
		channels[i] = ChannelStatus{
			Name:       d.Name,
			Controller: d.Controller,
			Index:      d.Index,
			Position:   states[i].Position,
			Min:        d.Min,
			Max:        d.Max,
			Owner:      owners[d.Name].ID,
			UpdatedAt:  states[i].UpdatedAt,
		}
	}

	execs := make([]ExecutionStatus, len(e.executions))
	for i, x := range e.executions {
		execs[i] = ExecutionStatus{
			ID:           x.id,
			SequenceID:   x.seq.ID,
			SequenceName: x.seq.Name,
			Origin:       x.origin,
			Source:       x.source,
			Priority:     x.priority,
			Channels:     x.channels,
			Step:         x.step(now),
			Steps:        len(x.seq.Steps),
			Progress:     x.progress(now),
			StartedAt:    x.startedAt,
		}
	}

	e.snapshot.Store(&Snapshot{
		Generation: e.generation,
		At:         now,
		Safety:     e.monitor.Status(),
		Channels:   channels,
		Executions: execs,
	})
}
