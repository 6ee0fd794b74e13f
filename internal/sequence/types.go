package sequence

import (
	"maps"
	"slices"
	"time"
)

// Sequence is a named, immutable motion script. Once loaded into a
// Library a Sequence is shared with running executions and must not be
// modified.
type Sequence struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Priority is used when a caller does not supply one. 1-100, higher wins.
	Priority int    `json:"priority" yaml:"priority"`
	Steps    []Step `json:"steps" yaml:"steps"`
}

// Step moves its target channels from wherever they are to Targets over
// Duration, starting At after the sequence begins.
type Step struct {
	At       time.Duration      `json:"at" yaml:"at"`
	Duration time.Duration      `json:"duration" yaml:"duration"`
	Targets  map[string]float64 `json:"targets,omitempty" yaml:"targets,omitempty"`
	Trigger  *Trigger           `json:"trigger,omitempty" yaml:"trigger,omitempty"`
}

// End returns the offset at which the step's motion completes.
func (s Step) End() time.Duration {
	return s.At + s.Duration
}

// Trigger is a fire-and-forget cue sent to an audio or lighting player
// when its step begins.
type Trigger struct {
	Kind   string            `json:"kind" yaml:"kind"`
	Name   string            `json:"name" yaml:"name"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Channels returns the sorted set of channels any step targets.
func (s *Sequence) Channels() []string {
	set := make(map[string]struct{})
	for _, step := range s.Steps {
		for name := range step.Targets {
			set[name] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// Duration returns the offset at which the last step completes.
func (s *Sequence) Duration() time.Duration {
	var end time.Duration
	for _, step := range s.Steps {
		end = max(end, step.End())
	}
	return end
}

// DeepCopy returns a copy that shares no maps or slices with s.
func (s *Sequence) DeepCopy() *Sequence {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Steps = make([]Step, len(s.Steps))
	for i, step := range s.Steps {
		cp.Steps[i] = step
		cp.Steps[i].Targets = maps.Clone(step.Targets)
		if step.Trigger != nil {
			tr := *step.Trigger
			tr.Params = maps.Clone(step.Trigger.Params)
			cp.Steps[i].Trigger = &tr
		}
	}
	return &cp
}
