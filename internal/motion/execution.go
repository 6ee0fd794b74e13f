package motion

import (
	"time"

	"github.com/nerrad567/gray-motion-core/internal/sequence"
)

// execution is the live state of one admitted sequence or manual move.
// It is owned by the control loop.
type execution struct {
	id          string
	seq         *sequence.Sequence
	origin      Origin
	source      string
	priority    int
	fingerprint string
	channels    []string
	startedAt   time.Time

	tracks   map[string]*track
	nextCue  int
	finished bool
}

func (x *execution) elapsed(now time.Time) time.Duration {
	if now.Before(x.startedAt) {
		return 0
	}
	return now.Sub(x.startedAt)
}

// complete reports whether every track has landed and every cue has fired.
func (x *execution) complete(now time.Time) bool {
	if x.nextCue < len(x.seq.Steps) {
		return false
	}
	for _, t := range x.tracks {
		if !t.done() {
			return false
		}
	}
	return x.elapsed(now) >= x.seq.Duration()
}

// step returns the index of the last step that has started.
func (x *execution) step(now time.Time) int {
	elapsed := x.elapsed(now)
	idx := 0
	for i, s := range x.seq.Steps {
		if s.At <= elapsed {
			idx = i
		}
	}
	return idx
}

func (x *execution) progress(now time.Time) float64 {
	total := x.seq.Duration()
	if total <= 0 {
		return 1
	}
	return min(float64(x.elapsed(now))/float64(total), 1)
}

// dueCues returns the triggers whose steps have started since the last
// call, advancing nextCue past every started step.
func (x *execution) dueCues(now time.Time) []Cue {
	elapsed := x.elapsed(now)
	var out []Cue
	for x.nextCue < len(x.seq.Steps) {
		step := x.seq.Steps[x.nextCue]
		if step.At > elapsed {
			break
		}
		if step.Trigger != nil {
			out = append(out, newCue(x, x.nextCue, step.Trigger, now))
		}
		x.nextCue++
	}
	return out
}

func (x *execution) event(outcome Outcome, reason, by string, at time.Time) ExecutionEvent {
	return ExecutionEvent{
		ExecutionID:  x.id,
		SequenceID:   x.seq.ID,
		SequenceName: x.seq.Name,
		Origin:       x.origin,
		Source:       x.source,
		Priority:     x.priority,
		Channels:     x.channels,
		Outcome:      outcome,
		Reason:       reason,
		PreemptedBy:  by,
		StartedAt:    x.startedAt,
		At:           at,
	}
}
