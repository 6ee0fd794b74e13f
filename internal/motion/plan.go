package motion

import (
	"time"

	"github.com/nerrad567/gray-motion-core/internal/sequence"
)

// segment is one linear move of one channel.
type segment struct {
	start, end time.Duration
	from, to   float64
}

func (s segment) at(elapsed time.Duration) float64 {
	if elapsed >= s.end || s.end <= s.start {
		return s.to
	}
	if elapsed <= s.start {
		return s.from
	}
	frac := float64(elapsed-s.start) / float64(s.end-s.start)
	return s.from + (s.to-s.from)*frac
}

// track is the ordered list of moves for one channel of one execution.
// next is the first segment that has not yet landed on its target.
type track struct {
	segments []segment
	next     int
}

// advance returns the position to write at elapsed, and false when the
// channel has nothing to write (before its first move or after its last).
func (t *track) advance(elapsed time.Duration) (float64, bool) {
	var pos float64
	write := false
	for t.next < len(t.segments) {
		s := t.segments[t.next]
		if elapsed < s.start {
			break
		}
		write = true
		if elapsed >= s.end {
			pos = s.to
			t.next++
			continue
		}
		pos = s.at(elapsed)
		break
	}
	return pos, write
}

func (t *track) done() bool {
	return t.next >= len(t.segments)
}

// buildTracks turns the steps of seq into per-channel tracks. Each
// channel starts from its position at admission, so a preempting
// execution picks up where the previous owner left the channel.
func buildTracks(seq *sequence.Sequence, start map[string]float64) map[string]*track {
	tracks := make(map[string]*track)
	last := make(map[string]float64, len(start))
	for name, pos := range start {
		last[name] = pos
	}

	for _, step := range seq.Steps {
		for name, target := range step.Targets {
			t, ok := tracks[name]
			if !ok {
				t = &track{}
				tracks[name] = t
			}
			t.segments = append(t.segments, segment{
				start: step.At,
				end:   step.End(),
				from:  last[name],
				to:    target,
			})
			last[name] = target
		}
	}
	return tracks
}
