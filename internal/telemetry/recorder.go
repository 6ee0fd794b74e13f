package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-motion-core/internal/motion"
	"github.com/nerrad567/gray-motion-core/internal/safety"
)

const defaultInterval = time.Second

// PointWriter is the write surface of the InfluxDB client.
// *influxdb.Client satisfies it.
type PointWriter interface {
	WritePointAt(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// SnapshotSource provides the latest engine snapshot.
type SnapshotSource interface {
	Snapshot() *motion.Snapshot
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithInterval sets how often Run samples the snapshot. Default: 1s.
func WithInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithController tags engine points with the controller instance ID.
func WithController(id string) Option {
	return func(r *Recorder) { r.controller = id }
}

// Recorder turns engine events and snapshots into points. It implements
// motion.EventSink; Emit only hands points to the client's non-blocking
// write API and is safe to call from the control loop.
type Recorder struct {
	writer     PointWriter
	interval   time.Duration
	controller string

	mu             sync.Mutex
	lastGeneration uint64
	positions      map[string]float64
}

// New creates a telemetry recorder.
func New(writer PointWriter, opts ...Option) *Recorder {
	r := &Recorder{
		writer:    writer,
		interval:  defaultInterval,
		positions: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Emit records execution outcomes and safety transitions.
func (r *Recorder) Emit(eventType string, payload any) {
	switch p := payload.(type) {
	case motion.ExecutionEvent:
		fields := map[string]any{
			"priority": p.Priority,
			"channels": len(p.Channels),
		}
		if p.Outcome != "" {
			fields["duration_ms"] = p.At.Sub(p.StartedAt).Milliseconds()
		}
		r.writer.WritePointAt("execution", map[string]string{
			"sequence": p.SequenceID,
			"origin":   string(p.Origin),
			"event":    eventType,
		}, fields, p.At)

	case safety.Transition:
		r.writer.WritePointAt("safety_transition", map[string]string{
			"from": p.From.String(),
			"to":   p.To.String(),
		}, map[string]any{
			"violations": len(p.Violations),
		}, p.At)
	}
}

// RecordSnapshot writes the engine summary and every channel whose
// position changed since the last recorded snapshot. A snapshot with an
// already recorded generation is skipped.
func (r *Recorder) RecordSnapshot(snap *motion.Snapshot) {
	if snap == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Generation != 0 && snap.Generation == r.lastGeneration {
		return
	}
	r.lastGeneration = snap.Generation

	r.writer.WritePointAt("engine", map[string]string{
		"controller": r.controller,
	}, map[string]any{
		"generation":   int64(snap.Generation), // #nosec G115 -- a counter, never near MaxInt64
		"executions":   len(snap.Executions),
		"safety_state": int(snap.Safety.State),
		"violations":   len(snap.Safety.Violations),
	}, snap.At)

	for _, c := range snap.Channels {
		if last, ok := r.positions[c.Name]; ok && last == c.Position {
			continue
		}
		r.positions[c.Name] = c.Position
		r.writer.WritePointAt("channel_position", map[string]string{
			"channel":    c.Name,
			"controller": c.Controller,
		}, map[string]any{
			"position": c.Position,
		}, snap.At)
	}
}

// Run samples source every interval until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context, source SnapshotSource) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.RecordSnapshot(source.Snapshot())
		}
	}
}
