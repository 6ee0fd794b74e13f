package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nerrad567/gray-motion-core/internal/motion"
	"github.com/nerrad567/gray-motion-core/internal/safety"
)

// ─── Mock Dependencies ─────────────────────────────────────────────

type point struct {
	measurement string
	tags        map[string]string
	fields      map[string]any
	ts          time.Time
}

type mockWriter struct {
	mu     sync.Mutex
	points []point
}

func (m *mockWriter) WritePointAt(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, point{measurement, tags, fields, ts})
}

func (m *mockWriter) count(measurement string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.points {
		if p.measurement == measurement {
			n++
		}
	}
	return n
}

type staticSource struct{ snap *motion.Snapshot }

func (s staticSource) Snapshot() *motion.Snapshot { return s.snap }

var t0 = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func snapshot(gen uint64, dome, head float64) *motion.Snapshot {
	return &motion.Snapshot{
		Generation: gen,
		At:         t0,
		Safety:     safety.Status{State: safety.Warning},
		Channels: []motion.ChannelStatus{
			{Name: "DOME", Controller: "m0", Position: dome},
			{Name: "HEAD", Controller: "m0", Position: head},
		},
	}
}

// ─── Tests ─────────────────────────────────────────────────────────

func TestEmit_Execution(t *testing.T) {
	w := &mockWriter{}
	r := New(w)

	r.Emit(motion.EventExecutionStarted, motion.ExecutionEvent{SequenceID: "GREETING", Origin: motion.OriginSequence, Priority: 5, Channels: []string{"DOME"}, StartedAt: t0, At: t0})
	r.Emit(motion.EventExecutionCompleted, motion.ExecutionEvent{SequenceID: "GREETING", Outcome: motion.OutcomeCompleted, StartedAt: t0, At: t0.Add(1500 * time.Millisecond)})
	r.Emit("unknown", 42)

	if len(w.points) != 2 {
		t.Fatalf("points = %d, want 2", len(w.points))
	}
	if _, ok := w.points[0].fields["duration_ms"]; ok {
		t.Error("started event carries a duration")
	}
	done := w.points[1]
	if done.tags["event"] != motion.EventExecutionCompleted || done.fields["duration_ms"] != int64(1500) {
		t.Errorf("completed point = %+v", done)
	}
}

func TestEmit_SafetyTransition(t *testing.T) {
	w := &mockWriter{}
	New(w).Emit(motion.EventSafetyTransition, safety.Transition{
		From: safety.Normal, To: safety.EmergencyStop, Violations: make([]safety.Violation, 2), At: t0,
	})

	p := w.points[0]
	if p.measurement != "safety_transition" || p.tags["to"] != "EMERGENCY_STOP" || p.fields["violations"] != 2 {
		t.Errorf("point = %+v", p)
	}
}

func TestRecordSnapshot_OnlyChanges(t *testing.T) {
	w := &mockWriter{}
	r := New(w, WithController("figure-1"))

	r.RecordSnapshot(snapshot(1, 90, 90))
	r.RecordSnapshot(snapshot(1, 90, 90)) // same generation
	r.RecordSnapshot(snapshot(2, 95, 90)) // DOME moved
	r.RecordSnapshot(nil)

	if got := w.count("engine"); got != 2 {
		t.Errorf("engine points = %d, want 2", got)
	}
	if got := w.count("channel_position"); got != 3 {
		t.Errorf("channel_position points = %d, want 3", got)
	}
	if w.points[0].tags["controller"] != "figure-1" || w.points[0].fields["safety_state"] != int(safety.Warning) {
		t.Errorf("engine point = %+v", w.points[0])
	}
}

func TestRun_Samples(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &mockWriter{}
	r := New(w, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, staticSource{snapshot(7, 10, 20)}) }()

	deadline := time.Now().Add(2 * time.Second)
	for w.count("engine") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no sample recorded")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if got := w.count("engine"); got != 1 {
		t.Errorf("engine points = %d, unchanged generation resampled", got)
	}
}
