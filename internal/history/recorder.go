package history

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-motion-core/internal/motion"
	"github.com/nerrad567/gray-motion-core/internal/safety"
)

const (
	defaultQueueSize = 256
	writeTimeout     = 5 * time.Second
	drainTimeout     = 2 * time.Second
)

// Logger is the logging surface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type entry struct {
	eventType string
	payload   any
}

// Recorder writes engine events to a Repository. It implements
// motion.EventSink.
//
// Thread Safety: Emit is safe for concurrent use and never blocks. When
// the queue is full the event is dropped and counted.
type Recorder struct {
	repo    Repository
	queue   chan entry
	logger  Logger
	dropped atomic.Uint64
}

// NewRecorder creates a recorder with a queue of queueSize events
// (default 256). Call Run to start writing.
func NewRecorder(repo Repository, queueSize int, logger Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, queue: make(chan entry, queueSize), logger: logger}
}

// Emit queues an engine event for persistence. Only execution and safety
// transition events are recorded.
func (r *Recorder) Emit(eventType string, payload any) {
	switch payload.(type) {
	case motion.ExecutionEvent, safety.Transition:
	default:
		return
	}
	select {
	case r.queue <- entry{eventType: eventType, payload: payload}:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.logger.Warn("history queue full, event dropped", "event", eventType, "dropped", n)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Run writes queued events until ctx is cancelled, then writes whatever
// is still queued before returning.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case e := <-r.queue:
			// A write already taken off the queue finishes even if ctx
			// is cancelled meanwhile.
			r.write(context.WithoutCancel(ctx), e)
		case <-ctx.Done():
			r.drain()
			return nil
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) write(parent context.Context, e entry) {
	ctx, cancel := context.WithTimeout(parent, writeTimeout)
	defer cancel()

	var err error
	switch p := e.payload.(type) {
	case motion.ExecutionEvent:
		err = r.repo.RecordExecution(ctx, p)
	case safety.Transition:
		err = r.repo.RecordIncident(ctx, p)
	}
	if err != nil {
		r.logger.Error("history write failed", "event", e.eventType, "error", err)
	}
}
