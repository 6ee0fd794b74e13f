package motion

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-motion-core/internal/arbitration"
	"github.com/nerrad567/gray-motion-core/internal/channel"
	"github.com/nerrad567/gray-motion-core/internal/safety"
	"github.com/nerrad567/gray-motion-core/internal/sequence"
)

// Logger is the logging surface the engine needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SequenceSource looks up catalog sequences. *sequence.Catalog satisfies it.
type SequenceSource interface {
	Get(id string) (*sequence.Sequence, error)
}

// Config holds the engine's timing and safety thresholds.
type Config struct {
	TickInterval       time.Duration
	ArbitrationTimeout time.Duration

	// ManualPriority and ManualDuration fill in zero fields of a
	// MotionCommand.
	ManualPriority int
	ManualDuration time.Duration

	// EdgeMargin is the fraction of a channel's range treated as "near
	// the limit" (soft violation).
	EdgeMargin float64

	// WriteLatencyWarning raises a soft violation when one hardware write
	// takes longer.
	WriteLatencyWarning time.Duration

	// WatchdogTimeout raises a hard violation when the gap between two
	// ticks exceeds it.
	WatchdogTimeout time.Duration

	// UseSafePose drives every channel to its safe position once on
	// entering EMERGENCY_STOP. Otherwise channels hold where they are.
	UseSafePose bool
}

// DefaultConfig returns the recommended 50 Hz configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval:        20 * time.Millisecond,
		ArbitrationTimeout:  200 * time.Millisecond,
		ManualPriority:      5,
		ManualDuration:      500 * time.Millisecond,
		EdgeMargin:          0.02,
		WriteLatencyWarning: 5 * time.Millisecond,
		WatchdogTimeout:     200 * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.ArbitrationTimeout <= 0 {
		c.ArbitrationTimeout = def.ArbitrationTimeout
	}
	if c.ManualPriority <= 0 {
		c.ManualPriority = def.ManualPriority
	}
	if c.ManualDuration <= 0 {
		c.ManualDuration = def.ManualDuration
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = def.WatchdogTimeout
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventSink sets where engine events go.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.events = sink
		}
	}
}

// WithTriggerSink sets where step cues go.
func WithTriggerSink(sink TriggerSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.cues = sink
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the execution id generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// heartbeatTicks is how often the loop logs a debug heartbeat.
const heartbeatTicks = 500

// probeInterval is how often faulted channels are re-written at their
// held position while in EMERGENCY_STOP.
const probeInterval = time.Second

// requestQueueSize bounds the number of requests waiting for the loop.
const requestQueueSize = 64

// Engine is the single-writer control loop. It owns the channel registry
// runtime state, the safety monitor and the arbitration table; nothing
// else mutates them.
//
// Thread Safety: Submit, Execute, Cancel, EmergencyStop, Reset, Observe
// and Snapshot are safe for concurrent use. Each request is queued to the
// loop and fails with ErrArbitrationTimeout if the loop does not take it
// within Config.ArbitrationTimeout.
type Engine struct {
	cfg      Config
	registry *channel.Registry
	monitor  *safety.Monitor
	catalog  SequenceSource
	table    *arbitration.Table

	events EventSink
	cues   TriggerSink
	logger Logger
	now    func() time.Time
	newID  func() string

	requests chan *request
	running  atomic.Bool
	snapshot atomic.Pointer[Snapshot]

	// Loop-owned state below.
	runCtx          context.Context
	executions      []*execution
	generation      uint64
	ticks           uint64
	lastTick        time.Time
	lastProbe       time.Time
	safePosePending bool
}

// New creates an engine. It takes ownership of registry and monitor: it
// installs itself as the registry's clamp observer and the monitor's
// transition notifier.
//
// Parameters:
//   - cfg: timing and threshold configuration (zero fields take defaults)
//   - registry: channel registry and hardware write path
//   - monitor: safety state machine
//   - catalog: source of named sequences
func New(cfg Config, registry *channel.Registry, monitor *safety.Monitor, catalog SequenceSource, opts ...Option) *Engine {
	cfg.applyDefaults()

	e := &Engine{
		cfg:      cfg,
		registry: registry,
		monitor:  monitor,
		catalog:  catalog,
		table:    arbitration.NewTable(),
		events:   discardEvents{},
		cues:     discardCues{},
		logger:   noopLogger{},
		now:      time.Now,
		newID:    uuid.NewString,
		requests: make(chan *request, requestQueueSize),
		runCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(e)
	}

	registry.SetClampObserver(e.onClamp)
	monitor.SetNotifier(e.onTransition)
	e.publish(e.now())

	return e
}

// Snapshot returns the latest published state. It never blocks.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Config returns the engine configuration after defaults.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run drives the control loop until ctx is cancelled. Live executions
// are cancelled on the way out.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.runCtx = ctx
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.logger.Info("control loop started",
		"tick", e.cfg.TickInterval.String(),
		"channels", e.registry.Len(),
	)

	for {
		// Requests waiting when a tick is due are handled first so that
		// stops and safety observations land before that tick's writes.
		select {
		case <-ctx.Done():
			e.shutdown(e.now())
			e.logger.Info("control loop stopped", "ticks", e.ticks)
			return nil
		case req := <-e.requests:
			e.handle(req)
		case <-ticker.C:
			e.drain()
			e.tick(e.now())
		}
	}
}

func (e *Engine) drain() {
	for {
		select {
		case req := <-e.requests:
			e.handle(req)
		default:
			return
		}
	}
}

func (e *Engine) shutdown(now time.Time) {
	for _, x := range append([]*execution(nil), e.executions...) {
		e.finish(x, now, OutcomeCancelled, "shutdown", "")
	}
	// No channel stays leased while the loop is stopped.
	e.table.ReleaseAll()
	e.publish(now)
}

// ─── Requests ───────────────────────────────────────────────────────

const (
	requestPending int32 = iota
	requestTaken
	requestAbandoned
)

type request struct {
	state atomic.Int32
	fn    func(now time.Time) (any, error)
	reply chan result
}

type result struct {
	value any
	err   error
}

func (e *Engine) handle(req *request) {
	if !req.state.CompareAndSwap(requestPending, requestTaken) {
		return
	}
	now := e.now()
	v, err := req.fn(now)
	e.publish(now)
	req.reply <- result{value: v, err: err}
}

// call queues fn to the control loop and waits for its result. A request
// the loop has not taken by the deadline is abandoned and never runs.
func call[T any](ctx context.Context, e *Engine, fn func(now time.Time) (T, error)) (T, error) {
	var zero T
	req := &request{
		fn:    func(now time.Time) (any, error) { return fn(now) },
		reply: make(chan result, 1),
	}

	timer := time.NewTimer(e.cfg.ArbitrationTimeout)
	defer timer.Stop()

	select {
	case e.requests <- req:
	case <-timer.C:
		return zero, ErrArbitrationTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return unwrap[T](r)
	case <-timer.C:
	case <-ctx.Done():
	}

	if req.state.CompareAndSwap(requestPending, requestAbandoned) {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, ErrArbitrationTimeout
	}
	// The loop took the request; it replies without blocking.
	return unwrap[T](<-req.reply)
}

func unwrap[T any](r result) (T, error) {
	var zero T
	if r.err != nil {
		return zero, r.err
	}
	v, _ := r.value.(T)
	return v, nil
}

// Submit admits a manual motion command.
//
// Returns:
//   - Admission on success (Duplicate set when an identical command is live)
//   - ErrInvalidCommand, channel.ErrUnknownChannel for malformed commands
//   - *arbitration.BusyError (ErrChannelBusy) when a channel is held at
//     equal or higher priority
//   - safety.ErrEmergencyStopActive, ErrChannelFaulted
//   - ErrArbitrationTimeout when the loop does not respond in time
func (e *Engine) Submit(ctx context.Context, cmd MotionCommand) (Admission, error) {
	return call(ctx, e, func(now time.Time) (Admission, error) {
		return e.submit(now, cmd)
	})
}

// Execute admits the catalog sequence id.
func (e *Engine) Execute(ctx context.Context, id string, opts ExecuteOptions) (Admission, error) {
	return call(ctx, e, func(now time.Time) (Admission, error) {
		return e.execute(now, id, opts)
	})
}

// Cancel stops a live execution. Its channels hold their last position.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	_, err := call(ctx, e, func(now time.Time) (struct{}, error) {
		return struct{}{}, e.cancel(now, executionID)
	})
	return err
}

// EmergencyStop latches EMERGENCY_STOP and cancels every execution.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) error {
	_, err := call(ctx, e, func(now time.Time) (struct{}, error) {
		e.emergencyStop(now, reason)
		return struct{}{}, nil
	})
	return err
}

// Reset leaves EMERGENCY_STOP. It fails with safety.ErrViolationsStillActive
// while a hard violation remains.
func (e *Engine) Reset(ctx context.Context) (safety.Status, error) {
	return call(ctx, e, func(now time.Time) (safety.Status, error) {
		err := e.reset(now)
		return e.monitor.Status(), err
	})
}

// Observe feeds an external observation (controller health, operator
// input) into the safety monitor.
func (e *Engine) Observe(ctx context.Context, obs safety.Observation) (safety.State, error) {
	return call(ctx, e, func(now time.Time) (safety.State, error) {
		if obs.At.IsZero() {
			obs.At = now
		}
		return e.evaluate(obs), nil
	})
}

// ─── Loop-side handlers ─────────────────────────────────────────────

func (e *Engine) emergencyStop(now time.Time, reason string) {
	if reason == "" {
		reason = safety.MetricExternalStop
	}
	e.monitor.TriggerEmergencyStop(reason, now)
	e.haltAll(now)
}

func (e *Engine) reset(now time.Time) error {
	if err := e.monitor.Reset(now); err != nil {
		return err
	}
	e.safePosePending = false
	return nil
}

func (e *Engine) cancel(now time.Time, id string) error {
	for _, x := range e.executions {
		if x.id == id {
			e.finish(x, now, OutcomeCancelled, ReasonCancelled, "")
			return nil
		}
	}
	return ErrExecutionNotFound
}

// evaluate applies an observation and halts all motion if it put the
// system into EMERGENCY_STOP.
func (e *Engine) evaluate(obs safety.Observation) safety.State {
	state := e.monitor.Evaluate(obs)
	if state == safety.EmergencyStop {
		e.haltAll(obs.At)
	}
	return state
}

// haltAll cancels every execution with reason emergency_stop.
func (e *Engine) haltAll(now time.Time) {
	for _, x := range append([]*execution(nil), e.executions...) {
		e.finish(x, now, OutcomePreempted, "emergency_stop", "")
	}
}

// finish ends x, releases its channels and emits the outcome event.
func (e *Engine) finish(x *execution, now time.Time, outcome Outcome, reason, by string) {
	if x.finished {
		return
	}
	x.finished = true

	for i, live := range e.executions {
		if live == x {
			e.executions = append(e.executions[:i], e.executions[i+1:]...)
			break
		}
	}
	e.table.Release(x.id)
	e.clearMotionViolations(x.channels, now)

	if outcome == OutcomeCompleted {
		e.logger.Debug("execution completed", "execution_id", x.id, "sequence", x.seq.ID)
	} else {
		e.logger.Info("execution ended", "execution_id", x.id, "sequence", x.seq.ID,
			"outcome", string(outcome), "reason", reason, "preempted_by", by)
	}
	e.events.Emit(outcome.eventType(), x.event(outcome, reason, by, now))
}

// clearMotionViolations drops the soft violations that describe a
// channel's commanded motion once that motion is over.
func (e *Engine) clearMotionViolations(channels []string, now time.Time) {
	for _, ch := range channels {
		for _, metric := range []string{safety.MetricPositionClamped, safety.MetricPositionNearEdge} {
			if e.monitor.HasViolation(metric, ch) {
				e.monitor.Evaluate(safety.Observation{Metric: metric, Channel: ch, Active: false, At: now})
			}
		}
	}
}

func (e *Engine) onClamp(name string, requested, clamped float64) {
	e.logger.Warn("command clamped to safe range", "channel", name, "requested", requested, "clamped", clamped)
	e.monitor.Evaluate(safety.Observation{
		Metric:    safety.MetricPositionClamped,
		Channel:   name,
		Severity:  safety.Soft,
		Value:     requested,
		Threshold: clamped,
		Active:    true,
		At:        e.now(),
	})
}

func (e *Engine) onTransition(t safety.Transition) {
	if t.To == safety.EmergencyStop && e.cfg.UseSafePose {
		e.safePosePending = true
	}
	e.events.Emit(EventSafetyTransition, t)
}
