package motion

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/nerrad567/gray-motion-core/internal/arbitration"
	"github.com/nerrad567/gray-motion-core/internal/safety"
	"github.com/nerrad567/gray-motion-core/internal/sequence"
)

// manualSequenceID is the sequence id reported for manual moves.
const manualSequenceID = "manual"

// submit validates cmd and admits it as a one-step sequence.
func (e *Engine) submit(now time.Time, cmd MotionCommand) (Admission, error) {
	if len(cmd.Targets) == 0 {
		return Admission{}, fmt.Errorf("%w: no targets", ErrInvalidCommand)
	}
	if cmd.Duration < 0 {
		return Admission{}, fmt.Errorf("%w: negative duration", ErrInvalidCommand)
	}
	if cmd.Priority == 0 {
		cmd.Priority = e.cfg.ManualPriority
	}
	if cmd.Priority < sequence.MinPriority || cmd.Priority > sequence.MaxPriority {
		return Admission{}, fmt.Errorf("%w: priority must be %d-%d", ErrInvalidCommand, sequence.MinPriority, sequence.MaxPriority)
	}
	if cmd.Origin == "" {
		cmd.Origin = OriginManual
	}
	if !cmd.Origin.Valid() {
		return Admission{}, fmt.Errorf("%w: unknown origin %q", ErrInvalidCommand, cmd.Origin)
	}
	if cmd.Duration == 0 {
		cmd.Duration = e.cfg.ManualDuration
	}
	for name := range cmd.Targets {
		if _, err := e.registry.Resolve(name); err != nil {
			return Admission{}, err
		}
	}

	fp := cmd.fingerprint()
	for _, x := range e.executions {
		if x.fingerprint == fp {
			return Admission{
				ExecutionID: x.id,
				SequenceID:  x.seq.ID,
				Priority:    x.priority,
				Channels:    x.channels,
				Duplicate:   true,
			}, nil
		}
	}

	seq := &sequence.Sequence{
		ID:       manualSequenceID,
		Name:     "manual move",
		Priority: cmd.Priority,
		Steps: []sequence.Step{{
			At:       0,
			Duration: cmd.Duration,
			Targets:  maps.Clone(cmd.Targets),
		}},
	}
	return e.admit(now, seq, cmd.Priority, cmd.Origin, cmd.Source, fp)
}

// execute admits catalog sequence id.
func (e *Engine) execute(now time.Time, id string, opts ExecuteOptions) (Admission, error) {
	seq, err := e.catalog.Get(id)
	if err != nil {
		return Admission{}, err
	}

	priority := seq.Priority
	if opts.Priority != 0 {
		priority = opts.Priority
	}
	if priority < sequence.MinPriority || priority > sequence.MaxPriority {
		return Admission{}, fmt.Errorf("%w: priority must be %d-%d", ErrInvalidCommand, sequence.MinPriority, sequence.MaxPriority)
	}
	origin := opts.Origin
	if origin == "" {
		origin = OriginSequence
	}
	if !origin.Valid() {
		return Admission{}, fmt.Errorf("%w: unknown origin %q", ErrInvalidCommand, origin)
	}

	return e.admit(now, seq, priority, origin, opts.Source, "")
}

// admit runs arbitration for seq and, if admitted, starts an execution.
// Channels are reserved all together or not at all.
func (e *Engine) admit(now time.Time, seq *sequence.Sequence, priority int, origin Origin, source, fp string) (Admission, error) {
	channels := seq.Channels()
	if !e.monitor.IsCommandAdmissible(channels...) {
		if e.monitor.State() == safety.EmergencyStop {
			return Admission{}, safety.ErrEmergencyStopActive
		}
		return Admission{}, ErrChannelFaulted
	}

	id := e.newID()
	plan, err := e.table.Plan(arbitration.Request{
		Owner: arbitration.Owner{
			ID:         id,
			SequenceID: seq.ID,
			Priority:   priority,
			Origin:     string(origin),
		},
		Channels: channels,
	})
	if err != nil {
		return Admission{}, err
	}
	if err := e.table.Apply(plan); err != nil {
		return Admission{}, err
	}

	preempted := make([]string, 0, len(plan.Preempt))
	for _, o := range plan.Preempt {
		if x := e.lookup(o.ID); x != nil {
			e.finish(x, now, OutcomePreempted, "preempted", id)
		}
		preempted = append(preempted, o.ID)
	}

	// Clamping reports a soft violation, so it runs only once the
	// request is certain to start.
	var clamped []string
	if seq.ID == manualSequenceID {
		targets := seq.Steps[0].Targets
		for _, name := range slices.Sorted(maps.Keys(targets)) {
			limited := e.registry.ClampToSafeRange(name, targets[name])
			if limited != targets[name] {
				targets[name] = limited
				clamped = append(clamped, name)
			}
		}
	}

	start := make(map[string]float64, len(channels))
	for _, ch := range channels {
		start[ch], _ = e.registry.Position(ch)
	}

	x := &execution{
		id:          id,
		seq:         seq,
		origin:      origin,
		source:      source,
		priority:    priority,
		fingerprint: fp,
		channels:    channels,
		startedAt:   now,
		tracks:      buildTracks(seq, start),
	}
	e.executions = append(e.executions, x)

	e.logger.Info("execution started",
		"execution_id", id,
		"sequence", seq.ID,
		"priority", priority,
		"origin", string(origin),
		"channels", channels,
	)
	e.events.Emit(EventExecutionStarted, x.event("", "", "", now))

	return Admission{
		ExecutionID: id,
		SequenceID:  seq.ID,
		Priority:    priority,
		Channels:    channels,
		Preempted:   preempted,
		Clamped:     clamped,
	}, nil
}

func (e *Engine) lookup(id string) *execution {
	for _, x := range e.executions {
		if x.id == id {
			return x
		}
	}
	return nil
}
