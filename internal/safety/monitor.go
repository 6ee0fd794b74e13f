package safety

import (
	"fmt"
	"time"
)

// Logger is the logging surface the monitor needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Monitor folds observations into the safety state machine.
//
//	NORMAL --soft--> WARNING --hard--> EMERGENCY_STOP
//	   \________________hard________________/
//
// Escalation is automatic. WARNING falls back to NORMAL once every soft
// violation has cleared. EMERGENCY_STOP is latched: it is left only by
// Reset, and only when no hard violation remains.
//
// A Monitor is owned by the control loop and is not safe for concurrent
// use. Other goroutines read the state through the engine snapshot.
type Monitor struct {
	state      State
	since      time.Time
	latched    bool
	violations []Violation

	notify func(Transition)
	logger Logger
}

// NewMonitor returns a monitor in NORMAL.
func NewMonitor(logger Logger) *Monitor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Monitor{state: Normal, logger: logger}
}

// SetNotifier registers the callback that receives every transition.
func (m *Monitor) SetNotifier(fn func(Transition)) {
	m.notify = fn
}

// State returns the current state.
func (m *Monitor) State() State {
	return m.state
}

// Status returns a copy of the state and the ordered active violations.
func (m *Monitor) Status() Status {
	out := make([]Violation, len(m.violations))
	copy(out, m.violations)
	return Status{State: m.state, Violations: out, Latched: m.latched, Since: m.since}
}

// Evaluate applies one observation and returns the resulting state.
func (m *Monitor) Evaluate(obs Observation) State {
	if obs.Active {
		m.raise(obs)
	} else {
		m.clear(obs.key())
	}

	reason := obs.Metric
	if obs.Channel != "" {
		reason = obs.Metric + " on " + obs.Channel
	}
	if !obs.Active {
		reason += " cleared"
	}
	m.settle(reason, obs.At)
	return m.state
}

// TriggerEmergencyStop latches EMERGENCY_STOP from an external trigger.
// The trigger leaves no persistent violation, so Reset succeeds as soon
// as no other hard violation is active.
func (m *Monitor) TriggerEmergencyStop(reason string, at time.Time) State {
	if reason == "" {
		reason = MetricExternalStop
	}
	m.latched = true
	m.transition(EmergencyStop, reason, at)
	return m.state
}

// Reset leaves EMERGENCY_STOP. It fails with ErrViolationsStillActive
// while any hard violation is active. Outside EMERGENCY_STOP it is a no-op.
func (m *Monitor) Reset(at time.Time) error {
	if m.state != EmergencyStop {
		return nil
	}

	if hard := m.hardViolations(); len(hard) > 0 {
		return fmt.Errorf("%w: %d hard (%s)", ErrViolationsStillActive, len(hard), hard[0].Key())
	}

	m.latched = false
	m.settle("reset", at)
	return nil
}

// IsCommandAdmissible reports whether a new command on channels may be
// admitted: never during EMERGENCY_STOP, and never on a channel with an
// active hard violation.
func (m *Monitor) IsCommandAdmissible(channels ...string) bool {
	if m.state == EmergencyStop {
		return false
	}
	for _, name := range channels {
		if m.channelFaulted(name) {
			return false
		}
	}
	return true
}

// IsTargetAdmissible is the per-tick check on an interpolated position.
func (m *Monitor) IsTargetAdmissible(channel string, position, lo, hi float64) bool {
	if m.state == EmergencyStop || m.channelFaulted(channel) {
		return false
	}
	return position >= lo && position <= hi
}

// HasViolation reports whether the violation identified by metric and
// channel is active.
func (m *Monitor) HasViolation(metric, channel string) bool {
	key := Violation{Metric: metric, Channel: channel}.Key()
	for _, v := range m.violations {
		if v.Key() == key {
			return true
		}
	}
	return false
}

func (m *Monitor) raise(obs Observation) {
	v := Violation{
		Metric:    obs.Metric,
		Channel:   obs.Channel,
		Severity:  obs.Severity,
		Threshold: obs.Threshold,
		Observed:  obs.Value,
		At:        obs.At,
	}

	key := obs.key()
	for i := range m.violations {
		if m.violations[i].Key() == key {
			// Keep the original raise time so ordering is stable.
			v.At = m.violations[i].At
			wasHard := m.violations[i].Severity == Hard
			if wasHard {
				v.Severity = Hard
			}
			m.violations[i] = v
			if v.Severity == Hard && !wasHard {
				m.latch(v)
			}
			return
		}
	}

	m.violations = append(m.violations, v)
	if v.Severity == Hard {
		m.latch(v)
	}
}

// latch arms the emergency stop for a violation that has become hard.
func (m *Monitor) latch(v Violation) {
	m.latched = true
	m.logger.Error("hard safety violation", "metric", v.Metric, "channel", v.Channel,
		"observed", v.Observed, "threshold", v.Threshold)
}

func (m *Monitor) clear(key string) {
	for i, v := range m.violations {
		if v.Key() == key {
			m.violations = append(m.violations[:i], m.violations[i+1:]...)
			return
		}
	}
}

// settle recomputes the state from the latch and the active violations.
func (m *Monitor) settle(reason string, at time.Time) {
	next := Normal
	switch {
	case m.latched:
		next = EmergencyStop
	case len(m.violations) > 0:
		next = Warning
	}
	m.transition(next, reason, at)
}

func (m *Monitor) transition(next State, reason string, at time.Time) {
	if next == m.state {
		return
	}

	t := Transition{
		From:       m.state,
		To:         next,
		Reason:     reason,
		Violations: m.Status().Violations,
		At:         at,
	}
	m.state = next
	m.since = at

	if next == EmergencyStop {
		m.logger.Error("emergency stop", "from", t.From.String(), "reason", reason)
	} else {
		m.logger.Info("safety state changed", "from", t.From.String(), "to", next.String(), "reason", reason)
	}

	if m.notify != nil {
		m.notify(t)
	}
}

func (m *Monitor) hardViolations() []Violation {
	var out []Violation
	for _, v := range m.violations {
		if v.Severity == Hard {
			out = append(out, v)
		}
	}
	return out
}

func (m *Monitor) channelFaulted(channel string) bool {
	for _, v := range m.violations {
		if v.Severity == Hard && v.Channel == channel {
			return true
		}
	}
	return false
}
