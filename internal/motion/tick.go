package motion

import (
	"errors"
	"time"

	"github.com/nerrad567/gray-motion-core/internal/channel"
	"github.com/nerrad567/gray-motion-core/internal/safety"
)

// pendingWrite is one channel position computed for this tick.
type pendingWrite struct {
	exec     *execution
	channel  string
	position float64
}

// tick runs one control period:
//
//  1. watchdog check on the gap since the previous tick
//  2. in EMERGENCY_STOP: safe pose (once), probes, publish, nothing else
//  3. advance executions and check every interpolated target
//  4. write through the registry, stopping at the first failure
//  5. fire due cues and complete finished executions
//  6. publish the snapshot
func (e *Engine) tick(now time.Time) {
	e.ticks++
	e.checkWatchdog(now)
	e.lastTick = now

	if e.ticks%heartbeatTicks == 0 {
		e.logger.Debug("control loop heartbeat", "ticks", e.ticks, "executions", len(e.executions),
			"safety", e.monitor.State().String())
	}

	if e.monitor.State() == safety.EmergencyStop {
		e.haltAll(now)
		e.holdSafePose(now)
		e.probeFaulted(now)
		e.publish(now)
		return
	}

	writes := e.advance(now)
	if e.write(now, writes) {
		e.fireCues(now)
		e.completeFinished(now)
	}

	e.checkOverrun(now)
	e.publish(now)
}

// advance computes this tick's positions. An execution with any target
// the monitor refuses is cancelled as a whole and contributes no writes.
func (e *Engine) advance(now time.Time) []pendingWrite {
	var writes []pendingWrite

	for _, x := range append([]*execution(nil), e.executions...) {
		elapsed := x.elapsed(now)
		var own []pendingWrite
		rejected := ""

		for _, ch := range x.channels {
			pos, ok := x.tracks[ch].advance(elapsed)
			if !ok {
				continue
			}
			d, err := e.registry.Resolve(ch)
			if err != nil || !e.monitor.IsTargetAdmissible(ch, pos, d.Min, d.Max) {
				rejected = ch
				break
			}
			if d.NearLimit(pos, e.cfg.EdgeMargin) && !e.monitor.HasViolation(safety.MetricPositionNearEdge, ch) {
				e.monitor.Evaluate(safety.Observation{
					Metric:    safety.MetricPositionNearEdge,
					Channel:   ch,
					Severity:  safety.Soft,
					Value:     pos,
					Threshold: e.cfg.EdgeMargin,
					Active:    true,
					At:        now,
				})
			}
			own = append(own, pendingWrite{exec: x, channel: ch, position: pos})
		}

		if rejected != "" {
			e.logger.Warn("target refused by safety monitor", "execution_id", x.id, "channel", rejected)
			e.finish(x, now, OutcomeCancelled, "target_refused: "+rejected, "")
			continue
		}
		writes = append(writes, own...)
	}
	return writes
}

// write sends every pending position in order. A failure is a hard
// violation: remaining writes are skipped and the method returns false.
func (e *Engine) write(now time.Time, writes []pendingWrite) bool {
	for _, w := range writes {
		if w.exec.finished {
			continue
		}

		started := e.now()
		err := e.registry.Write(e.runCtx, w.channel, w.position, now)
		latency := e.now().Sub(started)

		if err != nil {
			metric := safety.MetricHardwareWrite
			if errors.Is(err, channel.ErrOutOfRange) {
				metric = safety.MetricOutOfRangeWrite
			}
			e.logger.Error("channel write failed", "channel", w.channel, "execution_id", w.exec.id, "error", err)
			e.evaluate(safety.Observation{
				Metric:   metric,
				Channel:  w.channel,
				Severity: safety.Hard,
				Value:    w.position,
				Active:   true,
				At:       now,
			})
			return false
		}

		e.observeLatency(w.channel, latency, now)
	}
	return true
}

func (e *Engine) observeLatency(ch string, latency time.Duration, now time.Time) {
	if e.cfg.WriteLatencyWarning <= 0 {
		return
	}
	slow := latency > e.cfg.WriteLatencyWarning
	if !slow && !e.monitor.HasViolation(safety.MetricWriteLatency, ch) {
		return
	}
	e.monitor.Evaluate(safety.Observation{
		Metric:    safety.MetricWriteLatency,
		Channel:   ch,
		Severity:  safety.Soft,
		Value:     float64(latency.Microseconds()) / 1000,
		Threshold: float64(e.cfg.WriteLatencyWarning.Microseconds()) / 1000,
		Active:    slow,
		At:        now,
	})
}

func (e *Engine) fireCues(now time.Time) {
	for _, x := range e.executions {
		for _, cue := range x.dueCues(now) {
			if err := e.cues.Fire(cue); err != nil {
				e.logger.Warn("cue trigger failed", "execution_id", x.id, "kind", cue.Kind, "name", cue.Name, "error", err)
			}
		}
	}
}

func (e *Engine) completeFinished(now time.Time) {
	for _, x := range append([]*execution(nil), e.executions...) {
		if x.complete(now) {
			e.finish(x, now, OutcomeCompleted, "", "")
		}
	}
}

// checkWatchdog raises a hard violation when the loop stalled for longer
// than the watchdog timeout, and clears it on the next punctual tick.
func (e *Engine) checkWatchdog(now time.Time) {
	if e.lastTick.IsZero() {
		return
	}
	gap := now.Sub(e.lastTick)
	stalled := gap > e.cfg.WatchdogTimeout
	if !stalled && !e.monitor.HasViolation(safety.MetricWatchdog, "") {
		return
	}
	if stalled {
		e.logger.Error("control loop stalled", "gap", gap.String(), "timeout", e.cfg.WatchdogTimeout.String())
	}
	e.evaluate(safety.Observation{
		Metric:    safety.MetricWatchdog,
		Severity:  safety.Hard,
		Value:     float64(gap.Milliseconds()),
		Threshold: float64(e.cfg.WatchdogTimeout.Milliseconds()),
		Active:    stalled,
		At:        now,
	})
}

// checkOverrun compares the time spent in this tick with the period.
func (e *Engine) checkOverrun(started time.Time) {
	spent := e.now().Sub(started)
	over := spent > e.cfg.TickInterval
	if !over && !e.monitor.HasViolation(safety.MetricTickOverrun, "") {
		return
	}
	e.monitor.Evaluate(safety.Observation{
		Metric:    safety.MetricTickOverrun,
		Severity:  safety.Soft,
		Value:     float64(spent.Microseconds()) / 1000,
		Threshold: float64(e.cfg.TickInterval.Microseconds()) / 1000,
		Active:    over,
		At:        started,
	})
}

// holdSafePose writes every channel's safe position once after entering
// EMERGENCY_STOP when configured to do so.
func (e *Engine) holdSafePose(now time.Time) {
	if !e.safePosePending {
		return
	}
	e.safePosePending = false

	for _, d := range e.registry.Descriptors() {
		if err := e.registry.Write(e.runCtx, d.Name, d.SafePosition(), now); err != nil {
			e.logger.Error("safe pose write failed", "channel", d.Name, "error", err)
			e.monitor.Evaluate(safety.Observation{
				Metric:   safety.MetricHardwareWrite,
				Channel:  d.Name,
				Severity: safety.Hard,
				Value:    d.SafePosition(),
				Active:   true,
				At:       now,
			})
		}
	}
}

// probeFaulted re-writes the held position of channels with a write
// fault. A successful write clears the fault so that Reset can succeed;
// the position itself does not change.
func (e *Engine) probeFaulted(now time.Time) {
	if !e.lastProbe.IsZero() && now.Sub(e.lastProbe) < probeInterval {
		return
	}
	e.lastProbe = now

	for _, v := range e.monitor.Status().Violations {
		if v.Channel == "" || (v.Metric != safety.MetricHardwareWrite && v.Metric != safety.MetricOutOfRangeWrite) {
			continue
		}
		held, ok := e.registry.Position(v.Channel)
		if !ok {
			continue
		}
		if err := e.registry.Write(e.runCtx, v.Channel, held, now); err != nil {
			e.logger.Debug("faulted channel still failing", "channel", v.Channel, "error", err)
			continue
		}
		e.logger.Info("faulted channel recovered", "channel", v.Channel, "metric", v.Metric)
		e.monitor.Evaluate(safety.Observation{Metric: v.Metric, Channel: v.Channel, Active: false, At: now})
	}
}
