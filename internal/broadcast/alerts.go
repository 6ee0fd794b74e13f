package broadcast

// ReportMetric feeds one reading into the throttle table.
//
// A reading over threshold raises an alert unless the same metric raised
// one less than AlertWindow ago; throttled readings are counted and
// reported on the next raise. The first reading back under threshold
// after a raise emits exactly one clear. It returns the alert emitted,
// if any.
func (h *Hub) ReportMetric(r MetricReading) (Alert, bool) {
	if r.At.IsZero() {
		r.At = h.now()
	}
	over := r.Value > r.Threshold

	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.throttle[r.Metric]
	if !ok {
		entry = &throttleEntry{}
		h.throttle[r.Metric] = entry
	}

	var alert Alert
	switch {
	case over && (entry.lastRaised.IsZero() || r.At.Sub(entry.lastRaised) >= h.cfg.AlertWindow):
		alert = newAlert(r, TypeAlertRaised)
		alert.Suppressed = entry.suppressed
		entry.lastRaised = r.At
		entry.active = true
		entry.suppressed = 0
	case over:
		entry.suppressed++
		return Alert{}, false
	case entry.active:
		alert = newAlert(r, TypeAlertCleared)
		entry.active = false
	default:
		return Alert{}, false
	}

	h.history = append(h.history, alert)
	if excess := len(h.history) - h.cfg.AlertHistory; excess > 0 {
		h.history = append([]Alert(nil), h.history[excess:]...)
	}
	h.deliverLocked(Message{Topic: TopicAlerts, Type: alert.Kind, Timestamp: r.At, Payload: alert}, false)

	h.logger.Info("metric alert", "metric", r.Metric, "kind", alert.Kind, "value", r.Value, "threshold", r.Threshold)
	return alert, true
}

// Alerts returns the retained alert history, oldest first.
func (h *Hub) Alerts() []Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Alert(nil), h.history...)
}

func newAlert(r MetricReading, kind string) Alert {
	return Alert{
		Metric:    r.Metric,
		Kind:      kind,
		Value:     r.Value,
		Threshold: r.Threshold,
		Unit:      r.Unit,
		Source:    r.Source,
		At:        r.At,
	}
}
