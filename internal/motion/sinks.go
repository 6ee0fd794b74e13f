package motion

// EventSink receives engine events. Emit is called from the control loop
// and must not block; implementations queue or drop on their own terms.
type EventSink interface {
	Emit(eventType string, payload any)
}

// TriggerSink receives step cues. Fire must return without waiting for
// the effect to play; an error is logged and never stops motion.
type TriggerSink interface {
	Fire(cue Cue) error
}

// Sinks fans one event out to several sinks in order.
type Sinks []EventSink

// Emit forwards to every non-nil sink.
func (s Sinks) Emit(eventType string, payload any) {
	for _, sink := range s {
		if sink != nil {
			sink.Emit(eventType, payload)
		}
	}
}

type discardEvents struct{}

func (discardEvents) Emit(string, any) {}

type discardCues struct{}

func (discardCues) Fire(Cue) error { return nil }
