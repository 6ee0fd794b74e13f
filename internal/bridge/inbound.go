package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-motion-core/internal/arbitration"
	"github.com/nerrad567/gray-motion-core/internal/broadcast"
	"github.com/nerrad567/gray-motion-core/internal/channel"
	"github.com/nerrad567/gray-motion-core/internal/infrastructure/config"
	"github.com/nerrad567/gray-motion-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-motion-core/internal/motion"
	"github.com/nerrad567/gray-motion-core/internal/safety"
)

// dispatchTimeout bounds one call into the engine from an MQTT handler.
// The engine's own arbitration timeout is normally much shorter.
const dispatchTimeout = time.Second

// Subscriber is the MQTT subscribe surface. *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Dispatcher is the part of the engine inbound messages drive.
// *motion.Engine satisfies it.
type Dispatcher interface {
	Execute(ctx context.Context, id string, opts motion.ExecuteOptions) (motion.Admission, error)
	Observe(ctx context.Context, obs safety.Observation) (safety.State, error)
}

// MetricReporter receives metric readings. *broadcast.Hub satisfies it.
type MetricReporter interface {
	ReportMetric(r broadcast.MetricReading) (broadcast.Alert, bool)
}

// Logger is the logging surface the bridge needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// InboundConfig holds the inbound handler's collaborators.
type InboundConfig struct {
	Engine   Dispatcher
	Alerts   MetricReporter
	Channels []channel.Descriptor
	Mappings map[string]config.EventMapping
	QoS      byte
	Logger   Logger
}

// Inbound handles messages from the vision, monitoring and controller
// collaborators.
//
// Thread Safety: handlers may run concurrently on paho goroutines.
type Inbound struct {
	engine   Dispatcher
	alerts   MetricReporter
	mappings map[string]config.EventMapping
	qos      byte
	logger   Logger
	topics   mqtt.Topics

	// byController lists channel names per controller ID.
	byController map[string][]string

	mu      sync.Mutex
	offline map[string]bool
}

// NewInbound creates the inbound handler. Engine and Alerts may be nil, in
// which case the corresponding messages are ignored.
func NewInbound(cfg InboundConfig) *Inbound {
	in := &Inbound{
		engine:       cfg.Engine,
		alerts:       cfg.Alerts,
		mappings:     cfg.Mappings,
		qos:          cfg.QoS,
		logger:       cfg.Logger,
		byController: make(map[string][]string),
		offline:      make(map[string]bool),
	}
	if in.logger == nil {
		in.logger = noopLogger{}
	}
	for _, d := range cfg.Channels {
		in.byController[d.Controller] = append(in.byController[d.Controller], d.Name)
	}
	return in
}

// Subscribe registers the inbound handlers on sub.
func (in *Inbound) Subscribe(sub Subscriber) error {
	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{in.topics.VisionEvents(), in.HandleVision},
		{in.topics.AllMetrics(), in.HandleMetric},
		{in.topics.AllControllerHealth(), in.HandleHealth},
	}
	for _, s := range subs {
		if err := sub.Subscribe(s.topic, in.qos, s.handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", s.topic, err)
		}
	}
	return nil
}

// HandleVision starts the sequence mapped to a vision event. A busy
// channel is an expected outcome and is not reported as an error.
func (in *Inbound) HandleVision(_ string, payload []byte) error {
	var ev VisionEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Event == "" {
		return fmt.Errorf("%w: vision event", ErrInvalidPayload)
	}
	mapping, ok := in.mappings[ev.Event]
	if !ok {
		in.logger.Debug("vision event not mapped", "event", ev.Event)
		return nil
	}
	if in.engine == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	source := "vision:" + ev.Event
	adm, err := in.engine.Execute(ctx, mapping.Sequence, motion.ExecuteOptions{
		Priority: mapping.Priority,
		Origin:   motion.OriginSequence,
		Source:   source,
	})
	switch {
	case errors.Is(err, arbitration.ErrChannelBusy):
		in.logger.Debug("vision event ignored, channels busy", "event", ev.Event, "sequence", mapping.Sequence)
		return nil
	case err != nil:
		return fmt.Errorf("executing %s for %s: %w", mapping.Sequence, ev.Event, err)
	}
	in.logger.Info("vision event started sequence",
		"event", ev.Event, "sequence", mapping.Sequence, "execution", adm.ExecutionID, "duplicate", adm.Duplicate)
	return nil
}

// HandleMetric feeds a reading on graymotion/metrics/{metric} to the
// alert throttle.
func (in *Inbound) HandleMetric(topic string, payload []byte) error {
	metric := mqtt.Segment(topic, 2)
	if metric == "" {
		return fmt.Errorf("%w: metric topic %q", ErrInvalidPayload, topic)
	}
	var m MetricMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("%w: metric %s: %w", ErrInvalidPayload, metric, err)
	}
	if in.alerts == nil {
		return nil
	}
	in.alerts.ReportMetric(broadcast.MetricReading{
		Metric:    metric,
		Value:     m.Value,
		Threshold: m.Threshold,
		Unit:      m.Unit,
		Source:    m.Source,
		At:        m.Timestamp,
	})
	return nil
}

// HandleHealth raises a hard controller_offline violation on every channel
// of a controller that reports offline, and clears them when it reports
// online again. Repeated reports of the same state are ignored.
func (in *Inbound) HandleHealth(topic string, payload []byte) error {
	controller := mqtt.Segment(topic, 2)
	var h HealthMessage
	if err := json.Unmarshal(payload, &h); err != nil || controller == "" {
		return fmt.Errorf("%w: controller health on %q", ErrInvalidPayload, topic)
	}

	channels, known := in.byController[controller]
	if !known {
		in.logger.Debug("health from unknown controller", "controller", controller)
		return nil
	}

	in.mu.Lock()
	wasOffline := in.offline[controller]
	changed := wasOffline == h.Online
	in.offline[controller] = !h.Online
	in.mu.Unlock()

	if !changed || in.engine == nil {
		return nil
	}
	if h.Online {
		in.logger.Info("controller online", "controller", controller)
	} else {
		in.logger.Warn("controller offline", "controller", controller, "reason", h.Reason)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	for _, name := range channels {
		_, err := in.engine.Observe(ctx, safety.Observation{
			Metric:   safety.MetricControllerOffline,
			Channel:  name,
			Severity: safety.Hard,
			Active:   !h.Online,
			At:       h.Timestamp,
		})
		if err != nil {
			// Forget the state so the next report retries.
			in.mu.Lock()
			in.offline[controller] = wasOffline
			in.mu.Unlock()
			return fmt.Errorf("observing %s on %s: %w", safety.MetricControllerOffline, name, err)
		}
	}
	return nil
}
