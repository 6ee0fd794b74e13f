package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-motion-core/internal/motion"
)

// Logger is the logging surface the hub needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Config holds the hub's rates and bounds.
type Config struct {
	// StatusInterval is the period of the status topic.
	StatusInterval time.Duration

	// AlertWindow is the minimum gap between two raised alerts of the
	// same metric.
	AlertWindow time.Duration

	// AlertHistory is how many alerts are kept for late joiners.
	AlertHistory int

	// PendingSafetyEvents bounds the safety events kept while no
	// session is connected.
	PendingSafetyEvents int

	// SessionQueue bounds each session's event and alert queue.
	SessionQueue int
}

// DefaultConfig returns 1 Hz status, 10 s alert window and 20 alerts.
func DefaultConfig() Config {
	return Config{
		StatusInterval:      time.Second,
		AlertWindow:         10 * time.Second,
		AlertHistory:        20,
		PendingSafetyEvents: 64,
		SessionQueue:        1024,
	}
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// WithCommandHandler sets the handler for observer commands.
func WithCommandHandler(c CommandHandler) Option {
	return func(h *Hub) { h.commands = c }
}

// throttleEntry is one row of the alert throttle table.
type throttleEntry struct {
	lastRaised time.Time
	active     bool
	suppressed int
}

// Hub fans engine events, periodic status and metric alerts out to every
// session. It implements motion.EventSink.
//
// Thread Safety: all methods are safe for concurrent use. Emit never
// blocks on a session: slow sessions are closed instead.
type Hub struct {
	cfg      Config
	source   StatusSource
	commands CommandHandler
	logger   Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	pending  []Message
	dropped  int
	throttle map[string]*throttleEntry
	history  []Alert
}

// NewHub creates a hub. source may be nil, in which case no status is
// published.
func NewHub(cfg Config, source StatusSource, opts ...Option) *Hub {
	def := DefaultConfig()
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.AlertWindow <= 0 {
		cfg.AlertWindow = def.AlertWindow
	}
	if cfg.AlertHistory <= 0 {
		cfg.AlertHistory = def.AlertHistory
	}
	if cfg.PendingSafetyEvents <= 0 {
		cfg.PendingSafetyEvents = def.PendingSafetyEvents
	}
	if cfg.SessionQueue <= 0 {
		cfg.SessionQueue = def.SessionQueue
	}

	h := &Hub{
		cfg:      cfg,
		source:   source,
		logger:   noopLogger{},
		now:      time.Now,
		sessions: make(map[string]*Session),
		throttle: make(map[string]*throttleEntry),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetCommandHandler installs the command handler after construction.
func (h *Hub) SetCommandHandler(c CommandHandler) {
	h.mu.Lock()
	h.commands = c
	h.mu.Unlock()
}

// Run publishes status every StatusInterval until ctx is cancelled, then
// closes every session.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-ticker.C:
			h.PublishStatus()
		}
	}
}

// Register opens a new session subscribed to every topic. The session
// immediately receives the alert history, any safety events that were
// emitted while nobody was connected, and the current status.
func (h *Hub) Register() *Session {
	s := newSession(uuid.NewString(), h.cfg.SessionQueue)
	now := h.now()

	h.mu.Lock()
	h.sessions[s.id] = s
	if len(h.history) > 0 {
		s.enqueue(Message{Topic: TopicAlerts, Type: TypeAlertHistory, Timestamp: now, Payload: append([]Alert(nil), h.history...)})
	}
	if len(h.pending) > 0 {
		if h.dropped > 0 {
			h.logger.Warn("safety events dropped while no observer was connected", "dropped", h.dropped)
		}
		for _, msg := range h.pending {
			s.enqueue(msg)
		}
		h.pending = nil
		h.dropped = 0
	}
	count := len(h.sessions)
	h.mu.Unlock()

	if status, ok := h.statusMessage(now, count); ok {
		s.offerStatus(status)
	}
	h.logger.Debug("observer session opened", "session", s.id, "sessions", count)
	return s
}

// Unregister closes s and removes it from the hub.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	count := len(h.sessions)
	h.mu.Unlock()

	s.Close()
	h.logger.Debug("observer session closed", "session", s.id, "sessions", count)
}

// SessionCount returns the number of open sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Emit delivers an engine event to every session subscribed to events.
// Safety transitions go to every session regardless of subscription, and
// are held for the next session when none is connected.
func (h *Hub) Emit(eventType string, payload any) {
	msg := Message{Topic: TopicEvents, Type: eventType, Timestamp: h.now(), Payload: payload}
	safetyEvent := eventType == motion.EventSafetyTransition

	h.mu.Lock()
	defer h.mu.Unlock()

	if safetyEvent && len(h.sessions) == 0 {
		h.pending = append(h.pending, msg)
		if over := len(h.pending) - h.cfg.PendingSafetyEvents; over > 0 {
			h.pending = append([]Message(nil), h.pending[over:]...)
			h.dropped += over
		}
		return
	}

	h.deliverLocked(msg, safetyEvent)
}

// PublishStatus offers the current snapshot to every status subscriber.
func (h *Hub) PublishStatus() {
	h.mu.Lock()
	sessions := h.sessionsLocked()
	h.mu.Unlock()

	msg, ok := h.statusMessage(h.now(), len(sessions))
	if !ok {
		return
	}
	for _, s := range sessions {
		if s.subscribed(TopicStatus) {
			s.offerStatus(msg)
		}
	}
}

// HandleCommand forwards an observer command to the command handler.
func (h *Hub) HandleCommand(ctx context.Context, cmd Command) (any, error) {
	h.mu.Lock()
	handler := h.commands
	h.mu.Unlock()

	if handler == nil {
		return nil, ErrNoCommandHandler
	}
	return handler.HandleCommand(ctx, cmd)
}

func (h *Hub) statusMessage(now time.Time, sessions int) (Message, bool) {
	if h.source == nil {
		return Message{}, false
	}
	snap := h.source.Snapshot()
	if snap == nil {
		return Message{}, false
	}

	positions := make(map[string]float64, len(snap.Channels))
	for _, c := range snap.Channels {
		positions[c.Name] = c.Position
	}
	return Message{
		Topic:     TopicStatus,
		Type:      TypeStatus,
		Timestamp: now,
		Payload: Status{
			Generation:      snap.Generation,
			State:           snap.Safety.State,
			Violations:      snap.Safety.Violations,
			ActiveSequences: snap.ActiveSequences(),
			Executions:      snap.Executions,
			Positions:       positions,
			Sessions:        sessions,
			At:              snap.At,
		},
	}, true
}

// deliverLocked queues msg on every session that should see it and drops
// sessions that overflow. Caller holds h.mu.
func (h *Hub) deliverLocked(msg Message, always bool) {
	for id, s := range h.sessions {
		if !always && !s.subscribed(msg.Topic) {
			continue
		}
		if !s.enqueue(msg) {
			delete(h.sessions, id)
			h.logger.Warn("observer session closed", "session", id, "reason", s.Err())
		}
	}
}

func (h *Hub) sessionsLocked() []*Session {
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	sessions := h.sessionsLocked()
	clear(h.sessions)
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
