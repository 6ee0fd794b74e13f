package channel

import (
	"context"
	"fmt"
	"time"
)

// maxWriteAttempts is one write plus one retry.
const maxWriteAttempts = 2

// Logger is the logging surface the registry needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// ClampObserver is told whenever ClampToSafeRange changes a position.
type ClampObserver func(name string, requested, clamped float64)

// Registry resolves channel names and is the only path to the hardware.
//
// Descriptors are immutable after construction and safe to read from any
// goroutine. Runtime state (position, timestamp) is written only by Write,
// which the control loop calls from its single goroutine; other readers
// use the engine snapshot instead of the registry.
type Registry struct {
	descriptors map[string]Descriptor
	order       []string
	state       map[string]*State

	hardware     Hardware
	writeTimeout time.Duration
	onClamp      ClampObserver
	logger       Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithWriteTimeout bounds each hardware write attempt.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Registry) { r.writeTimeout = d }
}

// WithClampObserver registers the callback fired on clamping.
func WithClampObserver(fn ClampObserver) Option {
	return func(r *Registry) { r.onClamp = fn }
}

// WithLogger sets the registry logger.
func WithLogger(l Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry builds a registry from a validated profile. Every channel
// starts at its home position.
func NewRegistry(profile *Profile, hw Hardware, opts ...Option) (*Registry, error) {
	if profile == nil {
		return nil, fmt.Errorf("%w: nil profile", ErrInvalidProfile)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if hw == nil {
		hw = Discard
	}

	r := &Registry{
		descriptors:  make(map[string]Descriptor, len(profile.Channels)),
		order:        make([]string, 0, len(profile.Channels)),
		state:        make(map[string]*State, len(profile.Channels)),
		hardware:     hw,
		writeTimeout: 10 * time.Millisecond,
		logger:       noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, d := range profile.Channels {
		r.descriptors[d.Name] = d
		r.order = append(r.order, d.Name)
		r.state[d.Name] = &State{Name: d.Name, Position: d.Home}
	}

	return r, nil
}

// SetClampObserver replaces the clamp callback. Call before the control
// loop starts.
func (r *Registry) SetClampObserver(fn ClampObserver) {
	r.onClamp = fn
}

// Resolve returns the descriptor for name or ErrUnknownChannel.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	d, ok := r.descriptors[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return d, nil
}

// ClampToSafeRange limits position to the channel's safe range. It never
// fails: unknown channels pass the position through unchanged, and
// resolution errors surface elsewhere. A changed value is reported to the
// clamp observer.
func (r *Registry) ClampToSafeRange(name string, position float64) float64 {
	d, ok := r.descriptors[name]
	if !ok {
		return position
	}

	clamped := d.Clamp(position)
	if clamped != position {
		r.logger.Debug("position clamped", "channel", name, "requested", position, "clamped", clamped)
		if r.onClamp != nil {
			r.onClamp(name, position, clamped)
		}
	}
	return clamped
}

// Names returns channel names in profile order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Descriptors returns every descriptor in profile order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.descriptors[name])
	}
	return out
}

// Len returns the number of channels.
func (r *Registry) Len() int {
	return len(r.order)
}

// Position returns the last written position of name.
func (r *Registry) Position(name string) (float64, bool) {
	s, ok := r.state[name]
	if !ok {
		return 0, false
	}
	return s.Position, true
}

// States returns a copy of every channel's runtime state in profile order.
func (r *Registry) States() []State {
	out := make([]State, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.state[name])
	}
	return out
}

// Write sends position to the channel's controller. Each attempt gets the
// configured write timeout; a failed attempt is retried once. On success
// the channel's position and timestamp are updated.
func (r *Registry) Write(ctx context.Context, name string, position float64, now time.Time) error {
	d, err := r.Resolve(name)
	if err != nil {
		return err
	}
	if !d.Contains(position) {
		return fmt.Errorf("%w: %s=%g not in [%g, %g]", ErrOutOfRange, name, position, d.Min, d.Max)
	}

	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		if lastErr = r.writeOnce(ctx, d.Address(), position); lastErr == nil {
			s := r.state[name]
			s.Position = position
			s.UpdatedAt = now
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		r.logger.Warn("hardware write attempt failed", "channel", name, "attempt", attempt, "error", lastErr)
	}

	return fmt.Errorf("%w: %s: %w", ErrHardwareWriteFailure, name, lastErr)
}

func (r *Registry) writeOnce(ctx context.Context, addr Address, position float64) error {
	attemptCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	return r.hardware.Write(attemptCtx, addr, position)
}
