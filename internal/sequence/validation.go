package sequence

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nerrad567/gray-motion-core/internal/channel"
)

// Validation constants.
const (
	maxIDLength     = 64
	maxNameLength   = 100
	maxSteps        = 1000
	MinPriority     = 1
	MaxPriority     = 100
	DefaultPriority = 50
	idPattern       = `^[A-Za-z0-9][A-Za-z0-9_.-]*$`
)

var idRegex = regexp.MustCompile(idPattern)

// ChannelResolver resolves channel names at load time.
type ChannelResolver interface {
	Resolve(name string) (channel.Descriptor, error)
}

// Validate checks a sequence against the channel profile. Every target
// must name a known channel and lie inside its safe range, steps must be
// ordered and must not overlap.
func Validate(s *Sequence, channels ChannelResolver) error {
	if s == nil {
		return ErrInvalidSequence
	}

	if s.ID == "" || len(s.ID) > maxIDLength || !idRegex.MatchString(s.ID) {
		return fmt.Errorf("%w: id %q must match %s and be at most %d characters", ErrInvalidSequence, s.ID, idPattern, maxIDLength)
	}
	if len(s.Name) > maxNameLength {
		return fmt.Errorf("%w: %s: name exceeds %d characters", ErrInvalidSequence, s.ID, maxNameLength)
	}
	if s.Priority < MinPriority || s.Priority > MaxPriority {
		return fmt.Errorf("%w: %s: priority must be %d-%d", ErrInvalidSequence, s.ID, MinPriority, MaxPriority)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: %s: no steps", ErrInvalidSequence, s.ID)
	}
	if len(s.Steps) > maxSteps {
		return fmt.Errorf("%w: %s: exceeds maximum of %d steps", ErrInvalidSequence, s.ID, maxSteps)
	}

	for i, step := range s.Steps {
		if err := validateStep(step, channels); err != nil {
			return fmt.Errorf("%s: step[%d]: %w", s.ID, i, err)
		}
		if i > 0 && step.At < s.Steps[i-1].End() {
			return fmt.Errorf("%s: step[%d]: %w: starts at %v before step[%d] ends at %v",
				s.ID, i, ErrInvalidStep, step.At, i-1, s.Steps[i-1].End())
		}
	}

	return nil
}

func validateStep(step Step, channels ChannelResolver) error {
	if step.At < 0 || step.Duration < 0 {
		return fmt.Errorf("%w: negative offset or duration", ErrInvalidStep)
	}
	if len(step.Targets) == 0 && step.Trigger == nil {
		return fmt.Errorf("%w: needs targets or a trigger", ErrInvalidStep)
	}
	if len(step.Targets) > 0 && step.Duration == 0 {
		return fmt.Errorf("%w: motion steps need a positive duration", ErrInvalidStep)
	}

	for name, target := range step.Targets {
		d, err := channels.Resolve(name)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidStep, err)
		}
		if !d.Contains(target) {
			return fmt.Errorf("%w: %s target %g outside [%g, %g]", ErrInvalidStep, name, target, d.Min, d.Max)
		}
	}

	if tr := step.Trigger; tr != nil {
		if strings.TrimSpace(tr.Kind) == "" || strings.TrimSpace(tr.Name) == "" {
			return fmt.Errorf("%w: trigger needs kind and name", ErrInvalidStep)
		}
	}

	return nil
}
