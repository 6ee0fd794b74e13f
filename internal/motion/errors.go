package motion

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-motion-core/internal/arbitration"
	"github.com/nerrad567/gray-motion-core/internal/channel"
	"github.com/nerrad567/gray-motion-core/internal/safety"
	"github.com/nerrad567/gray-motion-core/internal/sequence"
)

// Domain errors for the motion package. Check with errors.Is().
var (
	// ErrArbitrationTimeout is returned when the control loop does not
	// acknowledge a request within the arbitration timeout.
	ErrArbitrationTimeout = errors.New("motion: arbitration timeout")

	// ErrInvalidCommand is returned for a malformed motion command.
	ErrInvalidCommand = errors.New("motion: invalid command")

	// ErrChannelFaulted is returned when a requested channel has an active
	// hard violation.
	ErrChannelFaulted = errors.New("motion: channel faulted")

	// ErrExecutionNotFound is returned by Cancel for an unknown or
	// finished execution.
	ErrExecutionNotFound = errors.New("motion: execution not found")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("motion: engine already running")
)

// Machine-readable rejection reasons.
const (
	ReasonUnknownChannel        = "unknown_channel"
	ReasonChannelBusy           = "channel_busy"
	ReasonArbitrationTimeout    = "arbitration_timeout"
	ReasonArbitrationConflict   = "arbitration_conflict"
	ReasonViolationsStillActive = "violations_still_active"
	ReasonHardwareWriteFailure  = "hardware_write_failure"
	ReasonOutOfRange            = "out_of_range"
	ReasonEmergencyStopActive   = "emergency_stop_active"
	ReasonChannelFaulted        = "channel_faulted"
	ReasonSequenceNotFound      = "sequence_not_found"
	ReasonExecutionNotFound     = "execution_not_found"
	ReasonInvalidCommand        = "invalid_command"
	ReasonCancelled             = "cancelled"
	ReasonInternal              = "internal_error"
)

// Reason maps an error returned by the engine to a stable machine code.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, channel.ErrUnknownChannel):
		return ReasonUnknownChannel
	case errors.Is(err, arbitration.ErrChannelBusy):
		return ReasonChannelBusy
	case errors.Is(err, ErrArbitrationTimeout):
		return ReasonArbitrationTimeout
	case errors.Is(err, arbitration.ErrArbitrationConflict):
		return ReasonArbitrationConflict
	case errors.Is(err, safety.ErrViolationsStillActive):
		return ReasonViolationsStillActive
	case errors.Is(err, channel.ErrHardwareWriteFailure):
		return ReasonHardwareWriteFailure
	case errors.Is(err, channel.ErrOutOfRange):
		return ReasonOutOfRange
	case errors.Is(err, safety.ErrEmergencyStopActive):
		return ReasonEmergencyStopActive
	case errors.Is(err, ErrChannelFaulted):
		return ReasonChannelFaulted
	case errors.Is(err, sequence.ErrSequenceNotFound):
		return ReasonSequenceNotFound
	case errors.Is(err, ErrExecutionNotFound):
		return ReasonExecutionNotFound
	case errors.Is(err, ErrInvalidCommand):
		return ReasonInvalidCommand
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	default:
		return ReasonInternal
	}
}
