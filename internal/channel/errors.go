package channel

import "errors"

// Sentinel errors for channel operations. Check with errors.Is().
var (
	// ErrUnknownChannel is returned when a name does not resolve to a
	// channel in the loaded profile.
	ErrUnknownChannel = errors.New("channel: unknown channel")

	// ErrOutOfRange is returned when a write is attempted outside a
	// channel's safe range. Commands are clamped before they get here, so
	// this is treated as a hard safety violation.
	ErrOutOfRange = errors.New("channel: position out of safe range")

	// ErrHardwareWriteFailure is returned when a write fails twice.
	ErrHardwareWriteFailure = errors.New("channel: hardware write failed")

	// ErrInvalidProfile is returned when a channel profile fails validation.
	ErrInvalidProfile = errors.New("channel: invalid profile")
)
