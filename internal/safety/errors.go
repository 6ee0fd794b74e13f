package safety

import "errors"

var (
	// ErrViolationsStillActive is returned by Reset while any hard
	// violation remains active.
	ErrViolationsStillActive = errors.New("safety: violations still active")

	// ErrEmergencyStopActive is returned to commands submitted while the
	// system is in EMERGENCY_STOP.
	ErrEmergencyStopActive = errors.New("safety: emergency stop active")
)
