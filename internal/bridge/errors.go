package bridge

import "errors"

var (
	// ErrWriteFailed is returned when a servo set message could not be
	// delivered to the broker.
	ErrWriteFailed = errors.New("bridge: servo write failed")

	// ErrInvalidPayload is returned for inbound messages that do not decode.
	ErrInvalidPayload = errors.New("bridge: invalid payload")

	// ErrUnmappedEvent is returned when a vision event has no sequence mapping.
	ErrUnmappedEvent = errors.New("bridge: unmapped vision event")
)
