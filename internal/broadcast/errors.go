package broadcast

import "errors"

// Domain errors for the broadcast package. Check with errors.Is().
var (
	// ErrSessionClosed is returned by a closed session.
	ErrSessionClosed = errors.New("broadcast: session closed")

	// ErrSlowConsumer is the close reason of a session whose queue
	// overflowed.
	ErrSlowConsumer = errors.New("broadcast: session queue overflow")

	// ErrUnknownTopic is returned when subscribing to a topic that does
	// not exist.
	ErrUnknownTopic = errors.New("broadcast: unknown topic")

	// ErrNoCommandHandler is returned when commands arrive but no handler
	// is installed.
	ErrNoCommandHandler = errors.New("broadcast: no command handler")
)
