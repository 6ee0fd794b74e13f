package arbitration

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelBusy is matched by every *BusyError.
	ErrChannelBusy = errors.New("arbitration: channel busy")

	// ErrArbitrationConflict is returned when a request cannot be reserved
	// atomically: it names a channel twice, its owner already holds
	// channels, or the table changed between planning and applying.
	ErrArbitrationConflict = errors.New("arbitration: conflict")
)

// BusyError reports the channel that blocked a request and who holds it.
type BusyError struct {
	Channel string
	Owner   Owner
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("arbitration: channel %s busy (held by %s, priority %d)", e.Channel, e.Owner.ID, e.Owner.Priority)
}

// Is makes errors.Is(err, ErrChannelBusy) match.
func (e *BusyError) Is(target error) bool {
	return target == ErrChannelBusy
}
