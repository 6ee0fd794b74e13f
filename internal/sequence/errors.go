package sequence

import "errors"

// Domain errors for the sequence package. Check with errors.Is().
var (
	// ErrSequenceNotFound is returned when an id is not in the library.
	ErrSequenceNotFound = errors.New("sequence: not found")

	// ErrInvalidSequence is returned when a sequence fails validation.
	ErrInvalidSequence = errors.New("sequence: invalid")

	// ErrInvalidStep is returned when a step fails validation.
	ErrInvalidStep = errors.New("sequence: invalid step")

	// ErrDuplicateID is returned when two catalog entries share an id.
	ErrDuplicateID = errors.New("sequence: duplicate id")
)
