package console

import "errors"

// Sentinel errors for the console.
var (
	// ErrPendingFull is returned when the pending ring is full and the line was dropped.
	ErrPendingFull = errors.New("console pending queue is full")

	// ErrMuted is returned when a line is discarded because the console is muted.
	ErrMuted = errors.New("console is muted")

	// ErrInvalidIndex is returned by CopyText for an out-of-range record index.
	ErrInvalidIndex = errors.New("record index out of range")
)
