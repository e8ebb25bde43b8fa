package dedup

import "errors"

var (
	// ErrTimeout settles a flight whose wall-clock deadline expired. The
	// underlying operation was cancelled; every waiter receives this.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled settles a flight that was explicitly aborted (caller,
	// coordinator shutdown, or stale sweep). Never retried; distinct from
	// ErrTimeout so callers can tell "gave up waiting" from "was told to
	// stop".
	ErrCancelled = errors.New("operation cancelled")
)
