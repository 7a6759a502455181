package blocks

import "errors"

// Common errors returned by the blocks package.
var (
	// ErrInvalidRetention is returned when a retention bound is negative.
	ErrInvalidRetention = errors.New("invalid retention policy")

	// ErrEventExpired is returned for an event older than the retained
	// history. Its block was evicted and the event is dropped.
	ErrEventExpired = errors.New("event predates retained history")

	// ErrInvalidHistory is returned by Restore for inconsistent blocks.
	ErrInvalidHistory = errors.New("invalid block history")
)
