package notify

import "errors"

var (
	// ErrMissingSender is returned when no sender is configured.
	ErrMissingSender = errors.New("notification sender is required")

	// ErrDispatcherRunning is returned when Run is called twice.
	ErrDispatcherRunning = errors.New("dispatcher is already running")
)
