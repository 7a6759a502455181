package source

import "errors"

// Common errors returned by sources.
var (
	// ErrDataSourceUnavailable is returned when a fetch produced nothing
	// because the source could not be read. It is transient: the monitor
	// keeps ticking and marks the snapshot stale after repeated failures.
	ErrDataSourceUnavailable = errors.New("data source unavailable")

	// ErrMissingCommand is returned by NewCommand without a command.
	ErrMissingCommand = errors.New("source command is required")

	// ErrMissingDependency is returned by NewFiles without a discoverer
	// or reader.
	ErrMissingDependency = errors.New("source dependency is required")
)
