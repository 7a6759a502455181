package discovery

import "errors"

// Common errors returned by the discovery package.
var (
	// ErrNoDataDirs is returned when none of the configured data
	// directories exist.
	ErrNoDataDirs = errors.New("no data directory found")

	// ErrInvalidPath is returned when a data directory path is not a
	// directory.
	ErrInvalidPath = errors.New("invalid or inaccessible path")
)
