package history

import "errors"

// Common errors returned by the history store.
var (
	// ErrMissingPath is returned by New without a database path.
	ErrMissingPath = errors.New("history database path is required")

	// ErrSchemaMismatch is returned when the database was written by an
	// incompatible version.
	ErrSchemaMismatch = errors.New("history schema mismatch")

	// ErrStoreClosed is returned when using a closed store.
	ErrStoreClosed = errors.New("history store is closed")
)
