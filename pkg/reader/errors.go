package reader

import "errors"

// Common errors returned by the reader.
var (
	// ErrFileLocked is returned when a file is locked by another process.
	ErrFileLocked = errors.New("file is locked")

	// ErrFileNotFound is returned when a file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrPermissionDenied is returned when file access is denied.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidOffset is returned when an offset is negative.
	ErrInvalidOffset = errors.New("invalid offset")

	// ErrReaderClosed is returned when using a closed reader.
	ErrReaderClosed = errors.New("reader is closed")

	// ErrMissingStore is returned by New without a position store.
	ErrMissingStore = errors.New("position store is required")
)
