// Package reader provides incremental JSONL reading with position tracking.
//
// It reads complete lines written since the last known offset, decodes
// them into raw usage records and persists the new offset so that a
// restart resumes where it left off. A trailing line without a newline is
// left for the next read.
//
// Example usage:
//
//	r, err := reader.New(reader.Config{
//	    PositionStore: store,
//	}, logger.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	res, err := r.Read(ctx, "/path/to/session.jsonl")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d new records, %d malformed lines\n", len(res.Records), res.Malformed)
package reader

import (
	"context"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/usage"
)

// PositionStore provides persistence for file read positions.
type PositionStore interface {
	// GetPosition retrieves the last read position for a file.
	//
	// Returns 0 if no position is stored (start from beginning).
	GetPosition(path string) (int64, error)

	// SetPosition stores the read position for a file.
	SetPosition(path string, offset int64) error

	// Prune forgets the positions of paths for which keep returns false
	// and reports how many were removed.
	Prune(keep func(path string) bool) (int, error)

	// Clear forgets all stored positions.
	Clear() error
}

// Result is the outcome of one read.
type Result struct {
	// Records are the decoded lines, in file order.
	Records []usage.Record

	// Malformed counts lines that were not valid JSON objects.
	Malformed int

	// Offset is the position after the last complete line.
	Offset int64
}

// Reader provides incremental file reading.
type Reader interface {
	// Read reads new records from a file since the last read position
	// and stores the new position.
	Read(ctx context.Context, path string) (Result, error)

	// ReadFrom reads records from a specific offset.
	//
	// Does not update the stored position.
	ReadFrom(ctx context.Context, path string, offset int64) (Result, error)

	// Reset resets the read position for a file to the beginning.
	Reset(path string) error

	// Close closes the reader and releases resources.
	Close() error
}

// Config contains reader configuration.
type Config struct {
	// PositionStore persists file read positions.
	PositionStore PositionStore

	// MaxRetries is the maximum number of retry attempts for transient errors.
	// Default: 3.
	MaxRetries int

	// RetryDelay is the base delay between retry attempts.
	// Uses exponential backoff: delay * 2^attempt.
	// Default: 100ms.
	RetryDelay time.Duration

	// MaxReadBytes caps how much of a file one read consumes; the rest is
	// picked up by later reads.
	// Default: 64MB.
	MaxReadBytes int64

	// MaxLineLength is the longest accepted line. Longer lines are
	// skipped and counted as malformed.
	// Default: 1MB.
	MaxLineLength int
}
