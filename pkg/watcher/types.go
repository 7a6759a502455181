// Package watcher reports changes to usage JSONL files.
//
// It uses fsnotify to watch the data directories recursively and
// coalesces bursts of writes into a single Event once the files have been
// quiet for the debounce interval. The monitor uses these events to run a
// tick early instead of waiting for the next interval.
//
// Example usage:
//
//	w, err := watcher.New(watcher.Config{
//	    DebounceInterval: 200 * time.Millisecond,
//	}, logger.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Close()
//
//	if err := w.Start(ctx, []string{"~/.claude/projects"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	for ev := range w.Events() {
//	    fmt.Printf("%d files changed\n", len(ev.Paths))
//	}
package watcher

import (
	"context"
	"time"
)

// Event is a debounced batch of file changes.
type Event struct {
	// Paths are the JSONL files that changed, sorted.
	Paths []string

	// At is when the batch was emitted.
	At time.Time
}

// Watcher provides file system monitoring.
type Watcher interface {
	// Start begins watching the specified directories and their
	// subdirectories. It returns once the watches are installed; events
	// are processed in the background until ctx is done or Stop is
	// called.
	//
	// Missing paths are skipped. ErrInvalidPath is returned when none of
	// them exist.
	Start(ctx context.Context, paths []string) error

	// Stop halts event processing.
	Stop() error

	// Events returns the channel of debounced change batches.
	//
	// At most one batch is buffered; a batch emitted while another is
	// pending is merged into it.
	// The channel is closed when the watcher is closed.
	Events() <-chan Event

	// Errors returns the channel for receiving watcher errors.
	//
	// Non-fatal errors are sent to this channel.
	// The channel is closed when the watcher is closed.
	Errors() <-chan error

	// Close closes the watcher and releases resources.
	Close() error
}

// Config contains watcher configuration.
type Config struct {
	// DebounceInterval is how long files must stay quiet before a batch
	// is emitted.
	// Default: 100ms.
	DebounceInterval time.Duration

	// CircuitBreakerThreshold is the number of consecutive fsnotify
	// errors after which ErrCircuitBreakerOpen is reported and events
	// stop being emitted.
	// Default: 5.
	CircuitBreakerThreshold int
}
