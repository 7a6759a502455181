// Package monitor runs the analysis tick loop.
//
// Every tick fetches new records from the source, normalizes them, steps
// the engine and publishes the resulting snapshot. Fetch failures do not
// stop the loop: the engine still steps so that blocks expire and burn
// rates decay, and after a number of consecutive failures the snapshot is
// marked stale. A change notification from the file watcher runs a tick
// early.
//
// Example usage:
//
//	m, err := monitor.New(monitor.Config{TickInterval: 3 * time.Second}, monitor.Deps{
//	    Source:     src,
//	    Normalizer: usage.NewNormalizer(usage.Config{}, log),
//	    Engine:     eng,
//	}, log)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	go func() {
//	    for snap := range m.Updates() {
//	        render(snap)
//	    }
//	}()
//	err = m.Run(ctx) // returns when ctx is cancelled
package monitor

import (
	"context"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
	"github.com/0xmhha/quota-monitor/pkg/engine"
	"github.com/0xmhha/quota-monitor/pkg/source"
	"github.com/0xmhha/quota-monitor/pkg/usage"
	"github.com/0xmhha/quota-monitor/pkg/watcher"
)

// Tick interval bounds.
const (
	MinTickInterval     = 50 * time.Millisecond
	MaxTickInterval     = 10 * time.Second
	DefaultTickInterval = 3 * time.Second

	// DefaultStaleAfter is the number of consecutive fetch failures after
	// which snapshots are marked stale.
	DefaultStaleAfter = 3
)

// Monitor drives the engine.
type Monitor interface {
	// Run ticks until ctx is cancelled, then saves history and returns.
	//
	// Run may be called once; the updates channel is closed when it
	// returns.
	Run(ctx context.Context) error

	// Tick runs a single tick immediately and returns its snapshot.
	//
	// Must not be called while Run is active.
	Tick(ctx context.Context) engine.Snapshot

	// Updates delivers snapshots. Only the latest undelivered snapshot
	// is kept, so a slow reader skips ticks instead of blocking the loop.
	Updates() <-chan engine.Snapshot

	// Latest returns the last published snapshot, false before the first
	// tick. Safe for concurrent use.
	Latest() (engine.Snapshot, bool)
}

// Trigger delivers change notifications that run a tick early.
// watcher.Watcher satisfies it.
type Trigger interface {
	Events() <-chan watcher.Event
	Errors() <-chan error
}

// Checkpointer saves retained blocks. history.Store satisfies it.
type Checkpointer interface {
	SaveBlocks(bs []blocks.Block) error
}

// Observer receives every published snapshot on the loop goroutine.
// Implementations must return quickly.
type Observer interface {
	Observe(snap engine.Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(engine.Snapshot)

// Observe implements Observer.
func (f ObserverFunc) Observe(snap engine.Snapshot) { f(snap) }

// Deps are the monitor's collaborators.
type Deps struct {
	// Source and Normalizer produce events. Required.
	Source     source.Source
	Normalizer usage.Normalizer

	// Engine is stepped on every tick. Required.
	Engine engine.Engine

	// Trigger runs early ticks. Optional.
	Trigger Trigger

	// Checkpointer saves history periodically and on shutdown. Optional.
	Checkpointer Checkpointer

	// Observers are notified after every tick.
	Observers []Observer
}

// Config holds the configuration for the monitor.
type Config struct {
	// TickInterval is the time between ticks, between MinTickInterval
	// and MaxTickInterval.
	// Default: 3s.
	TickInterval time.Duration

	// FetchTimeout bounds one fetch.
	// Default: 10s.
	FetchTimeout time.Duration

	// StaleAfter is the number of consecutive failed fetches after which
	// snapshots are marked stale.
	// Default: 3.
	StaleAfter int

	// SaveInterval is how often history is checkpointed while running.
	// Default: 1m.
	SaveInterval time.Duration

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time
}
