// Package history persists retained session blocks for warm starts.
//
// The store is a bbolt file holding the engine's retained blocks and a
// clean-shutdown marker. The same database also backs the reader's
// position store, so offsets and blocks live and die together: a store
// that was not closed cleanly is not trusted and the data is re-read from
// source.
//
// Example usage:
//
//	st, err := history.New(history.Config{
//	    DBPath: "~/.config/quota-monitor/history.db",
//	}, logger.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
//
//	saved, err := st.LoadBlocks()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := eng.Restore(saved); err != nil {
//	    log.Fatal(err)
//	}
package history

import (
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
)

// Store provides warm-start persistence of session blocks.
type Store interface {
	// SaveBlocks replaces the stored blocks with bs.
	//
	// Blocks are keyed by start time; blocks absent from bs are deleted,
	// so the store mirrors the engine's retained history.
	SaveBlocks(bs []blocks.Block) error

	// LoadBlocks returns the stored blocks, oldest first.
	//
	// Entries that fail to decode are skipped and logged.
	LoadBlocks() ([]blocks.Block, error)

	// Prune deletes blocks that ended before the given time.
	//
	// Returns the number of blocks removed.
	Prune(before time.Time) (int, error)

	// Clear deletes all stored blocks and resets the clean marker.
	Clear() error

	// SetClean records whether the stored data is consistent with the
	// reader positions. It is cleared while a monitor runs and set on an
	// orderly shutdown after the final save.
	SetClean(clean bool) error

	// WasClean reports the clean marker.
	WasClean() (bool, error)

	// SavedAt returns when blocks were last saved, zero if never.
	SavedAt() (time.Time, error)

	// DB returns the underlying database so other stores can share it.
	DB() *bolt.DB

	// Close closes the database.
	Close() error
}

// Config contains history store configuration.
type Config struct {
	// DBPath is the bbolt file path. A leading ~ is expanded.
	DBPath string

	// Timeout is how long to wait for the file lock (default: 1 second).
	Timeout time.Duration
}
