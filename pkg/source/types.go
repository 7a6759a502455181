// Package source provides pull-based access to raw usage records.
//
// Two sources are available: Files reads the JSONL logs under the data
// directories incrementally, and Command runs an external program and
// decodes its JSON or JSONL output. Both may return records that were
// already seen; the engine drops duplicates.
//
// Example usage:
//
//	src, err := source.NewFiles(source.FilesConfig{
//	    Discoverer: discovery.New(dirs, log),
//	    Reader:     r,
//	}, log)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	recs, err := src.Fetch(ctx)
//	if errors.Is(err, source.ErrDataSourceUnavailable) {
//	    // transient, try again next tick
//	}
package source

import (
	"context"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/discovery"
	"github.com/0xmhha/quota-monitor/pkg/reader"
	"github.com/0xmhha/quota-monitor/pkg/usage"
)

// Source produces raw usage records.
type Source interface {
	// Fetch returns the records that became available since the last
	// call. An empty result is not an error.
	//
	// Returns an error matching ErrDataSourceUnavailable when the source
	// could not be read at all. Records returned alongside an error were
	// consumed from the source and must still be processed.
	Fetch(ctx context.Context) ([]usage.Record, error)

	// Name identifies the source in logs.
	Name() string
}

// MalformedCounter is implemented by sources that drop undecodable input
// before it becomes a record.
type MalformedCounter interface {
	// TakeMalformed returns the number of inputs dropped since the last
	// call and resets the count.
	TakeMalformed() int
}

// FilesConfig configures the JSONL file source.
type FilesConfig struct {
	// Discoverer lists the usage files.
	Discoverer discovery.Discoverer

	// Reader reads new lines from each file.
	Reader reader.Reader

	// Positions, when set, is pruned of files that no longer exist.
	Positions reader.PositionStore
}

// CommandConfig configures the external command source.
type CommandConfig struct {
	// Command is the program and its arguments. Required.
	Command []string

	// Timeout bounds a single run.
	// Default: 10s.
	Timeout time.Duration

	// Env is appended to the current environment.
	Env []string

	// Dir is the working directory. Default: current directory.
	Dir string
}
