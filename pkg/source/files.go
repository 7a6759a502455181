package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/0xmhha/quota-monitor/pkg/discovery"
	"github.com/0xmhha/quota-monitor/pkg/logger"
	"github.com/0xmhha/quota-monitor/pkg/reader"
	"github.com/0xmhha/quota-monitor/pkg/usage"
)

type files struct {
	discoverer discovery.Discoverer
	reader     reader.Reader
	positions  reader.PositionStore
	logger     logger.Logger

	// known is the file count of the last prune; -1 before the first.
	known int

	mu        sync.Mutex
	malformed int
}

// NewFiles creates a source over the JSONL files found by discovery.
//
// Returns ErrMissingDependency if the discoverer or reader is nil.
func NewFiles(cfg FilesConfig, log logger.Logger) (Source, error) {
	if cfg.Discoverer == nil || cfg.Reader == nil {
		return nil, ErrMissingDependency
	}

	log.Info("file source created")

	return &files{
		discoverer: cfg.Discoverer,
		reader:     cfg.Reader,
		positions:  cfg.Positions,
		logger:     log,
		known:      -1,
	}, nil
}

// Name implements Source.Name.
func (f *files) Name() string {
	return "files"
}

// Fetch implements Source.Fetch.
func (f *files) Fetch(ctx context.Context) ([]usage.Record, error) {
	found, err := f.discoverer.Discover()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataSourceUnavailable, err)
	}

	f.prune(found)

	var (
		records   []usage.Record
		malformed int
		failed    int
		lastErr   error
	)

	for _, file := range found {
		if err := ctx.Err(); err != nil {
			// Offsets already advanced: hand back what was read.
			return records, err
		}

		res, err := f.reader.Read(ctx, file.Path)
		switch {
		case err == nil:
		case errors.Is(err, reader.ErrFileNotFound):
			// Removed between discovery and read.
			f.logger.Debug("file vanished", "path", file.Path)
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return records, err
		default:
			failed++
			lastErr = err
			f.logger.Warn("failed to read usage file", "path", file.Path, "error", err)
			continue
		}

		records = append(records, res.Records...)
		malformed += res.Malformed
	}

	f.mu.Lock()
	f.malformed += malformed
	f.mu.Unlock()

	if failed > 0 && failed == len(found) {
		return nil, fmt.Errorf("%w: %d files unreadable: %v", ErrDataSourceUnavailable, failed, lastErr)
	}

	if len(records) > 0 {
		f.logger.Debug("fetched records",
			"files", len(found),
			"records", len(records),
			"malformed", malformed)
	}
	return records, nil
}

// prune drops stored positions of deleted files on the first fetch and
// whenever the file set shrinks. An empty listing is ignored so a
// briefly missing directory does not force a full re-read.
func (f *files) prune(found []discovery.File) {
	if f.positions == nil || len(found) == 0 {
		return
	}
	if f.known >= 0 && len(found) >= f.known {
		f.known = len(found)
		return
	}
	f.known = len(found)

	live := make(map[string]struct{}, len(found))
	for _, file := range found {
		live[file.Path] = struct{}{}
	}
	removed, err := f.positions.Prune(func(path string) bool {
		_, ok := live[path]
		return ok
	})
	if err != nil {
		f.logger.Warn("failed to prune read positions", "error", err)
		return
	}
	if removed > 0 {
		f.logger.Debug("pruned read positions", "removed", removed)
	}
}

// TakeMalformed implements MalformedCounter.TakeMalformed.
func (f *files) TakeMalformed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.malformed
	f.malformed = 0
	return n
}
