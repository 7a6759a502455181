package reader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/logger"
	"github.com/0xmhha/quota-monitor/pkg/usage"
)

// reader implements the Reader interface.
type reader struct {
	store  PositionStore
	logger logger.Logger
	config Config

	mu     sync.RWMutex
	closed bool
}

// New creates a new incremental file reader.
//
// Parameters:
//   - cfg: Reader configuration
//   - log: Logger instance
//
// Returns:
//   - Configured Reader
//   - ErrMissingStore if no position store is given
func New(cfg Config, log logger.Logger) (Reader, error) {
	if cfg.PositionStore == nil {
		return nil, ErrMissingStore
	}

	// Set defaults.
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.MaxReadBytes == 0 {
		cfg.MaxReadBytes = 64 * 1024 * 1024 // 64MB
	}
	if cfg.MaxLineLength == 0 {
		cfg.MaxLineLength = 1024 * 1024 // 1MB
	}

	log.Info("incremental reader created",
		"max_retries", cfg.MaxRetries,
		"retry_delay", cfg.RetryDelay,
		"max_read_bytes", cfg.MaxReadBytes)

	return &reader{
		store:  cfg.PositionStore,
		logger: log,
		config: cfg,
	}, nil
}

// Read implements Reader.Read.
func (r *reader) Read(ctx context.Context, path string) (Result, error) {
	if r.isClosed() {
		return Result{}, ErrReaderClosed
	}

	offset, err := r.store.GetPosition(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get position: %w", err)
	}

	res, err := r.readWithRetry(ctx, path, offset)
	if err != nil {
		return Result{}, err
	}

	if res.Offset != offset {
		if err := r.store.SetPosition(path, res.Offset); err != nil {
			// Records are still returned; the engine drops repeats.
			r.logger.Error("failed to update position",
				"path", path,
				"offset", res.Offset,
				"error", err)
		}
	}

	if len(res.Records) > 0 || res.Malformed > 0 {
		r.logger.Debug("read complete",
			"path", path,
			"records", len(res.Records),
			"malformed", res.Malformed,
			"new_offset", res.Offset)
	}

	return res, nil
}

// ReadFrom implements Reader.ReadFrom.
func (r *reader) ReadFrom(ctx context.Context, path string, offset int64) (Result, error) {
	if r.isClosed() {
		return Result{}, ErrReaderClosed
	}

	if offset < 0 {
		return Result{}, ErrInvalidOffset
	}

	return r.readWithRetry(ctx, path, offset)
}

// Reset implements Reader.Reset.
func (r *reader) Reset(path string) error {
	if r.isClosed() {
		return ErrReaderClosed
	}

	if err := r.store.SetPosition(path, 0); err != nil {
		return fmt.Errorf("failed to reset position: %w", err)
	}

	r.logger.Info("position reset", "path", path)
	return nil
}

// Close implements Reader.Close.
func (r *reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	r.logger.Info("reader closed")
	return nil
}

func (r *reader) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// readWithRetry reads a file with retry logic.
func (r *reader) readWithRetry(ctx context.Context, path string, offset int64) (Result, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff.
			backoffMultiplier := 1 << (attempt - 1) // nolint:gosec // Attempt is bounded by MaxRetries
			delay := r.config.RetryDelay * time.Duration(backoffMultiplier)
			r.logger.Debug("retrying read",
				"path", path,
				"attempt", attempt,
				"delay", delay)

			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		res, err := r.readFile(ctx, path, offset)
		if err == nil {
			return res, nil
		}

		lastErr = err

		if !isRetryable(err) {
			r.logger.Debug("non-retryable error",
				"path", path,
				"error", err)
			return Result{}, err
		}

		r.logger.Warn("read attempt failed",
			"path", path,
			"attempt", attempt,
			"error", err)
	}

	return Result{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// readFile reads complete lines from offset.
func (r *reader) readFile(ctx context.Context, path string, offset int64) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	f, err := os.Open(path) // nolint:gosec // path comes from discovery
	if err != nil {
		return Result{}, mapOpenError(err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			r.logger.Debug("failed to close file", "path", path, "error", closeErr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("failed to stat file: %w", err)
	}

	size := info.Size()
	if offset > size {
		r.logger.Warn("file was truncated, resetting offset",
			"path", path,
			"old_offset", offset,
			"file_size", size)
		offset = 0
	}

	res := Result{Offset: offset}
	if offset == size {
		return res, nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("failed to seek to offset %d: %w", offset, err)
	}

	limit := r.config.MaxReadBytes
	br := bufio.NewReaderSize(io.LimitReader(f, limit), 64*1024)

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		line, readErr := br.ReadBytes('\n')
		if errors.Is(readErr, io.EOF) {
			// A partial line is left for the next read, unless it alone
			// fills the read budget and would never complete.
			if int64(len(line)) >= limit {
				res.Offset += int64(len(line))
				res.Malformed++
			}
			break
		}
		if readErr != nil {
			return Result{}, fmt.Errorf("failed to read line: %w", readErr)
		}

		res.Offset += int64(len(line))

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if len(line) > r.config.MaxLineLength {
			res.Malformed++
			r.logger.Debug("skipping oversized line", "path", path, "length", len(line))
			continue
		}

		rec, decErr := usage.DecodeLine(line)
		if decErr != nil {
			res.Malformed++
			r.logger.Debug("skipping malformed line", "path", path, "error", decErr)
			continue
		}
		res.Records = append(res.Records, rec)
	}

	return res, nil
}

func mapOpenError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrFileNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	default:
		return fmt.Errorf("failed to open file: %w", err)
	}
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrFileLocked):
		return true
	case errors.Is(err, ErrFileNotFound):
		// Discovery found it; a vanished file is skipped, not waited for.
		return false
	case errors.Is(err, ErrPermissionDenied):
		return false
	case errors.Is(err, ErrInvalidOffset):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		// Retry unknown errors.
		return true
	}
}
