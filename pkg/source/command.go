package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/logger"
	"github.com/0xmhha/quota-monitor/pkg/usage"
)

// maxStderr caps how much of the command's stderr ends up in an error.
const maxStderr = 512

type command struct {
	config CommandConfig
	logger logger.Logger

	mu        sync.Mutex
	malformed int
}

// NewCommand creates a source that runs an external command on every
// fetch.
//
// The command must print either a JSON array of usage objects, or one
// JSON object per line. It may print its whole dataset each time.
//
// Returns ErrMissingCommand if no command is configured.
func NewCommand(cfg CommandConfig, log logger.Logger) (Source, error) {
	if len(cfg.Command) == 0 || strings.TrimSpace(cfg.Command[0]) == "" {
		return nil, ErrMissingCommand
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	log.Info("command source created",
		"command", cfg.Command[0],
		"timeout", cfg.Timeout)

	return &command{
		config: cfg,
		logger: log,
	}, nil
}

// Name implements Source.Name.
func (c *command) Name() string {
	return "command"
}

// Fetch implements Source.Fetch.
func (c *command) Fetch(ctx context.Context) ([]usage.Record, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.config.Command[0], c.config.Command[1:]...) // nolint:gosec // command comes from user config
	cmd.Dir = c.config.Dir
	// Grandchildren holding the pipes must not outlive the timeout.
	cmd.WaitDelay = time.Second
	if len(c.config.Env) > 0 {
		cmd.Env = append(os.Environ(), c.config.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: command timed out after %s", ErrDataSourceUnavailable, c.config.Timeout)
		}
		return nil, fmt.Errorf("%w: %v: %s", ErrDataSourceUnavailable, err, tail(stderr.String(), maxStderr))
	}

	records, malformed, err := decodeOutput(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataSourceUnavailable, err)
	}

	c.mu.Lock()
	c.malformed += malformed
	c.mu.Unlock()

	c.logger.Debug("command finished",
		"records", len(records),
		"malformed", malformed,
		"elapsed", time.Since(start))

	return records, nil
}

// TakeMalformed implements MalformedCounter.TakeMalformed.
func (c *command) TakeMalformed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.malformed
	c.malformed = 0
	return n
}

// decodeOutput accepts a JSON array of objects or JSONL. Elements that
// are not objects are counted as malformed; an unparseable array is an
// error.
func decodeOutput(out []byte) ([]usage.Record, int, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, 0, nil
	}

	var (
		records   []usage.Record
		malformed int
	)

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, 0, fmt.Errorf("invalid JSON array output: %w", err)
		}
		for _, item := range items {
			rec, err := usage.DecodeLine(item)
			if err != nil {
				malformed++
				continue
			}
			records = append(records, rec)
		}
		return records, malformed, nil
	}

	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		rec, err := usage.DecodeLine(line)
		if err != nil {
			malformed++
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to scan output: %w", err)
	}
	return records, malformed, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
