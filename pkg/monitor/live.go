package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/engine"
	"github.com/0xmhha/quota-monitor/pkg/logger"
	"github.com/0xmhha/quota-monitor/pkg/source"
	"github.com/0xmhha/quota-monitor/pkg/usage"
	"github.com/0xmhha/quota-monitor/pkg/watcher"
)

// liveMonitor implements the Monitor interface.
type liveMonitor struct {
	config Config
	deps   Deps
	logger logger.Logger

	pub      engine.Publisher
	updates  chan engine.Snapshot
	started  atomic.Bool
	finished atomic.Bool

	// Loop state, owned by the goroutine running Run or Tick.
	failures int
	lastSave time.Time
}

// New creates a new monitor.
//
// Parameters:
//   - cfg: Monitor configuration
//   - deps: Collaborators
//   - log: Logger instance
//
// Returns:
//   - Configured Monitor
//   - ErrInvalidConfig if the tick interval is out of range
//   - ErrMissingDependency if a required collaborator is nil
func New(cfg Config, deps Deps, log logger.Logger) (Monitor, error) {
	if deps.Source == nil || deps.Normalizer == nil || deps.Engine == nil {
		return nil, ErrMissingDependency
	}

	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.TickInterval < MinTickInterval || cfg.TickInterval > MaxTickInterval {
		return nil, fmt.Errorf("%w: tick interval %s outside [%s, %s]",
			ErrInvalidConfig, cfg.TickInterval, MinTickInterval, MaxTickInterval)
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.StaleAfter < 0 {
		return nil, fmt.Errorf("%w: stale_after must be positive", ErrInvalidConfig)
	}
	if cfg.SaveInterval == 0 {
		cfg.SaveInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	log.Info("live monitor created",
		"source", deps.Source.Name(),
		"tick_interval", cfg.TickInterval,
		"fetch_timeout", cfg.FetchTimeout,
		"stale_after", cfg.StaleAfter,
		"early_ticks", deps.Trigger != nil,
		"checkpoints", deps.Checkpointer != nil)

	return &liveMonitor{
		config:  cfg,
		deps:    deps,
		logger:  log,
		updates: make(chan engine.Snapshot, 1),
	}, nil
}

// Run implements Monitor.Run.
func (m *liveMonitor) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrMonitorRunning
	}
	defer func() {
		m.finished.Store(true)
		close(m.updates)
	}()

	m.lastSave = m.config.Clock()

	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	var (
		changes <-chan watcher.Event
		errs    <-chan error
	)
	if m.deps.Trigger != nil {
		changes = m.deps.Trigger.Events()
		errs = m.deps.Trigger.Errors()
	}

	m.logger.Info("live monitor started")
	m.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("live monitor stopping", "reason", ctx.Err())
			return m.checkpoint()

		case <-ticker.C:
			m.Tick(ctx)

		case ev, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			m.logger.Debug("file change detected", "files", len(ev.Paths))
			m.Tick(ctx)
			ticker.Reset(m.config.TickInterval)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.logger.Warn("watcher error, relying on periodic ticks", "error", err)
		}
	}
}

// Tick implements Monitor.Tick.
func (m *liveMonitor) Tick(ctx context.Context) engine.Snapshot {
	fetchCtx, cancel := context.WithTimeout(ctx, m.config.FetchTimeout)
	records, err := m.deps.Source.Fetch(fetchCtx)
	cancel()

	switch {
	case err == nil:
		if m.failures > 0 {
			m.logger.Info("data source recovered", "after_failures", m.failures)
		}
		m.failures = 0
	case ctx.Err() != nil:
		// Shutting down; not the source's fault.
	default:
		m.failures++
		m.logger.Warn("fetch failed",
			"source", m.deps.Source.Name(),
			"consecutive_failures", m.failures,
			"error", err)
	}

	events, malformed := m.normalize(records)
	if mc, ok := m.deps.Source.(source.MalformedCounter); ok {
		malformed += mc.TakeMalformed()
	}

	snap := m.deps.Engine.Step(m.config.Clock(), events)
	snap.Ingest.Malformed = malformed
	snap.ConsecutiveFailures = m.failures
	snap.Stale = m.failures >= m.config.StaleAfter

	m.pub.Publish(snap)
	for _, o := range m.deps.Observers {
		o.Observe(snap)
	}
	m.offer(snap)

	if m.started.Load() && m.config.Clock().Sub(m.lastSave) >= m.config.SaveInterval {
		if err := m.checkpoint(); err != nil {
			m.logger.Warn("history checkpoint failed", "error", err)
		}
	}

	return snap
}

// Updates implements Monitor.Updates.
func (m *liveMonitor) Updates() <-chan engine.Snapshot {
	return m.updates
}

// Latest implements Monitor.Latest.
func (m *liveMonitor) Latest() (engine.Snapshot, bool) {
	return m.pub.Load()
}

func (m *liveMonitor) normalize(records []usage.Record) ([]usage.Event, int) {
	if len(records) == 0 {
		return nil, 0
	}

	events := make([]usage.Event, 0, len(records))
	malformed := 0
	for _, rec := range records {
		ev, err := m.deps.Normalizer.Normalize(rec)
		switch {
		case err == nil:
			events = append(events, ev)
		case errors.Is(err, usage.ErrNotUsage):
		default:
			malformed++
			m.logger.Debug("dropping malformed event", "error", err)
		}
	}
	return events, malformed
}

// offer delivers snap, replacing an undelivered older snapshot.
func (m *liveMonitor) offer(snap engine.Snapshot) {
	if m.finished.Load() {
		return
	}
	select {
	case m.updates <- snap:
		return
	default:
	}
	select {
	case <-m.updates:
	default:
	}
	select {
	case m.updates <- snap:
	default:
	}
}

func (m *liveMonitor) checkpoint() error {
	if m.deps.Checkpointer == nil {
		return nil
	}
	m.lastSave = m.config.Clock()
	if err := m.deps.Checkpointer.SaveBlocks(m.deps.Engine.Blocks()); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}
