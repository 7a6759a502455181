package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/0xmhha/quota-monitor/pkg/config"
	"github.com/0xmhha/quota-monitor/pkg/discovery"
	"github.com/0xmhha/quota-monitor/pkg/engine"
	"github.com/0xmhha/quota-monitor/pkg/history"
	"github.com/0xmhha/quota-monitor/pkg/logger"
	"github.com/0xmhha/quota-monitor/pkg/metrics"
	"github.com/0xmhha/quota-monitor/pkg/monitor"
	"github.com/0xmhha/quota-monitor/pkg/notify"
	"github.com/0xmhha/quota-monitor/pkg/reader"
	"github.com/0xmhha/quota-monitor/pkg/source"
	"github.com/0xmhha/quota-monitor/pkg/usage"
	"github.com/0xmhha/quota-monitor/pkg/watcher"
)

// app holds the components assembled from a configuration.
type app struct {
	cfg       *config.Config
	log       logger.Logger
	store     history.Store
	positions reader.PositionStore // nil for the command source
	reader    reader.Reader        // nil for the command source
	src       source.Source
	engine    engine.Engine
}

// newLogger builds the logger. quiet raises the level to error when logs
// would share the terminal with the live view.
func newLogger(cfg config.LoggingConfig, quiet bool) (logger.Logger, error) {
	level := cfg.Level
	if quiet && (cfg.Output == "" || cfg.Output == "stdout" || cfg.Output == "stderr") {
		level = "error"
	}
	return logger.New(logger.Config{
		Level:  level,
		Output: cfg.Output,
		Format: cfg.Format,
	})
}

// openApp opens the history database, builds the pipeline and restores
// saved history. The caller must Close the app.
func openApp(cfg *config.Config, log logger.Logger, rescan bool) (*app, error) {
	store, err := history.New(history.Config{DBPath: cfg.Storage.DBPath}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	a := &app{cfg: cfg, log: log, store: store}
	if err := a.build(); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.warmStart(rescan); err != nil {
		_ = a.Close()
		return nil, err
	}
	// Reads advance the stored positions from here on; finish marks the
	// history consistent again after the final save.
	if err := store.SetClean(false); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to mark history dirty: %w", err)
	}
	return a, nil
}

func (a *app) build() error {
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}

	a.engine, err = engine.New(engine.Config{
		Plan:          a.cfg.Plan.Name,
		CustomLimit:   a.cfg.Plan.CustomLimit,
		Window:        a.cfg.Analysis.BurnWindow,
		BlockDuration: a.cfg.Analysis.BlockDuration,
		Retention:     a.cfg.Retention(),
		LimitFloor:    a.cfg.Analysis.LimitFloor,
		MinConfidence: a.cfg.Analysis.MinConfidence,
		Location:      loc,
		ResetHour:     a.cfg.Time.ResetHour,
	}, a.log)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	switch a.cfg.Source.Type {
	case config.SourceCommand:
		a.src, err = source.NewCommand(source.CommandConfig{
			Command: a.cfg.Source.Command,
			Timeout: a.cfg.Source.CommandTimeout,
		}, a.log)
		if err != nil {
			return fmt.Errorf("failed to create command source: %w", err)
		}
	default:
		a.positions, err = reader.NewBoltPositionStore(a.store.DB())
		if err != nil {
			return fmt.Errorf("failed to initialize position store: %w", err)
		}
		a.reader, err = reader.New(reader.Config{PositionStore: a.positions}, a.log)
		if err != nil {
			return fmt.Errorf("failed to initialize reader: %w", err)
		}
		a.src, err = source.NewFiles(source.FilesConfig{
			Discoverer: discovery.New(a.cfg.DataDirs, a.log),
			Reader:     a.reader,
			Positions:  a.positions,
		}, a.log)
		if err != nil {
			return fmt.Errorf("failed to create file source: %w", err)
		}
	}
	return nil
}

// warmStart restores saved blocks when the previous run shut down
// cleanly. Otherwise the reader positions and the saved blocks may
// disagree, so both are discarded and the logs are read from the start.
func (a *app) warmStart(rescan bool) error {
	clean, err := a.store.WasClean()
	if err != nil {
		return fmt.Errorf("failed to read history state: %w", err)
	}

	if rescan || !clean {
		a.log.Info("rebuilding history from source", "rescan", rescan, "clean_shutdown", clean)
		return a.reset()
	}

	if maxAge := a.cfg.History.MaxAge; maxAge > 0 {
		if n, err := a.store.Prune(time.Now().Add(-maxAge)); err != nil {
			a.log.Warn("failed to prune history", "error", err)
		} else if n > 0 {
			a.log.Debug("pruned expired blocks", "removed", n)
		}
	}

	saved, err := a.store.LoadBlocks()
	if err == nil {
		err = a.engine.Restore(saved)
	}
	if err != nil {
		a.log.Warn("discarding saved history", "error", err)
		return a.reset()
	}

	savedAt, _ := a.store.SavedAt()
	a.log.Info("history restored", "blocks", len(saved), "saved_at", savedAt)
	return nil
}

func (a *app) reset() error {
	if a.positions != nil {
		if err := a.positions.Clear(); err != nil {
			return fmt.Errorf("failed to clear read positions: %w", err)
		}
	}
	if err := a.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// newMonitor wires the pipeline into a monitor.
func (a *app) newMonitor(trigger monitor.Trigger, observers ...monitor.Observer) (monitor.Monitor, error) {
	return monitor.New(monitor.Config{
		TickInterval: a.cfg.Source.TickInterval,
		FetchTimeout: a.cfg.Source.FetchTimeout,
		StaleAfter:   a.cfg.Source.StaleAfterFailures,
		SaveInterval: a.cfg.Storage.SaveInterval,
	}, monitor.Deps{
		Source: a.src,
		Normalizer: usage.NewNormalizer(usage.Config{
			CostMode: usage.CostMode(a.cfg.Analysis.CostMode),
		}, a.log),
		Engine:       a.engine,
		Trigger:      trigger,
		Checkpointer: a.store,
		Observers:    observers,
	}, a.log)
}

// startWatcher watches the data directories for changes. It returns nil
// when watching is disabled or cannot start; ticks still run on the
// interval.
func (a *app) startWatcher(ctx context.Context) (watcher.Watcher, error) {
	if !a.cfg.Source.Watch || a.cfg.Source.Type != config.SourceFiles {
		return nil, nil
	}

	w, err := watcher.New(watcher.Config{}, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize watcher: %w", err)
	}
	if err := w.Start(ctx, a.cfg.DataDirs); err != nil {
		a.log.Warn("file watching disabled", "error", err)
		_ = w.Close()
		return nil, nil
	}
	return w, nil
}

// startMetrics registers the collector and serves it until ctx ends.
func (a *app) startMetrics(ctx context.Context) monitor.Observer {
	if !a.cfg.Metrics.Enabled {
		return nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New(reg)

	go func() {
		if err := metrics.Serve(ctx, a.cfg.Metrics.Addr, reg, a.log); err != nil {
			a.log.Error("metrics server stopped", "error", err)
		}
	}()
	return collector
}

// startNotifications runs the desktop notification dispatcher until ctx
// ends.
func (a *app) startNotifications(ctx context.Context) (monitor.Observer, error) {
	n := a.cfg.Notifications
	if !n.Enabled {
		return nil, nil
	}

	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	d, err := notify.New(notify.Config{
		PlanSwitch:       n.PlanSwitch,
		Quota:            n.Quota,
		ThresholdPercent: n.ThresholdPercent,
		Stale:            n.Stale,
		Location:         loc,
	}, notify.Desktop{AppName: "quota-monitor"}, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}

	go func() {
		if err := d.Run(ctx); err != nil {
			a.log.Error("notifier stopped", "error", err)
		}
	}()
	return d, nil
}

// finish marks the stored history consistent with the reader positions.
// Only call it after a successful final save.
func (a *app) finish() error {
	if err := a.store.SetClean(true); err != nil {
		return fmt.Errorf("failed to mark history clean: %w", err)
	}
	return nil
}

// Close releases the reader and the database.
func (a *app) Close() error {
	var errs []error
	if a.reader != nil {
		errs = append(errs, a.reader.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
