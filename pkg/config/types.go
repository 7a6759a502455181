// Package config provides configuration management for quota-monitor.
//
// Configuration is loaded from multiple sources with the following precedence:
// 1. Command-line flags (highest priority)
// 2. Environment variables
// 3. A .env file
// 4. Configuration file (YAML, or TOML when the name ends in .toml)
// 5. Default values (lowest priority)
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Data dirs: %v\n", cfg.DataDirs)
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
	"github.com/0xmhha/quota-monitor/pkg/display"
	"github.com/0xmhha/quota-monitor/pkg/limits"
	"github.com/0xmhha/quota-monitor/pkg/monitor"
	"github.com/0xmhha/quota-monitor/pkg/plan"
	"github.com/0xmhha/quota-monitor/pkg/usage"
)

// Source types.
const (
	SourceFiles   = "files"
	SourceCommand = "command"
)

// Config represents the complete application configuration.
//
// Invariants:
// - DataDirs must have at least one directory for the files source
// - TickInterval must be within [50ms, 10s]
// - Retention bounds must not be negative
// - ResetHour must be -1 (disabled) or within [0, 23].
type Config struct {
	// Directories holding Claude Code session logs
	DataDirs []string `yaml:"data_dirs" toml:"data_dirs"`

	Source        SourceConfig        `yaml:"source" toml:"source"`
	Plan          PlanConfig          `yaml:"plan" toml:"plan"`
	Analysis      AnalysisConfig      `yaml:"analysis" toml:"analysis"`
	History       HistoryConfig       `yaml:"history" toml:"history"`
	Time          TimeConfig          `yaml:"time" toml:"time"`
	Storage       StorageConfig       `yaml:"storage" toml:"storage"`
	Display       DisplayConfig       `yaml:"display" toml:"display"`
	Notifications NotificationsConfig `yaml:"notifications" toml:"notifications"`
	Metrics       MetricsConfig       `yaml:"metrics" toml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
}

// SourceConfig selects where usage records come from and how often.
type SourceConfig struct {
	// files or command
	Type string `yaml:"type" toml:"type"`

	// Command and arguments for the command source
	Command []string `yaml:"command,omitempty" toml:"command,omitempty"`

	CommandTimeout time.Duration `yaml:"command_timeout" toml:"command_timeout"`

	// Time between analysis ticks
	TickInterval time.Duration `yaml:"tick_interval" toml:"tick_interval"`

	FetchTimeout time.Duration `yaml:"fetch_timeout" toml:"fetch_timeout"`

	// Consecutive failed fetches before snapshots are marked stale
	StaleAfterFailures int `yaml:"stale_after_failures" toml:"stale_after_failures"`

	// Tick early on file changes (files source only)
	Watch bool `yaml:"watch" toml:"watch"`
}

// PlanConfig selects the quota plan.
type PlanConfig struct {
	// pro, max5, max20, custom or auto
	Name string `yaml:"name" toml:"name"`

	// Token limit for the custom plan; 0 auto-detects
	CustomLimit int `yaml:"custom_limit" toml:"custom_limit"`
}

// AnalysisConfig tunes the analysis.
type AnalysisConfig struct {
	// Trailing burn rate window
	BurnWindow time.Duration `yaml:"burn_window" toml:"burn_window"`

	// Session block length
	BlockDuration time.Duration `yaml:"block_duration" toml:"block_duration"`

	// Smallest estimated limit
	LimitFloor int `yaml:"limit_floor" toml:"limit_floor"`

	// Estimate confidence required after a plan switch, in [0, 1]
	MinConfidence float64 `yaml:"min_confidence" toml:"min_confidence"`

	// auto, cached or calculate
	CostMode string `yaml:"cost_mode" toml:"cost_mode"`
}

// HistoryConfig is the block retention policy.
//
// MaxBlocks keeps the newest N sealed blocks and MaxAge drops sealed
// blocks that ended longer ago. Zero disables a bound; both zero keeps
// the built-in defaults.
type HistoryConfig struct {
	MaxBlocks int           `yaml:"max_blocks" toml:"max_blocks"`
	MaxAge    time.Duration `yaml:"max_age" toml:"max_age"`
}

// TimeConfig controls how times are shown.
type TimeConfig struct {
	// IANA zone name, or Local
	Timezone string `yaml:"timezone" toml:"timezone"`

	// Hour of a daily reference reset shown alongside the block reset;
	// -1 disables it
	ResetHour int `yaml:"reset_hour" toml:"reset_hour"`
}

// StorageConfig contains storage-related settings.
type StorageConfig struct {
	// Path to the BoltDB file holding read positions and block history
	DBPath string `yaml:"db_path" toml:"db_path"`

	// How often history is checkpointed while running
	SaveInterval time.Duration `yaml:"save_interval" toml:"save_interval"`
}

// DisplayConfig contains display-related settings.
type DisplayConfig struct {
	// table, json or simple
	Format string `yaml:"format" toml:"format"`

	// Enable colored output
	Color bool `yaml:"color" toml:"color"`

	// Draw the burn rate chart
	Graph bool `yaml:"graph" toml:"graph"`

	Compact bool `yaml:"compact" toml:"compact"`
}

// NotificationsConfig controls desktop notifications.
type NotificationsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`

	PlanSwitch bool `yaml:"plan_switch" toml:"plan_switch"`
	Quota      bool `yaml:"quota" toml:"quota"`
	Stale      bool `yaml:"stale" toml:"stale"`

	// Usage share that triggers a notification; 0 disables it
	ThresholdPercent float64 `yaml:"threshold_percent" toml:"threshold_percent"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// Listen address for /metrics
	Addr string `yaml:"addr" toml:"addr"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" toml:"level"`

	// Log output destination (stdout, stderr, file path)
	Output string `yaml:"output" toml:"output"`

	// Log format (text, json)
	Format string `yaml:"format" toml:"format"`
}

// Validate checks if the configuration satisfies all invariants.
//
// Every returned error wraps ErrInvalidConfiguration.
//
// Thread-safety: This method is read-only and thread-safe.
func (c *Config) Validate() error {
	// Validate source config
	switch c.Source.Type {
	case SourceFiles:
		if len(c.DataDirs) == 0 {
			return ErrNoDataDirs
		}
	case SourceCommand:
		if len(c.Source.Command) == 0 || strings.TrimSpace(c.Source.Command[0]) == "" {
			return ErrMissingCommand
		}
		if c.Source.CommandTimeout <= 0 {
			return fmt.Errorf("%w: command_timeout must be > 0", ErrInvalidSource)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSource, c.Source.Type)
	}

	if c.Source.TickInterval < monitor.MinTickInterval || c.Source.TickInterval > monitor.MaxTickInterval {
		return fmt.Errorf("%w: %s", ErrInvalidTickInterval, c.Source.TickInterval)
	}
	if c.Source.FetchTimeout <= 0 {
		return fmt.Errorf("%w: fetch_timeout must be > 0", ErrInvalidSource)
	}
	if c.Source.StaleAfterFailures <= 0 {
		return fmt.Errorf("%w: stale_after_failures must be > 0", ErrInvalidSource)
	}

	// Validate plan config
	if !strings.EqualFold(c.Plan.Name, plan.AutoPlan) {
		if _, err := limits.Lookup(c.Plan.Name); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPlan, c.Plan.Name)
		}
	}
	if c.Plan.CustomLimit < 0 {
		return fmt.Errorf("%w: custom_limit must be >= 0", ErrInvalidPlan)
	}

	// Validate analysis config
	if c.Analysis.BurnWindow <= 0 || c.Analysis.BlockDuration <= 0 {
		return fmt.Errorf("%w: burn_window and block_duration must be > 0", ErrInvalidAnalysis)
	}
	if c.Analysis.LimitFloor < 0 {
		return fmt.Errorf("%w: limit_floor must be >= 0", ErrInvalidAnalysis)
	}
	if c.Analysis.MinConfidence < 0 || c.Analysis.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence must be within [0, 1]", ErrInvalidAnalysis)
	}
	if !usage.CostMode(c.Analysis.CostMode).Valid() {
		return fmt.Errorf("%w: cost_mode %q", ErrInvalidAnalysis, c.Analysis.CostMode)
	}

	// Validate history config
	if c.History.MaxBlocks < 0 || c.History.MaxAge < 0 {
		return ErrInvalidRetention
	}

	// Validate time config
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Time.ResetHour < -1 || c.Time.ResetHour > 23 {
		return fmt.Errorf("%w: %d", ErrInvalidResetHour, c.Time.ResetHour)
	}

	// Validate storage config
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		return ErrMissingDBPath
	}
	if c.Storage.SaveInterval <= 0 {
		return fmt.Errorf("%w: save_interval must be > 0", ErrInvalidStorage)
	}

	// Validate display config
	if c.Display.Format == "" {
		return ErrInvalidDisplayFormat
	}
	if _, err := display.ParseFormat(c.Display.Format); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDisplayFormat, err)
	}

	// Validate notifications and metrics
	if c.Notifications.ThresholdPercent < 0 || c.Notifications.ThresholdPercent > 100 {
		return ErrInvalidThreshold
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) == "" {
		return ErrMissingMetricsAddr
	}

	// Validate logging config
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}

	validFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validFormats[c.Logging.Format] {
		return ErrInvalidLogFormat
	}

	return nil
}

// Location resolves Time.Timezone. Empty and "Local" select the system
// zone.
func (c *Config) Location() (*time.Location, error) {
	switch tz := strings.TrimSpace(c.Time.Timezone); tz {
	case "", "Local", "local":
		return time.Local, nil
	default:
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
		}
		return loc, nil
	}
}

// Retention returns the block retention policy.
func (c *Config) Retention() blocks.Retention {
	return blocks.Retention{
		MaxBlocks: c.History.MaxBlocks,
		MaxAge:    c.History.MaxAge,
	}
}

// Default returns a configuration with sensible default values.
func Default() *Config {
	return &Config{
		DataDirs: defaultDataDirs(),
		Source: SourceConfig{
			Type:               SourceFiles,
			CommandTimeout:     10 * time.Second,
			TickInterval:       monitor.DefaultTickInterval,
			FetchTimeout:       10 * time.Second,
			StaleAfterFailures: monitor.DefaultStaleAfter,
			Watch:              true,
		},
		Plan: PlanConfig{
			Name: string(limits.PlanCustom),
		},
		Analysis: AnalysisConfig{
			BurnWindow:    60 * time.Minute,
			BlockDuration: blocks.DefaultDuration,
			LimitFloor:    44000,
			MinConfidence: plan.DefaultMinConfidence,
			CostMode:      string(usage.CostModeAuto),
		},
		History: HistoryConfig{
			MaxBlocks: blocks.DefaultMaxBlocks,
			MaxAge:    blocks.DefaultMaxAge,
		},
		Time: TimeConfig{
			Timezone:  "Local",
			ResetHour: -1,
		},
		Storage: StorageConfig{
			DBPath:       defaultDBPath(),
			SaveInterval: time.Minute,
		},
		Display: DisplayConfig{
			Format: string(display.FormatTable),
			Color:  true,
			Graph:  true,
		},
		Notifications: NotificationsConfig{
			PlanSwitch:       true,
			Quota:            true,
			Stale:            true,
			ThresholdPercent: 90,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
			Format: "text",
		},
	}
}
