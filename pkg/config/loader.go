package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables read by the loader.
const (
	EnvClaudeConfigDir = "CLAUDE_CONFIG_DIR"
	EnvConfig          = "QUOTA_MONITOR_CONFIG"
	EnvPlan            = "QUOTA_MONITOR_PLAN"
	EnvTick            = "QUOTA_MONITOR_TICK"
	EnvTimezone        = "QUOTA_MONITOR_TIMEZONE"
	EnvDB              = "QUOTA_MONITOR_DB"
	EnvLogLevel        = "QUOTA_MONITOR_LOG_LEVEL"
)

// Loader provides methods for loading configuration from various sources.
type Loader interface {
	// Load loads configuration with the following precedence:
	// 1. Environment variables
	// 2. .env file
	// 3. Configuration file
	// 4. Default values
	//
	// Returns the merged configuration or an error if validation fails.
	Load() (*Config, error)

	// LoadFromFile decodes a configuration file over the defaults,
	// without env overrides or validation.
	LoadFromFile(path string) (*Config, error)

	// Path returns the configuration file Load reads, or "" when there
	// is none.
	Path() string
}

// Option configures a Loader.
type Option func(*loader)

// WithEnvFile sets the .env file to read. Empty disables it.
// Default: .env in the working directory.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(l *loader) { l.lookupEnv = fn }
}

// loader implements the Loader interface.
type loader struct {
	configPath string
	envFile    string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader.
//
// If configPath is empty, QUOTA_MONITOR_CONFIG is used, then the first
// existing file of:
// 1. ./config.yaml, ./config.toml (current directory)
// 2. ~/.config/quota-monitor/config.yaml, config.toml.
func NewLoader(configPath string, opts ...Option) Loader {
	l := &loader{
		configPath: configPath,
		envFile:    ".env",
		lookupEnv:  os.LookupEnv,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load implements Loader.Load.
func (l *loader) Load() (*Config, error) {
	dotenv, err := l.readEnvFile()
	if err != nil {
		return nil, err
	}
	env := func(key string) string {
		if v, ok := l.lookupEnv(key); ok {
			return v
		}
		return dotenv[key]
	}

	explicit := l.configPath
	if explicit == "" {
		explicit = env(EnvConfig)
	}

	cfg := Default()
	configPath := explicit
	if configPath == "" {
		configPath = findConfigFile()
	}

	// Load from file if it exists
	if configPath != "" {
		fileCfg, err := l.LoadFromFile(configPath)
		if err != nil {
			// If file is specified but can't be loaded, return error
			if explicit != "" || !errors.Is(err, ErrConfigNotFound) {
				return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
			}
		} else {
			cfg = fileCfg
		}
	}

	// Apply environment variable overrides
	if err := applyEnv(cfg, env); err != nil {
		return nil, err
	}

	// Validate final configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile implements Loader.LoadFromFile.
func (l *loader) LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) // nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Decoding over the defaults keeps unset fields at their defaults.
	cfg := Default()
	if isTOML(path) {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
		}
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}

	return cfg, nil
}

// Path implements Loader.Path.
func (l *loader) Path() string {
	if l.configPath != "" {
		return l.configPath
	}
	if v, ok := l.lookupEnv(EnvConfig); ok && v != "" {
		return v
	}
	return findConfigFile()
}

func (l *loader) readEnvFile() (map[string]string, error) {
	if l.envFile == "" {
		return nil, nil
	}
	values, err := godotenv.Read(l.envFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", l.envFile, err)
	}
	return values, nil
}

// findConfigFile searches for a config file in standard locations.
//
// Returns empty string if no config file is found.
func findConfigFile() string {
	dir := configDir()
	candidates := []string{
		"./config.yaml",
		"./config.toml",
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "config.toml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// applyEnv applies environment variable overrides to the configuration.
//
// Supported environment variables:
//   - CLAUDE_CONFIG_DIR: Comma-separated list of Claude config directories
//   - QUOTA_MONITOR_PLAN: Plan name
//   - QUOTA_MONITOR_TICK: Tick interval (Go duration)
//   - QUOTA_MONITOR_TIMEZONE: Display time zone
//   - QUOTA_MONITOR_DB: Path to database file
//   - QUOTA_MONITOR_LOG_LEVEL: Log level
func applyEnv(cfg *Config, env func(string) string) error {
	// CLAUDE_CONFIG_DIR: comma-separated paths
	if envDirs := env(EnvClaudeConfigDir); envDirs != "" {
		var dirs []string
		for _, dir := range strings.Split(envDirs, ",") {
			if dir = strings.TrimSpace(dir); dir != "" {
				dirs = append(dirs, claudeProjectsDir(dir))
			}
		}
		cfg.DataDirs = dirs
	}

	if name := env(EnvPlan); name != "" {
		cfg.Plan.Name = strings.ToLower(strings.TrimSpace(name))
	}

	if tick := env(EnvTick); tick != "" {
		d, err := time.ParseDuration(strings.TrimSpace(tick))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidEnv, EnvTick, tick)
		}
		cfg.Source.TickInterval = d
	}

	if tz := env(EnvTimezone); tz != "" {
		cfg.Time.Timezone = strings.TrimSpace(tz)
	}

	if dbPath := env(EnvDB); dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}

	if logLevel := env(EnvLogLevel); logLevel != "" {
		cfg.Logging.Level = strings.ToLower(logLevel)
	}

	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load is a convenience function that creates a loader and loads configuration.
//
// Equivalent to:
//
//	loader := NewLoader("")
//	return loader.Load()
func Load() (*Config, error) {
	return NewLoader("").Load()
}

// LoadFromFile is a convenience function that loads configuration from a file.
//
// Equivalent to:
//
//	loader := NewLoader(path)
//	return loader.Load()
func LoadFromFile(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Save writes the configuration to a YAML file.
//
// Creates parent directories if they don't exist.
// File is created with 0600 permissions (read/write for owner only).
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Create parent directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	// Write to file
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Marshal renders the configuration as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
