package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is wrapped by every validation error.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Validation errors returned by Config.Validate.
var (
	// ErrNoDataDirs is returned when the files source has no directories.
	ErrNoDataDirs = fmt.Errorf("%w: no data directories specified", ErrInvalidConfiguration)

	// ErrInvalidSource is returned for an unknown source type or bad
	// source timing.
	ErrInvalidSource = fmt.Errorf("%w: invalid source", ErrInvalidConfiguration)

	// ErrMissingCommand is returned when the command source has no command.
	ErrMissingCommand = fmt.Errorf("%w: source command is required", ErrInvalidConfiguration)

	// ErrInvalidTickInterval is returned when the tick interval is out of range.
	ErrInvalidTickInterval = fmt.Errorf("%w: tick interval must be within [50ms, 10s]", ErrInvalidConfiguration)

	// ErrInvalidPlan is returned for an unknown plan or negative custom limit.
	ErrInvalidPlan = fmt.Errorf("%w: invalid plan (want pro, max5, max20, custom or auto)", ErrInvalidConfiguration)

	// ErrInvalidAnalysis is returned for bad analysis settings.
	ErrInvalidAnalysis = fmt.Errorf("%w: invalid analysis settings", ErrInvalidConfiguration)

	// ErrInvalidRetention is returned when a retention bound is negative.
	ErrInvalidRetention = fmt.Errorf("%w: retention bounds must be >= 0", ErrInvalidConfiguration)

	// ErrInvalidTimezone is returned when the time zone cannot be loaded.
	ErrInvalidTimezone = fmt.Errorf("%w: unknown time zone", ErrInvalidConfiguration)

	// ErrInvalidResetHour is returned when the reset hour is out of range.
	ErrInvalidResetHour = fmt.Errorf("%w: reset hour must be -1 or within [0, 23]", ErrInvalidConfiguration)

	// ErrMissingDBPath is returned when no database path is set.
	ErrMissingDBPath = fmt.Errorf("%w: database path is required", ErrInvalidConfiguration)

	// ErrInvalidStorage is returned for bad storage settings.
	ErrInvalidStorage = fmt.Errorf("%w: invalid storage settings", ErrInvalidConfiguration)

	// ErrInvalidDisplayFormat is returned when the display format is not recognized.
	ErrInvalidDisplayFormat = fmt.Errorf("%w: display format must be table, json or simple", ErrInvalidConfiguration)

	// ErrInvalidThreshold is returned when the notification threshold is out of range.
	ErrInvalidThreshold = fmt.Errorf("%w: notification threshold must be within [0, 100]", ErrInvalidConfiguration)

	// ErrMissingMetricsAddr is returned when metrics are enabled without an address.
	ErrMissingMetricsAddr = fmt.Errorf("%w: metrics address is required", ErrInvalidConfiguration)

	// ErrInvalidLogLevel is returned when log level is not recognized.
	ErrInvalidLogLevel = fmt.Errorf("%w: log level must be debug, info, warn, or error", ErrInvalidConfiguration)

	// ErrInvalidLogFormat is returned when log format is not recognized.
	ErrInvalidLogFormat = fmt.Errorf("%w: log format must be text or json", ErrInvalidConfiguration)

	// ErrInvalidEnv is returned when an environment override cannot be parsed.
	ErrInvalidEnv = fmt.Errorf("%w: invalid environment variable", ErrInvalidConfiguration)
)

// Loading errors.
var (
	// ErrConfigNotFound is returned when config file is not found.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrInvalidSyntax is returned when config file cannot be parsed.
	ErrInvalidSyntax = errors.New("invalid syntax in config file")
)
