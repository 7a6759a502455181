package monitor

import "errors"

var (
	// ErrMonitorRunning is returned when Run is called twice.
	ErrMonitorRunning = errors.New("monitor is already running")

	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid monitor configuration")

	// ErrMissingDependency is returned when a required collaborator is nil.
	ErrMissingDependency = errors.New("monitor dependency is required")
)
