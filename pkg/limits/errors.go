package limits

import "errors"

// Common errors returned by the limits package.
var (
	// ErrInsufficientHistory is returned when there are no sealed blocks
	// to estimate from.
	ErrInsufficientHistory = errors.New("insufficient block history")

	// ErrUnknownPlan is returned for a plan name not in the plan table.
	ErrUnknownPlan = errors.New("unknown plan")
)
