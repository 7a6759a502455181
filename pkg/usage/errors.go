package usage

import (
	"errors"
	"fmt"
)

// Common errors returned by the usage package.
var (
	// ErrMalformedEvent is matched by every error for a record that was
	// dropped during normalization.
	ErrMalformedEvent = errors.New("malformed usage event")

	// ErrNotUsage is returned for records without any usage data, such as
	// user prompts or system lines. These are skipped, not counted as
	// malformed.
	ErrNotUsage = errors.New("record carries no usage data")

	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("missing required field")

	// ErrNegativeValue is returned when a count or cost is negative.
	ErrNegativeValue = errors.New("value must be non-negative")

	// ErrInvalidNumber is returned when a numeric field is not a whole number.
	ErrInvalidNumber = errors.New("invalid number")

	// ErrInvalidTimestamp is returned when a timestamp cannot be parsed.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrMalformedJSON is returned when a JSONL line cannot be decoded.
	ErrMalformedJSON = errors.New("malformed JSON line")
)

// FieldError reports which field of a record failed validation.
//
// It matches both ErrMalformedEvent and the specific reason with errors.Is.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: field %q: %v", ErrMalformedEvent, e.Field, e.Err)
}

func (e *FieldError) Unwrap() []error {
	return []error{ErrMalformedEvent, e.Err}
}

func fieldError(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}
