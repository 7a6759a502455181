// Package usage turns raw usage records into canonical, immutable
// usage events.
//
// A raw record is whatever the data source produced for one API call: a
// decoded JSONL line from Claude Code's project logs, or one element of
// an external command's JSON output. The normalizer validates required
// fields, rejects negative counts and derives the cost when the record
// does not carry one.
//
// Example usage:
//
//	n := usage.NewNormalizer(usage.Config{CostMode: usage.CostModeAuto}, logger.Default())
//	rec, err := usage.DecodeLine(line)
//	if err != nil {
//	    return err
//	}
//	ev, err := n.Normalize(rec)
//	switch {
//	case errors.Is(err, usage.ErrNotUsage):
//	    // prompt or system line, nothing to count
//	case errors.Is(err, usage.ErrMalformedEvent):
//	    // dropped
//	}
package usage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is a raw usage record as decoded from the data source.
type Record map[string]any

// Event is one normalized usage event.
//
// Invariant: all token counts and CostUSD are non-negative.
// Invariant: Timestamp is in UTC and not zero.
type Event struct {
	Timestamp           time.Time `json:"timestamp"`
	InputTokens         int       `json:"input_tokens"`
	OutputTokens        int       `json:"output_tokens"`
	CacheCreationTokens int       `json:"cache_creation_tokens"`
	CacheReadTokens     int       `json:"cache_read_tokens"`
	Model               string    `json:"model,omitempty"`
	CostUSD             float64   `json:"cost_usd"`
	MessageID           string    `json:"message_id,omitempty"`
	RequestID           string    `json:"request_id,omitempty"`

	// ObservedAt is the source timestamp of an event whose Timestamp was
	// clamped into a block; zero otherwise. Key uses it so a clamped
	// event keeps its identity.
	ObservedAt time.Time `json:"observed_at,omitzero"`
}

// TotalTokens returns the sum of all token categories.
func (e Event) TotalTokens() int {
	return e.InputTokens + e.OutputTokens + e.CacheCreationTokens + e.CacheReadTokens
}

// ID returns the source-provided identity of the event, or "" when the
// source did not provide one.
//
// Claude Code writes the same message more than once while streaming, so
// the message id is paired with the request id when both are known.
func (e Event) ID() string {
	switch {
	case e.MessageID != "" && e.RequestID != "":
		return e.MessageID + ":" + e.RequestID
	case e.MessageID != "":
		return e.MessageID
	default:
		return ""
	}
}

// Key returns the deduplication key: the identity when present,
// otherwise the exact field tuple.
func (e Event) Key() string {
	if id := e.ID(); id != "" {
		return "id:" + id
	}

	ts := e.Timestamp
	if !e.ObservedAt.IsZero() {
		ts = e.ObservedAt
	}

	var b strings.Builder
	b.WriteString("tuple:")
	b.WriteString(strconv.FormatInt(ts.UnixNano(), 10))
	fmt.Fprintf(&b, "|%d|%d|%d|%d|", e.InputTokens, e.OutputTokens, e.CacheCreationTokens, e.CacheReadTokens)
	b.WriteString(e.Model)
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(e.CostUSD, 'g', -1, 64))
	return b.String()
}

// CostMode selects how event cost is derived.
type CostMode string

const (
	// CostModeAuto uses the record's cost when present and computes it otherwise.
	CostModeAuto CostMode = "auto"

	// CostModeCached uses the record's cost only; records without one cost 0.
	CostModeCached CostMode = "cached"

	// CostModeCalculate always computes cost from the pricing table.
	CostModeCalculate CostMode = "calculate"
)

// Valid reports whether m is a known cost mode.
func (m CostMode) Valid() bool {
	switch m {
	case CostModeAuto, CostModeCached, CostModeCalculate:
		return true
	default:
		return false
	}
}

// Normalizer converts raw records to events.
type Normalizer interface {
	// Normalize validates rec and converts it to an Event.
	//
	// Returns:
	//   - ErrNotUsage if the record carries no usage data at all
	//   - an error matching ErrMalformedEvent if the record is invalid
	//
	// Thread-safety: safe for concurrent use.
	Normalize(rec Record) (Event, error)
}

// Config contains normalizer configuration.
type Config struct {
	// CostMode selects cost derivation. Default: CostModeAuto.
	CostMode CostMode

	// Pricing overrides the default pricing table when non-nil.
	Pricing map[string]Pricing
}
