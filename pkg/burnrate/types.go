// Package burnrate computes the trailing token consumption rate.
//
// The rate is taken over individual events, not blocks, so a window that
// spans the tail of a sealed block and the head of the active one counts
// every event once.
package burnrate

import (
	"time"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
)

// DefaultWindow is the trailing window length.
const DefaultWindow = 60 * time.Minute

// Rate is a trailing burn rate.
type Rate struct {
	// TokensPerMinute is Tokens divided by elapsed minutes of actual data.
	TokensPerMinute float64 `json:"tokens_per_minute"`

	// CostPerHour is the cost rate over the same span.
	CostPerHour float64 `json:"cost_per_hour"`

	Tokens  int     `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
	Events  int     `json:"events"`

	Window  time.Duration `json:"window"`
	Elapsed time.Duration `json:"elapsed"`

	// InsufficientData is set when no events fall in the window.
	InsufficientData bool `json:"insufficient_data"`

	// Series holds per-minute token sums across the window, oldest first.
	Series []int `json:"series,omitempty"`
}

// Calculator computes burn rates.
type Calculator interface {
	// Calculate returns the rate over [now-window, now] for the events of
	// blks. Blocks outside the window are ignored.
	Calculate(now time.Time, blks []*blocks.Block) Rate

	// Window returns the configured window length.
	Window() time.Duration
}

// Config contains calculator configuration.
type Config struct {
	// Window is the trailing window. Default: DefaultWindow.
	Window time.Duration
}
