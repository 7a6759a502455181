// Package blocks groups usage events into fixed-length session blocks.
//
// A block starts at the timestamp of the first event that does not fit the
// current block and lasts exactly Duration (5 hours by default). At most
// one block is active at a time; closed blocks form a bounded history that
// is trimmed by the retention policy.
//
// Example usage:
//
//	b, err := blocks.New(blocks.Config{
//	    Retention: blocks.Retention{MaxBlocks: 50, MaxAge: 192 * time.Hour},
//	}, logger.Default())
//	if err != nil {
//	    return err
//	}
//
//	for _, ev := range events {
//	    if _, err := b.Add(ev); err != nil {
//	        // older than retained history
//	    }
//	}
//	b.SealExpired(time.Now())
//	b.Retain(time.Now())
package blocks

import (
	"time"

	"github.com/0xmhha/quota-monitor/pkg/usage"
)

// DefaultDuration is the length of a session block.
const DefaultDuration = 5 * time.Hour

// TokenCounts holds per-category token sums.
type TokenCounts struct {
	Input         int `json:"input"`
	Output        int `json:"output"`
	CacheCreation int `json:"cache_creation"`
	CacheRead     int `json:"cache_read"`
}

// ModelStats holds per-model aggregates within a block.
type ModelStats struct {
	Tokens  int     `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
	Entries int     `json:"entries"`
}

// Block is one session block.
//
// Invariant: End == Start + Duration, fixed at creation.
// Invariant: every event timestamp is in [Start, End).
type Block struct {
	// ID is the RFC3339 start time.
	ID string `json:"id"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// Events in arrival order.
	Events []usage.Event `json:"events"`

	TotalTokens int                   `json:"total_tokens"`
	CostUSD     float64               `json:"cost_usd"`
	Tokens      TokenCounts           `json:"tokens"`
	Models      map[string]ModelStats `json:"models,omitempty"`

	// LastEventAt is the latest event timestamp in the block.
	LastEventAt time.Time `json:"last_event_at"`

	// Messages is the number of events in the block.
	Messages int `json:"messages"`

	Active bool `json:"active"`
}

// Duration returns the span of actual activity, from Start to the last
// event.
func (b *Block) Duration() time.Duration {
	if b.LastEventAt.Before(b.Start) {
		return 0
	}
	return b.LastEventAt.Sub(b.Start)
}

// Remaining returns the time left until End, never negative.
func (b *Block) Remaining(now time.Time) time.Duration {
	if !now.Before(b.End) {
		return 0
	}
	return b.End.Sub(now)
}

// Progress returns the elapsed fraction of the block window in [0, 1].
func (b *Block) Progress(now time.Time) float64 {
	total := b.End.Sub(b.Start)
	if total <= 0 || !now.After(b.Start) {
		return 0
	}
	if !now.Before(b.End) {
		return 1
	}
	return float64(now.Sub(b.Start)) / float64(total)
}

// Contains reports whether ts falls in [Start, End).
func (b *Block) Contains(ts time.Time) bool {
	return !ts.Before(b.Start) && ts.Before(b.End)
}

// Retention bounds the closed-block history.
//
// MaxBlocks keeps the most recent N sealed blocks. MaxAge evicts sealed
// blocks whose End is older than now-MaxAge. Zero disables a bound; a
// zero Retention selects the defaults. The active block is never evicted.
type Retention struct {
	MaxBlocks int
	MaxAge    time.Duration
}

// Builder maintains the active block and the sealed history.
//
// Thread-safety: not safe for concurrent use. The engine owns a builder
// and drives it from a single goroutine.
type Builder interface {
	// Add places ev into a block.
	//
	// Events at or after the active block's End seal it and start a new
	// block. Events before the frontier (the active block's start, or the
	// last sealed block's end) are clamped into the nearest block and
	// clamped is true.
	//
	// Returns ErrEventExpired when ev is older than every retained block
	// after history has been evicted.
	Add(ev usage.Event) (clamped bool, err error)

	// SealExpired seals the active block when now >= End.
	//
	// Returns true if a block was sealed.
	SealExpired(now time.Time) bool

	// Flush seals the active block, if any.
	Flush()

	// Retain applies the retention policy and returns the number of
	// evicted blocks.
	Retain(now time.Time) int

	// Active returns the active block, or nil.
	Active() *Block

	// Sealed returns the sealed history, oldest first.
	Sealed() []*Block

	// Blocks returns sealed history followed by the active block.
	Blocks() []*Block

	// Horizon returns the start of the oldest retained block, or the zero
	// time when there are none.
	Horizon() time.Time

	// Restore replaces builder state with previously saved blocks.
	//
	// Returns ErrInvalidHistory if blocks overlap or an active block is
	// not the newest.
	Restore(saved []Block) error
}

// Config contains builder configuration.
type Config struct {
	// Duration is the block length. Default: DefaultDuration.
	Duration time.Duration

	// Retention bounds sealed history. Default: 50 blocks, 192h.
	Retention Retention
}
