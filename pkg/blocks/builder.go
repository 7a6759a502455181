package blocks

import (
	"fmt"
	"sort"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/logger"
	"github.com/0xmhha/quota-monitor/pkg/usage"
)

// Default retention bounds.
const (
	DefaultMaxBlocks = 50
	DefaultMaxAge    = 192 * time.Hour
)

// builder implements the Builder interface.
type builder struct {
	duration  time.Duration
	retention Retention

	active *Block
	sealed []*Block

	// evictedThrough is the End of the newest evicted block.
	evictedThrough time.Time

	logger logger.Logger
}

// New creates a new block builder.
//
// Returns ErrInvalidRetention if a retention bound is negative.
func New(cfg Config, log logger.Logger) (Builder, error) {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.Retention.MaxBlocks < 0 || cfg.Retention.MaxAge < 0 {
		return nil, fmt.Errorf("%w: max_blocks=%d max_age=%s",
			ErrInvalidRetention, cfg.Retention.MaxBlocks, cfg.Retention.MaxAge)
	}
	if cfg.Retention == (Retention{}) {
		cfg.Retention = Retention{MaxBlocks: DefaultMaxBlocks, MaxAge: DefaultMaxAge}
	}

	log.Debug("block builder created",
		"duration", cfg.Duration,
		"max_blocks", cfg.Retention.MaxBlocks,
		"max_age", cfg.Retention.MaxAge)

	return &builder{
		duration:  cfg.Duration,
		retention: cfg.Retention,
		logger:    log,
	}, nil
}

// Add implements Builder.Add.
func (b *builder) Add(ev usage.Event) (bool, error) {
	ts := ev.Timestamp

	if b.active != nil {
		switch {
		case b.active.Contains(ts):
			b.active.add(ev)
			return false, nil
		case !ts.Before(b.active.End):
			b.seal()
			b.start(ev)
			return false, nil
		}
		return b.placeLate(ev)
	}

	if n := len(b.sealed); n > 0 && ts.Before(b.sealed[n-1].End) {
		return b.placeLate(ev)
	}

	b.start(ev)
	return false, nil
}

// placeLate puts an event that arrived behind the frontier into the block
// containing it, or the nearest block with the timestamp clamped.
func (b *builder) placeLate(ev usage.Event) (bool, error) {
	ts := ev.Timestamp

	if !b.evictedThrough.IsZero() && ts.Before(b.evictedThrough) {
		return false, fmt.Errorf("%w: %s", ErrEventExpired, ts.Format(time.RFC3339))
	}

	var (
		target *Block
		best   time.Duration
	)
	// Newest first so that ties go to the newer block.
	for _, blk := range b.newestFirst() {
		if blk.Contains(ts) {
			target = blk
			break
		}
		if d := distance(blk, ts); target == nil || d < best {
			target, best = blk, d
		}
	}

	ev.Timestamp = clamp(target, ts)
	if !ev.Timestamp.Equal(ts) {
		if ev.ObservedAt.IsZero() {
			ev.ObservedAt = ts
		}
		b.logger.Debug("late event clamped",
			"block", target.ID,
			"timestamp", ts,
			"stored", ev.Timestamp)
	}
	target.add(ev)
	return true, nil
}

func (b *builder) newestFirst() []*Block {
	out := make([]*Block, 0, len(b.sealed)+1)
	if b.active != nil {
		out = append(out, b.active)
	}
	for i := len(b.sealed) - 1; i >= 0; i-- {
		out = append(out, b.sealed[i])
	}
	return out
}

func distance(blk *Block, ts time.Time) time.Duration {
	switch {
	case ts.Before(blk.Start):
		return blk.Start.Sub(ts)
	case !ts.Before(blk.End):
		return ts.Sub(blk.End)
	default:
		return 0
	}
}

// clamp moves ts into the half-open range [Start, End).
func clamp(blk *Block, ts time.Time) time.Time {
	if ts.Before(blk.Start) {
		return blk.Start
	}
	if !ts.Before(blk.End) {
		return blk.End.Add(-time.Nanosecond)
	}
	return ts
}

func (b *builder) start(ev usage.Event) {
	start := ev.Timestamp
	b.active = &Block{
		ID:     start.UTC().Format(time.RFC3339),
		Start:  start,
		End:    start.Add(b.duration),
		Models: make(map[string]ModelStats),
		Active: true,
	}
	b.active.add(ev)

	b.logger.Debug("block started", "block", b.active.ID, "end", b.active.End)
}

func (b *builder) seal() {
	if b.active == nil {
		return
	}
	b.active.Active = false
	b.sealed = append(b.sealed, b.active)

	b.logger.Debug("block sealed",
		"block", b.active.ID,
		"tokens", b.active.TotalTokens,
		"messages", b.active.Messages)

	b.active = nil
}

// SealExpired implements Builder.SealExpired.
func (b *builder) SealExpired(now time.Time) bool {
	if b.active == nil || now.Before(b.active.End) {
		return false
	}
	b.seal()
	return true
}

// Flush implements Builder.Flush.
func (b *builder) Flush() {
	b.seal()
}

// Retain implements Builder.Retain.
func (b *builder) Retain(now time.Time) int {
	drop := 0

	if limit := b.retention.MaxBlocks; limit > 0 && len(b.sealed) > limit {
		drop = len(b.sealed) - limit
	}
	if b.retention.MaxAge > 0 {
		cutoff := now.Add(-b.retention.MaxAge)
		for drop < len(b.sealed) && b.sealed[drop].End.Before(cutoff) {
			drop++
		}
	}
	if drop == 0 {
		return 0
	}

	b.evictedThrough = b.sealed[drop-1].End
	b.sealed = append([]*Block(nil), b.sealed[drop:]...)

	b.logger.Debug("blocks evicted", "count", drop, "retained", len(b.sealed))
	return drop
}

// Active implements Builder.Active.
func (b *builder) Active() *Block {
	return b.active
}

// Sealed implements Builder.Sealed.
func (b *builder) Sealed() []*Block {
	return append([]*Block(nil), b.sealed...)
}

// Blocks implements Builder.Blocks.
func (b *builder) Blocks() []*Block {
	out := b.Sealed()
	if b.active != nil {
		out = append(out, b.active)
	}
	return out
}

// Horizon implements Builder.Horizon.
func (b *builder) Horizon() time.Time {
	if len(b.sealed) > 0 {
		return b.sealed[0].Start
	}
	if b.active != nil {
		return b.active.Start
	}
	return time.Time{}
}

// Restore implements Builder.Restore.
func (b *builder) Restore(saved []Block) error {
	restored := make([]*Block, 0, len(saved))
	for i := range saved {
		blk := rebuild(saved[i])
		restored = append(restored, &blk)
	}
	sort.Slice(restored, func(i, j int) bool {
		return restored[i].Start.Before(restored[j].Start)
	})

	for i, blk := range restored {
		if !blk.End.After(blk.Start) {
			return fmt.Errorf("%w: block %s ends before it starts", ErrInvalidHistory, blk.ID)
		}
		if i > 0 && blk.Start.Before(restored[i-1].End) {
			return fmt.Errorf("%w: block %s overlaps %s", ErrInvalidHistory, blk.ID, restored[i-1].ID)
		}
		if blk.Active && i != len(restored)-1 {
			return fmt.Errorf("%w: active block %s is not the newest", ErrInvalidHistory, blk.ID)
		}
	}

	b.active = nil
	b.sealed = nil
	b.evictedThrough = time.Time{}

	if n := len(restored); n > 0 && restored[n-1].Active {
		b.active = restored[n-1]
		restored = restored[:n-1]
	}
	b.sealed = restored

	b.logger.Info("block history restored",
		"sealed", len(b.sealed),
		"active", b.active != nil)
	return nil
}

// rebuild recomputes aggregates from a saved block's events.
func rebuild(saved Block) Block {
	blk := Block{
		ID:     saved.ID,
		Start:  saved.Start,
		End:    saved.End,
		Models: make(map[string]ModelStats),
		Active: saved.Active,
	}
	if blk.ID == "" {
		blk.ID = blk.Start.UTC().Format(time.RFC3339)
	}
	for _, ev := range saved.Events {
		blk.add(ev)
	}
	return blk
}

func (blk *Block) add(ev usage.Event) {
	tokens := ev.TotalTokens()

	blk.Events = append(blk.Events, ev)
	blk.TotalTokens += tokens
	blk.CostUSD += ev.CostUSD
	blk.Messages++

	blk.Tokens.Input += ev.InputTokens
	blk.Tokens.Output += ev.OutputTokens
	blk.Tokens.CacheCreation += ev.CacheCreationTokens
	blk.Tokens.CacheRead += ev.CacheReadTokens

	model := ev.Model
	if model == "" {
		model = "unknown"
	}
	stats := blk.Models[model]
	stats.Tokens += tokens
	stats.CostUSD += ev.CostUSD
	stats.Entries++
	blk.Models[model] = stats

	if ev.Timestamp.After(blk.LastEventAt) {
		blk.LastEventAt = ev.Timestamp
	}
}
