package blocks

import (
	"errors"
	"testing"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/logger"
	"github.com/0xmhha/quota-monitor/pkg/usage"
)

var base = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func event(minutes, tokens int) usage.Event {
	return usage.Event{
		Timestamp:   at(minutes),
		InputTokens: tokens,
		Model:       "claude-sonnet-4",
		CostUSD:     0.01,
	}
}

func newBuilder(t *testing.T, r Retention) Builder {
	t.Helper()
	b, err := New(Config{Retention: r}, logger.Noop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b
}

func mustAdd(t *testing.T, b Builder, ev usage.Event) bool {
	t.Helper()
	clamped, err := b.Add(ev)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return clamped
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"defaults", Config{}, nil},
		{"count only", Config{Retention: Retention{MaxBlocks: 10}}, nil},
		{"age only", Config{Retention: Retention{MaxAge: time.Hour}}, nil},
		{"negative count", Config{Retention: Retention{MaxBlocks: -1}}, ErrInvalidRetention},
		{"negative age", Config{Retention: Retention{MaxBlocks: 1, MaxAge: -time.Hour}}, ErrInvalidRetention},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, logger.Noop())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIncreasingStreamInvariants(t *testing.T) {
	b := newBuilder(t, Retention{})

	for m := 0; m < 24*60; m += 7 {
		if mustAdd(t, b, event(m, 10)) {
			t.Fatalf("in-order event at minute %d reported as clamped", m)
		}
	}

	all := b.Blocks()
	if len(all) < 2 {
		t.Fatalf("len(Blocks) = %d, want several", len(all))
	}

	active := 0
	for i, blk := range all {
		if got := blk.End.Sub(blk.Start); got != DefaultDuration {
			t.Errorf("block %s: End-Start = %v, want %v", blk.ID, got, DefaultDuration)
		}
		for _, ev := range blk.Events {
			if !blk.Contains(ev.Timestamp) {
				t.Errorf("block %s: event at %v outside [%v, %v)", blk.ID, ev.Timestamp, blk.Start, blk.End)
			}
		}
		if i > 0 && blk.Start.Before(all[i-1].End) {
			t.Errorf("block %s overlaps previous block", blk.ID)
		}
		if blk.Active {
			active++
		}
	}
	if active != 1 {
		t.Errorf("active blocks = %d, want 1", active)
	}
}

func TestBlockStartsAtFirstEvent(t *testing.T) {
	b := newBuilder(t, Retention{})
	mustAdd(t, b, event(17, 100))

	blk := b.Active()
	if blk == nil {
		t.Fatal("Active() = nil")
	}
	if !blk.Start.Equal(at(17)) {
		t.Errorf("Start = %v, want %v", blk.Start, at(17))
	}
	if !blk.End.Equal(at(17).Add(5 * time.Hour)) {
		t.Errorf("End = %v, want Start+5h", blk.End)
	}
	if blk.ID != "2024-01-15T10:17:00Z" {
		t.Errorf("ID = %q", blk.ID)
	}
}

func TestEventsStraddlingWindowProduceTwoBlocks(t *testing.T) {
	b := newBuilder(t, Retention{})

	mustAdd(t, b, event(0, 100))
	mustAdd(t, b, event(301, 200))

	sealed := b.Sealed()
	if len(sealed) != 1 {
		t.Fatalf("len(Sealed) = %d, want 1", len(sealed))
	}
	if sealed[0].TotalTokens != 100 || sealed[0].Active {
		t.Errorf("sealed block = %+v", sealed[0])
	}

	active := b.Active()
	if active == nil || !active.Start.Equal(at(301)) || active.TotalTokens != 200 {
		t.Errorf("active block = %+v, want start at minute 301 with 200 tokens", active)
	}
}

func TestEventAtEndStartsNewBlock(t *testing.T) {
	b := newBuilder(t, Retention{})

	mustAdd(t, b, event(0, 1))
	mustAdd(t, b, event(300, 1))

	if got := len(b.Blocks()); got != 2 {
		t.Errorf("len(Blocks) = %d, want 2 (End is exclusive)", got)
	}
}

func TestAggregates(t *testing.T) {
	b := newBuilder(t, Retention{})

	mustAdd(t, b, usage.Event{Timestamp: at(0), InputTokens: 10, OutputTokens: 5, CacheCreationTokens: 3, CacheReadTokens: 2, Model: "opus", CostUSD: 1})
	mustAdd(t, b, usage.Event{Timestamp: at(30), InputTokens: 1, OutputTokens: 1, Model: "sonnet", CostUSD: 0.5})
	mustAdd(t, b, usage.Event{Timestamp: at(10), InputTokens: 1, Model: "opus"})

	blk := b.Active()
	if blk.TotalTokens != 23 {
		t.Errorf("TotalTokens = %d, want 23", blk.TotalTokens)
	}
	if blk.CostUSD != 1.5 {
		t.Errorf("CostUSD = %v, want 1.5", blk.CostUSD)
	}
	if blk.Messages != 3 {
		t.Errorf("Messages = %d, want 3", blk.Messages)
	}
	want := TokenCounts{Input: 12, Output: 6, CacheCreation: 3, CacheRead: 2}
	if blk.Tokens != want {
		t.Errorf("Tokens = %+v, want %+v", blk.Tokens, want)
	}
	if got := blk.Models["opus"]; got.Entries != 2 || got.Tokens != 21 {
		t.Errorf("Models[opus] = %+v", got)
	}
	if !blk.LastEventAt.Equal(at(30)) {
		t.Errorf("LastEventAt = %v, want %v", blk.LastEventAt, at(30))
	}
	if blk.Duration() != 30*time.Minute {
		t.Errorf("Duration = %v, want 30m", blk.Duration())
	}
}

func TestBlockTiming(t *testing.T) {
	blk := &Block{Start: at(0), End: at(300)}

	tests := []struct {
		now          time.Time
		wantRemain   time.Duration
		wantProgress float64
	}{
		{at(-10), 310 * time.Minute, 0},
		{at(0), 300 * time.Minute, 0},
		{at(150), 150 * time.Minute, 0.5},
		{at(300), 0, 1},
		{at(400), 0, 1},
	}

	for _, tt := range tests {
		if got := blk.Remaining(tt.now); got != tt.wantRemain {
			t.Errorf("Remaining(%v) = %v, want %v", tt.now, got, tt.wantRemain)
		}
		if got := blk.Progress(tt.now); got != tt.wantProgress {
			t.Errorf("Progress(%v) = %v, want %v", tt.now, got, tt.wantProgress)
		}
	}
}

func TestLateEvents(t *testing.T) {
	t.Run("inside sealed block keeps timestamp", func(t *testing.T) {
		b := newBuilder(t, Retention{})
		mustAdd(t, b, event(0, 100))
		mustAdd(t, b, event(400, 100))

		if !mustAdd(t, b, event(60, 7)) {
			t.Error("late event not reported as clamped")
		}

		sealed := b.Sealed()[0]
		if sealed.TotalTokens != 107 {
			t.Errorf("sealed TotalTokens = %d, want 107", sealed.TotalTokens)
		}
		if got := sealed.Events[1].Timestamp; !got.Equal(at(60)) {
			t.Errorf("stored timestamp = %v, want %v", got, at(60))
		}
		if b.Active().TotalTokens != 100 {
			t.Errorf("active TotalTokens = %d, want 100", b.Active().TotalTokens)
		}
	})

	t.Run("before all blocks clamps to oldest start", func(t *testing.T) {
		b := newBuilder(t, Retention{})
		mustAdd(t, b, event(100, 10))

		if !mustAdd(t, b, event(20, 5)) {
			t.Error("late event not reported as clamped")
		}

		blk := b.Active()
		if blk.TotalTokens != 15 {
			t.Errorf("TotalTokens = %d, want 15", blk.TotalTokens)
		}
		if got := blk.Events[1].Timestamp; !got.Equal(blk.Start) {
			t.Errorf("stored timestamp = %v, want block start %v", got, blk.Start)
		}
		if !blk.Start.Equal(at(100)) {
			t.Errorf("Start moved to %v", blk.Start)
		}
	})

	t.Run("gap between blocks goes to nearest", func(t *testing.T) {
		b := newBuilder(t, Retention{})
		mustAdd(t, b, event(0, 1))    // [0, 300)
		mustAdd(t, b, event(1000, 1)) // [1000, 1300)

		// 310 is 10m past the first block, 690m before the second.
		mustAdd(t, b, event(310, 5))

		sealed := b.Sealed()[0]
		if sealed.TotalTokens != 6 {
			t.Errorf("sealed TotalTokens = %d, want 6", sealed.TotalTokens)
		}
		last := sealed.Events[len(sealed.Events)-1].Timestamp
		if !sealed.Contains(last) {
			t.Errorf("clamped timestamp %v outside [%v, %v)", last, sealed.Start, sealed.End)
		}
	})

	t.Run("tie goes to newer block", func(t *testing.T) {
		b := newBuilder(t, Retention{})
		mustAdd(t, b, event(0, 1))   // [0, 300)
		mustAdd(t, b, event(400, 1)) // [400, 700)

		// 350 is 50m past the first End and 50m before the next Start.
		mustAdd(t, b, event(350, 5))

		if b.Active().TotalTokens != 6 {
			t.Errorf("active TotalTokens = %d, want 6", b.Active().TotalTokens)
		}
	})

	t.Run("after seal with nothing active", func(t *testing.T) {
		b := newBuilder(t, Retention{})
		mustAdd(t, b, event(0, 1))
		b.Flush()

		if !mustAdd(t, b, event(10, 1)) {
			t.Error("event inside sealed block not reported as clamped")
		}
		if b.Active() != nil {
			t.Error("late event must not start a block")
		}
		if mustAdd(t, b, event(300, 1)) {
			t.Error("event past frontier reported as clamped")
		}
		if b.Active() == nil {
			t.Error("event past frontier should start a block")
		}
	})
}

func TestSealExpired(t *testing.T) {
	b := newBuilder(t, Retention{})
	mustAdd(t, b, event(0, 1))

	if b.SealExpired(at(299)) {
		t.Error("SealExpired before End sealed the block")
	}
	if !b.SealExpired(at(300)) {
		t.Error("SealExpired at End did not seal the block")
	}
	if b.Active() != nil {
		t.Error("Active() != nil after seal")
	}
	if b.SealExpired(at(600)) {
		t.Error("SealExpired with nothing active returned true")
	}
}

func TestRetainByCount(t *testing.T) {
	b := newBuilder(t, Retention{MaxBlocks: 3})

	for i := 0; i < 6; i++ {
		mustAdd(t, b, event(i*300, 100+i))
	}
	b.Flush()

	if got := b.Retain(at(6 * 300)); got != 3 {
		t.Errorf("Retain() = %d, want 3", got)
	}

	sealed := b.Sealed()
	if len(sealed) != 3 {
		t.Fatalf("len(Sealed) = %d, want 3", len(sealed))
	}
	if sealed[0].TotalTokens != 103 {
		t.Errorf("oldest retained TotalTokens = %d, want 103", sealed[0].TotalTokens)
	}

	_, err := b.Add(event(10, 1))
	if !errors.Is(err, ErrEventExpired) {
		t.Errorf("Add() of evicted-range event error = %v, want ErrEventExpired", err)
	}
}

func TestRetainByAge(t *testing.T) {
	b := newBuilder(t, Retention{MaxAge: 24 * time.Hour})

	mustAdd(t, b, event(0, 1))    // ends at 300
	mustAdd(t, b, event(2000, 1)) // ends at 2300
	mustAdd(t, b, event(2400, 1)) // active

	now := at(300 + 24*60 + 1)
	if got := b.Retain(now); got != 1 {
		t.Errorf("Retain() = %d, want 1", got)
	}
	if got := len(b.Sealed()); got != 1 {
		t.Errorf("len(Sealed) = %d, want 1", got)
	}
	if b.Active() == nil {
		t.Error("active block must never be evicted")
	}
	if !b.Horizon().Equal(at(2000)) {
		t.Errorf("Horizon() = %v, want %v", b.Horizon(), at(2000))
	}
}

func TestRestore(t *testing.T) {
	src := newBuilder(t, Retention{})
	mustAdd(t, src, event(0, 10))
	mustAdd(t, src, event(30, 20))
	mustAdd(t, src, event(400, 5))

	var saved []Block
	for _, blk := range src.Blocks() {
		saved = append(saved, *blk)
	}
	// Order must not matter.
	saved[0], saved[1] = saved[1], saved[0]

	dst := newBuilder(t, Retention{})
	if err := dst.Restore(saved); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if got := len(dst.Sealed()); got != 1 {
		t.Errorf("len(Sealed) = %d, want 1", got)
	}
	if dst.Sealed()[0].TotalTokens != 30 {
		t.Errorf("sealed TotalTokens = %d, want 30", dst.Sealed()[0].TotalTokens)
	}
	if dst.Active() == nil || dst.Active().TotalTokens != 5 {
		t.Errorf("active = %+v, want 5 tokens", dst.Active())
	}

	// Subsequent events continue from restored state.
	mustAdd(t, dst, event(410, 5))
	if dst.Active().TotalTokens != 10 {
		t.Errorf("active TotalTokens = %d, want 10", dst.Active().TotalTokens)
	}
}

func TestRestoreRejectsInconsistentHistory(t *testing.T) {
	tests := []struct {
		name  string
		saved []Block
	}{
		{
			name: "overlap",
			saved: []Block{
				{Start: at(0), End: at(300)},
				{Start: at(100), End: at(400)},
			},
		},
		{
			name: "active not newest",
			saved: []Block{
				{Start: at(0), End: at(300), Active: true},
				{Start: at(400), End: at(700)},
			},
		},
		{
			name:  "empty window",
			saved: []Block{{Start: at(0), End: at(0)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder(t, Retention{})
			if err := b.Restore(tt.saved); !errors.Is(err, ErrInvalidHistory) {
				t.Errorf("Restore() error = %v, want ErrInvalidHistory", err)
			}
		})
	}
}
