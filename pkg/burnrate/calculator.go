package burnrate

import (
	"time"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
	"github.com/0xmhha/quota-monitor/pkg/logger"
)

// minElapsed keeps a burst of events in the first seconds of a block from
// producing an absurd rate.
const minElapsed = time.Minute

// calculator implements the Calculator interface.
type calculator struct {
	window time.Duration
}

// New creates a new burn rate calculator.
func New(cfg Config, log logger.Logger) Calculator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	log.Debug("burn rate calculator created", "window", cfg.Window)

	return &calculator{window: cfg.Window}
}

// Window implements Calculator.Window.
func (c *calculator) Window() time.Duration {
	return c.window
}

// Calculate implements Calculator.Calculate.
func (c *calculator) Calculate(now time.Time, blks []*blocks.Block) Rate {
	windowStart := now.Add(-c.window)

	rate := Rate{
		Window: c.window,
		Series: make([]int, buckets(c.window)),
	}

	var earliest time.Time
	for _, blk := range blks {
		// Block range [Start, End) against the closed window.
		if blk.Start.After(now) || !blk.End.After(windowStart) {
			continue
		}

		contributed := false
		for _, ev := range blk.Events {
			if ev.Timestamp.Before(windowStart) || ev.Timestamp.After(now) {
				continue
			}
			contributed = true
			tokens := ev.TotalTokens()
			rate.Tokens += tokens
			rate.CostUSD += ev.CostUSD
			rate.Events++

			i := int(ev.Timestamp.Sub(windowStart) / time.Minute)
			if i >= len(rate.Series) {
				i = len(rate.Series) - 1
			}
			rate.Series[i] += tokens
		}

		// Only blocks with events in the window bound the elapsed time;
		// an idle sealed block overlapping it would dilute the rate.
		if contributed && (earliest.IsZero() || blk.Start.Before(earliest)) {
			earliest = blk.Start
		}
	}

	if rate.Events == 0 {
		rate.InsufficientData = true
		return rate
	}

	from := windowStart
	if earliest.After(from) {
		from = earliest
	}
	rate.Elapsed = now.Sub(from)
	if rate.Elapsed < minElapsed {
		rate.Elapsed = minElapsed
	}

	rate.TokensPerMinute = float64(rate.Tokens) / rate.Elapsed.Minutes()
	rate.CostPerHour = rate.CostUSD / rate.Elapsed.Hours()
	return rate
}

func buckets(window time.Duration) int {
	n := int(window / time.Minute)
	if window%time.Minute != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}
