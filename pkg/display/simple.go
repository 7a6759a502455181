package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
	"github.com/0xmhha/quota-monitor/pkg/engine"
)

// simpleFormatter formats output as simple text.
type simpleFormatter struct {
	config Config
}

// FormatSnapshot implements Formatter.FormatSnapshot.
func (f *simpleFormatter) FormatSnapshot(w io.Writer, snap engine.Snapshot) error {
	pred := snap.Prediction

	tokens := formatNumber(pred.Consumed)
	if pred.Limit > 0 {
		tokens = fmt.Sprintf("%s/%s (%s%%)", tokens, formatNumber(pred.Limit), formatFloat(pred.Percent, 1))
	}

	parts := []string{
		fmt.Sprintf("Plan: %s", snap.Limit.Name),
		fmt.Sprintf("Tokens: %s", tokens),
		fmt.Sprintf("Rate: %s tok/min", formatFloat(snap.BurnRate.TokensPerMinute, 1)),
		fmt.Sprintf("Status: %s", pred.Status),
	}
	if snap.Active != nil {
		parts = append(parts, fmt.Sprintf("Reset: %s",
			formatClock(snap.Active.End, snap.GeneratedAt, f.config.Location)))
	}
	if fl := flags(snap); len(fl) > 0 {
		parts = append(parts, strings.Join(fl, ", "))
	}

	_, err := fmt.Fprintln(w, strings.Join(parts, " | "))
	return err
}

// FormatBlocks implements Formatter.FormatBlocks.
func (f *simpleFormatter) FormatBlocks(w io.Writer, bs []blocks.Block) error {
	for _, b := range bs {
		marker := ""
		if b.Active {
			marker = " (active)"
		}
		if _, err := fmt.Fprintf(w, "%s: %s tokens, $%s in %d messages%s\n",
			b.Start.In(f.config.Location).Format("2006-01-02 15:04"),
			formatNumber(b.TotalTokens),
			formatFloat(b.CostUSD, 2),
			b.Messages,
			marker); err != nil {
			return err
		}
	}

	return nil
}
