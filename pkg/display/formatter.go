package display

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
	"github.com/0xmhha/quota-monitor/pkg/engine"
	"github.com/0xmhha/quota-monitor/pkg/predict"
)

// New creates a new formatter based on configuration.
//
// Parameters:
//   - cfg: Formatter configuration
//
// Returns a configured Formatter.
func New(cfg Config) Formatter {
	// Set defaults.
	if cfg.Format == "" {
		cfg.Format = FormatTable
	}
	if cfg.Width <= 0 {
		cfg.Width = 60
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	switch cfg.Format {
	case FormatJSON:
		return &jsonFormatter{config: cfg}
	case FormatSimple:
		return &simpleFormatter{config: cfg}
	case FormatTable:
		fallthrough
	default:
		return &tableFormatter{config: cfg}
	}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatSimple:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or simple)", s)
	}
}

// Info strips the events from a block.
func Info(b blocks.Block) BlockInfo {
	return BlockInfo{
		ID:          b.ID,
		Start:       b.Start,
		End:         b.End,
		LastEventAt: b.LastEventAt,
		TotalTokens: b.TotalTokens,
		CostUSD:     b.CostUSD,
		Messages:    b.Messages,
		Tokens:      b.Tokens,
		Models:      b.Models,
		Active:      b.Active,
	}
}

// formatNumber formats a number with thousand separators.
func formatNumber(n int) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}

	// Convert to string and add commas.
	s := fmt.Sprintf("%d", n)
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// formatFloat formats a float with specified precision.
func formatFloat(f float64, precision int) string {
	return fmt.Sprintf("%.*f", precision, f)
}

// formatDuration renders d as "2h05m" or "42m", rounded down to minutes.
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0m"
	}
	d = d.Truncate(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", h, m)
}

// formatClock renders t as a wall-clock time, with the date when it is
// not on now's day.
func formatClock(t, now time.Time, loc *time.Location) string {
	t = t.In(loc)
	now = now.In(loc)
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("2006-01-02 15:04")
}

// planLabel describes the limit in effect.
func planLabel(snap engine.Snapshot) string {
	name := string(snap.Limit.Name)
	if name == "" {
		name = "unknown"
	}
	if snap.Learning {
		return fmt.Sprintf("%s (%s, learning)", name, snap.PlanState)
	}
	if snap.Limit.Source == "" {
		return fmt.Sprintf("%s (%s)", name, snap.PlanState)
	}
	return fmt.Sprintf("%s (%s, %s)", name, snap.PlanState, snap.Limit.Source)
}

// depletionLabel describes when the quota runs out and which constraint
// binds first.
func depletionLabel(p predict.Prediction, now time.Time, loc *time.Location) string {
	switch {
	case p.Limit == 0:
		return "unknown limit"
	case p.Remaining == 0:
		return "quota exhausted"
	case p.DepletesAt == nil:
		return "not projected"
	case p.Binding == predict.BindingQuota:
		return fmt.Sprintf("%s (before reset)", formatClock(*p.DepletesAt, now, loc))
	default:
		return fmt.Sprintf("%s (after reset)", formatClock(*p.DepletesAt, now, loc))
	}
}

// flags lists the notable conditions of a snapshot.
func flags(snap engine.Snapshot) []string {
	var out []string
	if snap.Stale {
		out = append(out, fmt.Sprintf("STALE (%d failed fetches)", snap.ConsecutiveFailures))
	}
	if snap.PlanSwitched {
		out = append(out, "PLAN SWITCHED")
	}
	if snap.Learning {
		out = append(out, "LEARNING")
	}
	return out
}

// writeHeader writes a section header.
func writeHeader(w io.Writer, title string, compact bool) error {
	if compact {
		_, err := fmt.Fprintf(w, "%s\n", title)
		return err
	}

	_, err := fmt.Fprintf(w, "\n%s\n%s\n\n", title, strings.Repeat("=", len(title)))
	return err
}
