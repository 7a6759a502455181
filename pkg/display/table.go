package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
	"github.com/0xmhha/quota-monitor/pkg/engine"
	"github.com/0xmhha/quota-monitor/pkg/predict"
)

// Status colors.
var (
	colorSafe     = lipgloss.Color("#04B575")
	colorWarning  = lipgloss.Color("#FFB86C")
	colorCritical = lipgloss.Color("#FF5F87")
	colorMuted    = lipgloss.Color("#6C6C6C")
)

// tableFormatter formats output as tables.
type tableFormatter struct {
	config Config
}

// FormatSnapshot implements Formatter.FormatSnapshot.
func (f *tableFormatter) FormatSnapshot(w io.Writer, snap engine.Snapshot) error {
	if err := writeHeader(w, "Quota Monitor", f.config.Compact); err != nil {
		return err
	}

	loc := f.config.Location
	now := snap.GeneratedAt
	pred := snap.Prediction

	rows := [][]string{
		{"Plan", planLabel(snap)},
	}

	if snap.Active == nil {
		rows = append(rows, []string{"Block", "none active"})
	} else {
		a := snap.Active
		rows = append(rows,
			[]string{"Block", fmt.Sprintf("%s - %s (%s left, %s%%)",
				formatClock(a.Start, now, loc),
				formatClock(a.End, now, loc),
				formatDuration(a.Remaining),
				formatFloat(a.Progress*100, 0))},
			[]string{"Messages", formatNumber(a.Messages)},
			[]string{"Cost", "$" + formatFloat(a.CostUSD, 2)},
		)
	}

	if pred.Limit > 0 {
		rows = append(rows, []string{"Tokens", fmt.Sprintf("%s / %s (%s%%)",
			formatNumber(pred.Consumed), formatNumber(pred.Limit), formatFloat(pred.Percent, 1))})
	} else {
		rows = append(rows, []string{"Tokens", formatNumber(pred.Consumed)})
	}

	if snap.BurnRate.InsufficientData {
		rows = append(rows, []string{"Burn Rate", "no recent activity"})
	} else {
		rows = append(rows, []string{"Burn Rate", fmt.Sprintf("%s tok/min ($%s/h)",
			formatFloat(snap.BurnRate.TokensPerMinute, 1),
			formatFloat(snap.BurnRate.CostPerHour, 2))})
	}

	if snap.Active != nil {
		rows = append(rows, []string{"Projected", fmt.Sprintf("%s tokens, $%s at reset",
			formatNumber(pred.ProjectedTokens), formatFloat(pred.ProjectedCost, 2))})
	}

	rows = append(rows, []string{"Depletion", depletionLabel(pred, now, loc)})
	rows = append(rows, []string{"Status", f.status(w, pred.Status)})

	if snap.NextReset != nil {
		rows = append(rows, []string{"Next Reset", formatClock(*snap.NextReset, now, loc)})
	}
	if snap.ReferenceReset != nil {
		rows = append(rows, []string{"Daily Reset", formatClock(*snap.ReferenceReset, now, loc)})
	}
	if fl := flags(snap); len(fl) > 0 {
		rows = append(rows, []string{"Flags", strings.Join(fl, ", ")})
	}

	if err := f.writeTable(w, []string{"Metric", "Value"}, rows); err != nil {
		return err
	}

	if f.config.Graph {
		return f.writeGraph(w, snap.BurnRate.Series)
	}
	return nil
}

// FormatBlocks implements Formatter.FormatBlocks.
func (f *tableFormatter) FormatBlocks(w io.Writer, bs []blocks.Block) error {
	if err := writeHeader(w, "Session Blocks", f.config.Compact); err != nil {
		return err
	}

	loc := f.config.Location
	header := []string{"Start", "End", "Tokens", "Cost", "Messages", "Models", "State"}

	rows := make([][]string, len(bs))
	for i, b := range bs {
		state := "sealed"
		if b.Active {
			state = "active"
		}
		rows[i] = []string{
			b.Start.In(loc).Format("2006-01-02 15:04"),
			b.End.In(loc).Format("2006-01-02 15:04"),
			formatNumber(b.TotalTokens),
			"$" + formatFloat(b.CostUSD, 2),
			formatNumber(b.Messages),
			fmt.Sprintf("%d", len(b.Models)),
			state,
		}
	}

	return f.writeTable(w, header, rows)
}

// status renders the prediction status, colored when enabled.
func (f *tableFormatter) status(w io.Writer, s predict.Status) string {
	label := strings.ToUpper(string(s))
	if !f.config.Color {
		return label
	}

	r := lipgloss.NewRenderer(w)
	style := r.NewStyle().Bold(true)
	switch s {
	case predict.StatusSafe:
		style = style.Foreground(colorSafe)
	case predict.StatusWarning:
		style = style.Foreground(colorWarning)
	case predict.StatusCritical:
		style = style.Foreground(colorCritical)
	default:
		style = style.Foreground(colorMuted)
	}
	return style.Render(label)
}

// writeGraph plots the per-minute token series.
func (f *tableFormatter) writeGraph(w io.Writer, series []int) error {
	if len(series) < 2 {
		return nil
	}

	data := make([]float64, len(series))
	for i, v := range series {
		data[i] = float64(v)
	}

	graph := asciigraph.Plot(data,
		asciigraph.Height(5),
		asciigraph.Width(f.config.Width),
		asciigraph.Caption(fmt.Sprintf("tokens/min, last %d minutes", len(series))),
	)

	_, err := fmt.Fprintf(w, "%s\n", graph)
	return err
}

// writeTable writes a formatted table.
func (f *tableFormatter) writeTable(w io.Writer, header []string, rows [][]string) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No data")
		return err
	}

	// Calculate column widths.
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	// Write header.
	if err := f.writeRow(w, header, widths); err != nil {
		return err
	}

	// Write separator.
	if !f.config.Compact {
		separator := make([]string, len(header))
		for i, width := range widths {
			separator[i] = strings.Repeat("-", width)
		}
		if err := f.writeRow(w, separator, widths); err != nil {
			return err
		}
	}

	// Write rows.
	for _, row := range rows {
		if err := f.writeRow(w, row, widths); err != nil {
			return err
		}
	}

	// Add spacing.
	if !f.config.Compact {
		_, err := fmt.Fprintln(w)
		return err
	}

	return nil
}

// writeRow writes a single table row. Widths are measured in cells so
// styled values stay aligned.
func (f *tableFormatter) writeRow(w io.Writer, cells []string, widths []int) error {
	gap := "  "
	if f.config.Compact {
		gap = " "
	}

	var b strings.Builder
	for i, cell := range cells {
		if i > 0 {
			b.WriteString(gap)
		}
		b.WriteString(cell)
		if i < len(cells)-1 {
			if pad := widths[i] - lipgloss.Width(cell); pad > 0 {
				b.WriteString(strings.Repeat(" ", pad))
			}
		}
	}
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}
