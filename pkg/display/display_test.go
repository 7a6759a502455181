package display

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
	"github.com/0xmhha/quota-monitor/pkg/burnrate"
	"github.com/0xmhha/quota-monitor/pkg/engine"
	"github.com/0xmhha/quota-monitor/pkg/limits"
	"github.com/0xmhha/quota-monitor/pkg/predict"
	"github.com/0xmhha/quota-monitor/pkg/usage"
)

var now = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func testSnapshot() engine.Snapshot {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Hour)
	depletes := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	daily := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)

	return engine.Snapshot{
		GeneratedAt: now,
		Active: &engine.BlockSummary{
			ID:          start.Format(time.RFC3339),
			Start:       start,
			End:         end,
			LastEventAt: now.Add(-time.Minute),
			TotalTokens: 12345,
			CostUSD:     1.5,
			Messages:    42,
			Remaining:   3 * time.Hour,
			Progress:    0.4,
		},
		BurnRate: burnrate.Rate{
			TokensPerMinute: 123.4,
			CostPerHour:     0.5,
			Series:          []int{1, 5, 3, 8},
		},
		Limit: limits.PlanLimit{
			Name:       limits.PlanPro,
			TokenLimit: 44000,
			Known:      true,
			Source:     limits.SourceFixed,
			Confidence: 1,
		},
		PlanState: "fixed",
		Prediction: predict.Prediction{
			Consumed:        12345,
			Limit:           44000,
			Remaining:       31655,
			Percent:         28.06,
			DepletesAt:      &depletes,
			ResetAt:         end,
			Binding:         predict.BindingQuota,
			Status:          predict.StatusWarning,
			ProjectedTokens: 34557,
			ProjectedCost:   3.0,
		},
		NextReset:      &end,
		ReferenceReset: &daily,
	}
}

func testBlocks() []blocks.Block {
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	ev := usage.Event{Timestamp: start, InputTokens: 1500}
	return []blocks.Block{
		{
			ID:          start.Format(time.RFC3339),
			Start:       start,
			End:         start.Add(5 * time.Hour),
			Events:      []usage.Event{ev},
			TotalTokens: 1500,
			CostUSD:     0.25,
			Messages:    1,
		},
		{
			ID:          start.Add(10 * time.Hour).Format(time.RFC3339),
			Start:       start.Add(10 * time.Hour),
			End:         start.Add(15 * time.Hour),
			TotalTokens: 12345,
			CostUSD:     1.5,
			Messages:    42,
			Active:      true,
		},
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		config Config
		want   string // Type name
	}{
		{
			name:   "default format (table)",
			config: Config{},
			want:   "*display.tableFormatter",
		},
		{
			name:   "table format",
			config: Config{Format: FormatTable},
			want:   "*display.tableFormatter",
		},
		{
			name:   "json format",
			config: Config{Format: FormatJSON},
			want:   "*display.jsonFormatter",
		},
		{
			name:   "simple format",
			config: Config{Format: FormatSimple},
			want:   "*display.simpleFormatter",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			formatter := New(tt.config)
			if formatter == nil {
				t.Fatal("New() returned nil")
			}

			got := fmt.Sprintf("%T", formatter)
			if got != tt.want {
				t.Errorf("New() type = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{" JSON ", FormatJSON, false},
		{"simple", FormatSimple, false},
		{"", FormatTable, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTableFormatter_FormatSnapshot(t *testing.T) {
	t.Parallel()

	formatter := New(Config{Format: FormatTable, Location: time.UTC})

	var buf bytes.Buffer
	if err := formatter.FormatSnapshot(&buf, testSnapshot()); err != nil {
		t.Fatalf("FormatSnapshot() error = %v", err)
	}

	output := buf.String()

	for _, want := range []string{
		"pro (fixed, fixed)",
		"10:00 - 15:00 (3h00m left, 40%)",
		"12,345 / 44,000 (28.1%)",
		"123.4 tok/min ($0.50/h)",
		"34,557 tokens",
		"14:00 (before reset)",
		"WARNING",
		"2024-01-16 00:00",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Output missing %q:\n%s", want, output)
		}
	}

	if strings.Contains(output, "Flags") {
		t.Error("Output shows flags for a healthy snapshot")
	}
	if strings.Contains(output, "tokens/min, last") {
		t.Error("Graph rendered while disabled")
	}
}

func TestTableFormatter_Flags(t *testing.T) {
	t.Parallel()

	snap := testSnapshot()
	snap.Stale = true
	snap.ConsecutiveFailures = 3
	snap.PlanSwitched = true

	var buf bytes.Buffer
	if err := New(Config{Location: time.UTC}).FormatSnapshot(&buf, snap); err != nil {
		t.Fatalf("FormatSnapshot() error = %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "STALE (3 failed fetches)") {
		t.Error("Output missing stale flag")
	}
	if !strings.Contains(output, "PLAN SWITCHED") {
		t.Error("Output missing plan switch flag")
	}
}

func TestTableFormatter_NoActiveBlock(t *testing.T) {
	t.Parallel()

	snap := engine.Snapshot{
		GeneratedAt: now,
		BurnRate:    burnrate.Rate{InsufficientData: true},
		Limit:       limits.PlanLimit{Name: limits.PlanCustom},
		PlanState:   "auto_detecting",
		Learning:    true,
		Prediction:  predict.Prediction{Status: predict.StatusUnknown},
	}

	var buf bytes.Buffer
	if err := New(Config{Location: time.UTC}).FormatSnapshot(&buf, snap); err != nil {
		t.Fatalf("FormatSnapshot() error = %v", err)
	}

	output := buf.String()
	for _, want := range []string{"none active", "no recent activity", "unknown limit", "learning", "UNKNOWN"} {
		if !strings.Contains(output, want) {
			t.Errorf("Output missing %q:\n%s", want, output)
		}
	}
	if strings.Contains(output, "Next Reset") {
		t.Error("Output shows a reset without an active block")
	}
}

func TestTableFormatter_Graph(t *testing.T) {
	t.Parallel()

	formatter := New(Config{Format: FormatTable, Graph: true, Width: 30, Location: time.UTC})

	var buf bytes.Buffer
	if err := formatter.FormatSnapshot(&buf, testSnapshot()); err != nil {
		t.Fatalf("FormatSnapshot() error = %v", err)
	}
	if !strings.Contains(buf.String(), "tokens/min, last 4 minutes") {
		t.Errorf("Graph caption missing:\n%s", buf.String())
	}

	// A single point is not plotted.
	snap := testSnapshot()
	snap.BurnRate.Series = []int{5}
	buf.Reset()
	if err := formatter.FormatSnapshot(&buf, snap); err != nil {
		t.Fatalf("FormatSnapshot() error = %v", err)
	}
	if strings.Contains(buf.String(), "tokens/min, last") {
		t.Error("Graph rendered for a single point")
	}
}

func TestTableFormatter_Color(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := New(Config{Color: true, Location: time.UTC}).FormatSnapshot(&buf, testSnapshot()); err != nil {
		t.Fatalf("FormatSnapshot() error = %v", err)
	}
	if !strings.Contains(buf.String(), "WARNING") {
		t.Error("Output missing status")
	}
}

func TestTableFormatter_FormatBlocks(t *testing.T) {
	t.Parallel()

	formatter := New(Config{Format: FormatTable, Location: time.UTC})

	var buf bytes.Buffer
	if err := formatter.FormatBlocks(&buf, testBlocks()); err != nil {
		t.Fatalf("FormatBlocks() error = %v", err)
	}

	output := buf.String()
	for _, want := range []string{"2024-01-15 00:00", "2024-01-15 15:00", "1,500", "12,345", "$1.50", "sealed", "active"} {
		if !strings.Contains(output, want) {
			t.Errorf("Output missing %q:\n%s", want, output)
		}
	}
}

func TestJSONFormatter_FormatSnapshot(t *testing.T) {
	t.Parallel()

	formatter := New(Config{Format: FormatJSON})

	var buf bytes.Buffer
	if err := formatter.FormatSnapshot(&buf, testSnapshot()); err != nil {
		t.Fatalf("FormatSnapshot() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Invalid JSON output: %v", err)
	}

	if got["plan_state"] != "fixed" {
		t.Errorf("plan_state = %v, want fixed", got["plan_state"])
	}
	pred, ok := got["prediction"].(map[string]any)
	if !ok {
		t.Fatal("prediction missing")
	}
	if pred["binding"] != "quota" {
		t.Errorf("binding = %v, want quota", pred["binding"])
	}
}

func TestJSONFormatter_FormatBlocks(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := New(Config{Format: FormatJSON, Compact: true}).FormatBlocks(&buf, testBlocks()); err != nil {
		t.Fatalf("FormatBlocks() error = %v", err)
	}

	var got []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Invalid JSON output: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d blocks, want 2", len(got))
	}
	if _, ok := got[0]["events"]; ok {
		t.Error("Events were serialized")
	}
	if got[1]["active"] != true {
		t.Error("Active flag lost")
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Error("Compact JSON spans several lines")
	}
}

func TestSimpleFormatter_FormatSnapshot(t *testing.T) {
	t.Parallel()

	formatter := New(Config{Format: FormatSimple, Location: time.UTC})

	var buf bytes.Buffer
	if err := formatter.FormatSnapshot(&buf, testSnapshot()); err != nil {
		t.Fatalf("FormatSnapshot() error = %v", err)
	}

	output := buf.String()
	if strings.Count(output, "\n") != 1 {
		t.Errorf("Simple output should be one line, got %q", output)
	}
	for _, want := range []string{"Plan: pro", "Tokens: 12,345/44,000 (28.1%)", "Rate: 123.4 tok/min", "Status: warning", "Reset: 15:00"} {
		if !strings.Contains(output, want) {
			t.Errorf("Output missing %q: %s", want, output)
		}
	}
}

func TestSimpleFormatter_FormatBlocks(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := New(Config{Format: FormatSimple, Location: time.UTC}).FormatBlocks(&buf, testBlocks()); err != nil {
		t.Fatalf("FormatBlocks() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.HasSuffix(lines[1], "(active)") {
		t.Errorf("Active block not marked: %s", lines[1])
	}
}

func TestFormatNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		n    int
		want string
	}{
		{"zero", 0, "0"},
		{"small", 123, "123"},
		{"thousand", 1000, "1,000"},
		{"ten thousand", 12345, "12,345"},
		{"million", 1234567, "1,234,567"},
		{"negative", -44000, "-44,000"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := formatNumber(tt.n)
			if got != tt.want {
				t.Errorf("formatNumber(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestFormatFloat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		f         float64
		precision int
		want      string
	}{
		{"zero", 0.0, 2, "0.00"},
		{"integer", 123.0, 2, "123.00"},
		{"decimal", 123.456, 2, "123.46"},
		{"one digit", 123.456, 1, "123.5"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := formatFloat(tt.f, tt.precision)
			if got != tt.want {
				t.Errorf("formatFloat(%f, %d) = %v, want %v", tt.f, tt.precision, got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Minute, "0m"},
		{0, "0m"},
		{59 * time.Second, "0m"},
		{42 * time.Minute, "42m"},
		{2*time.Hour + 5*time.Minute + 30*time.Second, "2h05m"},
		{5 * time.Hour, "5h00m"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatClock(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*3600)

	tests := []struct {
		name string
		t    time.Time
		loc  *time.Location
		want string
	}{
		{"same day", now.Add(3 * time.Hour), time.UTC, "15:00"},
		{"next day", now.Add(13 * time.Hour), time.UTC, "2024-01-16 01:00"},
		{"converted zone", now.Add(time.Hour), tokyo, "22:00"},
	}

	for _, tt := range tests {
		if got := formatClock(tt.t, now, tt.loc); got != tt.want {
			t.Errorf("%s: formatClock() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestCompactMode(t *testing.T) {
	t.Parallel()

	// Non-compact.
	formatter1 := New(Config{Format: FormatTable, Compact: false, Location: time.UTC})
	var buf1 bytes.Buffer
	if err := formatter1.FormatSnapshot(&buf1, testSnapshot()); err != nil {
		t.Fatalf("FormatSnapshot() error = %v", err)
	}

	// Compact.
	formatter2 := New(Config{Format: FormatTable, Compact: true, Location: time.UTC})
	var buf2 bytes.Buffer
	if err := formatter2.FormatSnapshot(&buf2, testSnapshot()); err != nil {
		t.Fatalf("FormatSnapshot() error = %v", err)
	}

	// Compact output should be shorter.
	if len(buf2.String()) >= len(buf1.String()) {
		t.Error("Compact mode did not reduce output length")
	}
}

func TestEmptyData(t *testing.T) {
	t.Parallel()

	formatter := New(Config{Format: FormatTable})

	var buf bytes.Buffer
	if err := formatter.FormatBlocks(&buf, nil); err != nil {
		t.Fatalf("FormatBlocks() error = %v", err)
	}

	if !strings.Contains(buf.String(), "No data") {
		t.Error("Empty block list should show 'No data'")
	}
}
