// Package display renders snapshots and block history.
//
// It supports multiple output formats (table, JSON, simple text). The
// table format can color the prediction status and draw the burn rate
// series as a small line chart.
package display

import (
	"io"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
	"github.com/0xmhha/quota-monitor/pkg/engine"
)

// Format represents an output format.
type Format string

const (
	// FormatTable displays a snapshot as a metric table.
	FormatTable Format = "table"

	// FormatJSON displays a snapshot as JSON.
	FormatJSON Format = "json"

	// FormatSimple displays a snapshot as a single line.
	FormatSimple Format = "simple"
)

// Formatter renders analysis results.
type Formatter interface {
	// FormatSnapshot formats one snapshot.
	//
	// Parameters:
	//   - w: Output writer
	//   - snap: Snapshot to format
	//
	// Returns error if writing fails.
	FormatSnapshot(w io.Writer, snap engine.Snapshot) error

	// FormatBlocks formats block history, oldest first.
	//
	// Parameters:
	//   - w: Output writer
	//   - bs: Blocks to format
	//
	// Returns error if writing fails.
	FormatBlocks(w io.Writer, bs []blocks.Block) error
}

// BlockInfo is the serialized form of a block, without its events.
type BlockInfo struct {
	ID          string                       `json:"id"`
	Start       time.Time                    `json:"start"`
	End         time.Time                    `json:"end"`
	LastEventAt time.Time                    `json:"last_event_at"`
	TotalTokens int                          `json:"total_tokens"`
	CostUSD     float64                      `json:"cost_usd"`
	Messages    int                          `json:"messages"`
	Tokens      blocks.TokenCounts           `json:"tokens"`
	Models      map[string]blocks.ModelStats `json:"models,omitempty"`
	Active      bool                         `json:"active"`
}

// Config contains formatter configuration.
type Config struct {
	// Format specifies the output format.
	// Default: FormatTable.
	Format Format

	// Compact enables compact output (less whitespace).
	// Default: false.
	Compact bool

	// Color enables styled status output in the table format. Styling
	// is still dropped when the writer is not a terminal.
	Color bool

	// Graph enables the burn rate chart in the table format.
	Graph bool

	// Width is the chart width in columns.
	// Default: 60.
	Width int

	// Location is used for displayed times.
	// Default: time.Local.
	Location *time.Location
}
