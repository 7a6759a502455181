package display

import (
	"encoding/json"
	"io"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
	"github.com/0xmhha/quota-monitor/pkg/engine"
)

// jsonFormatter formats output as JSON.
type jsonFormatter struct {
	config Config
}

// FormatSnapshot implements Formatter.FormatSnapshot.
func (f *jsonFormatter) FormatSnapshot(w io.Writer, snap engine.Snapshot) error {
	return f.encoder(w).Encode(snap)
}

// FormatBlocks implements Formatter.FormatBlocks.
//
// Events are omitted.
func (f *jsonFormatter) FormatBlocks(w io.Writer, bs []blocks.Block) error {
	infos := make([]BlockInfo, len(bs))
	for i, b := range bs {
		infos[i] = Info(b)
	}
	return f.encoder(w).Encode(infos)
}

func (f *jsonFormatter) encoder(w io.Writer) *json.Encoder {
	encoder := json.NewEncoder(w)
	if !f.config.Compact {
		encoder.SetIndent("", "  ")
	}
	return encoder
}
