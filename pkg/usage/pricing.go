package usage

import "strings"

// Pricing holds per-million-token prices for a model.
type Pricing struct {
	InputPerMTok      float64
	OutputPerMTok     float64
	CacheWritePerMTok float64
	CacheReadPerMTok  float64
}

// Cost returns the USD cost of ev at these prices.
func (p Pricing) Cost(ev Event) float64 {
	return (float64(ev.InputTokens)*p.InputPerMTok +
		float64(ev.OutputTokens)*p.OutputPerMTok +
		float64(ev.CacheCreationTokens)*p.CacheWritePerMTok +
		float64(ev.CacheReadTokens)*p.CacheReadPerMTok) / 1_000_000
}

var (
	opusPricing     = Pricing{InputPerMTok: 15.00, OutputPerMTok: 75.00, CacheWritePerMTok: 18.75, CacheReadPerMTok: 1.50}
	opusLatePricing = Pricing{InputPerMTok: 5.00, OutputPerMTok: 25.00, CacheWritePerMTok: 6.25, CacheReadPerMTok: 0.50}
	sonnetPricing   = Pricing{InputPerMTok: 3.00, OutputPerMTok: 15.00, CacheWritePerMTok: 3.75, CacheReadPerMTok: 0.30}
	haikuPricing    = Pricing{InputPerMTok: 0.25, OutputPerMTok: 1.25, CacheWritePerMTok: 0.30, CacheReadPerMTok: 0.03}
	haiku35Pricing  = Pricing{InputPerMTok: 0.80, OutputPerMTok: 4.00, CacheWritePerMTok: 1.00, CacheReadPerMTok: 0.08}
	haiku45Pricing  = Pricing{InputPerMTok: 1.00, OutputPerMTok: 5.00, CacheWritePerMTok: 1.25, CacheReadPerMTok: 0.10}
)

// DefaultPricing maps normalized model names to prices. The bare family
// names are fallbacks for models not listed explicitly.
var DefaultPricing = map[string]Pricing{
	"claude-opus-4-5":   opusLatePricing,
	"claude-opus-4-1":   opusPricing,
	"claude-opus-4":     opusPricing,
	"claude-3-opus":     opusPricing,
	"claude-sonnet-4-5": sonnetPricing,
	"claude-sonnet-4":   sonnetPricing,
	"claude-3-7-sonnet": sonnetPricing,
	"claude-3-5-sonnet": sonnetPricing,
	"claude-3-sonnet":   sonnetPricing,
	"claude-haiku-4-5":  haiku45Pricing,
	"claude-3-5-haiku":  haiku35Pricing,
	"claude-3-haiku":    haikuPricing,

	"opus":   opusPricing,
	"sonnet": sonnetPricing,
	"haiku":  haikuPricing,
}

// NormalizeModel lower-cases a model identifier and strips a trailing
// date suffix, e.g. "claude-opus-4-1-20250805" -> "claude-opus-4-1".
func NormalizeModel(raw string) string {
	model := strings.ToLower(strings.TrimSpace(raw))

	if i := strings.LastIndexByte(model, '-'); i > 0 {
		suffix := model[i+1:]
		if len(suffix) >= 8 && isAllDigits(suffix) {
			model = model[:i]
		}
	}
	return model
}

// LookupPricing returns prices for model from DefaultPricing.
func LookupPricing(model string) (Pricing, bool) {
	return lookupPricing(DefaultPricing, model)
}

func lookupPricing(table map[string]Pricing, model string) (Pricing, bool) {
	if model == "" {
		return Pricing{}, false
	}

	normalized := NormalizeModel(model)
	if p, ok := table[normalized]; ok {
		return p, true
	}

	for _, family := range []string{"opus", "sonnet", "haiku"} {
		if strings.Contains(normalized, family) {
			p, ok := table[family]
			return p, ok
		}
	}
	return Pricing{}, false
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
