package usage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/logger"
)

// Token field aliases, checked in order. Claude Code uses the snake_case
// API names inside message.usage; flat exports use either spelling.
var (
	inputFields         = []string{"input_tokens", "inputTokens"}
	outputFields        = []string{"output_tokens", "outputTokens"}
	cacheCreationFields = []string{"cache_creation_input_tokens", "cache_creation_tokens", "cacheCreationInputTokens", "cacheCreationTokens"}
	cacheReadFields     = []string{"cache_read_input_tokens", "cache_read_tokens", "cacheReadInputTokens", "cacheReadTokens"}
	costFields          = []string{"costUSD", "cost_usd", "cost"}
)

// maxCount is the largest accepted token count; float64 holds it exactly.
const maxCount = 1 << 50

type normalizer struct {
	mode    CostMode
	pricing map[string]Pricing
	logger  logger.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(cfg Config, log logger.Logger) Normalizer {
	if cfg.CostMode == "" {
		cfg.CostMode = CostModeAuto
	}
	if cfg.Pricing == nil {
		cfg.Pricing = DefaultPricing
	}

	log.Debug("normalizer created", "cost_mode", cfg.CostMode, "priced_models", len(cfg.Pricing))

	return &normalizer{
		mode:    cfg.CostMode,
		pricing: cfg.Pricing,
		logger:  log,
	}
}

// Normalize implements Normalizer.Normalize.
func (n *normalizer) Normalize(rec Record) (Event, error) {
	message, _ := rec["message"].(map[string]any)

	usageMap := usageSection(rec, message)
	if usageMap == nil {
		return Event{}, ErrNotUsage
	}

	ev, err := n.build(rec, message, usageMap)
	if err != nil {
		n.logger.Debug("dropping malformed record", "error", err)
		return Event{}, err
	}
	return ev, nil
}

func (n *normalizer) build(rec, message, usageMap map[string]any) (Event, error) {
	rawTS, ok := rec["timestamp"]
	if !ok || rawTS == nil {
		return Event{}, fieldError("timestamp", ErrMissingField)
	}
	ts, err := parseTimestamp(rawTS)
	if err != nil {
		return Event{}, fieldError("timestamp", err)
	}

	ev := Event{Timestamp: ts}

	if ev.InputTokens, err = requiredCount(usageMap, inputFields); err != nil {
		return Event{}, err
	}
	if ev.OutputTokens, err = requiredCount(usageMap, outputFields); err != nil {
		return Event{}, err
	}
	if ev.CacheCreationTokens, err = optionalCount(usageMap, cacheCreationFields); err != nil {
		return Event{}, err
	}
	if ev.CacheReadTokens, err = optionalCount(usageMap, cacheReadFields); err != nil {
		return Event{}, err
	}

	ev.Model = firstString(message, "model")
	if ev.Model == "" {
		ev.Model = firstString(rec, "model")
	}
	ev.MessageID = firstString(message, "id")
	if ev.MessageID == "" {
		ev.MessageID = firstString(rec, "message_id", "messageId")
	}
	ev.RequestID = firstString(rec, "requestId", "request_id")

	recordCost, hasCost, err := optionalCost(rec)
	if err != nil {
		return Event{}, err
	}

	switch n.mode {
	case CostModeCached:
		ev.CostUSD = recordCost
	case CostModeCalculate:
		ev.CostUSD = n.calculate(ev)
	default:
		if hasCost {
			ev.CostUSD = recordCost
		} else {
			ev.CostUSD = n.calculate(ev)
		}
	}

	return ev, nil
}

func (n *normalizer) calculate(ev Event) float64 {
	p, ok := lookupPricing(n.pricing, ev.Model)
	if !ok {
		return 0
	}
	return p.Cost(ev)
}

// usageSection finds the token counts: message.usage, a top-level usage
// object, or flat fields on the record itself.
func usageSection(rec, message map[string]any) map[string]any {
	if message != nil {
		if u, ok := message["usage"].(map[string]any); ok {
			return u
		}
	}
	if u, ok := rec["usage"].(map[string]any); ok {
		return u
	}
	for _, f := range append(append([]string{}, inputFields...), outputFields...) {
		if _, ok := rec[f]; ok {
			return rec
		}
	}
	return nil
}

func lookup(m map[string]any, names []string) (string, any, bool) {
	for _, name := range names {
		if v, ok := m[name]; ok && v != nil {
			return name, v, true
		}
	}
	return names[0], nil, false
}

func requiredCount(m map[string]any, names []string) (int, error) {
	name, v, ok := lookup(m, names)
	if !ok {
		return 0, fieldError(name, ErrMissingField)
	}
	return toCount(name, v)
}

func optionalCount(m map[string]any, names []string) (int, error) {
	name, v, ok := lookup(m, names)
	if !ok {
		return 0, nil
	}
	return toCount(name, v)
}

func optionalCost(rec map[string]any) (float64, bool, error) {
	name, v, ok := lookup(rec, costFields)
	if !ok {
		return 0, false, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, false, fieldError(name, err)
	}
	if f < 0 {
		return 0, false, fieldError(name, ErrNegativeValue)
	}
	return f, true, nil
}

func toCount(name string, v any) (int, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, fieldError(name, err)
	}
	if f != math.Trunc(f) || f > maxCount {
		return 0, fieldError(name, ErrInvalidNumber)
	}
	if f < 0 {
		return 0, fieldError(name, ErrNegativeValue)
	}
	return int(f), nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, ErrInvalidNumber
		}
		return x, nil
	case float32:
		return toFloat(float64(x))
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, ErrInvalidNumber
		}
		return toFloat(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, ErrInvalidNumber
		}
		return toFloat(f)
	default:
		return 0, ErrInvalidNumber
	}
}

func firstString(m map[string]any, names ...string) string {
	if m == nil {
		return ""
	}
	for _, name := range names {
		if s, ok := m[name].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts RFC3339 strings (zone-less strings are UTC) and
// unix timestamps in seconds or milliseconds.
func parseTimestamp(v any) (time.Time, error) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return validTimestamp(ts.UTC())
			}
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
		}
	}

	f, err := toFloat(v)
	if err != nil {
		return time.Time{}, ErrInvalidTimestamp
	}
	// Anything past year 2286 in seconds is taken as milliseconds.
	if f > 1e10 {
		return validTimestamp(time.UnixMilli(int64(f)).UTC())
	}
	sec, frac := math.Modf(f)
	return validTimestamp(time.Unix(int64(sec), int64(frac*1e9)).UTC())
}

func validTimestamp(ts time.Time) (time.Time, error) {
	if ts.IsZero() || ts.Unix() <= 0 {
		return time.Time{}, ErrInvalidTimestamp
	}
	return ts, nil
}

// DecodeLine decodes one JSONL line into a raw record. Numbers are kept
// as json.Number so large token counts stay exact.
func DecodeLine(line []byte) (Record, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrMalformedJSON)
	}

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedJSON)
	}
	return rec, nil
}
