package limits

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
	"github.com/0xmhha/quota-monitor/pkg/logger"
)

// SaturationSamples is the sample count at which confidence reaches 1.
const SaturationSamples = 20

// DefaultHitThreshold is the fraction of a common limit that marks a
// block as limit-hitting.
const DefaultHitThreshold = 0.95

// CommonLimits are the token limits observed across plans.
var CommonLimits = []int{44_000, 88_000, 220_000, 880_000}

var plans = map[PlanName]PlanDef{
	PlanPro:    {Name: PlanPro, TokenLimit: 44_000, CostLimitUSD: 18, MessageLimit: 250},
	PlanMax5:   {Name: PlanMax5, TokenLimit: 88_000, CostLimitUSD: 35, MessageLimit: 1_000},
	PlanMax20:  {Name: PlanMax20, TokenLimit: 220_000, CostLimitUSD: 140, MessageLimit: 2_000},
	PlanCustom: {Name: PlanCustom, TokenLimit: 44_000, CostLimitUSD: 200, MessageLimit: 250},
}

// Lookup returns the plan table row for name. Names are case-insensitive.
func Lookup(name string) (PlanDef, error) {
	def, ok := plans[PlanName(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return PlanDef{}, fmt.Errorf("%w: %q", ErrUnknownPlan, name)
	}
	return def, nil
}

// Plans returns the plan table ordered by token limit.
func Plans() []PlanDef {
	out := make([]PlanDef, 0, len(plans))
	for _, def := range plans {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TokenLimit != out[j].TokenLimit {
			return out[i].TokenLimit < out[j].TokenLimit
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Fixed returns the fixed limit for a plan row.
func Fixed(def PlanDef) PlanLimit {
	return PlanLimit{
		Name:         def.Name,
		TokenLimit:   def.TokenLimit,
		Known:        def.TokenLimit > 0,
		Source:       SourceFixed,
		CostLimitUSD: def.CostLimitUSD,
		MessageLimit: def.MessageLimit,
	}
}

// Confidence returns min(1, samples/SaturationSamples).
func Confidence(samples int) float64 {
	if samples <= 0 {
		return 0
	}
	return math.Min(1, float64(samples)/SaturationSamples)
}

// estimator implements the Estimator interface.
type estimator struct {
	floor     int
	threshold float64
}

// New creates a new limit estimator.
func New(cfg Config, log logger.Logger) Estimator {
	if cfg.Floor < 0 {
		cfg.Floor = 0
	}
	if cfg.HitThreshold <= 0 || cfg.HitThreshold > 1 {
		cfg.HitThreshold = DefaultHitThreshold
	}

	log.Debug("limit estimator created",
		"floor", cfg.Floor,
		"hit_threshold", cfg.HitThreshold)

	return &estimator{floor: cfg.Floor, threshold: cfg.HitThreshold}
}

// Estimate implements Estimator.Estimate.
func (e *estimator) Estimate(sealed []*blocks.Block) (Estimate, error) {
	var all, hitting []int
	for _, blk := range sealed {
		if blk.Active {
			continue
		}
		all = append(all, blk.TotalTokens)
		if e.hitsLimit(blk.TotalTokens) {
			hitting = append(hitting, blk.TotalTokens)
		}
	}
	if len(all) == 0 {
		return Estimate{}, ErrInsufficientHistory
	}

	samples := all
	if len(hitting) > 0 {
		samples = hitting
	}
	sort.Ints(samples)

	value := Percentile(samples, 90)
	est := Estimate{
		Limit:        value,
		Value:        value,
		Confidence:   Confidence(len(samples)),
		Samples:      len(samples),
		LimitHitting: len(hitting) > 0,
	}
	if est.Limit < e.floor {
		est.Limit = e.floor
	}
	return est, nil
}

func (e *estimator) hitsLimit(total int) bool {
	for _, limit := range CommonLimits {
		if float64(total) >= float64(limit)*e.threshold {
			return true
		}
	}
	return false
}

// Percentile returns the p-th percentile of sorted using linear
// interpolation between closest ranks (rank = p/100 * (n-1)).
func Percentile(sorted []int, p int) int {
	if len(sorted) == 0 {
		return 0
	}

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(rank)
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[lower]
	}

	fraction := rank - float64(lower)
	return int(math.Round(float64(sorted[lower])*(1-fraction) + float64(sorted[upper])*fraction))
}
