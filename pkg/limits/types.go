// Package limits resolves quota limits: fixed limits from the plan table,
// or an estimate taken from the P90 of historical block totals.
//
// Example usage:
//
//	est := limits.New(limits.Config{Floor: 44000}, logger.Default())
//	estimate, err := est.Estimate(builder.Sealed())
//	if errors.Is(err, limits.ErrInsufficientHistory) {
//	    // still learning
//	}
package limits

import "github.com/0xmhha/quota-monitor/pkg/blocks"

// PlanName identifies a quota plan.
type PlanName string

// Known plans.
const (
	PlanPro    PlanName = "pro"
	PlanMax5   PlanName = "max5"
	PlanMax20  PlanName = "max20"
	PlanCustom PlanName = "custom"
)

// Source tells where a limit came from.
type Source string

const (
	SourceFixed     Source = "fixed"
	SourceEstimated Source = "estimated"
)

// PlanDef is one row of the plan table.
type PlanDef struct {
	Name         PlanName
	TokenLimit   int
	CostLimitUSD float64
	MessageLimit int
}

// PlanLimit is the limit in effect.
//
// Invariant: Known implies TokenLimit > 0.
// Invariant: Confidence is in [0, 1] and only meaningful for
// SourceEstimated.
type PlanLimit struct {
	Name         PlanName `json:"name"`
	TokenLimit   int      `json:"token_limit"`
	Known        bool     `json:"known"`
	Source       Source   `json:"source"`
	Confidence   float64  `json:"confidence"`
	Samples      int      `json:"samples"`
	CostLimitUSD float64  `json:"cost_limit_usd"`
	MessageLimit int      `json:"message_limit"`
}

// Estimate is the result of a P90 estimation.
type Estimate struct {
	// Limit is max(Value, Floor).
	Limit int

	// Value is the raw P90 of the sampled block totals.
	Value int

	// Confidence is min(1, Samples/SaturationSamples).
	Confidence float64

	// Samples is the number of sealed blocks the P90 was taken over.
	Samples int

	// LimitHitting is set when only blocks near a common limit were
	// sampled.
	LimitHitting bool
}

// Estimator infers a limit from sealed history.
type Estimator interface {
	// Estimate computes the P90 of sealed block totals.
	//
	// Returns ErrInsufficientHistory when sealed contains no blocks.
	Estimate(sealed []*blocks.Block) (Estimate, error)
}

// Config contains estimator configuration.
type Config struct {
	// Floor is the smallest limit Estimate reports. Zero disables it.
	Floor int

	// HitThreshold is the fraction of a common limit a block must reach
	// to count as limit-hitting. Default: 0.95.
	HitThreshold float64
}
