// Package predict projects when the quota runs out and whether that
// happens before the session block resets.
package predict

import (
	"math"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/burnrate"
	"github.com/0xmhha/quota-monitor/pkg/limits"
)

// Binding names the constraint that is hit first.
type Binding string

const (
	BindingNone  Binding = ""
	BindingQuota Binding = "quota"
	BindingReset Binding = "reset"
)

// Status summarizes a prediction.
type Status string

const (
	StatusSafe     Status = "safe"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// Input is the state a prediction is made from.
type Input struct {
	Now time.Time

	// Consumed and ConsumedCost are the active block's totals.
	Consumed     int
	ConsumedCost float64

	Limit limits.PlanLimit
	Rate  burnrate.Rate

	// ResetAt is the active block's End; zero without an active block.
	ResetAt time.Time
}

// Prediction is a depletion projection.
type Prediction struct {
	Consumed  int     `json:"consumed"`
	Limit     int     `json:"limit"`
	Remaining int     `json:"remaining"`
	Percent   float64 `json:"percent_used"`

	// DepletesAt is nil when depletion cannot be projected.
	DepletesAt *time.Time `json:"depletes_at,omitempty"`
	ResetAt    time.Time  `json:"reset_at"`

	Binding Binding `json:"binding,omitempty"`
	Status  Status  `json:"status"`

	// ProjectedTokens and ProjectedCost extrapolate the current rate to
	// ResetAt.
	ProjectedTokens int     `json:"projected_tokens"`
	ProjectedCost   float64 `json:"projected_cost_usd"`
}

// maxHorizon caps how far ahead a depletion time is projected.
const maxHorizon = 100 * 365 * 24 * time.Hour

// Predict projects depletion from the current rate.
//
// remaining = max(0, limit - consumed); depletion = now + remaining/rate.
// Depletion is nil when the limit is unknown or the rate is zero.
func Predict(in Input) Prediction {
	p := Prediction{
		Consumed:        in.Consumed,
		ResetAt:         in.ResetAt,
		ProjectedTokens: in.Consumed,
		ProjectedCost:   in.ConsumedCost,
		Status:          StatusUnknown,
	}

	if !in.ResetAt.IsZero() && in.ResetAt.After(in.Now) {
		left := in.ResetAt.Sub(in.Now)
		p.ProjectedTokens += int(math.Round(in.Rate.TokensPerMinute * left.Minutes()))
		p.ProjectedCost += in.Rate.CostPerHour * left.Hours()
	}

	if !in.Limit.Known || in.Limit.TokenLimit <= 0 {
		if !in.ResetAt.IsZero() {
			p.Binding = BindingReset
		}
		return p
	}

	p.Limit = in.Limit.TokenLimit
	p.Remaining = max(0, p.Limit-in.Consumed)
	p.Percent = float64(in.Consumed) / float64(p.Limit) * 100

	if p.Remaining == 0 {
		p.Status = StatusCritical
		p.Binding = BindingQuota
		if in.Rate.TokensPerMinute > 0 {
			now := in.Now
			p.DepletesAt = &now
		}
		return p
	}

	if in.Rate.TokensPerMinute <= 0 {
		if !in.ResetAt.IsZero() {
			p.Binding = BindingReset
		}
		return p
	}

	// Saturate before converting; a tiny rate against a large limit would
	// overflow time.Duration.
	ahead := maxHorizon
	if minutes := float64(p.Remaining) / in.Rate.TokensPerMinute; minutes < maxHorizon.Minutes() {
		ahead = time.Duration(minutes * float64(time.Minute))
	}
	depletes := in.Now.Add(ahead)
	p.DepletesAt = &depletes

	if in.ResetAt.IsZero() || depletes.Before(in.ResetAt) {
		p.Binding = BindingQuota
		p.Status = StatusWarning
	} else {
		p.Binding = BindingReset
		p.Status = StatusSafe
	}
	return p
}
