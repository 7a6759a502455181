// Package plan implements the plan state machine.
//
// A plan is in exactly one of three states:
//
//	Fixed          a named plan with a table (or explicit) token limit
//	AutoDetecting  no plan given; the limit is estimated from history
//	CustomActive   a fixed plan was exceeded; the limit is now estimated
//
// Transition is a pure function. Fixed moves to CustomActive once the
// active block exceeds its limit; nothing ever moves back.
package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/limits"
)

// AutoPlan requests auto-detection.
const AutoPlan = "auto"

// DefaultMinConfidence is the estimate confidence below which a switched
// plan falls back to the observed maximum.
const DefaultMinConfidence = 0.5

// State is a plan state. The set of implementations is closed.
type State interface {
	// Name returns the state name used in snapshots and logs.
	Name() string

	isState()
}

// Fixed is a plan with a fixed token limit.
type Fixed struct {
	Plan  limits.PlanDef
	Limit int
}

// AutoDetecting estimates the limit from sealed history.
type AutoDetecting struct{}

// CustomActive is entered when a fixed limit was exceeded.
type CustomActive struct {
	// Limit is the most recently evaluated limit.
	Limit int

	// From is the plan that was exceeded.
	From limits.PlanName

	// Since is when the switch happened.
	Since time.Time
}

func (Fixed) Name() string         { return "fixed" }
func (AutoDetecting) Name() string { return "auto_detecting" }
func (CustomActive) Name() string  { return "custom_active" }

func (Fixed) isState()         {}
func (AutoDetecting) isState() {}
func (CustomActive) isState()  {}

// Input is everything a transition looks at.
type Input struct {
	Now time.Time

	// ActiveTokens is the active block's total, 0 without an active block.
	ActiveTokens int

	// MaxObserved is the largest sealed or active block total.
	MaxObserved int

	// Estimate and EstimateErr are the estimator's result for this tick.
	Estimate    limits.Estimate
	EstimateErr error

	// MinConfidence is the estimate confidence required after a switch.
	MinConfidence float64
}

// Outcome is the result of a transition.
type Outcome struct {
	Limit limits.PlanLimit

	// Switched is set only on the transition into CustomActive.
	Switched bool

	// Learning is set while no limit can be estimated.
	Learning bool
}

// Initial returns the starting state for a configured plan name.
//
// "auto", and "custom" without a positive customLimit, start in
// AutoDetecting. "custom" with a limit starts as Fixed with that limit.
func Initial(name string, customLimit int) (State, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == AutoPlan {
		return AutoDetecting{}, nil
	}

	def, err := limits.Lookup(name)
	if err != nil {
		return nil, err
	}

	if def.Name == limits.PlanCustom {
		if customLimit <= 0 {
			return AutoDetecting{}, nil
		}
		return Fixed{Plan: def, Limit: customLimit}, nil
	}
	return Fixed{Plan: def, Limit: def.TokenLimit}, nil
}

// Transition computes the next state and the limit in effect.
func Transition(s State, in Input) (State, Outcome) {
	switch st := s.(type) {
	case Fixed:
		if in.ActiveTokens > st.Limit {
			limit := switchedLimit(in)
			next := CustomActive{Limit: limit.TokenLimit, From: st.Plan.Name, Since: in.Now}
			return next, Outcome{Limit: limit, Switched: true}
		}
		fixed := limits.Fixed(st.Plan)
		fixed.TokenLimit = st.Limit
		fixed.Known = st.Limit > 0
		return st, Outcome{Limit: fixed}

	case CustomActive:
		limit := switchedLimit(in)
		st.Limit = limit.TokenLimit
		return st, Outcome{Limit: limit}

	case AutoDetecting:
		if in.EstimateErr != nil {
			return st, Outcome{Limit: unknownLimit(), Learning: true}
		}
		limit := estimated(in.Estimate.Limit, in.Estimate)
		// History of empty blocks estimates nothing; keep learning.
		return st, Outcome{Limit: limit, Learning: !limit.Known}

	default:
		panic(fmt.Sprintf("plan: unknown state %T", s))
	}
}

// switchedLimit is the estimate when it is trustworthy, otherwise the
// largest block seen so far.
func switchedLimit(in Input) limits.PlanLimit {
	minConf := in.MinConfidence
	if minConf <= 0 {
		minConf = DefaultMinConfidence
	}

	if in.EstimateErr == nil && in.Estimate.Confidence >= minConf {
		return estimated(in.Estimate.Limit, in.Estimate)
	}
	return estimated(in.MaxObserved, in.Estimate)
}

func estimated(tokens int, est limits.Estimate) limits.PlanLimit {
	def, _ := limits.Lookup(string(limits.PlanCustom))
	return limits.PlanLimit{
		Name:         limits.PlanCustom,
		TokenLimit:   tokens,
		Known:        tokens > 0,
		Source:       limits.SourceEstimated,
		Confidence:   est.Confidence,
		Samples:      est.Samples,
		CostLimitUSD: def.CostLimitUSD,
		MessageLimit: def.MessageLimit,
	}
}

func unknownLimit() limits.PlanLimit {
	return limits.PlanLimit{Name: limits.PlanCustom, Source: limits.SourceEstimated}
}
