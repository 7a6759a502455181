// Package engine composes the usage analysis: block building, burn rate,
// limit estimation, the plan state machine and depletion prediction.
//
// The engine performs no I/O. A scheduler feeds it normalized events and
// the current time through Step and publishes the returned Snapshot.
//
// Example usage:
//
//	eng, err := engine.New(engine.Config{Plan: "pro"}, logger.Default())
//	if err != nil {
//	    return err
//	}
//
//	var pub engine.Publisher
//	snap := eng.Step(time.Now(), events)
//	pub.Publish(snap)
//
//	// elsewhere
//	if snap, ok := pub.Load(); ok {
//	    fmt.Println(snap.BurnRate.TokensPerMinute)
//	}
package engine

import (
	"time"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
	"github.com/0xmhha/quota-monitor/pkg/burnrate"
	"github.com/0xmhha/quota-monitor/pkg/limits"
	"github.com/0xmhha/quota-monitor/pkg/plan"
	"github.com/0xmhha/quota-monitor/pkg/predict"
	"github.com/0xmhha/quota-monitor/pkg/usage"
)

// BlockSummary describes the active block in a snapshot.
type BlockSummary struct {
	ID          string                       `json:"id"`
	Start       time.Time                    `json:"start"`
	End         time.Time                    `json:"end"`
	LastEventAt time.Time                    `json:"last_event_at"`
	TotalTokens int                          `json:"total_tokens"`
	CostUSD     float64                      `json:"cost_usd"`
	Messages    int                          `json:"messages"`
	Tokens      blocks.TokenCounts           `json:"tokens"`
	Models      map[string]blocks.ModelStats `json:"models,omitempty"`
	Remaining   time.Duration                `json:"remaining"`
	Progress    float64                      `json:"progress"`
}

// Ingest counts what happened to one batch of events.
type Ingest struct {
	Ingested   int `json:"ingested"`
	Duplicates int `json:"duplicates"`
	Clamped    int `json:"clamped"`
	Expired    int `json:"expired"`

	// Malformed is filled in by the caller that normalized the batch.
	Malformed int `json:"malformed"`
}

// Snapshot is the read model published after every step.
//
// A published snapshot is never modified.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`

	// Active is nil when no block is active.
	Active *BlockSummary `json:"active,omitempty"`

	BurnRate   burnrate.Rate      `json:"burn_rate"`
	Limit      limits.PlanLimit   `json:"limit"`
	PlanState  string             `json:"plan_state"`
	Prediction predict.Prediction `json:"prediction"`

	// NextReset is the active block's End, nil without an active block.
	NextReset *time.Time `json:"next_reset,omitempty"`

	// ReferenceReset is the next occurrence of the configured reset hour.
	// Display only.
	ReferenceReset *time.Time `json:"reference_reset,omitempty"`

	// PlanSwitched is set on the one tick a fixed plan was exceeded.
	PlanSwitched bool `json:"plan_switched"`

	// Learning is set while no limit can be estimated.
	Learning bool `json:"learning"`

	// Stale is set by the scheduler after repeated fetch failures.
	Stale               bool `json:"stale"`
	ConsecutiveFailures int  `json:"consecutive_failures"`

	SealedBlocks int    `json:"sealed_blocks"`
	Ingest       Ingest `json:"ingest"`
}

// Engine owns all mutable analysis state.
//
// Thread-safety: not safe for concurrent use. Share results through a
// Publisher.
type Engine interface {
	// Step ingests events, advances time to now and returns a snapshot.
	//
	// Events may be unordered and may repeat events seen before; repeats
	// are ignored.
	Step(now time.Time, events []usage.Event) Snapshot

	// Restore seeds the engine with saved blocks.
	Restore(saved []blocks.Block) error

	// Blocks returns retained blocks, oldest first, active last.
	Blocks() []blocks.Block

	// State returns the current plan state.
	State() plan.State
}

// Config contains engine configuration.
type Config struct {
	// Plan is a plan name or "auto". Default: "custom".
	Plan string

	// CustomLimit is the token limit for the custom plan. Zero makes the
	// custom plan auto-detect.
	CustomLimit int

	// Window is the burn rate window. Default: burnrate.DefaultWindow.
	Window time.Duration

	// BlockDuration is the session length. Default: blocks.DefaultDuration.
	BlockDuration time.Duration

	Retention blocks.Retention

	// LimitFloor is the smallest estimated limit.
	LimitFloor int

	// MinConfidence for trusting an estimate after a plan switch.
	// Default: plan.DefaultMinConfidence.
	MinConfidence float64

	// Location and ResetHour define ReferenceReset. ResetHour < 0
	// disables it. Default location: UTC.
	Location  *time.Location
	ResetHour int
}
