package engine

import (
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/blocks"
	"github.com/0xmhha/quota-monitor/pkg/burnrate"
	"github.com/0xmhha/quota-monitor/pkg/limits"
	"github.com/0xmhha/quota-monitor/pkg/logger"
	"github.com/0xmhha/quota-monitor/pkg/plan"
	"github.com/0xmhha/quota-monitor/pkg/predict"
	"github.com/0xmhha/quota-monitor/pkg/usage"
)

// engine implements the Engine interface.
type engine struct {
	builder   blocks.Builder
	calc      burnrate.Calculator
	estimator limits.Estimator

	state plan.State

	// seen maps dedupe keys to the time used for pruning.
	seen map[string]time.Time

	minConfidence float64
	location      *time.Location
	resetHour     int

	logger logger.Logger
}

// New creates a new engine.
//
// Returns an error for an unknown plan or an invalid retention policy.
func New(cfg Config, log logger.Logger) (Engine, error) {
	if cfg.Plan == "" {
		cfg.Plan = string(limits.PlanCustom)
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = plan.DefaultMinConfidence
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	state, err := plan.Initial(cfg.Plan, cfg.CustomLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan: %w", err)
	}

	builder, err := blocks.New(blocks.Config{
		Duration:  cfg.BlockDuration,
		Retention: cfg.Retention,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create block builder: %w", err)
	}

	log.Info("engine created",
		"plan", cfg.Plan,
		"state", state.Name(),
		"min_confidence", cfg.MinConfidence,
		"location", cfg.Location.String(),
		"reset_hour", cfg.ResetHour)

	return &engine{
		builder:       builder,
		calc:          burnrate.New(burnrate.Config{Window: cfg.Window}, log),
		estimator:     limits.New(limits.Config{Floor: cfg.LimitFloor}, log),
		state:         state,
		seen:          make(map[string]time.Time),
		minConfidence: cfg.MinConfidence,
		location:      cfg.Location,
		resetHour:     cfg.ResetHour,
		logger:        log,
	}, nil
}

// Step implements Engine.Step.
func (e *engine) Step(now time.Time, events []usage.Event) Snapshot {
	ingest := e.ingest(events)

	e.builder.SealExpired(now)
	if evicted := e.builder.Retain(now); evicted > 0 {
		e.pruneSeen()
	}

	all := e.builder.Blocks()
	sealed := e.builder.Sealed()
	active := e.builder.Active()

	rate := e.calc.Calculate(now, all)
	est, estErr := e.estimator.Estimate(sealed)

	in := plan.Input{
		Now:           now,
		MaxObserved:   maxTotal(all),
		Estimate:      est,
		EstimateErr:   estErr,
		MinConfidence: e.minConfidence,
	}
	if active != nil {
		in.ActiveTokens = active.TotalTokens
	}

	next, outcome := plan.Transition(e.state, in)
	if outcome.Switched {
		e.logger.Info("plan limit exceeded, switching to estimated limit",
			"from", e.state.Name(),
			"to", next.Name(),
			"active_tokens", in.ActiveTokens,
			"limit", outcome.Limit.TokenLimit,
			"confidence", outcome.Limit.Confidence)
	}
	e.state = next

	pin := predict.Input{
		Now:   now,
		Limit: outcome.Limit,
		Rate:  rate,
	}
	if active != nil {
		pin.Consumed = active.TotalTokens
		pin.ConsumedCost = active.CostUSD
		pin.ResetAt = active.End
	}

	snap := Snapshot{
		GeneratedAt:  now,
		BurnRate:     rate,
		Limit:        outcome.Limit,
		PlanState:    e.state.Name(),
		Prediction:   predict.Predict(pin),
		PlanSwitched: outcome.Switched,
		Learning:     outcome.Learning,
		SealedBlocks: len(sealed),
		Ingest:       ingest,
	}
	if active != nil {
		snap.Active = summarize(active, now)
		end := active.End
		snap.NextReset = &end
	}
	if e.resetHour >= 0 {
		ref := NextReset(now, e.resetHour, e.location)
		snap.ReferenceReset = &ref
	}
	return snap
}

func (e *engine) ingest(events []usage.Event) Ingest {
	var ing Ingest
	if len(events) == 0 {
		return ing
	}

	batch := append([]usage.Event(nil), events...)
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Timestamp.Before(batch[j].Timestamp)
	})

	for _, ev := range batch {
		key := ev.Key()
		if _, dup := e.seen[key]; dup {
			ing.Duplicates++
			continue
		}

		clamped, err := e.builder.Add(ev)
		if err != nil {
			e.logger.Debug("dropping event", "timestamp", ev.Timestamp, "error", err)
			ing.Expired++
			continue
		}
		if clamped {
			ing.Clamped++
		}
		ing.Ingested++

		// A clamped event lives in a retained block even when its own
		// timestamp predates it.
		mark := ev.Timestamp
		if h := e.builder.Horizon(); mark.Before(h) {
			mark = h
		}
		e.seen[key] = mark
	}

	if ing.Duplicates > 0 || ing.Clamped > 0 || ing.Expired > 0 {
		e.logger.Debug("batch ingested",
			"ingested", ing.Ingested,
			"duplicates", ing.Duplicates,
			"clamped", ing.Clamped,
			"expired", ing.Expired)
	}
	return ing
}

// pruneSeen forgets keys of events whose blocks were evicted.
func (e *engine) pruneSeen() {
	horizon := e.builder.Horizon()
	for key, mark := range e.seen {
		if horizon.IsZero() || mark.Before(horizon) {
			delete(e.seen, key)
		}
	}
}

// Restore implements Engine.Restore.
func (e *engine) Restore(saved []blocks.Block) error {
	if err := e.builder.Restore(saved); err != nil {
		return err
	}

	e.seen = make(map[string]time.Time)
	for _, blk := range e.builder.Blocks() {
		for _, ev := range blk.Events {
			e.seen[ev.Key()] = ev.Timestamp
		}
	}
	return nil
}

// Blocks implements Engine.Blocks.
func (e *engine) Blocks() []blocks.Block {
	all := e.builder.Blocks()
	out := make([]blocks.Block, 0, len(all))
	for _, blk := range all {
		cp := *blk
		cp.Events = append([]usage.Event(nil), blk.Events...)
		cp.Models = maps.Clone(blk.Models)
		out = append(out, cp)
	}
	return out
}

// State implements Engine.State.
func (e *engine) State() plan.State {
	return e.state
}

func summarize(blk *blocks.Block, now time.Time) *BlockSummary {
	return &BlockSummary{
		ID:          blk.ID,
		Start:       blk.Start,
		End:         blk.End,
		LastEventAt: blk.LastEventAt,
		TotalTokens: blk.TotalTokens,
		CostUSD:     blk.CostUSD,
		Messages:    blk.Messages,
		Tokens:      blk.Tokens,
		Models:      maps.Clone(blk.Models),
		Remaining:   blk.Remaining(now),
		Progress:    blk.Progress(now),
	}
}

func maxTotal(all []*blocks.Block) int {
	m := 0
	for _, blk := range all {
		if blk.TotalTokens > m {
			m = blk.TotalTokens
		}
	}
	return m
}

// NextReset returns the first time after now at which the wall clock in
// loc reads hour:00.
func NextReset(now time.Time, hour int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !next.After(now) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, 0, 0, 0, loc)
	}
	return next
}
