package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/0xmhha/quota-monitor/pkg/engine"
	"github.com/0xmhha/quota-monitor/pkg/logger"
	"github.com/0xmhha/quota-monitor/pkg/predict"
)

// Dispatcher turns snapshots into notifications.
//
// Observe must be called from one goroutine; Run delivers on another.
type Dispatcher struct {
	config Config
	sender Sender
	logger logger.Logger

	queue   chan Notification
	running atomic.Bool
	dropped atomic.Int64

	// Announcement state, owned by the Observe goroutine.
	block         string
	quotaSent     bool
	thresholdSent bool
	stale         bool
}

// New creates a dispatcher.
//
// Parameters:
//   - cfg: Which conditions to announce
//   - sender: Delivery backend, usually Desktop
//   - log: Logger instance
//
// Returns ErrMissingSender if sender is nil.
func New(cfg Config, sender Sender, log logger.Logger) (*Dispatcher, error) {
	if sender == nil {
		return nil, ErrMissingSender
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	log.Info("notification dispatcher created",
		"plan_switch", cfg.PlanSwitch,
		"quota", cfg.Quota,
		"threshold_percent", cfg.ThresholdPercent,
		"stale", cfg.Stale)

	return &Dispatcher{
		config: cfg,
		sender: sender,
		logger: log,
		queue:  make(chan Notification, cfg.QueueSize),
	}, nil
}

// Observe implements monitor.Observer. It never blocks.
func (d *Dispatcher) Observe(snap engine.Snapshot) {
	for _, n := range d.evaluate(snap) {
		select {
		case d.queue <- n:
		default:
			d.dropped.Add(1)
			d.logger.Debug("notification dropped, queue full", "kind", n.Kind)
		}
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrDispatcherRunning
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-d.queue:
			if err := d.sender.Send(n.Title, n.Body); err != nil {
				d.logger.Warn("notification failed", "kind", n.Kind, "error", err)
				continue
			}
			d.logger.Debug("notification sent", "kind", n.Kind)
		}
	}
}

// Dropped returns how many notifications were discarded.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// evaluate decides what snap announces and updates the once-only state.
func (d *Dispatcher) evaluate(snap engine.Snapshot) []Notification {
	var out []Notification
	pred := snap.Prediction

	if snap.PlanSwitched && d.config.PlanSwitch {
		out = append(out, Notification{
			Kind:  KindPlanSwitch,
			Title: "Plan limit exceeded",
			Body: fmt.Sprintf("Usage passed the fixed plan limit, now tracking an estimated limit of %d tokens.",
				snap.Limit.TokenLimit),
		})
	}

	if snap.Active == nil {
		d.block = ""
	} else if snap.Active.ID != d.block {
		d.block = snap.Active.ID
		d.quotaSent = false
		d.thresholdSent = false
	}

	if snap.Active != nil {
		if d.config.Quota && !d.quotaSent && pred.Binding == predict.BindingQuota {
			d.quotaSent = true
			out = append(out, d.quotaNotification(snap))
		}

		if d.config.ThresholdPercent > 0 && !d.thresholdSent &&
			pred.Limit > 0 && pred.Percent >= d.config.ThresholdPercent {
			d.thresholdSent = true
			out = append(out, Notification{
				Kind:  KindThreshold,
				Title: fmt.Sprintf("%.0f%% of quota used", pred.Percent),
				Body: fmt.Sprintf("%d of %d tokens used, block resets at %s.",
					pred.Consumed, pred.Limit, d.clock(snap.Active.End)),
			})
		}
	}

	if d.config.Stale && snap.Stale && !d.stale {
		out = append(out, Notification{
			Kind:  KindStale,
			Title: "Usage data unavailable",
			Body:  fmt.Sprintf("%d fetches in a row failed; figures may be out of date.", snap.ConsecutiveFailures),
		})
	}
	d.stale = snap.Stale

	return out
}

func (d *Dispatcher) quotaNotification(snap engine.Snapshot) Notification {
	pred := snap.Prediction
	n := Notification{
		Kind:  KindQuota,
		Title: "Quota will run out before reset",
	}
	switch {
	case pred.Remaining == 0:
		n.Title = "Quota exhausted"
		n.Body = fmt.Sprintf("All %d tokens used, block resets at %s.", pred.Limit, d.clock(snap.Active.End))
	case pred.DepletesAt != nil:
		n.Body = fmt.Sprintf("At %.0f tokens/min the quota runs out at %s, block resets at %s.",
			snap.BurnRate.TokensPerMinute, d.clock(*pred.DepletesAt), d.clock(snap.Active.End))
	default:
		n.Body = fmt.Sprintf("Block resets at %s.", d.clock(snap.Active.End))
	}
	return n
}

func (d *Dispatcher) clock(t time.Time) string {
	return t.In(d.config.Location).Format("15:04")
}
