// Package metrics exports snapshots as Prometheus metrics.
//
// A Collector is a monitor observer: it copies every published snapshot
// into gauges and counters on the registry it was created with. Serve
// exposes a registry over HTTP for scraping.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0xmhha/quota-monitor/pkg/engine"
	"github.com/0xmhha/quota-monitor/pkg/logger"
	"github.com/0xmhha/quota-monitor/pkg/predict"
)

const namespace = "quota_monitor"

var statuses = []predict.Status{
	predict.StatusSafe,
	predict.StatusWarning,
	predict.StatusCritical,
	predict.StatusUnknown,
}

// Collector holds the snapshot metrics.
type Collector struct {
	tokensConsumed     prometheus.Gauge
	tokenLimit         prometheus.Gauge
	percentUsed        prometheus.Gauge
	limitConfidence    prometheus.Gauge
	burnRate           prometheus.Gauge
	costRate           prometheus.Gauge
	blockCost          prometheus.Gauge
	blockRemaining     prometheus.Gauge
	secondsToDepletion prometheus.Gauge
	status             *prometheus.GaugeVec
	stale              prometheus.Gauge
	failures           prometheus.Gauge
	learning           prometheus.Gauge
	sealedBlocks       prometheus.Gauge
	planSwitches       prometheus.Counter
	events             *prometheus.CounterVec
	ticks              prometheus.Counter
}

// New creates the collector and registers its metrics with reg.
//
// Panics if the metrics are already registered with reg.
func New(reg prometheus.Registerer) *Collector {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}

	c := &Collector{
		tokensConsumed:     gauge("tokens_consumed", "Tokens consumed in the active block"),
		tokenLimit:         gauge("token_limit", "Token limit in effect, 0 when unknown"),
		percentUsed:        gauge("percent_used", "Share of the token limit consumed, in percent"),
		limitConfidence:    gauge("limit_confidence", "Confidence of an estimated limit, 1 for fixed limits"),
		burnRate:           gauge("burn_rate_tokens_per_minute", "Trailing token burn rate"),
		costRate:           gauge("burn_rate_cost_per_hour_usd", "Trailing cost rate in USD per hour"),
		blockCost:          gauge("block_cost_usd", "Cost of the active block in USD"),
		blockRemaining:     gauge("block_remaining_seconds", "Time until the active block resets"),
		secondsToDepletion: gauge("seconds_to_depletion", "Projected time until the quota runs out, -1 when not projected"),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status",
			Help:      "Prediction status, 1 for the current one",
		}, []string{"status"}),
		stale:        gauge("stale", "1 when the data source has failed repeatedly"),
		failures:     gauge("consecutive_fetch_failures", "Consecutive failed fetches"),
		learning:     gauge("learning", "1 while no limit can be estimated"),
		sealedBlocks: gauge("sealed_blocks", "Sealed blocks in retained history"),
		planSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_switches_total",
			Help:      "Fixed plans exceeded and switched to estimated limits",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Usage events by ingestion result",
		}, []string{"result"}), // ingested, duplicate, clamped, expired, malformed
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Published snapshots",
		}),
	}

	reg.MustRegister(
		c.tokensConsumed, c.tokenLimit, c.percentUsed, c.limitConfidence,
		c.burnRate, c.costRate, c.blockCost, c.blockRemaining,
		c.secondsToDepletion, c.status, c.stale, c.failures,
		c.learning, c.sealedBlocks, c.planSwitches, c.events, c.ticks,
	)

	return c
}

// Observe implements monitor.Observer.
func (c *Collector) Observe(snap engine.Snapshot) {
	pred := snap.Prediction

	c.tokensConsumed.Set(float64(pred.Consumed))
	c.tokenLimit.Set(float64(pred.Limit))
	c.percentUsed.Set(pred.Percent)
	c.limitConfidence.Set(snap.Limit.Confidence)
	c.burnRate.Set(snap.BurnRate.TokensPerMinute)
	c.costRate.Set(snap.BurnRate.CostPerHour)

	if snap.Active != nil {
		c.blockCost.Set(snap.Active.CostUSD)
		c.blockRemaining.Set(snap.Active.Remaining.Seconds())
	} else {
		c.blockCost.Set(0)
		c.blockRemaining.Set(0)
	}

	if pred.DepletesAt != nil {
		c.secondsToDepletion.Set(max(0, pred.DepletesAt.Sub(snap.GeneratedAt).Seconds()))
	} else {
		c.secondsToDepletion.Set(-1)
	}

	for _, s := range statuses {
		v := 0.0
		if s == pred.Status {
			v = 1
		}
		c.status.WithLabelValues(string(s)).Set(v)
	}

	c.stale.Set(boolValue(snap.Stale))
	c.failures.Set(float64(snap.ConsecutiveFailures))
	c.learning.Set(boolValue(snap.Learning))
	c.sealedBlocks.Set(float64(snap.SealedBlocks))

	if snap.PlanSwitched {
		c.planSwitches.Inc()
	}

	in := snap.Ingest
	c.events.WithLabelValues("ingested").Add(float64(in.Ingested))
	c.events.WithLabelValues("duplicate").Add(float64(in.Duplicates))
	c.events.WithLabelValues("clamped").Add(float64(in.Clamped))
	c.events.WithLabelValues("expired").Add(float64(in.Expired))
	c.events.WithLabelValues("malformed").Add(float64(in.Malformed))

	c.ticks.Inc()
}

// Handler returns an HTTP handler serving the metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes g on addr at /metrics until ctx is cancelled.
//
// Returns nil after a clean shutdown, or the listen error.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log logger.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	log.Info("metrics server started", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop metrics server: %w", err)
		}
		log.Info("metrics server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
