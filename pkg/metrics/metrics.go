// Package metrics exposes Prometheus instrumentation for the decision
// pipeline and a query service for reading aggregates back from a Prometheus
// server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder bundles the pipeline's Prometheus collectors.
type Recorder struct {
	ticksTotal     *prometheus.CounterVec
	tickDuration   prometheus.Histogram
	decisionsTotal *prometheus.CounterVec
	consensus      prometheus.Histogram
	agentWeights   *prometheus.GaugeVec
	agentTimeouts  *prometheus.CounterVec
	admissions     *prometheus.CounterVec
	outcomesTotal  *prometheus.CounterVec
	pendingGauge   prometheus.Gauge
}

// NewRecorder registers the collectors on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests pass a fresh registry so
// each one gets isolated collectors.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		ticksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_ticks_total",
				Help: "Total decision ticks by mode (normal or degraded)",
			},
			[]string{"mode"},
		),
		tickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trade_tick_duration_seconds",
				Help:    "Wall time of one full decision tick",
				Buckets: prometheus.DefBuckets,
			},
		),
		decisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_decisions_total",
				Help: "Decisions synthesized, by verdict and action",
			},
			[]string{"verdict", "action"},
		),
		consensus: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trade_consensus",
				Help:    "Consensus score of synthesized decisions",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		agentWeights: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trade_agent_weight",
				Help: "Current learned weight per agent",
			},
			[]string{"agent_id"},
		),
		agentTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_agent_timeouts_total",
				Help: "Polls that exceeded the per-agent deadline",
			},
			[]string{"agent_id"},
		),
		admissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_memory_admissions_total",
				Help: "Events scored for memory admission, by result",
			},
			[]string{"result"},
		),
		outcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_outcomes_total",
				Help: "Resolved decision outcomes, by label",
			},
			[]string{"label"},
		),
		pendingGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trade_pending_decisions",
				Help: "Decisions awaiting an outcome report",
			},
		),
	}
}

// ObserveTick records one completed tick.
func (r *Recorder) ObserveTick(degraded bool, duration time.Duration) {
	mode := "normal"
	if degraded {
		mode = "degraded"
	}
	r.ticksTotal.WithLabelValues(mode).Inc()
	r.tickDuration.Observe(duration.Seconds())
}

// ObserveDecision records one synthesized decision.
func (r *Recorder) ObserveDecision(verdict, action string, consensus float64) {
	r.decisionsTotal.WithLabelValues(verdict, action).Inc()
	r.consensus.Observe(consensus)
}

// SetAgentWeight publishes an agent's current learned weight.
func (r *Recorder) SetAgentWeight(agentID string, weight float64) {
	r.agentWeights.WithLabelValues(agentID).Set(weight)
}

// IncAgentTimeout counts a poll that missed its deadline.
func (r *Recorder) IncAgentTimeout(agentID string) {
	r.agentTimeouts.WithLabelValues(agentID).Inc()
}

// ObserveAdmission counts one memory-admission verdict.
func (r *Recorder) ObserveAdmission(stored bool) {
	result := "dropped"
	if stored {
		result = "stored"
	}
	r.admissions.WithLabelValues(result).Inc()
}

// ObserveOutcome counts one resolved decision outcome.
func (r *Recorder) ObserveOutcome(label string) {
	r.outcomesTotal.WithLabelValues(label).Inc()
}

// SetPendingDecisions publishes the pending-decision table size.
func (r *Recorder) SetPendingDecisions(n int) {
	r.pendingGauge.Set(float64(n))
}
