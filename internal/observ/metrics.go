// Package observ registers the Prometheus metrics the pipeline updates while
// running, served at /metrics when METRICS_ADDR is configured.
package observ

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PipelineCycles counts production cycles by outcome
	// (ok | fetch_error | skipped_overrun).
	PipelineCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_cycles_total",
			Help: "Production pipeline cycles by outcome",
		},
		[]string{"outcome"},
	)

	// CycleDuration observes wall-clock cycle time in seconds.
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_cycle_duration_seconds",
			Help:    "Wall-clock duration of one production cycle",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	// SnapshotSequence tracks the sequence number of the latest snapshot.
	SnapshotSequence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapshot_sequence",
			Help: "Sequence number of the latest published strike snapshot",
		},
	)

	// SnapshotStale is 1 while the published snapshot is a stale republish.
	SnapshotStale = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapshot_stale",
			Help: "1 when the latest snapshot is a republished last-known value",
		},
	)

	// ProbabilitiesComputed counts per-strike probability evaluations.
	ProbabilitiesComputed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "probabilities_computed_total",
			Help: "Strike probability evaluations",
		},
	)

	// TradeTransitions counts trade lifecycle transitions by target state.
	TradeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trade_transitions_total",
			Help: "Trade state transitions by target state",
		},
		[]string{"state"},
	)

	// EntryDecisions counts auto-entry evaluations by result
	// (submitted | dry_run | below_threshold | momentum_disagree | duplicate |
	// suspended | limit).
	EntryDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entry_decisions_total",
			Help: "Auto-entry decisions by result",
		},
		[]string{"result"},
	)

	// BrokerPollErrors counts failed reconciliation polls.
	BrokerPollErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_poll_errors_total",
			Help: "Failed broker fill/settlement polls",
		},
	)

	// ComponentHealth exposes the failure detector's view per component:
	// 0 healthy, 1 degraded, 2 fatal.
	ComponentHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "component_health_state",
			Help: "Component health: 0 healthy, 1 degraded, 2 fatal",
		},
		[]string{"component"},
	)
)

func init() {
	prometheus.MustRegister(
		PipelineCycles,
		CycleDuration,
		SnapshotSequence,
		SnapshotStale,
		ProbabilitiesComputed,
		TradeTransitions,
		EntryDecisions,
		BrokerPollErrors,
		ComponentHealth,
	)
}

// Handler returns the /metrics exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
