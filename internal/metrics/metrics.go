// Package metrics exposes the pipeline's Prometheus metrics surface: candidate rate per phase, queue depths, drop reasons by cause, lane
// utilization, decision verdict distribution, position counts, notification
// success rate, and an end-to-end latency histogram. Every counter/gauge is
// updated without a lock on the fast path, per "lock-free on the
// fast path (per-counter atomics)" requirement — the prometheus client
// library's own metric types are already safe for concurrent use without an
// external mutex.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every metric the pipeline emits. A Registry is typically
// constructed once per pipeline instance and threaded into each phase.
type Registry struct {
	Registerer prometheus.Registerer

	CandidatesEmitted   *prometheus.CounterVec // labels: phase, symbol
	QueueDepth          *prometheus.GaugeVec   // labels: phase
	DroppedTotal        *prometheus.CounterVec // labels: phase, reason
	LaneDistribution    *prometheus.CounterVec // labels: lane
	DegradationsTotal   *prometheus.CounterVec // labels: from_lane, to_lane, cause
	VerdictsTotal       *prometheus.CounterVec // labels: verdict
	OpenPositions       prometheus.Gauge
	NotificationsTotal  *prometheus.CounterVec // labels: band, outcome
	EndToEndLatency     prometheus.Histogram
	LearningStage       prometheus.Gauge // 0=collecting,1=pattern,2=optimize
	ParameterVersion    prometheus.Gauge
}

// NewRegistry builds and registers every metric against reg. Passing
// prometheus.NewRegistry() keeps tests isolated from the default registry.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		Registerer: reg,
		CandidatesEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalpipeline",
			Name:      "candidates_emitted_total",
			Help:      "Candidates emitted per phase and symbol.",
		}, []string{"phase", "symbol"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "signalpipeline",
			Name:      "queue_depth",
			Help:      "Current depth of each phase's inbound queue.",
		}, []string{"phase"}),
		DroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalpipeline",
			Name:      "dropped_total",
			Help:      "Items dropped per phase and reason.",
		}, []string{"phase", "reason"}),
		LaneDistribution: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalpipeline",
			Name:      "lane_routed_total",
			Help:      "Candidates routed per P2 lane.",
		}, []string{"lane"}),
		DegradationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalpipeline",
			Name:      "lane_degradations_total",
			Help:      "Lane degradation events by source lane, target lane, and cause.",
		}, []string{"from_lane", "to_lane", "cause"}),
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalpipeline",
			Name:      "decisions_total",
			Help:      "P3 execution decisions by verdict.",
		}, []string{"verdict"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalpipeline",
			Name:      "open_positions",
			Help:      "Current count of OPEN positions across all symbols.",
		}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalpipeline",
			Name:      "notifications_total",
			Help:      "Notifications by priority band and terminal outcome.",
		}, []string{"band", "outcome"}),
		EndToEndLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "signalpipeline",
			Name:      "end_to_end_latency_seconds",
			Help:      "Latency from candidate emission (P1) to notification dispatch (P4).",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		LearningStage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalpipeline",
			Name:      "learning_stage",
			Help:      "P5 stage: 0=collecting, 1=pattern_discovery, 2=parameter_optimization.",
		}),
		ParameterVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalpipeline",
			Name:      "active_parameter_version",
			Help:      "Version number of the currently active ParameterSet.",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.CandidatesEmitted, r.QueueDepth, r.DroppedTotal, r.LaneDistribution,
		r.DegradationsTotal, r.VerdictsTotal, r.OpenPositions, r.NotificationsTotal,
		r.EndToEndLatency, r.LearningStage, r.ParameterVersion,
	} {
		if reg != nil {
			reg.MustRegister(c)
		}
	}
	return r
}

// ObserveLatency records the time between candidate emission and a terminal
// P4 outcome, feeding the end-to-end latency histogram.
func (r *Registry) ObserveLatency(emittedAt time.Time) {
	if r == nil {
		return
	}
	r.EndToEndLatency.Observe(time.Since(emittedAt).Seconds())
}
