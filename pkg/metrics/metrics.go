// Package metrics implements the ambient Prometheus export surface plus the
// async Metrics Collector domain component (SPEC_FULL.md 4.E.1, 10).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swarmcore_agents_total",
			Help: "Total number of registered agents by state",
		},
		[]string{"state"},
	)

	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcore_tasks_total",
			Help: "Total number of completed tasks by result",
		},
		[]string{"result"},
	)

	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarmcore_task_duration_seconds",
			Help:    "Task duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConsensusRoundTripDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swarmcore_consensus_round_trip_seconds",
			Help:    "Consensus proposal round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConsensusOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcore_consensus_outcomes_total",
			Help: "Total number of consensus proposals by outcome",
		},
		[]string{"outcome"},
	)

	HooksFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcore_hooks_fired_total",
			Help: "Total number of hook executions by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	TopologySwitchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcore_topology_switches_total",
			Help: "Total number of adaptive topology switches by target kind",
		},
		[]string{"to"},
	)

	BottlenecksDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swarmcore_bottlenecks_detected_total",
			Help: "Total number of bottleneck reports by kind and severity",
		},
		[]string{"kind", "severity"},
	)

	MetricsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "swarmcore_metrics_dropped_total",
			Help: "Total number of metric submissions dropped because the async queue was full",
		},
	)

	MetricsQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swarmcore_metrics_queue_depth",
			Help: "Current depth of the async metrics submission queue",
		},
	)
)

func init() {
	prometheus.MustRegister(
		AgentsTotal,
		TasksTotal,
		TaskDuration,
		ConsensusRoundTripDuration,
		ConsensusOutcomesTotal,
		HooksFiredTotal,
		TopologySwitchesTotal,
		BottlenecksDetectedTotal,
		MetricsDroppedTotal,
		MetricsQueueDepth,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
