/*
Package metrics provides Prometheus metrics collection and exposition for the
swarm core.

The metrics package defines and registers the swarm core's metrics using the
Prometheus client library, providing observability into agents, tasks,
consensus, and the metrics pipeline itself. Metrics are exposed via an HTTP
handler for scraping by Prometheus servers.

# Architecture

The metrics system follows Prometheus best practices:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (node count)         │          │
	│  │  Counter: Monotonic increases (requests)    │          │
	│  │  Histogram: Distributions (latency)         │          │
	│  │  Summary: Quantiles (percentiles)           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Agents: Registered agents by state         │          │
	│  │  Tasks: Completed count, duration           │          │
	│  │  Consensus: Round-trip duration, outcomes   │          │
	│  │  Hooks: Executions by event and outcome     │          │
	│  │  Topology: Adaptive switches                │          │
	│  │  Bottlenecks: Reports by kind, severity     │          │
	│  │  Collector: Dropped submissions, queue      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Prometheus Server                   │          │
	│  │  - Scrapes /metrics every 15s               │          │
	│  │  - Stores time series data                  │          │
	│  │  - Provides PromQL query interface          │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Automatic collection of Go runtime metrics
  - Thread-safe for concurrent updates

Gauge Metrics:
  - Instant value that can go up or down
  - Examples: agents by state, metrics queue depth
  - Operations: Set, Inc, Dec, Add, Sub

Counter Metrics:
  - Monotonically increasing value
  - Examples: tasks by result, consensus outcomes
  - Operations: Inc, Add (cannot decrease)

Histogram Metrics:
  - Distribution of observed values
  - Buckets for latency percentiles (p50, p95, p99)
  - Examples: task duration, consensus round-trip duration
  - Includes: sum, count, buckets

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

# Metrics Catalog

swarmcore_agents_total{state} (AgentsTotal):
  - Type: Gauge
  - Description: Registered agents by state (ACTIVE, IDLE, BUSY, FAILED)
  - Example: swarmcore_agents_total{state="ACTIVE"} 5

swarmcore_tasks_total{result} (TasksTotal):
  - Type: Counter
  - Description: Completed tasks by result (SUCCESS, FAILURE, TIMEOUT, CANCELED)
  - Example: swarmcore_tasks_total{result="SUCCESS"} 30

swarmcore_task_duration_seconds (TaskDuration):
  - Type: Histogram
  - Description: Task duration in seconds
  - Buckets: Default Prometheus buckets

swarmcore_consensus_round_trip_seconds (ConsensusRoundTripDuration):
  - Type: Histogram
  - Description: Consensus proposal round-trip duration in seconds
  - Buckets: Default Prometheus buckets

swarmcore_consensus_outcomes_total{outcome} (ConsensusOutcomesTotal):
  - Type: Counter
  - Description: Consensus proposals by outcome

swarmcore_hooks_fired_total{event_type, outcome} (HooksFiredTotal):
  - Type: Counter
  - Description: Hook executions by event type and outcome

swarmcore_topology_switches_total{to} (TopologySwitchesTotal):
  - Type: Counter
  - Description: Adaptive topology switches by target kind

swarmcore_bottlenecks_detected_total{kind, severity} (BottlenecksDetectedTotal):
  - Type: Counter
  - Description: Bottleneck reports by kind and severity

swarmcore_metrics_dropped_total (MetricsDroppedTotal):
  - Type: Counter
  - Description: Metric submissions dropped because the async queue was full

swarmcore_metrics_queue_depth (MetricsQueueDepth):
  - Type: Gauge
  - Description: Current depth of the async metrics submission queue

# Usage

Updating Gauge Metrics:

	import "github.com/superdisco-agents/moai-flow-sub007/pkg/metrics"

	metrics.AgentsTotal.WithLabelValues("ACTIVE").Inc()
	metrics.AgentsTotal.WithLabelValues("ACTIVE").Dec()
	metrics.MetricsQueueDepth.Set(12)

Updating Counter Metrics:

	metrics.TasksTotal.WithLabelValues("SUCCESS").Inc()
	metrics.TopologySwitchesTotal.WithLabelValues("star").Add(1)

Recording Histogram Observations:

	// Direct observation
	metrics.TaskDuration.Observe(0.125) // 125ms

	// Using Timer helper
	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.ConsensusRoundTripDuration)

Using Timer with Labels:

	// ObserveDurationVec takes any prometheus.ObserverVec; this package
	// registers no histogram vectors, so the caller supplies one.
	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(myHistogramVec, "label-value")

Exposing the endpoint:

	http.Handle("/metrics", metrics.Handler())
	http.ListenAndServe(":9090", nil)

# Integration Points

This package integrates with:

  - pkg/swarm: Updates AgentsTotal and TopologySwitchesTotal
  - pkg/consensus: Records ConsensusRoundTripDuration and ConsensusOutcomesTotal
  - Collector (this package): Updates TaskDuration, TasksTotal,
    MetricsQueueDepth and MetricsDroppedTotal
  - Prometheus: Scrapes /metrics endpoint

HooksFiredTotal and BottlenecksDetectedTotal are registered, but no package
in this repository updates them.

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration
  - Ensures metrics available before main()
  - No runtime registration needed

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels
  - Avoid high-cardinality labels (IDs, timestamps)
  - Document label values in metric description
  - Keep label count low (< 5 per metric)

Timer Pattern:
  - Create timer at operation start
  - Defer or explicitly call ObserveDuration
  - Automatically calculates elapsed time
  - Supports both simple and vector histograms

Global Metrics:
  - Package-level variables for all metrics
  - Accessible from any swarm-core package
  - Thread-safe concurrent updates
  - No initialization required by callers

# Performance Characteristics

Metric Update Overhead:
  - Gauge set/inc: ~50ns per operation
  - Counter inc: ~50ns per operation
  - Histogram observe: ~200ns per operation
  - Labels: +100ns per label value
  - Negligible impact on hot path

Memory Usage:
  - Per metric: ~1KB baseline
  - Per label combination: ~100 bytes
  - Histogram buckets: ~50 bytes each
  - Total: ~1-5MB for a typical swarm

Scrape Performance:
  - Metrics gathering: ~1-5ms for full scrape
  - HTTP response: ~10ms for typical metric set
  - Recommendation: Scrape interval ≥ 15s
  - Concurrent scrapes: Safe (read-only)

Cardinality Management:
  - Low cardinality: role, status, state (< 10 values)
  - Medium cardinality: method, host (< 100 values)
  - Avoid: task IDs, timestamps (unbounded)
  - Best practice: Aggregate high-cardinality in logs

# Troubleshooting

Common Issues:

Missing Metrics:
  - Symptom: Metric not appearing in /metrics output
  - Check: Metric registered in init() function
  - Check: MustRegister called (panics if duplicate)
  - Solution: Verify metric variable is exported

High Cardinality:
  - Symptom: Prometheus memory usage grows
  - Cause: Using IDs or unbounded values as labels
  - Check: Label cardinality (count unique combinations)
  - Solution: Remove high-cardinality labels, aggregate differently

Histogram Bucket Mismatch:
  - Symptom: No data in desired percentiles
  - Cause: Buckets don't cover observed value range
  - Check: Histogram sum / count for average
  - Solution: Customize buckets for value range

Stale Metrics:
  - Symptom: Metrics not updating
  - Cause: Code not calling metric update methods
  - Check: Add logging around metric updates
  - Solution: Instrument code paths correctly

# Monitoring

Prometheus Queries (PromQL):

Agents:
  - Agents by state: swarmcore_agents_total
  - Failed agents: swarmcore_agents_total{state="FAILED"}

Tasks:
  - Completion rate: rate(swarmcore_tasks_total[1m])
  - Failure rate: rate(swarmcore_tasks_total{result="FAILURE"}[5m])
  - p95 duration: histogram_quantile(0.95, rate(swarmcore_task_duration_seconds_bucket[5m]))

Consensus:
  - Outcomes: rate(swarmcore_consensus_outcomes_total[5m])
  - p95 round trip: histogram_quantile(0.95, rate(swarmcore_consensus_round_trip_seconds_bucket[5m]))

Metrics pipeline:
  - Dropped submissions: rate(swarmcore_metrics_dropped_total[5m])
  - Queue depth: swarmcore_metrics_queue_depth

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - PromQL tutorial: https://prometheus.io/docs/prometheus/latest/querying/basics/
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
