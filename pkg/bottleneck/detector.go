// Package bottleneck translates raw task metrics and external resource
// telemetry into actionable Bottleneck reports using fixed statistical
// rules, no machine learning (SPEC_FULL.md 4.E.2).
package bottleneck

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/hooks"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/log"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/metrics"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

// ResourceProvider supplies the external Resource Controller's latest
// snapshot; pulled once per detection cycle.
type ResourceProvider func() types.ResourceUsage

// Detector runs the five fixed detection rules against a Collector's task
// stats and a ResourceProvider's telemetry.
type Detector struct {
	mu sync.Mutex

	cfg        config.BottleneckConfig
	collector  *metrics.Collector
	hookSys    *hooks.System
	resourceFn ResourceProvider
	logger     zerolog.Logger

	tokenPerTaskHistory []float64

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(cfg config.BottleneckConfig, collector *metrics.Collector, hookSys *hooks.System, resourceFn ResourceProvider) *Detector {
	return &Detector{
		cfg:        cfg,
		collector:  collector,
		hookSys:    hookSys,
		resourceFn: resourceFn,
		logger:     log.WithComponent("bottleneck"),
	}
}

// DetectOnce runs a single detection pass and returns at most one
// Bottleneck per rule.
func (d *Detector) DetectOnce(now time.Time) []types.Bottleneck {
	since := now.Add(-d.cfg.DetectionWindow)
	usage := d.resourceFn()
	swarmStats := d.collector.GetTaskStats("", since)

	var out []types.Bottleneck
	if b, ok := d.tokenExhaustion(usage, swarmStats); ok {
		out = append(out, b)
	}
	if b, ok := d.quotaExceeded(usage); ok {
		out = append(out, b)
	}
	if b, ok := d.slowAgent(since, swarmStats); ok {
		out = append(out, b)
	}
	if b, ok := d.queueBacklog(usage); ok {
		out = append(out, b)
	}
	if b, ok := d.consensusTimeout(since); ok {
		out = append(out, b)
	}
	return out
}

func severityFor(impact float64) types.Severity {
	switch {
	case impact >= 0.8:
		return types.SeverityCritical
	case impact >= 0.6:
		return types.SeverityHigh
	case impact >= 0.4:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

func impactScore(affectedRatio, perfDegradationRatio, failureRate float64) float64 {
	score := affectedRatio + perfDegradationRatio + failureRate
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// tokenExhaustion fires when consumed/budget exceeds 0.8 and the
// tokens-per-task trend confirms an increase of at least 5%, scaled to
// however much history has accumulated (see tokenTrendConfirmed).
func (d *Detector) tokenExhaustion(usage types.ResourceUsage, stats metrics.TaskStats) (types.Bottleneck, bool) {
	var avgTokensPerTask float64
	if stats.Count > 0 {
		avgTokensPerTask = float64(stats.TotalTokens) / float64(stats.Count)
	}

	d.mu.Lock()
	d.tokenPerTaskHistory = append(d.tokenPerTaskHistory, avgTokensPerTask)
	if len(d.tokenPerTaskHistory) > 200 {
		d.tokenPerTaskHistory = d.tokenPerTaskHistory[len(d.tokenPerTaskHistory)-200:]
	}
	history := append([]float64(nil), d.tokenPerTaskHistory...)
	d.mu.Unlock()

	if usage.TokenBudget == 0 {
		return types.Bottleneck{}, false
	}
	ratio := float64(usage.TokenConsumed) / float64(usage.TokenBudget)
	if ratio <= 0.8 {
		return types.Bottleneck{}, false
	}
	if !tokenTrendConfirmed(history, 5, 0.05) {
		return types.Bottleneck{}, false
	}

	impact := impactScore(ratio, 0.2, 0)
	trend := classifyTrend(history, d.cfg.TrendWindow, d.cfg.TrendThreshold, false)
	return types.Bottleneck{
		Kind:        types.BottleneckTokenExhaustion,
		Severity:    severityFor(impact),
		Impact:      impact,
		AffectedIDs: nil,
		Evidence: map[string]any{
			"token_ratio":         ratio,
			"avg_tokens_per_task": avgTokensPerTask,
			"trend":               trend,
		},
		Recommendation: []string{"reduce per-task token budget", "shed low-priority tasks"},
	}, true
}

// quotaExceeded fires when active/quota reaches 0.9; severity escalates
// with pending_tasks.
func (d *Detector) quotaExceeded(usage types.ResourceUsage) (types.Bottleneck, bool) {
	if usage.AgentQuota == 0 {
		return types.Bottleneck{}, false
	}
	ratio := float64(usage.AgentActive) / float64(usage.AgentQuota)
	if ratio < 0.9 {
		return types.Bottleneck{}, false
	}

	perfDegradation := float64(usage.PendingTasks) / 100.0
	if perfDegradation > 1.0 {
		perfDegradation = 1.0
	}
	impact := impactScore(ratio, perfDegradation, 0)
	return types.Bottleneck{
		Kind:     types.BottleneckQuotaExceeded,
		Severity: severityFor(impact),
		Impact:   impact,
		Evidence: map[string]any{
			"agent_ratio":   ratio,
			"pending_tasks": usage.PendingTasks,
		},
		Recommendation: []string{"raise agent quota", "prioritize queue draining"},
	}, true
}

// slowAgent fires for any agent whose average duration exceeds 2x the
// swarm average and whose success rate is below 0.70 over the window.
func (d *Detector) slowAgent(since time.Time, swarmStats metrics.TaskStats) (types.Bottleneck, bool) {
	if swarmStats.Count == 0 {
		return types.Bottleneck{}, false
	}

	var affected []string
	var worstRatio float64
	var worstSuccess float64 = 1
	for _, agentID := range d.collector.KnownAgentIDs() {
		perf := d.collector.GetAgentPerformance(agentID)
		if perf.TaskCount == 0 || swarmStats.AvgDuration == 0 {
			continue
		}
		if perf.AvgDurationMs > 2*swarmStats.AvgDuration && perf.SuccessRate < 0.70 {
			affected = append(affected, agentID)
			ratio := perf.AvgDurationMs / swarmStats.AvgDuration
			if ratio > worstRatio {
				worstRatio = ratio
				worstSuccess = perf.SuccessRate
			}
		}
	}
	if len(affected) == 0 {
		return types.Bottleneck{}, false
	}

	affectedRatio := float64(len(affected)) / float64(len(d.collector.KnownAgentIDs()))
	perfDegradation := worstRatio / 4.0 // normalize: 4x average saturates this term
	if perfDegradation > 1.0 {
		perfDegradation = 1.0
	}
	failureRate := 1 - worstSuccess
	impact := impactScore(affectedRatio, perfDegradation, failureRate)

	return types.Bottleneck{
		Kind:        types.BottleneckSlowAgent,
		Severity:    severityFor(impact),
		Impact:      impact,
		AffectedIDs: affected,
		Evidence: map[string]any{
			"swarm_avg_duration_ms": swarmStats.AvgDuration,
		},
		Recommendation: []string{"rebalance tasks away from affected agents", "investigate agent-specific faults"},
	}, true
}

// queueBacklog fires when pending_tasks exceeds 50; severity escalates if
// high-priority tasks dominate the backlog.
func (d *Detector) queueBacklog(usage types.ResourceUsage) (types.Bottleneck, bool) {
	if usage.PendingTasks <= 50 {
		return types.Bottleneck{}, false
	}

	highPriority := usage.ByPriority["high"] + usage.ByPriority["critical"]
	highPriorityRatio := 0.0
	if usage.PendingTasks > 0 {
		highPriorityRatio = float64(highPriority) / float64(usage.PendingTasks)
	}

	affectedRatio := float64(usage.PendingTasks) / 100.0
	if affectedRatio > 1.0 {
		affectedRatio = 1.0
	}
	impact := impactScore(affectedRatio, highPriorityRatio, 0)

	return types.Bottleneck{
		Kind:     types.BottleneckQueueBacklog,
		Severity: severityFor(impact),
		Impact:   impact,
		Evidence: map[string]any{
			"pending_tasks":       usage.PendingTasks,
			"high_priority_ratio": highPriorityRatio,
		},
		Recommendation: []string{"scale out agent pool", "reprioritize queue"},
	}, true
}

// consensusTimeout reads the Consensus Engine's own round_trip_ms/outcome
// agent metrics under SwarmIDConsensus; fires when completion rate drops
// below 90% or average decision time exceeds 10s. Silently produces no
// bottleneck until at least one proposal has completed.
func (d *Detector) consensusTimeout(since time.Time) (types.Bottleneck, bool) {
	outcomes := d.collector.GetAgentMetricSeries(types.SwarmIDConsensus, "consensus.outcome", since)
	if len(outcomes) == 0 {
		return types.Bottleneck{}, false
	}
	roundTrips := d.collector.GetAgentMetricSeries(types.SwarmIDConsensus, "consensus.round_trip_ms", since)

	completionRate := mean(outcomes)
	avgDecisionMs := mean(roundTrips)

	if completionRate >= 0.90 && avgDecisionMs <= 10_000 {
		return types.Bottleneck{}, false
	}

	affectedRatio := 1 - completionRate
	perfDegradation := avgDecisionMs / 20_000
	if perfDegradation > 1.0 {
		perfDegradation = 1.0
	}
	impact := impactScore(affectedRatio, perfDegradation, 0)

	return types.Bottleneck{
		Kind:     types.BottleneckConsensusTimeout,
		Severity: severityFor(impact),
		Impact:   impact,
		Evidence: map[string]any{
			"completion_rate":   completionRate,
			"avg_decision_ms":   avgDecisionMs,
			"proposals_sampled": len(outcomes),
		},
		Recommendation: []string{"increase election/round-trip timeouts", "reduce quorum size"},
	}, true
}

// MonitorContinuously spawns a single worker emitting bottleneck_detected
// events through the Hook System every interval. StopMonitoring tears it
// down cleanly.
func (d *Detector) MonitorContinuously(interval time.Duration) {
	d.mu.Lock()
	if d.stopCh != nil {
		d.mu.Unlock()
		return // already running
	}
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	go d.monitorLoop(interval)
}

func (d *Detector) monitorLoop(interval time.Duration) {
	defer close(d.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.emitReports()
		case <-d.stopCh:
			return
		}
	}
}

func (d *Detector) emitReports() {
	reports := d.DetectOnce(time.Now())
	if d.hookSys == nil {
		return
	}
	for _, b := range reports {
		hctx := &types.HookContext{
			EventType: types.EventBottleneckDetected,
			StartedAt: time.Now(),
			Payload:   b,
		}
		if _, err := d.hookSys.Fire(context.Background(), types.EventBottleneckDetected, hctx); err != nil {
			d.logger.Warn().Str("kind", string(b.Kind)).Err(err).Msg("bottleneck_detected hook dispatch failed")
		}
	}
}

// StopMonitoring tears down the continuous monitor started by
// MonitorContinuously; safe to call even if it was never started.
func (d *Detector) StopMonitoring() {
	d.mu.Lock()
	stopCh, doneCh := d.stopCh, d.doneCh
	d.stopCh, d.doneCh = nil, nil
	d.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}
