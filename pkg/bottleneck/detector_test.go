package bottleneck

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/metrics"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

func newSyncCollector() *metrics.Collector {
	cfg := config.DefaultMetricsConfig()
	cfg.AsyncMode = false
	return metrics.New(cfg, nil)
}

func TestQuotaExceededFiresAboveNinetyPercent(t *testing.T) {
	c := newSyncCollector()
	d := New(config.DefaultBottleneckConfig(), c, nil, func() types.ResourceUsage {
		return types.ResourceUsage{AgentQuota: 10, AgentActive: 9, PendingTasks: 5}
	})

	reports := d.DetectOnce(time.Now())
	require.Len(t, reports, 1)
	assert.Equal(t, types.BottleneckQuotaExceeded, reports[0].Kind)
}

func TestQueueBacklogFiresAboveFiftyPending(t *testing.T) {
	c := newSyncCollector()
	d := New(config.DefaultBottleneckConfig(), c, nil, func() types.ResourceUsage {
		return types.ResourceUsage{PendingTasks: 80, ByPriority: map[string]int{"high": 60}}
	})

	reports := d.DetectOnce(time.Now())
	require.Len(t, reports, 1)
	assert.Equal(t, types.BottleneckQueueBacklog, reports[0].Kind)
	assert.Equal(t, types.SeverityCritical, reports[0].Severity)
}

func TestSlowAgentDetectedAgainstSwarmAverage(t *testing.T) {
	c := newSyncCollector()
	now := time.Now()
	for i := 0; i < 20; i++ {
		c.RecordTaskMetric("t", "fast-agent", now, now, 50, types.TaskSuccess, 0, 0, nil)
	}
	for i := 0; i < 5; i++ {
		c.RecordTaskMetric("t", "slow-agent", now, now, 400, types.TaskFailure, 0, 0, nil)
	}

	d := New(config.DefaultBottleneckConfig(), c, nil, func() types.ResourceUsage {
		return types.ResourceUsage{}
	})

	reports := d.DetectOnce(now)
	var found bool
	for _, r := range reports {
		if r.Kind == types.BottleneckSlowAgent {
			found = true
			assert.Contains(t, r.AffectedIDs, "slow-agent")
		}
	}
	assert.True(t, found, "expected a slow-agent bottleneck")
}

func TestConsensusTimeoutStubIsSilentWithoutSamples(t *testing.T) {
	c := newSyncCollector()
	d := New(config.DefaultBottleneckConfig(), c, nil, func() types.ResourceUsage {
		return types.ResourceUsage{}
	})

	reports := d.DetectOnce(time.Now())
	assert.Empty(t, reports)
}

func TestConsensusTimeoutFiresOnLowCompletionRate(t *testing.T) {
	c := newSyncCollector()
	for i := 0; i < 10; i++ {
		outcome := 1.0
		if i < 4 {
			outcome = 0.0
		}
		c.RecordAgentMetric(types.SwarmIDConsensus, "consensus.outcome", outcome)
		c.RecordAgentMetric(types.SwarmIDConsensus, "consensus.round_trip_ms", 500)
	}

	d := New(config.DefaultBottleneckConfig(), c, nil, func() types.ResourceUsage {
		return types.ResourceUsage{}
	})

	reports := d.DetectOnce(time.Now())
	var found bool
	for _, r := range reports {
		if r.Kind == types.BottleneckConsensusTimeout {
			found = true
		}
	}
	assert.True(t, found)
}

func TestMonitorContinuouslyStartStop(t *testing.T) {
	c := newSyncCollector()
	d := New(config.DefaultBottleneckConfig(), c, nil, func() types.ResourceUsage {
		return types.ResourceUsage{}
	})
	d.MonitorContinuously(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	d.StopMonitoring()
}

func TestSeverityThresholds(t *testing.T) {
	assert.Equal(t, types.SeverityLow, severityFor(0.1))
	assert.Equal(t, types.SeverityMedium, severityFor(0.4))
	assert.Equal(t, types.SeverityHigh, severityFor(0.6))
	assert.Equal(t, types.SeverityCritical, severityFor(0.8))
}
