package swarm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/hooks"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

func newTestCoordinator(t *testing.T, mutate func(*config.Config)) *Coordinator {
	t.Helper()
	cfg := config.Default()
	cfg.Metrics.AsyncMode = false
	cfg.Heartbeat.CheckIntervalMs = 20
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c
}

func registerN(t *testing.T, c *Coordinator, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, c.RegisterAgent(id, map[string]string{"type": "worker"}))
	}
}

// Scenario A: Mesh broadcast and health.
func TestMeshBroadcastAndHealth(t *testing.T) {
	c := newTestCoordinator(t, func(cfg *config.Config) {
		cfg.Topology.InitialKind = types.TopologyMesh
	})
	registerN(t, c, "a1", "a2", "a3", "a4", "a5")

	count := c.BroadcastMessage("a1", "ping", nil)
	assert.Equal(t, 4, count)

	info := c.GetTopologyInfo()
	assert.Equal(t, 10, info.ConnectionCount)
	assert.Equal(t, 5, info.AgentCount)
	assert.Equal(t, "ok", info.Health)
}

// Scenario B: Hierarchical reparent on removal.
func TestHierarchicalReparentOnRemoval(t *testing.T) {
	c := newTestCoordinator(t, func(cfg *config.Config) {
		cfg.Topology.InitialKind = types.TopologyHierarchical
	})
	require.NoError(t, c.RegisterAgent("r", nil))
	require.NoError(t, c.RegisterAgent("c1", map[string]string{"parent_id": "r"}))
	require.NoError(t, c.RegisterAgent("g1", map[string]string{"parent_id": "c1"}))
	require.NoError(t, c.RegisterAgent("g2", map[string]string{"parent_id": "c1"}))

	assert.True(t, c.UnregisterAgent("c1"))

	info := c.GetTopologyInfo()
	assert.Equal(t, 3, info.AgentCount)

	g1, ok := c.GetAgentStatus("g1")
	require.True(t, ok)
	assert.Equal(t, 1, g1.HierarchyLayer)
	assert.Equal(t, "r", g1.ParentID)
}

// Scenario C: Raft election and proposal.
func TestRaftElectionAndProposal(t *testing.T) {
	c := newTestCoordinator(t, nil)
	registerN(t, c, "a1", "a2", "a3", "a4", "a5")

	leader, err := c.consensusEngine.ElectLeader(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, leader)

	state := c.consensusEngine.GetState()
	assert.Equal(t, types.RoleLeader, state.Role)

	result, err := c.RequestConsensus(context.Background(), map[string]any{"op": "noop"}, 1000)
	require.NoError(t, err)
	assert.Equal(t, "approved", result.Decision)
	assert.GreaterOrEqual(t, result.VotesFor, 3)
}

// Scenario D: Heartbeat state transitions.
func TestHeartbeatStateTransitions(t *testing.T) {
	var transitions []types.HealthState
	c := newTestCoordinator(t, func(cfg *config.Config) {
		cfg.Heartbeat.IntervalMs = 20
		cfg.Heartbeat.FailureThreshold = 3
		cfg.Heartbeat.CheckIntervalMs = 5
	})
	require.NoError(t, c.RegisterAgent("a1", nil))

	alertCount := 0
	c.heartbeatMon.ConfigureAlerts(
		func(id string, from, to types.HealthState) { alertCount++; transitions = append(transitions, to) },
		func(id string, from, to types.HealthState) { alertCount++; transitions = append(transitions, to) },
		func(id string, from, to types.HealthState) { alertCount++; transitions = append(transitions, to) },
	)

	require.NoError(t, c.UpdateAgentHeartbeat("a1"))
	require.Eventually(t, func() bool {
		state, _ := c.CheckAgentHealth("a1")
		return state == types.HealthFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 3, alertCount)
	assert.Equal(t, []types.HealthState{types.HealthDegraded, types.HealthCritical, types.HealthFailed}, transitions)
}

// Scenario E: Hook dependency order with mixed executor kinds.
func TestHookDependencyOrderMixedExecutors(t *testing.T) {
	c := newTestCoordinator(t, nil)

	var validateEnd, persistStart time.Time
	require.NoError(t, c.RegisterHook(&hooks.Hook{
		Name:      "validate",
		EventType: types.EventTaskStart,
		Priority:  types.PriorityCritical,
		Executor:  types.ExecutorSync,
		Fn: func(ctx context.Context, hctx *types.HookContext) error {
			time.Sleep(5 * time.Millisecond)
			validateEnd = time.Now()
			return nil
		},
	}))
	require.NoError(t, c.RegisterHook(&hooks.Hook{
		Name:         "persist",
		EventType:    types.EventTaskStart,
		Priority:     types.PriorityNormal,
		Executor:     types.ExecutorAsync,
		Dependencies: []string{"validate"},
		Fn: func(ctx context.Context, hctx *types.HookContext) error {
			persistStart = time.Now()
			return nil
		},
	}))

	_, err := c.FireHooks(context.Background(), types.EventTaskStart, &types.HookContext{EventType: types.EventTaskStart, StartedAt: time.Now()})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !persistStart.IsZero() }, time.Second, 5*time.Millisecond)
	assert.False(t, persistStart.Before(validateEnd))
}

// severityRank orders Severity for "at least X" assertions.
func severityRank(s types.Severity) int {
	switch s {
	case types.SeverityLow:
		return 0
	case types.SeverityMedium:
		return 1
	case types.SeverityHigh:
		return 2
	case types.SeverityCritical:
		return 3
	default:
		return -1
	}
}

func findBottleneck(bottlenecks []types.Bottleneck, kind types.BottleneckKind) (types.Bottleneck, bool) {
	for _, b := range bottlenecks {
		if b.Kind == kind {
			return b, true
		}
	}
	return types.Bottleneck{}, false
}

// Scenario F: Bottleneck detection triggers.
func TestBottleneckDetectionTriggers(t *testing.T) {
	resourceFn := func() types.ResourceUsage {
		return types.ResourceUsage{
			TokenBudget:    1000,
			TokenConsumed:  900,
			TokenRemaining: 100,
			AgentQuota:     10,
			AgentActive:    9,
			PendingTasks:   60,
		}
	}

	cfg := config.Default()
	cfg.Metrics.AsyncMode = false
	cfg.Heartbeat.CheckIntervalMs = 20
	cfg.Bottleneck.DetectionWindow = time.Hour
	c, err := New(cfg, nil, resourceFn)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)

	require.NoError(t, c.RegisterAgent("slow", nil))
	require.NoError(t, c.RegisterAgent("fast", nil))

	now := time.Now()
	for i := 0; i < 100; i++ {
		c.RecordTaskMetric("t-fast", "fast", now.Add(-time.Minute), now.Add(-time.Minute+200*time.Millisecond), 200, types.TaskSuccess, 1, 1, nil)
	}
	for i := 0; i < 50; i++ {
		c.RecordTaskMetric("t-slow", "slow", now.Add(-time.Minute), now.Add(-time.Minute+time.Second), 1000, types.TaskFailure, 1, 1, nil)
	}

	start := time.Now()
	bottlenecks := c.DetectBottlenecks(now)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	tokenExhaustion, ok := findBottleneck(bottlenecks, types.BottleneckTokenExhaustion)
	require.True(t, ok, "expected a token-exhaustion bottleneck")
	assert.GreaterOrEqual(t, severityRank(tokenExhaustion.Severity), severityRank(types.SeverityHigh))

	quotaExceeded, ok := findBottleneck(bottlenecks, types.BottleneckQuotaExceeded)
	require.True(t, ok, "expected a quota-exceeded bottleneck")
	assert.GreaterOrEqual(t, severityRank(quotaExceeded.Severity), severityRank(types.SeverityHigh))

	slowAgent, ok := findBottleneck(bottlenecks, types.BottleneckSlowAgent)
	require.True(t, ok, "expected a slow-agent bottleneck")
	assert.Contains(t, slowAgent.AffectedIDs, "slow")
	assert.GreaterOrEqual(t, severityRank(slowAgent.Severity), severityRank(types.SeverityMedium))

	queueBacklog, ok := findBottleneck(bottlenecks, types.BottleneckQueueBacklog)
	require.True(t, ok, "expected a queue-backlog bottleneck")
	assert.NotZero(t, queueBacklog.Impact)
}

// Universal invariant: unique agent IDs, duplicate registration fails cleanly.
func TestDuplicateAgentIDFailsCleanly(t *testing.T) {
	c := newTestCoordinator(t, nil)
	require.NoError(t, c.RegisterAgent("a1", nil))
	err := c.RegisterAgent("a1", nil)
	require.Error(t, err)

	_, ok := c.GetAgentStatus("a1")
	assert.True(t, ok)
}

// Round-trip law: register + unregister returns to prior state.
func TestRegisterUnregisterRoundTrip(t *testing.T) {
	c := newTestCoordinator(t, nil)
	before := c.GetTopologyInfo()

	require.NoError(t, c.RegisterAgent("a1", nil))
	assert.True(t, c.UnregisterAgent("a1"))

	after := c.GetTopologyInfo()
	assert.Equal(t, before, after)
}

// Idempotence: unregistering an unknown agent returns false, not an error.
func TestUnregisterUnknownAgentIsIdempotent(t *testing.T) {
	c := newTestCoordinator(t, nil)
	assert.False(t, c.UnregisterAgent("ghost"))
}

// Round-trip law: record_heartbeat -> check_agent_health yields HEALTHY.
func TestRecordHeartbeatYieldsHealthy(t *testing.T) {
	c := newTestCoordinator(t, nil)
	require.NoError(t, c.RegisterAgent("a1", nil))
	require.NoError(t, c.UpdateAgentHeartbeat("a1"))

	state, err := c.CheckAgentHealth("a1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthHealthy, state)
}

// Round-trip law: synchronize_state/get_synchronized_state round-trips with
// strictly increasing versions per key.
func TestSynchronizeStateRoundTripsAndVersionsIncrease(t *testing.T) {
	c := newTestCoordinator(t, nil)

	assert.True(t, c.SynchronizeState("k", "v1", "a1"))
	v1, ok := c.SyncStateVersion("k")
	require.True(t, ok)

	assert.True(t, c.SynchronizeState("k", "v2", "a2"))
	v2, ok := c.SyncStateVersion("k")
	require.True(t, ok)
	assert.Greater(t, v2, v1)

	value, ok := c.GetSynchronizedState("k")
	require.True(t, ok)
	assert.Equal(t, "v2", value)
}

// Idempotence law: switch_topology(T) twice is a no-op after the first.
func TestSwitchTopologyIdempotent(t *testing.T) {
	c := newTestCoordinator(t, func(cfg *config.Config) {
		cfg.Topology.InitialKind = types.TopologyMesh
	})
	registerN(t, c, "a1", "a2", "a3")

	require.NoError(t, c.SwitchTopology(types.TopologyStar))
	infoAfterFirst := c.GetTopologyInfo()

	require.NoError(t, c.SwitchTopology(types.TopologyStar))
	infoAfterSecond := c.GetTopologyInfo()

	assert.Equal(t, infoAfterFirst, infoAfterSecond)
}

// Boundary: send_message from a FAILED sender fails and does not record a
// heartbeat for it.
func TestSendMessageFromFailedSenderFails(t *testing.T) {
	c := newTestCoordinator(t, nil)
	registerN(t, c, "a1", "a2")
	require.NoError(t, c.SetAgentState("a1", types.AgentFailed))

	historyBefore, err := c.heartbeatMon.GetHeartbeatHistory("a1", time.Time{})
	require.NoError(t, err)

	err = c.SendMessage("a1", "a2", "hi")
	require.Error(t, err)

	historyAfter, err := c.heartbeatMon.GetHeartbeatHistory("a1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, len(historyBefore), len(historyAfter))
}

// Boundary: set_agent_state refuses to leave FAILED without an intervening
// heartbeat, and update_agent_heartbeat grants that recovery directly.
func TestFailedRecoveryRequiresHeartbeat(t *testing.T) {
	c := newTestCoordinator(t, nil)
	require.NoError(t, c.RegisterAgent("a1", nil))
	require.NoError(t, c.SetAgentState("a1", types.AgentFailed))

	err := c.SetAgentState("a1", types.AgentActive)
	require.Error(t, err)

	require.NoError(t, c.UpdateAgentHeartbeat("a1"))
	status, ok := c.GetAgentStatus("a1")
	require.True(t, ok)
	assert.Equal(t, types.AgentActive, status.State)
}

// Boundary: consensus commits with floor((N-1)/2) failed, times out with
// ceil(N/2) failed.
func TestConsensusMajorityBoundary(t *testing.T) {
	c := newTestCoordinator(t, nil)
	registerN(t, c, "a1", "a2", "a3", "a4", "a5")

	require.NoError(t, c.SetAgentState("a4", types.AgentFailed))
	require.NoError(t, c.SetAgentState("a5", types.AgentFailed))
	result, err := c.RequestConsensus(context.Background(), "op", 1000)
	require.NoError(t, err)
	assert.Equal(t, "approved", result.Decision)

	require.NoError(t, c.SetAgentState("a3", types.AgentFailed))
	result, err = c.RequestConsensus(context.Background(), "op2", 1000)
	require.Error(t, err)
	assert.Equal(t, "timeout", result.Decision)
}

// Boundary: bottleneck detection with zero samples returns no findings.
func TestBottleneckDetectionZeroSamples(t *testing.T) {
	c := newTestCoordinator(t, nil)
	bottlenecks := c.DetectBottlenecks(time.Now())
	assert.Empty(t, bottlenecks)
}
