// Package swarm composes the topology manager, hook system, heartbeat
// monitor, metrics collector, bottleneck detector, and consensus engine
// behind one entry point: the Coordinator.
package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/bottleneck"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/consensus"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/heartbeat"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/hooks"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/log"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/metrics"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/storage"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/swarmerr"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/topology"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

// failMarker is satisfied by every topology variant and by Adaptive; used to
// propagate agent failure into whichever connectivity graph is active.
type failMarker interface {
	MarkFailed(id string, failed bool)
}

// Coordinator is the single entry point a caller holds to run one logical
// swarm: it owns the agent registry and topology graph (under one lock, per
// the joint-mutation rule), the synchronized state map, and references to
// every other subsystem.
type Coordinator struct {
	mu       sync.RWMutex
	agents   map[string]*types.Agent
	order    []string // registration order, used to rebuild topologies deterministically
	topo     topology.Topology
	adaptive *topology.Adaptive // non-nil iff topo is the Adaptive variant

	// recovered[id] tracks whether a heartbeat has been observed since the
	// agent's most recent transition into FAILED, gating the FAILED -> * via
	// set_agent_state recovery rule (update_agent_heartbeat bypasses it).
	recovered map[string]bool

	stateMu sync.RWMutex
	state   map[string]*types.SyncStateEntry

	cfg                config.Config
	hookSys            *hooks.System
	heartbeatMon       *heartbeat.Monitor
	metricsCollector   *metrics.Collector
	bottleneckDetector *bottleneck.Detector
	consensusEngine    consensus.Engine
	store              storage.Store
	logger             zerolog.Logger

	consensusStop chan struct{}
	consensusDone chan struct{}
	shutdownOnce  sync.Once
}

// New constructs a Coordinator and starts its background workers: the
// metrics drain loop and heartbeat sweeper start inside their own
// constructors; this additionally starts the bottleneck monitor and the
// consensus ticker, for the required four (SPEC_FULL.md 5).
//
// store may be nil for a purely in-memory coordinator. resourceFn may be nil,
// in which case the bottleneck detector always observes a zero-value
// ResourceUsage (token/quota/queue rules never fire, matching SPEC_FULL.md
// 8.17's zero-sample expectation).
func New(cfg config.Config, store storage.Store, resourceFn bottleneck.ResourceProvider) (*Coordinator, error) {
	topo, err := topology.New(cfg.Topology.InitialKind, "", "")
	if err != nil {
		return nil, fmt.Errorf("swarm: construct initial topology: %w", err)
	}

	if resourceFn == nil {
		resourceFn = func() types.ResourceUsage { return types.ResourceUsage{} }
	}

	c := &Coordinator{
		agents:        make(map[string]*types.Agent),
		recovered:     make(map[string]bool),
		state:         make(map[string]*types.SyncStateEntry),
		topo:          topo,
		cfg:           cfg,
		store:         store,
		logger:        log.WithComponent("swarm"),
		consensusStop: make(chan struct{}),
		consensusDone: make(chan struct{}),
	}
	c.adaptive, _ = topo.(*topology.Adaptive)

	c.hookSys = hooks.New(cfg.Hooks)
	c.heartbeatMon = heartbeat.New(cfg.Heartbeat, c.hookSys)
	c.metricsCollector = metrics.New(cfg.Metrics, store)
	c.bottleneckDetector = bottleneck.New(cfg.Bottleneck, c.metricsCollector, c.hookSys, resourceFn)
	c.bottleneckDetector.MonitorContinuously(cfg.Bottleneck.MonitorInterval)

	// persistent=false: the configuration surface (SPEC_FULL.md 6) exposes
	// storage.data_dir for the embedded store and quorum-engine raft logs,
	// but does not expose a dedicated durability toggle for the consensus
	// engine itself; the hand-rolled raft engine is always in-memory and the
	// quorum engine defaults to the same here, upgradeable by callers that
	// construct pkg/consensus directly.
	c.consensusEngine = consensus.New(cfg.Consensus, cfg.Storage.DataDir, false, c.liveRoster, c.failedSet, c.metricsCollector)
	go c.consensusTickLoop()

	return c, nil
}

func (c *Coordinator) liveRoster() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Coordinator) failedSet() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(c.agents))
	for id, a := range c.agents {
		if a.State == types.AgentFailed {
			out[id] = true
		}
	}
	return out
}

// consensusTickLoop is the fourth required background worker: it keeps a
// leader elected for the active consensus engine on the configured heartbeat
// cadence, so request_consensus rarely pays election latency inline.
func (c *Coordinator) consensusTickLoop() {
	defer close(c.consensusDone)
	interval := time.Duration(c.cfg.Consensus.HeartbeatIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.cfg.Consensus.ElectionTimeoutMs)*time.Millisecond)
			if _, err := c.consensusEngine.ElectLeader(ctx); err != nil {
				c.logger.Debug().Err(err).Msg("consensus ticker: no leader elected")
			}
			cancel()
		case <-c.consensusStop:
			return
		}
	}
}

func (c *Coordinator) fireHook(eventType types.EventType, sourceID string, payload any) {
	hctx := &types.HookContext{
		EventType: eventType,
		Payload:   payload,
		SourceID:  sourceID,
		StartedAt: time.Now(),
		Metadata:  map[string]any{"correlation_id": uuid.NewString()},
	}
	if _, err := c.hookSys.Fire(context.Background(), eventType, hctx); err != nil {
		c.logger.Warn().Str("event_type", string(eventType)).Err(err).Msg("hook dispatch failed")
	}
}

// RegisterAgent adds a new agent to the registry and topology, starts
// heartbeat monitoring, and fires agent_spawn. Not idempotent: a duplicate
// ID fails and leaves all state unchanged.
func (c *Coordinator) RegisterAgent(id string, metadata map[string]string) error {
	agentType := metadata["type"]

	c.mu.Lock()
	if _, exists := c.agents[id]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", swarmerr.ErrDuplicateAgent, id)
	}
	if err := c.topo.AddAgent(id, metadata); err != nil {
		c.mu.Unlock()
		return err
	}
	c.agents[id] = &types.Agent{
		ID:            id,
		Type:          agentType,
		Metadata:      metadata,
		State:         types.AgentActive,
		LastHeartbeat: time.Now(),
	}
	c.order = append(c.order, id)
	c.mu.Unlock()

	c.heartbeatMon.StartMonitoring(id, 0, 0)
	metrics.AgentsTotal.WithLabelValues(string(types.AgentActive)).Inc()
	c.fireHook(types.EventAgentSpawn, id, map[string]any{"agent_id": id, "agent_type": agentType})
	return nil
}

// UnregisterAgent removes an agent from the registry and topology and stops
// its heartbeat monitoring. Idempotent: returns false without error if id
// was never registered.
func (c *Coordinator) UnregisterAgent(id string) bool {
	c.mu.Lock()
	agent, exists := c.agents[id]
	if !exists {
		c.mu.Unlock()
		return false
	}
	delete(c.agents, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	delete(c.recovered, id)
	_ = c.topo.RemoveAgent(id)
	c.mu.Unlock()

	c.heartbeatMon.StopMonitoring(id)
	metrics.AgentsTotal.WithLabelValues(string(agent.State)).Dec()
	c.fireHook(types.EventAgentUnregister, id, map[string]any{"agent_id": id})
	return true
}

func missingAgentID(fromID string, senderOK bool, toID string) string {
	if !senderOK {
		return fromID
	}
	return toID
}

// SendMessage delivers a point-to-point message. Fails if either ID is
// unregistered, or if the sender is FAILED. Fires pre_send/post_send and
// records a heartbeat for both sender and recipient — a message is itself a
// sign of life for both ends.
func (c *Coordinator) SendMessage(fromID, toID string, payload any) error {
	c.mu.RLock()
	sender, senderOK := c.agents[fromID]
	_, recipientOK := c.agents[toID]
	c.mu.RUnlock()

	if !senderOK || !recipientOK {
		return fmt.Errorf("%w: %s", swarmerr.ErrUnknownAgent, missingAgentID(fromID, senderOK, toID))
	}
	if sender.State == types.AgentFailed {
		return fmt.Errorf("%w: sender %s is FAILED", swarmerr.ErrInvalidState, fromID)
	}

	msg := &types.Message{From: fromID, To: toID, Payload: payload, Timestamp: time.Now().UnixNano()}
	c.fireHook(types.EventPreSend, fromID, msg)

	_ = c.heartbeatMon.RecordHeartbeat(fromID, nil)
	_ = c.heartbeatMon.RecordHeartbeat(toID, nil)
	c.recordAndEvaluateTraffic(fromID, toID)

	c.fireHook(types.EventPostSend, fromID, msg)
	return nil
}

// BroadcastMessage delivers payload to every topology-reachable neighbor of
// fromID (minus exclude), reusing SendMessage per recipient so hooks and
// heartbeat side effects stay identical to a directed send. Returns the
// number of recipients.
func (c *Coordinator) BroadcastMessage(fromID string, payload any, exclude map[string]bool) int {
	c.mu.RLock()
	_, senderOK := c.agents[fromID]
	failed := make(map[string]bool, len(c.agents))
	for id, a := range c.agents {
		if a.State == types.AgentFailed {
			failed[id] = true
		}
	}
	targets := c.topo.BroadcastTargets(fromID, failed)
	c.mu.RUnlock()

	if !senderOK {
		return 0
	}

	count := 0
	for _, to := range targets {
		if exclude != nil && exclude[to] {
			continue
		}
		if err := c.SendMessage(fromID, to, payload); err == nil {
			count++
		}
	}
	return count
}

// recordAndEvaluateTraffic feeds one observed hop into the Adaptive
// topology's traffic window (a no-op if the active topology isn't Adaptive)
// and evaluates its switching policy inline, since there is no dedicated
// topology-evaluation background worker among the four required ones.
func (c *Coordinator) recordAndEvaluateTraffic(from, to string) {
	c.mu.RLock()
	adaptive := c.adaptive
	c.mu.RUnlock()
	if adaptive == nil {
		return
	}

	now := time.Now()
	adaptive.RecordMessage(from, to, now)
	if !adaptive.Evaluate(now) {
		return
	}
	if from2, to2, ok := adaptive.ConsumeSwitch(); ok {
		c.fireTopologyChanged(from2, to2)
	}
}

func (c *Coordinator) fireTopologyChanged(from, to types.TopologyKind) {
	c.fireHook(types.EventTopologyChanged, "", map[string]any{"from": from, "to": to})
	metrics.TopologySwitchesTotal.WithLabelValues(string(to)).Inc()
}

// SetAgentState transitions an agent's lifecycle state directly. Any
// transition is permitted except leaving FAILED without an intervening
// successful heartbeat (UpdateAgentHeartbeat grants that recovery itself).
func (c *Coordinator) SetAgentState(id string, state types.AgentState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, exists := c.agents[id]
	if !exists {
		return fmt.Errorf("%w: %s", swarmerr.ErrUnknownAgent, id)
	}
	if agent.State == types.AgentFailed && state != types.AgentFailed && !c.recovered[id] {
		return fmt.Errorf("%w: agent %s requires a heartbeat before leaving FAILED", swarmerr.ErrInvalidState, id)
	}

	previous := agent.State
	if state == types.AgentFailed {
		c.recovered[id] = false
	} else if previous == types.AgentFailed {
		delete(c.recovered, id)
	}
	agent.State = state

	if fm, ok := c.topo.(failMarker); ok {
		fm.MarkFailed(id, state == types.AgentFailed)
	}
	if previous != state {
		metrics.AgentsTotal.WithLabelValues(string(previous)).Dec()
		metrics.AgentsTotal.WithLabelValues(string(state)).Inc()
	}
	return nil
}

// UpdateAgentHeartbeat records a heartbeat and, uniquely among the ways an
// agent's state can change, is permitted to transition FAILED straight to
// ACTIVE.
func (c *Coordinator) UpdateAgentHeartbeat(id string) error {
	c.mu.Lock()
	agent, exists := c.agents[id]
	if !exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", swarmerr.ErrUnknownAgent, id)
	}
	agent.LastHeartbeat = time.Now()
	c.recovered[id] = true
	if agent.State == types.AgentFailed {
		agent.State = types.AgentActive
		metrics.AgentsTotal.WithLabelValues(string(types.AgentFailed)).Dec()
		metrics.AgentsTotal.WithLabelValues(string(types.AgentActive)).Inc()
	}
	c.mu.Unlock()

	return c.heartbeatMon.RecordHeartbeat(id, nil)
}

// GetAgentStatus returns a read-only snapshot of one agent, or false if
// unknown.
func (c *Coordinator) GetAgentStatus(id string) (*types.Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	agent, exists := c.agents[id]
	if !exists {
		return nil, false
	}
	snapshot := agent.Clone()
	snapshot.HierarchyLayer, snapshot.ParentID, snapshot.RingPosition = c.topo.AgentExtras(id)
	return snapshot, true
}

// GetTopologyInfo reports the active topology's shape and derived health.
func (c *Coordinator) GetTopologyInfo() types.TopologyInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := len(c.agents)
	failed := 0
	for _, a := range c.agents {
		if a.State == types.AgentFailed {
			failed++
		}
	}

	health := "ok"
	if total > 0 {
		ratio := float64(failed) / float64(total)
		switch {
		case ratio > 0.5:
			health = "critical"
		case ratio > 0.1:
			health = "degraded"
		}
	}

	return types.TopologyInfo{
		Type:            c.topo.Kind(),
		AgentCount:      total,
		ConnectionCount: c.topo.ConnectionCount(),
		ActiveAgents:    total - failed,
		FailedAgents:    failed,
		Health:          health,
	}
}

// RequestConsensus forwards to the active consensus engine, bracketed by
// pre_consensus/post_consensus hooks.
func (c *Coordinator) RequestConsensus(ctx context.Context, proposal any, timeoutMs int) (types.ProposalResult, error) {
	c.fireHook(types.EventPreConsensus, "", proposal)
	result, err := c.consensusEngine.Propose(ctx, proposal, timeoutMs)
	c.fireHook(types.EventPostConsensus, "", result)
	return result, err
}

// SynchronizeState writes a new, strictly greater version for key and fires
// state_synchronized.
func (c *Coordinator) SynchronizeState(key string, value any, writer string) bool {
	c.stateMu.Lock()
	version := uint64(1)
	if existing, exists := c.state[key]; exists {
		version = existing.Version + 1
	}
	c.state[key] = &types.SyncStateEntry{Value: value, Version: version, LastWriter: writer}
	c.stateMu.Unlock()

	c.fireHook(types.EventStateSynchronized, writer, map[string]any{"key": key, "version": version})
	return true
}

// GetSynchronizedState returns the current value for key, or false if unset.
func (c *Coordinator) GetSynchronizedState(key string) (any, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	entry, exists := c.state[key]
	if !exists {
		return nil, false
	}
	return entry.Value, true
}

// SyncStateVersion reports the current version for key, for callers
// verifying the strictly-increasing version law without threading version
// numbers through SynchronizeState's own return value.
func (c *Coordinator) SyncStateVersion(key string) (uint64, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	entry, exists := c.state[key]
	if !exists {
		return 0, false
	}
	return entry.Version, true
}

// SwitchTopology rebuilds the active topology as kind, preserving every
// registered agent and its failed/active flag. A no-op (success, no rebuild)
// if kind already matches the active topology.
func (c *Coordinator) SwitchTopology(kind types.TopologyKind) error {
	c.mu.Lock()
	from := c.topo.Kind()
	if from == kind {
		c.mu.Unlock()
		return nil
	}

	next, err := c.rebuildTopology(kind)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if fm, ok := next.(failMarker); ok {
		for id, a := range c.agents {
			if a.State == types.AgentFailed {
				fm.MarkFailed(id, true)
			}
		}
	}

	c.topo = next
	c.adaptive, _ = next.(*topology.Adaptive)
	c.mu.Unlock()

	c.fireTopologyChanged(from, kind)
	return nil
}

// rebuildTopology constructs a fresh topology of kind from the current
// registration order, mirroring the Adaptive variant's own switchTo/
// buildHierarchy policy (balanced binary layout for hierarchical, since
// SwitchTopology has no explicit per-agent parent source either).
func (c *Coordinator) rebuildTopology(kind types.TopologyKind) (topology.Topology, error) {
	roster := append([]string(nil), c.order...)

	switch kind {
	case types.TopologyMesh:
		t := topology.NewMesh()
		for _, id := range roster {
			_ = t.AddAgent(id, c.agents[id].Metadata)
		}
		return t, nil
	case types.TopologyStar:
		t := topology.NewStar("")
		for _, id := range roster {
			_ = t.AddAgent(id, c.agents[id].Metadata)
		}
		return t, nil
	case types.TopologyRing:
		t := topology.NewRing()
		for _, id := range roster {
			_ = t.AddAgent(id, c.agents[id].Metadata)
		}
		return t, nil
	case types.TopologyHierarchical:
		return c.buildHierarchy(roster), nil
	case types.TopologyAdaptive:
		inner, err := c.rebuildTopology(types.TopologyMesh)
		if err != nil {
			return nil, err
		}
		return topology.NewAdaptive(inner), nil
	default:
		return nil, swarmerr.ErrUnknownTopology
	}
}

func (c *Coordinator) buildHierarchy(roster []string) topology.Topology {
	if len(roster) == 0 {
		return topology.NewHierarchical("")
	}
	h := topology.NewHierarchical(roster[0])
	for i := 1; i < len(roster); i++ {
		parentIdx := (i - 1) / 2
		_ = h.AddAgent(roster[i], map[string]string{"parent_id": roster[parentIdx]})
	}
	return h
}

// CheckAgentHealth delegates to the heartbeat monitor.
func (c *Coordinator) CheckAgentHealth(id string) (types.HealthState, error) {
	return c.heartbeatMon.CheckAgentHealth(id)
}

// UnhealthyAgents delegates to the heartbeat monitor.
func (c *Coordinator) UnhealthyAgents(minState types.HealthState) []string {
	return c.heartbeatMon.GetUnhealthyAgents(minState)
}

// RecordTaskMetric delegates to the metrics collector, letting callers feed
// task outcomes without reaching past the facade.
func (c *Coordinator) RecordTaskMetric(taskID, agentID string, startedAt, endedAt time.Time, durationMs float64, result types.TaskResult, tokens, files int, tags map[string]string) {
	c.metricsCollector.RecordTaskMetric(taskID, agentID, startedAt, endedAt, durationMs, result, tokens, files, tags)
}

// DetectBottlenecks delegates to the bottleneck detector for an on-demand
// pass, independent of its continuous monitor cadence.
func (c *Coordinator) DetectBottlenecks(now time.Time) []types.Bottleneck {
	return c.bottleneckDetector.DetectOnce(now)
}

// RegisterHook delegates to the hook system.
func (c *Coordinator) RegisterHook(h *hooks.Hook) error {
	return c.hookSys.RegisterHook(h)
}

// UnregisterHook delegates to the hook system. Idempotent: returns false
// without error if name was never registered.
func (c *Coordinator) UnregisterHook(name string) bool {
	return c.hookSys.UnregisterHook(name)
}

// FireHooks lets callers fire an arbitrary event through the shared hook
// system, e.g. to drive Scenario E-style dependency-ordering tests directly.
func (c *Coordinator) FireHooks(ctx context.Context, eventType types.EventType, hctx *types.HookContext) ([]types.HookResult, error) {
	return c.hookSys.Fire(ctx, eventType, hctx)
}

// Shutdown stops every background worker synchronously and idempotently:
// the consensus ticker, bottleneck monitor, heartbeat sweeper, and metrics
// drain loop, in that order, then closes the store if one was configured.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		close(c.consensusStop)
		<-c.consensusDone
		c.bottleneckDetector.StopMonitoring()
		c.heartbeatMon.Shutdown()
		c.metricsCollector.Shutdown()
		if c.store != nil {
			if err := c.store.Close(); err != nil {
				c.logger.Warn().Err(err).Msg("store close failed during shutdown")
			}
		}
	})
}
