// Package heartbeat classifies agent liveness from a bounded per-agent
// heartbeat history and dispatches alerts on state transitions.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/hooks"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/log"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/swarmerr"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

// AlertFunc is invoked on a deduplicated health-state transition.
type AlertFunc func(agentID string, from, to types.HealthState)

type agentRecord struct {
	mu sync.Mutex

	history  []types.HeartbeatEntry
	writeIdx int
	filled   bool

	intervalMs int
	threshold  int

	lastBeat  time.Time
	lastState types.HealthState
}

func newAgentRecord(historySize, intervalMs, threshold int) *agentRecord {
	return &agentRecord{
		history:    make([]types.HeartbeatEntry, historySize),
		intervalMs: intervalMs,
		threshold:  threshold,
		lastBeat:   time.Now(),
		lastState:  types.HealthHealthy,
	}
}

func (r *agentRecord) record(metadata map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.history[r.writeIdx] = types.HeartbeatEntry{Timestamp: now, Metadata: metadata}
	r.writeIdx = (r.writeIdx + 1) % len(r.history)
	if r.writeIdx == 0 {
		r.filled = true
	}
	r.lastBeat = now
}

func (r *agentRecord) health() types.HealthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return healthFor(time.Since(r.lastBeat), r.intervalMs, r.threshold)
}

// healthFor applies the four-tier age/interval classification.
func healthFor(age time.Duration, intervalMs, threshold int) types.HealthState {
	interval := time.Duration(intervalMs) * time.Millisecond
	switch {
	case age <= interval:
		return types.HealthHealthy
	case age <= 2*interval:
		return types.HealthDegraded
	case age <= time.Duration(threshold)*interval:
		return types.HealthCritical
	default:
		return types.HealthFailed
	}
}

func (r *agentRecord) entries(since time.Time) []types.HeartbeatEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ordered []types.HeartbeatEntry
	n := len(r.history)
	if r.filled {
		for i := 0; i < n; i++ {
			idx := (r.writeIdx + i) % n
			if !r.history[idx].Timestamp.IsZero() {
				ordered = append(ordered, r.history[idx])
			}
		}
	} else {
		ordered = append(ordered, r.history[:r.writeIdx]...)
	}

	if since.IsZero() {
		return ordered
	}
	var out []types.HeartbeatEntry
	for _, e := range ordered {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

// Monitor tracks per-agent heartbeat history and runs a background sweeper
// that classifies health and dispatches alerts on transitions.
type Monitor struct {
	mu     sync.RWMutex
	agents map[string]*agentRecord

	cfg    config.HeartbeatConfig
	hookSys *hooks.System
	logger zerolog.Logger

	onDegraded AlertFunc
	onCritical AlertFunc
	onFailed   AlertFunc

	stopCh chan struct{}
	doneCh chan struct{}
}

// New starts the background sweeper immediately. hookSys may be nil, in
// which case health_changed events are not fired.
func New(cfg config.HeartbeatConfig, hookSys *hooks.System) *Monitor {
	m := &Monitor{
		agents:  make(map[string]*agentRecord),
		cfg:     cfg,
		hookSys: hookSys,
		logger:  log.WithComponent("heartbeat"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// StartMonitoring registers an agent for heartbeat tracking. A zero
// intervalMs/threshold uses the monitor's configured defaults.
func (m *Monitor) StartMonitoring(agentID string, intervalMs, threshold int) {
	if intervalMs <= 0 {
		intervalMs = m.cfg.IntervalMs
	}
	if threshold <= 0 {
		threshold = m.cfg.FailureThreshold
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[agentID] = newAgentRecord(m.cfg.HistorySize, intervalMs, threshold)
}

func (m *Monitor) StopMonitoring(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, agentID)
}

// RecordHeartbeat appends to the agent's ring buffer; contention is confined
// to that agent's record, not the monitor as a whole.
func (m *Monitor) RecordHeartbeat(agentID string, metadata map[string]string) error {
	m.mu.RLock()
	rec, exists := m.agents[agentID]
	m.mu.RUnlock()
	if !exists {
		return swarmerr.ErrUnknownAgent
	}
	rec.record(metadata)
	return nil
}

func (m *Monitor) CheckAgentHealth(agentID string) (types.HealthState, error) {
	m.mu.RLock()
	rec, exists := m.agents[agentID]
	m.mu.RUnlock()
	if !exists {
		return types.HealthFailed, swarmerr.ErrUnknownAgent
	}
	return rec.health(), nil
}

// GetUnhealthyAgents returns IDs whose current health is at least as severe
// as minState.
func (m *Monitor) GetUnhealthyAgents(minState types.HealthState) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, rec := range m.agents {
		if rec.health() >= minState {
			out = append(out, id)
		}
	}
	return out
}

func (m *Monitor) GetHeartbeatHistory(agentID string, since time.Time) ([]types.HeartbeatEntry, error) {
	m.mu.RLock()
	rec, exists := m.agents[agentID]
	m.mu.RUnlock()
	if !exists {
		return nil, swarmerr.ErrUnknownAgent
	}
	return rec.entries(since), nil
}

// ConfigureAlerts installs transition callbacks. Any nil argument leaves the
// corresponding alert unset.
func (m *Monitor) ConfigureAlerts(onDegraded, onCritical, onFailed AlertFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if onDegraded != nil {
		m.onDegraded = onDegraded
	}
	if onCritical != nil {
		m.onCritical = onCritical
	}
	if onFailed != nil {
		m.onFailed = onFailed
	}
}

// Shutdown stops the sweeper and waits for it to exit before returning.
func (m *Monitor) Shutdown() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	<-m.doneCh
}

func (m *Monitor) sweepLoop() {
	defer close(m.doneCh)
	interval := time.Duration(m.cfg.CheckIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

// sweep computes health for every monitored agent and fires at most one
// transition callback/event per agent per change (deduplicated against the
// previously observed state).
func (m *Monitor) sweep() {
	m.mu.RLock()
	snapshot := make(map[string]*agentRecord, len(m.agents))
	for id, rec := range m.agents {
		snapshot[id] = rec
	}
	m.mu.RUnlock()

	for id, rec := range snapshot {
		rec.mu.Lock()
		current := healthFor(time.Since(rec.lastBeat), rec.intervalMs, rec.threshold)
		previous := rec.lastState
		rec.lastState = current
		rec.mu.Unlock()

		if current == previous {
			continue
		}
		m.dispatchTransition(id, previous, current)
	}
}

func (m *Monitor) dispatchTransition(agentID string, from, to types.HealthState) {
	m.mu.RLock()
	onDegraded, onCritical, onFailed := m.onDegraded, m.onCritical, m.onFailed
	m.mu.RUnlock()

	switch to {
	case types.HealthDegraded:
		if onDegraded != nil {
			onDegraded(agentID, from, to)
		}
	case types.HealthCritical:
		if onCritical != nil {
			onCritical(agentID, from, to)
		}
	case types.HealthFailed:
		if onFailed != nil {
			onFailed(agentID, from, to)
		}
	}

	if m.hookSys == nil {
		return
	}
	hctx := &types.HookContext{
		EventType: types.EventHealthChanged,
		SourceID:  agentID,
		StartedAt: time.Now(),
		Payload: map[string]any{
			"agent_id": agentID,
			"from":     from.String(),
			"to":       to.String(),
		},
	}
	if _, err := m.hookSys.Fire(context.Background(), types.EventHealthChanged, hctx); err != nil {
		m.logger.Warn().Str("agent_id", agentID).Err(err).Msg("health_changed hook dispatch failed")
	}
}
