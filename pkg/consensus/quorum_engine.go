package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/log"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/metrics"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/swarmerr"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

// QuorumEngine backs propose/elect_leader with one hashicorp/raft FSM per
// live, registered agent, wired together over in-memory transports within
// this single process — a domain-stack addition for swarms that opt into
// consensus.engine = "quorum" for non-critical decisions (SPEC_FULL.md
// 4.F). It satisfies the same Engine contract as RaftEngine but defers
// term/vote bookkeeping to the library.
type QuorumEngine struct {
	mu sync.Mutex

	cfg        config.ConsensusConfig
	dataDir    string
	persistent bool
	rosterFn   RosterFunc
	failedFn   FailedFunc
	metrics    *metrics.Collector
	logger     zerolog.Logger

	nodes        map[string]*raft.Raft
	transports   map[string]*raft.InmemTransport
	bootstrapped bool
}

// NewQuorumEngine constructs the engine. When persistent is true, each
// agent's Raft log/stable store lives under dataDir/raft/<agent-id>/ via
// raft-boltdb; otherwise an in-memory store is used.
func NewQuorumEngine(cfg config.ConsensusConfig, dataDir string, persistent bool, rosterFn RosterFunc, failedFn FailedFunc, collector *metrics.Collector) *QuorumEngine {
	return &QuorumEngine{
		cfg:        cfg,
		dataDir:    dataDir,
		persistent: persistent,
		rosterFn:   rosterFn,
		failedFn:   failedFn,
		metrics:    collector,
		logger:     log.WithComponent("consensus-quorum"),
		nodes:      make(map[string]*raft.Raft),
		transports: make(map[string]*raft.InmemTransport),
	}
}

// bootstrap wires one raft.Raft per currently-live agent over a fully
// connected in-memory transport mesh, then bootstraps the cluster
// configuration from the lexicographically first member.
func (e *QuorumEngine) bootstrap() error {
	alive, _ := rosterSnapshot(e.rosterFn, e.failedFn)
	if len(alive) == 0 {
		return fmt.Errorf("consensus: no live agents to bootstrap quorum engine")
	}

	addrs := make(map[string]raft.ServerAddress, len(alive))
	transports := make(map[string]*raft.InmemTransport, len(alive))
	for _, id := range alive {
		addr, transport := raft.NewInmemTransport(raft.ServerAddress(id))
		addrs[id] = addr
		transports[id] = transport
	}
	for id, t := range transports {
		for otherID, otherTransport := range transports {
			if id == otherID {
				continue
			}
			t.Connect(addrs[otherID], otherTransport)
		}
	}

	servers := make([]raft.Server, 0, len(alive))
	for _, id := range alive {
		servers = append(servers, raft.Server{ID: raft.ServerID(id), Address: addrs[id]})
	}

	nodes := make(map[string]*raft.Raft, len(alive))
	for _, id := range alive {
		raftCfg := raft.DefaultConfig()
		raftCfg.LocalID = raft.ServerID(id)

		// Tuned for in-process logical agents, not a WAN cluster: the
		// election/heartbeat cadence mirrors the configured consensus
		// timeouts rather than hashicorp/raft's conservative defaults.
		raftCfg.HeartbeatTimeout = time.Duration(e.cfg.HeartbeatIntervalMs) * time.Millisecond
		raftCfg.ElectionTimeout = time.Duration(e.cfg.ElectionTimeoutMs) * time.Millisecond
		raftCfg.LeaderLeaseTimeout = raftCfg.HeartbeatTimeout
		raftCfg.CommitTimeout = 10 * time.Millisecond

		logStore, stableStore, err := e.openStores(id)
		if err != nil {
			return fmt.Errorf("consensus: open stores for %s: %w", id, err)
		}
		snapshotStore := raft.NewInmemSnapshotStore()

		r, err := raft.NewRaft(raftCfg, newQuorumFSM(), logStore, stableStore, snapshotStore, transports[id])
		if err != nil {
			return fmt.Errorf("consensus: create raft node %s: %w", id, err)
		}
		nodes[id] = r
	}

	future := nodes[alive[0]].BootstrapCluster(raft.Configuration{Servers: servers})
	if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
		return fmt.Errorf("consensus: bootstrap quorum cluster: %w", err)
	}

	e.nodes = nodes
	e.transports = transports
	e.bootstrapped = true
	return nil
}

func (e *QuorumEngine) openStores(agentID string) (raft.LogStore, raft.StableStore, error) {
	if !e.persistent {
		store := raft.NewInmemStore()
		return store, store, nil
	}
	dir := filepath.Join(e.dataDir, "raft", agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(dir, "raft-log.db"))
	if err != nil {
		return nil, nil, err
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(dir, "raft-stable.db"))
	if err != nil {
		return nil, nil, err
	}
	return logStore, stableStore, nil
}

func (e *QuorumEngine) ensureBootstrapped() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bootstrapped {
		return nil
	}
	return e.bootstrap()
}

// ElectLeader polls the live node set until one reports raft.Leader or the
// 2x election-timeout deadline passes.
func (e *QuorumEngine) ElectLeader(ctx context.Context) (string, error) {
	if err := e.ensureBootstrapped(); err != nil {
		return "", err
	}

	alive, total := rosterSnapshot(e.rosterFn, e.failedFn)
	if len(alive) < majorityOf(total) {
		return "", &swarmerr.ConsensusTimeoutError{Reason: "insufficient_quorum"}
	}

	deadline := time.Now().Add(2 * time.Duration(e.cfg.ElectionTimeoutMs) * time.Millisecond)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		e.mu.Lock()
		for id, r := range e.nodes {
			if r.State() == raft.Leader {
				e.mu.Unlock()
				return id, nil
			}
		}
		e.mu.Unlock()

		if time.Now().After(deadline) {
			return "", &swarmerr.ConsensusTimeoutError{Reason: "election_timeout"}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// Propose forwards payload to whichever node is currently leader.
func (e *QuorumEngine) Propose(ctx context.Context, payload any, timeoutMs int) (types.ProposalResult, error) {
	start := time.Now()

	leaderID, err := e.ElectLeader(ctx)
	alive, total := rosterSnapshot(e.rosterFn, e.failedFn)
	result := types.ProposalResult{
		VotesFor:     len(alive),
		VotesAgainst: 0,
		Abstain:      total - len(alive),
		Threshold:    e.cfg.Threshold,
		Participants: total,
		Metadata:     map[string]any{"engine": "quorum"},
	}
	if err != nil {
		result.Decision = "timeout"
		e.recordOutcome(false, time.Since(start))
		return result, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		result.Decision = "timeout"
		e.recordOutcome(false, time.Since(start))
		return result, fmt.Errorf("consensus: marshal proposal payload: %w", err)
	}
	cmd, err := json.Marshal(proposalCommand{Payload: data})
	if err != nil {
		result.Decision = "timeout"
		e.recordOutcome(false, time.Since(start))
		return result, fmt.Errorf("consensus: marshal proposal command: %w", err)
	}

	timeout := time.Duration(timeoutMs) * time.Millisecond
	if timeoutMs <= 0 {
		timeout = 5 * time.Second
	}

	e.mu.Lock()
	leader := e.nodes[leaderID]
	e.mu.Unlock()

	future := leader.Apply(cmd, timeout)
	if err := future.Error(); err != nil {
		result.Decision = "timeout"
		result.Metadata["reason"] = err.Error()
		e.recordOutcome(false, time.Since(start))
		return result, &swarmerr.ConsensusTimeoutError{Reason: err.Error()}
	}

	result.Decision = "approved"
	result.Metadata["leader"] = leaderID
	e.recordOutcome(true, time.Since(start))
	return result, nil
}

func (e *QuorumEngine) recordOutcome(approved bool, elapsed time.Duration) {
	outcome := 0.0
	label := "rejected"
	if approved {
		outcome = 1.0
		label = "approved"
	}
	metrics.ConsensusRoundTripDuration.Observe(elapsed.Seconds())
	metrics.ConsensusOutcomesTotal.WithLabelValues(label).Inc()
	if e.metrics == nil {
		return
	}
	e.metrics.RecordAgentMetric(types.SwarmIDConsensus, "consensus.outcome", outcome)
	e.metrics.RecordAgentMetric(types.SwarmIDConsensus, "consensus.round_trip_ms", float64(elapsed.Milliseconds()))
}

// GetState reports the current leader node's view, or an empty FOLLOWER
// state if no leader has emerged yet.
func (e *QuorumEngine) GetState() types.RaftNodeState {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, r := range e.nodes {
		if r.State() != raft.Leader {
			continue
		}
		stats := r.Stats()
		term, _ := strconv.ParseUint(stats["term"], 10, 64)
		return types.RaftNodeState{
			CurrentTerm: term,
			VotedFor:    id,
			Role:        types.RoleLeader,
			CommitIndex: r.AppliedIndex(),
			LastApplied: r.AppliedIndex(),
		}
	}
	return types.RaftNodeState{Role: types.RoleFollower}
}

// Reset shuts down every node so the next ElectLeader/Propose call
// re-bootstraps fresh in-memory (or on-disk, if persistent) Raft state.
func (e *QuorumEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, r := range e.nodes {
		if err := r.Shutdown().Error(); err != nil {
			e.logger.Warn().Str("agent", id).Err(err).Msg("quorum node shutdown error")
		}
	}
	e.nodes = make(map[string]*raft.Raft)
	e.transports = make(map[string]*raft.InmemTransport)
	e.bootstrapped = false
}
