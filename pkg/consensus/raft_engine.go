package consensus

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/log"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/metrics"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/swarmerr"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

// RaftEngine is a hand-rolled Raft-variant state machine. It simulates
// consensus over the swarm's own logical agents in-process: one canonical
// log, one current leader, majority vote tallies computed directly from the
// live roster rather than real network round trips. Byzantine faults are
// out of scope; it tolerates up to floor((N-1)/2) FAILED agents.
type RaftEngine struct {
	mu sync.Mutex

	cfg      config.ConsensusConfig
	rosterFn RosterFunc
	failedFn FailedFunc
	metrics  *metrics.Collector
	logger   zerolog.Logger
	rng      *rand.Rand

	state types.RaftNodeState
	entries []types.ConsensusLogEntry
}

// NewRaftEngine constructs the hand-rolled engine. rosterFn/failedFn let it
// read the Swarm Coordinator's live agent registry and heartbeat state
// without owning either.
func NewRaftEngine(cfg config.ConsensusConfig, rosterFn RosterFunc, failedFn FailedFunc, collector *metrics.Collector) *RaftEngine {
	return &RaftEngine{
		cfg:      cfg,
		rosterFn: rosterFn,
		failedFn: failedFn,
		metrics:  collector,
		logger:   log.WithComponent("consensus"),
		rng:      rand.New(rand.NewSource(1)),
		state:    types.RaftNodeState{Role: types.RoleFollower},
	}
}

func (e *RaftEngine) aliveAndTotal() (alive []string, total int) {
	return rosterSnapshot(e.rosterFn, e.failedFn)
}

// ElectLeader picks the lexicographically smallest live agent as leader —
// our deterministic realization of the spec's split-vote tie-break rule,
// since this engine has no independent per-agent candidates to disagree.
func (e *RaftEngine) ElectLeader(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	alive, total := e.aliveAndTotal()
	if len(alive) < majorityOf(total) {
		return "", &swarmerr.ConsensusTimeoutError{Reason: "insufficient_quorum"}
	}

	// Randomized in [timeout, 2*timeout) per the election-timeout rule; this
	// engine elects synchronously, so the jitter only informs the term's
	// recorded election_timeout_ms rather than an actual sleep.
	jitterMs := e.cfg.ElectionTimeoutMs + e.rng.Intn(e.cfg.ElectionTimeoutMs)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.CurrentTerm++
	leader := alive[0]
	e.state.Role = types.RoleLeader
	e.state.VotedFor = leader
	e.logger.Debug().Str("leader", leader).Uint64("term", e.state.CurrentTerm).Int("election_timeout_ms", jitterMs).Msg("leader elected")
	return leader, nil
}

// Propose appends payload to the log and reports commit only once a
// majority of live agents remain reachable. There is no model of a live
// agent voting against a proposal (Byzantine faults are out of scope), so
// every live agent counts as an affirmative vote and the only rejection
// path is insufficient quorum.
func (e *RaftEngine) Propose(ctx context.Context, payload any, timeoutMs int) (types.ProposalResult, error) {
	start := time.Now()
	if timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	alive, total := e.aliveAndTotal()
	majority := majorityOf(total)

	result := types.ProposalResult{
		VotesFor:     len(alive),
		VotesAgainst: 0,
		Abstain:      total - len(alive),
		Threshold:    e.cfg.Threshold,
		Participants: total,
		Metadata:     map[string]any{},
	}

	if len(alive) < majority {
		result.Decision = "timeout"
		result.Metadata["reason"] = "insufficient_quorum"
		e.recordOutcome(false, time.Since(start))
		return result, &swarmerr.ConsensusTimeoutError{Reason: "insufficient_quorum"}
	}

	select {
	case <-ctx.Done():
		result.Decision = "timeout"
		e.recordOutcome(false, time.Since(start))
		return result, ctx.Err()
	default:
	}

	e.mu.Lock()
	if e.state.CurrentTerm == 0 {
		e.state.CurrentTerm = 1
	}
	entry := types.ConsensusLogEntry{
		Term:      e.state.CurrentTerm,
		Index:     uint64(len(e.entries)) + 1,
		Payload:   payload,
		Committed: true,
	}
	e.entries = append(e.entries, entry)
	e.state.CommitIndex = entry.Index
	e.state.LastApplied = entry.Index
	e.mu.Unlock()

	result.Decision = "approved"
	result.Metadata["term"] = entry.Term
	result.Metadata["index"] = entry.Index
	e.recordOutcome(true, time.Since(start))
	return result, nil
}

func (e *RaftEngine) recordOutcome(approved bool, elapsed time.Duration) {
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

func (e *RaftEngine) GetState() types.RaftNodeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *RaftEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = types.RaftNodeState{Role: types.RoleFollower}
	e.entries = nil
}
