// Package consensus implements the pluggable consensus layer: a hand-rolled
// Raft-variant state machine plus an interchangeable hashicorp/raft-backed
// quorum engine, both behind one Engine interface (SPEC_FULL.md 4.F).
package consensus

import (
	"context"
	"sort"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

// RosterFunc returns every currently registered agent ID (healthy or not).
type RosterFunc func() []string

// FailedFunc returns the set of agent IDs currently in the FAILED health
// state, used to determine whether a quorum of live agents still exists.
type FailedFunc func() map[string]bool

// Engine is the contract both consensus implementations satisfy so the
// Swarm Coordinator can swap between them without callers noticing.
type Engine interface {
	// ElectLeader blocks until a leader emerges or returns a
	// ConsensusTimeoutError once no quorum of live agents remains.
	ElectLeader(ctx context.Context) (leaderID string, err error)

	// Propose replicates payload to a majority of live agents and reports
	// the outcome. timeoutMs bounds how long the caller is willing to wait.
	Propose(ctx context.Context, payload any, timeoutMs int) (types.ProposalResult, error)

	// GetState snapshots this engine's view of the consensus state machine.
	GetState() types.RaftNodeState

	// Reset clears term/log/role state back to FOLLOWER with an empty log.
	Reset()
}

// rosterSnapshot reads the live agent registry once, splitting it into
// alive (sorted, for deterministic tie-breaking) and the total registered
// count — both engines derive their majority check from this.
func rosterSnapshot(rosterFn RosterFunc, failedFn FailedFunc) (alive []string, total int) {
	roster := rosterFn()
	failed := failedFn()
	total = len(roster)
	for _, id := range roster {
		if !failed[id] {
			alive = append(alive, id)
		}
	}
	sort.Strings(alive)
	return alive, total
}

func majorityOf(total int) int {
	return total/2 + 1
}
