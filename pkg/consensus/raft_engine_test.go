package consensus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/metrics"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

func fixedRoster(ids ...string) RosterFunc {
	return func() []string { return ids }
}

func noFailures() map[string]bool { return map[string]bool{} }

func TestElectLeaderPicksLexicographicallySmallest(t *testing.T) {
	e := NewRaftEngine(config.DefaultConsensusConfig(), fixedRoster("c", "a", "b"), func() map[string]bool { return noFailures() }, nil)
	leader, err := e.ElectLeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", leader)
	assert.Equal(t, types.RoleLeader, e.GetState().Role)
}

func TestElectLeaderInsufficientQuorum(t *testing.T) {
	failed := map[string]bool{"a": true, "b": true, "c": true}
	e := NewRaftEngine(config.DefaultConsensusConfig(), fixedRoster("a", "b", "c", "d", "e"), func() map[string]bool { return failed }, nil)
	_, err := e.ElectLeader(context.Background())
	require.Error(t, err)
	var timeoutErr interface{ Error() string }
	require.ErrorAs(t, err, &timeoutErr)
}

func TestProposeCommitsWithExactMinorityFailed(t *testing.T) {
	// N=5, floor((N-1)/2)=2 failed -> 3 alive, majority=3 -> commits.
	failed := map[string]bool{"d": true, "e": true}
	c := metrics.New(syncMetricsConfig(), nil)
	e := NewRaftEngine(config.DefaultConsensusConfig(), fixedRoster("a", "b", "c", "d", "e"), func() map[string]bool { return failed }, c)

	result, err := e.Propose(context.Background(), map[string]any{"op": "noop"}, 1000)
	require.NoError(t, err)
	assert.Equal(t, "approved", result.Decision)
	assert.Equal(t, 3, result.VotesFor)
	assert.Equal(t, 5, result.Participants)
}

func TestProposeTimesOutWithMajorityFailed(t *testing.T) {
	// N=5, ceil(N/2)=3 failed -> 2 alive, majority=3 -> insufficient quorum.
	failed := map[string]bool{"c": true, "d": true, "e": true}
	e := NewRaftEngine(config.DefaultConsensusConfig(), fixedRoster("a", "b", "c", "d", "e"), func() map[string]bool { return failed }, nil)

	result, err := e.Propose(context.Background(), map[string]any{"op": "noop"}, 1000)
	require.Error(t, err)
	assert.Equal(t, "timeout", result.Decision)
}

func TestResetClearsStateAndLog(t *testing.T) {
	e := NewRaftEngine(config.DefaultConsensusConfig(), fixedRoster("a", "b", "c"), func() map[string]bool { return noFailures() }, nil)
	_, err := e.ElectLeader(context.Background())
	require.NoError(t, err)
	_, err = e.Propose(context.Background(), "x", 1000)
	require.NoError(t, err)

	e.Reset()
	state := e.GetState()
	assert.Equal(t, types.RoleFollower, state.Role)
	assert.Equal(t, uint64(0), state.CurrentTerm)
	assert.Empty(t, e.entries)
}

func syncMetricsConfig() config.MetricsConfig {
	cfg := config.DefaultMetricsConfig()
	cfg.AsyncMode = false
	return cfg
}
