package consensus

import (
	"github.com/superdisco-agents/moai-flow-sub007/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/metrics"
)

// New selects the engine implementation named by cfg.Engine. dataDir and
// persistent are only consumed by the quorum variant.
func New(cfg config.ConsensusConfig, dataDir string, persistent bool, rosterFn RosterFunc, failedFn FailedFunc, collector *metrics.Collector) Engine {
	switch cfg.Engine {
	case config.ConsensusEngineQuorum:
		return NewQuorumEngine(cfg, dataDir, persistent, rosterFn, failedFn, collector)
	default:
		return NewRaftEngine(cfg, rosterFn, failedFn, collector)
	}
}
