package topology

import (
	"sort"
	"sync"
	"time"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

type failMarker interface {
	MarkFailed(id string, failed bool)
}

type edgeObservation struct {
	from string
	to   string
	at   time.Time
}

// Adaptive wraps one inner topology and periodically decides, from observed
// message traffic and swarm size, whether a different variant would serve
// better (SPEC_FULL.md 4.C).
type Adaptive struct {
	mu sync.Mutex

	inner Topology
	cfg   config.TopologyConfig

	order    []string
	failed   map[string]bool
	metadata map[string]map[string]string

	edges []edgeObservation

	lastSwitchFrom types.TopologyKind
	lastSwitchTo   types.TopologyKind
	switchPending  bool
}

// NewAdaptive wraps the given inner topology using default switching
// thresholds. Use NewAdaptiveWithConfig to override them.
func NewAdaptive(inner Topology) *Adaptive {
	return NewAdaptiveWithConfig(inner, config.DefaultTopologyConfig())
}

func NewAdaptiveWithConfig(inner Topology, cfg config.TopologyConfig) *Adaptive {
	return &Adaptive{
		inner:    inner,
		cfg:      cfg,
		failed:   make(map[string]bool),
		metadata: make(map[string]map[string]string),
	}
}

func (a *Adaptive) Kind() types.TopologyKind { return types.TopologyAdaptive }

// InnerKind reports the variant currently governing connectivity.
func (a *Adaptive) InnerKind() types.TopologyKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inner.Kind()
}

func (a *Adaptive) AddAgent(id string, metadata map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.inner.AddAgent(id, metadata); err != nil {
		return err
	}
	a.order = append(a.order, id)
	a.failed[id] = false
	a.metadata[id] = metadata
	return nil
}

func (a *Adaptive) RemoveAgent(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.inner.RemoveAgent(id); err != nil {
		return err
	}
	for i, existing := range a.order {
		if existing == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	delete(a.failed, id)
	delete(a.metadata, id)
	return nil
}

func (a *Adaptive) NeighborsOf(id string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inner.NeighborsOf(id)
}

func (a *Adaptive) BroadcastTargets(fromID string, failed map[string]bool) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inner.BroadcastTargets(fromID, failed)
}

func (a *Adaptive) ConnectionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inner.ConnectionCount()
}

func (a *Adaptive) AgentExtras(id string) (int, string, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inner.AgentExtras(id)
}

// MarkFailed flags an agent as failed or recovered, both in the adaptive
// roster (used for failed-ratio evaluation) and in the inner topology.
func (a *Adaptive) MarkFailed(id string, failed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.failed[id]; exists {
		a.failed[id] = failed
	}
	if fm, ok := a.inner.(failMarker); ok {
		fm.MarkFailed(id, failed)
	}
}

// RecordMessage feeds one observed (from, to) hop into the sliding window
// used by the hub-traffic and pipeline-detection rules.
func (a *Adaptive) RecordMessage(from, to string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edges = append(a.edges, edgeObservation{from: from, to: to, at: at})
	a.pruneWindow(at)
}

func (a *Adaptive) pruneWindow(now time.Time) {
	cutoff := now.Add(-a.cfg.EvaluationWindow)
	i := 0
	for ; i < len(a.edges); i++ {
		if a.edges[i].at.After(cutoff) {
			break
		}
	}
	a.edges = a.edges[i:]
}

// Evaluate applies the tie-broken switching policy and performs the switch
// in place if warranted. Returns true if a switch occurred; callers should
// then call ConsumeSwitch to retrieve the (from, to) pair and fire a
// topology_changed event.
func (a *Adaptive) Evaluate(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pruneWindow(now)

	n := len(a.order)
	if n == 0 {
		return false
	}

	failedCount := 0
	for _, f := range a.failed {
		if f {
			failedCount++
		}
	}
	failedRatio := float64(failedCount) / float64(n)

	target := a.decideTarget(n, failedRatio)
	current := a.inner.Kind()
	if target == current {
		return false
	}

	a.switchTo(target)
	a.lastSwitchFrom = current
	a.lastSwitchTo = target
	a.switchPending = true
	return true
}

// decideTarget implements the tie-broken policy, evaluated top-down.
func (a *Adaptive) decideTarget(n int, failedRatio float64) types.TopologyKind {
	if failedRatio > a.cfg.FailedRatioThreshold {
		return types.TopologyHierarchical
	}
	if n > a.cfg.LargeSwarmSize {
		return types.TopologyHierarchical
	}
	if a.hubTrafficRatio() >= a.cfg.HubTrafficRatio {
		return types.TopologyStar
	}
	if a.pipelineRatio() >= a.cfg.PipelineRatio {
		return types.TopologyRing
	}
	return types.TopologyMesh
}

// hubTrafficRatio is the share of windowed messages addressed to the single
// most-targeted agent.
func (a *Adaptive) hubTrafficRatio() float64 {
	if len(a.edges) == 0 {
		return 0
	}
	counts := make(map[string]int)
	for _, e := range a.edges {
		counts[e.to]++
	}
	best := 0
	for _, c := range counts {
		if c > best {
			best = c
		}
	}
	return float64(best) / float64(len(a.edges))
}

// pipelineRatio reconstructs the dominant chain — the longest simple path
// obtained by always following, from each agent, its single most-frequent
// successor edge (ties broken lexicographically) — and returns the fraction
// of windowed messages whose (from,to) pair is a consecutive hop on it.
func (a *Adaptive) pipelineRatio() float64 {
	if len(a.edges) == 0 {
		return 0
	}

	successorCounts := make(map[string]map[string]int)
	for _, e := range a.edges {
		if successorCounts[e.from] == nil {
			successorCounts[e.from] = make(map[string]int)
		}
		successorCounts[e.from][e.to]++
	}

	dominantSuccessor := make(map[string]string, len(successorCounts))
	for from, succs := range successorCounts {
		var bestTo string
		bestCount := -1
		var candidates []string
		for to := range succs {
			candidates = append(candidates, to)
		}
		sort.Strings(candidates)
		for _, to := range candidates {
			if succs[to] > bestCount {
				bestCount = succs[to]
				bestTo = to
			}
		}
		dominantSuccessor[from] = bestTo
	}

	var startCandidates []string
	for from := range dominantSuccessor {
		startCandidates = append(startCandidates, from)
	}
	sort.Strings(startCandidates)

	var bestPath []string
	for _, start := range startCandidates {
		path := []string{start}
		visited := map[string]bool{start: true}
		cur := start
		for {
			next, ok := dominantSuccessor[cur]
			if !ok || next == "" || visited[next] {
				break
			}
			path = append(path, next)
			visited[next] = true
			cur = next
		}
		if len(path) > len(bestPath) {
			bestPath = path
		}
	}

	chainHops := make(map[[2]string]bool, len(bestPath))
	for i := 0; i+1 < len(bestPath); i++ {
		chainHops[[2]string{bestPath[i], bestPath[i+1]}] = true
	}

	matching := 0
	for _, e := range a.edges {
		if chainHops[[2]string{e.from, e.to}] {
			matching++
		}
	}
	return float64(matching) / float64(len(a.edges))
}

// switchTo rebuilds the inner topology as target, preserving agent IDs and
// failed/active state; only edges change.
func (a *Adaptive) switchTo(target types.TopologyKind) {
	roster := make([]string, len(a.order))
	copy(roster, a.order)

	var next Topology
	switch target {
	case types.TopologyMesh:
		next = NewMesh()
		for _, id := range roster {
			_ = next.AddAgent(id, a.metadata[id])
		}
	case types.TopologyStar:
		star := NewStar("")
		for _, id := range roster {
			_ = star.AddAgent(id, a.metadata[id])
		}
		next = star
	case types.TopologyRing:
		ring := NewRing()
		for _, id := range roster {
			_ = ring.AddAgent(id, a.metadata[id])
		}
		next = ring
	case types.TopologyHierarchical:
		next = a.buildHierarchy(roster)
	default:
		return
	}

	if fm, ok := next.(failMarker); ok {
		for id, failed := range a.failed {
			if failed {
				fm.MarkFailed(id, true)
			}
		}
	}

	a.inner = next
}

// buildHierarchy assigns parents via a balanced binary-heap layout over the
// registration order, since Adaptive has no explicit parent_id source.
func (a *Adaptive) buildHierarchy(roster []string) Topology {
	if len(roster) == 0 {
		return NewHierarchical("")
	}
	h := NewHierarchical(roster[0])
	for i := 1; i < len(roster); i++ {
		parentIdx := (i - 1) / 2
		md := map[string]string{"parent_id": roster[parentIdx]}
		_ = h.AddAgent(roster[i], md)
	}
	return h
}

// ConsumeSwitch reports and clears the most recent switch detected by
// Evaluate, for the caller to turn into a topology_changed event.
func (a *Adaptive) ConsumeSwitch() (from, to types.TopologyKind, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.switchPending {
		return "", "", false
	}
	a.switchPending = false
	return a.lastSwitchFrom, a.lastSwitchTo, true
}
