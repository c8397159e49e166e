package topology

import (
	"sort"
	"sync"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/swarmerr"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

// Mesh connects every pair of non-failed agents; degree = n-1.
type Mesh struct {
	mu     sync.RWMutex
	agents map[string]bool // id -> failed
}

func NewMesh() *Mesh {
	return &Mesh{agents: make(map[string]bool)}
}

func (m *Mesh) Kind() types.TopologyKind { return types.TopologyMesh }

func (m *Mesh) AddAgent(id string, _ map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.agents[id]; exists {
		return &swarmerr.TopologyError{Kind: string(types.TopologyMesh), Reason: "agent already present: " + id}
	}
	m.agents[id] = false
	return nil
}

func (m *Mesh) RemoveAgent(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.agents[id]; !exists {
		return &swarmerr.TopologyError{Kind: string(types.TopologyMesh), Reason: "unknown agent: " + id}
	}
	delete(m.agents, id)
	return nil
}

func (m *Mesh) NeighborsOf(id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, exists := m.agents[id]; !exists {
		return nil
	}
	var out []string
	for other, failed := range m.agents {
		if other != id && !failed {
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Mesh) BroadcastTargets(fromID string, failed map[string]bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id := range m.agents {
		if id == fromID {
			continue
		}
		if failed[id] {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Mesh) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.agents)
	if n < 2 {
		return 0
	}
	return n * (n - 1) / 2
}

func (m *Mesh) AgentExtras(string) (int, string, int) { return 0, "", 0 }

// MarkFailed records an agent as failed so it is excluded from broadcasts and
// neighbor queries without removing it from the roster.
func (m *Mesh) MarkFailed(id string, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.agents[id]; exists {
		m.agents[id] = failed
	}
}

// AgentIDs returns the current roster, sorted.
func (m *Mesh) AgentIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.agents))
	for id := range m.agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
