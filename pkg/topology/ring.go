package topology

import (
	"sync"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/swarmerr"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

// Ring forms a Hamiltonian cycle in registration order; removal splices the
// gap so the cycle stays closed.
type Ring struct {
	mu     sync.RWMutex
	order  []string // registration order, i.e. ring order
	failed map[string]bool
}

func NewRing() *Ring {
	return &Ring{failed: make(map[string]bool)}
}

func (r *Ring) Kind() types.TopologyKind { return types.TopologyRing }

func (r *Ring) indexOf(id string) int {
	for i, a := range r.order {
		if a == id {
			return i
		}
	}
	return -1
}

func (r *Ring) AddAgent(id string, _ map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexOf(id) >= 0 {
		return &swarmerr.TopologyError{Kind: string(types.TopologyRing), Reason: "agent already present: " + id}
	}
	r.order = append(r.order, id)
	r.failed[id] = false
	return nil
}

func (r *Ring) RemoveAgent(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexOf(id)
	if idx < 0 {
		return &swarmerr.TopologyError{Kind: string(types.TopologyRing), Reason: "unknown agent: " + id}
	}
	r.order = append(r.order[:idx], r.order[idx+1:]...)
	delete(r.failed, id)
	return nil
}

func (r *Ring) NeighborsOf(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.order)
	idx := r.indexOf(id)
	if idx < 0 || n < 2 {
		return nil
	}
	if n == 2 {
		other := r.order[(idx+1)%n]
		if r.failed[other] {
			return nil
		}
		return []string{other}
	}
	prev := r.order[(idx-1+n)%n]
	next := r.order[(idx+1)%n]
	var out []string
	if !r.failed[prev] {
		out = append(out, prev)
	}
	if !r.failed[next] && next != prev {
		out = append(out, next)
	}
	return out
}

func (r *Ring) BroadcastTargets(fromID string, failed map[string]bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, id := range r.order {
		if id == fromID || failed[id] {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (r *Ring) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.order)
	if n < 2 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return n
}

func (r *Ring) AgentExtras(id string) (int, string, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return 0, "", r.indexOf(id)
}

func (r *Ring) MarkFailed(id string, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.failed[id]; exists {
		r.failed[id] = failed
	}
}

func (r *Ring) AgentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
