package topology

import (
	"sort"
	"sync"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/swarmerr"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

// Star has a single hub with edges to all spokes. The hub is the first
// registered agent unless explicitly set.
type Star struct {
	mu     sync.RWMutex
	hub    string
	spokes map[string]bool // id -> failed
}

func NewStar(hubID string) *Star {
	return &Star{hub: hubID, spokes: make(map[string]bool)}
}

func (s *Star) Kind() types.TopologyKind { return types.TopologyStar }

func (s *Star) AddAgent(id string, _ map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hub == "" {
		s.hub = id
		return nil
	}
	if id == s.hub {
		return &swarmerr.TopologyError{Kind: string(types.TopologyStar), Reason: "hub already registered: " + id}
	}
	if _, exists := s.spokes[id]; exists {
		return &swarmerr.TopologyError{Kind: string(types.TopologyStar), Reason: "agent already present: " + id}
	}
	s.spokes[id] = false
	return nil
}

// SetHub replaces the hub explicitly, demoting the previous hub to a spoke.
func (s *Star) SetHub(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.hub {
		return nil
	}
	if _, exists := s.spokes[id]; !exists {
		return &swarmerr.TopologyError{Kind: string(types.TopologyStar), Reason: "cannot promote unknown agent to hub: " + id}
	}
	oldHub := s.hub
	delete(s.spokes, id)
	s.hub = id
	if oldHub != "" {
		s.spokes[oldHub] = false
	}
	return nil
}

func (s *Star) RemoveAgent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.hub {
		// Promote the lowest-ID spoke to hub to keep the star connected.
		var candidates []string
		for spoke := range s.spokes {
			candidates = append(candidates, spoke)
		}
		sort.Strings(candidates)
		s.hub = ""
		if len(candidates) > 0 {
			s.hub = candidates[0]
			delete(s.spokes, candidates[0])
		}
		return nil
	}
	if _, exists := s.spokes[id]; !exists {
		return &swarmerr.TopologyError{Kind: string(types.TopologyStar), Reason: "unknown agent: " + id}
	}
	delete(s.spokes, id)
	return nil
}

func (s *Star) NeighborsOf(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id == s.hub {
		var out []string
		for spoke, failed := range s.spokes {
			if !failed {
				out = append(out, spoke)
			}
		}
		sort.Strings(out)
		return out
	}
	if _, exists := s.spokes[id]; exists && s.hub != "" {
		return []string{s.hub}
	}
	return nil
}

func (s *Star) BroadcastTargets(fromID string, failed map[string]bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	if fromID == s.hub {
		for spoke := range s.spokes {
			if !failed[spoke] {
				out = append(out, spoke)
			}
		}
	} else if s.hub != "" && !failed[s.hub] {
		out = append(out, s.hub)
	}
	sort.Strings(out)
	return out
}

func (s *Star) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.hub == "" {
		return 0
	}
	return len(s.spokes)
}

func (s *Star) AgentExtras(string) (int, string, int) { return 0, "", 0 }

func (s *Star) MarkFailed(id string, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.spokes[id]; exists {
		s.spokes[id] = failed
	}
}

func (s *Star) HubID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hub
}

func (s *Star) AgentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.spokes)+1)
	if s.hub != "" {
		out = append(out, s.hub)
	}
	for id := range s.spokes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
