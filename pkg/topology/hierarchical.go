package topology

import (
	"sort"
	"sync"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/swarmerr"
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

type hnode struct {
	parent   string
	layer    int
	children map[string]bool
	failed   bool
}

// Hierarchical is a tree rooted at a designated agent; every non-root agent
// has exactly one parent, and layer equals distance from root. Removing a
// node reparents its children to its grandparent.
type Hierarchical struct {
	mu    sync.RWMutex
	root  string
	nodes map[string]*hnode
}

func NewHierarchical(rootID string) *Hierarchical {
	h := &Hierarchical{root: rootID, nodes: make(map[string]*hnode)}
	if rootID != "" {
		h.nodes[rootID] = &hnode{layer: 0, children: make(map[string]bool)}
	}
	return h
}

func (h *Hierarchical) Kind() types.TopologyKind { return types.TopologyHierarchical }

// AddAgent requires parentID via metadata["parent_id"] for every non-root
// agent; the root is the first agent added when no root was configured.
func (h *Hierarchical) AddAgent(id string, metadata map[string]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.nodes[id]; exists {
		return &swarmerr.TopologyError{Kind: string(types.TopologyHierarchical), Reason: "agent already present: " + id}
	}

	if h.root == "" {
		h.root = id
		h.nodes[id] = &hnode{layer: 0, children: make(map[string]bool)}
		return nil
	}

	parentID := metadata["parent_id"]
	if parentID == "" {
		return &swarmerr.TopologyError{Kind: string(types.TopologyHierarchical), Reason: "parent_id required for non-root agent: " + id}
	}
	parent, exists := h.nodes[parentID]
	if !exists {
		return &swarmerr.TopologyError{Kind: string(types.TopologyHierarchical), Reason: "unknown parent_id: " + parentID}
	}

	h.nodes[id] = &hnode{parent: parentID, layer: parent.layer + 1, children: make(map[string]bool)}
	parent.children[id] = true
	return nil
}

// RemoveAgent reparents the removed node's children to its grandparent,
// keeping the tree acyclic and every non-root node single-parented.
func (h *Hierarchical) RemoveAgent(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	node, exists := h.nodes[id]
	if !exists {
		return &swarmerr.TopologyError{Kind: string(types.TopologyHierarchical), Reason: "unknown agent: " + id}
	}

	if id == h.root {
		if len(node.children) > 0 {
			return &swarmerr.TopologyError{Kind: string(types.TopologyHierarchical), Reason: "cannot remove root with children: " + id}
		}
		delete(h.nodes, id)
		h.root = ""
		return nil
	}

	grandparentID := node.parent
	if parent, ok := h.nodes[grandparentID]; ok {
		delete(parent.children, id)
	}

	var childIDs []string
	for childID := range node.children {
		childIDs = append(childIDs, childID)
	}
	sort.Strings(childIDs)

	for _, childID := range childIDs {
		child := h.nodes[childID]
		child.parent = grandparentID
		if grandparentID != "" {
			h.recomputeLayer(childID)
			h.nodes[grandparentID].children[childID] = true
		}
	}

	delete(h.nodes, id)
	return nil
}

func (h *Hierarchical) recomputeLayer(id string) {
	node := h.nodes[id]
	if node.parent == "" {
		node.layer = 0
		return
	}
	parent := h.nodes[node.parent]
	node.layer = parent.layer + 1
	for childID := range node.children {
		h.recomputeLayer(childID)
	}
}

func (h *Hierarchical) NeighborsOf(id string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	node, exists := h.nodes[id]
	if !exists {
		return nil
	}
	var out []string
	if node.parent != "" && !h.nodes[node.parent].failed {
		out = append(out, node.parent)
	}
	for childID := range node.children {
		if !h.nodes[childID].failed {
			out = append(out, childID)
		}
	}
	sort.Strings(out)
	return out
}

// BroadcastTargets walks the tree from fromID downward, matching the
// "delivery walks the tree" contract: every descendant of fromID, skipping
// failed subtrees' roots but still delivering to their live descendants.
// An unknown fromID yields no targets.
func (h *Hierarchical) BroadcastTargets(fromID string, failed map[string]bool) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, exists := h.nodes[fromID]; !exists {
		return nil
	}
	var out []string
	var walk func(id string)
	walk = func(id string) {
		node := h.nodes[id]
		var childIDs []string
		for childID := range node.children {
			childIDs = append(childIDs, childID)
		}
		sort.Strings(childIDs)
		for _, childID := range childIDs {
			if !failed[childID] {
				out = append(out, childID)
			}
			walk(childID)
		}
	}
	walk(fromID)
	return out
}

func (h *Hierarchical) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for id, node := range h.nodes {
		if id != h.root && node.parent != "" {
			n++
		}
	}
	return n
}

func (h *Hierarchical) AgentExtras(id string) (int, string, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	node, exists := h.nodes[id]
	if !exists {
		return 0, "", 0
	}
	return node.layer, node.parent, 0
}

func (h *Hierarchical) MarkFailed(id string, failed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if node, exists := h.nodes[id]; exists {
		node.failed = failed
	}
}

func (h *Hierarchical) RootID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.root
}

func (h *Hierarchical) AgentIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.nodes))
	for id := range h.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
