// Package topology implements the five connectivity patterns agents can be
// arranged in, behind a common capability interface, plus the Adaptive
// variant that switches between them on a load/size policy.
package topology

import (
	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

// Topology is the capability interface every variant implements, per
// SPEC_FULL.md 9's "closed tagged variant with exhaustive matching plus a
// capability interface" guidance.
type Topology interface {
	Kind() types.TopologyKind
	AddAgent(id string, metadata map[string]string) error
	RemoveAgent(id string) error
	NeighborsOf(id string) []string
	BroadcastTargets(fromID string, failed map[string]bool) []string
	ConnectionCount() int
	AgentExtras(id string) (layer int, parent string, ringPos int)
}

// New constructs the topology variant named by kind. Adaptive wraps an
// inner mesh topology by default; callers that need a specific starting
// inner kind should build it and call SetInner.
func New(kind types.TopologyKind, hubID string, rootID string) (Topology, error) {
	switch kind {
	case types.TopologyMesh:
		return NewMesh(), nil
	case types.TopologyStar:
		return NewStar(hubID), nil
	case types.TopologyRing:
		return NewRing(), nil
	case types.TopologyHierarchical:
		return NewHierarchical(rootID), nil
	case types.TopologyAdaptive:
		return NewAdaptive(NewMesh()), nil
	default:
		return nil, &unknownKindError{kind: string(kind)}
	}
}

type unknownKindError struct{ kind string }

func (e *unknownKindError) Error() string { return "topology: unknown kind: " + e.kind }
