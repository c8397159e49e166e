package storage

import (
	"time"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
)

// AgentEvent is one row of the agent_events table.
type AgentEvent struct {
	ID        string
	EventType string
	AgentID   string
	AgentType string
	Timestamp time.Time
	Metadata  map[string]string
}

// EventFilter narrows GetEvents to a subset of agent_events rows.
type EventFilter struct {
	EventType string
	AgentID   string
	Since     time.Time
	Until     time.Time
}

// AgentRegistryEntry is one row of the agent_registry table: a durable
// lifecycle record distinct from the in-memory Agent the coordinator holds.
type AgentRegistryEntry struct {
	AgentID    string
	AgentType  string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	DurationMs float64
	Metadata   map[string]string
}

// SemanticKnowledge is one row of the semantic_knowledge table.
type SemanticKnowledge struct {
	ID         string
	ProjectID  string
	Topic      string
	Category   string
	Knowledge  map[string]any
	Confidence float64
	Tags       []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastUsed   time.Time
}

// CodePattern is one row of the code_patterns table.
type CodePattern struct {
	ID          string
	ProjectID   string
	PatternName string
	PatternData map[string]any
	Category    string
	Confidence  float64
	Tags        []string
	UsageCount  int
	CreatedAt   time.Time
}

// Store is the thread-safe, transactional, embedded persistence contract
// backing metrics and semantic memory (SPEC_FULL.md 4.A, 6).
type Store interface {
	// Lifecycle events.
	InsertEvent(event *AgentEvent) error
	GetEvents(filter EventFilter, limit int) ([]*AgentEvent, error)

	// Agent registry (durable record, separate from the live registry the
	// Swarm Coordinator keeps in memory).
	UpsertAgentRegistry(entry *AgentRegistryEntry) error
	GetAgentRegistry(agentID string) (*AgentRegistryEntry, error)
	ListAgentRegistry() ([]*AgentRegistryEntry, error)

	// Task/agent/swarm metrics, written by the async drain worker.
	InsertTaskMetric(m *types.TaskMetric) error
	ListTaskMetrics(agentID string, since time.Time) ([]*types.TaskMetric, error)
	InsertAgentMetric(m *types.AgentMetric) error
	ListAgentMetrics(agentID, metricType string, since time.Time) ([]*types.AgentMetric, error)
	InsertSwarmMetric(m *types.SwarmMetric) error
	ListSwarmMetrics(swarmID, metricType string, since time.Time) ([]*types.SwarmMetric, error)

	// Semantic memory / pattern storage.
	UpsertSemanticKnowledge(k *SemanticKnowledge) error
	ListSemanticKnowledge(projectID, topic string) ([]*SemanticKnowledge, error)
	UpsertCodePattern(p *CodePattern) error
	ListCodePatterns(projectID string) ([]*CodePattern, error)

	// SchemaVersion reports the current schema_info version.
	SchemaVersion() (int, error)

	// Close releases all per-thread connections (transaction() scoping is
	// handled internally per call; there is no exposed handle to leak).
	Close() error
}
