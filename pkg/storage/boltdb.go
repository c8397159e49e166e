package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/superdisco-agents/moai-flow-sub007/pkg/types"
	bolt "go.etcd.io/bbolt"
)

const schemaVersion = 1

var (
	bucketEvents            = []byte("agent_events")
	bucketAgentRegistry     = []byte("agent_registry")
	bucketTaskMetrics       = []byte("task_metrics")
	bucketAgentMetrics      = []byte("agent_metrics")
	bucketSwarmMetrics      = []byte("swarm_metrics")
	bucketSemanticKnowledge = []byte("semantic_knowledge")
	bucketCodePatterns      = []byte("code_patterns")
	bucketSchemaInfo        = []byte("schema_info")
)

var allBuckets = [][]byte{
	bucketEvents, bucketAgentRegistry, bucketTaskMetrics, bucketAgentMetrics,
	bucketSwarmMetrics, bucketSemanticKnowledge, bucketCodePatterns, bucketSchemaInfo,
}

// BoltStore is the bbolt-backed implementation of Store. Schema is
// initialized idempotently at open: every table bucket is created if
// missing, and a schema_info row records the applied version.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the embedded database file under
// dataDir and ensures every table bucket and the schema_info version row
// exist.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "swarmcore.db")
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	s := &BoltStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) ensureSchema() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}

		schemaBucket := tx.Bucket(bucketSchemaInfo)
		if schemaBucket.Get([]byte("version")) == nil {
			row := struct {
				Version   int       `json:"version"`
				AppliedAt time.Time `json:"applied_at"`
			}{Version: schemaVersion, AppliedAt: time.Now()}
			data, err := json.Marshal(row)
			if err != nil {
				return err
			}
			return schemaBucket.Put([]byte("version"), data)
		}
		return nil
	})
}

func (s *BoltStore) SchemaVersion() (int, error) {
	var version int
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSchemaInfo).Get([]byte("version"))
		if data == nil {
			return fmt.Errorf("schema_info version row missing")
		}
		row := struct {
			Version int `json:"version"`
		}{}
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		version = row.Version
		return nil
	})
	return version, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- agent_events ---

func (s *BoltStore) InsertEvent(event *AgentEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEvents).Put(eventKey(event.Timestamp, event.ID), data)
	})
}

func eventKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", ts.UnixNano(), id))
}

func (s *BoltStore) GetEvents(filter EventFilter, limit int) ([]*AgentEvent, error) {
	var out []*AgentEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var ev AgentEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			if filter.EventType != "" && ev.EventType != filter.EventType {
				continue
			}
			if filter.AgentID != "" && ev.AgentID != filter.AgentID {
				continue
			}
			if !filter.Since.IsZero() && ev.Timestamp.Before(filter.Since) {
				continue
			}
			if !filter.Until.IsZero() && ev.Timestamp.After(filter.Until) {
				continue
			}
			out = append(out, &ev)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// --- agent_registry ---

func (s *BoltStore) UpsertAgentRegistry(entry *AgentRegistryEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAgentRegistry).Put([]byte(entry.AgentID), data)
	})
}

func (s *BoltStore) GetAgentRegistry(agentID string) (*AgentRegistryEntry, error) {
	var entry AgentRegistryEntry
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAgentRegistry).Get([]byte(agentID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("agent registry entry not found: %s", agentID)
	}
	return &entry, nil
}

func (s *BoltStore) ListAgentRegistry() ([]*AgentRegistryEntry, error) {
	var out []*AgentRegistryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgentRegistry).ForEach(func(_, v []byte) error {
			var entry AgentRegistryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, &entry)
			return nil
		})
	})
	return out, err
}

// --- task_metrics ---

func (s *BoltStore) InsertTaskMetric(m *types.TaskMetric) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTaskMetrics).Put(eventKey(m.EndedAt, m.ID), data)
	})
}

func (s *BoltStore) ListTaskMetrics(agentID string, since time.Time) ([]*types.TaskMetric, error) {
	var out []*types.TaskMetric
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTaskMetrics).ForEach(func(_, v []byte) error {
			var m types.TaskMetric
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if agentID != "" && m.AgentID != agentID {
				return nil
			}
			if !since.IsZero() && m.EndedAt.Before(since) {
				return nil
			}
			out = append(out, &m)
			return nil
		})
	})
	return out, err
}

// --- agent_metrics ---

func (s *BoltStore) InsertAgentMetric(m *types.AgentMetric) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAgentMetrics).Put(eventKey(m.Timestamp, m.ID), data)
	})
}

func (s *BoltStore) ListAgentMetrics(agentID, metricType string, since time.Time) ([]*types.AgentMetric, error) {
	var out []*types.AgentMetric
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgentMetrics).ForEach(func(_, v []byte) error {
			var m types.AgentMetric
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if agentID != "" && m.AgentID != agentID {
				return nil
			}
			if metricType != "" && m.Metric != metricType {
				return nil
			}
			if !since.IsZero() && m.Timestamp.Before(since) {
				return nil
			}
			out = append(out, &m)
			return nil
		})
	})
	return out, err
}

// --- swarm_metrics ---

func (s *BoltStore) InsertSwarmMetric(m *types.SwarmMetric) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSwarmMetrics).Put(eventKey(m.Timestamp, m.ID), data)
	})
}

func (s *BoltStore) ListSwarmMetrics(swarmID, metricType string, since time.Time) ([]*types.SwarmMetric, error) {
	var out []*types.SwarmMetric
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSwarmMetrics).ForEach(func(_, v []byte) error {
			var m types.SwarmMetric
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if swarmID != "" && m.SwarmID != swarmID {
				return nil
			}
			if metricType != "" && m.Metric != metricType {
				return nil
			}
			if !since.IsZero() && m.Timestamp.Before(since) {
				return nil
			}
			out = append(out, &m)
			return nil
		})
	})
	return out, err
}

// --- semantic_knowledge ---

func (s *BoltStore) UpsertSemanticKnowledge(k *SemanticKnowledge) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(k)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSemanticKnowledge).Put([]byte(k.ID), data)
	})
}

func (s *BoltStore) ListSemanticKnowledge(projectID, topic string) ([]*SemanticKnowledge, error) {
	var out []*SemanticKnowledge
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSemanticKnowledge).ForEach(func(_, v []byte) error {
			var k SemanticKnowledge
			if err := json.Unmarshal(v, &k); err != nil {
				return err
			}
			if projectID != "" && k.ProjectID != projectID {
				return nil
			}
			if topic != "" && k.Topic != topic {
				return nil
			}
			out = append(out, &k)
			return nil
		})
	})
	return out, err
}

// --- code_patterns ---

func (s *BoltStore) UpsertCodePattern(p *CodePattern) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketCodePatterns).Put([]byte(p.ID), data)
	})
}

func (s *BoltStore) ListCodePatterns(projectID string) ([]*CodePattern, error) {
	var out []*CodePattern
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCodePatterns).ForEach(func(_, v []byte) error {
			var p CodePattern
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if projectID != "" && p.ProjectID != projectID {
				return nil
			}
			out = append(out, &p)
			return nil
		})
	})
	return out, err
}
