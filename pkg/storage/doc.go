/*
Package storage provides BoltDB-backed persistence for the swarm core's
metrics and semantic-memory tables (SPEC_FULL.md 4.A, 6).

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│  BoltStore                                                │
	│  - File: <dataDir>/swarmcore.db                           │
	│  - Format: B+tree with MVCC                               │
	│  - Transactions: ACID with fsync                          │
	│                                                            │
	│  Buckets (one per table):                                 │
	│    agent_events          agent_registry                   │
	│    task_metrics          agent_metrics                    │
	│    swarm_metrics         semantic_knowledge                │
	│    code_patterns         schema_info                       │
	└────────────────────────────────────────────────────────────┘

Schema is created idempotently at open: every bucket is created if missing,
and a schema_info row records the applied version so future migrations can
compare and upgrade in order.

# Transaction model

Reads use db.View (concurrent, MVCC snapshot); writes use db.Update
(serialized, atomic, fsync on commit). Rows are JSON-encoded Go structs keyed
either by their natural ID (agent_registry, semantic_knowledge, code_patterns)
or by a timestamp-prefixed composite key (agent_events, *_metrics) so that
time-range scans walk the bucket in chronological order via the cursor.

The Store interface never exposes a raw *bolt.Tx to callers; transaction()
scoping from the spec's generic contract is satisfied internally by each
typed method committing or rolling back its own db.Update/db.View call.
*/
package storage
