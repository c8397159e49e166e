package consensus

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// proposalCommand is the Raft log payload for a single proposal — adapted
// from the teacher's envelope-style Command/Data shape.
type proposalCommand struct {
	Payload json.RawMessage `json:"payload"`
}

// quorumFSM applies committed proposals to a simple in-memory ledger. Unlike
// the teacher's cluster FSM (which dispatches to a dozen resource kinds),
// this domain only ever commits opaque proposal payloads, so Apply has one
// case.
type quorumFSM struct {
	mu        sync.RWMutex
	committed []json.RawMessage
}

func newQuorumFSM() *quorumFSM {
	return &quorumFSM{}
}

func (f *quorumFSM) Apply(l *raft.Log) interface{} {
	var cmd proposalCommand
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, cmd.Payload)
	return nil
}

func (f *quorumFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap := make([]json.RawMessage, len(f.committed))
	copy(snap, f.committed)
	return &quorumSnapshot{committed: snap}, nil
}

func (f *quorumFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var committed []json.RawMessage
	if err := json.NewDecoder(rc).Decode(&committed); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = committed
	return nil
}

type quorumSnapshot struct {
	committed []json.RawMessage
}

func (s *quorumSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.committed); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *quorumSnapshot) Release() {}
