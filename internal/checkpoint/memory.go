package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// MemoryStore keeps checkpoints in process memory. It is the default store;
// threads do not survive a restart with it, but the contract is identical to
// the durable store so the two swap freely.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string]*Checkpoint)}
}

// Get returns a deep copy of the thread's checkpoint.
func (s *MemoryStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[threadID]
	if !ok {
		return nil, notFound(threadID)
	}
	return cp.Clone(), nil
}

// Put replaces the thread's checkpoint with a deep copy of cp.
func (s *MemoryStore) Put(ctx context.Context, cp *Checkpoint) error {
	if cp == nil || cp.ThreadID == "" {
		return schema.NewError(schema.ErrCodeStore, "checkpoint requires a thread id")
	}
	stored := cp.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.checkpoints[cp.ThreadID] = stored
	s.mu.Unlock()
	return nil
}

// ListActive returns copies of every stored checkpoint.
func (s *MemoryStore) ListActive(ctx context.Context) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		out = append(out, cp.Clone())
	}
	return out, nil
}

// ListPendingPause returns copies of checkpoints with an outstanding pause.
func (s *MemoryStore) ListPendingPause(ctx context.Context) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Checkpoint
	for _, cp := range s.checkpoints {
		if cp.PendingPause != nil {
			out = append(out, cp.Clone())
		}
	}
	return out, nil
}

// Delete removes the thread's checkpoint; deleting an absent thread is a
// no-op so sweeps are idempotent.
func (s *MemoryStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	delete(s.checkpoints, threadID)
	s.mu.Unlock()
	return nil
}

// Close releases nothing; it exists to satisfy the Store contract.
func (s *MemoryStore) Close() error { return nil }
