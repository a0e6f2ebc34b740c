// Package checkpoint persists the per-thread (state, position) snapshot the
// engine replaces after every step. A thread's checkpoint is the only record
// that survives a pause, so nothing execution needs may live outside it.
package checkpoint

import (
	"context"
	"time"

	"github.com/Milix-M/DeepReSearch/internal/state"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// Checkpoint is the latest snapshot for one thread: the full state, the next
// node to execute, any outstanding pause, and the lifecycle status.
type Checkpoint struct {
	ThreadID     string                  `json:"thread_id"`
	State        *state.WorkflowState    `json:"state"`
	NextNode     string                  `json:"next_node"`
	PendingPause *schema.PauseDescriptor `json:"pending_pause,omitempty"`
	Status       schema.ThreadStatus     `json:"status"`
	StepCount    int                     `json:"step_count"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// Clone deep-copies the checkpoint so callers cannot mutate stored history.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.State = c.State.Clone()
	if c.PendingPause != nil {
		pause := *c.PendingPause
		out.PendingPause = &pause
	}
	return &out
}

// Store maps thread id to latest checkpoint. Get on a never-started thread
// fails with STATE_NOT_FOUND, distinct from "exists but empty". Put is a full
// replace. Implementations must be safe for concurrent use; per-thread write
// ordering is the caller's job (see Keyring).
type Store interface {
	Get(ctx context.Context, threadID string) (*Checkpoint, error)
	Put(ctx context.Context, cp *Checkpoint) error
	ListActive(ctx context.Context) ([]*Checkpoint, error)
	ListPendingPause(ctx context.Context) ([]*Checkpoint, error)
	Delete(ctx context.Context, threadID string) error
	Close() error
}

func notFound(threadID string) *schema.AgentError {
	return schema.NewErrorf(schema.ErrCodeStateNotFound, "thread %q was never started", threadID)
}
