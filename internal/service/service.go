// Package service exposes the research workflow to the outer boundaries.
// The HTTP handlers, the WebSocket session, the MCP server, and the terminal
// client all talk to WorkflowService instead of driving the engine directly,
// so thread ids, snapshots, and diagnostics have one shape everywhere.
package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Milix-M/DeepReSearch/internal/checkpoint"
	"github.com/Milix-M/DeepReSearch/internal/engine"
	"github.com/Milix-M/DeepReSearch/internal/events"
	"github.com/Milix-M/DeepReSearch/internal/streaming"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// StateSnapshot is the externally visible view of one thread: lifecycle
// status, the sanitized state projection, and the outstanding pause if the
// thread is waiting on a reviewer.
type StateSnapshot struct {
	ThreadID         string                  `json:"thread_id"`
	Status           schema.ThreadStatus     `json:"status"`
	State            map[string]any          `json:"state"`
	PendingInterrupt *schema.PauseDescriptor `json:"pending_interrupt,omitempty"`
	StepCount        int                     `json:"step_count"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// ThreadSummary is one row of the thread listing.
type ThreadSummary struct {
	ThreadID         string                  `json:"thread_id"`
	Status           schema.ThreadStatus     `json:"status"`
	StepCount        int                     `json:"step_count"`
	UpdatedAt        time.Time               `json:"updated_at"`
	PendingInterrupt *schema.PauseDescriptor `json:"pending_interrupt,omitempty"`
}

// PendingInterrupt pairs a paused thread with its pause descriptor.
type PendingInterrupt struct {
	ThreadID  string                  `json:"thread_id"`
	Interrupt *schema.PauseDescriptor `json:"interrupt"`
}

// Diagnostics is the operational summary served by the health endpoint.
type Diagnostics struct {
	ActiveThreads     int `json:"active_threads"`
	PendingInterrupts int `json:"pending_interrupts"`
	RecursionLimit    int `json:"recursion_limit"`
}

// Config wires the service's collaborators.
type Config struct {
	Engine *engine.Engine
	Store  checkpoint.Store
	Hub    streaming.Hub
	Logger *slog.Logger
}

// WorkflowService orchestrates research runs. Safe for concurrent use.
type WorkflowService struct {
	engine *engine.Engine
	store  checkpoint.Store
	hub    streaming.Hub
	logger *slog.Logger
}

// New builds a WorkflowService. Engine and store are required; the hub is
// optional and only needed when callers stream live events.
func New(cfg Config) (*WorkflowService, error) {
	if cfg.Engine == nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "service requires an engine")
	}
	if cfg.Store == nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "service requires a checkpoint store")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WorkflowService{
		engine: cfg.Engine,
		store:  cfg.Store,
		hub:    cfg.Hub,
		logger: cfg.Logger,
	}, nil
}

// NewThreadID mints a fresh thread id.
func (s *WorkflowService) NewThreadID() string { return uuid.NewString() }

// StartResearch launches a new thread with human review enabled. Every
// research run goes through plan review unless the caller opts into RunAuto.
// An empty threadID gets a generated one; the outcome carries the final id.
func (s *WorkflowService) StartResearch(ctx context.Context, threadID, query string) (*engine.RunOutcome, error) {
	if threadID == "" {
		threadID = s.NewThreadID()
	}
	return s.engine.Start(ctx, threadID, query, engine.StartOptions{HITL: true})
}

// RunAuto launches a new thread with review disabled: pauses are answered
// with the default decision and the run proceeds to completion.
func (s *WorkflowService) RunAuto(ctx context.Context, threadID, query string) (*engine.RunOutcome, error) {
	if threadID == "" {
		threadID = s.NewThreadID()
	}
	return s.engine.Start(ctx, threadID, query, engine.StartOptions{HITL: false})
}

// ResumeResearch answers a pending pause. An unrecognized decision token
// fails with INVALID_DECISION and leaves the pause outstanding, so callers
// can re-prompt. planOverride, when non-nil, replaces the stored plan before
// the thread continues.
func (s *WorkflowService) ResumeResearch(ctx context.Context, threadID, decision string, planOverride map[string]any) (*engine.RunOutcome, error) {
	return s.engine.Resume(ctx, threadID, decision, planOverride)
}

// GetState returns the thread's snapshot, or STATE_NOT_FOUND if the thread
// was never started.
func (s *WorkflowService) GetState(ctx context.Context, threadID string) (*StateSnapshot, error) {
	cp, err := s.store.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return snapshotOf(cp), nil
}

// ListThreads returns a summary for every stored thread, ordered by id.
func (s *WorkflowService) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	cps, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ThreadSummary, 0, len(cps))
	for _, cp := range cps {
		out = append(out, ThreadSummary{
			ThreadID:         cp.ThreadID,
			Status:           cp.Status,
			StepCount:        cp.StepCount,
			UpdatedAt:        cp.UpdatedAt,
			PendingInterrupt: cp.PendingPause,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })
	return out, nil
}

// ListPendingInterrupts returns every outstanding pause, ordered by thread id.
func (s *WorkflowService) ListPendingInterrupts(ctx context.Context) ([]PendingInterrupt, error) {
	cps, err := s.store.ListPendingPause(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PendingInterrupt, 0, len(cps))
	for _, cp := range cps {
		out = append(out, PendingInterrupt{ThreadID: cp.ThreadID, Interrupt: cp.PendingPause})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })
	return out, nil
}

// Diagnostics counts live threads and outstanding pauses and reports the
// engine's step ceiling.
func (s *WorkflowService) Diagnostics(ctx context.Context) (*Diagnostics, error) {
	cps, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	d := &Diagnostics{RecursionLimit: s.engine.StepLimit()}
	for _, cp := range cps {
		if !cp.Status.Terminal() {
			d.ActiveThreads++
		}
		if cp.PendingPause != nil {
			d.PendingInterrupts++
		}
	}
	return d, nil
}

// Subscribe opens a live event feed matching the filter. Callers must
// Unsubscribe when done.
func (s *WorkflowService) Subscribe(ctx context.Context, filter streaming.Filter) (*streaming.Subscription, error) {
	if s.hub == nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "event streaming is not configured")
	}
	return s.hub.Subscribe(ctx, filter)
}

// Unsubscribe tears down a live event feed.
func (s *WorkflowService) Unsubscribe(id string) {
	if s.hub != nil {
		s.hub.Unsubscribe(id)
	}
}

// Rehydrate restores human-review registrations from persisted pauses after
// a restart, so paused threads remain resumable.
func (s *WorkflowService) Rehydrate(ctx context.Context) error {
	return s.engine.Rehydrate(ctx)
}

func snapshotOf(cp *checkpoint.Checkpoint) *StateSnapshot {
	st, _ := events.Sanitize(cp.State).(map[string]any)
	return &StateSnapshot{
		ThreadID:         cp.ThreadID,
		Status:           cp.Status,
		State:            st,
		PendingInterrupt: cp.PendingPause,
		StepCount:        cp.StepCount,
		UpdatedAt:        cp.UpdatedAt,
	}
}
