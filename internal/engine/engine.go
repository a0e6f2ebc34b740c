// Package engine advances threads through the step graph: run until a pause
// surfaces or the walk reaches the end, checkpointing after every step. It
// owns the interrupt/resume protocol; boundaries above it only see outcomes
// and progress events.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Milix-M/DeepReSearch/internal/checkpoint"
	"github.com/Milix-M/DeepReSearch/internal/events"
	"github.com/Milix-M/DeepReSearch/internal/graph"
	"github.com/Milix-M/DeepReSearch/internal/hitl"
	"github.com/Milix-M/DeepReSearch/internal/logging"
	"github.com/Milix-M/DeepReSearch/internal/state"
	"github.com/Milix-M/DeepReSearch/internal/streaming"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// DefaultStepLimit bounds the steps of one Start/Resume invocation. The
// research loop converges well under it; hitting it means a wiring bug or a
// model that never stops calling tools.
const DefaultStepLimit = 100

// autoDecision answers pauses that no human will see.
const autoDecision = "n"

// Config wires an Engine. Graph and Store are required; everything else has
// a working default.
type Config struct {
	Graph     *graph.Graph
	Store     checkpoint.Store
	Keyring   *checkpoint.Keyring
	Hub       streaming.Hub
	Predicate hitl.Predicate
	StepLimit int
	Logger    *slog.Logger
}

// StartOptions control how a thread begins.
type StartOptions struct {
	// HITL registers the thread for human review: pauses matching the
	// predicate suspend execution instead of being auto-answered.
	HITL bool
}

// RunOutcome is what one Start or Resume invocation produced.
type RunOutcome struct {
	ThreadID  string
	Status    schema.ThreadStatus
	State     *state.WorkflowState
	Events    []schema.ProgressEvent
	Interrupt *schema.PauseDescriptor
}

// Engine executes threads one step at a time. Safe for concurrent use;
// advances of the same thread are serialized through the keyring and the
// loser fails fast with CONFLICT.
type Engine struct {
	graph     *graph.Graph
	store     checkpoint.Store
	keyring   *checkpoint.Keyring
	hub       streaming.Hub
	predicate hitl.Predicate
	stepLimit int
	logger    *slog.Logger

	mu          sync.Mutex
	hitlThreads map[string]struct{}
}

// New builds an Engine from the config. The graph must be compiled.
func New(cfg Config) (*Engine, error) {
	if cfg.Graph == nil || !cfg.Graph.Compiled() {
		return nil, schema.NewError(schema.ErrCodeInternal, "engine requires a compiled graph")
	}
	if cfg.Store == nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "engine requires a checkpoint store")
	}
	if cfg.Keyring == nil {
		cfg.Keyring = checkpoint.NewKeyring()
	}
	if cfg.Predicate == nil {
		cfg.Predicate = hitl.Default()
	}
	if cfg.StepLimit <= 0 {
		cfg.StepLimit = DefaultStepLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		graph:       cfg.Graph,
		store:       cfg.Store,
		keyring:     cfg.Keyring,
		hub:         cfg.Hub,
		predicate:   cfg.Predicate,
		stepLimit:   cfg.StepLimit,
		logger:      cfg.Logger,
		hitlThreads: make(map[string]struct{}),
	}, nil
}

// Rehydrate re-registers human review for threads whose pause survived a
// restart in the durable store: only HITL threads ever persist a pause, so
// the pending set is exactly the set to restore.
func (e *Engine) Rehydrate(ctx context.Context) error {
	pending, err := e.store.ListPendingPause(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cp := range pending {
		e.hitlThreads[cp.ThreadID] = struct{}{}
	}
	return nil
}

// Start creates the thread and runs it until a pause surfaces, the walk
// completes, or a step fails. On a step failure the returned outcome carries
// the events emitted so far alongside the error, and the checkpoint stays at
// its last good position.
func (e *Engine) Start(ctx context.Context, threadID, query string, opts StartOptions) (*RunOutcome, error) {
	if threadID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "thread id must not be empty")
	}
	if strings.TrimSpace(query) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "query must not be empty")
	}

	release, err := e.keyring.TryAcquire(threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := e.store.Get(ctx, threadID); err == nil {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "thread %q already exists", threadID)
	} else if !schema.IsCode(err, schema.ErrCodeStateNotFound) {
		return nil, err
	}

	if opts.HITL {
		e.registerHITL(threadID)
	}

	ctx = logging.WithThreadID(ctx, threadID)
	cp := &checkpoint.Checkpoint{
		ThreadID: threadID,
		State:    state.New(query),
		NextNode: e.graph.Entry(),
		Status:   schema.ThreadStatusRunning,
	}
	if err := e.put(ctx, cp); err != nil {
		return nil, err
	}

	r := newRun(e, cp, nil)
	r.emit(ctx, schema.EventThreadStarted, "", map[string]any{"query": query, "hitl": opts.HITL})
	logging.LogWith(ctx, e.logger).InfoContext(ctx, "thread started", slog.Bool("hitl", opts.HITL))

	return e.loop(ctx, r)
}

// Resume answers the thread's outstanding pause and continues execution from
// the suspended step. The suspended step re-executes and reads its decision
// from the resume payload; initial runs and resumed runs share the loop.
func (e *Engine) Resume(ctx context.Context, threadID, decision string, planOverride map[string]any) (*RunOutcome, error) {
	release, err := e.keyring.TryAcquire(threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	cp, err := e.store.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !e.isHITL(threadID) {
		return nil, schema.NewErrorf(schema.ErrCodeHitlNotEnabled,
			"thread %q was not started with human review enabled", threadID)
	}
	if cp.PendingPause == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterruptNotFound,
			"thread %q has no outstanding pause", threadID)
	}
	// An unrecognized token leaves the pause outstanding and the state
	// untouched; the caller re-prompts.
	if _, err := schema.ParseDecision(decision); err != nil {
		return nil, err
	}
	if planOverride != nil {
		if err := state.ValidatePlanOverride(planOverride); err != nil {
			return nil, err
		}
		if err := cp.State.Merge(map[string]any{state.FieldResearchPlan: planOverride}); err != nil {
			return nil, err
		}
	}

	ctx = logging.WithThreadID(ctx, threadID)
	resolved := *cp.PendingPause
	cp.PendingPause = nil
	if err := e.setStatus(cp, schema.ThreadStatusRunning); err != nil {
		return nil, err
	}
	if err := e.put(ctx, cp); err != nil {
		return nil, err
	}

	r := newRun(e, cp, map[string]any{resolved.ID: decision})
	r.emit(ctx, schema.EventThreadResumed, cp.NextNode, map[string]any{"decision": decision})
	r.emit(ctx, schema.EventPauseResolved, cp.NextNode, map[string]any{"id": resolved.ID, "decision": decision})
	logging.LogWith(ctx, e.logger).InfoContext(ctx, "thread resumed", slog.String("pause_id", resolved.ID))

	return e.loop(ctx, r)
}

// Forget drops the thread's human-review registration. Callers deleting a
// checkpoint (retention sweeps) pair it with this.
func (e *Engine) Forget(threadID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.hitlThreads, threadID)
}

// StepLimit returns the per-invocation step ceiling.
func (e *Engine) StepLimit() int { return e.stepLimit }

func (e *Engine) registerHITL(threadID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hitlThreads[threadID] = struct{}{}
}

func (e *Engine) isHITL(threadID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.hitlThreads[threadID]
	return ok
}

// loop walks the graph from the checkpoint's next node until it reaches the
// end sentinel, a pause surfaces, or a step fails. The checkpoint is
// replaced after every step, and each step's events are emitted before the
// step counts as complete.
func (e *Engine) loop(ctx context.Context, r *run) (*RunOutcome, error) {
	cp := r.cp
	cfg := graph.RunConfig{
		ThreadID: cp.ThreadID,
		Resume:   r.resume,
		Emit: func(name string, payload map[string]any) {
			r.emit(ctx, name, cp.NextNode, payload)
		},
	}

	for cp.NextNode != graph.End {
		if err := ctx.Err(); err != nil {
			// Cancellation is the caller going away, not a thread failure:
			// the checkpoint keeps its last good position for a retry.
			return r.outcome(), schema.NewError(schema.ErrCodeInternal, "run cancelled").WithCause(err)
		}
		if r.steps >= e.stepLimit {
			return e.fail(ctx, r, schema.NewErrorf(schema.ErrCodeStepLimitExceeded,
				"step limit %d exceeded at step %q", e.stepLimit, cp.NextNode).WithStep(cp.NextNode))
		}

		step := cp.NextNode
		fn, err := e.graph.Step(step)
		if err != nil {
			return e.fail(ctx, r, asAgentError(err, step))
		}

		stepCtx := logging.WithStep(ctx, step)
		r.emit(stepCtx, schema.EventStepStarted, step, nil)

		result, err := fn(stepCtx, cp.State, cfg)
		if err != nil {
			aerr := asAgentError(err, step)
			r.emit(stepCtx, schema.EventStepFailed, step, map[string]any{"error": aerr.Message, "code": aerr.Code})
			return e.fail(stepCtx, r, aerr)
		}
		r.steps++
		cp.StepCount++

		switch result.Kind() {
		case graph.KindPatch:
			// Patches apply to a copy first so a rejected patch can never
			// leave the checkpoint half-updated.
			next := cp.State.Clone()
			if err := next.Merge(result.Fields()); err != nil {
				aerr := asAgentError(err, step)
				r.emit(stepCtx, schema.EventStepFailed, step, map[string]any{"error": aerr.Message, "code": aerr.Code})
				return e.fail(stepCtx, r, aerr)
			}
			cp.State = next
			r.emit(stepCtx, schema.EventStepCompleted, step, map[string]any{"result": "patch", "fields": result.Fields()})

		case graph.KindPause:
			id, prompt := result.Pause()
			pause := schema.PauseDescriptor{ID: id, Prompt: prompt}
			r.emit(stepCtx, schema.EventPauseRequested, step, pause.ExportFields())

			if e.isHITL(cp.ThreadID) && e.predicate.Matches(pause) {
				if err := e.setStatus(cp, schema.ThreadStatusPendingHuman); err != nil {
					return e.fail(stepCtx, r, asAgentError(err, step))
				}
				cp.PendingPause = &pause
				if err := e.put(stepCtx, cp); err != nil {
					return r.outcome(), err
				}
				r.emit(stepCtx, schema.EventThreadInterrupted, step, pause.ExportFields())
				logging.LogWith(stepCtx, e.logger).InfoContext(stepCtx, "thread suspended for human review",
					slog.String("pause_id", id))
				return r.outcome(), nil
			}

			// Nobody will answer this pause: inject the default decision and
			// re-execute the same step.
			r.resume[id] = autoDecision
			r.emit(stepCtx, schema.EventPauseAutoResolved, step, map[string]any{"id": id, "decision": autoDecision})
			if err := e.put(stepCtx, cp); err != nil {
				return r.outcome(), err
			}
			continue

		default:
			r.emit(stepCtx, schema.EventStepCompleted, step, map[string]any{"result": "noop"})
		}

		next, err := e.graph.Next(step, cp.State)
		if err != nil {
			return e.fail(stepCtx, r, asAgentError(err, step))
		}
		cp.NextNode = next
		if next == graph.End {
			if err := e.setStatus(cp, schema.ThreadStatusCompleted); err != nil {
				return e.fail(stepCtx, r, asAgentError(err, step))
			}
		}
		if err := e.put(stepCtx, cp); err != nil {
			return r.outcome(), err
		}
	}

	r.emit(ctx, schema.EventThreadCompleted, "", map[string]any{"status": string(cp.Status)})
	logging.LogWith(ctx, e.logger).InfoContext(ctx, "thread completed", slog.Int("steps", cp.StepCount))
	return r.outcome(), nil
}

// fail marks the thread failed, keeping state and position at the last good
// checkpoint for inspection and replay.
func (e *Engine) fail(ctx context.Context, r *run, aerr *schema.AgentError) (*RunOutcome, error) {
	cp := r.cp
	if err := e.setStatus(cp, schema.ThreadStatusFailed); err == nil {
		if perr := e.put(ctx, cp); perr != nil {
			logging.LogWith(ctx, e.logger).ErrorContext(ctx, "persist failed status", slog.Any("error", perr))
		}
	}
	r.emit(ctx, schema.EventThreadFailed, cp.NextNode, map[string]any{"error": aerr.Message, "code": aerr.Code})
	logging.LogWith(ctx, e.logger).ErrorContext(ctx, "thread failed",
		slog.String("code", aerr.Code), slog.String("error", aerr.Message))
	return r.outcome(), aerr
}

func (e *Engine) setStatus(cp *checkpoint.Checkpoint, to schema.ThreadStatus) error {
	if err := transition(cp.ThreadID, cp.Status, to); err != nil {
		return err
	}
	cp.Status = to
	return nil
}

func (e *Engine) put(ctx context.Context, cp *checkpoint.Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	return e.store.Put(ctx, cp)
}

func asAgentError(err error, step string) *schema.AgentError {
	var aerr *schema.AgentError
	if errors.As(err, &aerr) {
		if aerr.Step == "" {
			aerr.Step = step
		}
		return aerr
	}
	return schema.NewErrorf(schema.ErrCodeStepFailed, "step failed: %s", err.Error()).
		WithStep(step).
		WithCause(err)
}

// run is the per-invocation scratchpad: the checkpoint being advanced, the
// resume payload, and the events emitted so far.
type run struct {
	engine *Engine
	cp     *checkpoint.Checkpoint
	resume map[string]any
	events []schema.ProgressEvent
	seq    int64
	steps  int
}

func newRun(e *Engine, cp *checkpoint.Checkpoint, resume map[string]any) *run {
	if resume == nil {
		resume = make(map[string]any)
	}
	return &run{engine: e, cp: cp, resume: resume}
}

// emit sanitizes, annotates, records, and publishes one progress event.
// Publication is best-effort; the outcome's event list is the authoritative
// record for this invocation.
func (r *run) emit(ctx context.Context, name, step string, payload map[string]any) {
	r.seq++
	ev := schema.ProgressEvent{
		ThreadID:  r.cp.ThreadID,
		Name:      name,
		Step:      step,
		Payload:   events.SanitizeMap(payload),
		Sequence:  r.seq,
		Timestamp: time.Now().UTC(),
	}
	events.AnnotateError(&ev)
	r.events = append(r.events, ev)
	if r.engine.hub != nil {
		_ = r.engine.hub.Publish(ctx, ev)
	}
}

func (r *run) outcome() *RunOutcome {
	out := &RunOutcome{
		ThreadID: r.cp.ThreadID,
		Status:   r.cp.Status,
		State:    r.cp.State,
		Events:   r.events,
	}
	if r.cp.PendingPause != nil {
		pause := *r.cp.PendingPause
		out.Interrupt = &pause
	}
	return out
}
