// Package janitor sweeps finished research threads out of the checkpoint
// store and expires review pauses nobody answered, so a long-running server
// does not accumulate dead state.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Milix-M/DeepReSearch/internal/checkpoint"
	"github.com/Milix-M/DeepReSearch/internal/engine"
	"github.com/Milix-M/DeepReSearch/internal/streaming"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

const (
	// DefaultSchedule sweeps every ten minutes.
	DefaultSchedule = "*/10 * * * *"
	// DefaultRetentionAge keeps finished threads for a day.
	DefaultRetentionAge = 24 * time.Hour

	tickInterval = 60 * time.Second
)

// Config wires the janitor.
type Config struct {
	Store  checkpoint.Store
	Engine *engine.Engine
	// Hub, when set, receives a thread_failed event for each expired pause.
	Hub streaming.Hub
	// Schedule is a five-field cron spec gating sweeps; defaults to
	// DefaultSchedule.
	Schedule string
	// RetentionAge is how long terminal checkpoints survive; defaults to
	// DefaultRetentionAge.
	RetentionAge time.Duration
	// PauseTTL is how long an unanswered pause stays resumable; defaults to
	// RetentionAge.
	PauseTTL time.Duration
	Logger   *slog.Logger
}

// Stats summarizes one sweep.
type Stats struct {
	Deleted       int
	ExpiredPauses int
}

// Janitor runs retention sweeps on a cron schedule with a minute-resolution
// ticker.
type Janitor struct {
	store    checkpoint.Store
	engine   *engine.Engine
	hub      streaming.Hub
	schedule cron.Schedule
	age      time.Duration
	pauseTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	nextRun time.Time

	inflightMu sync.Mutex
	inflight   bool
}

// New builds a Janitor. Store and engine are required; the schedule must be
// a valid five-field cron expression.
func New(cfg Config) (*Janitor, error) {
	if cfg.Store == nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "janitor requires a checkpoint store")
	}
	if cfg.Engine == nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "janitor requires an engine")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid retention schedule %q", cfg.Schedule).WithCause(err)
	}
	if cfg.RetentionAge <= 0 {
		cfg.RetentionAge = DefaultRetentionAge
	}
	if cfg.PauseTTL <= 0 {
		cfg.PauseTTL = cfg.RetentionAge
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{
		store:    cfg.Store,
		engine:   cfg.Engine,
		hub:      cfg.Hub,
		schedule: schedule,
		age:      cfg.RetentionAge,
		pauseTTL: cfg.PauseTTL,
		logger:   cfg.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start launches the background sweep loop. The first due sweep runs on the
// initial tick.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.done != nil {
		j.mu.Unlock()
		return fmt.Errorf("janitor already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	done := make(chan struct{})
	j.done = done
	j.mu.Unlock()

	go j.loop(loopCtx, done)
	j.logger.Info("janitor started",
		slog.Duration("retention_age", j.age),
		slog.Duration("pause_ttl", j.pauseTTL))
	return nil
}

// loop closes done on exit; the channel is passed in because Stop nils the
// j.done field before waiting on it.
func (j *Janitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	j.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.tick(ctx)
		}
	}
}

// tick sweeps when the schedule says a run is due. A sweep still in flight
// from the previous tick is not doubled up.
func (j *Janitor) tick(ctx context.Context) {
	now := j.now()
	j.mu.Lock()
	if now.Before(j.nextRun) {
		j.mu.Unlock()
		return
	}
	j.nextRun = j.schedule.Next(now)
	j.mu.Unlock()

	if !j.tryAcquire() {
		return
	}
	defer j.release()

	if _, err := j.Sweep(ctx); err != nil {
		j.logger.Error("retention sweep failed", slog.String("error", err.Error()))
	}
}

// Sweep deletes terminal checkpoints older than the retention age and fails
// threads whose pause outlived the TTL. Expiring a pause races a concurrent
// resume benignly: checkpoints are full replaces, so one of the two writes
// wins whole.
func (j *Janitor) Sweep(ctx context.Context) (Stats, error) {
	var stats Stats
	cps, err := j.store.ListActive(ctx)
	if err != nil {
		return stats, err
	}

	now := j.now()
	for _, cp := range cps {
		switch {
		case cp.Status.Terminal() && now.Sub(cp.UpdatedAt) >= j.age:
			if err := j.store.Delete(ctx, cp.ThreadID); err != nil {
				j.logger.Error("deleting finished thread failed",
					slog.String("thread_id", cp.ThreadID),
					slog.String("error", err.Error()))
				continue
			}
			j.engine.Forget(cp.ThreadID)
			stats.Deleted++
		case cp.PendingPause != nil && now.Sub(cp.UpdatedAt) >= j.pauseTTL:
			if err := j.expirePause(ctx, cp, now); err != nil {
				j.logger.Error("expiring pause failed",
					slog.String("thread_id", cp.ThreadID),
					slog.String("error", err.Error()))
				continue
			}
			stats.ExpiredPauses++
		}
	}

	if stats.Deleted > 0 || stats.ExpiredPauses > 0 {
		j.logger.Info("retention sweep finished",
			slog.Int("deleted", stats.Deleted),
			slog.Int("expired_pauses", stats.ExpiredPauses))
	}
	return stats, nil
}

// expirePause fails a thread whose reviewer never answered. The review
// registration stays until the failed checkpoint ages out, so a late resume
// reports the missing pause instead of a missing registration.
func (j *Janitor) expirePause(ctx context.Context, cp *checkpoint.Checkpoint, now time.Time) error {
	pauseID := cp.PendingPause.ID
	cp.PendingPause = nil
	cp.Status = schema.ThreadStatusFailed
	cp.UpdatedAt = now
	if err := j.store.Put(ctx, cp); err != nil {
		return err
	}

	if j.hub != nil {
		_ = j.hub.Publish(ctx, schema.ProgressEvent{
			ThreadID: cp.ThreadID,
			Name:     schema.EventThreadFailed,
			Payload: map[string]any{
				"code":     schema.ErrCodeInterruptNotFound,
				"pause_id": pauseID,
			},
			Level:     schema.LevelError,
			Message:   "review pause expired",
			Timestamp: now,
		})
	}
	return nil
}

// Stop shuts the sweep loop down and waits for it to exit. The mutex is
// released before the wait: an in-flight tick needs it to finish.
func (j *Janitor) Stop() error {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel = nil
	j.done = nil
	j.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	j.logger.Info("janitor stopped")
	return nil
}

func (j *Janitor) tryAcquire() bool {
	j.inflightMu.Lock()
	defer j.inflightMu.Unlock()
	if j.inflight {
		return false
	}
	j.inflight = true
	return true
}

func (j *Janitor) release() {
	j.inflightMu.Lock()
	defer j.inflightMu.Unlock()
	j.inflight = false
}
