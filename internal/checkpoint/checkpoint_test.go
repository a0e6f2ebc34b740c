package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Milix-M/DeepReSearch/internal/state"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

func sampleCheckpoint(threadID string) *Checkpoint {
	return &Checkpoint{
		ThreadID:  threadID,
		State:     state.New("AIの進化について調査"),
		NextNode:  "make_plan",
		Status:    schema.ThreadStatusRunning,
		StepCount: 2,
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

// --- Memory Store Tests ---

func TestMemoryStore_GetAbsentIsStateNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeStateNotFound, schema.ErrorCode(err))
}

func TestMemoryStore_PutReplacesNotAppends(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cp := sampleCheckpoint("t1")
	require.NoError(t, s.Put(ctx, cp))

	cp2 := sampleCheckpoint("t1")
	cp2.NextNode = "human_judge"
	cp2.StepCount = 3
	require.NoError(t, s.Put(ctx, cp2))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "human_judge", got.NextNode)
	assert.Equal(t, 3, got.StepCount)

	all, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemoryStore_CloneIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cp := sampleCheckpoint("t1")
	require.NoError(t, s.Put(ctx, cp))

	// Mutating the caller's copy after Put must not affect the stored row.
	cp.NextNode = "mutated"
	cp.State.UserInput = "mutated"

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "make_plan", got.NextNode)
	assert.Equal(t, "AIの進化について調査", got.State.UserInput)

	// Mutating a Get result must not affect subsequent reads.
	got.State.UserInput = "also mutated"
	again, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "AIの進化について調査", again.State.UserInput)
}

func TestMemoryStore_ListPendingPause(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	running := sampleCheckpoint("running")
	require.NoError(t, s.Put(ctx, running))

	paused := sampleCheckpoint("paused")
	paused.Status = schema.ThreadStatusPendingHuman
	paused.PendingPause = &schema.PauseDescriptor{
		ID:     "paused_research_plan_human_judge",
		Prompt: "調査計画を編集しますか？",
	}
	require.NoError(t, s.Put(ctx, paused))

	pending, err := s.ListPendingPause(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "paused", pending[0].ThreadID)

	all, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStore_DeleteIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, sampleCheckpoint("t1")))
	require.NoError(t, s.Delete(ctx, "t1"))
	require.NoError(t, s.Delete(ctx, "t1"))

	_, err := s.Get(ctx, "t1")
	assert.Equal(t, schema.ErrCodeStateNotFound, schema.ErrorCode(err))
}

// --- Keyring Tests ---

func TestKeyring_AcquireAndRelease(t *testing.T) {
	kr := NewKeyring()

	release, err := kr.TryAcquire("t1")
	require.NoError(t, err)
	assert.True(t, kr.Held("t1"))

	_, err = kr.TryAcquire("t1")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.ErrorCode(err))

	release()
	assert.False(t, kr.Held("t1"))

	release2, err := kr.TryAcquire("t1")
	require.NoError(t, err)
	release2()
}

func TestKeyring_IndependentKeys(t *testing.T) {
	kr := NewKeyring()

	r1, err := kr.TryAcquire("t1")
	require.NoError(t, err)
	r2, err := kr.TryAcquire("t2")
	require.NoError(t, err)
	r1()
	r2()
}

func TestKeyring_ConcurrentSingleWinner(t *testing.T) {
	kr := NewKeyring()

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan func(), workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, err := kr.TryAcquire("shared"); err == nil {
				wins <- release
			}
		}()
	}
	wg.Wait()
	close(wins)

	var releases []func()
	for r := range wins {
		releases = append(releases, r)
	}
	require.Len(t, releases, 1)
	releases[0]()
}

// --- LibSQL Store Tests ---

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func TestLibSQLStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp := sampleCheckpoint("t1")
	cp.State.Report = "# 結果"
	require.NoError(t, s.Put(ctx, cp))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ThreadID)
	assert.Equal(t, "make_plan", got.NextNode)
	assert.Equal(t, schema.ThreadStatusRunning, got.Status)
	assert.Equal(t, 2, got.StepCount)
	assert.Equal(t, "AIの進化について調査", got.State.UserInput)
	assert.Equal(t, "# 結果", got.State.Report)
	assert.Nil(t, got.PendingPause)
}

func TestLibSQLStore_GetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeStateNotFound, schema.ErrorCode(err))
}

func TestLibSQLStore_PendingPauseSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "restart.db")

	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))

	cp := sampleCheckpoint("t1")
	cp.Status = schema.ThreadStatusPendingHuman
	cp.NextNode = "human_judge"
	cp.PendingPause = &schema.PauseDescriptor{
		ID:     "t1_research_plan_human_judge",
		Prompt: "調査計画を編集しますか？",
	}
	require.NoError(t, s.Put(context.Background(), cp))
	require.NoError(t, s.Close())

	// Reopen against the same file, the pause must still be there.
	s2, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, got.PendingPause)
	assert.Equal(t, "t1_research_plan_human_judge", got.PendingPause.ID)
	assert.Equal(t, "調査計画を編集しますか？", got.PendingPause.Prompt)
	assert.Equal(t, schema.ThreadStatusPendingHuman, got.Status)
}

func TestLibSQLStore_PutUpsertsAndClearsPause(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp := sampleCheckpoint("t1")
	cp.PendingPause = &schema.PauseDescriptor{ID: "t1_research_plan_human_judge", Prompt: "q"}
	require.NoError(t, s.Put(ctx, cp))

	cp.PendingPause = nil
	cp.Status = schema.ThreadStatusCompleted
	cp.NextNode = "end"
	require.NoError(t, s.Put(ctx, cp))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got.PendingPause)
	assert.Equal(t, schema.ThreadStatusCompleted, got.Status)

	pending, err := s.ListPendingPause(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLibSQLStore_ListAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, sampleCheckpoint(id)))
	}

	all, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.Delete(ctx, "b"))
	require.NoError(t, s.Delete(ctx, "b"))

	all, err = s.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
