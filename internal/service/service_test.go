package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Milix-M/DeepReSearch/internal/checkpoint"
	"github.com/Milix-M/DeepReSearch/internal/engine"
	"github.com/Milix-M/DeepReSearch/internal/model"
	"github.com/Milix-M/DeepReSearch/internal/research"
	"github.com/Milix-M/DeepReSearch/internal/state"
	"github.com/Milix-M/DeepReSearch/internal/streaming"
	"github.com/Milix-M/DeepReSearch/internal/tools"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedSearcher struct{ results []tools.SearchResult }

func (f *fixedSearcher) Search(ctx context.Context, query string, maxResults int) ([]tools.SearchResult, error) {
	return f.results, nil
}

func validParams() state.ResearchParameters {
	return state.ResearchParameters{
		SearchQueriesPerSection: 2,
		SearchIterations:        2,
		Reasoning:               "二つの観点を広めに調べる",
	}
}

func validPlanDoc() state.ResearchPlanDocument {
	return state.ResearchPlanDocument{
		ResearchPlan: state.ResearchPlan{
			Purpose: "量子計算の現在地を整理する",
			Sections: []state.PlanSection{
				{Title: "基礎技術", Focus: "量子ビットの方式", KeyQuestions: []string{"主流の方式は何か"}},
			},
			Structure: state.ReportStructure{Introduction: "導入", Conclusion: "まとめ"},
		},
		MetaAnalysis: "技術軸で整理する",
	}
}

// scriptedCompletion answers the parameter and plan schemas, then ends the
// research loop immediately with a final text turn.
func scriptedCompletion(report string) *model.ScriptedClient {
	return model.NewScripted().
		ScriptStructured("research_parameters", validParams()).
		ScriptStructured("research_plan", validPlanDoc()).
		ScriptTurn(state.NewAssistantMessage(state.TextFragment(report)))
}

func newTestService(t *testing.T, client model.Client, hub streaming.Hub) (*WorkflowService, *checkpoint.MemoryStore) {
	t.Helper()
	registry, err := research.NewToolRegistry(client, &fixedSearcher{})
	require.NoError(t, err)
	g, err := research.NewGraph(client, registry, quietLogger())
	require.NoError(t, err)
	store := checkpoint.NewMemoryStore()
	eng, err := engine.New(engine.Config{Graph: g, Store: store, Hub: hub, Logger: quietLogger()})
	require.NoError(t, err)
	svc, err := New(Config{Engine: eng, Store: store, Hub: hub, Logger: quietLogger()})
	require.NoError(t, err)
	return svc, store
}

// --- Wiring Tests ---

func TestNew_RequiresCollaborators(t *testing.T) {
	svc, store := newTestService(t, scriptedCompletion("r"), nil)
	_ = svc

	_, err := New(Config{Store: store})
	assert.Equal(t, schema.ErrCodeInternal, schema.ErrorCode(err))

	registry, err := research.NewToolRegistry(scriptedCompletion("r"), &fixedSearcher{})
	require.NoError(t, err)
	g, err := research.NewGraph(scriptedCompletion("r"), registry, quietLogger())
	require.NoError(t, err)
	eng, err := engine.New(engine.Config{Graph: g, Store: store, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = New(Config{Engine: eng})
	assert.Equal(t, schema.ErrCodeInternal, schema.ErrorCode(err))
}

// --- Lifecycle Tests ---

func TestWorkflowService_StartResearch_PausesForReview(t *testing.T) {
	svc, _ := newTestService(t, scriptedCompletion("最終レポート"), nil)

	outcome, err := svc.StartResearch(context.Background(), "", "量子計算の現状は？")
	require.NoError(t, err)

	_, err = uuid.Parse(outcome.ThreadID)
	assert.NoError(t, err, "generated thread ids are UUIDs")
	assert.Equal(t, schema.ThreadStatusPendingHuman, outcome.Status)
	require.NotNil(t, outcome.Interrupt)
	assert.Equal(t, research.PlanReviewPauseID(outcome.ThreadID), outcome.Interrupt.ID)
}

func TestWorkflowService_StartResearch_HonorsProvidedID(t *testing.T) {
	svc, _ := newTestService(t, scriptedCompletion("最終レポート"), nil)

	outcome, err := svc.StartResearch(context.Background(), "thread-7", "クエリ")
	require.NoError(t, err)
	assert.Equal(t, "thread-7", outcome.ThreadID)
}

func TestWorkflowService_StartResearch_RejectsEmptyQuery(t *testing.T) {
	svc, _ := newTestService(t, scriptedCompletion("最終レポート"), nil)

	_, err := svc.StartResearch(context.Background(), "", "   ")
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestWorkflowService_ResumeResearch_CompletesThread(t *testing.T) {
	svc, _ := newTestService(t, scriptedCompletion("# 量子計算レポート"), nil)
	ctx := context.Background()

	started, err := svc.StartResearch(ctx, "t1", "量子計算の現状は？")
	require.NoError(t, err)
	require.Equal(t, schema.ThreadStatusPendingHuman, started.Status)

	resumed, err := svc.ResumeResearch(ctx, "t1", "n", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ThreadStatusCompleted, resumed.Status)

	snap, err := svc.GetState(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, schema.ThreadStatusCompleted, snap.Status)
	assert.Nil(t, snap.PendingInterrupt)
	assert.Equal(t, "# 量子計算レポート", snap.State[state.FieldReport])
}

func TestWorkflowService_ResumeResearch_InvalidDecisionKeepsPause(t *testing.T) {
	svc, _ := newTestService(t, scriptedCompletion("レポート"), nil)
	ctx := context.Background()

	_, err := svc.StartResearch(ctx, "t1", "クエリ")
	require.NoError(t, err)

	_, err = svc.ResumeResearch(ctx, "t1", "たぶん", nil)
	assert.Equal(t, schema.ErrCodeInvalidDecision, schema.ErrorCode(err))

	snap, err := svc.GetState(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, schema.ThreadStatusPendingHuman, snap.Status)
	assert.NotNil(t, snap.PendingInterrupt, "an unrecognized token must not consume the pause")
}

func TestWorkflowService_RunAuto_SkipsReview(t *testing.T) {
	svc, _ := newTestService(t, scriptedCompletion("自動実行レポート"), nil)

	outcome, err := svc.RunAuto(context.Background(), "", "クエリ")
	require.NoError(t, err)
	assert.Equal(t, schema.ThreadStatusCompleted, outcome.Status)
	assert.Nil(t, outcome.Interrupt)

	snap, err := svc.GetState(context.Background(), outcome.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, false, snap.State[state.FieldHumanEditRequested])
	assert.Equal(t, "自動実行レポート", snap.State[state.FieldReport])
}

// --- Snapshot Tests ---

func TestWorkflowService_GetState_UnknownThread(t *testing.T) {
	svc, _ := newTestService(t, scriptedCompletion("r"), nil)

	_, err := svc.GetState(context.Background(), "ghost")
	assert.Equal(t, schema.ErrCodeStateNotFound, schema.ErrorCode(err))
}

func TestWorkflowService_GetState_ProjectsSanitizedState(t *testing.T) {
	svc, _ := newTestService(t, scriptedCompletion("r"), nil)
	ctx := context.Background()

	_, err := svc.StartResearch(ctx, "t1", "量子計算の現状は？")
	require.NoError(t, err)

	snap, err := svc.GetState(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "量子計算の現状は？", snap.State[state.FieldUserInput])

	plan, ok := snap.State[state.FieldResearchPlan].(map[string]any)
	require.True(t, ok, "plan must project as a plain map")
	assert.Contains(t, plan, "research_plan")
	assert.Positive(t, snap.StepCount)
	assert.False(t, snap.UpdatedAt.IsZero())
}

// --- Listing Tests ---

func TestWorkflowService_ListThreads_SortsByID(t *testing.T) {
	client := scriptedCompletion("r").
		ScriptStructured("research_parameters", validParams()).
		ScriptStructured("research_plan", validPlanDoc())
	svc, _ := newTestService(t, client, nil)
	ctx := context.Background()

	_, err := svc.StartResearch(ctx, "beta", "クエリ1")
	require.NoError(t, err)
	_, err = svc.StartResearch(ctx, "alpha", "クエリ2")
	require.NoError(t, err)

	threads, err := svc.ListThreads(ctx)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "alpha", threads[0].ThreadID)
	assert.Equal(t, "beta", threads[1].ThreadID)
	for _, th := range threads {
		assert.Equal(t, schema.ThreadStatusPendingHuman, th.Status)
		assert.NotNil(t, th.PendingInterrupt)
	}
}

func TestWorkflowService_ListPendingInterrupts_OnlyPausedThreads(t *testing.T) {
	client := scriptedCompletion("r").
		ScriptStructured("research_parameters", validParams()).
		ScriptStructured("research_plan", validPlanDoc()).
		ScriptTurn(state.NewAssistantMessage(state.TextFragment("自動レポート")))
	svc, _ := newTestService(t, client, nil)
	ctx := context.Background()

	_, err := svc.StartResearch(ctx, "paused", "クエリ1")
	require.NoError(t, err)
	_, err = svc.RunAuto(ctx, "done", "クエリ2")
	require.NoError(t, err)

	pending, err := svc.ListPendingInterrupts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "paused", pending[0].ThreadID)
	require.NotNil(t, pending[0].Interrupt)
	assert.Equal(t, research.PlanReviewPauseID("paused"), pending[0].Interrupt.ID)
}

func TestWorkflowService_Diagnostics_CountsLiveWork(t *testing.T) {
	client := scriptedCompletion("r").
		ScriptStructured("research_parameters", validParams()).
		ScriptStructured("research_plan", validPlanDoc()).
		ScriptTurn(state.NewAssistantMessage(state.TextFragment("自動レポート")))
	svc, _ := newTestService(t, client, nil)
	ctx := context.Background()

	_, err := svc.StartResearch(ctx, "paused", "クエリ1")
	require.NoError(t, err)
	_, err = svc.RunAuto(ctx, "done", "クエリ2")
	require.NoError(t, err)

	diag, err := svc.Diagnostics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, diag.ActiveThreads, "completed threads are not active")
	assert.Equal(t, 1, diag.PendingInterrupts)
	assert.Equal(t, engine.DefaultStepLimit, diag.RecursionLimit)
}

// --- Streaming Tests ---

func TestWorkflowService_Subscribe_DeliversThreadEvents(t *testing.T) {
	hub := streaming.NewMemoryHub()
	defer hub.Close()
	svc, _ := newTestService(t, scriptedCompletion("レポート"), hub)
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, streaming.Filter{ThreadID: "t1"})
	require.NoError(t, err)
	defer svc.Unsubscribe(sub.ID)

	_, err = svc.RunAuto(ctx, "t1", "クエリ")
	require.NoError(t, err)

	var names []string
	deadline := time.After(2 * time.Second)
	for len(names) == 0 || names[len(names)-1] != schema.EventThreadCompleted {
		select {
		case ev, ok := <-sub.Events:
			require.True(t, ok, "feed closed before the run finished")
			assert.Equal(t, "t1", ev.ThreadID)
			names = append(names, ev.Name)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", names)
		}
	}
	assert.Equal(t, schema.EventThreadStarted, names[0])
	assert.Contains(t, names, schema.EventPauseAutoResolved)
}

func TestWorkflowService_Subscribe_WithoutHub(t *testing.T) {
	svc, _ := newTestService(t, scriptedCompletion("r"), nil)

	_, err := svc.Subscribe(context.Background(), streaming.Filter{})
	assert.Equal(t, schema.ErrCodeInternal, schema.ErrorCode(err))
}

// --- Restart Tests ---

func TestWorkflowService_Rehydrate_RestoresResumability(t *testing.T) {
	ctx := context.Background()
	client := scriptedCompletion("再開レポート")

	registry, err := research.NewToolRegistry(client, &fixedSearcher{})
	require.NoError(t, err)
	g, err := research.NewGraph(client, registry, quietLogger())
	require.NoError(t, err)
	store := checkpoint.NewMemoryStore()

	eng1, err := engine.New(engine.Config{Graph: g, Store: store, Logger: quietLogger()})
	require.NoError(t, err)
	svc1, err := New(Config{Engine: eng1, Store: store, Logger: quietLogger()})
	require.NoError(t, err)
	_, err = svc1.StartResearch(ctx, "t1", "クエリ")
	require.NoError(t, err)

	// A fresh engine over the same store stands in for a process restart.
	eng2, err := engine.New(engine.Config{Graph: g, Store: store, Logger: quietLogger()})
	require.NoError(t, err)
	svc2, err := New(Config{Engine: eng2, Store: store, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = svc2.ResumeResearch(ctx, "t1", "n", nil)
	assert.Equal(t, schema.ErrCodeHitlNotEnabled, schema.ErrorCode(err))

	require.NoError(t, svc2.Rehydrate(ctx))
	outcome, err := svc2.ResumeResearch(ctx, "t1", "n", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ThreadStatusCompleted, outcome.Status)
}
