package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Milix-M/DeepReSearch/internal/state"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

func noopStep(ctx context.Context, st *state.WorkflowState, cfg RunConfig) (StepResult, error) {
	return NoOp(), nil
}

// --- StepResult union ---

func TestStepResult_Kinds(t *testing.T) {
	patch := Patch(map[string]any{"report": "done"})
	assert.Equal(t, KindPatch, patch.Kind())
	assert.Equal(t, "done", patch.Fields()["report"])

	pause := PauseRequest("t1_research_plan_human_judge", "編集しますか？")
	assert.Equal(t, KindPause, pause.Kind())
	id, prompt := pause.Pause()
	assert.Equal(t, "t1_research_plan_human_judge", id)
	assert.Equal(t, "編集しますか？", prompt)

	noop := NoOp()
	assert.Equal(t, KindNoOp, noop.Kind())
	assert.Nil(t, noop.Fields())
}

func TestStepResult_PatchField(t *testing.T) {
	r := PatchField("report", "text")
	assert.Equal(t, KindPatch, r.Kind())
	assert.Equal(t, map[string]any{"report": "text"}, r.Fields())
}

func TestResultKind_String(t *testing.T) {
	assert.Equal(t, "patch", KindPatch.String())
	assert.Equal(t, "pause", KindPause.String())
	assert.Equal(t, "noop", KindNoOp.String())
}

// --- RunConfig ---

func TestRunConfig_ResumeValue(t *testing.T) {
	cfg := RunConfig{Resume: map[string]any{"pause-1": "y"}}

	v, ok := cfg.ResumeValue("pause-1")
	require.True(t, ok)
	assert.Equal(t, "y", v)

	_, ok = cfg.ResumeValue("other")
	assert.False(t, ok)

	empty := RunConfig{}
	_, ok = empty.ResumeValue("pause-1")
	assert.False(t, ok)
}

func TestRunConfig_EmitEvent_NilSafe(t *testing.T) {
	cfg := RunConfig{}
	assert.NotPanics(t, func() {
		cfg.EmitEvent("tool_call_started", map[string]any{"tool": "web_research"})
	})

	var got string
	cfg.Emit = func(name string, payload map[string]any) { got = name }
	cfg.EmitEvent("tool_call_started", nil)
	assert.Equal(t, "tool_call_started", got)
}

// --- Construction errors ---

func TestGraph_AddStep_Validation(t *testing.T) {
	g := New()
	require.NoError(t, g.AddStep("a", noopStep))

	assert.Error(t, g.AddStep("a", noopStep), "duplicate name")
	assert.Error(t, g.AddStep("", noopStep), "empty name")
	assert.Error(t, g.AddStep(Start, noopStep), "sentinel name")
	assert.Error(t, g.AddStep("b", nil), "nil function")
}

func TestGraph_AddEdge_Validation(t *testing.T) {
	g := New()
	require.NoError(t, g.AddStep("a", noopStep))

	require.NoError(t, g.AddEdge(Start, "a"))
	assert.Error(t, g.AddEdge(Start, "a"), "second entry edge")
	assert.Error(t, g.AddEdge(End, "a"), "edge leaving end")
	assert.Error(t, g.AddEdge("a", Start), "edge entering start")

	require.NoError(t, g.AddEdge("a", End))
	assert.Error(t, g.AddEdge("a", End), "second outgoing edge")
}

func TestGraph_AddRouter_Validation(t *testing.T) {
	g := New()
	require.NoError(t, g.AddStep("a", noopStep))

	assert.Error(t, g.AddRouter("a", nil, End), "nil router")
	assert.Error(t, g.AddRouter("a", func(*state.WorkflowState) string { return End }), "no targets")

	require.NoError(t, g.AddRouter("a", func(*state.WorkflowState) string { return End }, End))
	assert.Error(t, g.AddEdge("a", End), "edge after router")
}

// --- Compile ---

func buildLinearGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	require.NoError(t, g.AddStep("a", noopStep))
	require.NoError(t, g.AddStep("b", noopStep))
	require.NoError(t, g.AddEdge(Start, "a"))
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", End))
	return g
}

func TestGraph_Compile_Valid(t *testing.T) {
	g := buildLinearGraph(t)
	require.NoError(t, g.Compile())
	assert.True(t, g.Compiled())
	assert.Equal(t, "a", g.Entry())
}

func TestGraph_Compile_NoEntry(t *testing.T) {
	g := New()
	require.NoError(t, g.AddStep("a", noopStep))
	require.NoError(t, g.AddEdge("a", End))
	require.Error(t, g.Compile())
}

func TestGraph_Compile_DanglingEdge(t *testing.T) {
	g := New()
	require.NoError(t, g.AddStep("a", noopStep))
	require.NoError(t, g.AddEdge(Start, "a"))
	require.NoError(t, g.AddEdge("a", "ghost"))
	err := g.Compile()
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInternal, schema.ErrorCode(err))
}

func TestGraph_Compile_DeadEndStep(t *testing.T) {
	g := New()
	require.NoError(t, g.AddStep("a", noopStep))
	require.NoError(t, g.AddEdge(Start, "a"))
	require.Error(t, g.Compile(), "step a has no way out")
}

func TestGraph_Compile_UnreachableStep(t *testing.T) {
	g := buildLinearGraph(t)
	require.NoError(t, g.AddStep("island", noopStep))
	require.NoError(t, g.AddEdge("island", End))
	err := g.Compile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "island")
}

func TestGraph_Compile_RouterTargetsChecked(t *testing.T) {
	g := New()
	require.NoError(t, g.AddStep("a", noopStep))
	require.NoError(t, g.AddEdge(Start, "a"))
	require.NoError(t, g.AddRouter("a", func(*state.WorkflowState) string { return "ghost" }, "ghost"))
	require.Error(t, g.Compile())
}

// --- Walking ---

func TestGraph_Next_UnconditionalEdge(t *testing.T) {
	g := buildLinearGraph(t)
	require.NoError(t, g.Compile())

	next, err := g.Next("a", state.New("q"))
	require.NoError(t, err)
	assert.Equal(t, "b", next)

	next, err = g.Next("b", state.New("q"))
	require.NoError(t, err)
	assert.Equal(t, End, next)
}

func TestGraph_Next_RouterBranches(t *testing.T) {
	g := New()
	require.NoError(t, g.AddStep("judge", noopStep))
	require.NoError(t, g.AddStep("edit", noopStep))
	require.NoError(t, g.AddStep("research", noopStep))
	require.NoError(t, g.AddEdge(Start, "judge"))
	require.NoError(t, g.AddRouter("judge", func(st *state.WorkflowState) string {
		if st.HumanEditRequested != nil && *st.HumanEditRequested {
			return "edit"
		}
		return "research"
	}, "edit", "research"))
	require.NoError(t, g.AddEdge("edit", "research"))
	require.NoError(t, g.AddEdge("research", End))
	require.NoError(t, g.Compile())

	st := state.New("q")
	next, err := g.Next("judge", st)
	require.NoError(t, err)
	assert.Equal(t, "research", next, "unset flag routes to research")

	yes := true
	st.HumanEditRequested = &yes
	next, err = g.Next("judge", st)
	require.NoError(t, err)
	assert.Equal(t, "edit", next)
}

func TestGraph_Next_UndeclaredRouterTarget(t *testing.T) {
	g := New()
	require.NoError(t, g.AddStep("a", noopStep))
	require.NoError(t, g.AddEdge(Start, "a"))
	require.NoError(t, g.AddRouter("a", func(*state.WorkflowState) string { return "rogue" }, End))
	require.NoError(t, g.Compile())

	_, err := g.Next("a", state.New("q"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInternal, schema.ErrorCode(err))
}

func TestGraph_Step_Unknown(t *testing.T) {
	g := buildLinearGraph(t)
	_, err := g.Step("missing")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInternal, schema.ErrorCode(err))
}
