// Package research assembles the deep-research step graph: parameter
// derivation, plan generation, human plan review, the tool-assisted search
// loop, and report extraction.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Milix-M/DeepReSearch/internal/graph"
	"github.com/Milix-M/DeepReSearch/internal/model"
	"github.com/Milix-M/DeepReSearch/internal/state"
	"github.com/Milix-M/DeepReSearch/internal/tools"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// Step names, in walk order.
const (
	StepDeriveParameters = "derive_parameters"
	StepMakePlan         = "make_plan"
	StepHumanJudge       = "human_judge"
	StepEditPlan         = "edit_plan"
	StepPrepareResearch  = "prepare_research"
	StepDeepResearchLoop = "deep_research_loop"
	StepToolExec         = "tool_exec"
	StepWriteResult      = "write_result"
)

// Structured-generation schema names.
const (
	schemaResearchParameters = "research_parameters"
	schemaResearchPlan       = "research_plan"
	schemaReflection         = "reflection_result"
)

// Steps holds the collaborators the step bodies call into.
type Steps struct {
	client   model.Client
	registry *tools.Registry
	logger   *slog.Logger
}

// NewSteps wires the step bodies to a model client and tool registry.
func NewSteps(client model.Client, registry *tools.Registry, logger *slog.Logger) (*Steps, error) {
	if client == nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "research steps require a model client")
	}
	if registry == nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "research steps require a tool registry")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Steps{client: client, registry: registry, logger: logger}, nil
}

// deriveParameters asks the model how much searching the query deserves.
func (s *Steps) deriveParameters(ctx context.Context, st *state.WorkflowState, _ graph.RunConfig) (graph.StepResult, error) {
	var params state.ResearchParameters
	prompt := fmt.Sprintf(queryAnalyzePrompt, st.UserInput)
	if err := s.client.GenerateStructured(ctx, prompt, schemaResearchParameters, &params); err != nil {
		return graph.StepResult{}, err
	}
	if err := params.Validate(); err != nil {
		return graph.StepResult{}, err
	}
	return graph.PatchField(state.FieldResearchParameters, &params), nil
}

// makePlan asks the model for the sectioned research plan.
func (s *Steps) makePlan(ctx context.Context, st *state.WorkflowState, _ graph.RunConfig) (graph.StepResult, error) {
	var plan state.ResearchPlanDocument
	prompt := fmt.Sprintf(planPrompt, st.UserInput)
	if err := s.client.GenerateStructured(ctx, prompt, schemaResearchPlan, &plan); err != nil {
		return graph.StepResult{}, err
	}
	if err := plan.Validate(); err != nil {
		return graph.StepResult{}, err
	}
	return graph.PatchField(state.FieldResearchPlan, &plan), nil
}

// humanJudge pauses for the plan review on first entry; on resumed entry it
// reads the injected decision and records the edit flag.
func (s *Steps) humanJudge(_ context.Context, _ *state.WorkflowState, cfg graph.RunConfig) (graph.StepResult, error) {
	pauseID := PlanReviewPauseID(cfg.ThreadID)
	decision, ok := cfg.ResumeValue(pauseID)
	if !ok {
		return graph.PauseRequest(pauseID, PlanReviewPrompt), nil
	}
	edit, err := schema.ParseDecision(fmt.Sprint(decision))
	if err != nil {
		return graph.StepResult{}, err
	}
	return graph.PatchField(state.FieldHumanEditRequested, edit), nil
}

// editPlan revalidates the plan after a human override merged into state.
// Patching it back re-runs canonicalization, so a hand-edited plan takes the
// same validation path as a generated one.
func (s *Steps) editPlan(_ context.Context, st *state.WorkflowState, _ graph.RunConfig) (graph.StepResult, error) {
	if st.ResearchPlan == nil {
		return graph.NoOp(), nil
	}
	if err := st.ResearchPlan.Validate(); err != nil {
		return graph.StepResult{}, err
	}
	return graph.PatchField(state.FieldResearchPlan, st.ResearchPlan), nil
}

// prepareResearch seeds the conversation ledger: the plan-bearing system
// prompt plus the user's original query.
func (s *Steps) prepareResearch(_ context.Context, st *state.WorkflowState, _ graph.RunConfig) (graph.StepResult, error) {
	if st.ResearchParameters == nil || st.ResearchPlan == nil {
		return graph.StepResult{}, schema.NewError(schema.ErrCodeInternal,
			"prepare_research requires derived parameters and a plan")
	}
	planJSON, err := json.Marshal(st.ResearchPlan)
	if err != nil {
		return graph.StepResult{}, schema.NewError(schema.ErrCodeInternal,
			"research plan is not JSON-representable").WithCause(err)
	}

	system := fmt.Sprintf(deepResearchSystemPrompt,
		string(planJSON),
		st.ResearchParameters.SearchQueriesPerSection,
		st.ResearchParameters.SearchIterations)

	return graph.PatchField(state.FieldMessages, []state.Message{
		state.NewSystemMessage(system),
		state.NewHumanMessage(st.UserInput),
	}), nil
}

// deepResearchLoop runs one tool-assisted model turn over the whole ledger.
func (s *Steps) deepResearchLoop(ctx context.Context, st *state.WorkflowState, _ graph.RunConfig) (graph.StepResult, error) {
	reply, err := s.client.GenerateWithTools(ctx, "", st.Messages, s.registry.Definitions())
	if err != nil {
		return graph.StepResult{}, err
	}
	return graph.PatchField(state.FieldMessages, reply), nil
}

// toolExec answers every tool call from the latest assistant turn, in request
// order. Tool failures become error-text results the model can react to
// rather than thread failures.
func (s *Steps) toolExec(ctx context.Context, st *state.WorkflowState, cfg graph.RunConfig) (graph.StepResult, error) {
	last, ok := st.LatestMessage()
	if !ok || !last.HasToolCalls() {
		return graph.StepResult{}, schema.NewError(schema.ErrCodeInternal,
			"tool_exec requires a pending tool call")
	}

	calls := last.ToolCalls()
	results := make([]state.Message, 0, len(calls))
	for _, call := range calls {
		cfg.EmitEvent(schema.EventToolCallStarted, map[string]any{
			"id": call.ID, "tool": call.Name, "input": call.Input,
		})
		content := s.invokeTool(ctx, call)
		cfg.EmitEvent(schema.EventToolCallCompleted, map[string]any{
			"id": call.ID, "tool": call.Name,
		})
		results = append(results, state.NewToolMessage(call.ID, call.Name, content))
	}
	return graph.PatchField(state.FieldMessages, results), nil
}

func (s *Steps) invokeTool(ctx context.Context, call state.Fragment) string {
	tool, err := s.registry.Get(call.Name)
	if err != nil {
		return fmt.Sprintf("Error: tool %q is not registered.", call.Name)
	}
	out, err := tool.Call(ctx, call.Input)
	if err != nil {
		s.logger.WarnContext(ctx, "tool call failed", "tool", call.Name, "error", err)
		return fmt.Sprintf("Error: %s", err.Error())
	}
	return out
}

// writeResult lifts the final assistant answer into the report field.
func (s *Steps) writeResult(_ context.Context, st *state.WorkflowState, _ graph.RunConfig) (graph.StepResult, error) {
	report := ""
	if last, ok := st.LatestMessage(); ok {
		report = last.TextContent()
	}
	return graph.PatchField(state.FieldReport, report), nil
}

// routeAfterJudge picks the edit branch only when the reviewer asked for it.
func routeAfterJudge(st *state.WorkflowState) string {
	if st.HumanEditRequested != nil && *st.HumanEditRequested {
		return StepEditPlan
	}
	return StepPrepareResearch
}

// routeAfterResearch keeps looping while the assistant still wants tools.
func routeAfterResearch(st *state.WorkflowState) string {
	if last, ok := st.LatestMessage(); ok && last.HasToolCalls() {
		return StepToolExec
	}
	return StepWriteResult
}
