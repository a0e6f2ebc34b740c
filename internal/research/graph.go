package research

import (
	"log/slog"

	"github.com/Milix-M/DeepReSearch/internal/graph"
	"github.com/Milix-M/DeepReSearch/internal/model"
	"github.com/Milix-M/DeepReSearch/internal/tools"
)

// NewGraph builds and compiles the deep-research step graph:
//
//	start → derive_parameters → make_plan → human_judge
//	human_judge → edit_plan (edit requested) | prepare_research
//	edit_plan → prepare_research → deep_research_loop
//	deep_research_loop → tool_exec (tool calls pending) | write_result
//	tool_exec → deep_research_loop
//	write_result → end
func NewGraph(client model.Client, registry *tools.Registry, logger *slog.Logger) (*graph.Graph, error) {
	steps, err := NewSteps(client, registry, logger)
	if err != nil {
		return nil, err
	}

	g := graph.New()
	wire := func(e error) {
		if err == nil {
			err = e
		}
	}

	wire(g.AddStep(StepDeriveParameters, steps.deriveParameters))
	wire(g.AddStep(StepMakePlan, steps.makePlan))
	wire(g.AddStep(StepHumanJudge, steps.humanJudge))
	wire(g.AddStep(StepEditPlan, steps.editPlan))
	wire(g.AddStep(StepPrepareResearch, steps.prepareResearch))
	wire(g.AddStep(StepDeepResearchLoop, steps.deepResearchLoop))
	wire(g.AddStep(StepToolExec, steps.toolExec))
	wire(g.AddStep(StepWriteResult, steps.writeResult))

	wire(g.AddEdge(graph.Start, StepDeriveParameters))
	wire(g.AddEdge(StepDeriveParameters, StepMakePlan))
	wire(g.AddEdge(StepMakePlan, StepHumanJudge))
	wire(g.AddRouter(StepHumanJudge, routeAfterJudge, StepEditPlan, StepPrepareResearch))
	wire(g.AddEdge(StepEditPlan, StepPrepareResearch))
	wire(g.AddEdge(StepPrepareResearch, StepDeepResearchLoop))
	wire(g.AddRouter(StepDeepResearchLoop, routeAfterResearch, StepToolExec, StepWriteResult))
	wire(g.AddEdge(StepToolExec, StepDeepResearchLoop))
	wire(g.AddEdge(StepWriteResult, graph.End))

	if err != nil {
		return nil, err
	}
	if err := g.Compile(); err != nil {
		return nil, err
	}
	return g, nil
}

// NewToolRegistry builds the default tool set: web search, model-backed
// result reflection, and the current date.
func NewToolRegistry(client model.Client, searcher tools.Searcher) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	for _, tool := range []tools.Tool{
		tools.NewWebResearch(searcher),
		tools.NewReflect(&reflectAnalyzer{client: client}),
		tools.NewCurrentDate(),
	} {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
