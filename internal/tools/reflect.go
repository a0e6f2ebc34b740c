package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Milix-M/DeepReSearch/internal/state"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

const reflectName = "reflect_on_results"

// Analyzer judges a batch of search results against the query that produced
// them. The model layer provides the implementation.
type Analyzer interface {
	Analyze(ctx context.Context, query, results string) (*state.Analysis, error)
}

// Reflect is the reflect_on_results tool: it hands the collected results to
// the analyzer and reports the insights, gaps, and improved queries back to
// the research loop together with the iteration counters it was given.
type Reflect struct {
	analyzer Analyzer
}

var _ Tool = (*Reflect)(nil)

// NewReflect wires the tool to an analyzer.
func NewReflect(analyzer Analyzer) *Reflect {
	return &Reflect{analyzer: analyzer}
}

func (r *Reflect) Definition() Definition {
	return Definition{
		Name: reflectName,
		Description: "検索結果を分析し、重要な洞察・情報のギャップ・矛盾点を特定して、" +
			"さらなる調査のための改善クエリを提案するツールです。",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "検索に使用したクエリ（必須）",
				},
				"results": map[string]any{
					"type":        "string",
					"description": "分析対象の検索結果（必須）",
				},
				"iteration": map[string]any{
					"type":        "integer",
					"description": "現在の検索反復回数",
				},
				"total_iterations": map[string]any{
					"type":        "integer",
					"description": "予定されている検索反復の総数",
				},
			},
			"required": []string{"query", "results", "iteration", "total_iterations"},
		},
	}
}

func (r *Reflect) Call(ctx context.Context, input map[string]any) (string, error) {
	query := stringInput(input, "query")
	if strings.TrimSpace(query) == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "reflect_on_results requires a non-empty query")
	}
	results := stringInput(input, "results")
	if strings.TrimSpace(results) == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "reflect_on_results requires non-empty results")
	}
	iteration := intInput(input, "iteration", 1)
	total := intInput(input, "total_iterations", iteration)

	analysis, err := r.analyzer.Analyze(ctx, query, results)
	if err != nil {
		return "", err
	}

	echo := struct {
		*state.Analysis
		CurrentIteration int `json:"current_iteration"`
		TotalIterations  int `json:"total_iterations"`
	}{
		Analysis:         analysis,
		CurrentIteration: iteration,
		TotalIterations:  total,
	}
	raw, err := json.Marshal(echo)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeInternal, "reflect_on_results analysis is not JSON-representable").WithCause(err)
	}
	return string(raw), nil
}
