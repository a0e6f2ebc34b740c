package research

import (
	"context"
	"fmt"

	"github.com/Milix-M/DeepReSearch/internal/model"
	"github.com/Milix-M/DeepReSearch/internal/state"
	"github.com/Milix-M/DeepReSearch/internal/tools"
)

// reflectAnalyzer backs the reflect_on_results tool with a structured model
// call over the reflection schema.
type reflectAnalyzer struct {
	client model.Client
}

var _ tools.Analyzer = (*reflectAnalyzer)(nil)

func (a *reflectAnalyzer) Analyze(ctx context.Context, query, results string) (*state.Analysis, error) {
	var analysis state.Analysis
	prompt := fmt.Sprintf(reflectPrompt, query, results)
	if err := a.client.GenerateStructured(ctx, prompt, schemaReflection, &analysis); err != nil {
		return nil, err
	}
	if err := analysis.Validate(); err != nil {
		return nil, err
	}
	return &analysis, nil
}
