// Package model adapts the Anthropic Messages API to the two call shapes the
// research steps use: schema-constrained JSON generation and tool-assisted
// conversation turns.
package model

import (
	"context"

	"github.com/Milix-M/DeepReSearch/internal/state"
	"github.com/Milix-M/DeepReSearch/internal/tools"
)

// Client is the model surface the research steps depend on.
//
// GenerateStructured fills out with a JSON document matching out's reflected
// schema. GenerateWithTools runs one conversation turn in which the model may
// answer with text, tool calls, or both.
type Client interface {
	GenerateStructured(ctx context.Context, prompt, schemaName string, out any) error
	GenerateWithTools(ctx context.Context, system string, msgs []state.Message, defs []tools.Definition) (state.Message, error)
}
