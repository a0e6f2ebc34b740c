// Package tools implements the callable tools the research loop exposes to
// the model: web search, result reflection, and the current date. Each tool
// declares a JSON-schema input and returns its result as text for a tool
// message.
package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// Definition describes one callable tool in the form the model API consumes.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Tool executes one requested call.
type Tool interface {
	Definition() Definition
	Call(ctx context.Context, input map[string]any) (string, error)
}

// Registry holds the tools exposed to the research loop, in registration
// order: the order is part of what the model sees.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Returns an error on a duplicate name.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return schema.NewError(schema.ErrCodeValidation, "tool is nil")
	}
	name := tool.Definition().Name
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "tool %q not registered", name)
	}
	return tool, nil
}

// Definitions returns every registered tool's definition in registration
// order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Definition())
	}
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

func stringInput(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

// intInput tolerates the numeric types JSON decoding produces.
func intInput(input map[string]any, key string, def int) int {
	switch v := input[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}
