package model

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Milix-M/DeepReSearch/internal/state"
	"github.com/Milix-M/DeepReSearch/internal/tools"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// StructuredCall records one GenerateStructured invocation.
type StructuredCall struct {
	Schema string
	Prompt string
}

// TurnCall records one GenerateWithTools invocation.
type TurnCall struct {
	System   string
	Messages []state.Message
	Tools    []string
}

type turnAnswer struct {
	msg state.Message
	err error
}

// ScriptedClient replays pre-recorded model behavior for tests: structured
// answers are consumed per schema name, conversation turns in call order.
// An exhausted script fails the call rather than inventing output.
type ScriptedClient struct {
	mu         sync.Mutex
	structured map[string][]any
	turns      []turnAnswer

	structuredCalls []StructuredCall
	turnCalls       []TurnCall
}

var _ Client = (*ScriptedClient)(nil)

// NewScripted builds an empty scripted client.
func NewScripted() *ScriptedClient {
	return &ScriptedClient{structured: make(map[string][]any)}
}

// ScriptStructured queues answers for the named schema. Each answer is either
// a value JSON-copied into the caller's target, or an error to return as-is.
func (s *ScriptedClient) ScriptStructured(schemaName string, answers ...any) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.structured[schemaName] = append(s.structured[schemaName], answers...)
	return s
}

// ScriptTurn queues assistant replies for GenerateWithTools in call order.
func (s *ScriptedClient) ScriptTurn(replies ...state.Message) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reply := range replies {
		s.turns = append(s.turns, turnAnswer{msg: reply})
	}
	return s
}

// ScriptTurnError queues a failing conversation turn.
func (s *ScriptedClient) ScriptTurnError(err error) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turnAnswer{err: err})
	return s
}

func (s *ScriptedClient) GenerateStructured(_ context.Context, prompt, schemaName string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.structuredCalls = append(s.structuredCalls, StructuredCall{Schema: schemaName, Prompt: prompt})

	queue := s.structured[schemaName]
	if len(queue) == 0 {
		return schema.NewErrorf(schema.ErrCodeModel, "no scripted answer for schema %q", schemaName)
	}
	next := queue[0]
	s.structured[schemaName] = queue[1:]

	if err, ok := next.(error); ok {
		return err
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return schema.NewError(schema.ErrCodeModel, "scripted answer is not JSON-representable").WithCause(err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return schema.NewError(schema.ErrCodeModel, "scripted answer does not fit the target type").WithCause(err)
	}
	return nil
}

func (s *ScriptedClient) GenerateWithTools(_ context.Context, system string, msgs []state.Message, defs []tools.Definition) (state.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	history := make([]state.Message, len(msgs))
	copy(history, msgs)
	s.turnCalls = append(s.turnCalls, TurnCall{System: system, Messages: history, Tools: names})

	if len(s.turns) == 0 {
		return state.Message{}, schema.NewError(schema.ErrCodeModel, "no scripted conversation turn left")
	}
	next := s.turns[0]
	s.turns = s.turns[1:]
	return next.msg, next.err
}

// StructuredCalls returns every GenerateStructured invocation seen so far.
func (s *ScriptedClient) StructuredCalls() []StructuredCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StructuredCall, len(s.structuredCalls))
	copy(out, s.structuredCalls)
	return out
}

// TurnCalls returns every GenerateWithTools invocation seen so far.
func (s *ScriptedClient) TurnCalls() []TurnCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TurnCall, len(s.turnCalls))
	copy(out, s.turnCalls)
	return out
}
