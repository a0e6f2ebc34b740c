// Package hitl decides which pauses are surfaced to a human. A pause the
// predicate rejects is auto-answered with the default negative decision and
// execution continues.
package hitl

import (
	"context"
	"strings"

	"github.com/Milix-M/DeepReSearch/internal/expressions"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// Default predicate: the research-plan judgement pause is the one
// human-facing pause the graph raises, recognized by its prompt wording or
// its id suffix.
const (
	DefaultEngine     = "expr"
	DefaultExpression = `prompt contains "編集しますか" || id contains "_research_plan_human_judge"`
)

// Predicate reports whether a pause should reach a human.
type Predicate interface {
	Matches(pause schema.PauseDescriptor) bool
}

// ExpressionPredicate evaluates a configured expression against the pause
// descriptor's fields (id, prompt, value).
type ExpressionPredicate struct {
	engine     expressions.Engine
	expression string
}

var _ Predicate = (*ExpressionPredicate)(nil)

// New builds a predicate from an "engine:expression" spec, e.g.
// `expr:prompt contains "編集"`. Engines: cel, expr, jq. An empty spec gives
// the default predicate. A malformed expression fails here, not at pause
// time.
func New(spec string) (Predicate, error) {
	if strings.TrimSpace(spec) == "" {
		return Default(), nil
	}
	name, expression, ok := strings.Cut(spec, ":")
	if !ok || strings.TrimSpace(expression) == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"malformed pause predicate %q: expected engine:expression", spec)
	}

	engine, err := newEngine(strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	p := &ExpressionPredicate{engine: engine, expression: expression}

	// Compile eagerly; only structural failures matter here.
	if _, err := engine.Evaluate(context.Background(), expression, pauseVars(schema.PauseDescriptor{})); err != nil {
		if schema.IsCode(err, schema.ErrCodeValidation) {
			return nil, err
		}
	}
	return p, nil
}

// Default returns the built-in predicate. The expression is a known-good
// constant, so construction cannot fail.
func Default() Predicate {
	return &ExpressionPredicate{
		engine:     expressions.NewExprEngine(),
		expression: DefaultExpression,
	}
}

// Matches evaluates the predicate. Evaluation failure surfaces the pause to
// the human rather than silently auto-answering it.
func (p *ExpressionPredicate) Matches(pause schema.PauseDescriptor) bool {
	out, err := p.engine.Evaluate(context.Background(), p.expression, pauseVars(pause))
	if err != nil {
		return true
	}
	return expressions.Truthy(out)
}

func newEngine(name string) (expressions.Engine, error) {
	switch name {
	case "cel":
		return expressions.NewCELEngine()
	case "expr":
		return expressions.NewExprEngine(), nil
	case "jq":
		return expressions.NewGoJQEngine(), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown predicate engine %q: expected cel, expr, or jq", name)
	}
}

func pauseVars(pause schema.PauseDescriptor) map[string]any {
	value := pause.Prompt
	if value == nil {
		value = map[string]any{}
	}
	return map[string]any{
		"id":     pause.ID,
		"prompt": pause.PromptText(),
		"value":  value,
	}
}
