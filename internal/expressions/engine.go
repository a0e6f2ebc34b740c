// Package expressions evaluates small configured expressions against
// JSON-shaped data. Three engines: CEL and Expr for pause-selection
// predicates, GoJQ for predicates and event-stream filters.
package expressions

import "context"

// Engine evaluates an expression against a data map.
// Implementations cache compiled programs and are safe for concurrent use.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Truthy reduces an evaluation result to the boolean predicate callers
// need: nil and false are false, everything else is true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		return true
	}
}
