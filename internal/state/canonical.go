package state

import (
	"encoding/json"

	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// Canonicalizer is implemented by legacy state shapes that can export their
// data as a plain mapping. The export is re-parsed and re-validated into the
// current canonical struct; it is never trusted as already valid. This is how
// checkpoints written under an older schema version are recovered.
type Canonicalizer interface {
	ToCanonical() (map[string]any, error)
}

// CanonicalizeParameters re-derives validated ResearchParameters from any
// accepted shape: the canonical struct (copied), a Canonicalizer export, a
// plain mapping, or raw JSON. Anything else fails with a validation error.
func CanonicalizeParameters(v any) (*ResearchParameters, error) {
	out := &ResearchParameters{}
	if err := canonicalize(v, out, "research_parameters"); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// CanonicalizePlan re-derives a validated ResearchPlanDocument, accepting the
// same shapes as CanonicalizeParameters.
func CanonicalizePlan(v any) (*ResearchPlanDocument, error) {
	out := &ResearchPlanDocument{}
	if err := canonicalize(v, out, "research_plan"); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// CanonicalizeAnalysis re-derives a validated Analysis, accepting the same
// shapes as CanonicalizeParameters.
func CanonicalizeAnalysis(v any) (*Analysis, error) {
	out := &Analysis{}
	if err := canonicalize(v, out, "analysis"); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// canonicalize routes a candidate value through a JSON round-trip into out.
// The round-trip applies even to already-canonical structs so that
// revalidation is one code path and provably idempotent.
func canonicalize(v any, out any, field string) error {
	switch tv := v.(type) {
	case nil:
		return schema.NewErrorf(schema.ErrCodeValidation, "%s must not be nil", field)
	case Canonicalizer:
		m, err := tv.ToCanonical()
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"%s legacy shape export failed", field).WithCause(err)
		}
		return decodeInto(m, out, field)
	case map[string]any:
		return decodeInto(tv, out, field)
	case json.RawMessage:
		return unmarshalInto(tv, out, field)
	case []byte:
		return unmarshalInto(tv, out, field)
	case string:
		return unmarshalInto([]byte(tv), out, field)
	default:
		return decodeInto(tv, out, field)
	}
}

// decodeInto re-parses an arbitrary JSON-shaped value into out.
func decodeInto(v any, out any, field string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"%s is not JSON-representable", field).WithCause(err)
	}
	return unmarshalInto(raw, out, field)
}

func unmarshalInto(raw []byte, out any, field string) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"%s does not match the current schema", field).WithCause(err)
	}
	return nil
}
