package state

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// planOverrideSchemaJSON is the JSON Schema for externally supplied plan
// overrides (human edits arriving at the resume boundary). Embedded as a
// constant to avoid filesystem dependencies.
const planOverrideSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://deepresearch.dev/schemas/plan-override.json",
  "type": "object",
  "required": ["research_plan"],
  "properties": {
    "research_plan": {
      "type": "object",
      "required": ["purpose", "sections"],
      "properties": {
        "purpose": { "type": "string", "minLength": 1 },
        "sections": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/section" }
        },
        "structure": {
          "type": "object",
          "properties": {
            "introduction": { "type": "string" },
            "conclusion": { "type": "string" }
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    },
    "meta_analysis": { "type": "string" }
  },
  "additionalProperties": false,
  "$defs": {
    "section": {
      "type": "object",
      "required": ["title"],
      "properties": {
        "title": { "type": "string", "minLength": 1 },
        "focus": { "type": "string" },
        "key_questions": {
          "type": "array",
          "items": { "type": "string" }
        }
      },
      "additionalProperties": false
    }
  }
}`

var (
	planOverrideOnce   sync.Once
	planOverrideSchema *jsonschema.Schema
	planOverrideErr    error
)

func compiledPlanOverrideSchema() (*jsonschema.Schema, error) {
	planOverrideOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.AssertFormat()

		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(planOverrideSchemaJSON))
		if err != nil {
			planOverrideErr = fmt.Errorf("unmarshal plan override schema: %w", err)
			return
		}
		if err := c.AddResource("https://deepresearch.dev/schemas/plan-override.json", doc); err != nil {
			planOverrideErr = fmt.Errorf("add plan override schema resource: %w", err)
			return
		}
		planOverrideSchema, planOverrideErr = c.Compile("https://deepresearch.dev/schemas/plan-override.json")
	})
	return planOverrideSchema, planOverrideErr
}

// ValidatePlanOverride checks an externally supplied plan override against
// the embedded JSON Schema before it is canonicalized. Structural failures
// come back as VALIDATION_ERROR with per-location violations in the details.
func ValidatePlanOverride(override map[string]any) error {
	if override == nil {
		return schema.NewError(schema.ErrCodeValidation, "plan override is nil")
	}

	compiled, err := compiledPlanOverrideSchema()
	if err != nil {
		return schema.NewError(schema.ErrCodeInternal, "plan override schema failed to compile").WithCause(err)
	}

	doc, err := toJSONValue(override)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "plan override is not JSON-representable").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toValidationError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding so that numbers
// become json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
}

// toValidationError converts a jsonschema.ValidationError into an AgentError
// with actionable per-location messages.
func toValidationError(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	msg := violations[0]
	if len(violations) > 1 {
		msg = fmt.Sprintf("plan override failed validation with %d errors", len(violations))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks the ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
