package state

import (
	"encoding/json"

	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// Patchable field names. Step patches address state fields by these keys.
const (
	FieldUserInput          = "user_input"
	FieldResearchParameters = "research_parameters"
	FieldResearchPlan       = "research_plan"
	FieldAnalysis           = "analysis"
	FieldHumanEditRequested = "human_edit_requested"
	FieldMessages           = "messages"
	FieldReport             = "report"
)

// WorkflowState is the single mutable-across-steps record for one thread.
// Steps never mutate it directly; the engine applies their patches through
// Merge. Messages is an append-only ledger: its order is the causal order
// of the run.
type WorkflowState struct {
	UserInput          string                `json:"user_input,omitempty"`
	ResearchParameters *ResearchParameters   `json:"research_parameters,omitempty"`
	ResearchPlan       *ResearchPlanDocument `json:"research_plan,omitempty"`
	Analysis           *Analysis             `json:"analysis,omitempty"`
	HumanEditRequested *bool                 `json:"human_edit_requested,omitempty"`
	Messages           []Message             `json:"messages,omitempty"`
	Report             string                `json:"report,omitempty"`
}

// New returns the initial state for a fresh thread.
func New(query string) *WorkflowState {
	return &WorkflowState{UserInput: query}
}

// Merge applies a field patch. Message patches append to the ledger; every
// other field replaces. Structured sub-records re-enter through their
// canonicalize functions, so a patch can carry a struct, a legacy shape, a
// mapping, or raw JSON and still end up validated.
func (s *WorkflowState) Merge(patch map[string]any) error {
	for field, value := range patch {
		if err := s.applyField(field, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *WorkflowState) applyField(field string, value any) error {
	switch field {
	case FieldUserInput:
		text, ok := value.(string)
		if !ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "user_input must be a string, got %T", value)
		}
		s.UserInput = text

	case FieldReport:
		text, ok := value.(string)
		if !ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "report must be a string, got %T", value)
		}
		s.Report = text

	case FieldHumanEditRequested:
		flag, ok := value.(bool)
		if !ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "human_edit_requested must be a bool, got %T", value)
		}
		s.HumanEditRequested = &flag

	case FieldResearchParameters:
		params, err := CanonicalizeParameters(value)
		if err != nil {
			return err
		}
		s.ResearchParameters = params

	case FieldResearchPlan:
		plan, err := CanonicalizePlan(value)
		if err != nil {
			return err
		}
		s.ResearchPlan = plan

	case FieldAnalysis:
		analysis, err := CanonicalizeAnalysis(value)
		if err != nil {
			return err
		}
		s.Analysis = analysis

	case FieldMessages:
		appended, err := coerceMessages(value)
		if err != nil {
			return err
		}
		s.Messages = append(s.Messages, appended...)

	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown state field %q", field)
	}
	return nil
}

// coerceMessages accepts a single message, a message slice, or a generic
// slice of message-shaped values (as restored from a checkpoint).
func coerceMessages(value any) ([]Message, error) {
	switch tv := value.(type) {
	case Message:
		return []Message{tv}, nil
	case *Message:
		if tv == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "messages patch must not carry a nil message")
		}
		return []Message{*tv}, nil
	case []Message:
		return tv, nil
	case []any:
		out := make([]Message, 0, len(tv))
		for _, item := range tv {
			if msg, ok := item.(Message); ok {
				out = append(out, msg)
				continue
			}
			raw, err := json.Marshal(item)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "messages patch item is not JSON-representable").WithCause(err)
			}
			var msg Message
			if err := json.Unmarshal(raw, &msg); err != nil {
				return nil, schema.NewError(schema.ErrCodeValidation, "messages patch item does not look like a message").WithCause(err)
			}
			out = append(out, msg)
		}
		return out, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "messages patch must be a message or message list, got %T", value)
	}
}

// Clone deep-copies the state for a checkpoint snapshot. The copy shares
// nothing with the original, so later steps cannot mutate persisted history.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	out := &WorkflowState{
		UserInput: s.UserInput,
		Report:    s.Report,
	}
	if s.ResearchParameters != nil {
		params := *s.ResearchParameters
		out.ResearchParameters = &params
	}
	if s.ResearchPlan != nil {
		plan := *s.ResearchPlan
		plan.ResearchPlan.Sections = make([]PlanSection, len(s.ResearchPlan.ResearchPlan.Sections))
		for i, section := range s.ResearchPlan.ResearchPlan.Sections {
			cp := section
			cp.KeyQuestions = append([]string(nil), section.KeyQuestions...)
			plan.ResearchPlan.Sections[i] = cp
		}
		out.ResearchPlan = &plan
	}
	if s.Analysis != nil {
		analysis := *s.Analysis
		analysis.KeyInsights = append([]KeyInsight(nil), s.Analysis.KeyInsights...)
		analysis.InformationGaps = append([]string(nil), s.Analysis.InformationGaps...)
		analysis.Contradictions = append([]string(nil), s.Analysis.Contradictions...)
		analysis.ImprovedQueries = append([]ImprovedQuery(nil), s.Analysis.ImprovedQueries...)
		out.Analysis = &analysis
	}
	if s.HumanEditRequested != nil {
		flag := *s.HumanEditRequested
		out.HumanEditRequested = &flag
	}
	if len(s.Messages) > 0 {
		out.Messages = make([]Message, len(s.Messages))
		for i, msg := range s.Messages {
			out.Messages[i] = msg.Clone()
		}
	}
	return out
}

// LatestMessage returns the last ledger entry, or false when the ledger is
// empty.
func (s *WorkflowState) LatestMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// ExportFields renders the state as a plain mapping for event payloads and
// API snapshots.
func (s *WorkflowState) ExportFields() map[string]any {
	raw, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"user_input": s.UserInput}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"user_input": s.UserInput}
	}
	return out
}
