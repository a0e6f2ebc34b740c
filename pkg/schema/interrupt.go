package schema

import "strings"

// PauseDescriptor identifies an outstanding human-in-the-loop suspension.
// It is created when a step requests a pause, held until a matching resume
// decision arrives, and destroyed on resolution.
type PauseDescriptor struct {
	ID     string `json:"id"`
	Prompt any    `json:"prompt"`
}

// ExportFields renders the descriptor in its external {id, value} form.
func (p *PauseDescriptor) ExportFields() map[string]any {
	return map[string]any{"id": p.ID, "value": p.Prompt}
}

// PromptText returns the prompt as a string when it is one, else "".
func (p *PauseDescriptor) PromptText() string {
	if s, ok := p.Prompt.(string); ok {
		return s
	}
	return ""
}

var (
	affirmativeTokens = map[string]struct{}{
		"y": {}, "yes": {}, "true": {}, "1": {}, "はい": {},
	}
	negativeTokens = map[string]struct{}{
		"n": {}, "no": {}, "false": {}, "0": {}, "いいえ": {},
	}
)

// ParseDecision maps a resume decision token to an edit-requested flag.
// Unrecognized tokens fail with ErrCodeInvalidDecision; the caller must
// either re-prompt or leave the pause outstanding, never advance.
func ParseDecision(decision string) (bool, error) {
	token := strings.ToLower(strings.TrimSpace(decision))
	if _, ok := affirmativeTokens[token]; ok {
		return true, nil
	}
	if _, ok := negativeTokens[token]; ok {
		return false, nil
	}
	return false, NewErrorf(ErrCodeInvalidDecision, "unrecognized decision %q: expected y or n", decision)
}
