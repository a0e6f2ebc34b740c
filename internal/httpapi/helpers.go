package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Milix-M/DeepReSearch/internal/engine"
	"github.com/Milix-M/DeepReSearch/internal/events"
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a plain JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAgentError maps a workflow error onto an HTTP status and renders the
// human-readable message, never the internal representation.
func writeAgentError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"error": agentMessage(err),
		"code":  schema.ErrorCode(err),
	})
}

// statusFor translates error codes into HTTP statuses.
func statusFor(err error) int {
	switch schema.ErrorCode(err) {
	case schema.ErrCodeStateNotFound, schema.ErrCodeInterruptNotFound:
		return http.StatusNotFound
	case schema.ErrCodeValidation, schema.ErrCodeHitlNotEnabled, schema.ErrCodeInvalidDecision:
		return http.StatusBadRequest
	case schema.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// agentMessage extracts the client-facing message from a workflow error.
func agentMessage(err error) string {
	var agentErr *schema.AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Message
	}
	return err.Error()
}

// runOutcomePayload shapes one engine invocation's result for JSON responses.
func runOutcomePayload(outcome *engine.RunOutcome) map[string]any {
	body := map[string]any{
		"thread_id": outcome.ThreadID,
		"status":    outcome.Status,
		"state":     events.Sanitize(outcome.State),
		"events":    outcome.Events,
	}
	if outcome.Interrupt != nil {
		body["pending_interrupt"] = outcome.Interrupt.ExportFields()
	}
	return body
}
