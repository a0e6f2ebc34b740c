package engine

import (
	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// validTransitions defines the allowed thread lifecycle moves. A transition
// outside the table is a programming error, not a caller error.
var validTransitions = map[schema.ThreadStatus][]schema.ThreadStatus{
	schema.ThreadStatusRunning:      {schema.ThreadStatusPendingHuman, schema.ThreadStatusCompleted, schema.ThreadStatusFailed},
	schema.ThreadStatusPendingHuman: {schema.ThreadStatusRunning, schema.ThreadStatusFailed},
	schema.ThreadStatusCompleted:    {},
	schema.ThreadStatusFailed:       {},
}

// transition validates a status move. Same-status moves are no-ops.
func transition(threadID string, from, to schema.ThreadStatus) error {
	if from == to {
		return nil
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInternal,
		"invalid thread transition: %s -> %s", from, to).
		WithDetails(map[string]any{"thread_id": threadID, "from": string(from), "to": string(to)})
}
