package schema

import "time"

// Event name constants for the progress stream.
const (
	EventThreadStarted     = "thread_started"
	EventThreadCompleted   = "thread_completed"
	EventThreadFailed      = "thread_failed"
	EventThreadResumed     = "thread_resumed"
	EventThreadInterrupted = "thread_interrupted"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"

	EventToolCallStarted   = "tool_call_started"
	EventToolCallCompleted = "tool_call_completed"

	EventPauseRequested    = "pause_requested"
	EventPauseAutoResolved = "pause_auto_resolved"
	EventPauseResolved     = "pause_resolved"
)

// LevelError marks events annotated by the error-marker detector.
const LevelError = "error"

// ProgressEvent is one externally visible unit of execution progress.
// Payload is always sanitized before the event leaves the engine.
type ProgressEvent struct {
	ThreadID  string         `json:"thread_id"`
	Name      string         `json:"name"`
	Step      string         `json:"step,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Level     string         `json:"level,omitempty"`
	Message   string         `json:"message,omitempty"`
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
}

// ThreadStatus represents the lifecycle state of a thread.
type ThreadStatus string

const (
	ThreadStatusRunning      ThreadStatus = "running"
	ThreadStatusPendingHuman ThreadStatus = "pending_human"
	ThreadStatusCompleted    ThreadStatus = "completed"
	ThreadStatusFailed       ThreadStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ThreadStatus) Terminal() bool {
	return s == ThreadStatusCompleted || s == ThreadStatusFailed
}
