package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeStateNotFound     = "STATE_NOT_FOUND"
	ErrCodeInterruptNotFound = "INTERRUPT_NOT_FOUND"
	ErrCodeHitlNotEnabled    = "HITL_NOT_ENABLED"
	ErrCodeStepLimitExceeded = "STEP_LIMIT_EXCEEDED"
	ErrCodeStepFailed        = "STEP_FAILED"
	ErrCodeModel             = "MODEL_ERROR"
	ErrCodeInvalidDecision   = "INVALID_DECISION"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// AgentError is the structured error type for all agent operations.
type AgentError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *AgentError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AgentError) Unwrap() error {
	return e.Cause
}

// NewError creates a new AgentError.
func NewError(code, message string) *AgentError {
	return &AgentError{Code: code, Message: message}
}

// NewErrorf creates a new AgentError with a formatted message.
func NewErrorf(code, format string, args ...any) *AgentError {
	return &AgentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches the step name where the error occurred.
func (e *AgentError) WithStep(step string) *AgentError {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *AgentError) WithCause(err error) *AgentError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *AgentError) WithDetails(details map[string]any) *AgentError {
	e.Details = details
	return e
}

// ErrorCode extracts the code from an AgentError anywhere in err's chain.
// Returns ErrCodeInternal for non-agent errors.
func ErrorCode(err error) string {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code string) bool {
	var ae *AgentError
	return errors.As(err, &ae) && ae.Code == code
}
