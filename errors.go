package aimesh

import "fmt"

// Protocol-layer errors. Returned from Request.Validate; abort the pipeline
// before any side effect.

// InvalidAgentIDError reports a malformed or empty agent_id.
type InvalidAgentIDError struct {
	AgentID string
	Reason  string
}

func (e *InvalidAgentIDError) Error() string {
	return fmt.Sprintf("invalid agent id %q: %s", e.AgentID, e.Reason)
}

// MessageTooLargeError reports a payload exceeding MaxPayloadBytes.
type MessageTooLargeError struct {
	Size int
	Max  int
}

func (e *MessageTooLargeError) Error() string {
	return fmt.Sprintf("message too large: %d bytes (max %d)", e.Size, e.Max)
}

// DeadlineExpiredError reports a deadline already in the past at validation
// time.
type DeadlineExpiredError struct {
	DeadlineMs int64
	CurrentMs  int64
}

func (e *DeadlineExpiredError) Error() string {
	return fmt.Sprintf("deadline expired: deadline was %dms, current time is %dms", e.DeadlineMs, e.CurrentMs)
}

// BudgetExceededAtValidationError reports the advisory budget_tokens check
// failing during validation, as distinct from the router's authoritative
// budget book rejection.
type BudgetExceededAtValidationError struct {
	Required  float64
	Available float64
}

func (e *BudgetExceededAtValidationError) Error() string {
	return fmt.Sprintf("budget exceeded at validation: required %.2f, available %.2f", e.Required, e.Available)
}

// ValidationFailedError is the catch-all for field-range violations that
// don't warrant their own type.
type ValidationFailedError struct {
	Reason string
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}
