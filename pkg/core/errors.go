package core

import (
	"context"
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: condition_not_met, timeout, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches predefined errors by code so wrapped copies still compare equal.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Category == t.Category
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Assertion errors
	ErrConditionNotMet = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "condition_not_met",
		Message:  "condition was not met",
	}
	ErrAnswerMismatch = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "answer_mismatch",
		Message:  "answer does not match expected value",
	}
	ErrTextNotFound = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "text_not_found",
		Message:  "text not found on screen",
	}
	ErrPollExhausted = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "poll_exhausted",
		Message:  "predicate never held within the attempt budget",
	}

	// Timeout errors
	ErrTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "operation timed out",
	}
	ErrTestTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "test_timeout",
		Message:  "test case exceeded its timeout",
	}

	// Connection errors
	ErrBackendUnreachable = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "backend_unreachable",
		Message:  "could not connect to automation controller",
	}
	ErrCredentialsRejected = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "credentials_rejected",
		Message:  "automation controller rejected the credentials",
	}

	// Backend errors
	ErrBackendCall = &ExecutionError{
		Category: ErrCategoryBackend,
		Code:     "backend_call_failed",
		Message:  "automation backend call failed",
	}
	ErrPredicateErrored = &ExecutionError{
		Category: ErrCategoryBackend,
		Code:     "predicate_errored",
		Message:  "backend failed on every poll attempt",
	}

	// Device errors
	ErrDeviceCommand = &ExecutionError{
		Category: ErrCategoryDevice,
		Code:     "device_command_failed",
		Message:  "device command failed",
	}
	ErrDeviceNotFound = &ExecutionError{
		Category: ErrCategoryDevice,
		Code:     "device_not_found",
		Message:  "no connected device",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required field",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// CategoryOf classifies any error. Context deadlines count as timeouts even
// when they are not wrapped in an ExecutionError.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryNone
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCategoryTimeout
	}
	return ErrCategoryBackend
}

// CodeOf returns the machine-readable code of err, or "unknown".
func CodeOf(err error) string {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout.Code
	}
	return "unknown"
}
