package core

// StepStatus represents the execution status of a step or test case
type StepStatus int

const (
	StatusPending StepStatus = iota // Not yet started
	StatusRunning                   // Currently executing
	StatusPassed                    // Completed successfully
	StatusFailed                    // Assertion failed (predicate never held, answer mismatched)
	StatusErrored                   // Unexpected error (backend, device, timeout)
	StatusSkipped                   // Condition not met or previous step failed
	StatusWarned                    // Optional step failed (non-blocking)
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusErrored:
		return "errored"
	case StatusSkipped:
		return "skipped"
	case StatusWarned:
		return "warned"
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusSkipped, StatusWarned:
		return true
	default:
		return false
	}
}

// IsSuccess returns true if the status indicates success (passed or warned)
func (s StepStatus) IsSuccess() bool {
	return s == StatusPassed || s == StatusWarned
}

// ErrorCategory classifies the type of error for reporting and exit handling
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryAssertion                       // Predicate never held, answer or text mismatch
	ErrCategoryTimeout                         // Backend call or test case deadline exceeded
	ErrCategoryConnection                      // Backend unreachable or credentials rejected
	ErrCategoryDevice                          // adb command failed
	ErrCategoryBackend                         // Backend returned an error for a call
	ErrCategoryConfig                          // Invalid scenario or configuration
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryAssertion:
		return "assertion"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryBackend:
		return "backend"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// StatusFor maps an error category onto the status a failed step gets.
// Assertions fail; everything else is an error.
func StatusFor(c ErrorCategory) StepStatus {
	switch c {
	case ErrCategoryNone:
		return StatusPassed
	case ErrCategoryAssertion:
		return StatusFailed
	default:
		return StatusErrored
	}
}
