package core

import (
	"time"
)

// TestCaseResult captures the outcome of one test case. Steps that run
// outside a test case are reported under the flow's own name.
type TestCaseResult struct {
	// Identity
	Name  string `json:"name"`
	Flow  string `json:"flow"`
	Index int    `json:"index"`

	// Status
	Status   StepStatus    `json:"status"`
	Category ErrorCategory `json:"errorCategory,omitempty"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Output
	Error string `json:"error,omitempty"`

	// Step counters for the case
	StepsPassed  int `json:"stepsPassed"`
	StepsFailed  int `json:"stepsFailed"`
	StepsSkipped int `json:"stepsSkipped"`
}

// SuiteResult aggregates the test cases of one flow.
type SuiteResult struct {
	// Identity
	Name     string   `json:"name"`
	FilePath string   `json:"filePath"`
	Tags     []string `json:"tags,omitempty"`

	// Platform info (captured once per flow)
	PlatformInfo *PlatformInfo `json:"platformInfo,omitempty"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Results
	Cases []TestCaseResult `json:"cases"`

	// Hook failures are recorded separately from test cases
	OnFlowStartError    string `json:"onFlowStartError,omitempty"`
	OnFlowCompleteError string `json:"onFlowCompleteError,omitempty"`

	// Summary
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Errored int `json:"errored"`
	Skipped int `json:"skipped"`
}

// Add appends a test case result and refreshes the summary.
func (s *SuiteResult) Add(tc TestCaseResult) {
	tc.Index = len(s.Cases)
	if tc.Flow == "" {
		tc.Flow = s.Name
	}
	s.Cases = append(s.Cases, tc)
	s.ComputeSummary()
}

// ComputeSummary calculates counts from the Cases slice
func (s *SuiteResult) ComputeSummary() {
	s.Total = len(s.Cases)
	s.Passed = 0
	s.Failed = 0
	s.Errored = 0
	s.Skipped = 0

	for _, tc := range s.Cases {
		switch tc.Status {
		case StatusPassed, StatusWarned:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusErrored:
			s.Errored++
		case StatusSkipped:
			s.Skipped++
		}
	}
}

// AggregateStatus determines the suite status from its cases and hooks.
func (s *SuiteResult) AggregateStatus() StepStatus {
	if s.OnFlowStartError != "" {
		return StatusFailed
	}
	hasErrored := false
	allSkipped := len(s.Cases) > 0
	for _, tc := range s.Cases {
		switch tc.Status {
		case StatusFailed:
			return StatusFailed
		case StatusErrored:
			hasErrored = true
		}
		if tc.Status != StatusSkipped {
			allSkipped = false
		}
	}
	if hasErrored {
		return StatusErrored
	}
	if allSkipped {
		return StatusSkipped
	}
	return StatusPassed
}

// Success returns true if every case passed (including warned)
func (s *SuiteResult) Success() bool {
	return s.AggregateStatus().IsSuccess()
}
