// Package report provides JSON-based test reporting with real-time updates.
//
// Layout of a report directory:
//   - report.json: main index (small, frequently updated, mutex-protected)
//   - flows/flow-XXX.json: per-flow detail files (no lock needed)
//   - assets/flow-XXX/: per-flow annotated screenshots
//   - junit.xml, report.html: rendered from the JSON at the end of a run
//
// The index file is the single source of truth for status and change tracking.
// Consumers poll report.json and only fetch changed flow details as needed.
package report

import "time"

// Version is the report schema version.
const Version = "1.0.0"

// Status represents the execution status.
type Status string

// Status values.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusSkipped
}

// ============================================================================
// INDEX (report.json)
// ============================================================================

// Index is the main report file that binds everything together.
// It contains minimal info for efficient polling and change detection.
type Index struct {
	Version     string      `json:"version"`
	RunID       string      `json:"runId"`
	UpdateSeq   uint64      `json:"updateSeq"`
	Status      Status      `json:"status"`
	Cancelled   bool        `json:"cancelled,omitempty"` // interrupted or past its deadline
	StartTime   time.Time   `json:"startTime"`
	EndTime     *time.Time  `json:"endTime,omitempty"`
	LastUpdated time.Time   `json:"lastUpdated"`
	Device      Device      `json:"device"`
	App         App         `json:"app"`
	Controller  Controller  `json:"controller"`
	Runner      RunnerInfo  `json:"runner"`
	Summary     Summary     `json:"summary"`
	Flows       []FlowEntry `json:"flows"`
}

// Device contains device information.
type Device struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Platform   string `json:"platform"`
	OSVersion  string `json:"osVersion"`
	Model      string `json:"model,omitempty"`
	IsEmulator bool   `json:"isEmulator"`
}

// App contains application information.
type App struct {
	ID      string `json:"id"` // package name
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// Controller describes the automation backend session.
type Controller struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId,omitempty"`
	Runtime   string `json:"runtime,omitempty"`
}

// RunnerInfo contains pixelmon-runner information.
type RunnerInfo struct {
	Version string `json:"version"`
	Driver  string `json:"driver"` // askui, mock
}

// Summary contains aggregated counts.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Running int `json:"running"`
	Pending int `json:"pending"`
}

// FlowEntry is the index entry for a flow (minimal info).
type FlowEntry struct {
	Index       int            `json:"index"`      // Original position
	ID          string         `json:"id"`         // Unique flow ID
	Name        string         `json:"name"`       // Display name
	SourceFile  string         `json:"sourceFile"` // Path to YAML file
	DataFile    string         `json:"dataFile"`   // Path to flow detail JSON
	AssetsDir   string         `json:"assetsDir"`  // Path to assets directory
	Status      Status         `json:"status"`
	UpdateSeq   uint64         `json:"updateSeq"`
	StartTime   *time.Time     `json:"startTime,omitempty"`
	EndTime     *time.Time     `json:"endTime,omitempty"`
	Duration    *int64         `json:"duration,omitempty"` // milliseconds
	LastUpdated *time.Time     `json:"lastUpdated,omitempty"`
	Commands    CommandSummary `json:"commands"`
	Tests       TestSummary    `json:"tests"`
	Error       *string        `json:"error,omitempty"`
}

// CommandSummary contains command counts for a flow.
type CommandSummary struct {
	Total   int  `json:"total"`
	Passed  int  `json:"passed"`
	Failed  int  `json:"failed"`
	Skipped int  `json:"skipped"`
	Running int  `json:"running"`
	Pending int  `json:"pending"`
	Current *int `json:"current,omitempty"` // Currently running command index
}

// TestSummary counts test cases in a flow.
type TestSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// ============================================================================
// FLOW DETAIL (flows/flow-XXX.json)
// ============================================================================

// FlowDetail contains full flow execution details.
type FlowDetail struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	SourceFile string        `json:"sourceFile"`
	Tags       []string      `json:"tags,omitempty"`
	StartTime  time.Time     `json:"startTime"`
	EndTime    *time.Time    `json:"endTime,omitempty"`
	Duration   *int64        `json:"duration,omitempty"` // milliseconds
	Commands   []Command     `json:"commands"`
	Tests      []TestCase    `json:"tests,omitempty"`
	Hooks      HookResults   `json:"hooks"`
	Artifacts  FlowArtifacts `json:"artifacts"`
}

// Command represents a single command execution.
type Command struct {
	ID          string           `json:"id"`
	Index       int              `json:"index"`
	Type        string           `json:"type"`
	Label       string           `json:"label,omitempty"` // Human-readable description from YAML label field
	YAML        string           `json:"yaml,omitempty"`
	Status      Status           `json:"status"`
	StartTime   *time.Time       `json:"startTime,omitempty"`
	EndTime     *time.Time       `json:"endTime,omitempty"`
	Duration    *int64           `json:"duration,omitempty"` // milliseconds
	Params      *CommandParams   `json:"params,omitempty"`
	Answer      string           `json:"answer,omitempty"` // backend answer for ask/getTexts
	Error       *Error           `json:"error,omitempty"`
	Artifacts   CommandArtifacts `json:"artifacts"`
	SubCommands []Command        `json:"subCommands,omitempty"`
}

// CommandParams contains command-specific parameters.
type CommandParams struct {
	Query   string `json:"query,omitempty"` // natural-language instruction or question
	Text    string `json:"text,omitempty"`  // legacy selector text
	AppID   string `json:"appId,omitempty"`
	Key     string `json:"key,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

// Error contains error details.
type Error struct {
	Type    string `json:"type"` // error category: assertion, timeout, connection, device, backend, config
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// TestCase is the outcome of one `test` step.
type TestCase struct {
	Name         string `json:"name"`
	CommandIndex int    `json:"commandIndex"`
	Status       Status `json:"status"`
	Duration     int64  `json:"duration"` // milliseconds
	Error        *Error `json:"error,omitempty"`
}

// HookResults records lifecycle hook outcomes.
type HookResults struct {
	OnFlowStart    *Error `json:"onFlowStart,omitempty"`
	OnFlowComplete *Error `json:"onFlowComplete,omitempty"`
}

// ============================================================================
// ARTIFACTS (paths only, never inline data)
// ============================================================================

// FlowArtifacts contains flow-level artifact paths.
type FlowArtifacts struct {
	Annotations []string `json:"annotations,omitempty"`
}

// CommandArtifacts contains command-level artifact paths.
type CommandArtifacts struct {
	Annotation string `json:"annotation,omitempty"`
}

// ============================================================================
// UPDATE TYPES
// ============================================================================

// FlowUpdate contains the fields to update in index for a flow.
type FlowUpdate struct {
	Status    Status
	StartTime *time.Time
	EndTime   *time.Time
	Duration  *int64
	Commands  CommandSummary
	Tests     TestSummary
	Error     *string
}
