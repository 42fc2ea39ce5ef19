package report

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/devicelab-dev/pixelmon-runner/pkg/logger"
)

// FlowWriter writes updates for a single flow.
// Flows run one at a time, so a FlowWriter needs no locking.
type FlowWriter struct {
	flow      *FlowDetail
	path      string
	assetsDir string
	index     *IndexWriter
}

// NewFlowWriter creates a new FlowWriter for a flow.
func NewFlowWriter(flowDetail *FlowDetail, outputDir string, index *IndexWriter) *FlowWriter {
	flowPath := filepath.Join(outputDir, "flows", flowDetail.ID+".json")
	assetsDir := filepath.Join(outputDir, "assets", flowDetail.ID)

	if err := ensureDir(assetsDir); err != nil {
		logger.Warn("create assets dir %s: %v", assetsDir, err)
	}

	return &FlowWriter{
		flow:      flowDetail,
		path:      flowPath,
		assetsDir: assetsDir,
		index:     index,
	}
}

// Start marks the flow as started.
func (w *FlowWriter) Start() {
	now := time.Now()
	w.flow.StartTime = now

	w.flush()
	w.updateIndex(StatusRunning, &now, nil, nil, nil)
}

// CommandStart marks a command as started.
func (w *FlowWriter) CommandStart(cmdIndex int) {
	if cmdIndex < 0 || cmdIndex >= len(w.flow.Commands) {
		return
	}

	now := time.Now()
	cmd := &w.flow.Commands[cmdIndex]
	cmd.Status = StatusRunning
	cmd.StartTime = &now

	w.flush()
	w.updateIndexProgress()
}

// CommandEnd marks a command as complete.
func (w *FlowWriter) CommandEnd(cmdIndex int, status Status, answer string, err *Error, artifacts CommandArtifacts, subCommands []Command) {
	if cmdIndex < 0 || cmdIndex >= len(w.flow.Commands) {
		return
	}

	now := time.Now()
	cmd := &w.flow.Commands[cmdIndex]
	cmd.Status = status
	cmd.EndTime = &now

	if cmd.StartTime != nil {
		duration := now.Sub(*cmd.StartTime).Milliseconds()
		cmd.Duration = &duration
	}

	cmd.Answer = answer
	cmd.Error = err
	cmd.Artifacts = artifacts
	cmd.SubCommands = subCommands

	w.flush()
	w.updateIndexProgress()
}

// TestEnd records the outcome of a test case.
func (w *FlowWriter) TestEnd(tc TestCase) {
	w.flow.Tests = append(w.flow.Tests, tc)
	w.flush()
	w.updateIndexProgress()
}

// SetHookError records a failed lifecycle hook.
func (w *FlowWriter) SetHookError(onFlowStart bool, err *Error) {
	if onFlowStart {
		w.flow.Hooks.OnFlowStart = err
	} else {
		w.flow.Hooks.OnFlowComplete = err
	}
	w.flush()
}

// End marks the flow as complete.
func (w *FlowWriter) End(status Status) {
	now := time.Now()
	w.flow.EndTime = &now

	var duration int64
	if !w.flow.StartTime.IsZero() {
		duration = now.Sub(w.flow.StartTime).Milliseconds()
		w.flow.Duration = &duration
	}

	w.flush()

	var errMsg *string
	if status == StatusFailed {
		errMsg = w.firstError()
	}
	w.updateIndex(status, nil, &now, &duration, errMsg)
}

func (w *FlowWriter) firstError() *string {
	if e := w.flow.Hooks.OnFlowStart; e != nil {
		msg := "onFlowStart: " + e.Message
		return &msg
	}
	for _, cmd := range w.flow.Commands {
		if cmd.Error != nil && cmd.Status == StatusFailed {
			msg := cmd.Error.Message
			return &msg
		}
	}
	return nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SaveAnnotation saves an annotated screenshot and returns its path relative
// to the report directory.
func (w *FlowWriter) SaveAnnotation(cmdIndex int, name string, data []byte) (string, error) {
	name = strings.Trim(unsafeName.ReplaceAllString(name, "-"), "-")
	if name == "" {
		name = "annotation"
	}
	filename := fmt.Sprintf("cmd-%03d-%s.png", cmdIndex, name)
	absPath := filepath.Join(w.assetsDir, filename)

	if err := os.WriteFile(absPath, data, 0o644); err != nil {
		return "", err
	}

	rel := filepath.Join("assets", w.flow.ID, filename)
	w.flow.Artifacts.Annotations = append(w.flow.Artifacts.Annotations, rel)
	return rel, nil
}

// GetFlowDetail returns the current flow detail (for reading).
func (w *FlowWriter) GetFlowDetail() *FlowDetail {
	return w.flow
}

// flush writes the flow detail to disk.
func (w *FlowWriter) flush() {
	if err := atomicWriteJSON(w.path, w.flow); err != nil {
		logger.Warn("write flow detail %s: %v", w.flow.ID, err)
	}
}

// updateIndex updates the index with current flow state.
func (w *FlowWriter) updateIndex(status Status, startTime, endTime *time.Time, duration *int64, errMsg *string) {
	w.index.UpdateFlow(w.flow.ID, &FlowUpdate{
		Status:    status,
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  duration,
		Commands:  w.commandSummary(),
		Tests:     w.testSummary(),
		Error:     errMsg,
	})
}

// updateIndexProgress updates the index with progress only.
func (w *FlowWriter) updateIndexProgress() {
	w.index.UpdateFlow(w.flow.ID, &FlowUpdate{
		Status:   StatusRunning,
		Commands: w.commandSummary(),
		Tests:    w.testSummary(),
	})
}

// commandSummary computes command summary.
func (w *FlowWriter) commandSummary() CommandSummary {
	var s CommandSummary
	s.Total = len(w.flow.Commands)

	for i, cmd := range w.flow.Commands {
		switch cmd.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusRunning:
			s.Running++
			idx := i
			s.Current = &idx
		case StatusPending:
			s.Pending++
		}
	}

	return s
}

func (w *FlowWriter) testSummary() TestSummary {
	s := TestSummary{Total: countTestCommands(w.flow.Commands)}
	for _, tc := range w.flow.Tests {
		switch tc.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}

func countTestCommands(cmds []Command) int {
	n := 0
	for _, c := range cmds {
		if c.Type == "test" {
			n++
		}
	}
	return n
}

// SkipRemainingCommands marks all pending commands as skipped.
// Called when a command fails and we need to skip the rest.
func (w *FlowWriter) SkipRemainingCommands(fromIndex int) {
	for i := fromIndex; i < len(w.flow.Commands); i++ {
		if w.flow.Commands[i].Status != StatusPending {
			continue
		}
		w.flow.Commands[i].Status = StatusSkipped
		if w.flow.Commands[i].Type == "test" {
			w.flow.Tests = append(w.flow.Tests, TestCase{
				Name:         testName(w.flow.Commands[i]),
				CommandIndex: i,
				Status:       StatusSkipped,
			})
		}
	}
	w.flush()
}

func testName(c Command) string {
	return strings.TrimPrefix(c.YAML, "test: ")
}
