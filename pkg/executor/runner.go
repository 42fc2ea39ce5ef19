// Package executor orchestrates flow execution, connecting drivers to reports.
package executor

import (
	"context"
	"io/fs"
	"time"

	"github.com/devicelab-dev/pixelmon-runner/pkg/core"
	"github.com/devicelab-dev/pixelmon-runner/pkg/flow"
	"github.com/devicelab-dev/pixelmon-runner/pkg/logger"
	"github.com/devicelab-dev/pixelmon-runner/pkg/poll"
	"github.com/devicelab-dev/pixelmon-runner/pkg/report"
)

// DefaultTestTimeout bounds a test step when neither the step, the flow nor
// the run sets a timeout.
const DefaultTestTimeout = 600 * time.Second

// Observer receives execution outcomes. pkg/metrics implements it.
type Observer interface {
	ObserveFlow(status report.Status, d time.Duration)
	ObserveTest(status report.Status, d time.Duration)
	ObservePoll(outcome poll.Outcome, attempts int)
}

// RunnerConfig configures the test runner.
type RunnerConfig struct {
	OutputDir  string // Report output directory
	RunID      string // Unique run identifier
	StopOnFail bool   // Skip remaining flows after the first failure

	// Defaults applied when a step or flow does not set its own
	AppID        string
	TestTimeout  time.Duration
	PollAttempts int
	PollDelay    time.Duration
	Env          map[string]string // config env, applied before each flow's env

	// FS holds the flows when they come from an embedded suite; runFlow
	// files are then resolved inside it.
	FS fs.FS

	// Sleep replaces the poll timer (tests).
	Sleep poll.SleepFunc

	// Observer receives flow, test and poll outcomes (optional)
	Observer Observer

	// Device/App info for reports
	Device     report.Device
	App        report.App
	Controller report.Controller

	// Runner metadata
	RunnerVersion string
	DriverName    string

	// Live progress callbacks
	OnFlowStart       func(flowIdx, totalFlows int, name, file string)
	OnStepComplete    func(idx int, desc string, passed bool, durationMs int64, err string)
	OnNestedStep      func(depth int, desc string, passed bool, durationMs int64, err string)
	OnNestedFlowStart func(depth int, desc string)
	OnFlowEnd         func(name string, passed bool, durationMs int64)
}

// RunResult contains the outcome of a test run.
type RunResult struct {
	Status       report.Status
	TotalFlows   int
	PassedFlows  int
	FailedFlows  int
	SkippedFlows int
	Cancelled    bool  // the run context ended before the run finished
	Duration     int64 // Total duration in milliseconds
	FlowResults  []FlowResult
}

// FlowResult contains the outcome of a single flow execution.
type FlowResult struct {
	ID           string
	Name         string
	Status       report.Status
	Duration     int64
	Error        string
	StepsTotal   int
	StepsPassed  int
	StepsFailed  int
	StepsSkipped int
	TestsPassed  int
	TestsFailed  int
}

// Runner orchestrates flow execution.
type Runner struct {
	config RunnerConfig
	driver core.Driver
}

// New creates a new Runner.
func New(driver core.Driver, cfg RunnerConfig) *Runner {
	return &Runner{
		config: cfg,
		driver: driver,
	}
}

// Run executes all flows in order and generates reports.
func (r *Runner) Run(ctx context.Context, flows []flow.Flow) (*RunResult, error) {
	// Build report skeleton
	builderCfg := report.BuilderConfig{
		OutputDir:     r.config.OutputDir,
		RunID:         r.config.RunID,
		Device:        r.config.Device,
		App:           r.config.App,
		Controller:    r.config.Controller,
		RunnerVersion: r.config.RunnerVersion,
		DriverName:    r.config.DriverName,
	}

	index, flowDetails, err := report.BuildSkeleton(flows, builderCfg)
	if err != nil {
		return nil, err
	}

	// Write initial skeleton to disk
	if err := report.WriteSkeleton(r.config.OutputDir, index, flowDetails); err != nil {
		return nil, err
	}

	// Create index writer for coordinated updates
	indexWriter := report.NewIndexWriter(r.config.OutputDir, index)
	defer indexWriter.Close()

	// Mark run as started
	indexWriter.Start()

	// Execute flows
	results := r.executeFlows(ctx, flows, flowDetails, indexWriter)

	// Mark run as complete
	cancelled := ctx.Err() != nil
	if cancelled {
		indexWriter.Cancel()
	}
	indexWriter.End()

	return r.buildRunResult(results, cancelled), nil
}

// executeFlows runs flows one at a time. A cancelled context or, with
// StopOnFail, a failed flow skips the rest.
func (r *Runner) executeFlows(ctx context.Context, flows []flow.Flow, flowDetails []report.FlowDetail, indexWriter *report.IndexWriter) []FlowResult {
	results := make([]FlowResult, len(flows))
	totalFlows := len(flows)
	stopReason := ""

	for i := range flows {
		if stopReason == "" && ctx.Err() != nil {
			stopReason = "run cancelled"
		}
		if stopReason != "" {
			results[i] = r.skipFlow(&flowDetails[i], indexWriter, stopReason)
			continue
		}

		results[i] = r.executeFlow(ctx, flows[i], &flowDetails[i], indexWriter, i, totalFlows)

		if r.config.StopOnFail && results[i].Status == report.StatusFailed {
			logger.Info("stop-on-fail: %s failed, skipping %d remaining flows", results[i].Name, totalFlows-i-1)
			stopReason = "run stopped after failure"
		}
	}

	return results
}

// skipFlow marks a flow that never ran as skipped.
func (r *Runner) skipFlow(detail *report.FlowDetail, indexWriter *report.IndexWriter, reason string) FlowResult {
	fw := report.NewFlowWriter(detail, r.config.OutputDir, indexWriter)
	fw.SkipRemainingCommands(0)
	fw.End(report.StatusSkipped)
	return FlowResult{
		ID:           detail.ID,
		Name:         detail.Name,
		Status:       report.StatusSkipped,
		Error:        reason,
		StepsTotal:   len(detail.Commands),
		StepsSkipped: len(detail.Commands),
	}
}

// executeFlow runs a single flow.
func (r *Runner) executeFlow(ctx context.Context, f flow.Flow, detail *report.FlowDetail, indexWriter *report.IndexWriter, flowIdx, totalFlows int) FlowResult {
	fr := &FlowRunner{
		ctx:         ctx,
		flow:        f,
		detail:      detail,
		driver:      r.driver,
		config:      r.config,
		indexWriter: indexWriter,
		flowIdx:     flowIdx,
		totalFlows:  totalFlows,
	}
	result := fr.Run()
	if r.config.Observer != nil {
		r.config.Observer.ObserveFlow(result.Status, time.Duration(result.Duration)*time.Millisecond)
	}
	return result
}

// buildRunResult aggregates flow results into a run result.
func (r *Runner) buildRunResult(flowResults []FlowResult, cancelled bool) *RunResult {
	result := &RunResult{
		Cancelled:   cancelled,
		TotalFlows:  len(flowResults),
		FlowResults: flowResults,
	}

	for _, fr := range flowResults {
		result.Duration += fr.Duration
		switch fr.Status {
		case report.StatusPassed:
			result.PassedFlows++
		case report.StatusFailed:
			result.FailedFlows++
		case report.StatusSkipped:
			result.SkippedFlows++
		}
	}

	// Skipped flows alone do not fail a run, but an interrupted or timed
	// out run does
	if result.FailedFlows > 0 || cancelled {
		result.Status = report.StatusFailed
	} else {
		result.Status = report.StatusPassed
	}

	return result
}
