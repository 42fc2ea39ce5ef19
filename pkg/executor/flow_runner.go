package executor

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/devicelab-dev/pixelmon-runner/pkg/core"
	"github.com/devicelab-dev/pixelmon-runner/pkg/flow"
	"github.com/devicelab-dev/pixelmon-runner/pkg/logger"
	"github.com/devicelab-dev/pixelmon-runner/pkg/poll"
	"github.com/devicelab-dev/pixelmon-runner/pkg/report"
)

const (
	maxWhileIterations = 1000
	maxRunFlowDepth    = 16
	defaultRetries     = 3
	hookTimeout        = 2 * time.Minute
)

// FlowRunner executes a single flow.
type FlowRunner struct {
	ctx         context.Context
	flow        flow.Flow
	detail      *report.FlowDetail
	driver      core.Driver
	config      RunnerConfig
	indexWriter *report.IndexWriter
	flowWriter  *report.FlowWriter
	vars        *Variables
	appID       string // app id injected into launchApp/stopApp
	depth       int    // Nesting depth for runFlow reporting
	flowIdx     int    // Current flow index (0-based)
	totalFlows  int    // Total number of flows
	cmdIdx      int    // Top-level command being executed
	// Step counters
	stepsPassed  int
	stepsFailed  int
	stepsSkipped int
	testsPassed  int
	testsFailed  int
	// Sub-command tracking for compound steps (runFlow, repeat, retry, test)
	subCommands []report.Command
}

// Run executes the flow and returns the result.
//
//nolint:gocyclo
func (fr *FlowRunner) Run() FlowResult {
	flowStart := time.Now()

	// Create flow writer for this flow's updates
	fr.flowWriter = report.NewFlowWriter(fr.detail, fr.config.OutputDir, fr.indexWriter)

	fr.vars = NewVariables()
	fr.vars.ImportSystemEnv()
	fr.vars.SetAll(fr.config.Env)
	if fr.flow.SourcePath != "" {
		fr.vars.SetFlowDir(filepath.Dir(fr.flow.SourcePath))
	}

	fr.appID = fr.flow.Config.AppID
	if fr.appID == "" {
		fr.appID = fr.config.AppID
	}
	if fr.appID != "" {
		fr.vars.Set("APP_ID", fr.appID)
	}
	fr.vars.SetAll(fr.flow.Config.Env)

	ctx := fr.ctx
	if fr.flow.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(fr.flow.Config.Timeout)*time.Millisecond)
		defer cancel()
	}

	// Notify flow start
	flowName := fr.detail.Name
	flowFile := filepath.Base(fr.flow.SourcePath)
	if fr.config.OnFlowStart != nil {
		fr.config.OnFlowStart(fr.flowIdx, fr.totalFlows, flowName, flowFile)
	}
	logger.Info("flow %s started (%s)", flowName, fr.flow.SourcePath)

	// Mark flow as started
	fr.flowWriter.Start()

	flowStatus := report.StatusPassed
	var flowError string

	// Execute onFlowStart hooks
	for _, step := range fr.flow.Config.OnFlowStart {
		result := fr.executeNestedStep(ctx, step)
		if !result.Success && !step.IsOptional() {
			fr.flowWriter.SetHookError(true, commandResultToError(result))
			fr.flowWriter.SkipRemainingCommands(0)
			fr.stepsSkipped += len(fr.flow.Steps)
			flowStatus = report.StatusFailed
			flowError = fmt.Sprintf("onFlowStart failed: %s", errorMessage(result))
			break
		}
	}

	if flowStatus == report.StatusPassed {
		for i, step := range fr.flow.Steps {
			// Check context cancellation
			if ctx.Err() != nil {
				fr.flowWriter.SkipRemainingCommands(i)
				fr.stepsSkipped += len(fr.flow.Steps) - i
				switch {
				case flowStatus == report.StatusFailed:
					// An earlier failed test keeps the flow failed.
				case fr.ctx.Err() != nil:
					flowStatus = report.StatusSkipped
					flowError = "execution cancelled"
				default:
					flowStatus = report.StatusFailed
					flowError = fmt.Sprintf("flow timeout after %dms", fr.flow.Config.Timeout)
				}
				break
			}

			stepStatus, stepError, stepDuration := fr.executeStep(ctx, i, step)

			if fr.config.OnStepComplete != nil {
				fr.config.OnStepComplete(i, step.Describe(), stepStatus == report.StatusPassed, stepDuration, stepError)
			}

			if stepStatus != report.StatusFailed || step.IsOptional() {
				continue
			}

			if flowError == "" {
				flowError = stepError
			}
			flowStatus = report.StatusFailed

			// A failed test fails the flow; the following steps still run
			if _, isTest := step.(*flow.TestStep); isTest {
				continue
			}

			// Required step failed - skip remaining
			fr.flowWriter.SkipRemainingCommands(i + 1)
			fr.stepsSkipped += len(fr.flow.Steps) - i - 1
			break
		}
	}

	fr.runOnFlowComplete()

	// Mark flow as complete
	fr.flowWriter.End(flowStatus)

	flowDuration := time.Since(flowStart).Milliseconds()

	if fr.config.OnFlowEnd != nil {
		fr.config.OnFlowEnd(flowName, flowStatus == report.StatusPassed, flowDuration)
	}
	logger.Info("flow %s %s in %dms", flowName, flowStatus, flowDuration)

	return FlowResult{
		ID:           fr.detail.ID,
		Name:         fr.detail.Name,
		Status:       flowStatus,
		Duration:     flowDuration,
		Error:        flowError,
		StepsTotal:   fr.stepsPassed + fr.stepsFailed + fr.stepsSkipped,
		StepsPassed:  fr.stepsPassed,
		StepsFailed:  fr.stepsFailed,
		StepsSkipped: fr.stepsSkipped,
		TestsPassed:  fr.testsPassed,
		TestsFailed:  fr.testsFailed,
	}
}

// runOnFlowComplete runs the cleanup hook. It always runs, even after a
// cancellation, and its failures never change the flow status.
func (fr *FlowRunner) runOnFlowComplete() {
	if len(fr.flow.Config.OnFlowComplete) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(fr.ctx), hookTimeout)
	defer cancel()

	var firstFailure *core.CommandResult
	for _, step := range fr.flow.Config.OnFlowComplete {
		result := fr.executeNestedStep(ctx, step)
		if !result.Success && firstFailure == nil {
			firstFailure = result
		}
	}
	if firstFailure != nil {
		logger.Warn("onFlowComplete of %s failed: %s", fr.detail.Name, errorMessage(firstFailure))
		fr.flowWriter.SetHookError(false, commandResultToError(firstFailure))
	}
}

// executeStep executes a top-level step and updates the report.
// Returns status, error message, and duration in milliseconds.
func (fr *FlowRunner) executeStep(ctx context.Context, idx int, step flow.Step) (report.Status, string, int64) {
	stepStart := time.Now()
	fr.cmdIdx = idx
	fr.subCommands = nil

	fr.flowWriter.CommandStart(idx)

	result := fr.route(ctx, step)

	stepDuration := time.Since(stepStart).Milliseconds()

	status := report.StatusPassed
	var errorInfo *report.Error
	var errorMsg string
	if !result.Success {
		status = report.StatusFailed
		errorInfo = commandResultToError(result)
		errorMsg = errorInfo.Message
	}

	var artifacts report.CommandArtifacts
	if a, ok := step.(*flow.AnnotateStep); ok && len(result.Artifact) > 0 {
		artifacts.Annotation = fr.saveAnnotation(a.Name, result.Artifact)
	}

	// Compound steps carry their sub-commands; leaf steps count themselves
	if _, compound := step.(flow.Container); compound {
		fr.flowWriter.CommandEnd(idx, status, "", errorInfo, artifacts, fr.subCommands)
	} else {
		fr.flowWriter.CommandEnd(idx, status, answerOf(result), errorInfo, artifacts, nil)
		fr.countStep(result.Success)
	}
	fr.subCommands = nil

	return status, errorMsg, stepDuration
}

// route executes a step: flow control here, leaf commands on the driver.
func (fr *FlowRunner) route(ctx context.Context, step flow.Step) *core.CommandResult {
	step = fr.vars.ExpandStep(step)

	var result *core.CommandResult
	switch s := step.(type) {
	// Flow control steps - handled by FlowRunner
	case *flow.TestStep:
		result = fr.executeTest(ctx, s)
	case *flow.RepeatStep:
		result = fr.executeRepeat(ctx, s)
	case *flow.RetryStep:
		result = fr.executeRetry(ctx, s)
	case *flow.RunFlowStep:
		result = fr.executeRunFlow(ctx, s)
	case *flow.WaitUntilStep:
		result = fr.executeWaitUntil(ctx, s)

	// App lifecycle steps - inject flow's appId if not specified
	case *flow.LaunchAppStep:
		if s.AppID == "" {
			s.AppID = fr.appID
		}
		result = fr.driver.Execute(ctx, s)
	case *flow.StopAppStep:
		if s.AppID == "" {
			s.AppID = fr.appID
		}
		result = fr.driver.Execute(ctx, s)

	// All other steps - delegate to driver
	default:
		result = fr.driver.Execute(ctx, step)
	}

	fr.storeVariables(step, result)
	return result
}

// storeVariables copies answers into variables for steps that name one.
func (fr *FlowRunner) storeVariables(step flow.Step, result *core.CommandResult) {
	switch s := step.(type) {
	case *flow.AskStep:
		if s.Variable != "" && result.Data != nil {
			fr.vars.Set(s.Variable, formatValue(result.Data))
		}
	case *flow.GetTextsStep:
		if s.Variable != "" && result.Success {
			fr.vars.Set(s.Variable, formatValue(result.Data))
		}
	}
}

// testTimeout resolves a test's deadline: the step, then the flow, then the
// run default.
func (fr *FlowRunner) testTimeout(step *flow.TestStep) time.Duration {
	switch {
	case step.TimeoutMs > 0:
		return time.Duration(step.TimeoutMs) * time.Millisecond
	case fr.flow.Config.TestTimeout > 0:
		return time.Duration(fr.flow.Config.TestTimeout) * time.Millisecond
	case fr.config.TestTimeout > 0:
		return fr.config.TestTimeout
	default:
		return DefaultTestTimeout
	}
}

// executeTest runs a test case under its own deadline and records it.
func (fr *FlowRunner) executeTest(ctx context.Context, step *flow.TestStep) *core.CommandResult {
	start := time.Now()
	timeout := fr.testTimeout(step)
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if fr.config.OnNestedFlowStart != nil {
		fr.config.OnNestedFlowStart(fr.depth+1, "Test "+step.Name)
	}
	fr.depth++
	defer func() { fr.depth-- }()

	var failure *core.CommandResult
	for _, nested := range step.Steps {
		if tctx.Err() != nil {
			failure = core.Failure(tctx.Err(), "test interrupted")
			break
		}
		result := fr.executeNestedStep(tctx, nested)
		if !result.Success && !nested.IsOptional() {
			failure = result
			break
		}
	}

	// Only this test's own deadline is reported as a test timeout
	if failure != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		err := core.ErrTestTimeout.
			WithMessage(fmt.Sprintf("test %q exceeded %s", step.Name, timeout)).
			WithCause(failure.Error)
		failure = core.Failure(err, err.Message)
	}

	duration := time.Since(start)
	tc := report.TestCase{
		Name:         step.Name,
		CommandIndex: fr.cmdIdx,
		Status:       report.StatusPassed,
		Duration:     duration.Milliseconds(),
	}
	if failure != nil {
		tc.Status = report.StatusFailed
		tc.Error = commandResultToError(failure)
		fr.testsFailed++
	} else {
		fr.testsPassed++
	}
	fr.flowWriter.TestEnd(tc)
	if fr.config.Observer != nil {
		fr.config.Observer.ObserveTest(tc.Status, duration)
	}

	if failure != nil {
		logger.Warn("test %q failed: %s", step.Name, errorMessage(failure))
		return failure
	}
	return core.Success(fmt.Sprintf("test %q passed", step.Name))
}

// pollOptions resolves the attempt budget of a waitUntil step.
func (fr *FlowRunner) pollOptions(step *flow.WaitUntilStep) poll.Options {
	opts := poll.Options{
		Attempts: poll.DefaultAttempts,
		Delay:    poll.DefaultDelay,
		Sleep:    fr.config.Sleep,
	}
	if fr.config.PollAttempts > 0 {
		opts.Attempts = fr.config.PollAttempts
	}
	if fr.config.PollDelay > 0 {
		opts.Delay = fr.config.PollDelay
	}
	if step.Attempts > 0 {
		opts.Attempts = step.Attempts
	}
	if step.DelayMs > 0 {
		opts.Delay = time.Duration(step.DelayMs) * time.Millisecond
	}
	opts.OnAttempt = func(attempt int, ok bool, err error) {
		logger.Debug("waitUntil %s: attempt %d/%d ok=%v err=%v", step.Condition.Describe(), attempt, opts.Attempts, ok, err)
	}
	return opts
}

// executeWaitUntil polls the condition within its attempt budget.
func (fr *FlowRunner) executeWaitUntil(ctx context.Context, step *flow.WaitUntilStep) *core.CommandResult {
	opts := fr.pollOptions(step)
	res := poll.Until(ctx, opts, fr.conditionPredicate(&step.Condition))
	if fr.config.Observer != nil {
		fr.config.Observer.ObservePoll(res.Outcome, res.Attempts)
	}

	desc := step.Condition.Describe()
	if res.Outcome == poll.Cancelled {
		err := core.ErrTimeout.WithMessage(fmt.Sprintf("waitUntil %s interrupted", desc)).WithCause(res.Err())
		return core.Failure(err, err.Message)
	}

	// With a variable the outcome is stored instead of failing the step
	if step.Variable != "" {
		fr.vars.Set(step.Variable, strconv.FormatBool(res.OK()))
		r := core.Success(fmt.Sprintf("%s = %v after %d attempts", step.Variable, res.OK(), res.Attempts))
		r.Data = res.OK()
		return r
	}

	switch res.Outcome {
	case poll.Satisfied:
		return core.Success(fmt.Sprintf("%s held on attempt %d", desc, res.Attempts))
	case poll.Errored:
		err := core.ErrPredicateErrored.WithMessage(fmt.Sprintf("waitUntil %s: backend failed on every attempt", desc)).WithCause(res.LastErr)
		return core.Failure(err, err.Message)
	default:
		err := core.ErrPollExhausted.
			WithMessage(fmt.Sprintf("waitUntil %s: not satisfied after %d attempts", desc, res.Attempts)).
			WithDetails(map[string]interface{}{"attempts": res.Attempts, "errors": res.Errors})
		return core.Failure(err, err.Message)
	}
}

// conditionPredicate builds a poll predicate that holds when every clause
// of cond holds.
func (fr *FlowRunner) conditionPredicate(cond *flow.Condition) poll.Predicate {
	check := func(query string) poll.Predicate {
		return func(ctx context.Context) (bool, error) {
			return fr.driver.Check(ctx, fr.vars.Expand(query))
		}
	}
	checks := func(queries []string) []poll.Predicate {
		preds := make([]poll.Predicate, len(queries))
		for i, q := range queries {
			preds[i] = check(q)
		}
		return preds
	}

	var preds []poll.Predicate
	if cond.Visible != "" {
		preds = append(preds, check(cond.Visible))
	}
	if cond.NotVisible != "" {
		preds = append(preds, poll.Not(check(cond.NotVisible)))
	}
	if len(cond.AnyOf) > 0 {
		preds = append(preds, poll.AnyOf(checks(cond.AnyOf)...))
	}
	if len(cond.AllOf) > 0 {
		preds = append(preds, poll.AllOf(checks(cond.AllOf)...))
	}
	if cond.True != "" {
		expr := cond.True
		preds = append(preds, func(context.Context) (bool, error) {
			return flow.Truthy(fr.vars.Expand(expr)), nil
		})
	}
	return poll.AllOf(preds...)
}

// checkCondition evaluates a when/while condition once. A backend error is
// returned rather than read as "not met".
func (fr *FlowRunner) checkCondition(ctx context.Context, cond *flow.Condition) (bool, error) {
	if cond.IsZero() {
		return true, nil
	}
	return fr.conditionPredicate(cond)(ctx)
}

func conditionFailure(cond *flow.Condition, err error) *core.CommandResult {
	e := core.ErrBackendCall.WithMessage(fmt.Sprintf("condition %s", cond.Describe())).WithCause(err)
	return core.Failure(e, fmt.Sprintf("evaluating %s failed: %v", cond.Describe(), err))
}

// executeRepeat handles repeat step execution.
func (fr *FlowRunner) executeRepeat(ctx context.Context, step *flow.RepeatStep) *core.CommandResult {
	hasWhile := !step.While.IsZero()
	times := fr.vars.ParseInt(step.Times, 0)
	if times <= 0 {
		times = 1
		if hasWhile {
			times = maxWhileIterations
		}
	}

	iterations := 0
	for i := 0; i < times; i++ {
		if ctx.Err() != nil {
			return core.Failure(ctx.Err(), "Repeat cancelled")
		}

		if hasWhile {
			ok, err := fr.checkCondition(ctx, step.While)
			if err != nil {
				return conditionFailure(step.While, err)
			}
			if !ok {
				break // Condition no longer met
			}
		}

		for _, nestedStep := range step.Steps {
			result := fr.executeNestedStep(ctx, nestedStep)
			if !result.Success && !nestedStep.IsOptional() {
				return result
			}
		}
		iterations++
	}

	return core.Success(fmt.Sprintf("Repeat completed (%d iterations)", iterations))
}

// executeRetry re-runs the block until it passes or attempts run out.
func (fr *FlowRunner) executeRetry(ctx context.Context, step *flow.RetryStep) *core.CommandResult {
	maxRetries := fr.vars.ParseInt(step.MaxRetries, defaultRetries)
	if maxRetries <= 0 {
		maxRetries = defaultRetries
	}

	var last *core.CommandResult
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return core.Failure(ctx.Err(), "Retry cancelled")
		}

		last = nil
		for _, nestedStep := range step.Steps {
			result := fr.executeNestedStep(ctx, nestedStep)
			if !result.Success && !nestedStep.IsOptional() {
				last = result
				break
			}
		}

		if last == nil {
			return core.Success(fmt.Sprintf("Retry succeeded on attempt %d", attempt))
		}
		logger.Debug("retry attempt %d/%d failed: %s", attempt, maxRetries, errorMessage(last))
	}

	return core.Failure(last.Error, fmt.Sprintf("Retry failed after %d attempts: %s", maxRetries, errorMessage(last)))
}

// executeRunFlow handles runFlow step execution.
func (fr *FlowRunner) executeRunFlow(ctx context.Context, step *flow.RunFlowStep) *core.CommandResult {
	if step.When != nil {
		ok, err := fr.checkCondition(ctx, step.When)
		if err != nil {
			return conditionFailure(step.When, err)
		}
		if !ok {
			return core.Success("Skipped (when condition not met)")
		}
	}

	if fr.depth >= maxRunFlowDepth {
		err := core.ErrInvalidConfig.WithMessage(fmt.Sprintf("runFlow nested deeper than %d levels", maxRunFlowDepth))
		return core.Failure(err, err.Message)
	}

	if fr.config.OnNestedFlowStart != nil && step.File != "" {
		fr.config.OnNestedFlowStart(fr.depth+1, "Run "+step.File)
	}

	fr.depth++
	defer func() { fr.depth-- }()

	// Apply env variables with restore
	defer fr.vars.withEnv(step.Env)()

	// Execute inline steps if present
	if len(step.Steps) > 0 {
		for _, nestedStep := range step.Steps {
			result := fr.executeNestedStep(ctx, nestedStep)
			if !result.Success && !nestedStep.IsOptional() {
				return result
			}
		}
		return core.Success("Inline flow completed")
	}

	if step.File == "" {
		err := core.ErrMissingRequired.WithMessage("runFlow requires file or inline steps")
		return core.Failure(err, err.Message)
	}

	subFlow, err := fr.loadSubFlow(step.File)
	if err != nil {
		e := core.ErrInvalidConfig.WithMessage(fmt.Sprintf("load %s", step.File)).WithCause(err)
		return core.Failure(e, fmt.Sprintf("Failed to parse flow file: %v", err))
	}

	return fr.executeSubFlow(ctx, *subFlow)
}

// loadSubFlow parses a runFlow target relative to the current flow.
func (fr *FlowRunner) loadSubFlow(file string) (*flow.Flow, error) {
	if fr.config.FS != nil {
		return flow.ParseFS(fr.config.FS, fr.vars.ResolveFSPath(file))
	}
	return flow.ParseFile(fr.vars.ResolvePath(file))
}

// executeSubFlow executes a sub-flow without separate report tracking.
func (fr *FlowRunner) executeSubFlow(ctx context.Context, subFlow flow.Flow) *core.CommandResult {
	// Save current flow dir
	prevDir := fr.vars.FlowDir()
	if subFlow.SourcePath != "" {
		if fr.config.FS != nil {
			fr.vars.SetFlowDir(path.Dir(subFlow.SourcePath))
		} else {
			fr.vars.SetFlowDir(filepath.Dir(subFlow.SourcePath))
		}
	}
	defer fr.vars.SetFlowDir(prevDir)

	// Sub-flow app id applies to its own lifecycle steps
	prevApp := fr.appID
	if subFlow.Config.AppID != "" {
		fr.appID = subFlow.Config.AppID
	}
	defer func() { fr.appID = prevApp }()

	defer fr.vars.withEnv(subFlow.Config.Env)()

	for _, step := range subFlow.Steps {
		if ctx.Err() != nil {
			return core.Failure(ctx.Err(), "Sub-flow cancelled")
		}
		result := fr.executeNestedStep(ctx, step)
		if !result.Success && !step.IsOptional() {
			return result
		}
	}

	return core.Success(fmt.Sprintf("Sub-flow '%s' completed", subFlow.DisplayName()))
}

// executeNestedStep executes a step inside a compound step and records it
// as a sub-command of the enclosing top-level command.
func (fr *FlowRunner) executeNestedStep(ctx context.Context, step flow.Step) *core.CommandResult {
	start := time.Now()

	// Nested compound steps collect their own sub-commands
	_, isCompound := step.(flow.Container)
	parentSubCommands := fr.subCommands
	if isCompound {
		fr.subCommands = nil
	}

	result := fr.route(ctx, step)

	var nestedSubCommands []report.Command
	if isCompound {
		nestedSubCommands = fr.subCommands
		fr.subCommands = parentSubCommands
	}

	duration := time.Since(start).Milliseconds()

	if !isCompound {
		fr.countStep(result.Success)
	}

	if fr.config.OnNestedStep != nil && fr.depth > 0 {
		errMsg := ""
		if !result.Success {
			errMsg = errorMessage(result)
		}
		fr.config.OnNestedStep(fr.depth, step.Describe(), result.Success, duration, errMsg)
	}

	status := report.StatusPassed
	if !result.Success {
		status = report.StatusFailed
	}

	now := time.Now()
	cmd := report.Command{
		ID:          fmt.Sprintf("sub-%d", len(fr.subCommands)),
		Index:       len(fr.subCommands),
		Type:        string(step.Type()),
		Label:       step.Label(),
		YAML:        step.Describe(),
		Status:      status,
		StartTime:   &start,
		EndTime:     &now,
		Duration:    &duration,
		Answer:      answerOf(result),
		SubCommands: nestedSubCommands,
	}
	if !result.Success {
		cmd.Error = commandResultToError(result)
	}
	if a, ok := step.(*flow.AnnotateStep); ok && len(result.Artifact) > 0 {
		name := a.Name
		if name == "" {
			name = "annotation"
		}
		cmd.Artifacts.Annotation = fr.saveAnnotation(fmt.Sprintf("%s-%d", name, cmd.Index), result.Artifact)
	}

	fr.subCommands = append(fr.subCommands, cmd)

	return result
}

func (fr *FlowRunner) countStep(passed bool) {
	if passed {
		fr.stepsPassed++
	} else {
		fr.stepsFailed++
	}
}

// saveAnnotation writes an annotated screenshot to the flow's assets.
func (fr *FlowRunner) saveAnnotation(name string, data []byte) string {
	rel, err := fr.flowWriter.SaveAnnotation(fr.cmdIdx, name, data)
	if err != nil {
		logger.Warn("save annotation %s: %v", name, err)
		return ""
	}
	return rel
}
