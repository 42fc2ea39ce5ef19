package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/pixelmon-runner/pkg/askui"
	"github.com/devicelab-dev/pixelmon-runner/pkg/config"
	"github.com/devicelab-dev/pixelmon-runner/pkg/core"
	"github.com/devicelab-dev/pixelmon-runner/pkg/device"
	"github.com/devicelab-dev/pixelmon-runner/pkg/executor"
	"github.com/devicelab-dev/pixelmon-runner/pkg/flow"
	"github.com/devicelab-dev/pixelmon-runner/pkg/logger"
	"github.com/devicelab-dev/pixelmon-runner/pkg/metrics"
	"github.com/devicelab-dev/pixelmon-runner/pkg/report"
	"github.com/devicelab-dev/pixelmon-runner/pkg/validator"
	"github.com/devicelab-dev/pixelmon-runner/scenarios"
)

var testCommand = &cli.Command{
	Name:      "test",
	Usage:     "Run scenarios on a device",
	ArgsUsage: "[<scenario-file-or-folder>...]",
	Description: `Run one or more scenario files on a connected device. Without arguments
the flows listed in pixelmon.yaml run, or the bundled suite when there
are none.

Reports are generated in the output directory:
  - Default: ./reports/<timestamp>/
  - With --output: <output>/<timestamp>/
  - With --output and --flatten: <output>/ (no timestamp subfolder)

Examples:
  pixelmon-runner test
  pixelmon-runner test scenarios/
  pixelmon-runner test login.yaml mail.yaml

  # With variables
  pixelmon-runner test login.yaml -e PIXELMON_GOOGLE_EMAIL=player@example.com

  # With tag filtering
  pixelmon-runner test --include-tags smoke --exclude-tags e2e

  # Share devices between CI jobs
  pixelmon-runner test --redis-addr redis:6379

  # Custom output directory
  pixelmon-runner test scenarios/ --output ./my-reports --flatten`,
	Flags: []cli.Flag{
		// Variables
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Variables passed to scenarios (KEY=VALUE)",
		},

		// Tag filtering
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include flows with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude flows with these tags",
		},

		// Output directory
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output directory for reports (default: ./reports)",
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Don't create timestamp subfolder (requires --output)",
		},

		// Execution
		&cli.BoolFlag{
			Name:  "stop-on-fail",
			Usage: "Skip the remaining flows after the first failure",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Bound the whole run (e.g. 45m, 0 = none)",
		},
		&cli.IntFlag{
			Name:  "test-timeout",
			Usage: "Default per-test timeout in ms",
		},

		// Infrastructure
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Serve Prometheus metrics on this address during the run (e.g. :9464)",
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Lease the device through Redis before running",
			EnvVars: []string{config.EnvRedisAddr},
		},
		&cli.StringFlag{
			Name:  "mock-script",
			Usage: "YAML answers and screen texts for --driver mock",
		},
	},
	Action: runTest,
}

// RunConfig holds everything a test run needs.
type RunConfig struct {
	Settings *config.Config

	// Flows
	FlowPaths []string
	FS        fs.FS // set when the bundled suite runs

	// Output
	OutputDir string // Final resolved output directory

	// Execution
	Env        map[string]string
	StopOnFail bool
	Timeout    time.Duration
	Verbose    bool

	// Driver
	Driver       string // askui, mock
	MockScript   string
	DeviceRunner device.Runner // nil runs the real adb binary
}

func runTest(c *cli.Context) error {
	printBanner()

	settings, err := loadSettings(c)
	if err != nil {
		return err
	}
	if err := applyTestFlags(c, settings); err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	output := c.String("output")
	if output == "" && !c.Bool("flatten") {
		output = settings.Output
	}
	outputDir, err := resolveOutputDir(output, c.Bool("flatten"))
	if err != nil {
		return err
	}

	cfg := &RunConfig{
		Settings:   settings,
		FlowPaths:  c.Args().Slice(),
		OutputDir:  outputDir,
		Env:        mergeEnv(settings.Env, parseEnvVars(c.StringSlice("env"))),
		StopOnFail: c.Bool("stop-on-fail"),
		Timeout:    c.Duration("timeout"),
		Verbose:    c.Bool("verbose"),
		Driver:     c.String("driver"),
		MockScript: c.String("mock-script"),
	}
	if len(cfg.FlowPaths) == 0 {
		cfg.FlowPaths = settings.Flows
	}
	if len(cfg.FlowPaths) == 0 {
		cfg.FS = scenarios.FS
		cfg.FlowPaths = []string{"."}
	}

	return executeTest(cfg)
}

// applyTestFlags overrides settings with the test command's flags.
func applyTestFlags(c *cli.Context, s *config.Config) error {
	if c.IsSet("include-tags") {
		s.IncludeTags = c.StringSlice("include-tags")
	}
	if c.IsSet("exclude-tags") {
		s.ExcludeTags = c.StringSlice("exclude-tags")
	}
	if c.IsSet("test-timeout") {
		s.TestTimeout = c.Int("test-timeout")
	}
	if c.IsSet("redis-addr") {
		s.Lock.RedisAddr = c.String("redis-addr")
	}
	if c.IsSet("metrics-addr") {
		s.MetricsAddr = c.String("metrics-addr")
	}
	return nil
}

// resolveOutputDir determines the output directory based on flags.
// - No --output: ./reports/<timestamp>/
// - --output given: <output>/<timestamp>/
// - --output + --flatten: <output>/ (error if --output not given)
func resolveOutputDir(output string, flatten bool) (string, error) {
	if flatten && output == "" {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}

	baseDir := output
	if baseDir == "" {
		baseDir = "./reports"
	}

	if flatten {
		return filepath.Clean(baseDir), nil
	}

	// Create timestamp-based subfolder
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(baseDir, timestamp), nil
}

func executeTest(cfg *RunConfig) error {
	// 1. Create output directory
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// 2. Initialize logging
	logPath := filepath.Join(cfg.OutputDir, "pixelmon-runner.log")
	if err := logger.Init(logPath, logger.Options{Verbose: cfg.Verbose}); err != nil {
		printWarning(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Close()

	runID := uuid.NewString()
	logger.Info("=== Test execution started ===")
	logger.Info("Run ID: %s", runID)
	logger.Info("Output directory: %s", cfg.OutputDir)
	logger.Info("Driver: %s", cfg.Driver)
	logger.Info("App: %s", cfg.Settings.AppID)

	// SIGINT/SIGTERM cancel the run; the current step fails and the
	// remaining flows are skipped, so reports are still written.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	// 3. Validate and parse flows
	printSection("Setup")
	flows, err := validateAndParseFlows(cfg)
	if err != nil {
		logger.Error("Flow validation failed: %v", err)
		return err
	}
	logger.Info("Validated %d flow(s)", len(flows))

	// 4. Metrics
	recorder := metrics.New(runID, cfg.Driver)
	if addr := cfg.Settings.MetricsAddr; addr != "" {
		go func() {
			if err := recorder.Serve(ctx, addr); err != nil {
				logger.Warn("Metrics server stopped: %v", err)
			}
		}()
		printSetupSuccess(fmt.Sprintf("Metrics on http://%s/metrics", addr))
	}

	// 5. Driver
	setup, err := createDriver(ctx, cfg, recorder)
	if err != nil {
		var connErr *askui.ConnectionError
		if errors.As(err, &connErr) {
			fmt.Fprintf(os.Stderr, "\n  %s %s error: %v\n", red("✗"), core.CategoryOf(err), err)
			return cli.Exit("", 1)
		}
		return err
	}
	defer setup.cleanup()
	logger.Info("Driver created: %s on %s", setup.name, setup.device.Name)

	printSetupSuccess(fmt.Sprintf("Report directory: %s", cfg.OutputDir))
	printSection("Execution")

	// 6. Execute flows
	runner := executor.New(setup.driver, executor.RunnerConfig{
		OutputDir:         cfg.OutputDir,
		RunID:             runID,
		StopOnFail:        cfg.StopOnFail,
		AppID:             cfg.Settings.AppID,
		TestTimeout:       cfg.Settings.TestTimeoutDuration(),
		PollAttempts:      cfg.Settings.Poll.Attempts,
		PollDelay:         cfg.Settings.PollDelay(),
		Env:               cfg.Env,
		FS:                cfg.FS,
		Observer:          recorder,
		Device:            setup.device,
		App:               setup.app,
		Controller:        setup.controller,
		RunnerVersion:     Version,
		DriverName:        setup.name,
		OnFlowStart:       onFlowStart,
		OnStepComplete:    onStepComplete,
		OnNestedStep:      onNestedStep,
		OnNestedFlowStart: onNestedFlowStart,
		OnFlowEnd:         onFlowEnd,
	})

	result, err := runner.Run(ctx, flows)
	if err != nil {
		logger.Error("Flow execution failed: %v", err)
		return err
	}
	logger.Info("Flow execution completed: %d passed, %d failed, %d skipped",
		result.PassedFlows, result.FailedFlows, result.SkippedFlows)

	printSummary(result)
	if result.Cancelled {
		printWarning("Run was interrupted or exceeded --timeout; remaining flows were skipped")
	}

	// 7. Generate reports
	writeReports(cfg.OutputDir, recorder)

	if result.Status != report.StatusPassed {
		return cli.Exit("", 1)
	}
	return nil
}

// writeReports renders the derived reports next to report.json. Failures
// are warnings; the JSON report is already complete.
func writeReports(outputDir string, recorder *metrics.Recorder) {
	logger.Info("Generating reports...")
	fmt.Println()
	fmt.Println("  Reports:")

	htmlPath := filepath.Join(outputDir, "report.html")
	if err := report.GenerateHTML(outputDir, report.HTMLConfig{
		OutputPath: htmlPath,
		Title:      "Pixelmon TCG Test Report",
	}); err != nil {
		printWarning(fmt.Sprintf("failed to generate HTML report: %v", err))
	} else {
		fmt.Printf("    HTML:    %s\n", htmlPath)
	}

	junitPath := filepath.Join(outputDir, "junit.xml")
	if err := report.GenerateJUnit(outputDir, junitPath); err != nil {
		printWarning(fmt.Sprintf("failed to generate JUnit report: %v", err))
	} else {
		fmt.Printf("    JUnit:   %s\n", junitPath)
	}

	metricsPath := filepath.Join(outputDir, "metrics.prom")
	if err := recorder.WriteTextfile(metricsPath); err != nil {
		printWarning(fmt.Sprintf("failed to write metrics: %v", err))
	} else {
		fmt.Printf("    Metrics: %s\n", metricsPath)
	}

	fmt.Printf("    JSON:    %s\n", filepath.Join(outputDir, "report.json"))
	fmt.Println()
}

// validateAndParseFlows validates every path and returns the parsed flows
// in execution order.
func validateAndParseFlows(cfg *RunConfig) ([]flow.Flow, error) {
	s := cfg.Settings
	v := validator.New(s.IncludeTags, s.ExcludeTags)
	if cfg.FS != nil {
		v = validator.NewFS(cfg.FS, s.IncludeTags, s.ExcludeTags)
	}

	var flows []flow.Flow
	var allErrors []error
	for _, path := range cfg.FlowPaths {
		result := v.Validate(path)
		allErrors = append(allErrors, result.Errors...)
		for _, f := range result.Flows {
			flows = append(flows, *f)
		}
	}

	if len(allErrors) > 0 {
		fmt.Fprintf(os.Stderr, "Validation errors:\n")
		for _, err := range allErrors {
			fmt.Fprintf(os.Stderr, "  - %v\n", err)
		}
		return nil, fmt.Errorf("validation failed with %d error(s)", len(allErrors))
	}

	if len(flows) == 0 {
		return nil, fmt.Errorf("no test flows found")
	}

	source := strings.Join(cfg.FlowPaths, ", ")
	if cfg.FS != nil {
		source = "bundled suite"
	}
	printSetupSuccess(fmt.Sprintf("Found %d test flow(s) in %s", len(flows), source))
	return flows, nil
}

func printSummary(result *executor.RunResult) {
	totalSteps := lo.SumBy(result.FlowResults, func(fr executor.FlowResult) int { return fr.StepsTotal })
	passedSteps := lo.SumBy(result.FlowResults, func(fr executor.FlowResult) int { return fr.StepsPassed })
	failedSteps := lo.SumBy(result.FlowResults, func(fr executor.FlowResult) int { return fr.StepsFailed })
	skippedSteps := lo.SumBy(result.FlowResults, func(fr executor.FlowResult) int { return fr.StepsSkipped })
	passedTests := lo.SumBy(result.FlowResults, func(fr executor.FlowResult) int { return fr.TestsPassed })
	failedTests := lo.SumBy(result.FlowResults, func(fr executor.FlowResult) int { return fr.TestsFailed })

	fmt.Println()
	if passedTests+failedTests > 0 {
		fmt.Printf("  %s", green(fmt.Sprintf("%d tests passing", passedTests)))
		if failedTests > 0 {
			fmt.Printf(", %s", red(fmt.Sprintf("%d failing", failedTests)))
		}
		fmt.Printf(" (%s)\n", formatDuration(result.Duration))
	} else if passedSteps > 0 {
		fmt.Printf("  %s (%s)\n", green(fmt.Sprintf("%d steps passing", passedSteps)), formatDuration(result.Duration))
	}
	if failedSteps > 0 {
		fmt.Printf("  %s\n", red(fmt.Sprintf("%d steps failing", failedSteps)))
	}
	if skippedSteps > 0 {
		fmt.Printf("  %s\n", cyan(fmt.Sprintf("%d steps skipped", skippedSteps)))
	}
	fmt.Println()

	tableWidth := 92
	fmt.Println(strings.Repeat("═", tableWidth))
	fmt.Printf("  %-36s %6s %6s %7s %6s %6s %6s %10s\n", "Flow", "Status", "Tests", "Steps", "Pass", "Fail", "Skip", "Duration")
	fmt.Println(strings.Repeat("─", tableWidth))

	for _, fr := range result.FlowResults {
		var status string
		switch fr.Status {
		case report.StatusFailed:
			status = red(fmt.Sprintf("%6s", "✗ FAIL"))
		case report.StatusSkipped:
			status = cyan(fmt.Sprintf("%6s", "- SKIP"))
		default:
			status = green(fmt.Sprintf("%6s", "✓ PASS"))
		}

		name := fr.Name
		if len(name) > 36 {
			name = name[:33] + "..."
		}

		tests := "-"
		if n := fr.TestsPassed + fr.TestsFailed; n > 0 {
			tests = fmt.Sprintf("%d/%d", fr.TestsPassed, n)
		}

		fmt.Printf("  %-36s %s %6s %7d %6d %6d %6d %10s\n",
			name, status, tests,
			fr.StepsTotal, fr.StepsPassed, fr.StepsFailed, fr.StepsSkipped,
			formatDuration(fr.Duration))
	}

	fmt.Println(strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%6s", fmt.Sprintf("%d/%d", result.PassedFlows, result.TotalFlows))
	if result.FailedFlows > 0 {
		statusStr = red(statusStr)
	} else {
		statusStr = green(statusStr)
	}
	fmt.Printf("  %s %s %6s %7d %6d %6d %6d %10s\n",
		bold(fmt.Sprintf("%-36s", "TOTAL")), statusStr, "",
		totalSteps, passedSteps, failedSteps, skippedSteps,
		formatDuration(result.Duration))
	fmt.Println(strings.Repeat("═", tableWidth))
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}

// mergeEnv layers CLI variables over the config env.
func mergeEnv(base, overrides map[string]string) map[string]string {
	return lo.Assign(map[string]string{}, base, overrides)
}
