package report

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/devicelab-dev/pixelmon-runner/pkg/flow"
)

// BuilderConfig contains configuration for building the report skeleton.
type BuilderConfig struct {
	OutputDir     string     // Base output directory for reports
	RunID         string     // Unique run identifier
	Device        Device     // Device information
	App           App        // Application information
	Controller    Controller // Automation backend information
	RunnerVersion string     // pixelmon-runner version
	DriverName    string     // Driver name (askui, mock)
}

// BuildSkeleton creates the initial report structure from parsed flows.
// All flows and commands are set to "pending" status.
// This should be called after YAML validation, before execution starts.
func BuildSkeleton(flows []flow.Flow, cfg BuilderConfig) (*Index, []FlowDetail, error) {
	now := time.Now()

	index := &Index{
		Version:     Version,
		RunID:       cfg.RunID,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		Device:      cfg.Device,
		App:         cfg.App,
		Controller:  cfg.Controller,
		Runner: RunnerInfo{
			Version: cfg.RunnerVersion,
			Driver:  cfg.DriverName,
		},
		Summary: Summary{
			Total:   len(flows),
			Pending: len(flows),
		},
		Flows: make([]FlowEntry, len(flows)),
	}

	flowDetails := make([]FlowDetail, len(flows))

	for i, f := range flows {
		flowID := fmt.Sprintf("flow-%03d", i)
		flowName := extractFlowName(f)
		commands := buildCommands(f.Steps)

		index.Flows[i] = FlowEntry{
			Index:      i,
			ID:         flowID,
			Name:       flowName,
			SourceFile: f.SourcePath,
			DataFile:   filepath.Join("flows", flowID+".json"),
			AssetsDir:  filepath.Join("assets", flowID),
			Status:     StatusPending,
			Commands: CommandSummary{
				Total:   len(commands),
				Pending: len(commands),
			},
			Tests: TestSummary{Total: countTests(f.Steps)},
		}

		flowDetails[i] = FlowDetail{
			ID:         flowID,
			Name:       flowName,
			SourceFile: f.SourcePath,
			Tags:       f.Config.Tags,
			Commands:   commands,
		}
	}

	return index, flowDetails, nil
}

// extractFlowName extracts a display name from the flow.
func extractFlowName(f flow.Flow) string {
	if f.Config.Name != "" {
		return f.Config.Name
	}
	// Use filename without extension
	base := filepath.Base(f.SourcePath)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}

func countTests(steps []flow.Step) int {
	n := 0
	for _, s := range steps {
		if s.Type() == flow.StepTest {
			n++
		}
	}
	return n
}

// buildCommands creates Command entries from flow steps.
func buildCommands(steps []flow.Step) []Command {
	commands := make([]Command, len(steps))
	for i, step := range steps {
		commands[i] = Command{
			ID:     fmt.Sprintf("cmd-%03d", i),
			Index:  i,
			Type:   string(step.Type()),
			Label:  step.Label(),
			YAML:   step.Describe(),
			Status: StatusPending,
			Params: extractParams(step),
		}
	}
	return commands
}

// extractParams extracts command parameters from a step.
func extractParams(step flow.Step) *CommandParams {
	params := &CommandParams{}

	switch s := step.(type) {
	case *flow.ActStep:
		params.Query = s.Instruction
	case *flow.AskStep:
		params.Query = s.Query
	case *flow.AssertStep:
		params.Query = s.Query
	case *flow.WaitUntilStep:
		params.Query = s.Condition.Describe()
	case *flow.TapTextStep:
		params.Text = s.Text
	case *flow.AssertTextStep:
		params.Text = s.Text
	case *flow.LaunchAppStep:
		params.AppID = s.AppID
	case *flow.StopAppStep:
		params.AppID = s.AppID
	case *flow.PressKeyStep:
		params.Key = s.Key
	case *flow.TestStep:
		params.Timeout = s.TimeoutMs
	}

	if *params == (CommandParams{}) {
		return nil
	}
	return params
}

// WriteSkeleton writes the initial skeleton to disk.
// Creates report.json, all flow detail files, and report.html with pending status.
func WriteSkeleton(outputDir string, index *Index, flowDetails []FlowDetail) error {
	if err := ensureDir(filepath.Join(outputDir, "flows")); err != nil {
		return fmt.Errorf("create flows dir: %w", err)
	}
	if err := ensureDir(filepath.Join(outputDir, "assets")); err != nil {
		return fmt.Errorf("create assets dir: %w", err)
	}

	for _, fd := range flowDetails {
		flowPath := filepath.Join(outputDir, "flows", fd.ID+".json")
		if err := atomicWriteJSON(flowPath, fd); err != nil {
			return fmt.Errorf("write flow %s: %w", fd.ID, err)
		}

		assetsPath := filepath.Join(outputDir, "assets", fd.ID)
		if err := ensureDir(assetsPath); err != nil {
			return fmt.Errorf("create assets dir for %s: %w", fd.ID, err)
		}
	}

	indexPath := filepath.Join(outputDir, "report.json")
	if err := atomicWriteJSON(indexPath, index); err != nil {
		return fmt.Errorf("write index: %w", err)
	}

	if err := GenerateHTML(outputDir, HTMLConfig{ReportDir: outputDir}); err != nil {
		return fmt.Errorf("generate html: %w", err)
	}

	return nil
}
