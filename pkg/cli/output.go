package cli

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/devicelab-dev/pixelmon-runner/pkg/report"
)

// formatDeviceLabel formats device info for display.
func formatDeviceLabel(device report.Device) string {
	if device.Name == "" {
		return "Unknown"
	}
	label := device.Name
	if device.OSVersion != "" {
		label = fmt.Sprintf("%s (%s %s)", device.Name, device.Platform, device.OSVersion)
	}
	if device.IsEmulator {
		label += " [emulator]"
	}
	return label
}

// printDetailedFlowResults prints flow-by-flow results with all commands.
func printDetailedFlowResults(index *report.Index, flows []report.FlowDetail) {
	fmt.Printf("\n  Device: %s\n", formatDeviceLabel(index.Device))
	if index.App.ID != "" {
		fmt.Printf("  App:    %s %s\n", index.App.ID, index.App.Version)
	}

	details := lo.KeyBy(flows, func(fd report.FlowDetail) string { return fd.ID })

	for i, entry := range index.Flows {
		fmt.Printf("\n  %s %s (%s)\n",
			cyan(fmt.Sprintf("[%d/%d]", i+1, len(index.Flows))), bold(entry.Name), entry.SourceFile)
		fmt.Println("  " + strings.Repeat("─", 60))

		if fd, ok := details[entry.ID]; ok {
			if e := fd.Hooks.OnFlowStart; e != nil {
				fmt.Printf("    %s onFlowStart %s\n", red("✗"), gray(e.Message))
			}
			for _, cmd := range fd.Commands {
				printCommand(cmd, 0)
			}
		}

		var duration int64
		if entry.Duration != nil {
			duration = *entry.Duration
		}
		switch entry.Status {
		case report.StatusPassed:
			fmt.Printf("%s %s %s\n", green("✓"), entry.Name, gray(formatDuration(duration)))
		case report.StatusFailed:
			fmt.Printf("%s %s %s\n", red("✗"), entry.Name, gray(formatDuration(duration)))
		default:
			fmt.Printf("%s %s %s\n", cyan("-"), entry.Name, gray(string(entry.Status)))
		}
	}
}

// printCommand prints a single command with proper indentation.
func printCommand(cmd report.Command, depth int) {
	indent := strings.Repeat("  ", 2+depth) // Base indent of 2, plus depth

	description := cmd.Label
	if description == "" {
		description = cmd.YAML
	}
	if description == "" {
		description = cmd.Type
	}

	var duration int64
	if cmd.Duration != nil {
		duration = *cmd.Duration
	}

	switch cmd.Status {
	case report.StatusSkipped, report.StatusPending:
		fmt.Printf("%s%s %s\n", indent, gray("-"), gray(description))
	default:
		var errMsg string
		if cmd.Error != nil {
			errMsg = cmd.Error.Message
		}
		printStep(indent, description, cmd.Status == report.StatusPassed, duration, errMsg, isCompoundCommand(description))
	}

	// Print sub-commands (for runFlow, repeat, retry, test)
	for _, sub := range cmd.SubCommands {
		printCommand(sub, depth+1)
	}
}
