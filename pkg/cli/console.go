package cli

import (
	"fmt"
	"strings"

	"github.com/muesli/termenv"
)

// Slow step threshold in milliseconds (5 seconds)
const slowThresholdMs = 5000

// profile is the terminal color profile. It honors NO_COLOR and
// CLICOLOR_FORCE and degrades to plain text when stdout is not a terminal.
var profile = termenv.EnvColorProfile()

// disableColors switches the console to plain text (--no-ansi).
func disableColors() {
	profile = termenv.Ascii
}

func paint(s, ansi string) string {
	return profile.String(s).Foreground(profile.Color(ansi)).String()
}

func green(s string) string  { return paint(s, "2") }
func red(s string) string    { return paint(s, "1") }
func yellow(s string) string { return paint(s, "3") }
func cyan(s string) string   { return paint(s, "6") }
func gray(s string) string   { return paint(s, "8") }

func bold(s string) string { return profile.String(s).Bold().String() }

func printBanner() {
	fmt.Println()
	fmt.Printf("  %s %s\n", bold("pixelmon-runner"), gray(Version))
	fmt.Println("  Natural-language UI tests for Pixelmon TCG on Android")
	fmt.Println()
}

func printSection(title string) {
	fmt.Printf("\n%s\n", bold(title))
	fmt.Println(strings.Repeat("─", 40))
}

func printSetupStep(msg string) {
	fmt.Printf("  %s %s\n", cyan("⏳"), msg)
}

func printSetupSuccess(msg string) {
	fmt.Printf("  %s %s\n", green("✓"), msg)
}

func printWarning(msg string) {
	fmt.Printf("  %s %s\n", yellow("⚠"), msg)
}

// Live progress callbacks

func onFlowStart(flowIdx, totalFlows int, name, file string) {
	fmt.Printf("\n  %s %s (%s)\n",
		cyan(fmt.Sprintf("[%d/%d]", flowIdx+1, totalFlows)), bold(name), file)
	fmt.Println(strings.Repeat("─", 60))
}

func onStepComplete(_ int, desc string, passed bool, durationMs int64, errMsg string) {
	printStep("    ", desc, passed, durationMs, errMsg, isCompoundCommand(desc))
}

func onNestedFlowStart(depth int, desc string) {
	// Base indent (4 spaces) + 2 spaces per depth level
	indent := strings.Repeat("  ", 2+depth)
	fmt.Printf("%s%s %s\n", indent, cyan("▸"), desc)
}

func onNestedStep(depth int, desc string, passed bool, durationMs int64, errMsg string) {
	indent := strings.Repeat("  ", 2+depth+1)
	printStep(indent, desc, passed, durationMs, errMsg, false)
}

func onFlowEnd(name string, passed bool, durationMs int64) {
	if passed {
		fmt.Printf("%s %s %s\n", green("✓"), name, gray(formatDuration(durationMs)))
	} else {
		fmt.Printf("%s %s %s\n", red("✗"), name, gray(formatDuration(durationMs)))
	}
}

// printStep prints one step line. Compound steps are never marked slow
// because their duration covers their children.
func printStep(indent, desc string, passed bool, durationMs int64, errMsg string, compound bool) {
	durStr := "(" + formatDuration(durationMs) + ")"

	if !passed {
		fmt.Printf("%s%s %s %s\n", indent, red("✗"), desc, durStr)
		if errMsg != "" {
			fmt.Printf("%s  %s %s\n", indent, gray("╰─"), errMsg)
		}
		return
	}

	if durationMs >= slowThresholdMs && !compound {
		fmt.Printf("%s%s %s %s\n", indent, yellow("⚠"), desc, yellow(durStr))
		return
	}
	fmt.Printf("%s%s %s %s\n", indent, green("✓"), desc, durStr)
}

// isCompoundCommand checks if a command wraps other commands.
func isCompoundCommand(desc string) bool {
	for _, prefix := range []string{"runFlow", "repeat", "retry", "test:"} {
		if strings.HasPrefix(desc, prefix) {
			return true
		}
	}
	return false
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
