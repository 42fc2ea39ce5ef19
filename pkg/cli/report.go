package cli

import (
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/pixelmon-runner/pkg/report"
)

var reportCommand = &cli.Command{
	Name:      "report",
	Usage:     "Summarize or regenerate a run's reports",
	ArgsUsage: "<report-dir>",
	Description: `Render the summary of a finished run, rebuild its HTML and JUnit files,
or finalize a report left behind by a runner that was killed.

Examples:
  pixelmon-runner report reports/2024-05-01_10-00-00
  pixelmon-runner report --details reports/latest
  pixelmon-runner report --recover --html --junit reports/2024-05-01_10-00-00`,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "recover",
			Usage: "Finalize flows a killed run left running",
		},
		&cli.BoolFlag{
			Name:  "html",
			Usage: "Regenerate report.html",
		},
		&cli.BoolFlag{
			Name:  "junit",
			Usage: "Regenerate junit.xml",
		},
		&cli.BoolFlag{
			Name:  "details",
			Usage: "Print every command of every flow",
		},
		&cli.BoolFlag{
			Name:  "markdown",
			Usage: "Print the summary as raw markdown",
		},
	},
	Action: runReport,
}

func runReport(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one report directory is required")
	}
	dir := c.Args().First()

	if c.Bool("recover") {
		if err := report.Recover(dir); err != nil {
			return fmt.Errorf("recover report: %w", err)
		}
		printSetupSuccess("Report finalized")
	}
	if c.Bool("html") {
		path := filepath.Join(dir, "report.html")
		if err := report.GenerateHTML(dir, report.HTMLConfig{OutputPath: path, Title: "Pixelmon TCG Test Report"}); err != nil {
			return fmt.Errorf("generate HTML report: %w", err)
		}
		printSetupSuccess("HTML: " + path)
	}
	if c.Bool("junit") {
		path := filepath.Join(dir, "junit.xml")
		if err := report.GenerateJUnit(dir, path); err != nil {
			return fmt.Errorf("generate JUnit report: %w", err)
		}
		printSetupSuccess("JUnit: " + path)
	}

	index, flows, err := report.ReadReport(dir)
	if err != nil {
		return err
	}

	if c.Bool("details") {
		printDetailedFlowResults(index, flows)
		return nil
	}

	md := report.Markdown(index, flows)
	plain := c.Bool("markdown") || c.Bool("no-ansi")
	out, err := report.RenderMarkdown(md, plain)
	if err != nil {
		printWarning(fmt.Sprintf("could not render summary: %v", err))
	}
	fmt.Print(out)
	return nil
}
