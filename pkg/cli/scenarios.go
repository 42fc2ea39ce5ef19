package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/pixelmon-runner/pkg/flow"
	"github.com/devicelab-dev/pixelmon-runner/pkg/validator"
	"github.com/devicelab-dev/pixelmon-runner/scenarios"
)

var scenariosCommand = &cli.Command{
	Name:  "scenarios",
	Usage: "List or export the bundled Pixelmon TCG suite",
	Description: `List the scenarios compiled into the binary with their tags and test
counts. With --export the suite is written to a directory so it can be
edited and run with 'pixelmon-runner test <dir>'.

Examples:
  pixelmon-runner scenarios
  pixelmon-runner scenarios --export ./scenarios`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "export",
			Usage: "Write the suite into this directory",
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "Overwrite existing files when exporting",
		},
	},
	Action: runScenarios,
}

func runScenarios(c *cli.Context) error {
	if dir := c.String("export"); dir != "" {
		n, err := exportSuite(scenarios.FS, dir, c.Bool("force"))
		if err != nil {
			return err
		}
		printSetupSuccess(fmt.Sprintf("Exported %d file(s) to %s", n, dir))
		return nil
	}

	result := validator.NewFS(scenarios.FS, nil, nil).Validate(".")
	fmt.Printf("  %-36s %-32s %s\n", "File", "Name", "Tests")
	for i, f := range result.Flows {
		fmt.Printf("  %-36s %-32s %d  %s\n",
			result.TestCases[i], f.Config.Name, countTests(f), gray(strings.Join(f.Config.Tags, ", ")))
	}
	for _, err := range result.Errors {
		printWarning(err.Error())
	}
	return nil
}

func countTests(f *flow.Flow) int {
	n := 0
	flow.Walk(f, func(s flow.Step) {
		if s.Type() == flow.StepTest {
			n++
		}
	})
	return n
}

// exportSuite copies every file of fsys into dir and returns the count.
// Existing files are kept unless force is set.
func exportSuite(fsys fs.FS, dir string, force bool) (int, error) {
	n := 0
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(p))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !force {
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", target)
			}
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}
