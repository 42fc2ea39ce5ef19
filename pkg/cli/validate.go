package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/pixelmon-runner/pkg/validator"
	"github.com/devicelab-dev/pixelmon-runner/scenarios"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Check scenarios without running them",
	ArgsUsage: "[<scenario-file-or-folder>...]",
	Description: `Parse scenarios, resolve their runFlow references and report every
problem found. Without arguments the bundled suite is checked.

Examples:
  pixelmon-runner validate
  pixelmon-runner validate scenarios/ --include-tags smoke`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include flows with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude flows with these tags",
		},
	},
	Action: runValidate,
}

func runValidate(c *cli.Context) error {
	include, exclude := c.StringSlice("include-tags"), c.StringSlice("exclude-tags")

	paths := c.Args().Slice()
	v := validator.New(include, exclude)
	if len(paths) == 0 {
		v = validator.NewFS(scenarios.FS, include, exclude)
		paths = []string{"."}
	}

	var failed int
	for _, path := range paths {
		result := v.Validate(path)
		for _, tc := range result.TestCases {
			fmt.Printf("  %s %s\n", green("✓"), tc)
		}
		for _, err := range result.Errors {
			fmt.Fprintf(os.Stderr, "  %s %v\n", red("✗"), err)
		}
		failed += len(result.Errors)
	}

	if failed > 0 {
		return fmt.Errorf("validation failed with %d error(s)", failed)
	}
	return nil
}
