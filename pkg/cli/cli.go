// Package cli provides the command-line interface for pixelmon-runner.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/pixelmon-runner/pkg/config"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "Path to pixelmon.yaml (default: ./pixelmon.yaml or ./pixelmon.yml)",
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"serial", "s"},
		Usage:   "adb serial of the device to run on",
		EnvVars: []string{config.EnvSerial},
	},
	&cli.StringFlag{
		Name:  "adb",
		Usage: "Path to the adb binary (default: found on PATH)",
	},
	&cli.StringFlag{
		Name:    "app-id",
		Usage:   "Package under test (com.PixelPalsStudio.PixelmonTCG or com.PixelPalsStudio.PixelmonTCG.Stg)",
		EnvVars: []string{config.EnvAppID},
	},
	&cli.StringFlag{
		Name:    "controller-url",
		Usage:   "AskUI controller URL",
		EnvVars: []string{config.EnvControllerURL},
	},
	&cli.StringFlag{
		Name:    "driver",
		Aliases: []string{"d"},
		Usage:   "Driver to use (askui, mock)",
		Value:   driverAskUI,
		EnvVars: []string{"PIXELMON_DRIVER"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Mirror debug logging to stderr",
		EnvVars: []string{"PIXELMON_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "pixelmon-runner",
		Usage:   "Natural-language UI test runner for Pixelmon TCG on Android",
		Version: Version,
		Description: `Pixelmon Runner executes YAML scenarios against the Pixelmon TCG Android
app through an AskUI controller. Steps are natural-language instructions
and yes/no questions about the screen.

Examples:
  pixelmon-runner test
  pixelmon-runner test scenarios/ --include-tags smoke
  pixelmon-runner test login.yaml -e PIXELMON_GOOGLE_EMAIL=player@example.com
  pixelmon-runner --device emulator-5554 test scenarios/mail.yaml
  pixelmon-runner report reports/2024-05-01_10-00-00`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				disableColors()
			}
			return nil
		},
		Commands: []*cli.Command{
			testCommand,
			validateCommand,
			devicesCommand,
			scenariosCommand,
			reportCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadSettings resolves the configuration for a command: defaults, the
// config file, .env, the environment, then the global flags.
func loadSettings(c *cli.Context) (*config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Resolve(wd, c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if c.IsSet("device") {
		cfg.Device = c.String("device")
	}
	if c.IsSet("adb") {
		cfg.ADBPath = c.String("adb")
	}
	if c.IsSet("app-id") {
		cfg.AppID = c.String("app-id")
	}
	if c.IsSet("controller-url") {
		cfg.Controller.URL = c.String("controller-url")
	}
	return cfg, nil
}
