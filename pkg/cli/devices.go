package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/pixelmon-runner/pkg/device"
)

var devicesCommand = &cli.Command{
	Name:  "devices",
	Usage: "List connected Android devices",
	Description: `List the devices adb can see with their model and Android version,
and whether the app under test is installed.

Examples:
  pixelmon-runner devices
  pixelmon-runner --app-id com.PixelPalsStudio.PixelmonTCG.Stg devices`,
	Action: runDevices,
}

func runDevices(c *cli.Context) error {
	settings, err := loadSettings(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	opts := device.Options{ADBPath: settings.ADBPath}
	entries, err := device.ListDevices(ctx, opts)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No devices found")
		return nil
	}

	fmt.Printf("  %-24s %-10s %-28s %-8s %s\n", "Serial", "State", "Model", "Android", settings.AppID)
	for _, e := range entries {
		if e.State != "device" {
			fmt.Printf("  %-24s %s\n", e.Serial, yellow(e.State))
			continue
		}
		fmt.Println(describeDevice(ctx, e, opts, settings.AppID))
	}
	return nil
}

// describeDevice renders one online device. Lookup failures are shown
// inline rather than aborting the listing.
func describeDevice(ctx context.Context, e device.Entry, opts device.Options, appID string) string {
	dev, err := device.New(ctx, e.Serial, opts)
	if err != nil {
		return fmt.Sprintf("  %-24s %-10s %s", e.Serial, e.State, red(err.Error()))
	}
	info, err := dev.Info(ctx)
	if err != nil {
		return fmt.Sprintf("  %-24s %-10s %s", e.Serial, e.State, red(err.Error()))
	}

	model := fmt.Sprintf("%s %s", info.Brand, info.Model)
	if info.IsEmulator {
		model += " (emulator)"
	}

	app := gray("not installed")
	if version, err := dev.AppVersion(ctx, appID); err == nil && version != "" {
		app = green(version)
	}

	return fmt.Sprintf("  %-24s %-10s %-28s %-8s %s", e.Serial, e.State, model, info.Release, app)
}
