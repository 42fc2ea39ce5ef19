// Package device provides Android device control via ADB.
package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/pixelmon-runner/pkg/core"
	"github.com/devicelab-dev/pixelmon-runner/pkg/logger"
)

// Runner executes a host command. The default runs real processes; tests
// substitute a scripted one.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Options configures device access.
type Options struct {
	// ADBPath overrides PATH lookup.
	ADBPath string
	// Runner overrides process execution.
	Runner Runner
	// WaitTimeout bounds the wait for the device to come online.
	WaitTimeout time.Duration
}

func (o Options) withDefaults() (Options, error) {
	if o.Runner == nil {
		o.Runner = execRunner{}
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 5 * time.Second
	}
	if o.ADBPath == "" {
		p, err := findADB()
		if err != nil {
			return o, err
		}
		o.ADBPath = p
	}
	return o, nil
}

// AndroidDevice manages an Android device connection via ADB.
type AndroidDevice struct {
	serial  string
	adbPath string
	runner  Runner
}

// DeviceInfo contains basic device information.
type DeviceInfo struct {
	Serial     string
	Model      string
	SDK        string
	Release    string
	Brand      string
	IsEmulator bool
}

// Entry is one line of `adb devices`.
type Entry struct {
	Serial string
	State  string
}

// New creates an AndroidDevice for the given serial.
// If serial is empty, it auto-detects the connected device.
func New(ctx context.Context, serial string, opts Options) (*AndroidDevice, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	if serial == "" {
		serial, err = detectDeviceSerial(ctx, opts)
		if err != nil {
			return nil, core.ErrDeviceNotFound.WithCause(fmt.Errorf("no device specified and auto-detect failed: %w", err))
		}
	}

	d := &AndroidDevice{
		serial:  serial,
		adbPath: opts.ADBPath,
		runner:  opts.Runner,
	}

	if err := d.waitForDevice(ctx, opts.WaitTimeout); err != nil {
		return nil, core.ErrDeviceNotFound.WithCause(err)
	}

	return d, nil
}

// ListDevices returns every device adb knows about, in any state.
func ListDevices(ctx context.Context, opts Options) ([]Entry, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	out, stderr, err := opts.Runner.Run(ctx, opts.ADBPath, "devices")
	if err != nil {
		return nil, fmt.Errorf("adb devices: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	return parseDevices(string(out)), nil
}

func parseDevices(out string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 {
			entries = append(entries, Entry{Serial: parts[0], State: parts[1]})
		}
	}
	return entries
}

// detectDeviceSerial finds the first connected device serial.
func detectDeviceSerial(ctx context.Context, opts Options) (string, error) {
	entries, err := ListDevices(ctx, opts)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.State == "device" {
			return e.Serial, nil
		}
	}
	return "", fmt.Errorf("no connected devices found")
}

// Serial returns the device serial number.
func (d *AndroidDevice) Serial() string {
	return d.serial
}

// Shell executes a shell command on the device.
func (d *AndroidDevice) Shell(ctx context.Context, args ...string) (string, error) {
	return d.adb(ctx, append([]string{"shell"}, args...)...)
}

// LaunchApp starts the package's launcher activity through monkey. It
// returns once the intent is delivered, not when the app is interactive.
func (d *AndroidDevice) LaunchApp(ctx context.Context, pkg string) error {
	out, err := d.Shell(ctx, "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return err
	}
	if strings.Contains(out, "monkey aborted") || strings.Contains(out, "No activities found") {
		return core.ErrDeviceCommand.WithCause(fmt.Errorf("launch %s: %s", pkg, strings.TrimSpace(out)))
	}
	return nil
}

// ForceStop terminates the package's process. Stopping a package that is
// not running succeeds.
func (d *AndroidDevice) ForceStop(ctx context.Context, pkg string) error {
	_, err := d.Shell(ctx, "am", "force-stop", pkg)
	return err
}

// KeyEvent injects a key event such as KEYCODE_BACK.
func (d *AndroidDevice) KeyEvent(ctx context.Context, code string) error {
	_, err := d.Shell(ctx, "input", "keyevent", code)
	return err
}

// IsForeground reports whether pkg owns the resumed activity, that is,
// whether the app is on screen rather than merely alive.
func (d *AndroidDevice) IsForeground(ctx context.Context, pkg string) (bool, error) {
	out, err := d.Shell(ctx, "dumpsys", "activity", "activities")
	if err != nil {
		return false, err
	}
	return resumedPackage(out) == pkg, nil
}

// resumedPackage extracts the package of the resumed activity from
// `dumpsys activity activities`. Android 10+ prints topResumedActivity,
// older releases print mResumedActivity.
func resumedPackage(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "topResumedActivity") && !strings.HasPrefix(line, "mResumedActivity") {
			continue
		}
		// ActivityRecord{1c2d3e4 u0 com.example/.MainActivity t42}
		for _, field := range strings.Fields(line) {
			if i := strings.Index(field, "/"); i > 0 {
				return field[:i]
			}
		}
	}
	return ""
}

// AppVersion returns the installed versionName of pkg, or "" if unknown.
func (d *AndroidDevice) AppVersion(ctx context.Context, pkg string) (string, error) {
	out, err := d.Shell(ctx, "dumpsys", "package", pkg)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "versionName=") {
			return strings.TrimPrefix(line, "versionName="), nil
		}
	}
	return "", nil
}

// Info returns device information.
func (d *AndroidDevice) Info(ctx context.Context) (DeviceInfo, error) {
	info := DeviceInfo{Serial: d.serial}

	if model, err := d.Shell(ctx, "getprop", "ro.product.model"); err == nil {
		info.Model = strings.TrimSpace(model)
	}
	if sdk, err := d.Shell(ctx, "getprop", "ro.build.version.sdk"); err == nil {
		info.SDK = strings.TrimSpace(sdk)
	}
	if release, err := d.Shell(ctx, "getprop", "ro.build.version.release"); err == nil {
		info.Release = strings.TrimSpace(release)
	}
	if brand, err := d.Shell(ctx, "getprop", "ro.product.brand"); err == nil {
		info.Brand = strings.TrimSpace(brand)
	}

	// Check if emulator
	qemu, _ := d.Shell(ctx, "getprop", "ro.kernel.qemu")
	info.IsEmulator = strings.TrimSpace(qemu) == "1" || strings.HasPrefix(d.serial, "emulator-")

	return info, nil
}

// adb executes an ADB command.
func (d *AndroidDevice) adb(ctx context.Context, args ...string) (string, error) {
	cmdArgs := make([]string, 0, len(args)+2)
	if d.serial != "" {
		cmdArgs = append(cmdArgs, "-s", d.serial)
	}
	cmdArgs = append(cmdArgs, args...)

	start := time.Now()
	stdout, stderr, err := d.runner.Run(ctx, d.adbPath, cmdArgs...)
	logger.Debug("adb %s [%v]", strings.Join(cmdArgs, " "), time.Since(start))
	if err != nil {
		errMsg := strings.TrimSpace(string(stderr))
		if errMsg == "" {
			errMsg = strings.TrimSpace(string(stdout))
		}
		return string(stdout), core.ErrDeviceCommand.WithCause(fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, errMsg))
	}

	return string(stdout), nil
}

// waitForDevice polls `adb get-state` until the device reports "device".
func (d *AndroidDevice) waitForDevice(ctx context.Context, timeout time.Duration) error {
	const interval = 500 * time.Millisecond
	tries := uint64(timeout / interval)
	if tries == 0 {
		tries = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), tries), ctx)

	err := backoff.Retry(func() error {
		if d.isConnected(ctx) {
			return nil
		}
		return fmt.Errorf("device %s not ready", d.serial)
	}, b)
	if err != nil {
		return fmt.Errorf("timeout waiting for device %s: %w", d.serial, err)
	}
	return nil
}

// isConnected checks if the device is connected.
func (d *AndroidDevice) isConnected(ctx context.Context) bool {
	out, err := d.adb(ctx, "get-state")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "device"
}

// findADB locates the ADB binary.
func findADB() (string, error) {
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}
	return "", core.ErrInvalidConfig.WithCause(fmt.Errorf("adb not found in PATH; ensure Android SDK platform-tools are installed"))
}
