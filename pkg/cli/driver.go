package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/pixelmon-runner/pkg/app"
	"github.com/devicelab-dev/pixelmon-runner/pkg/askui"
	"github.com/devicelab-dev/pixelmon-runner/pkg/core"
	"github.com/devicelab-dev/pixelmon-runner/pkg/device"
	"github.com/devicelab-dev/pixelmon-runner/pkg/devicelock"
	askuidriver "github.com/devicelab-dev/pixelmon-runner/pkg/driver/askui"
	"github.com/devicelab-dev/pixelmon-runner/pkg/driver/mock"
	"github.com/devicelab-dev/pixelmon-runner/pkg/logger"
	"github.com/devicelab-dev/pixelmon-runner/pkg/report"
)

// Driver names accepted by --driver.
const (
	driverAskUI = "askui"
	driverMock  = "mock"
)

// driverSetup is a ready driver plus the facts the report records about it.
type driverSetup struct {
	driver     core.Driver
	name       string
	device     report.Device
	app        report.App
	controller report.Controller
	cleanup    func()
}

// createDriver connects everything a run needs. Cleanup must be called
// exactly once when the run is over.
func createDriver(ctx context.Context, cfg *RunConfig, obs askui.Observer) (*driverSetup, error) {
	switch strings.ToLower(cfg.Driver) {
	case driverMock:
		return createMockDriver(cfg)
	case driverAskUI, "":
		return createAskUIDriver(ctx, cfg, obs)
	default:
		return nil, fmt.Errorf("unsupported driver: %s (use askui or mock)", cfg.Driver)
	}
}

// createAskUIDriver connects the device, leases it when a lock is
// configured, then opens the controller session.
func createAskUIDriver(ctx context.Context, cfg *RunConfig, obs askui.Observer) (*driverSetup, error) {
	s := cfg.Settings
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// 1. Connect to device
	if s.Device != "" {
		printSetupStep(fmt.Sprintf("Connecting to device %s...", s.Device))
		logger.Info("Connecting to Android device: %s", s.Device)
	} else {
		printSetupStep("Connecting to device...")
		logger.Info("Auto-detecting Android device...")
	}
	dev, err := device.New(ctx, s.Device, device.Options{ADBPath: s.ADBPath, Runner: cfg.DeviceRunner})
	if err != nil {
		logger.Error("Failed to connect to device: %v", err)
		return nil, fmt.Errorf("connect to device: %w", err)
	}

	info, err := dev.Info(ctx)
	if err != nil {
		logger.Error("Failed to get device info: %v", err)
		return nil, fmt.Errorf("get device info: %w", err)
	}
	logger.Info("Device info: %s %s, SDK %s, Serial %s, Emulator: %v",
		info.Brand, info.Model, info.SDK, info.Serial, info.IsEmulator)
	printSetupSuccess(fmt.Sprintf("Connected to %s %s (Android %s)", info.Brand, info.Model, info.Release))

	// 2. Lease the device so two runners never drive it at once
	if s.Lock.RedisAddr != "" {
		release, err := leaseDevice(ctx, cfg, dev.Serial())
		if err != nil {
			return nil, err
		}
		cleanups = append(cleanups, release)
	}

	// 3. Open the controller session
	printSetupStep(fmt.Sprintf("Connecting to AskUI controller at %s...", s.Controller.URL))
	session, err := askui.Open(ctx, askui.Options{
		WorkspaceID:   s.Controller.WorkspaceID,
		Token:         s.Controller.Token,
		ControllerURL: s.Controller.URL,
		Timeout:       s.CallTimeout(),
		Observer:      obs,
	})
	if err != nil {
		logger.Error("Failed to open controller session: %v", err)
		cleanup()
		return nil, err
	}
	cleanups = append(cleanups, func() {
		if err := session.Close(); err != nil {
			logger.Warn("Failed to close controller session: %v", err)
		}
	})

	args := session.StartingArguments()
	if args.DeviceID != "" && args.DeviceID != dev.Serial() {
		printWarning(fmt.Sprintf("Controller drives %s but adb selected %s", args.DeviceID, dev.Serial()))
		logger.Warn("Controller device %s differs from adb device %s", args.DeviceID, dev.Serial())
	}
	printSetupSuccess(fmt.Sprintf("Session %s created (runtime %s)", session.ID(), args.Runtime))

	// 4. Query app version for the report
	appVersion, err := dev.AppVersion(ctx, s.AppID)
	if err != nil {
		logger.Warn("Could not read version of %s: %v", s.AppID, err)
	}

	platformInfo := &core.PlatformInfo{
		Platform:   "android",
		Runtime:    args.Runtime,
		OSVersion:  info.Release,
		DeviceName: fmt.Sprintf("%s %s", info.Brand, info.Model),
		DeviceID:   info.Serial,
		AppID:      s.AppID,
		AppVersion: appVersion,
	}

	return &driverSetup{
		driver: askuidriver.New(session, app.New(dev, s.AppID), platformInfo),
		name:   driverAskUI,
		device: report.Device{
			ID:         info.Serial,
			Name:       platformInfo.DeviceName,
			Platform:   "android",
			OSVersion:  info.Release,
			Model:      info.Model,
			IsEmulator: info.IsEmulator,
		},
		app: report.App{
			ID:      s.AppID,
			Name:    appName(s.AppID),
			Version: appVersion,
		},
		controller: report.Controller{
			URL:       s.Controller.URL,
			SessionID: session.ID(),
			Runtime:   args.Runtime,
		},
		cleanup: cleanup,
	}, nil
}

// leaseDevice acquires the Redis lease for serial and keeps it alive until
// the returned release func runs.
func leaseDevice(ctx context.Context, cfg *RunConfig, serial string) (func(), error) {
	s := cfg.Settings
	printSetupStep(fmt.Sprintf("Leasing device %s via %s...", serial, s.Lock.RedisAddr))

	client, err := devicelock.Dial(ctx, s.Lock.RedisAddr, s.Lock.Password, s.Lock.DB)
	if err != nil {
		return nil, fmt.Errorf("device lock: %w", err)
	}

	lease, err := devicelock.New(client, "").Acquire(ctx, serial, s.LockTTL(), s.LockWait())
	if err != nil {
		_ = client.Close()
		if errors.Is(err, devicelock.ErrLocked) {
			return nil, fmt.Errorf("device %s is busy: %w", serial, err)
		}
		return nil, fmt.Errorf("device lock: %w", err)
	}
	printSetupSuccess(fmt.Sprintf("Device leased (%s)", lease.Token()))

	keepCtx, stop := context.WithCancel(context.Background())
	lease.KeepAlive(keepCtx)

	return func() {
		stop()
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			logger.Warn("Failed to release device lease: %v", err)
		}
		_ = client.Close()
	}, nil
}

// mockScript scripts the mock driver for dry runs.
type mockScript struct {
	Answers    map[string][]interface{} `yaml:"answers"`
	Texts      []string                 `yaml:"texts"`
	Foreground bool                     `yaml:"foreground"`
}

func loadMockScript(path string) (*mockScript, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided script
	if err != nil {
		return nil, fmt.Errorf("read mock script: %w", err)
	}
	var script mockScript
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, core.ErrInvalidConfig.WithMessage("parse " + path).WithCause(err)
	}
	return &script, nil
}

func createMockDriver(cfg *RunConfig) (*driverSetup, error) {
	mc := mock.Config{
		DeviceID: cfg.Settings.Device,
		AppID:    cfg.Settings.AppID,
	}
	if cfg.MockScript != "" {
		script, err := loadMockScript(cfg.MockScript)
		if err != nil {
			return nil, err
		}
		mc.Answers = script.Answers
		mc.Texts = script.Texts
		mc.Foreground = script.Foreground
	}

	driver := mock.New(mc)
	pi := driver.GetPlatformInfo()
	printSetupSuccess("Using mock driver")

	return &driverSetup{
		driver: driver,
		name:   driverMock,
		device: report.Device{
			ID:        pi.DeviceID,
			Name:      pi.DeviceName,
			Platform:  pi.Platform,
			OSVersion: pi.OSVersion,
		},
		app:     report.App{ID: pi.AppID, Name: appName(pi.AppID)},
		cleanup: func() {},
	}, nil
}

// appName labels the known Pixelmon packages.
func appName(pkg string) string {
	switch pkg {
	case app.PackageProd:
		return "Pixelmon TCG"
	case app.PackageStaging:
		return "Pixelmon TCG (staging)"
	}
	return ""
}
