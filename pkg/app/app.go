// Package app controls the lifecycle of the app under test on an Android
// device: launch, force-stop, key events and a foreground check.
package app

import (
	"context"
	"strings"

	"github.com/devicelab-dev/pixelmon-runner/pkg/logger"
)

// Package ids of the Pixelmon TCG builds.
const (
	PackageProd    = "com.PixelPalsStudio.PixelmonTCG"
	PackageStaging = "com.PixelPalsStudio.PixelmonTCG.Stg"
)

// KeyCode is an Android key event code.
type KeyCode string

// Named key codes.
const (
	KeyBack      KeyCode = "KEYCODE_BACK"
	KeyHome      KeyCode = "KEYCODE_HOME"
	KeyEnter     KeyCode = "KEYCODE_ENTER"
	KeyAppSwitch KeyCode = "KEYCODE_APP_SWITCH"
)

// ParseKeyCode accepts short names (back, home, enter, appSwitch) or a raw
// KEYCODE_* constant.
func ParseKeyCode(s string) (KeyCode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "back":
		return KeyBack, true
	case "home":
		return KeyHome, true
	case "enter":
		return KeyEnter, true
	case "appswitch", "app_switch", "recent", "recents":
		return KeyAppSwitch, true
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "KEYCODE_") && len(s) > len("KEYCODE_") {
		return KeyCode(s), true
	}
	return "", false
}

// Bridge is the subset of the device bridge the controller needs.
// *device.AndroidDevice satisfies it.
type Bridge interface {
	LaunchApp(ctx context.Context, pkg string) error
	ForceStop(ctx context.Context, pkg string) error
	KeyEvent(ctx context.Context, code string) error
	IsForeground(ctx context.Context, pkg string) (bool, error)
}

// Controller drives one package on one device.
type Controller struct {
	bridge Bridge
	pkg    string
}

// New returns a controller for pkg. An empty pkg means PackageProd.
func New(bridge Bridge, pkg string) *Controller {
	if pkg == "" {
		pkg = PackageProd
	}
	return &Controller{bridge: bridge, pkg: pkg}
}

// Package returns the controlled package id.
func (c *Controller) Package() string { return c.pkg }

// WithPackage returns a controller for a different package on the same device.
func (c *Controller) WithPackage(pkg string) *Controller {
	if pkg == "" || pkg == c.pkg {
		return c
	}
	return &Controller{bridge: c.bridge, pkg: pkg}
}

// Launch starts the app's launcher activity. It returns once the intent is
// delivered; callers poll for the UI to become visible.
func (c *Controller) Launch(ctx context.Context) error {
	logger.Info("Launching %s", c.pkg)
	if err := c.bridge.LaunchApp(ctx, c.pkg); err != nil {
		logger.Error("Launch %s failed: %v", c.pkg, err)
		return err
	}
	return nil
}

// ForceStop stops the app. Failures are logged and swallowed.
func (c *Controller) ForceStop(ctx context.Context) {
	logger.Info("Force-stopping %s", c.pkg)
	if err := c.bridge.ForceStop(ctx, c.pkg); err != nil {
		logger.Warn("Force-stop %s failed: %v", c.pkg, err)
	}
}

// SendKeyEvent injects a key event. Failures are logged and swallowed.
func (c *Controller) SendKeyEvent(ctx context.Context, code KeyCode) {
	logger.Debug("Key event %s", code)
	if err := c.bridge.KeyEvent(ctx, string(code)); err != nil {
		logger.Warn("Key event %s failed: %v", code, err)
	}
}

// IsForeground reports whether the app is the resumed activity on screen.
func (c *Controller) IsForeground(ctx context.Context) (bool, error) {
	return c.bridge.IsForeground(ctx, c.pkg)
}
