// Package askui implements core.Driver on top of an AskUI controller session
// and adb app lifecycle control.
package askui

import (
	"context"
	"fmt"
	"time"

	"github.com/devicelab-dev/pixelmon-runner/pkg/app"
	"github.com/devicelab-dev/pixelmon-runner/pkg/askui"
	"github.com/devicelab-dev/pixelmon-runner/pkg/core"
	"github.com/devicelab-dev/pixelmon-runner/pkg/flow"
)

// Backend is the automation backend surface the driver uses.
// Implemented by *askui.Session. Allows faking in tests.
type Backend interface {
	// Natural-language automation
	Act(ctx context.Context, instruction string) error
	Ask(ctx context.Context, query string, shape askui.ResultShape) (interface{}, error)
	AskBool(ctx context.Context, query string) (bool, error)
	WaitFor(ctx context.Context, d time.Duration) error

	// Legacy selector API
	ClickText(ctx context.Context, text string) error
	ExpectText(ctx context.Context, text string) (bool, error)
	Texts(ctx context.Context) ([]askui.TextElement, error)

	// Media
	Annotate(ctx context.Context) ([]byte, error)
}

// Driver implements core.Driver using an AskUI session.
type Driver struct {
	backend Backend
	app     *app.Controller
	info    *core.PlatformInfo
}

// New creates a driver. The session stays owned by the caller, who closes
// it once after the last flow.
func New(backend Backend, ctrl *app.Controller, info *core.PlatformInfo) *Driver {
	if info == nil {
		info = &core.PlatformInfo{Platform: "android"}
	}
	if info.AppID == "" {
		info.AppID = ctrl.Package()
	}
	return &Driver{
		backend: backend,
		app:     ctrl,
		info:    info,
	}
}

// Execute runs a single step and returns the result.
func (d *Driver) Execute(ctx context.Context, step flow.Step) *core.CommandResult {
	start := time.Now()

	var result *core.CommandResult
	switch s := step.(type) {
	// Natural-language commands
	case *flow.ActStep:
		result = d.act(ctx, s)
	case *flow.AskStep:
		result = d.ask(ctx, s)
	case *flow.AssertStep:
		result = d.assert(ctx, s)
	case *flow.WaitForStep:
		result = d.waitFor(ctx, s)

	// App lifecycle
	case *flow.LaunchAppStep:
		result = d.launchApp(ctx, s)
	case *flow.StopAppStep:
		result = d.stopApp(ctx, s)
	case *flow.PressKeyStep:
		result = d.pressKey(ctx, s)

	// Legacy selector commands
	case *flow.TapTextStep:
		result = d.tapText(ctx, s)
	case *flow.AssertTextStep:
		result = d.assertText(ctx, s)
	case *flow.GetTextsStep:
		result = d.getTexts(ctx, s)

	// Media
	case *flow.AnnotateStep:
		result = d.annotate(ctx, s)

	default:
		result = core.Failure(
			core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unsupported step type: %s", step.Type())),
			fmt.Sprintf("Step type '%s' is not a driver command", step.Type()),
		)
	}

	result.Duration = time.Since(start)
	return result
}

// Check asks a yes/no question about the current screen.
func (d *Driver) Check(ctx context.Context, query string) (bool, error) {
	return d.backend.AskBool(ctx, query)
}

// GetPlatformInfo returns device and controller information.
func (d *Driver) GetPlatformInfo() *core.PlatformInfo {
	return d.info
}
