package askui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/devicelab-dev/pixelmon-runner/pkg/app"
	"github.com/devicelab-dev/pixelmon-runner/pkg/askui"
	"github.com/devicelab-dev/pixelmon-runner/pkg/core"
	"github.com/devicelab-dev/pixelmon-runner/pkg/flow"
	"github.com/devicelab-dev/pixelmon-runner/pkg/logger"
	"github.com/devicelab-dev/pixelmon-runner/pkg/poll"
)

// ============================================
// Natural-language commands
// ============================================

func (d *Driver) act(ctx context.Context, step *flow.ActStep) *core.CommandResult {
	if err := d.backend.Act(ctx, step.Instruction); err != nil {
		return core.Failure(err, fmt.Sprintf("act failed: %v", err))
	}
	return core.Success("act: " + step.Instruction)
}

func (d *Driver) ask(ctx context.Context, step *flow.AskStep) *core.CommandResult {
	v, err := d.backend.Ask(ctx, step.Query, askui.ResultShape(step.Shape()))
	if err != nil {
		return core.Failure(err, fmt.Sprintf("ask failed: %v", err))
	}
	logger.Debug("ask %q -> %v", step.Query, v)

	if !step.Matches(v) {
		err := core.ErrAnswerMismatch.
			WithMessage(fmt.Sprintf("%q: got %v, want %v", step.Query, v, step.Expect)).
			WithDetails(map[string]interface{}{"answer": v, "expected": step.Expect})
		return &core.CommandResult{Success: false, Error: err, Message: err.Message, Data: v}
	}

	r := core.Success(fmt.Sprintf("answer: %v", v))
	r.Data = v
	return r
}

func (d *Driver) assert(ctx context.Context, step *flow.AssertStep) *core.CommandResult {
	got, err := d.backend.AskBool(ctx, step.Query)
	if err != nil {
		return core.Failure(err, fmt.Sprintf("ask failed: %v", err))
	}
	if got != step.Want {
		err := core.ErrConditionNotMet.WithMessage(fmt.Sprintf("%q answered %v, want %v", step.Query, got, step.Want))
		return core.Failure(err, err.Message)
	}
	return core.Success(fmt.Sprintf("answer: %v", got))
}

func (d *Driver) waitFor(ctx context.Context, step *flow.WaitForStep) *core.CommandResult {
	if err := d.backend.WaitFor(ctx, time.Duration(step.Ms)*time.Millisecond); err != nil {
		return core.Failure(err, "wait interrupted")
	}
	return core.Success(fmt.Sprintf("waited %dms", step.Ms))
}

// ============================================
// App lifecycle
// ============================================

func (d *Driver) controllerFor(appID string) *app.Controller {
	return d.app.WithPackage(appID)
}

func (d *Driver) launchApp(ctx context.Context, step *flow.LaunchAppStep) *core.CommandResult {
	ctrl := d.controllerFor(step.AppID)
	if step.IfNotForeground {
		front, err := ctrl.IsForeground(ctx)
		if err != nil {
			logger.Warn("Foreground check for %s failed, launching anyway: %v", ctrl.Package(), err)
		} else if front {
			return core.Success(ctrl.Package() + " already in foreground")
		}
	}
	if step.StopApp {
		ctrl.ForceStop(ctx)
	}
	if err := ctrl.Launch(ctx); err != nil {
		return core.Failure(err, fmt.Sprintf("launch %s failed: %v", ctrl.Package(), err))
	}
	if step.SettleMs > 0 {
		if err := poll.Sleep(ctx, time.Duration(step.SettleMs)*time.Millisecond); err != nil {
			return core.Failure(err, "settle wait interrupted")
		}
	}
	return core.Success("launched " + ctrl.Package())
}

// stopApp never fails: force-stop errors are logged by the controller.
func (d *Driver) stopApp(ctx context.Context, step *flow.StopAppStep) *core.CommandResult {
	ctrl := d.controllerFor(step.AppID)
	ctrl.ForceStop(ctx)
	return core.Success("stopped " + ctrl.Package())
}

func (d *Driver) pressKey(ctx context.Context, step *flow.PressKeyStep) *core.CommandResult {
	code, ok := app.ParseKeyCode(step.Key)
	if !ok {
		err := core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unknown key %q", step.Key))
		return core.Failure(err, err.Message)
	}
	d.app.SendKeyEvent(ctx, code)
	return core.Success("key " + string(code))
}

// ============================================
// Legacy selector commands
// ============================================

func (d *Driver) tapText(ctx context.Context, step *flow.TapTextStep) *core.CommandResult {
	if err := d.backend.ClickText(ctx, step.Text); err != nil {
		return core.Failure(err, fmt.Sprintf("click %q failed: %v", step.Text, err))
	}
	return core.Success("tapped " + step.Text)
}

// assertText tries the text, each alternative, then the upper-case variants.
// The first error is returned only when no candidate produced a verdict.
func (d *Driver) assertText(ctx context.Context, step *flow.AssertTextStep) *core.CommandResult {
	candidates := step.Candidates()
	var firstErr error
	verdict := false
	for _, text := range candidates {
		found, err := d.backend.ExpectText(ctx, text)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		verdict = true
		if found {
			return core.Success("found " + text)
		}
	}
	if !verdict && firstErr != nil {
		return core.Failure(firstErr, fmt.Sprintf("expect %q failed: %v", step.Text, firstErr))
	}
	err := core.ErrTextNotFound.WithMessage(fmt.Sprintf("none of %s found", strings.Join(candidates, ", ")))
	return core.Failure(err, err.Message)
}

func (d *Driver) getTexts(ctx context.Context, _ *flow.GetTextsStep) *core.CommandResult {
	elems, err := d.backend.Texts(ctx)
	if err != nil {
		return core.Failure(err, fmt.Sprintf("get texts failed: %v", err))
	}
	texts := lo.Map(elems, func(e askui.TextElement, _ int) string { return e.Text })
	r := core.Success(fmt.Sprintf("%d texts", len(texts)))
	r.Data = texts
	return r
}

// ============================================
// Media
// ============================================

func (d *Driver) annotate(ctx context.Context, _ *flow.AnnotateStep) *core.CommandResult {
	img, err := d.backend.Annotate(ctx)
	if err != nil {
		return core.Failure(err, fmt.Sprintf("annotate failed: %v", err))
	}
	r := core.Success(fmt.Sprintf("annotated (%d bytes)", len(img)))
	r.Artifact = img
	return r
}
