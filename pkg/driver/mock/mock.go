// Package mock provides a scripted driver for running flows without a
// device or automation backend.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/devicelab-dev/pixelmon-runner/pkg/core"
	"github.com/devicelab-dev/pixelmon-runner/pkg/flow"
	"github.com/devicelab-dev/pixelmon-runner/pkg/poll"
)

// Driver is a mock implementation of core.Driver for testing.
type Driver struct {
	// Configuration
	Config Config

	mu       sync.Mutex
	calls    []Call
	answered map[string]int
	texts    []string
	front    bool
}

// Config configures mock driver behavior.
type Config struct {
	// Answers maps a query to the answers it returns, in order. The last
	// answer repeats once the list is used up. A query without answers
	// returns false.
	Answers map[string][]interface{}
	// Texts are the texts on screen for tapText, assertText and getTexts.
	Texts []string
	// Foreground starts the app in front. launchApp brings it to the
	// front and stopApp sends it away.
	Foreground bool
	// Errors makes the step or query with this argument fail.
	Errors map[string]error
	// StepDelay blocks every step; the step fails when ctx ends first.
	StepDelay time.Duration
	// Platform info to report
	Platform string
	DeviceID string
	AppID    string
}

// Call is one recorded driver interaction.
type Call struct {
	Type flow.StepType
	Arg  string
}

// New creates a new mock driver.
func New(cfg Config) *Driver {
	if cfg.Platform == "" {
		cfg.Platform = "android"
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "mock-device"
	}
	return &Driver{
		Config:   cfg,
		answered: make(map[string]int),
		texts:    append([]string(nil), cfg.Texts...),
		front:    cfg.Foreground,
	}
}

// SetTexts replaces the texts on screen.
func (d *Driver) SetTexts(texts ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts = append([]string(nil), texts...)
}

// Calls returns the recorded interactions.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallsOf returns the arguments recorded for one step type.
func (d *Driver) CallsOf(t flow.StepType) []string {
	return lo.FilterMap(d.Calls(), func(c Call, _ int) (string, bool) {
		return c.Arg, c.Type == t
	})
}

func (d *Driver) record(t flow.StepType, arg string) {
	d.mu.Lock()
	d.calls = append(d.calls, Call{Type: t, Arg: arg})
	d.mu.Unlock()
}

// answer pops the next scripted answer for query.
func (d *Driver) answer(query string) (interface{}, error) {
	if err, ok := d.Config.Errors[query]; ok {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	answers := d.Config.Answers[query]
	if len(answers) == 0 {
		return false, nil
	}
	i := d.answered[query]
	d.answered[query] = i + 1
	if i >= len(answers) {
		i = len(answers) - 1
	}
	return answers[i], nil
}

func (d *Driver) onScreen(text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lo.Contains(d.texts, text)
}

// Check answers a yes/no query from the script.
func (d *Driver) Check(ctx context.Context, query string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.record("check", query)
	v, err := d.answer(query)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

// Execute simulates executing a step.
func (d *Driver) Execute(ctx context.Context, step flow.Step) *core.CommandResult {
	start := time.Now()
	result := d.execute(ctx, step)
	result.Duration = time.Since(start)
	return result
}

//nolint:gocyclo
func (d *Driver) execute(ctx context.Context, step flow.Step) *core.CommandResult {
	if d.Config.StepDelay > 0 {
		if err := poll.Sleep(ctx, d.Config.StepDelay); err != nil {
			return core.Failure(core.ErrTimeout.WithCause(err), fmt.Sprintf("%s interrupted", step.Type()))
		}
	}
	if err := ctx.Err(); err != nil {
		return core.Failure(core.ErrTimeout.WithCause(err), fmt.Sprintf("%s interrupted", step.Type()))
	}

	switch s := step.(type) {
	case *flow.ActStep:
		d.record(s.Type(), s.Instruction)
		if err, ok := d.Config.Errors[s.Instruction]; ok {
			return core.Failure(err, "act failed")
		}
		return core.Success("act: " + s.Instruction)

	case *flow.AskStep:
		d.record(s.Type(), s.Query)
		v, err := d.answer(s.Query)
		if err != nil {
			return core.Failure(err, "ask failed")
		}
		if !s.Matches(v) {
			return core.Failure(core.ErrAnswerMismatch.WithMessage(fmt.Sprintf("%q: got %v, want %v", s.Query, v, s.Expect)), "answer mismatch")
		}
		r := core.Success(fmt.Sprintf("answer: %v", v))
		r.Data = v
		return r

	case *flow.AssertStep:
		d.record(s.Type(), s.Query)
		v, err := d.answer(s.Query)
		if err != nil {
			return core.Failure(err, "ask failed")
		}
		if b, _ := v.(bool); b != s.Want {
			return core.Failure(core.ErrConditionNotMet.WithMessage(fmt.Sprintf("%q answered %v", s.Query, b)), "assertion failed")
		}
		return core.Success(fmt.Sprintf("answer: %v", s.Want))

	case *flow.WaitForStep:
		d.record(s.Type(), fmt.Sprint(s.Ms))
		return core.Success(fmt.Sprintf("waited %dms", s.Ms))

	case *flow.LaunchAppStep:
		id := lo.Ternary(s.AppID != "", s.AppID, d.Config.AppID)
		d.record(s.Type(), id)
		d.mu.Lock()
		defer d.mu.Unlock()
		if s.IfNotForeground && d.front && !s.StopApp {
			return core.Success(id + " already in foreground")
		}
		if err, ok := d.Config.Errors[id]; ok {
			return core.Failure(err, "launch failed")
		}
		d.front = true
		return core.Success("launched " + id)

	case *flow.StopAppStep:
		d.record(s.Type(), lo.Ternary(s.AppID != "", s.AppID, d.Config.AppID))
		d.mu.Lock()
		d.front = false
		d.mu.Unlock()
		return core.Success("stopped")

	case *flow.PressKeyStep:
		d.record(s.Type(), s.Key)
		return core.Success("key " + s.Key)

	case *flow.TapTextStep:
		d.record(s.Type(), s.Text)
		if !d.onScreen(s.Text) {
			return core.Failure(core.ErrTextNotFound.WithMessage(fmt.Sprintf("text %q not found", s.Text)), "tap failed")
		}
		return core.Success("tapped " + s.Text)

	case *flow.AssertTextStep:
		d.record(s.Type(), s.Text)
		for _, c := range s.Candidates() {
			if d.onScreen(c) {
				return core.Success("found " + c)
			}
		}
		return core.Failure(core.ErrTextNotFound.WithMessage(fmt.Sprintf("none of %s found", strings.Join(s.Candidates(), ", "))), "assertion failed")

	case *flow.GetTextsStep:
		d.record(s.Type(), "")
		d.mu.Lock()
		texts := append([]string(nil), d.texts...)
		d.mu.Unlock()
		r := core.Success(fmt.Sprintf("%d texts", len(texts)))
		r.Data = texts
		return r

	case *flow.AnnotateStep:
		d.record(s.Type(), s.Name)
		r := core.Success("annotated")
		r.Artifact = PNG()
		return r
	}

	return core.Failure(core.ErrInvalidConfig.WithMessage(fmt.Sprintf("mock driver cannot execute %s", step.Type())), "unsupported step")
}

// GetPlatformInfo returns mock platform info.
func (d *Driver) GetPlatformInfo() *core.PlatformInfo {
	return &core.PlatformInfo{
		Platform:   d.Config.Platform,
		Runtime:    "mock",
		DeviceID:   d.Config.DeviceID,
		DeviceName: "Mock Device",
		OSVersion:  "14",
		AppID:      d.Config.AppID,
	}
}

// PNG returns a minimal valid PNG (1x1 transparent pixel).
func PNG() []byte {
	return []byte{
		0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, // PNG signature
		0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52, // IHDR chunk
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
		0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
		0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
		0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
		0x42, 0x60, 0x82,
	}
}
