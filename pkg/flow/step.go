package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// StepType represents the type of step.
type StepType string

// Step type constants.
const (
	// Natural-language automation
	StepAct         StepType = "act"
	StepAsk         StepType = "ask"
	StepAssertTrue  StepType = "assertTrue"
	StepAssertFalse StepType = "assertFalse"
	StepWaitFor     StepType = "waitFor"
	StepWaitUntil   StepType = "waitUntil"

	// App Management
	StepLaunchApp StepType = "launchApp"
	StepStopApp   StepType = "stopApp"
	StepPressKey  StepType = "pressKey"

	// Legacy selector API
	StepTapText    StepType = "tapText"
	StepAssertText StepType = "assertText"
	StepGetTexts   StepType = "getTexts"

	// Media
	StepAnnotate StepType = "annotate"

	// Flow Control
	StepRunFlow StepType = "runFlow"
	StepRepeat  StepType = "repeat"
	StepRetry   StepType = "retry"
	StepTest    StepType = "test"
)

// Step is the interface for all flow steps.
type Step interface {
	Type() StepType
	IsOptional() bool
	Label() string
	Describe() string
}

// Container is a step that owns nested steps.
type Container interface {
	Step
	Children() []Step
}

// BaseStep contains common fields for all steps.
type BaseStep struct {
	StepType  StepType `yaml:"-"`
	Optional  bool     `yaml:"optional"`
	StepLabel string   `yaml:"label"`
	TimeoutMs int      `yaml:"timeout"`
}

// Type returns the step type.
func (b *BaseStep) Type() StepType { return b.StepType }

// IsOptional returns whether the step is optional.
func (b *BaseStep) IsOptional() bool { return b.Optional }

// Label returns the step label.
func (b *BaseStep) Label() string { return b.StepLabel }

// Describe returns a human-readable description.
func (b *BaseStep) Describe() string { return string(b.StepType) }

// ============================================
// Natural-language Steps
// ============================================

// ActStep sends a natural-language instruction to the automation backend.
type ActStep struct {
	BaseStep    `yaml:",inline"`
	Instruction string `yaml:"instruction"`
}

// AskStep asks a natural-language question. When Expect is set the answer
// must equal it; when Variable is set the answer is stored.
type AskStep struct {
	BaseStep   `yaml:",inline"`
	Query      string      `yaml:"query"`
	ResultType string      `yaml:"type"` // boolean, string, number, list
	Expect     interface{} `yaml:"expect"`
	Variable   string      `yaml:"variable"`
}

// Shape returns the requested result shape, defaulting to boolean.
func (s *AskStep) Shape() string {
	if s.ResultType == "" {
		return "boolean"
	}
	return s.ResultType
}

// Matches reports whether answer satisfies Expect. Values compare by their
// printed form, so a YAML integer matches a JSON number. A step without
// Expect matches anything.
func (s *AskStep) Matches(answer interface{}) bool {
	if s.Expect == nil {
		return true
	}
	return strings.TrimSpace(fmt.Sprint(s.Expect)) == strings.TrimSpace(fmt.Sprint(answer))
}

// AssertStep asks a boolean question and requires the given answer.
// assertTrue and assertFalse both decode to it.
type AssertStep struct {
	BaseStep `yaml:",inline"`
	Query    string `yaml:"query"`
	Want     bool   `yaml:"-"`
}

// WaitForStep sleeps for a fixed duration.
type WaitForStep struct {
	BaseStep `yaml:",inline"`
	Ms       int `yaml:"ms"`
}

// WaitUntilStep polls a condition until it holds or attempts run out.
// Zero Attempts/DelayMs mean the configured defaults.
type WaitUntilStep struct {
	BaseStep  `yaml:",inline"`
	Condition Condition `yaml:"-"`
	Attempts  int       `yaml:"attempts"`
	DelayMs   int       `yaml:"delay"`
	Variable  string    `yaml:"variable"` // stores "true"/"false" instead of failing
}

// ============================================
// App Management Steps
// ============================================

// LaunchAppStep launches the app under test. An empty AppID means the flow's
// or run's app id.
type LaunchAppStep struct {
	BaseStep        `yaml:",inline"`
	AppID           string `yaml:"appId"`
	StopApp         bool   `yaml:"stopApp"`         // force-stop first
	SettleMs        int    `yaml:"settle"`          // fixed wait after launch
	IfNotForeground bool   `yaml:"ifNotForeground"` // no-op when the app is already in front
}

// StopAppStep force-stops the app. Failures never fail the flow.
type StopAppStep struct {
	BaseStep `yaml:",inline"`
	AppID    string `yaml:"appId"`
}

// PressKeyStep presses a device key.
type PressKeyStep struct {
	BaseStep `yaml:",inline"`
	Key      string `yaml:"key"`
}

// ============================================
// Legacy selector Steps
// ============================================

// TapTextStep clicks the text element matching Text.
type TapTextStep struct {
	BaseStep `yaml:",inline"`
	Text     string `yaml:"text"`
}

// AssertTextStep expects a text element to exist. Each alternative is tried
// in order, then the upper-case variant of each candidate.
type AssertTextStep struct {
	BaseStep     `yaml:",inline"`
	Text         string   `yaml:"text"`
	Alternatives []string `yaml:"alternatives"`
}

// Candidates returns every text to try, in order, without duplicates.
func (s *AssertTextStep) Candidates() []string {
	seen := map[string]bool{}
	var out []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	base := append([]string{s.Text}, s.Alternatives...)
	for _, t := range base {
		add(t)
	}
	for _, t := range base {
		add(strings.ToUpper(t))
	}
	return out
}

// GetTextsStep lists the detected texts on screen.
type GetTextsStep struct {
	BaseStep `yaml:",inline"`
	Variable string `yaml:"variable"` // stores texts joined by newline
}

// AnnotateStep saves an annotated screenshot to the report assets.
type AnnotateStep struct {
	BaseStep `yaml:",inline"`
	Name     string `yaml:"name"`
}

// ============================================
// Flow Control Steps
// ============================================

// RunFlowStep runs another flow file or inline commands.
type RunFlowStep struct {
	BaseStep `yaml:",inline"`
	File     string            `yaml:"file"`
	Steps    []Step            `yaml:"-"` // Inline steps
	When     *Condition        `yaml:"-"`
	Env      map[string]string `yaml:"env"`
}

// Children returns the inline steps.
func (s *RunFlowStep) Children() []Step { return s.Steps }

// RepeatStep repeats steps.
type RepeatStep struct {
	BaseStep `yaml:",inline"`
	Times    string     `yaml:"times"` // String for variable support
	While    *Condition `yaml:"-"`
	Steps    []Step     `yaml:"-"`
}

// Children returns the repeated steps.
func (s *RepeatStep) Children() []Step { return s.Steps }

// RetryStep retries steps on failure.
type RetryStep struct {
	BaseStep   `yaml:",inline"`
	MaxRetries string `yaml:"maxRetries"` // String for variable support
	Steps      []Step `yaml:"-"`
}

// Children returns the retried steps.
func (s *RetryStep) Children() []Step { return s.Steps }

// TestStep is an independently reported test case. TimeoutMs bounds it.
type TestStep struct {
	BaseStep `yaml:",inline"`
	Name     string `yaml:"name"`
	Steps    []Step `yaml:"-"`
}

// Children returns the test's steps.
func (s *TestStep) Children() []Step { return s.Steps }

// ============================================
// Describe() implementations for detailed output
// ============================================

// Describe returns a human-readable description of the act step.
func (s *ActStep) Describe() string {
	return "act: " + strconv.Quote(s.Instruction)
}

// Describe returns a human-readable description of the ask step.
func (s *AskStep) Describe() string {
	d := fmt.Sprintf("ask (%s): %q", s.Shape(), s.Query)
	if s.Expect != nil {
		d += fmt.Sprintf(" == %v", s.Expect)
	}
	return d
}

// Describe returns a human-readable description of the assert step.
func (s *AssertStep) Describe() string {
	return string(s.StepType) + ": " + strconv.Quote(s.Query)
}

// Describe returns a human-readable description of the wait step.
func (s *WaitForStep) Describe() string {
	return fmt.Sprintf("waitFor: %dms", s.Ms)
}

// Describe returns a human-readable description of the wait until step.
func (s *WaitUntilStep) Describe() string {
	return "waitUntil: " + s.Condition.Describe()
}

// Describe returns a human-readable description of the launch app step.
func (s *LaunchAppStep) Describe() string {
	if s.AppID != "" {
		return "launchApp: " + s.AppID
	}
	return "launchApp"
}

// Describe returns a human-readable description of the stop app step.
func (s *StopAppStep) Describe() string {
	if s.AppID != "" {
		return "stopApp: " + s.AppID
	}
	return "stopApp"
}

// Describe returns a human-readable description of the press key step.
func (s *PressKeyStep) Describe() string {
	return "pressKey: " + s.Key
}

// Describe returns a human-readable description of the tap text step.
func (s *TapTextStep) Describe() string {
	return "tapText: " + strconv.Quote(s.Text)
}

// Describe returns a human-readable description of the assert text step.
func (s *AssertTextStep) Describe() string {
	return "assertText: " + strconv.Quote(s.Text)
}

// Describe returns a human-readable description of the annotate step.
func (s *AnnotateStep) Describe() string {
	if s.Name != "" {
		return "annotate: " + s.Name
	}
	return "annotate"
}

// Describe returns a human-readable description of the run flow step.
func (s *RunFlowStep) Describe() string {
	if s.File != "" {
		return "runFlow: " + s.File
	}
	return "runFlow"
}

// Describe returns a human-readable description of the repeat step.
func (s *RepeatStep) Describe() string {
	if s.Times != "" {
		return "repeat: " + s.Times + " times"
	}
	if !s.While.IsZero() {
		return "repeat while " + s.While.Describe()
	}
	return "repeat"
}

// Describe returns a human-readable description of the test step.
func (s *TestStep) Describe() string {
	return "test: " + s.Name
}
