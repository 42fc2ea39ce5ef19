package flow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func TestParse_SimpleFlow(t *testing.T) {
	yaml := `
- act: "Tap the Collection button"
- waitFor: 3000
- assertText: COLLECTION
`
	flow, err := Parse([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(flow.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(flow.Steps))
	}

	act, ok := flow.Steps[0].(*ActStep)
	if !ok {
		t.Fatalf("expected ActStep, got %T", flow.Steps[0])
	}
	if act.Instruction != "Tap the Collection button" {
		t.Errorf("unexpected instruction %q", act.Instruction)
	}

	wait, ok := flow.Steps[1].(*WaitForStep)
	if !ok {
		t.Fatalf("expected WaitForStep, got %T", flow.Steps[1])
	}
	if wait.Ms != 3000 {
		t.Errorf("expected 3000ms, got %d", wait.Ms)
	}

	text, ok := flow.Steps[2].(*AssertTextStep)
	if !ok {
		t.Fatalf("expected AssertTextStep, got %T", flow.Steps[2])
	}
	if text.Text != "COLLECTION" {
		t.Errorf("expected COLLECTION, got %q", text.Text)
	}
}

func TestParse_WithConfig(t *testing.T) {
	yaml := `
appId: com.PixelPalsStudio.PixelmonTCG
name: Login
tags:
  - smoke
  - login
env:
  EMAIL: tester@example.com
timeout: 300000
testTimeout: 600000
---
- launchApp
`
	flow, err := Parse([]byte(yaml), "login.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if flow.Config.AppID != "com.PixelPalsStudio.PixelmonTCG" {
		t.Errorf("unexpected appId %q", flow.Config.AppID)
	}
	if flow.Config.Name != "Login" || flow.DisplayName() != "Login" {
		t.Errorf("unexpected name %q", flow.Config.Name)
	}
	if len(flow.Config.Tags) != 2 {
		t.Errorf("expected 2 tags, got %d", len(flow.Config.Tags))
	}
	if flow.Config.Env["EMAIL"] != "tester@example.com" {
		t.Errorf("unexpected env %v", flow.Config.Env)
	}
	if flow.Config.Timeout != 300000 || flow.Config.TestTimeout != 600000 {
		t.Errorf("unexpected timeouts %d/%d", flow.Config.Timeout, flow.Config.TestTimeout)
	}
	if _, ok := flow.Steps[0].(*LaunchAppStep); !ok {
		t.Errorf("expected LaunchAppStep, got %T", flow.Steps[0])
	}
}

func TestParse_DisplayNameFallsBackToPath(t *testing.T) {
	flow, err := Parse([]byte("- getTexts\n"), "flows/mail.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.DisplayName() != "flows/mail.yaml" {
		t.Errorf("unexpected display name %q", flow.DisplayName())
	}
}

func TestParse_AllStepTypes(t *testing.T) {
	yaml := `
- act: Tap the Login button
- ask: Is the Login button visible?
- assertTrue: Is the Collection menu button visible?
- assertFalse: Is the claim button visible?
- waitFor: 2000
- waitUntil: Is the main menu visible?
- launchApp
- stopApp
- pressKey: back
- tapText: Collection
- assertText: COLLECTION
- getTexts
- annotate
- runFlow: common/return-home.yaml
- repeat:
    times: 2
    commands:
      - pressKey: back
- retry:
    maxRetries: 2
    commands:
      - act: Tap Close
- test:
    name: opens collection
    commands:
      - tapText: Collection
`
	flow, err := Parse([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []StepType{
		StepAct, StepAsk, StepAssertTrue, StepAssertFalse, StepWaitFor, StepWaitUntil,
		StepLaunchApp, StepStopApp, StepPressKey, StepTapText, StepAssertText, StepGetTexts,
		StepAnnotate, StepRunFlow, StepRepeat, StepRetry, StepTest,
	}
	if len(flow.Steps) != len(expected) {
		t.Fatalf("expected %d steps, got %d", len(expected), len(flow.Steps))
	}
	for i, want := range expected {
		if got := flow.Steps[i].Type(); got != want {
			t.Errorf("step %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestParse_AskStep(t *testing.T) {
	yaml := `
- ask:
    query: How many cards are in the collection?
    type: number
    expect: 12
    variable: CARD_COUNT
    optional: true
`
	flow, err := Parse([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ask := flow.Steps[0].(*AskStep)
	if ask.Shape() != "number" {
		t.Errorf("expected number shape, got %s", ask.Shape())
	}
	if ask.Expect != 12 {
		t.Errorf("expected expect=12, got %v (%T)", ask.Expect, ask.Expect)
	}
	if ask.Variable != "CARD_COUNT" || !ask.IsOptional() {
		t.Errorf("unexpected ask %+v", ask)
	}
}

func TestParse_AskScalarDefaultsToBoolean(t *testing.T) {
	flow, err := Parse([]byte("- ask: Is the mail icon visible?\n"), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ask := flow.Steps[0].(*AskStep)
	if ask.Shape() != "boolean" || ask.Expect != nil {
		t.Errorf("unexpected ask %+v", ask)
	}
}

func TestParse_AskInvalidType(t *testing.T) {
	_, err := Parse([]byte("- ask:\n    query: q\n    type: object\n"), "test.yaml")
	if err == nil || !strings.Contains(err.Error(), "unsupported type") {
		t.Errorf("expected unsupported type error, got %v", err)
	}
}

func TestParse_AssertTrueFalse(t *testing.T) {
	yaml := `
- assertTrue: Is the Collection menu button visible?
- assertFalse:
    query: Is the claim button visible?
    label: claimed
`
	flow, err := Parse([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	yes := flow.Steps[0].(*AssertStep)
	no := flow.Steps[1].(*AssertStep)
	if !yes.Want || no.Want {
		t.Errorf("unexpected wants: %v, %v", yes.Want, no.Want)
	}
	if no.Label() != "claimed" {
		t.Errorf("expected label, got %q", no.Label())
	}
}

func TestParse_WaitUntilStep(t *testing.T) {
	yaml := `
- waitUntil:
    anyOf:
      - Is the text 'COLLECTION' visible?
      - Is the text 'Collection' visible?
    attempts: 5
    delay: 2000
    variable: ON_COLLECTION
`
	flow, err := Parse([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := flow.Steps[0].(*WaitUntilStep)
	if len(w.Condition.AnyOf) != 2 {
		t.Fatalf("expected 2 anyOf queries, got %v", w.Condition.AnyOf)
	}
	if w.Attempts != 5 || w.DelayMs != 2000 || w.Variable != "ON_COLLECTION" {
		t.Errorf("unexpected waitUntil %+v", w)
	}
	if !strings.Contains(w.Describe(), "anyOf 2") {
		t.Errorf("unexpected describe %q", w.Describe())
	}
}

func TestParse_WaitUntilRequiresQuery(t *testing.T) {
	_, err := Parse([]byte("- waitUntil:\n    attempts: 3\n"), "test.yaml")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestParse_LaunchAppMapping(t *testing.T) {
	yaml := `
- launchApp:
    appId: com.PixelPalsStudio.PixelmonTCG.Stg
    stopApp: true
    settle: 5000
    ifNotForeground: true
`
	flow, err := Parse([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l := flow.Steps[0].(*LaunchAppStep)
	if l.AppID != "com.PixelPalsStudio.PixelmonTCG.Stg" || !l.StopApp || l.SettleMs != 5000 || !l.IfNotForeground {
		t.Errorf("unexpected launchApp %+v", l)
	}
}

func TestParse_AssertTextAlternatives(t *testing.T) {
	yaml := `
- assertText:
    text: Collection
    alternatives: [My Cards]
`
	flow, err := Parse([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := flow.Steps[0].(*AssertTextStep)
	got := strings.Join(a.Candidates(), "|")
	if got != "Collection|My Cards|COLLECTION|MY CARDS" {
		t.Errorf("unexpected candidates %q", got)
	}
}

func TestParse_GetTextsVariable(t *testing.T) {
	flow, err := Parse([]byte("- getTexts: SCREEN\n- getTexts:\n    variable: OTHER\n"), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.Steps[0].(*GetTextsStep).Variable != "SCREEN" {
		t.Errorf("unexpected variable %+v", flow.Steps[0])
	}
	if flow.Steps[1].(*GetTextsStep).Variable != "OTHER" {
		t.Errorf("unexpected variable %+v", flow.Steps[1])
	}
}

func TestParse_RepeatWithWhile(t *testing.T) {
	yaml := `
- repeat:
    while:
      visible: Is there a reward screen with a Continue button?
    times: 5
    commands:
      - act: Tap Continue
      - waitFor: 1000
`
	flow, err := Parse([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := flow.Steps[0].(*RepeatStep)
	if r.Times != "5" {
		t.Errorf("expected times=5, got %q", r.Times)
	}
	if r.While == nil || r.While.Visible == "" {
		t.Fatalf("expected while condition, got %+v", r.While)
	}
	if len(r.Steps) != 2 {
		t.Errorf("expected 2 nested steps, got %d", len(r.Steps))
	}
}

func TestParse_RepeatRequiresBound(t *testing.T) {
	_, err := Parse([]byte("- repeat:\n    commands:\n      - act: x\n"), "test.yaml")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestParse_RetryStep(t *testing.T) {
	yaml := `
- retry:
    maxRetries: 3
    commands:
      - act: Tap Claim All
      - assertFalse: Is the claim button visible?
`
	flow, err := Parse([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := flow.Steps[0].(*RetryStep)
	if r.MaxRetries != "3" || len(r.Steps) != 2 {
		t.Errorf("unexpected retry %+v", r)
	}
}

func TestParse_RunFlowScalar(t *testing.T) {
	flow, err := Parse([]byte("- runFlow: common/auto-login.yaml\n"), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rf := flow.Steps[0].(*RunFlowStep)
	if rf.File != "common/auto-login.yaml" {
		t.Errorf("unexpected file %q", rf.File)
	}
}

func TestParse_RunFlowWithWhen(t *testing.T) {
	yaml := `
- runFlow:
    when:
      notVisible: Is the main menu visible?
    env:
      REASON: not on home
    commands:
      - launchApp
`
	flow, err := Parse([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rf := flow.Steps[0].(*RunFlowStep)
	if rf.When == nil || rf.When.NotVisible != "Is the main menu visible?" {
		t.Errorf("unexpected when %+v", rf.When)
	}
	if rf.Env["REASON"] != "not on home" || len(rf.Steps) != 1 {
		t.Errorf("unexpected runFlow %+v", rf)
	}
}

func TestParse_RunFlowRequiresTarget(t *testing.T) {
	for _, yaml := range []string{
		"- runFlow:\n    env:\n      A: b\n",
		"- runFlow:\n",
		"- runFlow: ~\n",
	} {
		_, err := Parse([]byte(yaml), "test.yaml")
		if err == nil || !strings.Contains(err.Error(), "runFlow requires file or commands") {
			t.Errorf("Parse(%q) error = %v, want runFlow target error", yaml, err)
		}
	}
}

func TestParse_MultipleCommandsInOneStep(t *testing.T) {
	_, err := Parse([]byte("- act: Open the mailbox\n  ask: Is there unread mail?\n"), "test.yaml")
	if err == nil {
		t.Fatal("expected error for a step with two commands")
	}
	if !strings.Contains(err.Error(), "more than one command: act, ask") {
		t.Errorf("unexpected error: %v", err)
	}

	_, err = Parse([]byte("- {launchApp: com.example, stopApp: com.example}\n"), "test.yaml")
	if err == nil {
		t.Error("expected error for a flow-style step with two commands")
	}
}

func TestParse_TestStep(t *testing.T) {
	yaml := `
- test:
    name: claim all mail
    timeout: 120000
    commands:
      - act: Tap Claim All
`
	flow, err := Parse([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := flow.Steps[0].(*TestStep)
	if tc.Name != "claim all mail" || tc.TimeoutMs != 120000 || len(tc.Steps) != 1 {
		t.Errorf("unexpected test %+v", tc)
	}
}

func TestParse_TestStepErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no name", "- test:\n    commands:\n      - act: x\n"},
		{"negative timeout", "- test:\n    name: a\n    timeout: -1\n"},
		{"nested", "- test:\n    name: a\n    commands:\n      - test:\n          name: b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml), "test.yaml"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParse_RequiredValues(t *testing.T) {
	tests := []string{
		"- act: \"\"\n",
		"- ask: \"\"\n",
		"- assertTrue: \"\"\n",
		"- pressKey: \"\"\n",
		"- assertText: \"\"\n",
		"- waitFor: -5\n",
		"- waitFor: soon\n",
	}
	for _, yaml := range tests {
		if _, err := Parse([]byte(yaml), "test.yaml"); err == nil {
			t.Errorf("expected error for %q", yaml)
		}
	}
}

func TestParse_OnFlowHooks(t *testing.T) {
	yaml := `
name: Mail
onFlowStart:
  - runFlow: common/ensure-app-visible.yaml
onFlowComplete:
  - runFlow: common/return-home.yaml
---
- tapText: Mail
`
	flow, err := Parse([]byte(yaml), "mail.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flow.Config.OnFlowStart) != 1 || len(flow.Config.OnFlowComplete) != 1 {
		t.Fatalf("unexpected hooks %+v", flow.Config)
	}

	var types []StepType
	Walk(flow, func(s Step) { types = append(types, s.Type()) })
	if len(types) != 3 {
		t.Errorf("expected 3 walked steps, got %v", types)
	}
}

func TestParse_InvalidHookStep(t *testing.T) {
	yaml := "onFlowStart:\n  - fly: away\n---\n- act: x\n"
	if _, err := Parse([]byte(yaml), "test.yaml"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParse_EmptyFlow(t *testing.T) {
	_, err := Parse([]byte(""), "empty.yaml")
	if err == nil {
		t.Fatal("expected error for empty flow")
	}
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected ParseError, got %T", err)
	}
	if pe.Message != "empty flow file" {
		t.Errorf("unexpected message %q", pe.Message)
	}
}

func TestParse_UnknownStep(t *testing.T) {
	_, err := Parse([]byte("- tapOn: Login\n"), "test.yaml")
	if err == nil {
		t.Fatal("expected error for unknown step")
	}
	if !strings.Contains(err.Error(), "unknown step type: tapOn") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestParse_UnknownScalarStep(t *testing.T) {
	_, err := Parse([]byte("- hideKeyboard\n"), "test.yaml")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestParse_StepNotMapping(t *testing.T) {
	_, err := Parse([]byte("- [1, 2]\n"), "test.yaml")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("- act: [unclosed\n"), "test.yaml")
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestParseError_Error(t *testing.T) {
	withLine := &ParseError{Path: "a.yaml", Line: 3, Message: "bad"}
	if withLine.Error() != "a.yaml:3: bad" {
		t.Errorf("unexpected %q", withLine.Error())
	}
	noLine := &ParseError{Path: "a.yaml", Message: "bad"}
	if noLine.Error() != "a.yaml: bad" {
		t.Errorf("unexpected %q", noLine.Error())
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.yaml")
	if err := os.WriteFile(path, []byte("- act: Tap Mail\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	flow, err := ParseFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.SourcePath != path {
		t.Errorf("unexpected source path %q", flow.SourcePath)
	}
}

func TestParseFile_NotFound(t *testing.T) {
	if _, err := ParseFile("/nonexistent/flow.yaml"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseFS(t *testing.T) {
	fsys := fstest.MapFS{
		"login.yaml": {Data: []byte("name: Login\n---\n- launchApp\n")},
	}
	flow, err := ParseFS(fsys, "login.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.Config.Name != "Login" {
		t.Errorf("unexpected name %q", flow.Config.Name)
	}
}

func TestParseDirectory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"login.yaml":              "tags: [smoke]\n---\n- launchApp\n",
		"mail.yml":                "tags: [mail]\n---\n- tapText: Mail\n",
		"broken.yaml":             "- fly: away\n",
		"notes.txt":               "ignored",
		"common/return-home.yaml": "- pressKey: back\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	flows, err := ParseDirectory(dir, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flows) != 2 {
		t.Fatalf("expected 2 flows (broken and subdir skipped), got %d", len(flows))
	}

	flows, err = ParseDirectory(dir, []string{"smoke"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flows) != 1 {
		t.Errorf("expected 1 smoke flow, got %d", len(flows))
	}
}

func TestParseDirectory_NonExistent(t *testing.T) {
	if _, err := ParseDirectory("/nonexistent/dir", nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestShouldIncludeFlow(t *testing.T) {
	f := &Flow{Config: Config{Tags: []string{"smoke", "mail"}}}
	tests := []struct {
		name    string
		include []string
		exclude []string
		want    bool
	}{
		{"no filters", nil, nil, true},
		{"include match", []string{"mail"}, nil, true},
		{"include miss", []string{"shop"}, nil, false},
		{"exclude match", nil, []string{"smoke"}, false},
		{"include and exclude", []string{"mail"}, []string{"smoke"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldIncludeFlow(f, tt.include, tt.exclude); got != tt.want {
				t.Errorf("ShouldIncludeFlow()=%v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitYAMLDocuments(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"single", "- act: x\n", 1},
		{"config and steps", "name: a\n---\n- act: x\n", 2},
		{"leading separator", "---\nname: a\n---\n- act: x\n", 2},
		{"separator inside literal", "- act: |\n    line\n    ---\n    more\n", 1},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitYAMLDocuments(tt.content); len(got) != tt.want {
				t.Errorf("got %d parts, want %d", len(got), tt.want)
			}
		})
	}
}
