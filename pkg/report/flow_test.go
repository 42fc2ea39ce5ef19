package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createTestFlowWriter(t *testing.T) (*FlowWriter, *IndexWriter, string) {
	tmpDir := t.TempDir()

	index := &Index{
		Version: Version,
		Status:  StatusRunning,
		Flows: []FlowEntry{
			{ID: "flow-000", Name: "Login", Status: StatusPending, DataFile: "flows/flow-000.json"},
		},
	}

	indexWriter := NewIndexWriter(tmpDir, index)

	flowDetail := &FlowDetail{
		ID:   "flow-000",
		Name: "Login",
		Commands: []Command{
			{Index: 0, Type: "launchApp", Status: StatusPending},
			{Index: 1, Type: "test", YAML: "test: Login screen shows", Status: StatusPending},
			{Index: 2, Type: "test", YAML: "test: Player name visible", Status: StatusPending},
		},
	}

	if err := os.MkdirAll(filepath.Join(tmpDir, "flows"), 0o755); err != nil {
		t.Fatalf("failed to create flows directory: %v", err)
	}

	flowWriter := NewFlowWriter(flowDetail, tmpDir, indexWriter)

	return flowWriter, indexWriter, tmpDir
}

func TestNewFlowWriter(t *testing.T) {
	fw, iw, tmpDir := createTestFlowWriter(t)
	defer iw.Close()

	if fw.flow.ID != "flow-000" {
		t.Errorf("flow.ID = %q, want %q", fw.flow.ID, "flow-000")
	}

	expectedPath := filepath.Join(tmpDir, "flows", "flow-000.json")
	if fw.path != expectedPath {
		t.Errorf("path = %q, want %q", fw.path, expectedPath)
	}

	expectedAssetsDir := filepath.Join(tmpDir, "assets", "flow-000")
	if _, err := os.Stat(expectedAssetsDir); err != nil {
		t.Errorf("assets directory not created: %v", err)
	}
}

func TestFlowWriter_Start(t *testing.T) {
	fw, iw, tmpDir := createTestFlowWriter(t)
	defer iw.Close()

	before := time.Now()
	fw.Start()
	after := time.Now()

	if fw.flow.StartTime.Before(before) || fw.flow.StartTime.After(after) {
		t.Error("StartTime not set correctly")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "flows", "flow-000.json")); err != nil {
		t.Errorf("flow detail not written: %v", err)
	}
}

func TestFlowWriter_CommandStart(t *testing.T) {
	fw, iw, _ := createTestFlowWriter(t)
	defer iw.Close()

	fw.Start()
	fw.CommandStart(0)

	cmd := fw.flow.Commands[0]
	if cmd.Status != StatusRunning {
		t.Errorf("cmd.Status = %q, want %q", cmd.Status, StatusRunning)
	}
	if cmd.StartTime == nil {
		t.Error("StartTime not set")
	}
}

func TestFlowWriter_CommandStart_InvalidIndex(t *testing.T) {
	fw, iw, _ := createTestFlowWriter(t)
	defer iw.Close()

	// Should not panic with invalid index
	fw.CommandStart(-1)
	fw.CommandStart(100)
	fw.CommandEnd(100, StatusPassed, "", nil, CommandArtifacts{}, nil)
}

func TestFlowWriter_CommandEnd(t *testing.T) {
	fw, iw, _ := createTestFlowWriter(t)
	defer iw.Close()

	fw.Start()
	fw.CommandStart(1)

	time.Sleep(10 * time.Millisecond)

	subs := []Command{{Index: 0, Type: "ask", Status: StatusPassed, Answer: "true"}}
	artifacts := CommandArtifacts{Annotation: "assets/flow-000/cmd-001-login.png"}
	fw.CommandEnd(1, StatusPassed, "", nil, artifacts, subs)

	cmd := fw.flow.Commands[1]
	if cmd.Status != StatusPassed {
		t.Errorf("cmd.Status = %q, want %q", cmd.Status, StatusPassed)
	}
	if cmd.EndTime == nil {
		t.Error("EndTime not set")
	}
	if cmd.Duration == nil || *cmd.Duration < 10 {
		t.Error("Duration not calculated correctly")
	}
	if len(cmd.SubCommands) != 1 || cmd.SubCommands[0].Answer != "true" {
		t.Errorf("SubCommands = %+v", cmd.SubCommands)
	}
	if cmd.Artifacts.Annotation != artifacts.Annotation {
		t.Errorf("Artifacts not set correctly")
	}
}

func TestFlowWriter_CommandEnd_WithError(t *testing.T) {
	fw, iw, _ := createTestFlowWriter(t)
	defer iw.Close()

	fw.Start()
	fw.CommandStart(0)

	err := &Error{Type: "device", Message: "launch com.pixelmon.prod: No activities found"}
	fw.CommandEnd(0, StatusFailed, "", err, CommandArtifacts{}, nil)

	cmd := fw.flow.Commands[0]
	if cmd.Status != StatusFailed {
		t.Errorf("cmd.Status = %q, want %q", cmd.Status, StatusFailed)
	}
	if cmd.Error == nil || cmd.Error.Type != "device" {
		t.Errorf("Error = %+v, want type device", cmd.Error)
	}
}

func TestFlowWriter_TestEnd(t *testing.T) {
	fw, iw, _ := createTestFlowWriter(t)
	defer iw.Close()

	fw.Start()
	fw.TestEnd(TestCase{Name: "Login screen shows", CommandIndex: 1, Status: StatusPassed, Duration: 1200})
	fw.TestEnd(TestCase{Name: "Player name visible", CommandIndex: 2, Status: StatusFailed, Error: &Error{Type: "assertion", Message: "no"}})

	s := fw.testSummary()
	if s.Total != 2 || s.Passed != 1 || s.Failed != 1 {
		t.Errorf("testSummary() = %+v, want total 2 passed 1 failed 1", s)
	}
}

func TestFlowWriter_End(t *testing.T) {
	fw, iw, _ := createTestFlowWriter(t)
	defer iw.Close()

	fw.Start()
	for i := range fw.flow.Commands {
		fw.CommandStart(i)
		fw.CommandEnd(i, StatusPassed, "", nil, CommandArtifacts{}, nil)
	}

	fw.End(StatusPassed)

	if fw.flow.EndTime == nil {
		t.Error("EndTime not set")
	}
	if fw.flow.Duration == nil {
		t.Error("Duration not set")
	}

	index := iw.GetIndex()
	if index.Flows[0].Status != StatusPassed {
		t.Errorf("index flow status = %q, want %q", index.Flows[0].Status, StatusPassed)
	}
	if index.Flows[0].Error != nil {
		t.Errorf("index flow error = %q, want nil", *index.Flows[0].Error)
	}
}

func TestFlowWriter_End_WithFailure(t *testing.T) {
	fw, iw, _ := createTestFlowWriter(t)
	defer iw.Close()

	fw.Start()
	fw.CommandStart(0)
	fw.CommandEnd(0, StatusFailed, "", &Error{Type: "device", Message: "Test error"}, CommandArtifacts{}, nil)

	fw.End(StatusFailed)

	index := iw.GetIndex()
	if index.Flows[0].Status != StatusFailed {
		t.Errorf("index flow status = %q, want %q", index.Flows[0].Status, StatusFailed)
	}
	if index.Flows[0].Error == nil || *index.Flows[0].Error != "Test error" {
		t.Errorf("index flow error = %v, want %q", index.Flows[0].Error, "Test error")
	}
}

func TestFlowWriter_End_HookFailure(t *testing.T) {
	fw, iw, _ := createTestFlowWriter(t)
	defer iw.Close()

	fw.Start()
	fw.SetHookError(true, &Error{Type: "timeout", Message: "app never became visible"})
	fw.SkipRemainingCommands(0)
	fw.End(StatusFailed)

	if fw.flow.Hooks.OnFlowStart == nil {
		t.Fatal("OnFlowStart hook error not recorded")
	}
	index := iw.GetIndex()
	want := "onFlowStart: app never became visible"
	if index.Flows[0].Error == nil || *index.Flows[0].Error != want {
		t.Errorf("index flow error = %v, want %q", index.Flows[0].Error, want)
	}
}

func TestFlowWriter_SetHookError_OnFlowComplete(t *testing.T) {
	fw, iw, _ := createTestFlowWriter(t)
	defer iw.Close()

	fw.SetHookError(false, &Error{Message: "cleanup failed"})

	if fw.flow.Hooks.OnFlowStart != nil {
		t.Error("OnFlowStart should be nil")
	}
	if fw.flow.Hooks.OnFlowComplete == nil || fw.flow.Hooks.OnFlowComplete.Message != "cleanup failed" {
		t.Errorf("OnFlowComplete = %+v", fw.flow.Hooks.OnFlowComplete)
	}
}

func TestFlowWriter_SaveAnnotation(t *testing.T) {
	fw, iw, tmpDir := createTestFlowWriter(t)
	defer iw.Close()

	data := []byte("\x89PNG fake")
	rel, err := fw.SaveAnnotation(1, "login screen/after", data)
	if err != nil {
		t.Fatalf("SaveAnnotation() error = %v", err)
	}

	want := filepath.Join("assets", "flow-000", "cmd-001-login-screen-after.png")
	if rel != want {
		t.Errorf("path = %q, want %q", rel, want)
	}
	got, err := os.ReadFile(filepath.Join(tmpDir, rel))
	if err != nil {
		t.Fatalf("read annotation: %v", err)
	}
	if string(got) != string(data) {
		t.Error("annotation content mismatch")
	}
	if len(fw.flow.Artifacts.Annotations) != 1 || fw.flow.Artifacts.Annotations[0] != rel {
		t.Errorf("Annotations = %v", fw.flow.Artifacts.Annotations)
	}
}

func TestFlowWriter_SaveAnnotation_EmptyName(t *testing.T) {
	fw, iw, _ := createTestFlowWriter(t)
	defer iw.Close()

	rel, err := fw.SaveAnnotation(0, "///", []byte("x"))
	if err != nil {
		t.Fatalf("SaveAnnotation() error = %v", err)
	}
	if filepath.Base(rel) != "cmd-000-annotation.png" {
		t.Errorf("path = %q, want cmd-000-annotation.png", rel)
	}
}

func TestFlowWriter_GetFlowDetail(t *testing.T) {
	fw, iw, _ := createTestFlowWriter(t)
	defer iw.Close()

	detail := fw.GetFlowDetail()
	if detail.ID != "flow-000" {
		t.Errorf("ID = %q, want %q", detail.ID, "flow-000")
	}
}

func TestFlowWriter_SkipRemainingCommands(t *testing.T) {
	fw, iw, _ := createTestFlowWriter(t)
	defer iw.Close()

	fw.Start()
	fw.CommandStart(0)
	fw.CommandEnd(0, StatusFailed, "", &Error{Message: "failed"}, CommandArtifacts{}, nil)

	fw.SkipRemainingCommands(1)

	for i := 1; i < 3; i++ {
		if fw.flow.Commands[i].Status != StatusSkipped {
			t.Errorf("Commands[%d].Status = %q, want %q", i, fw.flow.Commands[i].Status, StatusSkipped)
		}
	}
	if len(fw.flow.Tests) != 2 {
		t.Fatalf("len(Tests) = %d, want 2", len(fw.flow.Tests))
	}
	if fw.flow.Tests[0].Name != "Login screen shows" || fw.flow.Tests[0].Status != StatusSkipped {
		t.Errorf("Tests[0] = %+v", fw.flow.Tests[0])
	}
}

func TestFlowWriter_commandSummary(t *testing.T) {
	fw, iw, _ := createTestFlowWriter(t)
	defer iw.Close()

	fw.flow.Commands[0].Status = StatusPassed
	fw.flow.Commands[1].Status = StatusRunning
	fw.flow.Commands[2].Status = StatusPending

	summary := fw.commandSummary()

	if summary.Total != 3 {
		t.Errorf("Total = %d, want 3", summary.Total)
	}
	if summary.Passed != 1 {
		t.Errorf("Passed = %d, want 1", summary.Passed)
	}
	if summary.Running != 1 {
		t.Errorf("Running = %d, want 1", summary.Running)
	}
	if summary.Pending != 1 {
		t.Errorf("Pending = %d, want 1", summary.Pending)
	}
	if summary.Current == nil || *summary.Current != 1 {
		t.Errorf("Current = %v, want 1", summary.Current)
	}
}
