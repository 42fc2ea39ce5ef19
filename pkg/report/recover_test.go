package report

import (
	"os"
	"path/filepath"
	"testing"
)

func setupTestReport(t *testing.T) string {
	tmpDir := t.TempDir()

	// Create directory structure
	if err := os.MkdirAll(filepath.Join(tmpDir, "flows"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(tmpDir, "assets", "flow-000"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Create index
	index := &Index{
		Version:   Version,
		Status:    StatusRunning,
		UpdateSeq: 1,
		Flows: []FlowEntry{
			{
				ID:        "flow-000",
				Name:      "Test Flow",
				Status:    StatusRunning,
				DataFile:  "flows/flow-000.json",
				UpdateSeq: 1,
			},
		},
		Summary: Summary{Total: 1, Running: 1},
	}
	if err := atomicWriteJSON(filepath.Join(tmpDir, "report.json"), index); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Create flow detail
	flow := &FlowDetail{
		ID:   "flow-000",
		Name: "Test Flow",
		Commands: []Command{
			{Index: 0, Type: "launchApp", Status: StatusPassed},
			{Index: 1, Type: "act", Status: StatusRunning},
		},
	}
	if err := atomicWriteJSON(filepath.Join(tmpDir, "flows", "flow-000.json"), flow); err != nil {
		t.Fatalf("setup: %v", err)
	}

	return tmpDir
}

func TestReadReport(t *testing.T) {
	tmpDir := setupTestReport(t)

	index, flows, err := ReadReport(tmpDir)
	if err != nil {
		t.Fatalf("ReadReport() error = %v", err)
	}

	if index == nil {
		t.Fatal("index is nil")
	}
	if len(flows) != 1 {
		t.Fatalf("len(flows) = %d, want 1", len(flows))
	}
	if flows[0].ID != "flow-000" {
		t.Errorf("flows[0].ID = %q, want %q", flows[0].ID, "flow-000")
	}
}

func TestRecover_RunningFlow(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, "flows"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Create index with running flow
	index := &Index{
		Version:   Version,
		Status:    StatusRunning,
		UpdateSeq: 1,
		Flows: []FlowEntry{
			{
				ID:       "flow-000",
				Status:   StatusRunning,
				DataFile: "flows/flow-000.json",
			},
		},
		Summary: Summary{Total: 1, Running: 1},
	}
	if err := atomicWriteJSON(filepath.Join(tmpDir, "report.json"), index); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Create flow with completed commands
	flow := &FlowDetail{
		ID: "flow-000",
		Commands: []Command{
			{Index: 0, Status: StatusPassed},
			{Index: 1, Status: StatusPassed},
		},
	}
	if err := atomicWriteJSON(filepath.Join(tmpDir, "flows", "flow-000.json"), flow); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Recover
	err := Recover(tmpDir)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	// Check index was updated
	recovered, _ := ReadIndex(filepath.Join(tmpDir, "report.json"))
	if recovered.Flows[0].Status != StatusPassed {
		t.Errorf("Flows[0].Status = %q, want %q", recovered.Flows[0].Status, StatusPassed)
	}
	if recovered.Summary.Passed != 1 {
		t.Errorf("Summary.Passed = %d, want 1", recovered.Summary.Passed)
	}
}

func TestRecover_InterruptedFlow(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, "flows"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Create index with running flow
	index := &Index{
		Version:   Version,
		Status:    StatusRunning,
		UpdateSeq: 1,
		Flows: []FlowEntry{
			{
				ID:       "flow-000",
				Status:   StatusRunning,
				DataFile: "flows/flow-000.json",
			},
		},
	}
	if err := atomicWriteJSON(filepath.Join(tmpDir, "report.json"), index); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Create flow with some commands still running
	flow := &FlowDetail{
		ID: "flow-000",
		Commands: []Command{
			{Index: 0, Status: StatusPassed},
			{Index: 1, Status: StatusRunning},
			{Index: 2, Status: StatusPending},
		},
	}
	if err := atomicWriteJSON(filepath.Join(tmpDir, "flows", "flow-000.json"), flow); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Recover
	err := Recover(tmpDir)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	// Check index was updated
	recovered, _ := ReadIndex(filepath.Join(tmpDir, "report.json"))
	if recovered.Flows[0].Status != StatusFailed {
		t.Errorf("Flows[0].Status = %q, want %q", recovered.Flows[0].Status, StatusFailed)
	}
	if recovered.Flows[0].Error == nil || *recovered.Flows[0].Error != "Flow interrupted" {
		t.Errorf("Flows[0].Error = %v, want %q", recovered.Flows[0].Error, "Flow interrupted")
	}
}

func TestRecover_MissingFlowFile(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, "flows"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Create index with running flow but no flow file
	index := &Index{
		Version:   Version,
		Status:    StatusRunning,
		UpdateSeq: 1,
		Flows: []FlowEntry{
			{
				ID:       "flow-000",
				Status:   StatusRunning,
				DataFile: "flows/flow-000.json",
			},
		},
	}
	if err := atomicWriteJSON(filepath.Join(tmpDir, "report.json"), index); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Recover (no flow file exists)
	err := Recover(tmpDir)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	// Check index was updated to failed
	recovered, _ := ReadIndex(filepath.Join(tmpDir, "report.json"))
	if recovered.Flows[0].Status != StatusFailed {
		t.Errorf("Flows[0].Status = %q, want %q", recovered.Flows[0].Status, StatusFailed)
	}
}

func TestRecover_NoChangesNeeded(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, "flows"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Create index with completed flow
	index := &Index{
		Version:   Version,
		Status:    StatusPassed,
		UpdateSeq: 1,
		Flows: []FlowEntry{
			{
				ID:       "flow-000",
				Status:   StatusPassed,
				DataFile: "flows/flow-000.json",
			},
		},
		Summary: Summary{Total: 1, Passed: 1},
	}
	originalSeq := index.UpdateSeq
	if err := atomicWriteJSON(filepath.Join(tmpDir, "report.json"), index); err != nil {
		t.Fatalf("setup: %v", err)
	}

	// Recover should not change anything
	err := Recover(tmpDir)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	recovered, _ := ReadIndex(filepath.Join(tmpDir, "report.json"))
	if recovered.UpdateSeq != originalSeq {
		t.Errorf("UpdateSeq changed from %d to %d", originalSeq, recovered.UpdateSeq)
	}
}

func TestInferStatus(t *testing.T) {
	tests := []struct {
		name     string
		commands []Command
		expected Status
	}{
		{
			name:     "empty commands",
			commands: []Command{},
			expected: StatusFailed,
		},
		{
			name: "all passed",
			commands: []Command{
				{Status: StatusPassed},
				{Status: StatusPassed},
			},
			expected: StatusPassed,
		},
		{
			name: "one failed",
			commands: []Command{
				{Status: StatusPassed},
				{Status: StatusFailed},
			},
			expected: StatusFailed,
		},
		{
			name: "incomplete",
			commands: []Command{
				{Status: StatusPassed},
				{Status: StatusPending},
			},
			expected: StatusRunning,
		},
		{
			name: "still running",
			commands: []Command{
				{Status: StatusPassed},
				{Status: StatusRunning},
			},
			expected: StatusRunning,
		},
		{
			name: "all skipped",
			commands: []Command{
				{Status: StatusSkipped},
				{Status: StatusSkipped},
			},
			expected: StatusRunning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := inferStatus(tt.commands)
			if got != tt.expected {
				t.Errorf("inferStatus() = %q, want %q", got, tt.expected)
			}
		})
	}
}
