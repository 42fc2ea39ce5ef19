package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestReport(t *testing.T, dir string, index *Index, flows []FlowDetail) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "flows"), 0o755); err != nil {
		t.Fatalf("create flows dir: %v", err)
	}
	if err := atomicWriteJSON(filepath.Join(dir, "report.json"), index); err != nil {
		t.Fatalf("write index: %v", err)
	}
	for _, fd := range flows {
		if err := atomicWriteJSON(filepath.Join(dir, "flows", fd.ID+".json"), fd); err != nil {
			t.Fatalf("write flow: %v", err)
		}
	}
}

func sampleReport(status Status) (*Index, []FlowDetail) {
	now := time.Now()
	duration := int64(5000)
	cmdDuration := int64(2500)
	index := &Index{
		Version:     Version,
		RunID:       "run-1",
		UpdateSeq:   1,
		Status:      status,
		StartTime:   now,
		LastUpdated: now,
		Device:      Device{ID: "emulator-5554", Name: "Pixel 6", Platform: "android", OSVersion: "14", IsEmulator: true},
		App:         App{ID: "com.pixelmon.prod", Version: "2.3.1"},
		Controller:  Controller{URL: "http://127.0.0.1:6769", Runtime: "android"},
		Runner:      RunnerInfo{Version: "0.1.0", Driver: "askui"},
		Summary:     Summary{Total: 1, Passed: 1},
		Flows: []FlowEntry{
			{
				ID:       "flow-000",
				Name:     "Login",
				DataFile: "flows/flow-000.json",
				Status:   StatusPassed,
				Duration: &duration,
			},
		},
	}
	flows := []FlowDetail{
		{
			ID:         "flow-000",
			Name:       "Login",
			SourceFile: "scenarios/login.yaml",
			StartTime:  now,
			Duration:   &duration,
			Commands: []Command{
				{ID: "cmd-000", Index: 0, Type: "launchApp", YAML: "launchApp", Status: StatusPassed, Duration: &cmdDuration},
				{
					ID: "cmd-001", Index: 1, Type: "test", YAML: "test: Login screen shows", Status: StatusPassed, Duration: &cmdDuration,
					SubCommands: []Command{
						{Index: 0, Type: "ask", Label: "Is the login button visible?", Status: StatusPassed, Answer: "true"},
					},
				},
			},
			Tests: []TestCase{{Name: "Login screen shows", CommandIndex: 1, Status: StatusPassed, Duration: 2500}},
		},
	}
	return index, flows
}

func TestGenerateHTML(t *testing.T) {
	tmpDir := t.TempDir()
	index, flows := sampleReport(StatusPassed)
	writeTestReport(t, tmpDir, index, flows)

	outputPath := filepath.Join(tmpDir, "out.html")
	if err := GenerateHTML(tmpDir, HTMLConfig{OutputPath: outputPath, Title: "Nightly"}); err != nil {
		t.Fatalf("GenerateHTML: %v", err)
	}

	content, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("read html: %v", err)
	}
	html := string(content)

	checks := []string{
		"<!DOCTYPE html>",
		"<title>Nightly</title>",
		"Login",
		"launchApp",
		"Login screen shows",
		"Is the login button visible?",
		"Pixel 6",
		"com.pixelmon.prod",
		"passed",
	}
	for _, check := range checks {
		if !strings.Contains(html, check) {
			t.Errorf("HTML missing expected content: %s", check)
		}
	}
	if strings.Contains(html, `http-equiv="refresh"`) {
		t.Error("finished report should not auto-refresh")
	}
}

func TestGenerateHTML_RunningAutoRefresh(t *testing.T) {
	tmpDir := t.TempDir()
	index, flows := sampleReport(StatusRunning)
	writeTestReport(t, tmpDir, index, flows)

	if err := GenerateHTML(tmpDir, HTMLConfig{}); err != nil {
		t.Fatalf("GenerateHTML: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(tmpDir, "report.html"))
	if err != nil {
		t.Fatalf("read html: %v", err)
	}
	if !strings.Contains(string(content), `http-equiv="refresh"`) {
		t.Error("running report should auto-refresh")
	}
	if !strings.Contains(string(content), "Pixelmon Test Report") {
		t.Error("default title missing")
	}
}

func TestGenerateHTMLWithError(t *testing.T) {
	tmpDir := t.TempDir()
	index, flows := sampleReport(StatusFailed)
	index.Flows[0].Status = StatusFailed
	flows[0].Hooks.OnFlowStart = &Error{Type: "timeout", Message: "app not visible after 5 attempts"}
	flows[0].Commands[0].Status = StatusFailed
	flows[0].Commands[0].Error = &Error{Type: "device", Message: "No activities found"}
	writeTestReport(t, tmpDir, index, flows)

	if err := GenerateHTML(tmpDir, HTMLConfig{}); err != nil {
		t.Fatalf("GenerateHTML: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(tmpDir, "report.html"))
	if err != nil {
		t.Fatalf("read html: %v", err)
	}
	html := string(content)
	for _, check := range []string{"onFlowStart failed: app not visible after 5 attempts", "No activities found", " open>"} {
		if !strings.Contains(html, check) {
			t.Errorf("HTML missing expected content: %s", check)
		}
	}
}

func TestGenerateHTML_EmbedAssets(t *testing.T) {
	tmpDir := t.TempDir()
	index, flows := sampleReport(StatusPassed)
	rel := filepath.Join("assets", "flow-000", "cmd-001-login.png")
	flows[0].Artifacts.Annotations = []string{rel}
	writeTestReport(t, tmpDir, index, flows)
	if err := os.MkdirAll(filepath.Join(tmpDir, "assets", "flow-000"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, rel), []byte{0x89, 0x50, 0x4E, 0x47}, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := GenerateHTML(tmpDir, HTMLConfig{EmbedAssets: true}); err != nil {
		t.Fatalf("GenerateHTML: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(tmpDir, "report.html"))
	if err != nil {
		t.Fatalf("read html: %v", err)
	}
	if !strings.Contains(string(content), "data:image/png;base64,") {
		t.Error("expected embedded annotation")
	}
}

func TestGenerateHTMLReadError(t *testing.T) {
	tmpDir := t.TempDir()

	// No report.json - should fail
	if err := GenerateHTML(tmpDir, HTMLConfig{}); err == nil {
		t.Error("expected error when report.json missing")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms       *int64
		expected string
	}{
		{nil, "-"},
		{ptr(int64(500)), "500ms"},
		{ptr(int64(1500)), "1.5s"},
		{ptr(int64(5000)), "5.0s"},
		{ptr(int64(65000)), "1m 5s"},
		{ptr(int64(120000)), "2m 0s"},
	}

	for _, tt := range tests {
		result := formatDuration(tt.ms)
		if result != tt.expected {
			t.Errorf("formatDuration(%v) = %s, want %s", tt.ms, result, tt.expected)
		}
	}
}

func ptr(i int64) *int64 {
	return &i
}

func TestLoadAsBase64(t *testing.T) {
	if result := loadAsBase64("/nonexistent/file.png"); result != "" {
		t.Error("expected empty string for non-existent file")
	}

	tmpDir := t.TempDir()
	pngPath := filepath.Join(tmpDir, "test.png")
	if err := os.WriteFile(pngPath, []byte{0x89, 0x50, 0x4E, 0x47}, 0o644); err != nil {
		t.Fatalf("failed to write PNG file: %v", err)
	}
	if result := loadAsBase64(pngPath); !strings.HasPrefix(result, "data:image/png;base64,") {
		t.Errorf("expected base64 PNG, got: %s", result)
	}

	jpgPath := filepath.Join(tmpDir, "test.jpg")
	if err := os.WriteFile(jpgPath, []byte{0xFF, 0xD8, 0xFF}, 0o644); err != nil {
		t.Fatalf("failed to write JPEG file: %v", err)
	}
	if result := loadAsBase64(jpgPath); !strings.HasPrefix(result, "data:image/jpeg;base64,") {
		t.Error("expected base64 JPEG")
	}
}
