package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInit_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	Info("connected to %s", "http://127.0.0.1:6769")
	Warn("force-stop failed: %v", "exit status 1")
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "connected to http://127.0.0.1:6769") {
		t.Errorf("log missing info line, got %q", out)
	}
	if !strings.Contains(out, "WRN") {
		t.Errorf("log missing warn level, got %q", out)
	}
}

func TestInit_VerboseMirrorsToConsole(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "run.log")
	if err := Init(path, Options{Verbose: true, Console: &console}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Close()

	Debug("poll attempt %d/%d", 2, 5)

	if !strings.Contains(console.String(), "poll attempt 2/5") {
		t.Errorf("console = %q, want poll line", console.String())
	}
}

func TestLogBeforeInit_IsNoop(t *testing.T) {
	Close()
	// Must not panic without a sink.
	Info("dropped")
	Error("dropped")
}

func TestInit_BadPath(t *testing.T) {
	if err := Init(filepath.Join(t.TempDir(), "missing", "dir", "run.log")); err == nil {
		t.Error("expected error for unwritable path")
	}
}
