package device

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/devicelab-dev/pixelmon-runner/pkg/core"
)

// fakeRunner answers adb invocations from a table keyed by the joined args.
type fakeRunner struct {
	replies map[string]fakeReply
	calls   []string
}

type fakeReply struct {
	stdout string
	stderr string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	r, ok := f.replies[key]
	if !ok {
		return nil, []byte("unexpected: " + key), errors.New("exit status 1")
	}
	return []byte(r.stdout), []byte(r.stderr), r.err
}

func newFake(replies map[string]fakeReply) *fakeRunner {
	if replies == nil {
		replies = map[string]fakeReply{}
	}
	if _, ok := replies["-s emulator-5554 get-state"]; !ok {
		replies["-s emulator-5554 get-state"] = fakeReply{stdout: "device\n"}
	}
	return &fakeRunner{replies: replies}
}

func newTestDevice(t *testing.T, f *fakeRunner) *AndroidDevice {
	t.Helper()
	d, err := New(context.Background(), "emulator-5554", Options{ADBPath: "adb", Runner: f})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

// skipIfNoDevice skips the test if no device is connected.
func skipIfNoDevice(t *testing.T) {
	t.Helper()
	out, err := exec.Command("adb", "devices").Output()
	if err != nil {
		t.Skip("adb not available")
	}
	if !strings.Contains(string(out), "\tdevice") {
		t.Skip("no device connected")
	}
}

func TestListDevices_Real(t *testing.T) {
	skipIfNoDevice(t)

	devices, err := ListDevices(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(devices) == 0 {
		t.Fatal("expected at least one device")
	}
	if devices[0].Serial == "" {
		t.Error("device serial is empty")
	}
}

func TestParseDevices(t *testing.T) {
	out := "* daemon started successfully\nList of devices attached\nemulator-5554\tdevice\nR58M\tunauthorized\n\n"
	got := parseDevices(out)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Serial != "emulator-5554" || got[0].State != "device" {
		t.Errorf("unexpected first entry: %+v", got[0])
	}
	if got[1].State != "unauthorized" {
		t.Errorf("unexpected second entry: %+v", got[1])
	}
}

func TestNew_AutoDetect(t *testing.T) {
	f := newFake(map[string]fakeReply{
		"devices": {stdout: "List of devices attached\nR58M\tunauthorized\nemulator-5554\tdevice\n"},
	})
	d, err := New(context.Background(), "", Options{ADBPath: "adb", Runner: f})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if d.Serial() != "emulator-5554" {
		t.Errorf("expected emulator-5554, got %s", d.Serial())
	}
}

func TestNew_NoDevices(t *testing.T) {
	f := newFake(map[string]fakeReply{
		"devices": {stdout: "List of devices attached\n\n"},
	})
	_, err := New(context.Background(), "", Options{ADBPath: "adb", Runner: f})
	if err == nil {
		t.Fatal("expected error")
	}
	if core.CategoryOf(err) != core.ErrCategoryDevice {
		t.Errorf("expected device category, got %v", core.CategoryOf(err))
	}
}

func TestNew_DeviceNeverReady(t *testing.T) {
	f := newFake(map[string]fakeReply{
		"-s emulator-5554 get-state": {stdout: "offline\n"},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(ctx, "emulator-5554", Options{ADBPath: "adb", Runner: f})
	if err == nil {
		t.Fatal("expected error for offline device")
	}
}

func TestLaunchApp(t *testing.T) {
	cmd := "-s emulator-5554 shell monkey -p com.PixelPalsStudio.PixelmonTCG -c android.intent.category.LAUNCHER 1"
	f := newFake(map[string]fakeReply{
		cmd: {stdout: "Events injected: 1\n"},
	})
	d := newTestDevice(t, f)

	if err := d.LaunchApp(context.Background(), "com.PixelPalsStudio.PixelmonTCG"); err != nil {
		t.Fatalf("LaunchApp failed: %v", err)
	}
	if f.calls[len(f.calls)-1] != cmd {
		t.Errorf("unexpected command: %s", f.calls[len(f.calls)-1])
	}
}

func TestLaunchApp_NotInstalled(t *testing.T) {
	f := newFake(map[string]fakeReply{
		"-s emulator-5554 shell monkey -p com.missing -c android.intent.category.LAUNCHER 1": {
			stdout: "** No activities found to run, monkey aborted.\n",
		},
	})
	d := newTestDevice(t, f)

	err := d.LaunchApp(context.Background(), "com.missing")
	if err == nil {
		t.Fatal("expected error for missing package")
	}
	if !errors.Is(err, core.ErrDeviceCommand) {
		t.Errorf("expected device command error, got %v", err)
	}
}

func TestForceStop(t *testing.T) {
	f := newFake(map[string]fakeReply{
		"-s emulator-5554 shell am force-stop com.example": {},
	})
	d := newTestDevice(t, f)
	if err := d.ForceStop(context.Background(), "com.example"); err != nil {
		t.Fatalf("ForceStop failed: %v", err)
	}
}

func TestKeyEvent(t *testing.T) {
	f := newFake(map[string]fakeReply{
		"-s emulator-5554 shell input keyevent KEYCODE_BACK": {},
	})
	d := newTestDevice(t, f)
	if err := d.KeyEvent(context.Background(), "KEYCODE_BACK"); err != nil {
		t.Fatalf("KeyEvent failed: %v", err)
	}
}

func TestIsForeground(t *testing.T) {
	modern := `ACTIVITY MANAGER ACTIVITIES (dumpsys activity activities)
Display #0 (activities from top to bottom):
  * Task{8a1b2c3 #42 type=standard A=10234:com.PixelPalsStudio.PixelmonTCG}
    topResumedActivity=ActivityRecord{1c2d3e4 u0 com.PixelPalsStudio.PixelmonTCG/com.unity3d.player.UnityPlayerActivity t42}
`
	f := newFake(map[string]fakeReply{
		"-s emulator-5554 shell dumpsys activity activities": {stdout: modern},
	})
	d := newTestDevice(t, f)

	front, err := d.IsForeground(context.Background(), "com.PixelPalsStudio.PixelmonTCG")
	if err != nil || !front {
		t.Errorf("expected foreground, got %v, %v", front, err)
	}
	front, err = d.IsForeground(context.Background(), "com.PixelPalsStudio.PixelmonTCG.Stg")
	if err != nil || front {
		t.Errorf("staging must not match the prod package, got %v, %v", front, err)
	}
}

func TestIsForeground_ShellError(t *testing.T) {
	d := newTestDevice(t, newFake(nil))
	if _, err := d.IsForeground(context.Background(), "com.example"); err == nil {
		t.Error("expected error when dumpsys fails")
	}
}

func TestResumedPackage(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want string
	}{
		{"android 10+", "    topResumedActivity=ActivityRecord{abc u0 com.a/.Main t1}\n", "com.a"},
		{"legacy", "  mResumedActivity: ActivityRecord{abc u0 com.b/com.b.Main t7}\n", "com.b"},
		{"launcher only", "    mLastPausedActivity: ActivityRecord{abc u0 com.c/.Main t3}\n", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resumedPackage(tt.out); got != tt.want {
				t.Errorf("resumedPackage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppVersion(t *testing.T) {
	f := newFake(map[string]fakeReply{
		"-s emulator-5554 shell dumpsys package com.example": {stdout: "Packages:\n    versionCode=42 minSdk=24\n    versionName=1.8.3\n"},
	})
	d := newTestDevice(t, f)
	v, err := d.AppVersion(context.Background(), "com.example")
	if err != nil {
		t.Fatalf("AppVersion failed: %v", err)
	}
	if v != "1.8.3" {
		t.Errorf("expected 1.8.3, got %q", v)
	}
}

func TestInfo(t *testing.T) {
	f := newFake(map[string]fakeReply{
		"-s emulator-5554 shell getprop ro.product.model":         {stdout: "sdk_gphone64\n"},
		"-s emulator-5554 shell getprop ro.build.version.sdk":     {stdout: "34\n"},
		"-s emulator-5554 shell getprop ro.build.version.release": {stdout: "14\n"},
		"-s emulator-5554 shell getprop ro.product.brand":         {stdout: "google\n"},
		"-s emulator-5554 shell getprop ro.kernel.qemu":           {stdout: "1\n"},
	})
	d := newTestDevice(t, f)

	info, err := d.Info(context.Background())
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Model != "sdk_gphone64" || info.SDK != "34" || info.Release != "14" || info.Brand != "google" {
		t.Errorf("unexpected info: %+v", info)
	}
	if !info.IsEmulator {
		t.Error("expected emulator")
	}
}

func TestAdb_ErrorIncludesStderr(t *testing.T) {
	f := newFake(map[string]fakeReply{
		"-s emulator-5554 shell am force-stop com.example": {stderr: "error: device offline", err: errors.New("exit status 1")},
	})
	d := newTestDevice(t, f)

	err := d.ForceStop(context.Background(), "com.example")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "device offline") {
		t.Errorf("expected stderr in error, got %v", err)
	}
}
