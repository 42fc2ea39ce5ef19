package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBridge struct {
	calls     []string
	launchErr error
	stopErr   error
	keyErr    error
	front     map[string]bool
}

func (f *fakeBridge) LaunchApp(_ context.Context, pkg string) error {
	f.calls = append(f.calls, "launch "+pkg)
	return f.launchErr
}

func (f *fakeBridge) ForceStop(_ context.Context, pkg string) error {
	f.calls = append(f.calls, "stop "+pkg)
	return f.stopErr
}

func (f *fakeBridge) KeyEvent(_ context.Context, code string) error {
	f.calls = append(f.calls, "key "+code)
	return f.keyErr
}

func (f *fakeBridge) IsForeground(_ context.Context, pkg string) (bool, error) {
	return f.front[pkg], nil
}

func TestNew_DefaultsToProd(t *testing.T) {
	c := New(&fakeBridge{}, "")
	assert.Equal(t, PackageProd, c.Package())
}

func TestLaunch(t *testing.T) {
	b := &fakeBridge{}
	c := New(b, PackageStaging)

	require.NoError(t, c.Launch(context.Background()))
	assert.Equal(t, []string{"launch " + PackageStaging}, b.calls)
}

func TestLaunch_PropagatesError(t *testing.T) {
	b := &fakeBridge{launchErr: errors.New("no activities")}
	err := New(b, "").Launch(context.Background())
	assert.Error(t, err)
}

func TestForceStop_SwallowsErrors(t *testing.T) {
	b := &fakeBridge{stopErr: errors.New("device offline")}
	c := New(b, "")

	// Twice: stopping a stopped app is safe.
	c.ForceStop(context.Background())
	c.ForceStop(context.Background())
	assert.Len(t, b.calls, 2)
}

func TestSendKeyEvent_SwallowsErrors(t *testing.T) {
	b := &fakeBridge{keyErr: errors.New("boom")}
	New(b, "").SendKeyEvent(context.Background(), KeyBack)
	assert.Equal(t, []string{"key KEYCODE_BACK"}, b.calls)
}

func TestIsForeground(t *testing.T) {
	b := &fakeBridge{front: map[string]bool{PackageProd: true}}
	front, err := New(b, "").IsForeground(context.Background())
	require.NoError(t, err)
	assert.True(t, front)

	front, err = New(b, PackageStaging).IsForeground(context.Background())
	require.NoError(t, err)
	assert.False(t, front)
}

func TestWithPackage(t *testing.T) {
	b := &fakeBridge{}
	c := New(b, "")
	assert.Same(t, c, c.WithPackage(""))
	assert.Equal(t, "com.other", c.WithPackage("com.other").Package())
}

func TestParseKeyCode(t *testing.T) {
	tests := []struct {
		in   string
		want KeyCode
		ok   bool
	}{
		{"back", KeyBack, true},
		{"Home", KeyHome, true},
		{"enter", KeyEnter, true},
		{"appSwitch", KeyAppSwitch, true},
		{"KEYCODE_VOLUME_UP", KeyCode("KEYCODE_VOLUME_UP"), true},
		{"KEYCODE_", "", false},
		{"jump", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseKeyCode(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
