package core

import (
	"context"
	"time"

	"github.com/devicelab-dev/pixelmon-runner/pkg/flow"
)

// Driver executes individual scenario steps against a device and the
// automation backend. The runner handles flow logic; Driver just executes
// leaf commands and answers boolean queries for conditions and polls.
type Driver interface {
	// Execute runs a single leaf step and returns the result
	Execute(ctx context.Context, step flow.Step) *CommandResult

	// Check asks the backend a yes/no question about the current screen
	Check(ctx context.Context, query string) (bool, error)

	// GetPlatformInfo returns device/controller information
	GetPlatformInfo() *PlatformInfo
}

// CommandResult represents the outcome of executing a single command
type CommandResult struct {
	// Core outcome
	Success  bool          `json:"success"`
	Error    error         `json:"-"`
	Duration time.Duration `json:"duration"`

	// Human-readable output
	Message string `json:"message,omitempty"`

	// Command-specific data: the answer to an ask, the texts from getTexts
	Data interface{} `json:"data,omitempty"`

	// Artifact holds an image produced by the command (annotate)
	Artifact []byte `json:"-"`
}

// Status derives the step status from the result.
func (r *CommandResult) Status() StepStatus {
	if r.Success {
		return StatusPassed
	}
	return StatusFor(CategoryOf(r.Error))
}

// Success builds a passing result.
func Success(msg string) *CommandResult {
	return &CommandResult{Success: true, Message: msg}
}

// Failure builds a failing result.
func Failure(err error, msg string) *CommandResult {
	return &CommandResult{Success: false, Error: err, Message: msg}
}

// PlatformInfo contains device and controller details
type PlatformInfo struct {
	Platform   string `json:"platform"`             // android
	Runtime    string `json:"runtime,omitempty"`    // controller runtime (android, desktop)
	OSVersion  string `json:"osVersion"`            // e.g. "14"
	DeviceName string `json:"deviceName"`           // e.g. "Pixel 8"
	DeviceID   string `json:"deviceId"`             // adb serial
	AppID      string `json:"appId,omitempty"`      // package name
	AppVersion string `json:"appVersion,omitempty"` // versionName from dumpsys
}
