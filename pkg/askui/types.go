// Package askui is a client for the AskUI controller: the vision/LLM backed
// automation service that resolves natural-language instructions and
// questions against the device screen.
package askui

import (
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/pixelmon-runner/pkg/core"
)

// DefaultControllerURL is used when no controller URL is configured.
const DefaultControllerURL = "http://127.0.0.1:6769"

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 60 * time.Second

// Options configures a session.
type Options struct {
	WorkspaceID   string
	Token         string
	ControllerURL string
	// Timeout bounds each backend call. Zero means DefaultTimeout.
	Timeout time.Duration
	// Observer receives per-call timings (metrics). Optional.
	Observer Observer
}

// Observer is notified after every backend call.
type Observer interface {
	ObserveCall(op string, d time.Duration, err error)
}

// ResultShape is the type an ask answer must have.
type ResultShape string

// Supported result shapes.
const (
	ShapeBoolean ResultShape = "boolean"
	ShapeString  ResultShape = "string"
	ShapeNumber  ResultShape = "number"
	ShapeList    ResultShape = "list"
)

// Valid reports whether s is a supported shape.
func (s ResultShape) Valid() bool {
	switch s {
	case ShapeBoolean, ShapeString, ShapeNumber, ShapeList:
		return true
	}
	return false
}

// ControllerArgs are the arguments the controller was started with.
type ControllerArgs struct {
	Runtime  string                 `mapstructure:"runtime" json:"runtime"`
	DeviceID string                 `mapstructure:"deviceId" json:"deviceId,omitempty"`
	Display  int                    `mapstructure:"display" json:"display,omitempty"`
	Extra    map[string]interface{} `mapstructure:",remain" json:"-"`
}

// TextElement is one detected text on screen.
type TextElement struct {
	Text string `json:"text"`
	BBox BBox   `json:"bbox"`
}

// BBox is a detected element's bounding box in screen pixels.
type BBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

type schema struct {
	Type  string  `json:"type"`
	Items *schema `json:"items,omitempty"`
}

func schemaFor(s ResultShape) schema {
	if s == ShapeList {
		return schema{Type: "array", Items: &schema{Type: "string"}}
	}
	return schema{Type: string(s)}
}

type askRequest struct {
	Query      string `json:"query"`
	JSONSchema schema `json:"json_schema"`
}

type askResponse struct {
	Value interface{} `json:"value"`
}

type actRequest struct {
	Instruction string `json:"instruction"`
}

type textRequest struct {
	Text string `json:"text"`
}

type expectResponse struct {
	Exists bool `json:"exists"`
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
}

type annotateResponse struct {
	Image string `json:"image"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrSessionClosed is returned by every call after Close.
var ErrSessionClosed = errors.New("askui: session closed")

// ConnectionError reports that a session could not be established.
type ConnectionError struct {
	Endpoint string
	Reason   string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %s", e.Endpoint, e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// BackendError is a non-2xx response from the controller.
type BackendError struct {
	Op      string
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: controller returned %d: %s", e.Op, e.Status, e.Message)
}

func (e *BackendError) Unwrap() error { return core.ErrBackendCall }

// ShapeError means an answer did not have the requested shape.
type ShapeError struct {
	Query string
	Want  ResultShape
	Got   interface{}
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("ask %q: want %s answer, got %T (%v)", e.Query, e.Want, e.Got, e.Got)
}

func (e *ShapeError) Unwrap() error { return core.ErrBackendCall }
