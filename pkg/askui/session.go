package askui

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/devicelab-dev/pixelmon-runner/pkg/core"
	"github.com/devicelab-dev/pixelmon-runner/pkg/logger"
	"github.com/devicelab-dev/pixelmon-runner/pkg/poll"
)

// Session is one authenticated connection to the controller. It is opened
// once per run and closed exactly once; a closed session cannot be reopened.
type Session struct {
	c    *client
	id   string
	args ControllerArgs

	mu     sync.Mutex
	closed bool
}

// Open connects to the controller, creates a session, and logs the
// controller's starting arguments.
func Open(ctx context.Context, opts Options) (*Session, error) {
	return open(ctx, opts, nil)
}

func open(ctx context.Context, opts Options, httpClient *http.Client) (*Session, error) {
	c, err := newClient(opts, httpClient)
	if err != nil {
		return nil, core.ErrInvalidConfig.WithCause(err)
	}

	var resp sessionResponse
	if err := c.do(ctx, "connect", http.MethodPost, "/session", map[string]string{"workspaceId": opts.WorkspaceID}, &resp); err != nil {
		return nil, connectionError(c.baseURL, err)
	}
	if resp.SessionID == "" {
		return nil, &ConnectionError{Endpoint: c.baseURL, Reason: "no session id in response", Err: core.ErrBackendUnreachable}
	}

	s := &Session{c: c, id: resp.SessionID}

	args, err := s.fetchStartingArguments(ctx)
	if err != nil {
		// Diagnostics only; a controller that cannot describe itself is still usable.
		logger.Warn("Could not read controller starting arguments: %v", err)
	} else {
		s.args = args
		logger.Info("AskUI Controller Runtime: %s", args.Runtime)
		if args.Runtime == "android" {
			logger.Info("Android Device ID: %s", args.DeviceID)
		}
	}

	logger.Info("Connected to AskUI controller %s (session %s)", c.baseURL, s.id)
	return s, nil
}

func connectionError(endpoint string, err error) error {
	var berr *BackendError
	if errors.As(err, &berr) && (berr.Status == http.StatusUnauthorized || berr.Status == http.StatusForbidden) {
		return &ConnectionError{Endpoint: endpoint, Reason: "credentials rejected", Err: core.ErrCredentialsRejected.WithCause(err)}
	}
	return &ConnectionError{Endpoint: endpoint, Reason: "controller unreachable", Err: core.ErrBackendUnreachable.WithCause(err)}
}

// ID returns the controller session id.
func (s *Session) ID() string { return s.id }

// StartingArguments returns the arguments captured when the session opened.
func (s *Session) StartingArguments() ControllerArgs { return s.args }

func (s *Session) fetchStartingArguments(ctx context.Context) (ControllerArgs, error) {
	var raw map[string]interface{}
	if err := s.c.do(ctx, "startingArguments", http.MethodGet, s.path("/starting-arguments"), nil, &raw); err != nil {
		return ControllerArgs{}, err
	}
	var args ControllerArgs
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &args,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return ControllerArgs{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return ControllerArgs{}, fmt.Errorf("decode starting arguments: %w", err)
	}
	return args, nil
}

// Close releases the session. Calling Close more than once is safe.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.c.timeout)
	defer cancel()
	if err := s.c.do(ctx, "disconnect", http.MethodDelete, s.path(""), nil, nil); err != nil {
		logger.Warn("Disconnect from controller failed: %v", err)
		return err
	}
	logger.Info("Disconnected from AskUI controller (session %s)", s.id)
	return nil
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) check() error {
	if s.Closed() {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) path(suffix string) string {
	return fmt.Sprintf("/session/%s%s", s.id, suffix)
}

// Act executes a natural-language instruction.
func (s *Session) Act(ctx context.Context, instruction string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.c.do(ctx, "act", http.MethodPost, s.path("/act"), actRequest{Instruction: instruction}, nil)
}

// Ask sends a natural-language question and returns the answer normalized
// to the requested shape: bool, string, float64 or []string.
func (s *Session) Ask(ctx context.Context, query string, shape ResultShape) (interface{}, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if !shape.Valid() {
		return nil, core.ErrInvalidConfig.WithMessage(fmt.Sprintf("unsupported result shape %q", shape))
	}

	var resp askResponse
	if err := s.c.do(ctx, "ask", http.MethodPost, s.path("/ask"), askRequest{Query: query, JSONSchema: schemaFor(shape)}, &resp); err != nil {
		return nil, err
	}
	return normalize(query, shape, resp.Value)
}

func normalize(query string, shape ResultShape, v interface{}) (interface{}, error) {
	switch shape {
	case ShapeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case ShapeString:
		if str, ok := v.(string); ok {
			return str, nil
		}
	case ShapeNumber:
		if n, ok := v.(float64); ok {
			return n, nil
		}
	case ShapeList:
		items, ok := v.([]interface{})
		if !ok {
			break
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			str, ok := item.(string)
			if !ok {
				return nil, &ShapeError{Query: query, Want: shape, Got: v}
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, &ShapeError{Query: query, Want: shape, Got: v}
}

// AskBool asks a yes/no question.
func (s *Session) AskBool(ctx context.Context, query string) (bool, error) {
	v, err := s.Ask(ctx, query, ShapeBoolean)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// AskString asks for a text answer.
func (s *Session) AskString(ctx context.Context, query string) (string, error) {
	v, err := s.Ask(ctx, query, ShapeString)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// AskNumber asks for a numeric answer.
func (s *Session) AskNumber(ctx context.Context, query string) (float64, error) {
	v, err := s.Ask(ctx, query, ShapeNumber)
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// AskList asks for a list of strings.
func (s *Session) AskList(ctx context.Context, query string) ([]string, error) {
	v, err := s.Ask(ctx, query, ShapeList)
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// WaitFor blocks for d or until ctx is done.
func (s *Session) WaitFor(ctx context.Context, d time.Duration) error {
	if err := s.check(); err != nil {
		return err
	}
	return poll.Sleep(ctx, d)
}

// ClickText clicks the text element matching text (legacy selector API).
func (s *Session) ClickText(ctx context.Context, text string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.c.do(ctx, "clickText", http.MethodPost, s.path("/click"), textRequest{Text: text}, nil)
}

// ExpectText reports whether a text element matching text exists (legacy
// selector API).
func (s *Session) ExpectText(ctx context.Context, text string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	var resp expectResponse
	if err := s.c.do(ctx, "expectText", http.MethodPost, s.path("/expect"), textRequest{Text: text}, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// Texts lists every detected text element on screen (legacy selector API).
func (s *Session) Texts(ctx context.Context) ([]TextElement, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var resp []TextElement
	if err := s.c.do(ctx, "getTexts", http.MethodGet, s.path("/texts"), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Annotate returns a PNG of the current screen with detected elements drawn on it.
func (s *Session) Annotate(ctx context.Context) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var resp annotateResponse
	if err := s.c.do(ctx, "annotate", http.MethodPost, s.path("/annotate"), nil, &resp); err != nil {
		return nil, err
	}
	img, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil {
		return nil, fmt.Errorf("annotate: decode image: %w", err)
	}
	return img, nil
}
