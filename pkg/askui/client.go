package askui

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devicelab-dev/pixelmon-runner/pkg/logger"
)

// client is the HTTP transport to the controller.
type client struct {
	http        *http.Client
	baseURL     string
	workspaceID string
	auth        string
	timeout     time.Duration
	observer    Observer
}

func newClient(opts Options, httpClient *http.Client) (*client, error) {
	base := strings.TrimRight(opts.ControllerURL, "/")
	if base == "" {
		base = DefaultControllerURL
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid controller url %q", opts.ControllerURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &client{
		http:        httpClient,
		baseURL:     base,
		workspaceID: opts.WorkspaceID,
		timeout:     timeout,
		observer:    opts.Observer,
	}
	if opts.Token != "" {
		c.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(opts.Token))
	}
	return c, nil
}

// request makes an HTTP request to the controller. op names the call for
// logs and metrics.
func (c *client) request(ctx context.Context, op, method, path string, body interface{}) ([]byte, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	var bodyStr string
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
		bodyStr = string(data)
		if len(bodyStr) > 100 {
			bodyStr = bodyStr[:100] + "..."
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	if c.workspaceID != "" {
		req.Header.Set("X-Workspace-Id", c.workspaceID)
	}

	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		logger.Debug("%s %s [%v] ERROR: %v", method, path, elapsed, err)
		err = fmt.Errorf("%s: %w", op, err)
		c.observe(op, elapsed, err)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("%s: read response: %w", op, err)
		c.observe(op, elapsed, err)
		return nil, err
	}

	status := "OK"
	if resp.StatusCode >= 400 {
		status = fmt.Sprintf("ERR:%d", resp.StatusCode)
	}
	logger.Debug("%s %s [%v] %s body=%s", method, path, elapsed, status, bodyStr)

	if resp.StatusCode >= 400 {
		berr := &BackendError{Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil {
			if errResp.Message != "" {
				berr.Message = errResp.Message
			} else if errResp.Error != "" {
				berr.Message = errResp.Error
			}
		}
		c.observe(op, elapsed, berr)
		return nil, berr
	}

	c.observe(op, elapsed, nil)
	return respBody, nil
}

func (c *client) observe(op string, d time.Duration, err error) {
	if c.observer != nil {
		c.observer.ObserveCall(op, d, err)
	}
}

// do sends a request and decodes the JSON response into out (if non-nil).
func (c *client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	data, err := c.request(ctx, op, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: parse response: %w", op, err)
	}
	return nil
}
