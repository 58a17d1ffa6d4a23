// Package workspace implements the sandbox provider backed by the
// managed workspace service HTTP API.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/weldcode/weld/pkg/failure"
	"github.com/weldcode/weld/pkg/sandbox"
)

// ClientConfig holds workspace service connection settings.
type ClientConfig struct {
	// BaseURL is the workspace service API endpoint.
	BaseURL string

	// APIKey authenticates requests as a bearer token.
	APIKey string

	// RequestTimeout bounds individual API calls. Sandbox creation uses
	// its own timeout passed to Create.
	RequestTimeout time.Duration
}

// Client talks to the workspace service. It implements the sandbox
// provider interface.
type Client struct {
	config ClientConfig
	http   *http.Client
}

// NewClient creates a workspace service client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

type sandboxInfo struct {
	SandboxID string `json:"sandbox_id"`
	Domain    string `json:"domain"`
}

// Connect attaches to an existing sandbox by ID.
func (c *Client) Connect(ctx context.Context, id string) (sandbox.Sandbox, error) {
	var info sandboxInfo
	path := fmt.Sprintf("/v1/sandboxes/%s/connect", url.PathEscape(id))
	if err := c.do(ctx, http.MethodPost, path, nil, &info); err != nil {
		return nil, err
	}
	return &remoteSandbox{client: c, id: info.SandboxID, domain: info.Domain}, nil
}

// Create provisions a fresh sandbox from a template.
func (c *Client) Create(ctx context.Context, template string, timeout time.Duration) (sandbox.Sandbox, error) {
	req := map[string]interface{}{
		"template":        template,
		"timeout_seconds": int(timeout.Seconds()),
	}
	var info sandboxInfo
	if err := c.do(ctx, http.MethodPost, "/v1/sandboxes", req, &info); err != nil {
		return nil, err
	}
	return &remoteSandbox{client: c, id: info.SandboxID, domain: info.Domain}, nil
}

// Kill terminates a sandbox. Missing sandboxes are fine: the caller's
// intent is already satisfied.
func (c *Client) Kill(ctx context.Context, id string) error {
	path := fmt.Sprintf("/v1/sandboxes/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil && failure.KindOf(err) == failure.KindUnknown {
		// 404 classifies as unknown; a sandbox that is already gone is
		// not an error for Kill.
		return nil
	}
	return err
}

// do performs one API request. Non-2xx responses are classified by HTTP
// status so the retry layer can make budget decisions.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return failure.New(failure.KindConnectionFailed, "workspace service unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failure.New(failure.KindConnectionFailed, "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure.ClassifyHTTP(resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
