package workspace

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/weldcode/weld/pkg/sandbox"
)

// remoteSandbox is a live handle to a workspace-service sandbox. All
// operations go through the service API.
type remoteSandbox struct {
	client *Client
	id     string
	domain string
}

type execRequest struct {
	Command        string `json:"command"`
	Cwd            string `json:"cwd,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type execResponse struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMS int64  `json:"duration_ms"`
}

func (s *remoteSandbox) ID() string {
	return s.id
}

func (s *remoteSandbox) RunCommand(ctx context.Context, cmd string, opts sandbox.RunOptions) (*sandbox.CommandResult, error) {
	req := execRequest{Command: cmd, Cwd: opts.Cwd}
	if opts.Timeout > 0 {
		req.TimeoutSeconds = int(opts.Timeout.Seconds())
	}

	var resp execResponse
	path := fmt.Sprintf("/v1/sandboxes/%s/exec", url.PathEscape(s.id))
	if err := s.client.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &sandbox.CommandResult{
		ExitCode: resp.ExitCode,
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		Duration: time.Duration(resp.DurationMS) * time.Millisecond,
	}, nil
}

func (s *remoteSandbox) WriteFile(ctx context.Context, path, content string) error {
	req := map[string]string{"path": path, "content": content}
	apiPath := fmt.Sprintf("/v1/sandboxes/%s/files", url.PathEscape(s.id))
	return s.client.do(ctx, http.MethodPut, apiPath, req, nil)
}

func (s *remoteSandbox) ReadFile(ctx context.Context, path string) (string, error) {
	var resp struct {
		Content string `json:"content"`
	}
	apiPath := fmt.Sprintf("/v1/sandboxes/%s/files?path=%s", url.PathEscape(s.id), url.QueryEscape(path))
	if err := s.client.do(ctx, http.MethodGet, apiPath, nil, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (s *remoteSandbox) DeleteFile(ctx context.Context, path string) error {
	apiPath := fmt.Sprintf("/v1/sandboxes/%s/files?path=%s", url.PathEscape(s.id), url.QueryEscape(path))
	return s.client.do(ctx, http.MethodDelete, apiPath, nil, nil)
}

func (s *remoteSandbox) ListFiles(ctx context.Context, dir string) ([]string, error) {
	var resp struct {
		Paths []string `json:"paths"`
	}
	apiPath := fmt.Sprintf("/v1/sandboxes/%s/files/list?dir=%s", url.PathEscape(s.id), url.QueryEscape(dir))
	if err := s.client.do(ctx, http.MethodGet, apiPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Paths, nil
}

// Host builds the preview URL from the sandbox domain: ports are exposed
// as {port}-{sandbox_id}.{domain}.
func (s *remoteSandbox) Host(port int) (string, error) {
	if s.domain == "" {
		return "", fmt.Errorf("sandbox %s has no preview domain", s.id)
	}
	return fmt.Sprintf("https://%d-%s.%s", port, s.id, s.domain), nil
}

// Close releases nothing: workspace sandboxes are stateless HTTP handles.
func (s *remoteSandbox) Close() error {
	return nil
}
