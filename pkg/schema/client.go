package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/weldcode/weld/pkg/failure"
)

// QueryClient executes SQL against the remote query service.
type QueryClient struct {
	endpoint string
	tokens   TokenProvider
	http     *http.Client
}

// QueryResult holds rows from a query service response.
type QueryResult struct {
	Rows []map[string]interface{} `json:"rows"`
}

// NewQueryClient creates a query service client.
func NewQueryClient(endpoint string, tokens TokenProvider) (*QueryClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token provider is required")
	}
	return &QueryClient{
		endpoint: endpoint,
		tokens:   tokens,
		http:     &http.Client{Timeout: 45 * time.Second},
	}, nil
}

// Execute runs a query. readOnly requests a dry run inside a read-only
// transaction; DDL under readOnly is expected to fail with a read-only
// transaction error, which the pipeline treats as a pass.
func (c *QueryClient) Execute(ctx context.Context, query string, readOnly bool) (*QueryResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, failure.New(failure.KindAuth, "failed to obtain query token", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"read_only": readOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, failure.New(failure.KindConnectionFailed, "query service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, failure.New(failure.KindConnectionFailed, "failed to read query response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, failure.ClassifyHTTP(resp.StatusCode, body)
	}

	result := &QueryResult{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return nil, fmt.Errorf("failed to decode query response: %w", err)
		}
	}
	return result, nil
}

// InvalidateCache notifies the downstream query layer that the schema
// changed. Callers treat failures as non-fatal.
func (c *QueryClient) InvalidateCache(ctx context.Context, invalidateURL string) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return failure.New(failure.KindAuth, "failed to obtain query token", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, invalidateURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build invalidation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return failure.New(failure.KindConnectionFailed, "cache invalidation unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return failure.ClassifyHTTP(resp.StatusCode, body)
	}
	return nil
}

// ListTables queries information_schema for provisioned table names.
func (c *QueryClient) ListTables(ctx context.Context) ([]string, error) {
	const query = `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'`
	result, err := c.Execute(ctx, query, true)
	if err != nil {
		return nil, err
	}

	tables := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if name, ok := row["table_name"].(string); ok {
			tables = append(tables, name)
		}
	}
	return tables, nil
}
