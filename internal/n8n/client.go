// Package n8n is a thin client for the workflow engine's public REST API.
// It only covers the calls the patch engine and the tools need and leaves
// retries to the caller.
package n8n

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sulla-ai/flowpatch/internal/graph"
)

const (
	// apiKeyHeader carries the API key on every request.
	apiKeyHeader = "X-N8N-API-KEY"

	// defaultTimeout bounds a single request.
	defaultTimeout = 30 * time.Second

	// maxErrorBody is how much of a failed response body APIError keeps.
	maxErrorBody = 512
)

// APIError is returned for every non-2xx response.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("n8n: %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// NotFound reports whether the API answered 404.
func (e *APIError) NotFound() bool { return e.Status == http.StatusNotFound }

// Client talks to one engine instance.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// NewClient creates a client for baseURL (e.g. "http://localhost:5678").
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetWorkflow fetches one workflow with its full node and connection
// structure.
func (c *Client) GetWorkflow(ctx context.Context, id string, excludePinnedData bool) (*graph.Workflow, error) {
	path := "/api/v1/workflows/" + url.PathEscape(id)
	if excludePinnedData {
		path += "?excludePinnedData=true"
	}
	var w graph.Workflow
	if err := c.do(ctx, http.MethodGet, path, nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// UpdateWorkflow replaces the workflow's name, nodes, connections,
// settings and static data.
func (c *Client) UpdateWorkflow(ctx context.Context, id string, update graph.WorkflowUpdate) (*graph.Workflow, error) {
	var w graph.Workflow
	if err := c.do(ctx, http.MethodPut, "/api/v1/workflows/"+url.PathEscape(id), update, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWorkflow creates a workflow and returns it with its new id.
func (c *Client) CreateWorkflow(ctx context.Context, payload graph.WorkflowUpdate) (*graph.Workflow, error) {
	var w graph.Workflow
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflows", payload, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("n8n: encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("n8n: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("n8n: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("n8n: decoding %s %s: %w", method, path, err)
	}
	return nil
}
