// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tombee/stagehand/internal/api"
	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/mcp"
	"github.com/tombee/stagehand/internal/orchestrator"
	"github.com/tombee/stagehand/internal/store"
)

// Client is a client for the daemon API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client with the given options.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL: BaseURL(ResolveAddr("")),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: NewTransport(nil)}
	}
	return c, nil
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = client
		return nil
	}
}

// WithAddr sets the daemon address (host:port or URL).
func WithAddr(addr string) Option {
	return func(c *Client) error {
		base := BaseURL(ResolveAddr(addr))
		if _, err := url.Parse(base); err != nil {
			return fmt.Errorf("invalid daemon address %q: %w", addr, err)
		}
		c.baseURL = base
		return nil
	}
}

// APIError is an error response from the daemon.
type APIError struct {
	Status int
	api.ErrorBody
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned status %d", e.Status)
	}
	return e.Message
}

// Health returns the daemon health status.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping checks the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

// Summary returns counts of servers by state.
func (c *Client) Summary(ctx context.Context) (*orchestrator.Summary, error) {
	var out orchestrator.Summary
	if err := c.do(ctx, http.MethodGet, "/v1/summary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListServers returns every registered server.
func (c *Client) ListServers(ctx context.Context) ([]orchestrator.Server, error) {
	var out api.ServerList
	if err := c.do(ctx, http.MethodGet, "/v1/servers", nil, &out); err != nil {
		return nil, err
	}
	return out.Servers, nil
}

// GetServer returns one server.
func (c *Client) GetServer(ctx context.Context, id string) (*orchestrator.Server, error) {
	var out orchestrator.Server
	if err := c.do(ctx, http.MethodGet, serverPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start starts a server.
func (c *Client) Start(ctx context.Context, id string) (*orchestrator.Server, error) {
	return c.action(ctx, id, "start")
}

// Stop stops a server.
func (c *Client) Stop(ctx context.Context, id string) (*orchestrator.Server, error) {
	return c.action(ctx, id, "stop")
}

// Reload restarts a server with its registered config.
func (c *Client) Reload(ctx context.Context, id string) (*orchestrator.Server, error) {
	return c.action(ctx, id, "reload")
}

// Pause pauses a running server.
func (c *Client) Pause(ctx context.Context, id string) (*orchestrator.Server, error) {
	return c.action(ctx, id, "pause")
}

// Resume resumes a paused server.
func (c *Client) Resume(ctx context.Context, id string) (*orchestrator.Server, error) {
	return c.action(ctx, id, "resume")
}

func (c *Client) action(ctx context.Context, id, action string) (*orchestrator.Server, error) {
	var out orchestrator.Server
	if err := c.do(ctx, http.MethodPost, serverPath(id)+"/"+action, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Remove unregisters a server.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, serverPath(id), nil, nil)
}

// Tools lists a server's tool registry. With enabledOnly, only callable
// tools are returned.
func (c *Client) Tools(ctx context.Context, id string, enabledOnly bool) ([]store.ToolEntry, error) {
	path := serverPath(id) + "/tools"
	if enabledOnly {
		path += "?enabled=true"
	}
	var out api.ToolList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// EnableTool enables a tool.
func (c *Client) EnableTool(ctx context.Context, id, tool string) (*store.ToolEntry, error) {
	return c.toggle(ctx, id, tool, "enable")
}

// DisableTool disables a tool.
func (c *Client) DisableTool(ctx context.Context, id, tool string) (*store.ToolEntry, error) {
	return c.toggle(ctx, id, tool, "disable")
}

func (c *Client) toggle(ctx context.Context, id, tool, action string) (*store.ToolEntry, error) {
	var out store.ToolEntry
	if err := c.do(ctx, http.MethodPost, toolPath(id, tool)+"/"+action, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CallTool invokes a tool.
func (c *Client) CallTool(ctx context.Context, id, tool string, args map[string]any) (*mcp.ToolCallResponse, error) {
	var out mcp.ToolCallResponse
	if err := c.do(ctx, http.MethodPost, toolPath(id, tool)+"/call", api.CallRequest{Arguments: args}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metrics returns derived metrics for a server.
func (c *Client) Metrics(ctx context.Context, id string) (*orchestrator.ServerMetrics, error) {
	var out orchestrator.ServerMetrics
	if err := c.do(ctx, http.MethodGet, serverPath(id)+"/metrics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns a server's recent events, oldest first.
func (c *Client) History(ctx context.Context, id string) ([]events.Event, error) {
	var out api.History
	if err := c.do(ctx, http.MethodGet, serverPath(id)+"/history", nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// StreamEvents follows the event stream, calling fn for each event. An
// empty serverID or types selects everything. It returns nil when ctx is
// cancelled.
func (c *Client) StreamEvents(ctx context.Context, serverID string, types []string, fn func(events.Event) error) error {
	q := url.Values{}
	if serverID != "" {
		q.Set("server", serverID)
	}
	if len(types) > 0 {
		q.Set("type", strings.Join(types, ","))
	}
	path := "/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var e events.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event stream: %w", err)
	}
	return nil
}

func serverPath(id string) string {
	return "/v1/servers/" + url.PathEscape(id)
}

func toolPath(id, tool string) string {
	return serverPath(id) + "/tools/" + url.PathEscape(tool)
}

// do sends a JSON request and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	apiErr := &APIError{Status: resp.StatusCode}

	var body api.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Code != "" {
		apiErr.ErrorBody = body.Error
		return apiErr
	}
	apiErr.Message = fmt.Sprintf("daemon returned error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	return apiErr
}
