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
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stagehand/internal/api"
	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/mcp"
	"github.com/tombee/stagehand/internal/mcp/mcptest"
	"github.com/tombee/stagehand/internal/orchestrator"
)

func newDaemon(t *testing.T) (*Client, *orchestrator.Manager) {
	t.Helper()

	factory := mcptest.NewFactory()
	factory.Server("echo").SetTools(mcptest.Tool("echo", "echoes input"))
	factory.Server("echo").SetCallHandler(func(_ context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
		msg, _ := req.Arguments["message"].(string)
		return &mcp.ToolCallResponse{Content: []mcp.ContentItem{{Type: "text", Text: msg}}}, nil
	})

	m, err := orchestrator.New(
		orchestrator.WithLogger(log.Discard()),
		orchestrator.WithClientFactory(factory),
	)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close(context.Background()) })
	require.NoError(t, m.Register(context.Background(), orchestrator.ServerConfig{ID: "echo", Command: "echo-server"}))

	srv, err := api.New(m, api.WithLogger(log.Discard()), api.WithVersion("1.2.3"))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c, err := New(WithAddr(ts.URL), WithHTTPClient(ts.Client()))
	require.NoError(t, err)
	return c, m
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"127.0.0.1:8375", "http://127.0.0.1:8375"},
		{"http://localhost:9000/", "http://localhost:9000"},
		{"https://stagehand.example.com", "https://stagehand.example.com"},
	}
	for _, tt := range tests {
		if got := BaseURL(tt.addr); got != tt.want {
			t.Errorf("BaseURL(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestResolveAddr(t *testing.T) {
	t.Setenv(EnvAddr, "")
	assert.Equal(t, DefaultAddr, ResolveAddr(""))

	t.Setenv(EnvAddr, "10.0.0.1:9000")
	assert.Equal(t, "10.0.0.1:9000", ResolveAddr(""))
	assert.Equal(t, "explicit:1", ResolveAddr("explicit:1"))
}

func TestClient_HealthAndServers(t *testing.T) {
	c, _ := newDaemon(t)
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	require.NoError(t, c.Ping(ctx))

	servers, err := c.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "echo", servers[0].ID)

	srv, err := c.Start(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateRunning, srv.State)

	srv, err = c.Pause(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatePaused, srv.State)

	srv, err = c.Resume(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateRunning, srv.State)

	srv, err = c.Reload(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateRunning, srv.State)

	summary, err := c.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Active)

	srv, err = c.Stop(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateStopped, srv.State)

	require.NoError(t, c.Remove(ctx, "echo"))
	_, err = c.GetServer(ctx, "echo")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, string(orchestrator.CodeServerNotFound), apiErr.Code)
	assert.NotEmpty(t, apiErr.Suggestions)
}

func TestClient_Tools(t *testing.T) {
	c, _ := newDaemon(t)
	ctx := context.Background()

	_, err := c.Start(ctx, "echo")
	require.NoError(t, err)

	tools, err := c.Tools(ctx, "echo", false)
	require.NoError(t, err)
	require.Len(t, tools, 1)

	resp, err := c.CallTool(ctx, "echo", "echo", map[string]any{"message": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text())

	entry, err := c.DisableTool(ctx, "echo", "echo")
	require.NoError(t, err)
	assert.False(t, entry.Enabled)

	enabled, err := c.Tools(ctx, "echo", true)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	_, err = c.CallTool(ctx, "echo", "echo", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, string(orchestrator.CodeToolNotFound), apiErr.Code)

	entry, err = c.EnableTool(ctx, "echo", "echo")
	require.NoError(t, err)
	assert.True(t, entry.Enabled)

	metrics, err := c.Metrics(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.Invocations)

	history, err := c.History(ctx, "echo")
	require.NoError(t, err)
	assert.NotEmpty(t, history)
}

func TestClient_StreamEvents(t *testing.T) {
	c, m := newDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	baseline := m.Bus().SubscriberCount()

	var got []events.EventType
	done := make(chan error, 1)
	go func() {
		done <- c.StreamEvents(ctx, "echo", []string{"started", "stopped"}, func(e events.Event) error {
			got = append(got, e.Type)
			if len(got) == 2 {
				return errStop
			}
			return nil
		})
	}()

	// One subscription per requested type.
	require.Eventually(t, func() bool {
		return m.Bus().SubscriberCount() == baseline+2
	}, 4*time.Second, 10*time.Millisecond)

	_, err := m.Start(ctx, "echo")
	require.NoError(t, err)
	require.NoError(t, m.Stop(ctx, "echo"))

	assert.ErrorIs(t, <-done, errStop)
	assert.Equal(t, []events.EventType{events.EventStarted, events.EventStopped}, got)
}

var errStop = errors.New("stop")

func TestDecodeError_PlainBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	c, err := New(WithAddr(ts.URL))
	require.NoError(t, err)

	_, err = c.ListServers(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Contains(t, apiErr.Error(), "bad gateway")
}
