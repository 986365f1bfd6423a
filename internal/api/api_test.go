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


package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stagehand/internal/config"
	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/mcp"
	"github.com/tombee/stagehand/internal/mcp/mcptest"
	"github.com/tombee/stagehand/internal/orchestrator"
)

type testEnv struct {
	srv     *Server
	manager *orchestrator.Manager
	factory *mcptest.Factory
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	factory := mcptest.NewFactory()
	factory.Server("echo").SetTools(mcptest.Tool("echo", "echoes input"), mcptest.Tool("upper", "uppercases input"))
	factory.Server("echo").SetCallHandler(func(_ context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
		return &mcp.ToolCallResponse{Content: []mcp.ContentItem{{Type: "text", Text: fmt.Sprint(req.Arguments["message"])}}}, nil
	})

	m, err := orchestrator.New(
		orchestrator.WithLogger(log.Discard()),
		orchestrator.WithClientFactory(factory),
	)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close(context.Background()) })

	require.NoError(t, m.Register(context.Background(), orchestrator.ServerConfig{
		ID:      "echo",
		Command: "echo-server",
		Env:     map[string]string{"API_TOKEN": "secret", "REGION": "eu"},
	}))

	srv, err := New(m, append([]Option{WithLogger(log.Discard())}, opts...)...)
	require.NoError(t, err)
	return &testEnv{srv: srv, manager: m, factory: factory}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNew_NilOrchestrator(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestServers_ListRedactsEnv(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/v1/servers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[ServerList](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "echo", list.Servers[0].ID)
	assert.Equal(t, orchestrator.StateStopped, list.Servers[0].State)
	assert.Equal(t, config.RedactedValue, list.Servers[0].Config.Env["API_TOKEN"])
	assert.Equal(t, "eu", list.Servers[0].Config.Env["REGION"])

	// The manager's own copy is untouched.
	srv, err := env.manager.GetServer("echo")
	require.NoError(t, err)
	assert.Equal(t, "secret", srv.Config.Env["API_TOKEN"])
}

func TestServers_Lifecycle(t *testing.T) {
	env := newTestEnv(t)

	steps := []struct {
		method string
		path   string
		want   orchestrator.State
	}{
		{http.MethodPost, "/v1/servers/echo/start", orchestrator.StateRunning},
		{http.MethodPost, "/v1/servers/echo/pause", orchestrator.StatePaused},
		{http.MethodPost, "/v1/servers/echo/resume", orchestrator.StateRunning},
		{http.MethodPost, "/v1/servers/echo/reload", orchestrator.StateRunning},
		{http.MethodPost, "/v1/servers/echo/stop", orchestrator.StateStopped},
		{http.MethodGet, "/v1/servers/echo", orchestrator.StateStopped},
	}
	for _, step := range steps {
		rec := env.do(t, step.method, step.path, "")
		require.Equal(t, http.StatusOK, rec.Code, "%s %s: %s", step.method, step.path, rec.Body.String())
		srv := decode[orchestrator.Server](t, rec)
		if srv.State != step.want {
			t.Errorf("%s %s state = %s, want %s", step.method, step.path, srv.State, step.want)
		}
	}
}

func TestServers_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		status int
		code   string
	}{
		{"unknown server", http.MethodGet, "/v1/servers/nope", http.StatusNotFound, "SERVER_NOT_FOUND"},
		{"start unknown", http.MethodPost, "/v1/servers/nope/start", http.StatusNotFound, "SERVER_NOT_FOUND"},
		{"pause stopped", http.MethodPost, "/v1/servers/echo/pause", http.StatusConflict, "INVALID_STATE_TRANSITION"},
		{"call on stopped server", http.MethodPost, "/v1/servers/echo/tools/echo/call", http.StatusBadGateway, "TOOL_EXECUTION_FAILED"},
		{"unknown route", http.MethodGet, "/v1/nothing", http.StatusNotFound, "NOT_FOUND"},
		{"wrong method", http.MethodPut, "/v1/servers/echo/start", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, "")
			assert.Equal(t, tt.status, rec.Code)
			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestServers_StartFailure(t *testing.T) {
	env := newTestEnv(t)
	env.factory.Server("echo").SetInitError(fmt.Errorf("exec: not found"))

	rec := env.do(t, http.MethodPost, "/v1/servers/echo/start", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "SERVER_START_FAILED", body.Error.Code)
	assert.Equal(t, "echo", body.Error.ServerID)
	assert.NotEmpty(t, body.Error.Suggestions)
	assert.Contains(t, body.Error.Message, "exec: not found")
}

func TestServers_Delete(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/v1/servers/echo", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/servers/echo", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/v1/servers/echo", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTools_EnableDisableCall(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/servers/echo/start", "").Code)

	list := decode[ToolList](t, env.do(t, http.MethodGet, "/v1/servers/echo/tools", ""))
	require.Len(t, list.Tools, 2)

	rec := env.do(t, http.MethodPost, "/v1/servers/echo/tools/echo/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decode[struct {
		Enabled    bool   `json:"enabled"`
		DisabledBy string `json:"disabled_by"`
	}](t, rec)
	assert.False(t, entry.Enabled)
	assert.Equal(t, "operator", entry.DisabledBy)

	enabled := decode[ToolList](t, env.do(t, http.MethodGet, "/v1/servers/echo/tools?enabled=true", ""))
	require.Len(t, enabled.Tools, 1)
	assert.Equal(t, "upper", enabled.Tools[0].Name)

	rec = env.do(t, http.MethodPost, "/v1/servers/echo/tools/echo/call", `{"arguments":{"message":"hi"}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/servers/echo/tools/echo/enable", "").Code)

	rec = env.do(t, http.MethodPost, "/v1/servers/echo/tools/echo/call", `{"arguments":{"message":"hi"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[mcp.ToolCallResponse](t, rec)
	assert.Equal(t, "hi", resp.Text())
}

func TestTools_CallBadBody(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/servers/echo/start", "").Code)

	rec := env.do(t, http.MethodPost, "/v1/servers/echo/tools/echo/call", `{"arguments":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// An empty body means no arguments.
	rec = env.do(t, http.MethodPost, "/v1/servers/echo/tools/echo/call", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServers_MetricsHistorySummary(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/servers/echo/start", "").Code)

	metrics := decode[orchestrator.ServerMetrics](t, env.do(t, http.MethodGet, "/v1/servers/echo/metrics", ""))
	assert.Equal(t, orchestrator.StateRunning, metrics.State)
	assert.Equal(t, 2, metrics.ToolCount)
	assert.Equal(t, 1.0, metrics.SuccessRate)

	history := decode[struct {
		ServerID string `json:"server_id"`
		Events   []struct {
			Type events.EventType `json:"type"`
		} `json:"events"`
	}](t, env.do(t, http.MethodGet, "/v1/servers/echo/history", ""))
	assert.Equal(t, "echo", history.ServerID)
	var types []events.EventType
	for _, e := range history.Events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, events.EventStarted)

	summary := decode[orchestrator.Summary](t, env.do(t, http.MethodGet, "/v1/summary", ""))
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Active)

	health := decode[HealthResponse](t, env.do(t, http.MethodGet, "/healthz", ""))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Active)
}

func TestMetricsHandler(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/metrics", "").Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "stagehand_servers_active 0")
	})
	env = newTestEnv(t, WithMetricsHandler(metrics))
	rec := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stagehand_servers_active")
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, WithCORSOrigins([]string{"http://localhost:3000"}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/servers", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestEvents_Stream(t *testing.T) {
	env := newTestEnv(t, WithKeepAlive(time.Hour))
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events?server=echo&type=started,stopped", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	_, err = env.manager.Start(ctx, "echo")
	require.NoError(t, err)
	require.NoError(t, env.manager.Stop(ctx, "echo"))

	var got []string
	for len(got) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: ") {
			got = append(got, strings.TrimSpace(strings.TrimPrefix(line, "event: ")))
		}
		if strings.HasPrefix(line, "data: ") {
			var e events.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e))
			assert.Equal(t, "echo", e.ServerID)
		}
	}
	assert.Equal(t, []string{"started", "stopped"}, got)
}

func TestEvents_BadType(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/v1/events?type=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{orchestrator.NewError(orchestrator.CodeServerNotFound, "a", "x"), http.StatusNotFound},
		{orchestrator.NewError(orchestrator.CodeToolNotFound, "a", "x"), http.StatusNotFound},
		{orchestrator.NewError(orchestrator.CodeServerAlreadyExists, "a", "x"), http.StatusConflict},
		{orchestrator.NewError(orchestrator.CodeInvalidStateTransition, "a", "x"), http.StatusConflict},
		{orchestrator.NewError(orchestrator.CodeInvalidConfig, "a", "x"), http.StatusBadRequest},
		{orchestrator.NewError(orchestrator.CodeServerStartFailed, "a", "x"), http.StatusBadGateway},
		{orchestrator.NewError(orchestrator.CodeServerReloadFailed, "a", "x"), http.StatusBadGateway},
		{orchestrator.NewError(orchestrator.CodeToolExecutionFailed, "a", "x"), http.StatusBadGateway},
		{orchestrator.NewError(orchestrator.CodeToolExecutionFailed, "a", "x").WithCause(context.DeadlineExceeded), http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestServe_Shutdown(t *testing.T) {
	env := newTestEnv(t, WithShutdownTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Run(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
