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


package servers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stagehand/internal/api"
	"github.com/tombee/stagehand/internal/client"
	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/mcp/mcptest"
	"github.com/tombee/stagehand/internal/orchestrator"
)

// newDaemon points the global --addr flag at an in-process API server.
func newDaemon(t *testing.T) *orchestrator.Manager {
	t.Helper()

	factory := mcptest.NewFactory()
	factory.Server("echo").SetTools(mcptest.Tool("echo", "echoes input"))

	m, err := orchestrator.New(
		orchestrator.WithLogger(log.Discard()),
		orchestrator.WithClientFactory(factory),
	)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close(context.Background()) })
	require.NoError(t, m.Register(context.Background(), orchestrator.ServerConfig{
		ID:      "echo",
		Command: "echo-server",
		Env:     map[string]string{"API_TOKEN": "s3cret"},
	}))

	srv, err := api.New(m, api.WithLogger(log.Discard()))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	_, jsonPtr, _, addrPtr := shared.RegisterFlagPointers()
	*addrPtr = ts.URL
	t.Cleanup(func() {
		*addrPtr = ""
		*jsonPtr = false
	})
	return m
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func setJSON(t *testing.T) {
	t.Helper()
	_, jsonPtr, _, _ := shared.RegisterFlagPointers()
	*jsonPtr = true
}

func TestList(t *testing.T) {
	newDaemon(t)

	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "stopped")
}

func TestList_JSON(t *testing.T) {
	newDaemon(t)
	setJSON(t)

	out, err := execute(t, "list")
	require.NoError(t, err)

	var servers []orchestrator.Server
	require.NoError(t, json.Unmarshal([]byte(out), &servers))
	require.Len(t, servers, 1)
	assert.Equal(t, "echo", servers[0].ID)
	assert.NotEqual(t, "s3cret", servers[0].Config.Env["API_TOKEN"])
}

func TestLifecycleCommands(t *testing.T) {
	m := newDaemon(t)

	tests := []struct {
		args []string
		want orchestrator.State
		text string
	}{
		{[]string{"start", "echo"}, orchestrator.StateRunning, "echo started"},
		{[]string{"pause", "echo"}, orchestrator.StatePaused, "echo paused"},
		{[]string{"resume", "echo"}, orchestrator.StateRunning, "echo resumed"},
		{[]string{"reload", "echo"}, orchestrator.StateRunning, "echo reloaded"},
		{[]string{"stop", "echo"}, orchestrator.StateStopped, "echo stopped"},
	}
	for _, tt := range tests {
		out, err := execute(t, tt.args...)
		if err != nil {
			t.Fatalf("%v: unexpected error: %v", tt.args, err)
		}
		if !bytes.Contains([]byte(out), []byte(tt.text)) {
			t.Errorf("%v: output %q does not contain %q", tt.args, out, tt.text)
		}
		srv, err := m.GetServer("echo")
		require.NoError(t, err)
		if srv.State != tt.want {
			t.Errorf("%v: state = %s, want %s", tt.args, srv.State, tt.want)
		}
	}
}

func TestStatus(t *testing.T) {
	m := newDaemon(t)
	_, err := m.StartServer(context.Background(), "echo")
	require.NoError(t, err)

	out, err := execute(t, "status", "echo")
	require.NoError(t, err)
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "echo-server")
	assert.Contains(t, out, "Recent events")
	assert.NotContains(t, out, "s3cret")
}

func TestStatus_JSONLimitsEvents(t *testing.T) {
	m := newDaemon(t)
	_, err := m.StartServer(context.Background(), "echo")
	require.NoError(t, err)
	setJSON(t)

	out, err := execute(t, "status", "echo", "--events", "1")
	require.NoError(t, err)

	var status StatusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, orchestrator.StateRunning, status.Server.State)
	assert.Len(t, status.History, 1)
	assert.Equal(t, 1, status.Metrics.ToolCount)
}

func TestUnknownServer(t *testing.T) {
	newDaemon(t)

	_, err := execute(t, "start", "missing")
	require.Error(t, err)

	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))
}

func TestRemove(t *testing.T) {
	m := newDaemon(t)

	out, err := execute(t, "rm", "echo")
	require.NoError(t, err)
	assert.Contains(t, out, "echo removed")

	_, err = m.GetServer("echo")
	assert.ErrorIs(t, err, orchestrator.ErrServerNotFound)
}

func TestList_StateFilter(t *testing.T) {
	m := newDaemon(t)
	require.NoError(t, m.Register(context.Background(), orchestrator.ServerConfig{ID: "idle", Command: "idle-server"}))
	_, err := m.StartServer(context.Background(), "echo")
	require.NoError(t, err)
	setJSON(t)

	out, err := execute(t, "list", "--state", "running")
	require.NoError(t, err)
	var servers []orchestrator.Server
	require.NoError(t, json.Unmarshal([]byte(out), &servers))
	require.Len(t, servers, 1)
	assert.Equal(t, "echo", servers[0].ID)

	_, err = execute(t, "list", "--state", "sleeping")
	assert.ErrorContains(t, err, "unknown state")
}
