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

package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStdioClient_Validation(t *testing.T) {
	tests := []struct {
		name     string
		config   ClientConfig
		errorMsg string
	}{
		{
			name:     "missing server id",
			config:   ClientConfig{Command: "echo"},
			errorMsg: "server id is required",
		},
		{
			name:     "missing command",
			config:   ClientConfig{ServerID: "test-server"},
			errorMsg: "command is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStdioClient(tt.config)
			if err == nil {
				t.Fatalf("NewStdioClient() expected error %q, got nil", tt.errorMsg)
			}
			if err.Error() != tt.errorMsg {
				t.Errorf("NewStdioClient() error = %v, want %v", err, tt.errorMsg)
			}
		})
	}
}

func TestNewStdioClient_DefaultTimeout(t *testing.T) {
	c, err := NewStdioClient(ClientConfig{ServerID: "echo", Command: "echo"})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, c.config.Timeout)
}

func TestStdioClient_CallsBeforeInitialize(t *testing.T) {
	c, err := NewStdioClient(ClientConfig{ServerID: "echo", Command: "echo"})
	require.NoError(t, err)

	ctx := context.Background()

	_, err = c.ListTools(ctx)
	assert.True(t, errors.Is(err, ErrNotInitialized))

	_, err = c.CallTool(ctx, ToolCallRequest{Name: "echo_tool"})
	assert.True(t, errors.Is(err, ErrNotInitialized))

	assert.NoError(t, c.Cleanup(), "cleanup of an unconnected client is a no-op")
}

func TestStdioClient_InitializeMissingCommand(t *testing.T) {
	c, err := NewStdioClient(ClientConfig{
		ServerID: "ghost",
		Command:  "/nonexistent/stagehand-test-server",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.Error(t, c.Initialize(ctx))
	_, err = c.ListTools(ctx)
	assert.True(t, errors.Is(err, ErrNotInitialized), "failed initialize must not leave a connection behind")
}

func TestStdioFactory(t *testing.T) {
	client, err := StdioFactory.NewClient(ClientConfig{ServerID: "echo", Command: "echo"})
	require.NoError(t, err)
	_, ok := client.(*StdioClient)
	assert.True(t, ok)

	_, err = StdioFactory.NewClient(ClientConfig{})
	assert.Error(t, err)
}

func TestToolCallResponse_Text(t *testing.T) {
	resp := &ToolCallResponse{Content: []ContentItem{
		{Type: "text", Text: "first"},
		{Type: "image", Data: "aGk=", MimeType: "image/png"},
		{Type: "text", Text: "second"},
	}}
	assert.Equal(t, "first\nsecond", resp.Text())

	var nilResp *ToolCallResponse
	assert.Equal(t, "", nilResp.Text())
}

func TestConvertContent(t *testing.T) {
	text := convertContent(mcp.NewTextContent("hello"))
	assert.Equal(t, ContentItem{Type: "text", Text: "hello"}, text)

	image := convertContent(mcp.NewImageContent("aGk=", "image/png"))
	assert.Equal(t, "image", image.Type)
	assert.Equal(t, "aGk=", image.Data)
	assert.Equal(t, "image/png", image.MimeType)
}

func TestInputSchema_PrefersRaw(t *testing.T) {
	raw := []byte(`{"type":"object","properties":{"text":{"type":"string"}}}`)
	schema, err := inputSchema(mcp.Tool{Name: "echo_tool", RawInputSchema: raw})
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(schema))

	schema, err = inputSchema(mcp.NewTool("echo_tool", mcp.WithString("text")))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(schema), `"text"`))
}
