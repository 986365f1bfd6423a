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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// ClientName and ClientVersion are sent in the initialize handshake.
var (
	ClientName    = "stagehand"
	ClientVersion = "dev"
)

// ErrNotInitialized is returned by calls made before Initialize succeeded.
var ErrNotInitialized = errors.New("client not initialized")

// StdioClient talks to an MCP server spawned as a child process over stdio.
type StdioClient struct {
	config ClientConfig

	// client is the underlying MCP protocol client, nil until Initialize
	client *client.Client

	mu sync.RWMutex
}

// NewStdioClient validates cfg and returns an unconnected client.
// The process is spawned by Initialize.
func NewStdioClient(cfg ClientConfig) (*StdioClient, error) {
	if cfg.ServerID == "" {
		return nil, fmt.Errorf("server id is required")
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &StdioClient{config: cfg}, nil
}

// Initialize spawns the process and sends the initialize request.
func (c *StdioClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	mcpClient, err := client.NewStdioMCPClient(c.config.Command, c.config.Env, c.config.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    ClientName,
				Version: ClientVersion,
			},
		},
	}

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("initialize request failed: %w", err)
	}

	c.client = mcpClient
	return nil
}

func (c *StdioClient) conn() (*client.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, ErrNotInitialized
	}
	return c.client, nil
}

// ListTools retrieves the tools exposed by the server.
func (c *StdioClient) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	conn, err := c.conn()
	if err != nil {
		return nil, err
	}

	result, err := conn.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", closedErr(err))
	}

	tools := make([]ToolDefinition, 0, len(result.Tools))
	for _, tool := range result.Tools {
		schema, err := inputSchema(tool)
		if err != nil {
			return nil, err
		}
		tools = append(tools, ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
			ServerID:    c.config.ServerID,
		})
	}
	return tools, nil
}

// inputSchema prefers the raw schema the server sent and falls back to
// re-encoding the structured one.
func inputSchema(tool mcp.Tool) (json.RawMessage, error) {
	if len(tool.RawInputSchema) > 0 {
		return tool.RawInputSchema, nil
	}
	schema, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input schema for %s: %w", tool.Name, err)
	}
	return schema, nil
}

// CallTool executes a tool with the configured call timeout applied.
func (c *StdioClient) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error) {
	conn, err := c.conn()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	result, err := conn.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      req.Name,
			Arguments: req.Arguments,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", closedErr(err))
	}

	response := &ToolCallResponse{
		IsError: result.IsError,
		Content: make([]ContentItem, 0, len(result.Content)),
	}
	for _, content := range result.Content {
		response.Content = append(response.Content, convertContent(content))
	}
	return response, nil
}

func convertContent(content mcp.Content) ContentItem {
	if text, ok := mcp.AsTextContent(content); ok {
		return ContentItem{Type: text.Type, Text: text.Text}
	}
	if image, ok := mcp.AsImageContent(content); ok {
		return ContentItem{Type: image.Type, Data: image.Data, MimeType: image.MIMEType}
	}

	// Unknown content kinds keep whatever common fields they carry.
	var item ContentItem
	if raw, err := json.Marshal(content); err == nil {
		_ = json.Unmarshal(raw, &item)
	}
	return item
}

// Cleanup closes the connection, which stops the child process.
func (c *StdioClient) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	if err != nil {
		return fmt.Errorf("failed to close MCP client: %w", err)
	}
	return nil
}

func closedErr(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("server connection closed: %w", err)
	}
	return err
}
