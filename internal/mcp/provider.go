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
	"time"
)

// ToolClient is the orchestrator's channel to one managed server process.
// Every method may fail; callers bound them with context deadlines.
type ToolClient interface {
	// Initialize opens the channel and performs the protocol handshake.
	Initialize(ctx context.Context) error

	// ListTools returns the tools the server currently exposes.
	ListTools(ctx context.Context) ([]ToolDefinition, error)

	// CallTool invokes a tool by name.
	CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error)

	// Cleanup releases the channel and stops the process.
	Cleanup() error
}

// ClientConfig is everything needed to build a ToolClient for one server.
type ClientConfig struct {
	// ServerID is the unique identifier for this server
	ServerID string

	// Command is the executable to run
	Command string

	// Args are the command-line arguments
	Args []string

	// Env are environment variables in KEY=VALUE form
	Env []string

	// Timeout is the default timeout for tool calls (defaults to 30s)
	Timeout time.Duration
}

// ClientFactory builds unconnected tool clients.
type ClientFactory interface {
	NewClient(cfg ClientConfig) (ToolClient, error)
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(cfg ClientConfig) (ToolClient, error)

// NewClient calls f.
func (f ClientFactoryFunc) NewClient(cfg ClientConfig) (ToolClient, error) {
	return f(cfg)
}

// StdioFactory builds clients that spawn stdio MCP servers.
var StdioFactory ClientFactory = ClientFactoryFunc(func(cfg ClientConfig) (ToolClient, error) {
	return NewStdioClient(cfg)
})
