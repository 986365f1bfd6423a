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


/*
Package mcp defines the tool client abstraction the orchestrator drives and
its Model Context Protocol implementation.

A ToolClient is an unconnected handle to one server process. The
orchestrator builds clients through a ClientFactory, calls Initialize to
spawn and handshake, then ListTools and CallTool while the server is
running, and Cleanup to release the process.

# Stdio servers

StdioFactory builds clients that spawn the configured command and speak
MCP over its stdin and stdout using mark3labs/mcp-go:

	client, err := mcp.StdioFactory.NewClient(mcp.ClientConfig{
	    ServerID: "filesystem",
	    Command:  "npx",
	    Args:     []string{"-y", "@modelcontextprotocol/server-filesystem", "/tmp"},
	})
	if err != nil {
	    return err
	}
	if err := client.Initialize(ctx); err != nil {
	    return err
	}
	defer client.Cleanup()

	tools, err := client.ListTools(ctx)

ClientConfig.Env is passed to the child as given; the orchestrator expands
${VAR} references from the daemon's environment before building the client.

# Testing

Package mcptest provides scripted in-memory servers and a Factory for
tests that need deterministic start failures, slow handshakes and tool
list changes.
*/
package mcp
