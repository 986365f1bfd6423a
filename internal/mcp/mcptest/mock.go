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

// Package mcptest provides in-memory tool clients for tests.
package mcptest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/stagehand/internal/mcp"
)

// ErrProbe is a convenient error for scripted failures.
var ErrProbe = errors.New("mock: probe failed")

// MockClient implements mcp.ToolClient for testing.
type MockClient struct {
	serverID string
	server   *MockServer

	initialized bool
	cleaned     bool
	mu          sync.Mutex
}

// Initialize honours the server's init delay and init error.
func (c *MockClient) Initialize(ctx context.Context) error {
	delay, err := c.server.initBehaviour()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	return nil
}

// ListTools returns the server's current tools, or the next scripted
// list failure.
func (c *MockClient) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.ready() {
		return nil, mcp.ErrNotInitialized
	}
	return c.server.listTools(ctx, c.serverID)
}

// CallTool runs the server's call handler or echoes the request.
func (c *MockClient) CallTool(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error) {
	if !c.ready() {
		return nil, fmt.Errorf("server connection closed")
	}
	c.server.calls.Add(1)

	c.server.mu.Lock()
	handler := c.server.callFunc
	c.server.mu.Unlock()

	if handler != nil {
		return handler(ctx, req)
	}
	return &mcp.ToolCallResponse{
		Content: []mcp.ContentItem{{Type: "text", Text: fmt.Sprintf("Mock response for %s", req.Name)}},
	}, nil
}

// Cleanup marks the client closed.
func (c *MockClient) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cleaned {
		c.cleaned = true
		c.server.cleanups.Add(1)
	}
	return nil
}

func (c *MockClient) ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized && !c.cleaned
}

// Closed reports whether Cleanup was called.
func (c *MockClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleaned
}

// MockServer scripts the behaviour of every client created for one server id.
type MockServer struct {
	tools     []mcp.ToolDefinition
	initErr   error
	initDelay time.Duration
	listErrs  []error
	listBlock bool
	callFunc  func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error)
	clients   []*MockClient
	created   atomic.Int32
	cleanups  atomic.Int32
	calls     atomic.Int32
	mu        sync.Mutex
}

func (s *MockServer) initBehaviour() (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initDelay, s.initErr
}

func (s *MockServer) listTools(ctx context.Context, serverID string) ([]mcp.ToolDefinition, error) {
	s.mu.Lock()
	block := s.listBlock
	if len(s.listErrs) > 0 {
		err := s.listErrs[0]
		s.listErrs = s.listErrs[1:]
		s.mu.Unlock()
		return nil, err
	}
	tools := make([]mcp.ToolDefinition, len(s.tools))
	copy(tools, s.tools)
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	for i := range tools {
		tools[i].ServerID = serverID
	}
	return tools, nil
}

// SetTools replaces the tools reported by the server.
func (s *MockServer) SetTools(tools ...mcp.ToolDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = tools
}

// SetInitError makes every subsequent Initialize fail with err (nil clears it).
func (s *MockServer) SetInitError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initErr = err
}

// SetInitDelay delays every subsequent Initialize.
func (s *MockServer) SetInitDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initDelay = d
}

// FailListTools makes the next n ListTools calls fail with err.
func (s *MockServer) FailListTools(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.listErrs = append(s.listErrs, err)
	}
}

// BlockListTools makes ListTools hang until its context is done.
func (s *MockServer) BlockListTools(block bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listBlock = block
}

// SetCallHandler sets a custom call handler.
func (s *MockServer) SetCallHandler(f func(ctx context.Context, req mcp.ToolCallRequest) (*mcp.ToolCallResponse, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callFunc = f
}

// Created returns how many clients were built for this server.
func (s *MockServer) Created() int { return int(s.created.Load()) }

// Cleanups returns how many clients were cleaned up.
func (s *MockServer) Cleanups() int { return int(s.cleanups.Load()) }

// Calls returns how many tool calls reached the server.
func (s *MockServer) Calls() int { return int(s.calls.Load()) }

// LastClient returns the most recently created client.
func (s *MockServer) LastClient() *MockClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return nil
	}
	return s.clients[len(s.clients)-1]
}

// Factory implements mcp.ClientFactory over a set of scripted servers.
// Unknown server ids get a server with no tools.
type Factory struct {
	servers map[string]*MockServer
	mu      sync.Mutex
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{servers: make(map[string]*MockServer)}
}

// Server returns (creating if needed) the scripted server for id.
func (f *Factory) Server(id string) *MockServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.servers[id]
	if !ok {
		s = &MockServer{}
		f.servers[id] = s
	}
	return s
}

// NewClient implements mcp.ClientFactory.
func (f *Factory) NewClient(cfg mcp.ClientConfig) (mcp.ToolClient, error) {
	if cfg.ServerID == "" {
		return nil, fmt.Errorf("server id is required")
	}
	s := f.Server(cfg.ServerID)
	c := &MockClient{serverID: cfg.ServerID, server: s}

	s.mu.Lock()
	s.clients = append(s.clients, c)
	s.mu.Unlock()
	s.created.Add(1)
	return c, nil
}

// Tool is a shorthand for building a tool definition.
func Tool(name, description string) mcp.ToolDefinition {
	return mcp.ToolDefinition{
		Name:        name,
		Description: description,
		InputSchema: []byte(`{"type":"object"}`),
	}
}
