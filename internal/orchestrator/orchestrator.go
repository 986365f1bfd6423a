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

package orchestrator

import (
	"context"

	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/mcp"
	"github.com/tombee/stagehand/internal/store"
)

// Orchestrator is the surface exposed to the API and other consumers.
type Orchestrator interface {
	// Queries
	GetServerIDs() []string
	GetServer(id string) (Server, error)
	GetAllServers() []Server
	GetTools(id string) ([]store.ToolEntry, error)
	GetEnabledTools(id string) ([]store.ToolEntry, error)
	GetServerMetrics(id string) (ServerMetrics, error)
	GetAllMetrics() []ServerMetrics
	GetServerHistory(id string) ([]events.Event, error)
	ActiveCount() int
	Summary() Summary

	// Commands
	StartServer(ctx context.Context, id string) (Server, error)
	StopServer(ctx context.Context, id string) error
	ReloadServer(ctx context.Context, id string) (Server, error)
	PauseServer(ctx context.Context, id string) error
	ResumeServer(ctx context.Context, id string) (Server, error)
	Unregister(ctx context.Context, id string) error
	EnableTool(ctx context.Context, serverID, tool string) (store.ToolEntry, error)
	DisableTool(ctx context.Context, serverID, tool string) (store.ToolEntry, error)
	ExecuteTool(ctx context.Context, serverID, tool string, args map[string]any) (*mcp.ToolCallResponse, error)

	// Subscriptions
	On(t events.EventType, h events.Handler) func()
	OnAny(h events.Handler) func()
}
