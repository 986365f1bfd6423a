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

// Package store persists server status and the tool registry.
//
// Three backends share one record shape:
//   - Memory: process-local, used by tests and when persistence is disabled
//   - SQLite: the default single-node store (modernc.org/sqlite, no cgo)
//   - Postgres: for operators who want the registry in a shared database
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DisabledBySync and DisabledByOperator record why a tool is disabled.
const (
	DisabledBySync     = "sync"
	DisabledByOperator = "operator"
)

// ServerStatus is the persisted view of a server's runtime record.
type ServerStatus struct {
	ServerID     string    `json:"server_id"`
	State        string    `json:"state"`
	StartTime    time.Time `json:"start_time,omitempty"`
	StopTime     time.Time `json:"stop_time,omitempty"`
	RestartCount int       `json:"restart_count"`
	LastError    string    `json:"last_error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ToolEntry is one row of the tool registry, keyed by ServerID and Name.
type ToolEntry struct {
	ServerID    string          `json:"server_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`

	// Enabled is the operator-facing switch. Sync never flips it on for a
	// tool the operator disabled.
	Enabled bool `json:"enabled"`

	// Available is false while the server no longer reports the tool.
	Available bool `json:"available"`

	// DisabledBy is DisabledBySync or DisabledByOperator when Enabled is false.
	DisabledBy string `json:"disabled_by,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the composite registry key.
func (e ToolEntry) Key() string {
	return e.ServerID + "/" + e.Name
}

// Config selects and configures a backend.
type Config struct {
	// Driver is memory, sqlite, or postgres
	Driver string

	// Path is the SQLite database file
	Path string

	// DSN is the PostgreSQL connection string
	DSN string
}

// Backend is implemented by every store.
type Backend interface {
	UpsertServerStatus(ctx context.Context, serverID string, status ServerStatus) error
	UpsertTool(ctx context.Context, serverID string, entry ToolEntry) error
	GetEnabledTools(ctx context.Context, serverID string) ([]ToolEntry, error)
	GetTools(ctx context.Context, serverID string) ([]ToolEntry, error)
	GetServerStatus(ctx context.Context, serverID string) (*ServerStatus, error)
	DeleteServer(ctx context.Context, serverID string) error
	Close() error
}

// Open creates the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return NewSQLite(ctx, SQLiteConfig{Path: cfg.Path})
	case DriverPostgres:
		return NewPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func filterEnabled(entries []ToolEntry) []ToolEntry {
	out := make([]ToolEntry, 0, len(entries))
	for _, e := range entries {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}
