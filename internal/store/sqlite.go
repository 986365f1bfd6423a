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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite implements Backend on a local SQLite database.
//
// Features:
//   - WAL mode for concurrent readers
//   - Idempotent migrations on open
//   - Timestamps stored as RFC 3339 text
type SQLite struct {
	db *sql.DB
}

// SQLiteConfig contains configuration for SQLite storage.
type SQLiteConfig struct {
	// Path is the filesystem path to the database file.
	// Example: /home/user/.config/stagehand/stagehand.db
	Path string
}

// NewSQLite opens (creating if needed) the database and runs migrations.
func NewSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	connStr := cfg.Path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=ON"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS server_status (
			server_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			start_time TEXT,
			stop_time TEXT,
			restart_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tool_registry (
			server_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			input_schema TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			available INTEGER NOT NULL DEFAULT 1,
			disabled_by TEXT,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (server_id, name)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tool_registry_enabled
			ON tool_registry(server_id, enabled)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// UpsertServerStatus writes the latest status for a server.
func (s *SQLite) UpsertServerStatus(ctx context.Context, serverID string, status ServerStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now()
	}

	query := `INSERT INTO server_status (server_id, state, start_time, stop_time, restart_count, last_error, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(server_id) DO UPDATE SET
	            state = excluded.state,
	            start_time = excluded.start_time,
	            stop_time = excluded.stop_time,
	            restart_count = excluded.restart_count,
	            last_error = excluded.last_error,
	            updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		serverID,
		status.State,
		formatTime(status.StartTime),
		formatTime(status.StopTime),
		status.RestartCount,
		nullString(status.LastError),
		status.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert server status: %w", err)
	}
	return nil
}

// UpsertTool writes one registry entry.
func (s *SQLite) UpsertTool(ctx context.Context, serverID string, entry ToolEntry) error {
	if entry.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}

	query := `INSERT INTO tool_registry (server_id, name, description, input_schema, enabled, available, disabled_by, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(server_id, name) DO UPDATE SET
	            description = excluded.description,
	            input_schema = excluded.input_schema,
	            enabled = excluded.enabled,
	            available = excluded.available,
	            disabled_by = excluded.disabled_by,
	            updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		serverID,
		entry.Name,
		entry.Description,
		nullString(string(entry.InputSchema)),
		boolInt(entry.Enabled),
		boolInt(entry.Available),
		nullString(entry.DisabledBy),
		entry.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tool %s: %w", entry.Name, err)
	}
	return nil
}

// GetTools returns every registry entry for a server ordered by name.
func (s *SQLite) GetTools(ctx context.Context, serverID string) ([]ToolEntry, error) {
	return s.queryTools(ctx, `SELECT server_id, name, description, input_schema, enabled, available, disabled_by, updated_at
	          FROM tool_registry WHERE server_id = ? ORDER BY name`, serverID)
}

// GetEnabledTools returns the enabled registry entries for a server.
func (s *SQLite) GetEnabledTools(ctx context.Context, serverID string) ([]ToolEntry, error) {
	return s.queryTools(ctx, `SELECT server_id, name, description, input_schema, enabled, available, disabled_by, updated_at
	          FROM tool_registry WHERE server_id = ? AND enabled = 1 ORDER BY name`, serverID)
}

func (s *SQLite) queryTools(ctx context.Context, query string, serverID string) ([]ToolEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tools: %w", err)
	}
	defer rows.Close()

	entries := []ToolEntry{}
	for rows.Next() {
		var (
			e           ToolEntry
			description sql.NullString
			schema      sql.NullString
			disabledBy  sql.NullString
			enabled     int
			available   int
			updatedAt   string
		)
		if err := rows.Scan(&e.ServerID, &e.Name, &description, &schema, &enabled, &available, &disabledBy, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool: %w", err)
		}
		e.Description = description.String
		if schema.Valid && schema.String != "" {
			e.InputSchema = []byte(schema.String)
		}
		e.Enabled = enabled == 1
		e.Available = available == 1
		e.DisabledBy = disabledBy.String
		e.UpdatedAt = parseTime(updatedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tools: %w", err)
	}
	return entries, nil
}

// GetServerStatus returns the stored status, or nil when none exists.
func (s *SQLite) GetServerStatus(ctx context.Context, serverID string) (*ServerStatus, error) {
	query := `SELECT server_id, state, start_time, stop_time, restart_count, last_error, updated_at
	          FROM server_status WHERE server_id = ?`

	var (
		status    ServerStatus
		startTime sql.NullString
		stopTime  sql.NullString
		lastError sql.NullString
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, query, serverID).Scan(
		&status.ServerID, &status.State, &startTime, &stopTime, &status.RestartCount, &lastError, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server status: %w", err)
	}

	status.StartTime = parseTime(startTime.String)
	status.StopTime = parseTime(stopTime.String)
	status.LastError = lastError.String
	status.UpdatedAt = parseTime(updatedAt)
	return &status, nil
}

// DeleteServer removes a server's status row. Tool rows are kept for audit.
func (s *SQLite) DeleteServer(ctx context.Context, serverID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM server_status WHERE server_id = ?`, serverID); err != nil {
		return fmt.Errorf("failed to delete server status: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
