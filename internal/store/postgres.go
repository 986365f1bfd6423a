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
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresSchema is idempotent and applied on every open.
const postgresSchema = `
CREATE SCHEMA IF NOT EXISTS stagehand;

CREATE TABLE IF NOT EXISTS stagehand.server_status (
	server_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	start_time TIMESTAMPTZ,
	stop_time TIMESTAMPTZ,
	restart_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stagehand.tool_registry (
	server_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	input_schema JSONB,
	enabled BOOLEAN NOT NULL DEFAULT true,
	available BOOLEAN NOT NULL DEFAULT true,
	disabled_by TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (server_id, name)
);
`

// Postgres implements Backend on a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings, and bootstraps the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctxPing, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// UpsertServerStatus writes the latest status for a server.
func (p *Postgres) UpsertServerStatus(ctx context.Context, serverID string, status ServerStatus) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO stagehand.server_status (server_id, state, start_time, stop_time, restart_count, last_error, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (server_id) DO UPDATE SET
		  state=EXCLUDED.state,
		  start_time=EXCLUDED.start_time,
		  stop_time=EXCLUDED.stop_time,
		  restart_count=EXCLUDED.restart_count,
		  last_error=EXCLUDED.last_error,
		  updated_at=now()
	`, serverID, status.State, nullTime(status.StartTime), nullTime(status.StopTime),
		status.RestartCount, nullIfEmpty(status.LastError))
	if err != nil {
		return fmt.Errorf("upsert server status: %w", err)
	}
	return nil
}

// UpsertTool writes one registry entry.
func (p *Postgres) UpsertTool(ctx context.Context, serverID string, entry ToolEntry) error {
	if entry.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	var schema any
	if len(entry.InputSchema) > 0 {
		schema = string(entry.InputSchema)
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO stagehand.tool_registry (server_id, name, description, input_schema, enabled, available, disabled_by, updated_at)
		VALUES ($1,$2,$3,$4::jsonb,$5,$6,$7,now())
		ON CONFLICT (server_id, name) DO UPDATE SET
		  description=EXCLUDED.description,
		  input_schema=EXCLUDED.input_schema,
		  enabled=EXCLUDED.enabled,
		  available=EXCLUDED.available,
		  disabled_by=EXCLUDED.disabled_by,
		  updated_at=now()
	`, serverID, entry.Name, entry.Description, schema, entry.Enabled, entry.Available, nullIfEmpty(entry.DisabledBy))
	if err != nil {
		return fmt.Errorf("upsert tool %s: %w", entry.Name, err)
	}
	return nil
}

// GetTools returns every registry entry for a server ordered by name.
func (p *Postgres) GetTools(ctx context.Context, serverID string) ([]ToolEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT server_id, name, description, COALESCE(input_schema::text,''), enabled, available, COALESCE(disabled_by,''), updated_at
		FROM stagehand.tool_registry
		WHERE server_id=$1
		ORDER BY name
	`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ToolEntry{}
	for rows.Next() {
		var (
			e      ToolEntry
			schema string
		)
		if err := rows.Scan(&e.ServerID, &e.Name, &e.Description, &schema, &e.Enabled, &e.Available, &e.DisabledBy, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if schema != "" {
			e.InputSchema = []byte(schema)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEnabledTools returns the enabled registry entries for a server.
func (p *Postgres) GetEnabledTools(ctx context.Context, serverID string) ([]ToolEntry, error) {
	entries, err := p.GetTools(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return filterEnabled(entries), nil
}

// GetServerStatus returns the stored status, or nil when none exists.
func (p *Postgres) GetServerStatus(ctx context.Context, serverID string) (*ServerStatus, error) {
	var (
		status    ServerStatus
		startTime *time.Time
		stopTime  *time.Time
	)
	err := p.pool.QueryRow(ctx, `
		SELECT server_id, state, start_time, stop_time, restart_count, COALESCE(last_error,''), updated_at
		FROM stagehand.server_status
		WHERE server_id=$1
	`, serverID).Scan(&status.ServerID, &status.State, &startTime, &stopTime, &status.RestartCount, &status.LastError, &status.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if startTime != nil {
		status.StartTime = *startTime
	}
	if stopTime != nil {
		status.StopTime = *stopTime
	}
	return &status, nil
}

// DeleteServer removes a server's status row. Tool rows are kept for audit.
func (p *Postgres) DeleteServer(ctx context.Context, serverID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM stagehand.server_status WHERE server_id=$1`, serverID)
	return err
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
