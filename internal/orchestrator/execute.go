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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/mcp"
)

// ExecuteTool invokes a tool on a server. A PAUSED server is resumed first;
// any other non-running server fails fast with TOOL_EXECUTION_FAILED.
// A response with IsError set is returned without an error but counts as a
// failure in the success rate.
func (m *Manager) ExecuteTool(ctx context.Context, serverID, tool string, args map[string]any) (*mcp.ToolCallResponse, error) {
	rec, err := m.lookup(serverID)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "orchestrator.execute_tool",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("server.id", serverID),
			attribute.String("tool.name", tool),
		),
	)
	defer span.End()

	resp, err := m.executeTool(ctx, rec, tool, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (m *Manager) executeTool(ctx context.Context, rec *serverRecord, tool string, args map[string]any) (*mcp.ToolCallResponse, error) {
	if rec.currentState() == StatePaused {
		if _, err := m.Resume(ctx, rec.id); err != nil {
			return nil, errToolExecution(rec.id, tool, fmt.Errorf("resume paused server: %w", err))
		}
	}

	if state := rec.currentState(); state != StateRunning {
		return nil, errToolExecution(rec.id, tool, fmt.Errorf("server is %s", state))
	}

	entry, ok := m.tools.Get(rec.id, tool)
	if !ok || !entry.Available || !entry.Enabled {
		return nil, errToolNotFound(rec.id, tool)
	}

	if m.opts.ValidateArguments {
		if err := validateArguments(entry.InputSchema, args); err != nil {
			return nil, errToolExecution(rec.id, tool, err)
		}
	}

	if rec.limiter != nil {
		if err := rec.limiter.Wait(ctx); err != nil {
			return nil, errToolExecution(rec.id, tool, fmt.Errorf("rate limit: %w", err))
		}
	}

	client := rec.currentClient()
	if client == nil {
		return nil, errToolExecution(rec.id, tool, fmt.Errorf("server connection closed"))
	}

	callCtx, cancel := context.WithTimeout(ctx, rec.cfg.clientConfig().Timeout)
	defer cancel()

	rec.touch(m.opts.now())
	begin := time.Now()
	resp, err := client.CallTool(callCtx, mcp.ToolCallRequest{Name: tool, Arguments: args})
	elapsed := time.Since(begin)

	failed := err != nil || (resp != nil && resp.IsError)
	rec.window.record(!failed)
	m.callDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("server.id", rec.id),
		attribute.String("tool.name", tool),
		attribute.Bool("error", failed),
	))

	if err != nil {
		m.logger.Warn("tool call failed",
			log.ServerIDKey, rec.id,
			log.ToolKey, tool,
			log.DurationKey, elapsed.Milliseconds(),
			"error", err,
		)
		return nil, errToolExecution(rec.id, tool, err)
	}
	if resp == nil {
		resp = &mcp.ToolCallResponse{}
	}

	m.logger.Debug("tool call completed",
		log.ServerIDKey, rec.id,
		log.ToolKey, tool,
		log.DurationKey, elapsed.Milliseconds(),
		"is_error", resp.IsError,
	)
	return resp, nil
}

// validateArguments checks args against a tool's JSON Schema.
func validateArguments(schema json.RawMessage, args map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return fmt.Errorf("cannot validate arguments: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return fmt.Errorf("invalid arguments: %s", strings.Join(problems, "; "))
}
