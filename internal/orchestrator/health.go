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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/mcp"
)

// Monitor periodically probes running servers, pauses idle ones and
// restarts failing ones.
type Monitor struct {
	m      *Manager
	logger *slog.Logger

	// restarts tracks restarts started by this monitor
	restarts sync.WaitGroup
}

// NewMonitor creates a health monitor for m.
func NewMonitor(m *Manager) *Monitor {
	return &Monitor{
		m:      m,
		logger: log.WithComponent(m.opts.Logger, "health"),
	}
}

// Run sweeps every HealthInterval until ctx is done. Restarts in flight are
// cancelled with ctx and awaited before Run returns.
func (mon *Monitor) Run(ctx context.Context) error {
	interval := mon.m.opts.HealthInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	mon.logger.Info("health monitor started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			mon.Wait()
			mon.logger.Info("health monitor stopped")
			return nil
		case <-ticker.C:
			if err := mon.Check(ctx); err != nil && ctx.Err() == nil {
				mon.logger.Warn("health sweep failed", "error", err)
			}
		}
	}
}

// Check runs one sweep over every RUNNING server and waits for the probes
// to finish. At most HealthConcurrency servers are probed at once. Restarts
// triggered by a failed probe run in the background until done or until ctx
// is cancelled.
func (mon *Monitor) Check(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mon.m.opts.HealthConcurrency)

	for _, rec := range mon.m.records() {
		if rec.currentState() != StateRunning {
			continue
		}
		g.Go(func() error {
			mon.checkServer(ctx, gctx, rec)
			return nil
		})
	}
	return g.Wait()
}

// Wait blocks until every restart started by this monitor has finished.
func (mon *Monitor) Wait() {
	mon.restarts.Wait()
}

// checkServer probes rec under sweepCtx. A restart outlives the sweep, so it
// is bound to ctx instead.
func (mon *Monitor) checkServer(ctx, sweepCtx context.Context, rec *serverRecord) {
	if idle := mon.idleTimeout(rec); idle > 0 && rec.idleFor(mon.m.opts.now()) >= idle {
		mon.pauseIfIdle(rec, idle)
		return
	}

	client := rec.currentClient()
	if client == nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(sweepCtx, mon.m.opts.ProbeTimeout)
	tools, err := client.ListTools(probeCtx)
	cancel()

	if err != nil {
		if sweepCtx.Err() != nil {
			return
		}
		if restart := mon.m.handleProbeFailure(ctx, rec, client, err); restart != nil {
			mon.restarts.Add(1)
			go func() {
				defer mon.restarts.Done()
				restart()
			}()
		}
		return
	}
	mon.m.handleProbeSuccess(rec, client, tools)
}

func (mon *Monitor) idleTimeout(rec *serverRecord) time.Duration {
	if rec.cfg.IdleTimeout > 0 {
		return rec.cfg.IdleTimeout
	}
	return mon.m.opts.IdleTimeout
}

// pauseIfIdle pauses rec when it is still running and still idle once the
// operation lock is held.
func (mon *Monitor) pauseIfIdle(rec *serverRecord, idle time.Duration) {
	rec.opMu.Lock()
	defer rec.opMu.Unlock()

	if rec.isRemoved() || rec.currentState() != StateRunning {
		return
	}
	if rec.idleFor(mon.m.opts.now()) < idle {
		return
	}
	if err := mon.m.pauseLocked(rec, "idle"); err != nil {
		mon.logger.Warn("failed to pause idle server",
			log.ServerIDKey, rec.id,
			"error", err,
		)
	}
}

// handleProbeSuccess clears the failure streak and re-syncs tools when the
// reported set changed.
func (m *Manager) handleProbeSuccess(rec *serverRecord, client mcp.ToolClient, tools []mcp.ToolDefinition) {
	rec.mu.Lock()
	if rec.client != client {
		rec.mu.Unlock()
		return
	}
	rec.consecutiveFailures = 0
	rec.lastActivity = m.opts.now()
	rec.mu.Unlock()

	if !m.tools.Differs(rec.id, tools) {
		return
	}

	rec.opMu.Lock()
	defer rec.opMu.Unlock()
	if rec.currentState() != StateRunning || rec.currentClient() != client {
		return
	}
	m.syncTools(rec, tools)
}

// handleProbeFailure counts a failed probe. Once the consecutive failure
// count exceeds MaxRestarts the server is parked in ERROR and nil is
// returned. Otherwise it returns the restart to run: the restart owns
// rec.opMu, already locked here, and unlocks it when done. It is cancelled
// by Stop, by Close or when ctx is done.
func (m *Manager) handleProbeFailure(ctx context.Context, rec *serverRecord, client mcp.ToolClient, probeErr error) func() {
	rec.opMu.Lock()

	if rec.isRemoved() || rec.currentState() != StateRunning || rec.currentClient() != client {
		rec.opMu.Unlock()
		return nil
	}

	rec.mu.Lock()
	rec.errorCount++
	rec.consecutiveFailures++
	attempt := rec.consecutiveFailures
	rec.lastError = probeErr.Error()
	rec.mu.Unlock()

	m.logger.Warn("health probe failed",
		log.ServerIDKey, rec.id,
		"consecutive_failures", attempt,
		"error", probeErr,
	)

	if attempt > m.opts.MaxRestarts {
		defer rec.opMu.Unlock()

		m.releaseClient(rec)
		if err := m.transition(rec, StateError, probeErr); err != nil {
			m.logger.Error("failed to record server error", log.ServerIDKey, rec.id, "error", err)
			return nil
		}
		m.publish(events.EventError, rec.id, probeErr.Error(), nil)

		warning := fmt.Sprintf("automatic restarts exhausted after %d attempts", m.opts.MaxRestarts)
		m.publish(events.EventServerWarning, rec.id, warning, map[string]int{
			"consecutive_failures": attempt,
			"max_restarts":         m.opts.MaxRestarts,
		})
		m.logger.Error("server left in error state",
			log.ServerIDKey, rec.id,
			"reason", warning,
		)
		return nil
	}

	if err := m.transition(rec, StateRestarting, nil); err != nil {
		rec.opMu.Unlock()
		m.logger.Error("failed to begin restart", log.ServerIDKey, rec.id, "error", err)
		return nil
	}
	m.releaseClient(rec)

	opCtx, cancel := context.WithCancel(m.ctx)
	stopAfter := context.AfterFunc(ctx, cancel)
	rec.setCancel(cancel)

	return func() {
		defer rec.opMu.Unlock()
		defer func() {
			stopAfter()
			rec.setCancel(nil)
			cancel()
		}()
		m.restartLocked(opCtx, rec, attempt)
	}
}

// restartLocked takes a RESTARTING server to RUNNING or ERROR after its
// backoff. The caller holds rec.opMu; cancelling ctx aborts the restart.
func (m *Manager) restartLocked(ctx context.Context, rec *serverRecord, attempt int) {
	ctx, span := tracer.Start(ctx, "orchestrator.restart",
		trace.WithAttributes(
			attribute.String("server.id", rec.id),
			attribute.Int("attempt", attempt),
		),
	)
	defer span.End()

	delay := Backoff(attempt, m.opts.BackoffBase, m.opts.BackoffMax)
	m.logger.Info("restarting server",
		log.ServerIDKey, rec.id,
		"attempt", attempt,
		"backoff", delay,
	)
	if err := sleepContext(ctx, delay); err != nil {
		span.RecordError(err)
		m.abort(rec, fmt.Errorf("restart aborted: %w", err))
		return
	}

	initCtx, cancelInit := context.WithTimeout(ctx, m.opts.InitTimeout)
	client, tools, err := m.connect(initCtx, rec)
	cancelInit()

	if err != nil && ctx.Err() != nil {
		span.RecordError(err)
		m.abort(rec, fmt.Errorf("restart aborted: %w", err))
		return
	}

	rec.mu.Lock()
	rec.restartCount++
	rec.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		m.fail(rec, fmt.Errorf("restart attempt %d: %w", attempt, err))
		return
	}

	rec.mu.Lock()
	rec.client = client
	rec.mu.Unlock()

	m.syncTools(rec, tools)

	if err := m.transition(rec, StateRunning, nil); err != nil {
		m.releaseClient(rec)
		return
	}
	m.publish(events.EventRestarted, rec.id, "", map[string]int{"attempt": attempt})

	m.logger.Info("server restarted",
		log.ServerIDKey, rec.id,
		"attempt", attempt,
		"restart_count", rec.snapshot().RestartCount,
	)
}
