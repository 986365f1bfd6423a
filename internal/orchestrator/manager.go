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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/mcp"
	"github.com/tombee/stagehand/internal/store"
)

const instrumentationName = "github.com/tombee/stagehand/internal/orchestrator"

var tracer = otel.Tracer(instrumentationName)

// Manager owns every server record and runs their lifecycle.
type Manager struct {
	opts    Options
	logger  *slog.Logger
	bus     *events.Bus
	tools   *ToolRegistry
	persist *persister

	// starts coalesces concurrent starts of one server
	starts singleflight.Group

	callDuration metric.Float64Histogram

	// servers maps id -> record; mu is held only for lookups
	servers map[string]*serverRecord
	mu      sync.RWMutex

	// ctx bounds background work (starts, restarts); cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

var _ Orchestrator = (*Manager)(nil)

// New creates a Manager.
func New(opts ...Option) (*Manager, error) {
	options, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent(options.Logger, "orchestrator")

	bus := options.Bus
	if bus == nil {
		bus = events.NewBus(events.BusConfig{Logger: logger, Now: options.now})
	}

	callDuration, err := otel.Meter(instrumentationName).Float64Histogram(
		"stagehand_tool_call_duration_seconds",
		metric.WithDescription("Tool call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool call histogram: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		opts:         options,
		logger:       logger,
		bus:          bus,
		tools:        NewToolRegistry(options.now),
		persist:      newPersister(options.Store, logger, options.PersistQueueSize),
		callDuration: callDuration,
		servers:      make(map[string]*serverRecord),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Bus returns the event bus the Manager publishes to.
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// Register puts a server config on file and creates its STOPPED record.
// Previously persisted tool entries are loaded so operator choices survive
// restarts of the daemon.
func (m *Manager) Register(ctx context.Context, cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if m.ctx.Err() != nil {
		return fmt.Errorf("orchestrator is closed")
	}

	m.mu.Lock()
	if _, exists := m.servers[cfg.ID]; exists {
		m.mu.Unlock()
		return errServerAlreadyExists(cfg.ID)
	}
	rec := newServerRecord(cfg, m.opts.SuccessWindow)
	m.servers[cfg.ID] = rec
	m.mu.Unlock()

	if m.opts.Store != nil {
		entries, err := m.opts.Store.GetTools(ctx, cfg.ID)
		if err != nil {
			m.logger.Warn("failed to load persisted tools",
				log.ServerIDKey, cfg.ID,
				"error", err,
			)
		} else {
			m.tools.Seed(cfg.ID, entries)
		}
	}

	m.persistStatus(rec.id, rec.snapshot())

	m.logger.Info("server registered",
		log.ServerIDKey, cfg.ID,
		"command", cfg.Command,
	)
	return nil
}

// Unregister stops the server if needed and deletes its record, history
// and in-memory tool registry. Persisted tool rows are kept.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	rec, err := m.lookup(id)
	if err != nil {
		return err
	}

	rec.cancelOp()
	rec.opMu.Lock()
	defer rec.opMu.Unlock()

	if err := m.stopLocked(ctx, rec); err != nil {
		return err
	}

	rec.mu.Lock()
	rec.removed = true
	rec.mu.Unlock()

	m.mu.Lock()
	delete(m.servers, id)
	m.mu.Unlock()

	m.bus.Forget(id)
	m.tools.Forget(id)
	m.persist.enqueue("delete_server", id, func(ctx context.Context, s Store) error {
		return s.DeleteServer(ctx, id)
	})

	m.logger.Info("server unregistered", log.ServerIDKey, id)
	return nil
}

// Start brings a server to RUNNING. A running server is returned as is;
// a start already in flight is joined.
func (m *Manager) Start(ctx context.Context, id string) (Server, error) {
	return m.start(ctx, id, false)
}

// StartServer is an alias of Start.
func (m *Manager) StartServer(ctx context.Context, id string) (Server, error) {
	return m.Start(ctx, id)
}

// Resume restarts a PAUSED server with a fresh client.
func (m *Manager) Resume(ctx context.Context, id string) (Server, error) {
	return m.start(ctx, id, true)
}

// ResumeServer is an alias of Resume.
func (m *Manager) ResumeServer(ctx context.Context, id string) (Server, error) {
	return m.Resume(ctx, id)
}

func (m *Manager) start(ctx context.Context, id string, resumeOnly bool) (Server, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return Server{}, err
	}

	ctx, span := tracer.Start(ctx, "orchestrator.start",
		trace.WithAttributes(
			attribute.String("server.id", id),
			attribute.Bool("resume", resumeOnly),
		),
	)
	defer span.End()

	ch := m.starts.DoChan(id, func() (any, error) {
		rec.opMu.Lock()
		defer rec.opMu.Unlock()

		if resumeOnly {
			if state := rec.currentState(); state != StatePaused && state != StateRunning {
				return Server{}, errInvalidTransition(id, state, StateStarting)
			}
		}
		return m.startLocked(rec)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return Server{}, res.Err
		}
		return res.Val.(Server), nil
	case <-ctx.Done():
		err := errStartFailed(id, ctx.Err())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Server{}, err
	}
}

// startLocked runs STOPPED|PAUSED|ERROR -> STARTING -> RUNNING|ERROR.
// The caller holds rec.opMu.
func (m *Manager) startLocked(rec *serverRecord) (Server, error) {
	if rec.isRemoved() {
		return Server{}, errServerNotFound(rec.id)
	}

	from := rec.currentState()
	switch from {
	case StateRunning:
		return rec.snapshot(), nil
	case StateStopped, StatePaused, StateError:
	default:
		return Server{}, errInvalidTransition(rec.id, from, StateStarting)
	}

	opCtx, cancel := context.WithTimeout(m.ctx, m.opts.InitTimeout)
	rec.setCancel(cancel)
	defer func() {
		rec.setCancel(nil)
		cancel()
	}()

	if err := m.transition(rec, StateStarting, nil); err != nil {
		return Server{}, err
	}

	rec.mu.Lock()
	rec.consecutiveFailures = 0
	rec.mu.Unlock()

	begin := time.Now()
	client, tools, err := m.connect(opCtx, rec)
	if err != nil {
		if errors.Is(opCtx.Err(), context.Canceled) {
			m.abort(rec, err)
		} else {
			m.fail(rec, err)
		}
		return Server{}, errStartFailed(rec.id, err)
	}

	rec.mu.Lock()
	rec.client = client
	rec.mu.Unlock()

	m.syncTools(rec, tools)

	if err := m.transition(rec, StateRunning, nil); err != nil {
		m.releaseClient(rec)
		return Server{}, err
	}

	eventType := events.EventStarted
	if from == StatePaused {
		eventType = events.EventResumed
	}
	m.publish(eventType, rec.id, "", nil)

	m.logger.Info("server started",
		log.ServerIDKey, rec.id,
		"tools", len(tools),
		"resumed", from == StatePaused,
		log.DurationKey, time.Since(begin).Milliseconds(),
	)
	return rec.snapshot(), nil
}

// connect creates and initializes a client and lists its tools. On error
// the client is cleaned up.
func (m *Manager) connect(ctx context.Context, rec *serverRecord) (mcp.ToolClient, []mcp.ToolDefinition, error) {
	client, err := m.opts.ClientFactory.NewClient(rec.cfg.clientConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("create client: %w", err)
	}

	if err := client.Initialize(ctx); err != nil {
		m.cleanup(rec.id, client)
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		m.cleanup(rec.id, client)
		return nil, nil, fmt.Errorf("list tools: %w", err)
	}
	return client, tools, nil
}

// fail moves a server to ERROR and announces it.
func (m *Manager) fail(rec *serverRecord, cause error) {
	m.releaseClient(rec)

	rec.mu.Lock()
	rec.errorCount++
	rec.mu.Unlock()

	if err := m.transition(rec, StateError, cause); err != nil {
		m.logger.Error("failed to record server error",
			log.ServerIDKey, rec.id,
			"error", err,
		)
		return
	}
	m.publish(events.EventError, rec.id, cause.Error(), nil)

	m.logger.Warn("server failed",
		log.ServerIDKey, rec.id,
		"error", cause,
	)
}

// abort moves a server whose start or restart was cancelled to ERROR so it
// can be stopped. It is not counted as a failure.
func (m *Manager) abort(rec *serverRecord, cause error) {
	m.releaseClient(rec)

	if err := m.transition(rec, StateError, nil); err != nil {
		m.logger.Error("failed to record aborted operation",
			log.ServerIDKey, rec.id,
			"error", err,
		)
		return
	}
	m.logger.Info("server operation cancelled",
		log.ServerIDKey, rec.id,
		"reason", cause,
	)
}

// Stop moves a server to STOPPED, cancelling any start or restart in flight.
func (m *Manager) Stop(ctx context.Context, id string) error {
	rec, err := m.lookup(id)
	if err != nil {
		return err
	}

	_, span := tracer.Start(ctx, "orchestrator.stop",
		trace.WithAttributes(attribute.String("server.id", id)),
	)
	defer span.End()

	rec.cancelOp()
	rec.opMu.Lock()
	defer rec.opMu.Unlock()

	if err := m.stopLocked(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// StopServer is an alias of Stop.
func (m *Manager) StopServer(ctx context.Context, id string) error {
	return m.Stop(ctx, id)
}

// stopLocked runs RUNNING|PAUSED|ERROR -> STOPPING -> STOPPED. The caller
// holds rec.opMu.
func (m *Manager) stopLocked(_ context.Context, rec *serverRecord) error {
	from := rec.currentState()
	switch from {
	case StateStopped:
		return nil
	case StateRunning, StatePaused, StateError:
	default:
		return errInvalidTransition(rec.id, from, StateStopping)
	}

	if err := m.transition(rec, StateStopping, nil); err != nil {
		return err
	}
	m.releaseClient(rec)
	if err := m.transition(rec, StateStopped, nil); err != nil {
		return err
	}
	m.publish(events.EventStopped, rec.id, "", nil)

	m.logger.Info("server stopped", log.ServerIDKey, rec.id)
	return nil
}

// Reload stops a server and starts it again with its registered config.
func (m *Manager) Reload(ctx context.Context, id string) (Server, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return Server{}, err
	}

	ctx, span := tracer.Start(ctx, "orchestrator.reload",
		trace.WithAttributes(attribute.String("server.id", id)),
	)
	defer span.End()

	rec.cancelOp()
	rec.opMu.Lock()
	defer rec.opMu.Unlock()

	if err := m.stopLocked(ctx, rec); err != nil {
		span.RecordError(err)
		return Server{}, errReloadFailed(id, err)
	}
	srv, err := m.startLocked(rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Server{}, errReloadFailed(id, err)
	}
	return srv, nil
}

// ReloadServer is an alias of Reload.
func (m *Manager) ReloadServer(ctx context.Context, id string) (Server, error) {
	return m.Reload(ctx, id)
}

// Pause releases a RUNNING server's client and keeps its config.
func (m *Manager) Pause(ctx context.Context, id string) error {
	rec, err := m.lookup(id)
	if err != nil {
		return err
	}

	_, span := tracer.Start(ctx, "orchestrator.pause",
		trace.WithAttributes(attribute.String("server.id", id)),
	)
	defer span.End()

	rec.opMu.Lock()
	defer rec.opMu.Unlock()
	return m.pauseLocked(rec, "requested")
}

// PauseServer is an alias of Pause.
func (m *Manager) PauseServer(ctx context.Context, id string) error {
	return m.Pause(ctx, id)
}

// pauseLocked runs RUNNING -> PAUSED. The caller holds rec.opMu.
func (m *Manager) pauseLocked(rec *serverRecord, reason string) error {
	from := rec.currentState()
	if from == StatePaused {
		return nil
	}
	if err := m.transition(rec, StatePaused, nil); err != nil {
		return err
	}
	m.releaseClient(rec)
	m.publish(events.EventPaused, rec.id, "", map[string]string{"reason": reason})

	m.logger.Info("server paused",
		log.ServerIDKey, rec.id,
		"reason", reason,
	)
	return nil
}

// transition moves rec to the next state, publishes stateChanged and
// queues a status write. The caller holds rec.opMu.
func (m *Manager) transition(rec *serverRecord, to State, cause error) error {
	now := m.opts.now()

	rec.mu.Lock()
	from := rec.state
	if _, err := Transition(rec.id, from, to); err != nil {
		rec.mu.Unlock()
		return err
	}
	rec.state = to
	switch to {
	case StateRunning:
		rec.startTime = now
		rec.stopTime = time.Time{}
		rec.lastActivity = now
		rec.lastInvocation = now
		rec.lastError = ""
	case StateStopped:
		rec.stopTime = now
		rec.lastError = ""
	case StateError:
		if cause != nil {
			rec.lastError = cause.Error()
		}
	}
	rec.mu.Unlock()

	m.logger.Debug("server state changed",
		log.ServerIDKey, rec.id,
		"from", string(from),
		log.StateKey, string(to),
	)
	m.bus.Publish(events.Event{
		Type:     events.EventStateChanged,
		ServerID: rec.id,
		Payload:  events.StateChange{From: string(from), To: string(to)},
	})
	m.persistStatus(rec.id, rec.snapshot())
	return nil
}

// releaseClient detaches and cleans up the current client, if any.
func (m *Manager) releaseClient(rec *serverRecord) {
	if client := rec.takeClient(); client != nil {
		m.cleanup(rec.id, client)
	}
}

// cleanup closes a client, giving up after the shutdown timeout.
func (m *Manager) cleanup(id string, client mcp.ToolClient) {
	done := make(chan error, 1)
	go func() {
		done <- client.Cleanup()
	}()

	timer := time.NewTimer(m.opts.ShutdownTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			m.logger.Warn("client cleanup failed",
				log.ServerIDKey, id,
				"error", err,
			)
		}
	case <-timer.C:
		m.logger.Warn("client cleanup timed out",
			log.ServerIDKey, id,
			"timeout", m.opts.ShutdownTimeout,
		)
	}
}

// syncTools reconciles reported tools, queues the writes and announces
// changes. Invalid definitions are skipped and reported individually.
func (m *Manager) syncTools(rec *serverRecord, reported []mcp.ToolDefinition) SyncResult {
	result := m.tools.Sync(rec.id, reported)

	for _, invalid := range result.Invalid {
		err := NewError(CodeToolContextRefreshFailed, rec.id,
			fmt.Sprintf("tool %q could not be registered", invalid.Name)).
			WithTool(invalid.Name).
			WithDetail(invalid.Reason)
		m.logger.Warn("skipping tool definition",
			log.ServerIDKey, rec.id,
			log.ToolKey, invalid.Name,
			"reason", invalid.Reason,
		)
		m.publish(events.EventError, rec.id, err.Error(), map[string]string{
			"code": string(CodeToolContextRefreshFailed),
			"tool": invalid.Name,
		})
	}

	for _, entry := range result.Dirty {
		m.persistTool(rec.id, entry)
	}

	if result.Changed() {
		m.publish(events.EventToolsChanged, rec.id, "", result.Changes)
		m.logger.Debug("tool registry changed",
			log.ServerIDKey, rec.id,
			"added", len(result.Changes.Added),
			"updated", len(result.Changes.Updated),
			"removed", len(result.Changes.Removed),
			"restored", len(result.Changes.Restored),
		)
	}
	return result
}

// EnableTool re-enables a tool for callers.
func (m *Manager) EnableTool(ctx context.Context, serverID, tool string) (store.ToolEntry, error) {
	return m.setToolEnabled(serverID, tool, true)
}

// DisableTool hides a tool from callers. Sync never re-enables it.
func (m *Manager) DisableTool(ctx context.Context, serverID, tool string) (store.ToolEntry, error) {
	return m.setToolEnabled(serverID, tool, false)
}

func (m *Manager) setToolEnabled(serverID, tool string, enabled bool) (store.ToolEntry, error) {
	if _, err := m.lookup(serverID); err != nil {
		return store.ToolEntry{}, err
	}
	entry, err := m.tools.SetEnabled(serverID, tool, enabled)
	if err != nil {
		return store.ToolEntry{}, err
	}
	m.persistTool(serverID, entry)
	m.publish(events.EventToolsChanged, serverID, "", events.ToolsChange{Updated: []string{tool}})

	m.logger.Info("tool toggled",
		log.ServerIDKey, serverID,
		log.ToolKey, tool,
		"enabled", enabled,
	)
	return entry, nil
}

// GetServer returns a snapshot of one server.
func (m *Manager) GetServer(id string) (Server, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return Server{}, err
	}
	return rec.snapshot(), nil
}

// GetServerIDs returns every registered id, sorted.
func (m *Manager) GetServerIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetAllServers returns a snapshot of every server, sorted by id.
func (m *Manager) GetAllServers() []Server {
	recs := m.records()
	out := make([]Server, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.snapshot())
	}
	return out
}

// GetTools returns every registry entry for a server.
func (m *Manager) GetTools(id string) ([]store.ToolEntry, error) {
	if _, err := m.lookup(id); err != nil {
		return nil, err
	}
	return m.tools.List(id), nil
}

// GetEnabledTools returns the tools a caller may invoke on a server.
func (m *Manager) GetEnabledTools(id string) ([]store.ToolEntry, error) {
	if _, err := m.lookup(id); err != nil {
		return nil, err
	}
	return m.tools.Callable(id), nil
}

// GetServerMetrics returns derived metrics for one server.
func (m *Manager) GetServerMetrics(id string) (ServerMetrics, error) {
	rec, err := m.lookup(id)
	if err != nil {
		return ServerMetrics{}, err
	}
	return rec.metrics(m.opts.now(), len(m.tools.Callable(id))), nil
}

// GetAllMetrics returns metrics for every server, sorted by id.
func (m *Manager) GetAllMetrics() []ServerMetrics {
	now := m.opts.now()
	recs := m.records()
	out := make([]ServerMetrics, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.metrics(now, len(m.tools.Callable(rec.id))))
	}
	return out
}

// GetServerHistory returns the server's recent events, oldest first.
func (m *Manager) GetServerHistory(id string) ([]events.Event, error) {
	if _, err := m.lookup(id); err != nil {
		return nil, err
	}
	return m.bus.History(id), nil
}

// ActiveCount returns how many servers are RUNNING, STARTING or RESTARTING.
// PAUSED servers are not counted.
func (m *Manager) ActiveCount() int {
	n := 0
	for _, rec := range m.records() {
		if rec.currentState().active() {
			n++
		}
	}
	return n
}

// Summary counts servers per state.
func (m *Manager) Summary() Summary {
	s := Summary{ByState: make(map[State]int)}
	for _, rec := range m.records() {
		state := rec.currentState()
		s.Total++
		s.ByState[state]++
		if state.active() {
			s.Active++
		}
	}
	return s
}

// On subscribes h to events of type t. Call the returned func to unsubscribe.
func (m *Manager) On(t events.EventType, h events.Handler) func() {
	return m.bus.Subscribe(t, h)
}

// OnAny subscribes h to every event type.
func (m *Manager) OnAny(h events.Handler) func() {
	return m.bus.SubscribeAll(h)
}

// Close stops every server, cancels background work and drains the
// persistence queue. It is safe to call more than once.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		m.cancel()

		shutdownCtx, cancel := context.WithTimeout(ctx, m.opts.ShutdownTimeout)
		defer cancel()

		g, gctx := errgroup.WithContext(shutdownCtx)
		for _, id := range m.GetServerIDs() {
			g.Go(func() error {
				if err := m.Stop(gctx, id); err != nil && !errors.Is(err, ErrServerNotFound) {
					m.logger.Warn("failed to stop server during shutdown",
						log.ServerIDKey, id,
						"error", err,
					)
				}
				return nil
			})
		}
		_ = g.Wait()

		if err := m.persist.close(shutdownCtx); err != nil {
			m.closeErr = fmt.Errorf("persistence queue did not drain: %w", err)
		}
		m.logger.Info("orchestrator closed")
	})
	return m.closeErr
}

// Flush waits for every queued persistence write to be applied.
func (m *Manager) Flush(ctx context.Context) error {
	return m.persist.flush(ctx)
}

func (m *Manager) lookup(id string) (*serverRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.servers[id]
	if !ok {
		return nil, errServerNotFound(id)
	}
	return rec, nil
}

// records returns every record sorted by id.
func (m *Manager) records() []*serverRecord {
	m.mu.RLock()
	recs := make([]*serverRecord, 0, len(m.servers))
	for _, rec := range m.servers {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].id < recs[j].id })
	return recs
}

func (m *Manager) publish(t events.EventType, serverID, errMsg string, payload any) {
	m.bus.Publish(events.Event{
		Type:     t,
		ServerID: serverID,
		Error:    errMsg,
		Payload:  payload,
	})
}

func (m *Manager) persistStatus(id string, srv Server) {
	status := store.ServerStatus{
		ServerID:     id,
		State:        string(srv.State),
		StartTime:    srv.StartTime,
		StopTime:     srv.StopTime,
		RestartCount: srv.RestartCount,
		LastError:    srv.LastError,
		UpdatedAt:    m.opts.now(),
	}
	m.persist.enqueue("server_status", id, func(ctx context.Context, s Store) error {
		return s.UpsertServerStatus(ctx, id, status)
	})
}

func (m *Manager) persistTool(id string, entry store.ToolEntry) {
	m.persist.enqueue("tool", id, func(ctx context.Context, s Store) error {
		return s.UpsertTool(ctx, id, entry)
	})
}
