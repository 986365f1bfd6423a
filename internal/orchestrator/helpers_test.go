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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/mcp"
	"github.com/tombee/stagehand/internal/mcp/mcptest"
	"github.com/tombee/stagehand/internal/store"
)

type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// harness bundles a Manager with its scripted dependencies.
type harness struct {
	m       *Manager
	factory *mcptest.Factory
	store   *store.Memory
	clock   *fakeClock
	events  *recorder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		factory: mcptest.NewFactory(),
		store:   store.NewMemory(),
		clock:   newFakeClock(),
	}

	base := []Option{
		WithLogger(log.Discard()),
		WithClientFactory(h.factory),
		WithStore(h.store),
		WithClock(h.clock.Now),
		WithBackoff(0, 0),
		WithInitTimeout(5 * time.Second),
		WithProbeTimeout(time.Second),
	}
	m, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close(context.Background()) })

	h.m = m
	h.events = newRecorder(m)
	return h
}

// register registers a server reporting the given tools.
func (h *harness) register(t *testing.T, id string, tools ...string) *mcptest.MockServer {
	t.Helper()

	srv := h.factory.Server(id)
	defs := make([]mcp.ToolDefinition, 0, len(tools))
	for _, name := range tools {
		defs = append(defs, mcptest.Tool(name, name+" tool"))
	}
	srv.SetTools(defs...)

	require.NoError(t, h.m.Register(context.Background(), ServerConfig{ID: id, Command: "mock-" + id}))
	return srv
}

func (h *harness) state(t *testing.T, id string) State {
	t.Helper()
	srv, err := h.m.GetServer(id)
	require.NoError(t, err)
	return srv.State
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.m.Flush(ctx))
}

// recorder captures every published event.
type recorder struct {
	events []events.Event
	mu     sync.Mutex
}

func newRecorder(m *Manager) *recorder {
	r := &recorder{}
	m.OnAny(func(e events.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
	return r
}

// types returns the lifecycle event types for a server, skipping stateChanged.
func (r *recorder) types(serverID string) []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []events.EventType
	for _, e := range r.events {
		if e.ServerID == serverID && e.Type != events.EventStateChanged {
			out = append(out, e.Type)
		}
	}
	return out
}

// states returns the sequence of states a server moved into.
func (r *recorder) states(serverID string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []State
	for _, e := range r.events {
		if e.ServerID != serverID || e.Type != events.EventStateChanged {
			continue
		}
		out = append(out, State(e.Payload.(events.StateChange).To))
	}
	return out
}

func (r *recorder) transitions() []events.StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []events.StateChange
	for _, e := range r.events {
		if e.Type == events.EventStateChanged {
			out = append(out, e.Payload.(events.StateChange))
		}
	}
	return out
}

func (r *recorder) count(serverID string, t events.EventType) int {
	n := 0
	for _, et := range r.types(serverID) {
		if et == t {
			n++
		}
	}
	return n
}

func (r *recorder) last(serverID string, t events.EventType) (events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.events) - 1; i >= 0; i-- {
		if e := r.events[i]; e.ServerID == serverID && e.Type == t {
			return e, true
		}
	}
	return events.Event{}, false
}

// sweep runs one health check and waits for the restarts it started.
func sweep(t *testing.T, mon *Monitor) {
	t.Helper()
	require.NoError(t, mon.Check(context.Background()))
	mon.Wait()
}

// waitRestarts waits for the monitor's background restarts to finish.
func waitRestarts(t *testing.T, mon *Monitor) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		mon.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("restart did not finish")
	}
}
