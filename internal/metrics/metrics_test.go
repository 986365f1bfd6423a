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

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/orchestrator"
)

type fakeSource struct {
	metrics []orchestrator.ServerMetrics
}

func (f *fakeSource) GetAllMetrics() []orchestrator.ServerMetrics { return f.metrics }

func (f *fakeSource) Summary() orchestrator.Summary {
	s := orchestrator.Summary{ByState: make(map[orchestrator.State]int)}
	for _, m := range f.metrics {
		s.Total++
		s.ByState[m.State]++
		if m.State == orchestrator.StateRunning {
			s.Active++
		}
	}
	return s
}

func testSource() *fakeSource {
	return &fakeSource{metrics: []orchestrator.ServerMetrics{
		{
			ServerID:     "echo",
			State:        orchestrator.StateRunning,
			Uptime:       90 * time.Second,
			RestartCount: 2,
			ErrorCount:   3,
			ToolCount:    4,
			SuccessRate:  0.75,
			Invocations:  8,
		},
		{
			ServerID:    "idle",
			State:       orchestrator.StatePaused,
			SuccessRate: 1,
		},
	}}
}

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(testSource())))

	expected := `
# HELP stagehand_server_restarts_total Automatic restarts performed by the health monitor.
# TYPE stagehand_server_restarts_total counter
stagehand_server_restarts_total{server_id="echo"} 2
stagehand_server_restarts_total{server_id="idle"} 0
# HELP stagehand_server_uptime_seconds Seconds since the server last entered the running state.
# TYPE stagehand_server_uptime_seconds gauge
stagehand_server_uptime_seconds{server_id="echo"} 90
stagehand_server_uptime_seconds{server_id="idle"} 0
# HELP stagehand_servers_active Servers that are running, starting or restarting.
# TYPE stagehand_servers_active gauge
stagehand_servers_active 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"stagehand_server_restarts_total",
		"stagehand_server_uptime_seconds",
		"stagehand_servers_active",
	)
	require.NoError(t, err)

	// One state series per declared state for each server.
	n, err := testutil.GatherAndCount(reg, "stagehand_server_state")
	require.NoError(t, err)
	assert.Equal(t, 2*len(orchestrator.AllStates()), n)
}

func TestCollector_Lint(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewCollector(testSource()))
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestEventCounter(t *testing.T) {
	bus := events.NewBus(events.BusConfig{Logger: log.Discard()})
	sub := busSubscriber{bus}

	reg, err := NewRegistry(nil, testSource(), sub)
	require.NoError(t, err)

	bus.Publish(events.Event{Type: events.EventStarted, ServerID: "echo"})
	bus.Publish(events.Event{Type: events.EventStarted, ServerID: "idle"})
	bus.Publish(events.Event{Type: events.EventError, ServerID: "echo"})

	assert.Equal(t, 2.0, testutil.ToFloat64(reg.events.total.WithLabelValues("started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.events.total.WithLabelValues("error")))

	reg.Close()
	bus.Publish(events.Event{Type: events.EventStarted, ServerID: "echo"})
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.events.total.WithLabelValues("started")), "no counting after close")
}

func TestRegistry_Handler(t *testing.T) {
	reg, err := NewRegistry(nil, testSource(), nil)
	require.NoError(t, err)

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `stagehand_server_success_rate{server_id="echo"} 0.75`)
	assert.Contains(t, string(body), "go_goroutines")
}

type busSubscriber struct{ bus *events.Bus }

func (b busSubscriber) OnAny(h events.Handler) func() { return b.bus.SubscribeAll(h) }
