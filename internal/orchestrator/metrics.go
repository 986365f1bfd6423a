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
	"sync"
	"time"
)

// ServerMetrics are the derived per-server metrics.
type ServerMetrics struct {
	ServerID     string        `json:"server_id"`
	State        State         `json:"state"`
	Uptime       time.Duration `json:"uptime"`
	RestartCount int           `json:"restart_count"`
	ErrorCount   int           `json:"error_count"`
	ToolCount    int           `json:"tool_count"`
	LastActivity time.Time     `json:"last_activity,omitempty"`

	// SuccessRate is the share of successful calls among the last
	// Invocations tool calls. It is 1 when there have been none.
	SuccessRate float64 `json:"success_rate"`
	Invocations int     `json:"invocations"`
}

// Summary aggregates state across every registered server.
type Summary struct {
	Total   int           `json:"total"`
	Active  int           `json:"active"`
	ByState map[State]int `json:"by_state"`
}

// successWindow is a fixed-size ring of recent call outcomes.
type successWindow struct {
	outcomes  []bool
	next      int
	count     int
	successes int
	mu        sync.Mutex
}

func newSuccessWindow(size int) *successWindow {
	if size <= 0 {
		size = DefaultSuccessWindow()
	}
	return &successWindow{outcomes: make([]bool, size)}
}

func (w *successWindow) record(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count == len(w.outcomes) {
		if w.outcomes[w.next] {
			w.successes--
		}
	} else {
		w.count++
	}
	w.outcomes[w.next] = ok
	if ok {
		w.successes++
	}
	w.next = (w.next + 1) % len(w.outcomes)
}

// rate returns the success rate and the number of outcomes it covers.
func (w *successWindow) rate() (float64, int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count == 0 {
		return 1, 0
	}
	return float64(w.successes) / float64(w.count), w.count
}

// metrics derives ServerMetrics for one record.
func (r *serverRecord) metrics(now time.Time, toolCount int) ServerMetrics {
	successRate, invocations := r.window.rate()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var uptime time.Duration
	if r.state == StateRunning && !r.startTime.IsZero() {
		uptime = now.Sub(r.startTime)
	}
	return ServerMetrics{
		ServerID:     r.id,
		State:        r.state,
		Uptime:       uptime,
		RestartCount: r.restartCount,
		ErrorCount:   r.errorCount,
		ToolCount:    toolCount,
		LastActivity: r.lastActivity,
		SuccessRate:  successRate,
		Invocations:  invocations,
	}
}
