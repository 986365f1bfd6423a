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

// Package metrics exposes orchestrator state as Prometheus metrics.
//
// Per-server gauges are read from the orchestrator at scrape time, so they
// never drift from GetAllMetrics. Events are counted as they are published.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/orchestrator"
)

const namespace = "stagehand"

// Source supplies the values reported at scrape time.
type Source interface {
	GetAllMetrics() []orchestrator.ServerMetrics
	Summary() orchestrator.Summary
}

// Subscriber delivers every published event.
type Subscriber interface {
	OnAny(h events.Handler) func()
}

// Collector implements prometheus.Collector over a Source.
type Collector struct {
	src Source

	state       *prometheus.Desc
	uptime      *prometheus.Desc
	restarts    *prometheus.Desc
	errors      *prometheus.Desc
	tools       *prometheus.Desc
	successRate *prometheus.Desc
	invocations *prometheus.Desc
	servers     *prometheus.Desc
	active      *prometheus.Desc
}

// NewCollector creates a collector reading from src.
func NewCollector(src Source) *Collector {
	server := []string{"server_id"}
	return &Collector{
		src: src,
		state: prometheus.NewDesc(namespace+"_server_state",
			"Current lifecycle state of each server (1 for the current state).",
			[]string{"server_id", "state"}, nil),
		uptime: prometheus.NewDesc(namespace+"_server_uptime_seconds",
			"Seconds since the server last entered the running state.",
			server, nil),
		restarts: prometheus.NewDesc(namespace+"_server_restarts_total",
			"Automatic restarts performed by the health monitor.",
			server, nil),
		errors: prometheus.NewDesc(namespace+"_server_errors_total",
			"Failed probes, starts and restarts.",
			server, nil),
		tools: prometheus.NewDesc(namespace+"_server_tools",
			"Enabled tools per server.",
			server, nil),
		successRate: prometheus.NewDesc(namespace+"_server_success_rate",
			"Share of successful tool calls in the recent window.",
			server, nil),
		invocations: prometheus.NewDesc(namespace+"_server_window_invocations",
			"Tool calls covered by the success rate window.",
			server, nil),
		servers: prometheus.NewDesc(namespace+"_servers",
			"Registered servers by state.",
			[]string{"state"}, nil),
		active: prometheus.NewDesc(namespace+"_servers_active",
			"Servers that are running, starting or restarting.",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.uptime
	ch <- c.restarts
	ch <- c.errors
	ch <- c.tools
	ch <- c.successRate
	ch <- c.invocations
	ch <- c.servers
	ch <- c.active
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.src.GetAllMetrics() {
		id := m.ServerID
		for _, s := range orchestrator.AllStates() {
			v := 0.0
			if s == m.State {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, id, string(s))
		}
		ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, m.Uptime.Seconds(), id)
		ch <- prometheus.MustNewConstMetric(c.restarts, prometheus.CounterValue, float64(m.RestartCount), id)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(m.ErrorCount), id)
		ch <- prometheus.MustNewConstMetric(c.tools, prometheus.GaugeValue, float64(m.ToolCount), id)
		ch <- prometheus.MustNewConstMetric(c.successRate, prometheus.GaugeValue, m.SuccessRate, id)
		ch <- prometheus.MustNewConstMetric(c.invocations, prometheus.GaugeValue, float64(m.Invocations), id)
	}

	summary := c.src.Summary()
	for _, s := range orchestrator.AllStates() {
		ch <- prometheus.MustNewConstMetric(c.servers, prometheus.GaugeValue, float64(summary.ByState[s]), string(s))
	}
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(summary.Active))
}

// EventCounter counts published events by type.
type EventCounter struct {
	total *prometheus.CounterVec
}

// NewEventCounter creates an unregistered event counter.
func NewEventCounter() *EventCounter {
	return &EventCounter{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total events published by type",
			},
			[]string{"type"},
		),
	}
}

// Observe counts one event. It is an events.Handler.
func (e *EventCounter) Observe(ev events.Event) {
	e.total.WithLabelValues(string(ev.Type)).Inc()
}

// Registry bundles the collectors the daemon exposes.
type Registry struct {
	*prometheus.Registry
	events      *EventCounter
	unsubscribe func()
}

// NewRegistry registers process and Go runtime collectors, the
// orchestrator collector, and an event counter subscribed to sub on reg.
// A nil reg gets a fresh registry.
func NewRegistry(reg *prometheus.Registry, src Source, sub Subscriber) (*Registry, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	counter := NewEventCounter()

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		NewCollector(src),
		counter.total,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	r := &Registry{Registry: reg, events: counter}
	if sub != nil {
		r.unsubscribe = sub.OnAny(counter.Observe)
	}
	return r, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{Registry: r.Registry})
}

// Close stops counting events.
func (r *Registry) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}
