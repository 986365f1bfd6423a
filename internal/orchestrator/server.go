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
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/stagehand/internal/mcp"
)

// ServerIDPattern is the allowed shape of a server id.
var ServerIDPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// DefaultCallTimeout is used when a server config has no timeout.
const DefaultCallTimeout = 30 * time.Second

// ServerConfig describes how to launch one server.
type ServerConfig struct {
	// ID is the unique server identifier.
	ID string `json:"id"`

	// Command is the executable to run.
	Command string `json:"command"`

	// Args are the command-line arguments.
	Args []string `json:"args,omitempty"`

	// Env are extra environment variables. ${VAR} references are expanded
	// from the daemon's environment when the server is launched.
	Env map[string]string `json:"env,omitempty"`

	// Timeout bounds each tool call (defaults to 30s).
	Timeout time.Duration `json:"timeout,omitempty"`

	// IdleTimeout overrides the manager's idle window when non-zero.
	IdleTimeout time.Duration `json:"idle_timeout,omitempty"`

	// AutoStart starts the server when the daemon starts.
	AutoStart bool `json:"auto_start,omitempty"`

	// RateLimit caps tool calls per second. Zero means unlimited.
	RateLimit float64 `json:"rate_limit,omitempty"`

	// RateBurst is the token bucket size when RateLimit is set.
	RateBurst int `json:"rate_burst,omitempty"`

	// Watch lists files whose changes trigger a reload.
	Watch []string `json:"watch,omitempty"`
}

// Validate checks the config can be registered.
func (c ServerConfig) Validate() error {
	if c.ID == "" {
		return errInvalidConfig(c.ID, "server id is required")
	}
	if !ServerIDPattern.MatchString(c.ID) {
		return errInvalidConfig(c.ID,
			fmt.Sprintf("server id %q must start with a letter and contain only letters, digits, '-' or '_' (max 64)", c.ID))
	}
	if strings.TrimSpace(c.Command) == "" {
		return errInvalidConfig(c.ID, "command is required")
	}
	if c.Timeout < 0 {
		return errInvalidConfig(c.ID, "timeout must not be negative")
	}
	if c.IdleTimeout < 0 {
		return errInvalidConfig(c.ID, "idle timeout must not be negative")
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return errInvalidConfig(c.ID, "rate limit must not be negative")
	}
	for k := range c.Env {
		if k == "" || strings.ContainsAny(k, "= \t\n") {
			return errInvalidConfig(c.ID, fmt.Sprintf("invalid environment variable name %q", k))
		}
	}
	return nil
}

// clientConfig converts the server config into a tool client config.
func (c ServerConfig) clientConfig() mcp.ClientConfig {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return mcp.ClientConfig{
		ServerID: c.ID,
		Command:  c.Command,
		Args:     append([]string(nil), c.Args...),
		Env:      c.environ(),
		Timeout:  timeout,
	}
}

// environ renders Env as sorted KEY=VALUE pairs with ${VAR} expanded.
func (c ServerConfig) environ() []string {
	if len(c.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+os.ExpandEnv(c.Env[k]))
	}
	return env
}

func (c ServerConfig) clone() ServerConfig {
	out := c
	out.Args = append([]string(nil), c.Args...)
	out.Watch = append([]string(nil), c.Watch...)
	if c.Env != nil {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = v
		}
	}
	return out
}

// Server is a point-in-time snapshot of a server's runtime record.
type Server struct {
	ID           string       `json:"id"`
	State        State        `json:"state"`
	StartTime    time.Time    `json:"start_time,omitempty"`
	StopTime     time.Time    `json:"stop_time,omitempty"`
	RestartCount int          `json:"restart_count"`
	LastError    string       `json:"last_error,omitempty"`
	Config       ServerConfig `json:"config"`
}

// serverRecord is the Manager-owned runtime record of one server.
type serverRecord struct {
	id  string
	cfg ServerConfig

	// opMu serializes lifecycle operations on this server
	opMu sync.Mutex

	// limiter throttles tool calls; nil means unlimited
	limiter *rate.Limiter

	// window tracks recent tool call outcomes
	window *successWindow

	// mu protects the fields below
	mu sync.RWMutex

	state               State
	client              mcp.ToolClient
	startTime           time.Time
	stopTime            time.Time
	restartCount        int
	errorCount          int
	consecutiveFailures int
	lastError           string
	lastActivity        time.Time
	lastInvocation      time.Time

	// opCancel cancels the in-flight start or restart, if any
	opCancel context.CancelFunc

	// removed is set once the server is unregistered
	removed bool
}

func newServerRecord(cfg ServerConfig, window int) *serverRecord {
	rec := &serverRecord{
		id:     cfg.ID,
		cfg:    cfg.clone(),
		window: newSuccessWindow(window),
		state:  StateStopped,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		rec.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return rec
}

func (r *serverRecord) snapshot() Server {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Server{
		ID:           r.id,
		State:        r.state,
		StartTime:    r.startTime,
		StopTime:     r.stopTime,
		RestartCount: r.restartCount,
		LastError:    r.lastError,
		Config:       r.cfg.clone(),
	}
}

func (r *serverRecord) currentState() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *serverRecord) currentClient() mcp.ToolClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

func (r *serverRecord) isRemoved() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.removed
}

// takeClient detaches and returns the current client.
func (r *serverRecord) takeClient() mcp.ToolClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.client
	r.client = nil
	return c
}

func (r *serverRecord) setCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opCancel = cancel
}

// cancelOp aborts the in-flight start or restart, if any.
func (r *serverRecord) cancelOp() {
	r.mu.RLock()
	cancel := r.opCancel
	r.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// touch records a tool invocation.
func (r *serverRecord) touch(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastInvocation = now
	r.lastActivity = now
}

// idleFor reports how long the server has gone without a tool invocation.
func (r *serverRecord) idleFor(now time.Time) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastInvocation.IsZero() {
		return 0
	}
	return now.Sub(r.lastInvocation)
}
