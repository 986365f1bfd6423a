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
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/mcp"
)

// Options contains optional configuration for the Manager.
// NewOptions should be used to create instances of Options.
type Options struct {
	// Logger is used for structured logging.
	Logger *slog.Logger

	// Store receives status and registry writes. Nil disables persistence.
	Store Store

	// Bus receives lifecycle events. A private bus is created when nil.
	Bus *events.Bus

	// ClientFactory builds a tool client per start.
	ClientFactory mcp.ClientFactory

	// HealthInterval is how often the monitor sweeps running servers.
	HealthInterval time.Duration

	// HealthConcurrency bounds how many servers are probed at once.
	HealthConcurrency int

	// ProbeTimeout bounds each health probe.
	ProbeTimeout time.Duration

	// InitTimeout bounds client creation, initialization and the first tool listing.
	InitTimeout time.Duration

	// ShutdownTimeout bounds how long Close waits for servers to stop.
	ShutdownTimeout time.Duration

	// IdleTimeout pauses servers with no tool invocations for this long. Zero disables it.
	IdleTimeout time.Duration

	// MaxRestarts caps consecutive health-triggered restarts.
	MaxRestarts int

	// BackoffBase is the delay before the first restart.
	BackoffBase time.Duration

	// BackoffMax caps the restart delay.
	BackoffMax time.Duration

	// SuccessWindow is how many recent tool calls feed the success rate.
	SuccessWindow int

	// ValidateArguments checks tool arguments against the tool's input schema.
	ValidateArguments bool

	// PersistQueueSize bounds pending persistence writes.
	PersistQueueSize int

	// now overrides the clock in tests.
	now func() time.Time
}

// Option defines a functional option for configuring Options.
// Options are applied in order, with later options overriding earlier ones.
type Option func(*Options) error

// NewOptions creates Options with optional configurations applied.
func NewOptions(opts ...Option) (Options, error) {
	options := defaultOptions()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return Options{}, err
		}
	}

	if options.BackoffMax < options.BackoffBase {
		return Options{}, fmt.Errorf("backoff max (%v) must not be less than backoff base (%v)",
			options.BackoffMax, options.BackoffBase)
	}

	return options, nil
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		o.Logger = logger
		return nil
	}
}

// WithStore sets the persistence adapter.
func WithStore(s Store) Option {
	return func(o *Options) error {
		o.Store = s
		return nil
	}
}

// WithBus shares an event bus with other components.
func WithBus(bus *events.Bus) Option {
	return func(o *Options) error {
		o.Bus = bus
		return nil
	}
}

// WithClientFactory sets how tool clients are built.
func WithClientFactory(f mcp.ClientFactory) Option {
	return func(o *Options) error {
		if f == nil {
			return fmt.Errorf("client factory cannot be nil")
		}
		o.ClientFactory = f
		return nil
	}
}

// WithHealthInterval configures how often running servers are probed.
func WithHealthInterval(interval time.Duration) Option {
	return func(o *Options) error {
		if interval <= 0 {
			return fmt.Errorf("health interval must be positive, got %v", interval)
		}
		o.HealthInterval = interval
		return nil
	}
}

// WithHealthConcurrency bounds concurrent probes.
func WithHealthConcurrency(n int) Option {
	return func(o *Options) error {
		if n <= 0 {
			return fmt.Errorf("health concurrency must be positive, got %d", n)
		}
		o.HealthConcurrency = n
		return nil
	}
}

// WithProbeTimeout configures the per-probe time limit.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("probe timeout must be positive, got %v", timeout)
		}
		o.ProbeTimeout = timeout
		return nil
	}
}

// WithInitTimeout configures how long a start may take.
func WithInitTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("init timeout must be positive, got %v", timeout)
		}
		o.InitTimeout = timeout
		return nil
	}
}

// WithShutdownTimeout configures how long Close waits.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("shutdown timeout must be positive, got %v", timeout)
		}
		o.ShutdownTimeout = timeout
		return nil
	}
}

// WithIdleTimeout configures the default idle window. Zero disables idle pausing.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout < 0 {
			return fmt.Errorf("idle timeout must not be negative, got %v", timeout)
		}
		o.IdleTimeout = timeout
		return nil
	}
}

// WithMaxRestarts caps consecutive automatic restarts.
func WithMaxRestarts(n int) Option {
	return func(o *Options) error {
		if n < 0 {
			return fmt.Errorf("max restarts must not be negative, got %d", n)
		}
		o.MaxRestarts = n
		return nil
	}
}

// WithBackoff configures the restart delay bounds.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(o *Options) error {
		if base < 0 || maxDelay < 0 {
			return fmt.Errorf("backoff durations must not be negative")
		}
		o.BackoffBase = base
		o.BackoffMax = maxDelay
		return nil
	}
}

// WithSuccessWindow sets how many recent calls feed the success rate.
func WithSuccessWindow(n int) Option {
	return func(o *Options) error {
		if n <= 0 {
			return fmt.Errorf("success window must be positive, got %d", n)
		}
		o.SuccessWindow = n
		return nil
	}
}

// WithArgumentValidation toggles schema validation of tool arguments.
func WithArgumentValidation(enabled bool) Option {
	return func(o *Options) error {
		o.ValidateArguments = enabled
		return nil
	}
}

// WithPersistQueueSize bounds pending persistence writes.
func WithPersistQueueSize(n int) Option {
	return func(o *Options) error {
		if n <= 0 {
			return fmt.Errorf("persist queue size must be positive, got %d", n)
		}
		o.PersistQueueSize = n
		return nil
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(o *Options) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		o.now = now
		return nil
	}
}

// DefaultHealthInterval is the default interval between health sweeps.
func DefaultHealthInterval() time.Duration {
	return 30 * time.Second
}

// DefaultHealthConcurrency is the default bound on concurrent probes.
func DefaultHealthConcurrency() int {
	return 8
}

// DefaultProbeTimeout is the default per-probe time limit.
func DefaultProbeTimeout() time.Duration {
	return 5 * time.Second
}

// DefaultInitTimeout is the default time to wait for a server to start.
func DefaultInitTimeout() time.Duration {
	return 30 * time.Second
}

// DefaultShutdownTimeout is the default time to wait for servers to stop.
func DefaultShutdownTimeout() time.Duration {
	return 5 * time.Second
}

// DefaultMaxRestarts is the default cap on consecutive restarts.
func DefaultMaxRestarts() int {
	return 3
}

// DefaultBackoffBase is the default delay before the first restart.
func DefaultBackoffBase() time.Duration {
	return time.Second
}

// DefaultBackoffMax is the default cap on restart delay.
func DefaultBackoffMax() time.Duration {
	return 30 * time.Second
}

// DefaultSuccessWindow is the default number of calls in the success rate.
func DefaultSuccessWindow() int {
	return 100
}

// DefaultPersistQueueSize is the default bound on pending writes.
func DefaultPersistQueueSize() int {
	return 256
}

func defaultOptions() Options {
	return Options{
		Logger:            slog.Default(),
		ClientFactory:     mcp.StdioFactory,
		HealthInterval:    DefaultHealthInterval(),
		HealthConcurrency: DefaultHealthConcurrency(),
		ProbeTimeout:      DefaultProbeTimeout(),
		InitTimeout:       DefaultInitTimeout(),
		ShutdownTimeout:   DefaultShutdownTimeout(),
		MaxRestarts:       DefaultMaxRestarts(),
		BackoffBase:       DefaultBackoffBase(),
		BackoffMax:        DefaultBackoffMax(),
		SuccessWindow:     DefaultSuccessWindow(),
		ValidateArguments: true,
		PersistQueueSize:  DefaultPersistQueueSize(),
		now:               time.Now,
	}
}
