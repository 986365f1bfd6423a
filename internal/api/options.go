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


package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Options configures the API server. NewOptions should be used to create
// instances of Options.
type Options struct {
	// Logger receives request and lifecycle logs.
	Logger *slog.Logger

	// CORSOrigins enables CORS for the listed origins when non-empty.
	// Use ["*"] to allow all origins.
	CORSOrigins []string

	// ShutdownTimeout bounds graceful shutdown in Run.
	ShutdownTimeout time.Duration

	// MetricsHandler serves /metrics. The route is omitted when nil.
	MetricsHandler http.Handler

	// Version is reported by /healthz.
	Version string

	// StreamBuffer is the per-subscriber event buffer for /v1/events.
	// Events are dropped for a subscriber whose buffer is full.
	StreamBuffer int

	// KeepAlive is the interval between SSE comment frames.
	KeepAlive time.Duration
}

// Option configures Options.
type Option func(*Options) error

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) (Options, error) {
	options := Options{
		Logger:          slog.Default(),
		ShutdownTimeout: DefaultShutdownTimeout(),
		StreamBuffer:    DefaultStreamBuffer(),
		KeepAlive:       DefaultKeepAlive(),
		Version:         "dev",
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return Options{}, err
		}
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

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) Option {
	return func(o *Options) error {
		o.CORSOrigins = append([]string(nil), origins...)
		return nil
	}
}

// WithShutdownTimeout sets the graceful shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("shutdown timeout must be positive, got %v", timeout)
		}
		o.ShutdownTimeout = timeout
		return nil
	}
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *Options) error {
		o.MetricsHandler = h
		return nil
	}
}

// WithVersion sets the version reported by /healthz.
func WithVersion(version string) Option {
	return func(o *Options) error {
		o.Version = version
		return nil
	}
}

// WithStreamBuffer sets the per-subscriber SSE buffer.
func WithStreamBuffer(n int) Option {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("stream buffer must be at least 1, got %d", n)
		}
		o.StreamBuffer = n
		return nil
	}
}

// WithKeepAlive sets the SSE keep-alive interval.
func WithKeepAlive(interval time.Duration) Option {
	return func(o *Options) error {
		if interval <= 0 {
			return fmt.Errorf("keep-alive interval must be positive, got %v", interval)
		}
		o.KeepAlive = interval
		return nil
	}
}

// DefaultShutdownTimeout returns the default graceful shutdown timeout.
func DefaultShutdownTimeout() time.Duration {
	return 10 * time.Second
}

// DefaultStreamBuffer returns the default per-subscriber SSE buffer.
func DefaultStreamBuffer() int {
	return 64
}

// DefaultKeepAlive returns the default SSE keep-alive interval.
func DefaultKeepAlive() time.Duration {
	return 15 * time.Second
}
