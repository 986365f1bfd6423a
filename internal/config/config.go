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

// Package config loads the daemon configuration file.
//
// The file is YAML or TOML, chosen by extension. Zero values are filled
// from Default after decoding, then environment overrides are applied and
// the result is validated.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete daemon configuration.
type Config struct {
	Log          LogConfig              `yaml:"log" toml:"log"`
	API          APIConfig              `yaml:"api" toml:"api"`
	Store        StoreConfig            `yaml:"store" toml:"store"`
	Tracing      TracingConfig          `yaml:"tracing" toml:"tracing"`
	Orchestrator OrchestratorConfig     `yaml:"orchestrator" toml:"orchestrator"`
	Servers      map[string]ServerEntry `yaml:"servers,omitempty" toml:"servers,omitempty"`

	// PIDFile, when set, guards against a second daemon on the same host.
	// Environment: STAGEHAND_PID_FILE
	PIDFile string `yaml:"pid_file,omitempty" toml:"pid_file,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the minimum level (trace, debug, info, warn, error).
	Level string `yaml:"level" toml:"level"`

	// Format is json or text.
	Format string `yaml:"format" toml:"format"`

	// AddSource adds file and line to each record.
	AddSource bool `yaml:"add_source" toml:"add_source"`
}

// APIConfig configures the HTTP control API.
type APIConfig struct {
	// Addr is the listen address.
	// Environment: STAGEHAND_ADDR
	Addr string `yaml:"addr" toml:"addr"`

	// CORSOrigins lists allowed browser origins. Empty disables CORS.
	CORSOrigins []string `yaml:"cors_origins,omitempty" toml:"cors_origins,omitempty"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is memory, sqlite or postgres.
	// Environment: STAGEHAND_STORE_DRIVER
	Driver string `yaml:"driver" toml:"driver"`

	// Path is the SQLite database file.
	// Environment: STAGEHAND_STORE_PATH
	Path string `yaml:"path,omitempty" toml:"path,omitempty"`

	// DSN is the PostgreSQL connection string.
	// Environment: STAGEHAND_STORE_DSN
	DSN string `yaml:"dsn,omitempty" toml:"dsn,omitempty"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	// Exporter is none, console, otlp-http or otlp-grpc.
	// Environment: STAGEHAND_TRACING_EXPORTER
	Exporter string `yaml:"exporter" toml:"exporter"`

	// Endpoint is the OTLP collector address.
	// Environment: OTEL_EXPORTER_OTLP_ENDPOINT
	Endpoint string `yaml:"endpoint,omitempty" toml:"endpoint,omitempty"`

	// Insecure disables TLS for OTLP export.
	Insecure bool `yaml:"insecure" toml:"insecure"`

	// ServiceName identifies the daemon in traces.
	ServiceName string `yaml:"service_name" toml:"service_name"`

	// SampleRate is the fraction of traces recorded (0.0 - 1.0).
	SampleRate float64 `yaml:"sample_rate" toml:"sample_rate"`
}

// OrchestratorConfig tunes lifecycle and health behaviour.
type OrchestratorConfig struct {
	HealthInterval    time.Duration `yaml:"health_interval" toml:"health_interval"`
	HealthConcurrency int           `yaml:"health_concurrency" toml:"health_concurrency"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout" toml:"probe_timeout"`
	InitTimeout       time.Duration `yaml:"init_timeout" toml:"init_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`

	// IdleTimeout pauses servers with no tool calls for this long. Zero
	// disables idle pausing.
	IdleTimeout time.Duration `yaml:"idle_timeout" toml:"idle_timeout"`

	// MaxRestarts caps consecutive automatic restarts before a server is
	// left in the error state.
	MaxRestarts int `yaml:"max_restarts" toml:"max_restarts"`

	BackoffBase time.Duration `yaml:"backoff_base" toml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max" toml:"backoff_max"`

	// HistorySize is the number of events kept per server.
	HistorySize int `yaml:"history_size" toml:"history_size"`

	// SuccessWindow is the number of recent tool calls in the success rate.
	SuccessWindow int `yaml:"success_window" toml:"success_window"`

	// ValidateArguments checks tool arguments against the input schema.
	// A pointer so an explicit false survives default filling.
	ValidateArguments *bool `yaml:"validate_arguments,omitempty" toml:"validate_arguments,omitempty"`
}

// ConfigError describes a problem with one configuration key.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "store.driver").
	Key string

	// Reason explains what's wrong.
	Reason string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config error: %s", e.Reason)
	if e.Key != "" {
		msg = fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Default returns a configuration with default values.
func Default() *Config {
	validate := true
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		API: APIConfig{
			Addr:            "127.0.0.1:8375",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   defaultStorePath(),
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			ServiceName: "stagehand",
			SampleRate:  1.0,
		},
		Orchestrator: OrchestratorConfig{
			HealthInterval:    30 * time.Second,
			HealthConcurrency: 8,
			ProbeTimeout:      5 * time.Second,
			InitTimeout:       30 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			MaxRestarts:       3,
			BackoffBase:       time.Second,
			BackoffMax:        30 * time.Second,
			HistorySize:       100,
			SuccessWindow:     100,
			ValidateArguments: &validate,
		},
	}
}

// Load reads the configuration at configPath. An empty path means defaults
// only. A missing file at the default location is not an error.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}
	return cfg, nil
}

// LoadDefault loads the file named by STAGEHAND_CONFIG, or the default
// path when it exists.
func LoadDefault() (*Config, string, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, "", err
	}
	if os.Getenv(EnvConfig) == "" {
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg, err := Load("")
			return cfg, "", err
		}
	}
	cfg, err := Load(path)
	return cfg, path, err
}

// applyDefaults fills zero values so minimal files work.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.API.Addr == "" {
		c.API.Addr = defaults.API.Addr
	}
	if c.API.ShutdownTimeout == 0 {
		c.API.ShutdownTimeout = defaults.API.ShutdownTimeout
	}

	if c.Store.Driver == "" {
		c.Store.Driver = defaults.Store.Driver
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = defaults.Store.Path
	}
	c.Store.Path = expandHome(c.Store.Path)

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = defaults.Tracing.Exporter
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaults.Tracing.ServiceName
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = defaults.Tracing.SampleRate
	}

	o, d := &c.Orchestrator, defaults.Orchestrator
	if o.HealthInterval == 0 {
		o.HealthInterval = d.HealthInterval
	}
	if o.HealthConcurrency == 0 {
		o.HealthConcurrency = d.HealthConcurrency
	}
	if o.ProbeTimeout == 0 {
		o.ProbeTimeout = d.ProbeTimeout
	}
	if o.InitTimeout == 0 {
		o.InitTimeout = d.InitTimeout
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = d.ShutdownTimeout
	}
	if o.MaxRestarts == 0 {
		o.MaxRestarts = d.MaxRestarts
	}
	if o.BackoffBase == 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.BackoffMax == 0 {
		o.BackoffMax = d.BackoffMax
	}
	if o.HistorySize == 0 {
		o.HistorySize = d.HistorySize
	}
	if o.SuccessWindow == 0 {
		o.SuccessWindow = d.SuccessWindow
	}
	if o.ValidateArguments == nil {
		o.ValidateArguments = d.ValidateArguments
	}

	for name, entry := range c.Servers {
		for i, p := range entry.Watch {
			entry.Watch[i] = expandHome(p)
		}
		c.Servers[name] = entry
	}
}

// loadFromFile decodes path as TOML when it ends in .toml and as YAML
// otherwise.
func (c *Config) loadFromFile(path string) error {
	path = expandHome(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to parse TOML: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	return nil
}

// loadFromEnv applies environment overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("STAGEHAND_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("STAGEHAND_DEBUG"); val == "1" || strings.EqualFold(val, "true") {
		c.Log.Level = "debug"
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.EqualFold(val, "true")
	}

	if val := os.Getenv("STAGEHAND_ADDR"); val != "" {
		c.API.Addr = val
	}

	if val := os.Getenv("STAGEHAND_PID_FILE"); val != "" {
		c.PIDFile = expandHome(val)
	}

	if val := os.Getenv("STAGEHAND_STORE_DRIVER"); val != "" {
		c.Store.Driver = strings.ToLower(val)
	}
	if val := os.Getenv("STAGEHAND_STORE_PATH"); val != "" {
		c.Store.Path = expandHome(val)
	}
	if val := os.Getenv("STAGEHAND_STORE_DSN"); val != "" {
		c.Store.DSN = val
	}

	if val := os.Getenv("STAGEHAND_TRACING_EXPORTER"); val != "" {
		c.Tracing.Exporter = strings.ToLower(val)
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}
	if val := os.Getenv("OTEL_SERVICE_NAME"); val != "" {
		c.Tracing.ServiceName = val
	}

	if val := os.Getenv("STAGEHAND_IDLE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Orchestrator.IdleTimeout = d
		}
	}
	if val := os.Getenv("STAGEHAND_MAX_RESTARTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Orchestrator.MaxRestarts = n
		}
	}
}

var (
	validLogLevels  = []string{"trace", "debug", "info", "warn", "warning", "error"}
	validLogFormats = []string{"json", "text"}
	validDrivers    = []string{"memory", "sqlite", "postgres"}
	validExporters  = []string{"none", "console", "otlp-http", "otlp-grpc"}
)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	if !contains(validLogLevels, c.Log.Level) {
		errs = append(errs, fmt.Sprintf("log.level must be one of %v, got %q", validLogLevels, c.Log.Level))
	}
	if !contains(validLogFormats, c.Log.Format) {
		errs = append(errs, fmt.Sprintf("log.format must be one of %v, got %q", validLogFormats, c.Log.Format))
	}

	if c.API.Addr == "" {
		errs = append(errs, "api.addr is required")
	}
	if c.API.ShutdownTimeout < 0 {
		errs = append(errs, "api.shutdown_timeout must not be negative")
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be one of %v, got %q", validDrivers, c.Store.Driver))
	}

	if !contains(validExporters, c.Tracing.Exporter) {
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", validExporters, c.Tracing.Exporter))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %v", c.Tracing.SampleRate))
	}

	o := c.Orchestrator
	for key, d := range map[string]time.Duration{
		"health_interval":  o.HealthInterval,
		"probe_timeout":    o.ProbeTimeout,
		"init_timeout":     o.InitTimeout,
		"shutdown_timeout": o.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("orchestrator.%s must be positive, got %v", key, d))
		}
	}
	if o.IdleTimeout < 0 {
		errs = append(errs, "orchestrator.idle_timeout must not be negative")
	}
	if o.HealthConcurrency < 1 {
		errs = append(errs, "orchestrator.health_concurrency must be at least 1")
	}
	if o.MaxRestarts < 0 {
		errs = append(errs, "orchestrator.max_restarts must not be negative")
	}
	if o.BackoffBase < 0 || o.BackoffMax < o.BackoffBase {
		errs = append(errs, fmt.Sprintf("orchestrator.backoff_max (%v) must be at least backoff_base (%v)", o.BackoffMax, o.BackoffBase))
	}
	if o.HistorySize < 1 {
		errs = append(errs, "orchestrator.history_size must be at least 1")
	}
	if o.SuccessWindow < 1 {
		errs = append(errs, "orchestrator.success_window must be at least 1")
	}

	for _, name := range c.ServerNames() {
		if err := c.Servers[name].validate(name); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
