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

package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tombee/stagehand/internal/orchestrator"
)

// ServerEntry is one entry of the servers table.
type ServerEntry struct {
	// Command is the executable to run (e.g., "npx", "python").
	Command string `yaml:"command" toml:"command"`

	// Args are command-line arguments.
	Args []string `yaml:"args,omitempty" toml:"args,omitempty"`

	// Env are extra environment variables. Values may reference the
	// daemon's environment with ${VAR}.
	Env map[string]string `yaml:"env,omitempty" toml:"env,omitempty"`

	// Timeout bounds each tool call. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`

	// AutoStart starts the server when the daemon starts.
	AutoStart bool `yaml:"auto_start,omitempty" toml:"auto_start,omitempty"`

	// IdleTimeout overrides orchestrator.idle_timeout for this server.
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty" toml:"idle_timeout,omitempty"`

	// RateLimit caps tool calls per second. Zero means unlimited.
	RateLimit float64 `yaml:"rate_limit,omitempty" toml:"rate_limit,omitempty"`

	// RateBurst is the burst allowed above RateLimit.
	RateBurst int `yaml:"rate_burst,omitempty" toml:"rate_burst,omitempty"`

	// Watch lists files or directories whose changes reload the server.
	Watch []string `yaml:"watch,omitempty" toml:"watch,omitempty"`
}

var envKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// shellInjectionPatterns could indicate shell injection attempts.
var shellInjectionPatterns = []string{
	";", "&&", "||", "|", "`", "$(", "${", "\n", "\r",
}

// sensitiveKeyPatterns indicate a sensitive value.
var sensitiveKeyPatterns = []string{
	"SECRET", "TOKEN", "KEY", "PASSWORD", "CREDENTIAL", "AUTH",
}

// RedactedValue replaces sensitive env values in output.
const RedactedValue = "***REDACTED***"

// ValidateServerName checks a server name against the id pattern.
func ValidateServerName(name string) error {
	if name == "" {
		return fmt.Errorf("server name is required")
	}
	if !orchestrator.ServerIDPattern.MatchString(name) {
		return fmt.Errorf("invalid server name %q: must start with a letter and contain only letters, numbers, hyphens, and underscores (max 64)", name)
	}
	return nil
}

// ValidateArg rejects arguments containing shell metacharacters.
func ValidateArg(arg string) error {
	for _, pattern := range shellInjectionPatterns {
		if strings.Contains(arg, pattern) {
			return fmt.Errorf("argument contains potentially unsafe pattern %q", pattern)
		}
	}
	return nil
}

// ValidateEnv checks one environment entry. Values may use ${VAR}.
func ValidateEnv(key, value string) error {
	if key == "" {
		return fmt.Errorf("environment variable key is required")
	}
	if !envKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid environment variable key: %s", key)
	}
	for _, pattern := range shellInjectionPatterns {
		if pattern == "${" {
			continue
		}
		if strings.Contains(value, pattern) {
			return fmt.Errorf("environment value for %s contains potentially unsafe pattern %q", key, pattern)
		}
	}
	return nil
}

// IsSensitiveEnvKey reports whether key looks like it holds a secret.
func IsSensitiveEnvKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}

// RedactEnv returns a copy of env with sensitive values replaced.
func RedactEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		if IsSensitiveEnvKey(k) {
			out[k] = RedactedValue
			continue
		}
		out[k] = v
	}
	return out
}

func (e ServerEntry) validate(name string) error {
	if err := ValidateServerName(name); err != nil {
		return err
	}
	if strings.TrimSpace(e.Command) == "" {
		return fmt.Errorf("servers.%s.command is required", name)
	}
	if err := ValidateArg(e.Command); err != nil {
		return fmt.Errorf("servers.%s.command: %w", name, err)
	}
	for i, arg := range e.Args {
		if err := ValidateArg(arg); err != nil {
			return fmt.Errorf("servers.%s.args[%d]: %w", name, i, err)
		}
	}
	for k, v := range e.Env {
		if err := ValidateEnv(k, v); err != nil {
			return fmt.Errorf("servers.%s.env: %w", name, err)
		}
	}
	if e.Timeout < 0 || e.IdleTimeout < 0 {
		return fmt.Errorf("servers.%s: durations must not be negative", name)
	}
	if e.RateLimit < 0 || e.RateBurst < 0 {
		return fmt.Errorf("servers.%s: rate_limit and rate_burst must not be negative", name)
	}
	return nil
}

// ServerNames returns the configured server names in sorted order.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServerConfig converts one entry into the orchestrator's launch config.
func (e ServerEntry) ServerConfig(name string) orchestrator.ServerConfig {
	var env map[string]string
	if len(e.Env) > 0 {
		env = make(map[string]string, len(e.Env))
		for k, v := range e.Env {
			env[k] = v
		}
	}
	return orchestrator.ServerConfig{
		ID:          name,
		Command:     e.Command,
		Args:        append([]string(nil), e.Args...),
		Env:         env,
		Timeout:     e.Timeout,
		IdleTimeout: e.IdleTimeout,
		AutoStart:   e.AutoStart,
		RateLimit:   e.RateLimit,
		RateBurst:   e.RateBurst,
		Watch:       append([]string(nil), e.Watch...),
	}
}

// ServerConfigs returns every configured server, sorted by name.
func (c *Config) ServerConfigs() []orchestrator.ServerConfig {
	out := make([]orchestrator.ServerConfig, 0, len(c.Servers))
	for _, name := range c.ServerNames() {
		out = append(out, c.Servers[name].ServerConfig(name))
	}
	return out
}

// OrchestratorOptions maps the orchestrator section to manager options.
func (c *Config) OrchestratorOptions() []orchestrator.Option {
	o := c.Orchestrator
	validate := o.ValidateArguments == nil || *o.ValidateArguments
	return []orchestrator.Option{
		orchestrator.WithHealthInterval(o.HealthInterval),
		orchestrator.WithHealthConcurrency(o.HealthConcurrency),
		orchestrator.WithProbeTimeout(o.ProbeTimeout),
		orchestrator.WithInitTimeout(o.InitTimeout),
		orchestrator.WithShutdownTimeout(o.ShutdownTimeout),
		orchestrator.WithIdleTimeout(o.IdleTimeout),
		orchestrator.WithMaxRestarts(o.MaxRestarts),
		orchestrator.WithBackoff(o.BackoffBase, o.BackoffMax),
		orchestrator.WithSuccessWindow(o.SuccessWindow),
		orchestrator.WithArgumentValidation(validate),
	}
}
