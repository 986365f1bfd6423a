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
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/config"
)

// ValidationResult represents the result of config validation.
type ValidationResult struct {
	Path    string   `json:"path,omitempty"`
	Valid   bool     `json:"valid"`
	Servers []string `json:"servers,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the 'config validate' subcommand.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate the configuration file",
		Long: `Validate the configuration file structure and values.

Checks performed:
  - YAML or TOML syntax
  - Log, API, store and tracing settings
  - Orchestrator durations and limits
  - Server names, commands, arguments and environment variable names`,
		Example: `  # Validate the default configuration
  stagehand config validate

  # Validate a specific file
  stagehand config validate ./stagehand.toml

  # Get validation result as JSON
  stagehand config validate --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg  *config.Config
				path string
				err  error
			)
			if len(args) == 1 {
				path = args[0]
				cfg, err = config.Load(path)
			} else {
				cfg, path, err = loadConfig()
			}
			return outputValidationResult(cmd, validationResult(path, cfg, err))
		},
	}
}

func validationResult(path string, cfg *config.Config, err error) ValidationResult {
	result := ValidationResult{Path: path, Valid: err == nil}
	if err != nil {
		result.Errors = splitErrors(err)
		return result
	}
	result.Servers = cfg.ServerNames()
	return result
}

// splitErrors turns the aggregated validation error into one line per problem.
func splitErrors(err error) []string {
	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) && cfgErr.Key == "validation" && cfgErr.Cause != nil {
		err = cfgErr.Cause
	}
	var lines []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line != "" && !strings.HasSuffix(line, ":") {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		lines = []string{err.Error()}
	}
	return lines
}

func outputValidationResult(cmd *cobra.Command, result ValidationResult) error {
	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if err := shared.EmitJSON(out, result); err != nil {
			return err
		}
	} else {
		source := result.Path
		if source == "" {
			source = "defaults (no config file)"
		}
		if result.Valid {
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s is valid (%d servers)", source, len(result.Servers))))
		} else {
			fmt.Fprintln(out, shared.RenderError(source+" is invalid:"))
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  %s %s\n", shared.SymbolInfo, e)
			}
		}
	}

	if !result.Valid {
		return &shared.ExitError{Code: shared.ExitInvalidConfig, Message: "configuration is invalid"}
	}
	return nil
}
