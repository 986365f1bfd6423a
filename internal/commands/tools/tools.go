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


// Package tools implements the 'stagehand tools' commands.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/completion"
	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/store"
)

// NewCommand creates the tools command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tools",
		Aliases: []string{"tool"},
		Annotations: map[string]string{
			"group": "servers",
		},
		Short: "Inspect, toggle and call server tools",
		Long: `Inspect the tool registry of a server, enable or disable tools, and
invoke them through the daemon.

Disabled tools stay disabled across restarts and tool list refreshes until
enabled again.`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newToggleCommand(true))
	cmd.AddCommand(newToggleCommand(false))
	cmd.AddCommand(newCallCommand())
	return cmd
}

func newListCommand() *cobra.Command {
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:   "list <server>",
		Short: "List a server's tools",
		Example: `  stagehand tools list github
  stagehand tools list github --enabled --json`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteFirstServerName,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := shared.NewClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			tools, err := c.Tools(ctx, args[0], enabledOnly)
			if err != nil {
				return shared.DaemonError(err)
			}
			return printTools(cmd.OutOrStdout(), args[0], tools)
		},
	}

	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "Only show callable tools")
	return cmd
}

func printTools(out io.Writer, server string, tools []store.ToolEntry) error {
	if shared.GetJSON() {
		return shared.EmitJSON(out, tools)
	}
	if len(tools) == 0 {
		fmt.Fprintf(out, "No tools registered for %s.\n", server)
		return nil
	}

	fmt.Fprintf(out, "%-28s %-10s %s\n", "TOOL", "STATUS", "DESCRIPTION")
	fmt.Fprintln(out, strings.Repeat("-", 80))
	for _, t := range tools {
		fmt.Fprintf(out, "%-28s %s %s\n",
			shared.Truncate(t.Name, 28),
			toolStatus(t),
			shared.Truncate(t.Description, 40),
		)
	}
	return nil
}

func toolStatus(t store.ToolEntry) string {
	switch {
	case t.Enabled && t.Available:
		return shared.StatusOK.Width(10).Render("enabled")
	case !t.Available:
		return shared.Muted.Width(10).Render("removed")
	default:
		return shared.StatusWarn.Width(10).Render("disabled")
	}
}

func newToggleCommand(enable bool) *cobra.Command {
	name, short := "disable", "Disable a tool"
	if enable {
		name, short = "enable", "Enable a tool"
	}

	return &cobra.Command{
		Use:     name + " <server> <tool>",
		Short:   short,
		Example: fmt.Sprintf("  stagehand tools %s github create_issue", name),
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completion.CompleteServerThenTool,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := shared.NewClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			var entry *store.ToolEntry
			if enable {
				entry, err = c.EnableTool(ctx, args[0], args[1])
			} else {
				entry, err = c.DisableTool(ctx, args[0], args[1])
			}
			if err != nil {
				return shared.DaemonError(err)
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, entry)
			}
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s/%s %sd", args[0], args[1], name)))
			return nil
		},
	}
}

func newCallCommand() *cobra.Command {
	var (
		argsJSON string
		argsFile string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call <server> <tool>",
		Short: "Invoke a tool",
		Long: `Invoke a tool through the daemon. Arguments are a JSON object given
with --args or read from a file (use - for stdin) with --args-file.

A paused server is resumed before the call.`,
		Example: `  stagehand tools call echo echo --args '{"message":"hello"}'
  echo '{"path":"/tmp"}' | stagehand tools call fs list_directory --args-file -`,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completion.CompleteServerThenTool,
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := parseArguments(cmd.InOrStdin(), argsJSON, argsFile)
			if err != nil {
				return err
			}

			c, err := shared.NewClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			resp, err := c.CallTool(ctx, args[0], args[1], arguments)
			if err != nil {
				return shared.DaemonError(err)
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, resp)
			}
			if text := resp.Text(); text != "" {
				fmt.Fprintln(out, text)
			}
			for _, item := range resp.Content {
				if item.Type != "text" {
					fmt.Fprintln(out, shared.Muted.Render(fmt.Sprintf("[%s content, %s]", item.Type, item.MimeType)))
				}
			}
			if resp.IsError {
				return fmt.Errorf("tool %s reported an error", args[1])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "", "Tool arguments as a JSON object")
	cmd.Flags().StringVar(&argsFile, "args-file", "", "Read tool arguments from a file (- for stdin)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Maximum time to wait")
	cmd.MarkFlagsMutuallyExclusive("args", "args-file")
	return cmd
}

func parseArguments(stdin io.Reader, inline, file string) (map[string]any, error) {
	var raw []byte
	switch {
	case inline != "":
		raw = []byte(inline)
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read arguments from stdin: %w", err)
		}
		raw = data
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read arguments file: %w", err)
		}
		raw = data
	default:
		return nil, nil
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return args, nil
}
