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


package servers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/completion"
	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/orchestrator"
)

// StatusOutput is the JSON shape of 'servers status'.
type StatusOutput struct {
	Server  *orchestrator.Server        `json:"server"`
	Metrics *orchestrator.ServerMetrics `json:"metrics"`
	History []events.Event              `json:"history"`
}

func newStatusCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status <name>",
		Short: "Show details of a server",
		Long: `Show a server's state, configuration, metrics and most recent
lifecycle events.`,
		Example: `  # Show status
  stagehand servers status github

  # Show the last 50 events
  stagehand servers status github --events 50`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteFirstServerName,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, args[0], limit)
		},
	}

	cmd.Flags().IntVar(&limit, "events", 10, "Number of recent events to show")
	return cmd
}

func runStatus(cmd *cobra.Command, id string, limit int) error {
	c, err := shared.NewClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	srv, err := c.GetServer(ctx, id)
	if err != nil {
		return shared.DaemonError(err)
	}
	metrics, err := c.Metrics(ctx, id)
	if err != nil {
		return shared.DaemonError(err)
	}
	history, err := c.History(ctx, id)
	if err != nil {
		return shared.DaemonError(err)
	}
	if limit >= 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, StatusOutput{Server: srv, Metrics: metrics, History: history})
	}

	fmt.Fprintln(out, shared.Header.Render(srv.ID))
	row := func(label, value string) {
		fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel(fmt.Sprintf("%-14s", label+":")), value)
	}
	row("State", shared.RenderState(srv.State, 0))
	row("Command", strings.TrimSpace(srv.Config.Command+" "+strings.Join(srv.Config.Args, " ")))
	if len(srv.Config.Env) > 0 {
		keys := make([]string, 0, len(srv.Config.Env))
		for k := range srv.Config.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+srv.Config.Env[k])
		}
		row("Env", strings.Join(pairs, " "))
	}
	row("Started", shared.FormatTime(srv.StartTime))
	row("Uptime", shared.FormatDuration(metrics.Uptime))
	row("Restarts", fmt.Sprint(srv.RestartCount))
	row("Errors", fmt.Sprint(metrics.ErrorCount))
	row("Tools", fmt.Sprint(metrics.ToolCount))
	row("Success rate", fmt.Sprintf("%.1f%% (%d calls)", metrics.SuccessRate*100, metrics.Invocations))
	row("Last activity", shared.FormatTime(metrics.LastActivity))
	if srv.LastError != "" {
		row("Last error", shared.StatusError.Render(srv.LastError))
	}

	if len(history) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, shared.Bold.Render("Recent events"))
		for _, e := range history {
			fmt.Fprintf(out, "  %s  %s\n", shared.Muted.Render(shared.FormatTime(e.Timestamp)), describeEvent(e))
		}
	}
	return nil
}

// describeEvent renders a one-line summary of an event.
func describeEvent(e events.Event) string {
	line := string(e.Type)
	if e.Type == events.EventStateChanged {
		if p, ok := e.Payload.(map[string]any); ok {
			line = fmt.Sprintf("%v -> %v", p["from"], p["to"])
		}
	}
	if e.Error != "" {
		line += ": " + shared.StatusError.Render(e.Error)
	}
	return line
}
