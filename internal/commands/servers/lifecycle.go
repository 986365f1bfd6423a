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
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/client"
	"github.com/tombee/stagehand/internal/commands/completion"
	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/orchestrator"
)

// lifecycleAction describes one lifecycle subcommand.
type lifecycleAction struct {
	name  string
	short string
	past  string
	call  func(c *client.Client, ctx context.Context, id string) (*orchestrator.Server, error)
}

func lifecycleActions() []lifecycleAction {
	return []lifecycleAction{
		{"start", "Start a server", "started", (*client.Client).Start},
		{"stop", "Stop a server", "stopped", (*client.Client).Stop},
		{"reload", "Stop and start a server", "reloaded", (*client.Client).Reload},
		{"pause", "Pause a running server", "paused", (*client.Client).Pause},
		{"resume", "Resume a paused server", "resumed", (*client.Client).Resume},
	}
}

func newLifecycleCommand(a lifecycleAction) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:     a.name + " <name>...",
		Short:   a.short,
		Example: fmt.Sprintf("  stagehand servers %s github\n  stagehand servers %s github filesystem", a.name, a.name),
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completion.CompleteServerNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := shared.NewClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			results := make([]*orchestrator.Server, 0, len(args))
			for _, id := range args {
				srv, err := a.call(c, ctx, id)
				if err != nil {
					return shared.DaemonError(err)
				}
				results = append(results, srv)
				if !shared.GetJSON() {
					fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s %s (%s)", id, a.past, srv.State)))
				}
			}
			if shared.GetJSON() {
				return shared.EmitJSON(out, results)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Maximum time to wait")
	return cmd
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Stop and unregister a server",
		Long: `Stop a server if needed and remove it from the running daemon.
The server's config file entry is not changed, so it is registered again on
the next daemon start.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteFirstServerName,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := shared.NewClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			if err := c.Remove(ctx, args[0]); err != nil {
				return shared.DaemonError(err)
			}
			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, map[string]any{"id": args[0], "removed": true})
			}
			fmt.Fprintln(out, shared.RenderOK(args[0]+" removed"))
			return nil
		},
	}
}
