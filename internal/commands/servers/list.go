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
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/completion"
	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/orchestrator"
)

func newListCommand() *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered servers",
		Long: `List every server registered with the daemon, with its state,
uptime, restart count and last error.

See also: stagehand servers status, stagehand tools list`,
		Example: `  # List servers
  stagehand servers list

  # Only servers that need attention
  stagehand servers list --state error

  # Extract running server names for scripting
  stagehand servers list --json | jq -r '.[] | select(.state=="running") | .id'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, orchestrator.State(state))
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Only servers in this state")
	_ = cmd.RegisterFlagCompletionFunc("state", completion.CompleteStates)
	return cmd
}

func runList(cmd *cobra.Command, state orchestrator.State) error {
	if state != "" && !state.Valid() {
		return fmt.Errorf("unknown state %q", state)
	}

	c, err := shared.NewClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	servers, err := c.ListServers(ctx)
	if err != nil {
		return shared.DaemonError(err)
	}
	if state != "" {
		servers = slices.DeleteFunc(servers, func(s orchestrator.Server) bool {
			return s.State != state
		})
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, servers)
	}

	if len(servers) == 0 && state != "" {
		fmt.Fprintf(out, "No servers in state %s.\n", state)
		return nil
	}
	if len(servers) == 0 {
		fmt.Fprintln(out, "No servers registered.")
		fmt.Fprintln(out, "\nAdd servers to the servers section of your config file and restart the daemon.")
		return nil
	}

	fmt.Fprintf(out, "%-20s %-11s %-10s %-9s %s\n", "NAME", "STATE", "UPTIME", "RESTARTS", "LAST ERROR")
	fmt.Fprintln(out, strings.Repeat("-", 72))
	for _, s := range servers {
		fmt.Fprintf(out, "%-20s %s %-10s %-9d %s\n",
			shared.Truncate(s.ID, 20),
			shared.RenderState(s.State, 11),
			shared.FormatDuration(uptime(s)),
			s.RestartCount,
			shared.Truncate(s.LastError, 40),
		)
	}
	return nil
}

func uptime(s orchestrator.Server) time.Duration {
	if s.State != orchestrator.StateRunning || s.StartTime.IsZero() {
		return 0
	}
	return time.Since(s.StartTime)
}
