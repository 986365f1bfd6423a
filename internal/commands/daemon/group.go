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


package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/shared"
)

// NewCommand creates the daemon command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Inspect the stagehand daemon",
		Long: `Commands for checking on the stagehand daemon.

The daemon owns every managed server. The CLI talks to it over the
HTTP control API at --addr (or STAGEHAND_ADDR).`,
	}

	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newPingCommand())

	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and version",
		Long:  `Display the status, version, uptime and server counts of the daemon.`,
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func newPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check if the daemon is reachable",
		Args:  cobra.NoArgs,
		RunE:  runPing,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	c, err := shared.NewClient()
	if err != nil {
		return err
	}

	health, err := c.Health(ctx)
	if err != nil {
		return shared.DaemonError(err)
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, health)
	}

	fmt.Fprintln(out, shared.Header.Render("Stagehand Daemon"))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Status:   %s\n", health.Status)
	fmt.Fprintf(out, "Version:  %s\n", health.Version)
	fmt.Fprintf(out, "Uptime:   %s\n", health.Uptime)
	fmt.Fprintf(out, "Servers:  %d registered, %d active\n", health.Servers, health.Active)
	return nil
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	c, err := shared.NewClient()
	if err != nil {
		return err
	}

	start := time.Now()
	if err := c.Ping(ctx); err != nil {
		return shared.DaemonError(err)
	}
	latency := time.Since(start)

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, map[string]any{
			"reachable":  true,
			"latency_ms": latency.Milliseconds(),
		})
	}
	fmt.Fprintf(out, "Daemon is reachable (%s)\n", latency.Round(time.Millisecond))
	return nil
}
