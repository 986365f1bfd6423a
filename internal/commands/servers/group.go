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


// Package servers implements the 'stagehand servers' commands.
package servers

import (
	"github.com/spf13/cobra"
)

// NewCommand creates the servers command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "servers",
		Aliases: []string{"server"},
		Annotations: map[string]string{
			"group": "servers",
		},
		Short: "Manage orchestrated servers",
		Long: `Inspect and control the servers managed by a running stagehand daemon.

Commands:
  list     List registered servers with state and uptime
  status   Show details, metrics and recent events for a server
  start    Start a server
  stop     Stop a server
  reload   Stop and start a server with its registered config
  pause    Release a running server's process, keeping its config
  resume   Start a paused server
  remove   Stop and unregister a server`,
	}

	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newStatusCommand())
	for _, a := range lifecycleActions() {
		cmd.AddCommand(newLifecycleCommand(a))
	}
	cmd.AddCommand(newRemoveCommand())

	return cmd
}
