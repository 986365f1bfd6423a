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
	"errors"

	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/config"
	internaldaemon "github.com/tombee/stagehand/internal/daemon"
)

// NewServeCommand creates the serve command, which runs the daemon in the
// foreground.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the stagehand daemon",
		Long: `Run the stagehand daemon in the foreground.

The daemon registers every server in the config file, starts those marked
auto_start, monitors their health and serves the control API. It stops
all servers on SIGINT or SIGTERM.`,
		Example: `  # Serve with the default config
  stagehand serve

  # Use a specific config file and address
  stagehand serve --config ./stagehand.yaml --addr 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, _, _ := shared.GetVersion()
			err := internaldaemon.Run(cmd.Context(), internaldaemon.RunOptions{
				Version:    v,
				ConfigPath: shared.GetConfigPath(),
				Addr:       shared.GetAddr(),
			})
			var cfgErr *config.ConfigError
			if errors.As(err, &cfgErr) {
				return shared.NewInvalidConfigError("invalid configuration", err)
			}
			return err
		},
	}
	return cmd
}
