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


/*
Package cli provides the root command and global flags for the stagehand CLI.

This package creates the main Cobra command and handles global concerns like
version information, persistent flags, and exit codes. Individual commands
are implemented in the internal/commands subpackages and attached in main.

# Command Tree

	stagehand
	├── serve         Run the daemon in the foreground
	├── daemon        Check daemon status and reachability
	├── servers       List, inspect, start, stop, reload, pause, resume, remove
	├── tools         List, enable, disable and call tools
	├── events        Stream lifecycle events
	├── config        Show, locate and validate configuration
	├── version       Show CLI and daemon versions
	└── help          Command help and topics: states, event-types, exit-codes

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(servers.NewCommand())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
	    cli.HandleExitError(err)
	}

# Global Flags

	--verbose, -v    Enable verbose output
	--json           Output in JSON format
	--config         Path to config file
	--addr           Daemon address

# Exit Codes

  - 0: Success
  - 1: General error
  - 2: Invalid configuration
  - 3: Server or tool not found
  - 69: Daemon unreachable
*/
package cli
