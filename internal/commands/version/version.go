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


// Package version implements 'stagehand version'.
package version

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/client"
	"github.com/tombee/stagehand/internal/commands/shared"
)

// daemonTimeout bounds the daemon version lookup.
const daemonTimeout = 2 * time.Second

// VersionInfo contains version metadata for the CLI and, when reachable,
// the daemon it talks to.
type VersionInfo struct {
	Version   string      `json:"version"`
	Commit    string      `json:"commit"`
	BuildDate string      `json:"build_date"`
	GoVersion string      `json:"go_version"`
	Platform  string      `json:"platform"`
	Daemon    *DaemonInfo `json:"daemon,omitempty"`
}

// DaemonInfo describes the daemon at --addr.
type DaemonInfo struct {
	Addr      string `json:"addr"`
	Reachable bool   `json:"reachable"`
	Version   string `json:"version,omitempty"`
	Uptime    string `json:"uptime,omitempty"`
	Mismatch  bool   `json:"mismatch,omitempty"`
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	var clientOnly bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show CLI and daemon versions",
		Long: `Display the CLI version, commit and build date, and the version of
the daemon at --addr. A daemon that is not running is reported, not
treated as an error. Use --client-only to skip the daemon lookup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := clientVersion()
			if !clientOnly {
				info.Daemon = daemonVersion(cmd.Context(), info.Version)
			}
			return printVersion(cmd, info)
		},
	}

	cmd.Flags().BoolVar(&clientOnly, "client-only", false, "Do not query the daemon")
	return cmd
}

func clientVersion() VersionInfo {
	v, c, b := shared.GetVersion()
	return VersionInfo{
		Version:   v,
		Commit:    c,
		BuildDate: b,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func daemonVersion(ctx context.Context, cliVersion string) *DaemonInfo {
	info := &DaemonInfo{Addr: client.ResolveAddr(shared.GetAddr())}

	c, err := shared.NewClient()
	if err != nil {
		return info
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, daemonTimeout)
	defer cancel()

	health, err := c.Health(ctx)
	if err != nil {
		return info
	}
	info.Reachable = true
	info.Version = health.Version
	info.Uptime = health.Uptime
	info.Mismatch = health.Version != cliVersion
	return info
}

func printVersion(cmd *cobra.Command, info VersionInfo) error {
	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, info)
	}

	fmt.Fprintf(out, "stagehand version %s\n", info.Version)
	fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
	fmt.Fprintf(out, "  build date: %s\n", info.BuildDate)
	fmt.Fprintf(out, "  go:         %s (%s)\n", info.GoVersion, info.Platform)

	d := info.Daemon
	switch {
	case d == nil:
	case !d.Reachable:
		fmt.Fprintf(out, "  daemon:     %s\n", shared.Muted.Render("not running at "+d.Addr))
	case d.Mismatch:
		fmt.Fprintf(out, "  daemon:     %s\n",
			shared.RenderWarn(fmt.Sprintf("%s at %s (differs from CLI, restart with: stagehand serve)", d.Version, d.Addr)))
	default:
		fmt.Fprintf(out, "  daemon:     %s at %s, up %s\n", d.Version, d.Addr, d.Uptime)
	}
	return nil
}
