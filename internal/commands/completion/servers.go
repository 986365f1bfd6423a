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


package completion

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/orchestrator"
)

// daemonTimeout bounds every daemon call made while completing.
const daemonTimeout = 2 * time.Second

// serverNames lists servers from the daemon, falling back to the config
// file. Each entry carries the server state as its description when known.
func serverNames(ctx context.Context) []string {
	if c, err := shared.NewClient(); err == nil {
		ctx, cancel := context.WithTimeout(ctx, daemonTimeout)
		defer cancel()
		if servers, err := c.ListServers(ctx); err == nil {
			names := make([]string, 0, len(servers))
			for _, s := range servers {
				names = append(names, s.ID+"\t"+string(s.State))
			}
			return names
		}
	}

	cfg, err := LoadConfigForCompletion()
	if err != nil || cfg == nil {
		return nil
	}
	return cfg.ServerNames()
}

// CompleteServerNames completes server names, skipping any already given.
func CompleteServerNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		var out []string
		for _, name := range serverNames(cmd.Context()) {
			id, _, _ := strings.Cut(name, "\t")
			if slices.Contains(args, id) || !strings.HasPrefix(id, toComplete) {
				continue
			}
			out = append(out, name)
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteFirstServerName completes a single server name argument.
func CompleteFirstServerName(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return CompleteServerNames(cmd, args, toComplete)
}

// CompleteServerThenTool completes "<server> <tool>" argument pairs. Tools
// need a reachable daemon.
func CompleteServerThenTool(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	switch len(args) {
	case 0:
		return CompleteServerNames(cmd, args, toComplete)
	case 1:
		return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
			c, err := shared.NewClient()
			if err != nil {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), daemonTimeout)
			defer cancel()
			tools, err := c.Tools(ctx, args[0], false)
			if err != nil {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			var out []string
			for _, t := range tools {
				if t.Available && strings.HasPrefix(t.Name, toComplete) {
					out = append(out, t.Name+"\t"+t.Description)
				}
			}
			return out, cobra.ShellCompDirectiveNoFileComp
		})
	default:
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
}

// CompleteEventTypes completes --type values.
func CompleteEventTypes(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		var out []string
		for _, t := range events.AllTypes() {
			out = append(out, string(t))
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteStates completes lifecycle state names.
func CompleteStates(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		var out []string
		for _, s := range orchestrator.AllStates() {
			out = append(out, string(s))
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
}
