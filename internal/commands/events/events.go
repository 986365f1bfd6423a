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


// Package events implements 'stagehand events'.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tombee/stagehand/internal/commands/completion"
	"github.com/tombee/stagehand/internal/commands/shared"
	lifecycle "github.com/tombee/stagehand/internal/events"
)

// NewCommand creates the events command.
func NewCommand() *cobra.Command {
	var (
		server string
		types  []string
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow lifecycle events",
		Long: `Stream lifecycle events from the daemon until interrupted.

Event types: ` + strings.Join(typeNames(), ", "),
		Example: `  # Follow everything
  stagehand events

  # Only errors and warnings for one server
  stagehand events --server github --type error,serverWarning

  # Newline-delimited JSON
  stagehand events --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range types {
				if !lifecycle.EventType(t).Valid() {
					return fmt.Errorf("unknown event type %q (valid: %s)", t, strings.Join(typeNames(), ", "))
				}
			}

			c, err := shared.NewClient()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			err = c.StreamEvents(cmd.Context(), server, types, func(e lifecycle.Event) error {
				return printEvent(out, e)
			})
			return shared.DaemonError(err)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Only events for this server")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Only these event types (comma-separated)")
	_ = cmd.RegisterFlagCompletionFunc("server", completion.CompleteFirstServerName)
	_ = cmd.RegisterFlagCompletionFunc("type", completion.CompleteEventTypes)
	return cmd
}

func typeNames() []string {
	all := lifecycle.AllTypes()
	names := make([]string, len(all))
	for i, t := range all {
		names[i] = string(t)
	}
	return names
}

func printEvent(out io.Writer, e lifecycle.Event) error {
	if shared.GetJSON() {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	ts := shared.Muted.Render(e.Timestamp.Local().Format("15:04:05.000"))
	kind := styleFor(e.Type).Render(fmt.Sprintf("%-13s", e.Type))
	line := fmt.Sprintf("%s %s %s", ts, kind, e.ServerID)
	if e.Payload != nil && e.Type != lifecycle.EventStarted && e.Type != lifecycle.EventStopped {
		if data, err := json.Marshal(e.Payload); err == nil {
			line += " " + shared.Muted.Render(string(data))
		}
	}
	if e.Error != "" {
		line += " " + shared.StatusError.Render(e.Error)
	}
	_, err := fmt.Fprintln(out, line)
	return err
}

func styleFor(t lifecycle.EventType) lipgloss.Style {
	switch t {
	case lifecycle.EventError:
		return shared.StatusError
	case lifecycle.EventServerWarning, lifecycle.EventPaused:
		return shared.StatusWarn
	case lifecycle.EventStarted, lifecycle.EventResumed, lifecycle.EventRestarted:
		return shared.StatusOK
	case lifecycle.EventStateChanged:
		return shared.Muted
	default:
		return shared.StatusInfo
	}
}
