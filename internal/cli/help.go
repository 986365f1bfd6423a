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


package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/stagehand/internal/commands/shared"
	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/orchestrator"
)

// Reference is the output of 'stagehand help --json'. Next to the command
// tree it carries the vocabulary needed to read other commands' output.
type Reference struct {
	Path        string        `json:"path"`
	Commands    []CommandRef  `json:"commands"`
	GlobalFlags []FlagRef     `json:"global_flags,omitempty"`
	States      []StateRef    `json:"states"`
	EventTypes  []string      `json:"event_types"`
	ExitCodes   []ExitCodeRef `json:"exit_codes"`
}

// CommandRef describes one command and its subcommands.
type CommandRef struct {
	Path     string       `json:"path"`
	Short    string       `json:"short"`
	Usage    string       `json:"usage"`
	Aliases  []string     `json:"aliases,omitempty"`
	Flags    []FlagRef    `json:"flags,omitempty"`
	Commands []CommandRef `json:"commands,omitempty"`
}

// FlagRef describes one flag.
type FlagRef struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required,omitempty"`
}

// StateRef is a server state and the states it may move to.
type StateRef struct {
	Name string   `json:"name"`
	Next []string `json:"next"`
}

// ExitCodeRef is a process exit code and its meaning.
type ExitCodeRef struct {
	Code    int    `json:"code"`
	Meaning string `json:"meaning"`
}

var exitCodes = []ExitCodeRef{
	{shared.ExitSuccess, "success"},
	{shared.ExitFailed, "command failed"},
	{shared.ExitInvalidConfig, "invalid configuration"},
	{shared.ExitNotFound, "server or tool not found"},
	{shared.ExitUnavailable, "daemon unreachable"},
}

// helpTopics are printed by 'stagehand help <topic>'.
var helpTopics = map[string]func(io.Writer){
	"states":      printStates,
	"event-types": printEventTypes,
	"exit-codes":  printExitCodes,
}

// NewHelpCommand creates the help command. Besides command help it prints
// the server states, event types and exit codes as topics.
func NewHelpCommand(rootCmd *cobra.Command) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "help [command | states | event-types | exit-codes]",
		Short: "Help about any command or topic",
		Long: `Help shows usage for a command, or one of these topics:

  states       server lifecycle states and their legal successors
  event-types  event types accepted by 'stagehand events --type'
  exit-codes   process exit codes

With --json the whole command tree and every topic is printed at once.`,
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			topics := make([]string, 0, len(helpTopics))
			for name := range helpTopics {
				topics = append(topics, name)
			}
			slices.Sort(topics)
			for _, c := range rootCmd.Commands() {
				if c.IsAvailableCommand() {
					topics = append(topics, c.Name())
				}
			}
			return topics, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			useJSON := shared.GetJSON() || jsonOutput

			target := rootCmd
			if len(args) > 0 {
				if topic, ok := helpTopics[args[0]]; ok {
					if useJSON {
						return shared.EmitJSON(out, buildReference(rootCmd, rootCmd))
					}
					topic(out)
					return nil
				}
				found, _, err := rootCmd.Find(args)
				if err != nil || found == rootCmd {
					return fmt.Errorf("unknown help topic %q", strings.Join(args, " "))
				}
				target = found
			}

			if useJSON {
				return shared.EmitJSON(out, buildReference(rootCmd, target))
			}
			return target.Help()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

// buildReference describes target and everything below it.
func buildReference(rootCmd, target *cobra.Command) Reference {
	ref := Reference{
		Path:        target.CommandPath(),
		GlobalFlags: flagRefs(rootCmd.PersistentFlags()),
		States:      stateRefs(),
		ExitCodes:   exitCodes,
	}
	for _, t := range events.AllTypes() {
		ref.EventTypes = append(ref.EventTypes, string(t))
	}

	if target == rootCmd {
		ref.Commands = commandRefs(rootCmd)
	} else {
		ref.Commands = []CommandRef{commandRef(target)}
	}
	return ref
}

func commandRefs(parent *cobra.Command) []CommandRef {
	var refs []CommandRef
	for _, c := range parent.Commands() {
		if !c.IsAvailableCommand() || c.Name() == "help" {
			continue
		}
		refs = append(refs, commandRef(c))
	}
	return refs
}

func commandRef(c *cobra.Command) CommandRef {
	return CommandRef{
		Path:     c.CommandPath(),
		Short:    c.Short,
		Usage:    c.UseLine(),
		Aliases:  c.Aliases,
		Flags:    flagRefs(c.LocalNonPersistentFlags()),
		Commands: commandRefs(c),
	}
}

func flagRefs(fs *pflag.FlagSet) []FlagRef {
	var refs []FlagRef
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Hidden || f.Name == "help" {
			return
		}
		_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
		refs = append(refs, FlagRef{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Usage:     f.Usage,
			Default:   f.DefValue,
			Required:  required,
		})
	})
	return refs
}

func stateRefs() []StateRef {
	all := orchestrator.AllStates()
	refs := make([]StateRef, 0, len(all))
	for _, from := range all {
		ref := StateRef{Name: string(from), Next: []string{}}
		for _, to := range all {
			if orchestrator.CanTransition(from, to) {
				ref.Next = append(ref.Next, string(to))
			}
		}
		refs = append(refs, ref)
	}
	return refs
}

func printStates(w io.Writer) {
	fmt.Fprintln(w, shared.Header.Render("Server states"))
	for _, ref := range stateRefs() {
		fmt.Fprintf(w, "  %s -> %s\n",
			shared.RenderState(orchestrator.State(ref.Name), 11),
			strings.Join(ref.Next, ", "))
	}
}

func printEventTypes(w io.Writer) {
	fmt.Fprintln(w, shared.Header.Render("Event types"))
	for _, t := range events.AllTypes() {
		fmt.Fprintf(w, "  %s\n", t)
	}
}

func printExitCodes(w io.Writer) {
	fmt.Fprintln(w, shared.Header.Render("Exit codes"))
	for _, c := range exitCodes {
		fmt.Fprintf(w, "  %-3d %s\n", c.Code, c.Meaning)
	}
}
