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
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRoot builds the real root command with a small servers group.
func newTestRoot() *cobra.Command {
	root := NewRootCommand()
	root.CompletionOptions.DisableDefaultCmd = true

	servers := &cobra.Command{Use: "servers", Short: "Manage servers", Aliases: []string{"srv"}}
	start := &cobra.Command{Use: "start <id>...", Short: "Start servers", RunE: func(*cobra.Command, []string) error { return nil }}
	list := &cobra.Command{Use: "list", Short: "List servers", RunE: func(*cobra.Command, []string) error { return nil }}
	list.Flags().String("state", "", "Only list servers in this state")
	servers.AddCommand(start, list)
	root.AddCommand(servers)
	return root
}

func runHelp(t *testing.T, args ...string) string {
	t.Helper()
	root := newTestRoot()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"help"}, args...))
	require.NoError(t, root.Execute())
	return buf.String()
}

func TestHelp_JSONReference(t *testing.T) {
	var ref Reference
	require.NoError(t, json.Unmarshal([]byte(runHelp(t, "--json")), &ref))

	assert.Equal(t, "stagehand", ref.Path)
	require.Len(t, ref.Commands, 1, "help itself is not listed")

	servers := ref.Commands[0]
	assert.Equal(t, "stagehand servers", servers.Path)
	assert.Equal(t, []string{"srv"}, servers.Aliases)
	require.Len(t, servers.Commands, 2)
	assert.Equal(t, "stagehand servers list", servers.Commands[0].Path)
	require.Len(t, servers.Commands[0].Flags, 1)
	assert.Equal(t, "state", servers.Commands[0].Flags[0].Name)

	var globals []string
	for _, f := range ref.GlobalFlags {
		globals = append(globals, f.Name)
	}
	assert.Subset(t, globals, []string{"addr", "json", "config", "verbose"})

	assert.Contains(t, ref.EventTypes, "serverWarning")
	assert.Contains(t, ref.ExitCodes, ExitCodeRef{Code: 69, Meaning: "daemon unreachable"})
}

func TestHelp_StateVocabulary(t *testing.T) {
	var ref Reference
	require.NoError(t, json.Unmarshal([]byte(runHelp(t, "--json")), &ref))

	next := make(map[string][]string, len(ref.States))
	for _, s := range ref.States {
		next[s.Name] = s.Next
	}

	tests := []struct {
		state string
		want  []string
	}{
		{"stopped", []string{"starting"}},
		{"running", []string{"paused", "stopping", "restarting", "error"}},
		{"paused", []string{"starting", "stopping"}},
		{"stopping", []string{"stopped"}},
		{"restarting", []string{"running", "error"}},
	}
	for _, tt := range tests {
		got, ok := next[tt.state]
		if !ok {
			t.Errorf("state %q missing from reference", tt.state)
			continue
		}
		assert.ElementsMatch(t, tt.want, got, "successors of %q", tt.state)
	}
}

func TestHelp_CommandScope(t *testing.T) {
	var ref Reference
	require.NoError(t, json.Unmarshal([]byte(runHelp(t, "servers", "start", "--json")), &ref))

	assert.Equal(t, "stagehand servers start", ref.Path)
	require.Len(t, ref.Commands, 1)
	assert.Contains(t, ref.Commands[0].Usage, "stagehand servers start <id>...")
	assert.Empty(t, ref.Commands[0].Commands)
}

func TestHelp_Topics(t *testing.T) {
	tests := []struct {
		topic string
		want  []string
	}{
		{"states", []string{"Server states", "restarting", "running, error"}},
		{"event-types", []string{"Event types", "toolsChanged", "stateChanged"}},
		{"exit-codes", []string{"Exit codes", "69", "daemon unreachable"}},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			out := runHelp(t, tt.topic)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestHelp_TopicJSON(t *testing.T) {
	var ref Reference
	require.NoError(t, json.Unmarshal([]byte(runHelp(t, "exit-codes", "--json")), &ref))
	assert.Equal(t, "stagehand", ref.Path)
	assert.Len(t, ref.ExitCodes, 5)
}

func TestHelp_HumanCommandHelp(t *testing.T) {
	out := runHelp(t, "servers")
	assert.Contains(t, out, "Manage servers")
	assert.NotContains(t, out, `"path"`)
}

func TestHelp_UnknownTopic(t *testing.T) {
	root := newTestRoot()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"help", "nonsense"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown help topic "nonsense"`)
}
