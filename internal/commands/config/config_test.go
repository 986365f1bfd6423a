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


package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stagehand/internal/commands/shared"
)

const validYAML = `store:
  driver: memory
servers:
  github:
    command: npx
    args: ["-y", "@modelcontextprotocol/server-github"]
    env:
      GITHUB_TOKEN: ghp_secret
  fs:
    command: mcp-fs
`

const invalidYAML = `log:
  level: loud
servers:
  broken:
    command: ""
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, configPath string, jsonOut bool, args ...string) (string, error) {
	t.Helper()
	_, jsonPtr, cfgPtr, _ := shared.RegisterFlagPointers()
	*jsonPtr = jsonOut
	*cfgPtr = configPath
	t.Cleanup(func() {
		*jsonPtr = false
		*cfgPtr = ""
	})

	cmd := NewConfigCommand()
	// Mirror the root command, which silences cobra's own error/usage output.
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	valid := writeFile(t, "stagehand.yaml", validYAML)
	invalid := writeFile(t, "bad.yaml", invalidYAML)

	tests := []struct {
		name     string
		args     []string
		wantCode int
		want     string
	}{
		{"valid file", []string{"validate", valid}, shared.ExitSuccess, "is valid (2 servers)"},
		{"invalid file", []string{"validate", invalid}, shared.ExitInvalidConfig, "servers.broken.command is required"},
		{"missing file", []string{"validate", filepath.Join(t.TempDir(), "nope.yaml")}, shared.ExitInvalidConfig, "is invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "", false, tt.args...)
			if got := shared.ExitCode(err); got != tt.wantCode {
				t.Errorf("exit code = %d, want %d", got, tt.wantCode)
			}
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestValidate_JSON(t *testing.T) {
	invalid := writeFile(t, "bad.yaml", invalidYAML)

	out, err := execute(t, "", true, "validate", invalid)
	require.Error(t, err)

	var result ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.False(t, result.Valid)
	assert.Equal(t, invalid, result.Path)
	assert.Len(t, result.Errors, 2)
}

func TestValidate_TOML(t *testing.T) {
	path := writeFile(t, "stagehand.toml", `
[store]
driver = "memory"

[servers.echo]
command = "echo-server"
auto_start = true
`)

	out, err := execute(t, path, true, "validate")
	require.NoError(t, err)

	var result ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Valid)
	assert.Equal(t, []string{"echo"}, result.Servers)
}

func TestShow_RedactsSecrets(t *testing.T) {
	path := writeFile(t, "stagehand.yaml", validYAML)

	out, err := execute(t, path, false, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "GITHUB_TOKEN")
	assert.NotContains(t, out, "ghp_secret")
	assert.Contains(t, out, "driver: memory")
}

func TestShow_InvalidConfig(t *testing.T) {
	path := writeFile(t, "bad.yaml", invalidYAML)

	_, err := execute(t, path, false, "show")
	assert.Equal(t, shared.ExitInvalidConfig, shared.ExitCode(err))
}

func TestPath(t *testing.T) {
	out, err := execute(t, "/etc/stagehand.yaml", false, "path")
	require.NoError(t, err)
	assert.Equal(t, "/etc/stagehand.yaml\n", out)
}
