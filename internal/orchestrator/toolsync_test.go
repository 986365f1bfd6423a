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

package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/stagehand/internal/mcp"
	"github.com/tombee/stagehand/internal/mcp/mcptest"
	"github.com/tombee/stagehand/internal/store"
)

func names(entries []store.ToolEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestToolRegistry_SyncAddsTools(t *testing.T) {
	reg := NewToolRegistry(nil)

	res := reg.Sync("echo", []mcp.ToolDefinition{
		mcptest.Tool("b", "second"),
		mcptest.Tool("a", "first"),
	})

	assert.Equal(t, []string{"a", "b"}, res.Changes.Added)
	assert.True(t, res.Changed())
	assert.Len(t, res.Dirty, 2)
	assert.Equal(t, []string{"a", "b"}, names(reg.Callable("echo")))

	entry, ok := reg.Get("echo", "a")
	require.True(t, ok)
	assert.True(t, entry.Enabled)
	assert.True(t, entry.Available)
	assert.Equal(t, "echo", entry.ServerID)
	assert.Equal(t, "first", entry.Description)
}

func TestToolRegistry_SoftRemoval(t *testing.T) {
	reg := NewToolRegistry(nil)
	reg.Sync("echo", []mcp.ToolDefinition{mcptest.Tool("A", ""), mcptest.Tool("B", "")})

	res := reg.Sync("echo", []mcp.ToolDefinition{mcptest.Tool("A", "")})
	assert.Equal(t, []string{"B"}, res.Changes.Removed)

	b, ok := reg.Get("echo", "B")
	require.True(t, ok, "removed tools are kept")
	assert.False(t, b.Enabled)
	assert.False(t, b.Available)
	assert.Equal(t, store.DisabledBySync, b.DisabledBy)

	assert.Equal(t, []string{"A"}, names(reg.Callable("echo")))
	assert.Equal(t, []string{"A", "B"}, names(reg.List("echo")))

	// B comes back and is re-enabled because sync disabled it.
	res = reg.Sync("echo", []mcp.ToolDefinition{mcptest.Tool("A", ""), mcptest.Tool("B", "")})
	assert.Equal(t, []string{"B"}, res.Changes.Restored)
	assert.Equal(t, []string{"A", "B"}, names(reg.Callable("echo")))
}

func TestToolRegistry_NeverOverwritesOperatorDisable(t *testing.T) {
	reg := NewToolRegistry(nil)
	reg.Sync("echo", []mcp.ToolDefinition{mcptest.Tool("A", ""), mcptest.Tool("B", "")})

	_, err := reg.SetEnabled("echo", "A", false)
	require.NoError(t, err)

	// Re-reporting A must not flip it back on.
	reg.Sync("echo", []mcp.ToolDefinition{mcptest.Tool("A", "changed"), mcptest.Tool("B", "")})
	a, _ := reg.Get("echo", "A")
	assert.False(t, a.Enabled)
	assert.Equal(t, store.DisabledByOperator, a.DisabledBy)
	assert.Equal(t, "changed", a.Description)

	// Nor does a removal followed by a reappearance.
	reg.Sync("echo", []mcp.ToolDefinition{mcptest.Tool("B", "")})
	reg.Sync("echo", []mcp.ToolDefinition{mcptest.Tool("A", "changed"), mcptest.Tool("B", "")})
	a, _ = reg.Get("echo", "A")
	assert.False(t, a.Enabled)
	assert.True(t, a.Available)
	assert.Equal(t, store.DisabledByOperator, a.DisabledBy)

	a, err = reg.SetEnabled("echo", "A", true)
	require.NoError(t, err)
	assert.True(t, a.Enabled)
	assert.Empty(t, a.DisabledBy)
}

func TestToolRegistry_EmptyListDisablesAll(t *testing.T) {
	reg := NewToolRegistry(nil)
	reg.Sync("echo", []mcp.ToolDefinition{mcptest.Tool("A", ""), mcptest.Tool("B", "")})

	res := reg.Sync("echo", nil)
	assert.Equal(t, []string{"A", "B"}, res.Changes.Removed)
	assert.Empty(t, reg.Callable("echo"))
	assert.Len(t, reg.List("echo"), 2)

	res = reg.Sync("echo", nil)
	assert.False(t, res.Changed(), "a second empty sync changes nothing")
}

func TestToolRegistry_InvalidDefinitionsSkipped(t *testing.T) {
	reg := NewToolRegistry(nil)

	res := reg.Sync("echo", []mcp.ToolDefinition{
		mcptest.Tool("good", ""),
		{Name: ""},
		{Name: "bad_schema", InputSchema: []byte(`[1,2`)},
		mcptest.Tool("good", "duplicate"),
	})

	assert.Equal(t, []string{"good"}, res.Changes.Added)
	require.Len(t, res.Invalid, 3)
	assert.Equal(t, "bad_schema", res.Invalid[1].Name)
	assert.Equal(t, []string{"good"}, names(reg.List("echo")))
}

func TestToolRegistry_UpdatesTimestampAndDescription(t *testing.T) {
	clock := newFakeClock()
	reg := NewToolRegistry(clock.Now)
	reg.Sync("echo", []mcp.ToolDefinition{mcptest.Tool("A", "v1")})

	clock.Advance(time.Minute)
	res := reg.Sync("echo", []mcp.ToolDefinition{mcptest.Tool("A", "v2")})
	assert.Equal(t, []string{"A"}, res.Changes.Updated)

	a, _ := reg.Get("echo", "A")
	assert.Equal(t, "v2", a.Description)
	assert.Equal(t, clock.Now(), a.UpdatedAt)
}

func TestToolRegistry_Differs(t *testing.T) {
	reg := NewToolRegistry(nil)
	tools := []mcp.ToolDefinition{mcptest.Tool("A", ""), mcptest.Tool("B", "")}

	assert.True(t, reg.Differs("echo", tools))
	reg.Sync("echo", tools)
	assert.False(t, reg.Differs("echo", tools))
	assert.True(t, reg.Differs("echo", tools[:1]))
	assert.True(t, reg.Differs("echo", []mcp.ToolDefinition{mcptest.Tool("A", "new"), mcptest.Tool("B", "")}))
}

func TestToolRegistry_SeedKeepsOperatorChoice(t *testing.T) {
	reg := NewToolRegistry(nil)
	reg.Seed("echo", []store.ToolEntry{
		{Name: "A", Enabled: false, Available: true, DisabledBy: store.DisabledByOperator},
	})

	reg.Sync("echo", []mcp.ToolDefinition{mcptest.Tool("A", "")})
	a, ok := reg.Get("echo", "A")
	require.True(t, ok)
	assert.False(t, a.Enabled)
}

func TestToolRegistry_SeededToolsWaitForSync(t *testing.T) {
	reg := NewToolRegistry(nil)
	reg.Seed("echo", []store.ToolEntry{
		{Name: "A", Enabled: true, Available: true},
		{Name: "B", Enabled: true, Available: true},
	})

	assert.Empty(t, reg.Callable("echo"), "nothing is callable before the server reports")
	assert.Len(t, reg.List("echo"), 2)

	res := reg.Sync("echo", []mcp.ToolDefinition{mcptest.Tool("A", "")})
	assert.Equal(t, []string{"A"}, res.Changes.Restored)
	assert.Empty(t, res.Changes.Removed, "B was never reported, so nothing is removed")

	callable := reg.Callable("echo")
	require.Len(t, callable, 1)
	assert.Equal(t, "A", callable[0].Name)
}

func TestToolRegistry_SetEnabledUnknown(t *testing.T) {
	reg := NewToolRegistry(nil)
	_, err := reg.SetEnabled("echo", "missing", true)
	assert.True(t, errors.Is(err, ErrToolNotFound))
}

func TestSuccessWindow(t *testing.T) {
	w := newSuccessWindow(4)

	rate, n := w.rate()
	assert.Equal(t, 1.0, rate)
	assert.Equal(t, 0, n)

	w.record(true)
	w.record(false)
	rate, n = w.rate()
	assert.Equal(t, 0.5, rate)
	assert.Equal(t, 2, n)

	// Fill and roll over: the oldest outcomes fall out.
	w.record(false)
	w.record(false)
	w.record(true)
	w.record(true)
	rate, n = w.rate()
	assert.Equal(t, 4, n)
	assert.Equal(t, 0.5, rate)
}
