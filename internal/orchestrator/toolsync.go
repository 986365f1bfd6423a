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
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/mcp"
	"github.com/tombee/stagehand/internal/store"
)

// ToolRegistry is the authoritative in-memory tool registry. The store is a
// write-behind copy of it.
type ToolRegistry struct {
	// tools maps server id -> tool name -> entry
	tools map[string]map[string]*store.ToolEntry

	now func() time.Time
	mu  sync.RWMutex
}

// SyncResult describes what one reconciliation pass changed.
type SyncResult struct {
	// Changes lists tool names by kind of change.
	Changes events.ToolsChange

	// Dirty holds every entry that must be written to the store.
	Dirty []store.ToolEntry

	// Invalid holds tool definitions that were skipped.
	Invalid []InvalidTool
}

// Changed reports whether the pass changed the registry.
func (r SyncResult) Changed() bool {
	c := r.Changes
	return len(c.Added)+len(c.Updated)+len(c.Removed)+len(c.Restored) > 0
}

// InvalidTool is a tool definition that could not be registered.
type InvalidTool struct {
	Name   string
	Reason string
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(now func() time.Time) *ToolRegistry {
	if now == nil {
		now = time.Now
	}
	return &ToolRegistry{
		tools: make(map[string]map[string]*store.ToolEntry),
		now:   now,
	}
}

// Seed loads previously persisted entries for a server. Existing in-memory
// entries win. Seeded entries are unavailable until the server reports them.
func (t *ToolRegistry) Seed(serverID string, entries []store.ToolEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	known := t.serverTools(serverID)
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		if _, ok := known[e.Name]; ok {
			continue
		}
		entry := e
		entry.ServerID = serverID
		entry.Available = false
		known[e.Name] = &entry
	}
}

// serverTools returns the entry map for a server, creating it. Callers hold mu.
func (t *ToolRegistry) serverTools(serverID string) map[string]*store.ToolEntry {
	known, ok := t.tools[serverID]
	if !ok {
		known = make(map[string]*store.ToolEntry)
		t.tools[serverID] = known
	}
	return known
}

// Sync reconciles the tools a server reported against the registry.
//
// Reported tools are upserted with a fresh description, schema and
// timestamp; Enabled is never overwritten for a known tool. Known tools
// missing from the report are disabled and marked unavailable. A tool that
// sync disabled is re-enabled when it reappears; a tool an operator
// disabled stays disabled. An empty report is valid and disables every
// known tool.
func (t *ToolRegistry) Sync(serverID string, reported []mcp.ToolDefinition) SyncResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	known := t.serverTools(serverID)
	seen := make(map[string]bool, len(reported))

	var result SyncResult

	for _, def := range reported {
		if reason := checkDefinition(def, seen); reason != "" {
			result.Invalid = append(result.Invalid, InvalidTool{Name: def.Name, Reason: reason})
			continue
		}
		seen[def.Name] = true

		entry, ok := known[def.Name]
		if !ok {
			entry = &store.ToolEntry{
				ServerID:    serverID,
				Name:        def.Name,
				Description: def.Description,
				InputSchema: cloneRaw(def.InputSchema),
				Enabled:     true,
				Available:   true,
				UpdatedAt:   now,
			}
			known[def.Name] = entry
			result.Changes.Added = append(result.Changes.Added, def.Name)
			result.Dirty = append(result.Dirty, *entry)
			continue
		}

		if entry.Description != def.Description || !bytes.Equal(entry.InputSchema, def.InputSchema) {
			entry.Description = def.Description
			entry.InputSchema = cloneRaw(def.InputSchema)
			result.Changes.Updated = append(result.Changes.Updated, def.Name)
		}
		if !entry.Available {
			entry.Available = true
			if entry.DisabledBy == store.DisabledBySync {
				entry.Enabled = true
				entry.DisabledBy = ""
			}
			result.Changes.Restored = append(result.Changes.Restored, def.Name)
		}
		entry.UpdatedAt = now
		result.Dirty = append(result.Dirty, *entry)
	}

	for name, entry := range known {
		if seen[name] || !entry.Available {
			continue
		}
		entry.Available = false
		if entry.Enabled {
			entry.Enabled = false
			entry.DisabledBy = store.DisabledBySync
		}
		entry.UpdatedAt = now
		result.Changes.Removed = append(result.Changes.Removed, name)
		result.Dirty = append(result.Dirty, *entry)
	}

	sort.Strings(result.Changes.Added)
	sort.Strings(result.Changes.Updated)
	sort.Strings(result.Changes.Removed)
	sort.Strings(result.Changes.Restored)
	sort.Slice(result.Dirty, func(i, j int) bool { return result.Dirty[i].Name < result.Dirty[j].Name })
	return result
}

// Differs reports whether reported differs from the available tools in the
// registry by name, description or schema.
func (t *ToolRegistry) Differs(serverID string, reported []mcp.ToolDefinition) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	known := t.tools[serverID]
	available := 0
	for _, e := range known {
		if e.Available {
			available++
		}
	}
	if available != len(reported) {
		return true
	}
	for _, def := range reported {
		e, ok := known[def.Name]
		if !ok || !e.Available || e.Description != def.Description || !bytes.Equal(e.InputSchema, def.InputSchema) {
			return true
		}
	}
	return false
}

// SetEnabled flips the operator switch for one tool.
func (t *ToolRegistry) SetEnabled(serverID, name string, enabled bool) (store.ToolEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tools[serverID][name]
	if !ok {
		return store.ToolEntry{}, errToolNotFound(serverID, name)
	}
	entry.Enabled = enabled
	if enabled {
		entry.DisabledBy = ""
	} else {
		entry.DisabledBy = store.DisabledByOperator
	}
	entry.UpdatedAt = t.now()
	return *entry, nil
}

// Get returns one entry.
func (t *ToolRegistry) Get(serverID, name string) (store.ToolEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.tools[serverID][name]
	if !ok {
		return store.ToolEntry{}, false
	}
	return *entry, true
}

// List returns every entry for a server, sorted by name.
func (t *ToolRegistry) List(serverID string) []store.ToolEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]store.ToolEntry, 0, len(t.tools[serverID]))
	for _, e := range t.tools[serverID] {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Callable returns the enabled, available entries for a server.
func (t *ToolRegistry) Callable(serverID string) []store.ToolEntry {
	all := t.List(serverID)
	out := make([]store.ToolEntry, 0, len(all))
	for _, e := range all {
		if e.Enabled && e.Available {
			out = append(out, e)
		}
	}
	return out
}

// Forget drops every entry for a server.
func (t *ToolRegistry) Forget(serverID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tools, serverID)
}

// checkDefinition returns why def cannot be registered, or "".
func checkDefinition(def mcp.ToolDefinition, seen map[string]bool) string {
	if def.Name == "" {
		return "tool name is empty"
	}
	if seen[def.Name] {
		return "duplicate tool name"
	}
	if len(def.InputSchema) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
			return fmt.Sprintf("input schema is not a JSON object: %v", err)
		}
	}
	return ""
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
