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

package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Backend.
type Memory struct {
	statuses map[string]ServerStatus
	tools    map[string]map[string]ToolEntry

	// failWith, when set, is returned by every write
	failWith error

	mu sync.RWMutex
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		statuses: make(map[string]ServerStatus),
		tools:    make(map[string]map[string]ToolEntry),
	}
}

// FailWrites makes subsequent writes return err (nil restores normal
// behaviour).
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// UpsertServerStatus stores the latest status for a server.
func (m *Memory) UpsertServerStatus(_ context.Context, serverID string, status ServerStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	status.ServerID = serverID
	m.statuses[serverID] = status
	return nil
}

// UpsertTool stores a registry entry.
func (m *Memory) UpsertTool(_ context.Context, serverID string, entry ToolEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	entry.ServerID = serverID
	if m.tools[serverID] == nil {
		m.tools[serverID] = make(map[string]ToolEntry)
	}
	m.tools[serverID][entry.Name] = entry
	return nil
}

// GetTools returns every entry for a server, sorted by name.
func (m *Memory) GetTools(_ context.Context, serverID string) ([]ToolEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]ToolEntry, 0, len(m.tools[serverID]))
	for _, e := range m.tools[serverID] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// GetEnabledTools returns the enabled entries for a server, sorted by name.
func (m *Memory) GetEnabledTools(ctx context.Context, serverID string) ([]ToolEntry, error) {
	entries, err := m.GetTools(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return filterEnabled(entries), nil
}

// GetServerStatus returns the stored status or nil.
func (m *Memory) GetServerStatus(_ context.Context, serverID string) (*ServerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[serverID]
	if !ok {
		return nil, nil
	}
	return &status, nil
}

// DeleteServer removes a server's status. Tool rows are kept.
func (m *Memory) DeleteServer(_ context.Context, serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	delete(m.statuses, serverID)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
