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

// Package events provides the typed lifecycle event bus with bounded
// per-server history.
package events

import (
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// EventStarted is emitted when a server reaches running from a cold start.
	EventStarted EventType = "started"
	// EventStopped is emitted when a server finishes stopping.
	EventStopped EventType = "stopped"
	// EventPaused is emitted when a server is paused, usually for idleness.
	EventPaused EventType = "paused"
	// EventResumed is emitted when a paused server is running again.
	EventResumed EventType = "resumed"
	// EventRestarted is emitted after a health-triggered restart succeeds.
	EventRestarted EventType = "restarted"
	// EventError is emitted whenever a server enters the error state.
	EventError EventType = "error"
	// EventToolsChanged is emitted when a registry sync changed the tool set.
	EventToolsChanged EventType = "toolsChanged"
	// EventServerWarning is emitted when automatic restarts are exhausted.
	EventServerWarning EventType = "serverWarning"
	// EventStateChanged is emitted for every state transition.
	EventStateChanged EventType = "stateChanged"
)

// AllTypes lists every event type in a stable order.
func AllTypes() []EventType {
	return []EventType{
		EventStarted,
		EventStopped,
		EventPaused,
		EventResumed,
		EventRestarted,
		EventError,
		EventToolsChanged,
		EventServerWarning,
		EventStateChanged,
	}
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range AllTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Event is an immutable fact about a server. Handlers receive it by value.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Type is the event kind.
	Type EventType `json:"type"`

	// ServerID is the server the event concerns.
	ServerID string `json:"server_id"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// Error is the error message for error and warning events.
	Error string `json:"error,omitempty"`

	// Payload carries type-specific details (see the payload types below).
	Payload any `json:"payload,omitempty"`
}

// StateChange is the payload of EventStateChanged.
type StateChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ToolsChange is the payload of EventToolsChanged.
type ToolsChange struct {
	Added    []string `json:"added,omitempty"`
	Updated  []string `json:"updated,omitempty"`
	Removed  []string `json:"removed,omitempty"`
	Restored []string `json:"restored,omitempty"`
}

// Handler receives published events. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(Event)
