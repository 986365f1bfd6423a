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

// State represents the lifecycle state of a managed server.
type State string

const (
	// StateStopped indicates the server is not running. It is the initial state.
	StateStopped State = "stopped"
	// StateStarting indicates the tool client is being created and initialized.
	StateStarting State = "starting"
	// StateRunning indicates the server is running and serving tools.
	StateRunning State = "running"
	// StatePaused indicates the client was released for idleness; config is kept.
	StatePaused State = "paused"
	// StateStopping indicates the client is being released.
	StateStopping State = "stopping"
	// StateRestarting indicates a health-triggered restart is in progress.
	StateRestarting State = "restarting"
	// StateError indicates a start or restart failed.
	StateError State = "error"
)

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateStopped:    {StateStarting},
	StateStarting:   {StateRunning, StateError},
	StateRunning:    {StateStopping, StatePaused, StateError, StateRestarting},
	StateRestarting: {StateRunning, StateError},
	StatePaused:     {StateStarting, StateStopping},
	StateError:      {StateStarting, StateStopping},
	StateStopping:   {StateStopped},
}

// AllStates lists every state in a stable order.
func AllStates() []State {
	return []State{
		StateStopped,
		StateStarting,
		StateRunning,
		StatePaused,
		StateStopping,
		StateRestarting,
		StateError,
	}
}

// Valid reports whether s is a declared state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns the new state, or an
// INVALID_STATE_TRANSITION error carrying both ends.
func Transition(serverID string, from, to State) (State, error) {
	if !CanTransition(from, to) {
		return from, errInvalidTransition(serverID, from, to)
	}
	return to, nil
}

// active reports whether the server holds, or is acquiring, a live client.
func (s State) active() bool {
	switch s {
	case StateRunning, StateStarting, StateRestarting:
		return true
	default:
		return false
	}
}
