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

/*
Package orchestrator supervises a bounded set of tool-serving processes.

A Manager owns one record per registered server and drives it through a
small state machine:

	STOPPED -> STARTING -> RUNNING -> STOPPING -> STOPPED
	                       RUNNING -> PAUSED -> STARTING
	                       RUNNING -> RESTARTING -> RUNNING | ERROR

Lifecycle operations on one server are serialized; operations on different
servers run in parallel. Concurrent starts of the same server share one
attempt, so exactly one tool client is created.

# Health

A Monitor probes every running server on an interval. Servers idle for
longer than their idle timeout are paused. A failed probe restarts the
server with capped exponential backoff until the restart cap is reached,
after which the server is left in ERROR and a serverWarning event is
published. Nothing restarts it again until Start or Reload is called.

Restarts run in the background so one server's backoff never delays the
probes of the others. Stop, Close and cancelling the Monitor's context
abort a restart; an aborted start or restart is not counted as an error.

# Tools

Each start and each changed probe result is reconciled into the tool
registry. Tools are never deleted by reconciliation: a tool the server stops
reporting is disabled and marked unavailable, and is re-enabled if it comes
back, unless an operator disabled it.

# Persistence

Status and registry writes go through an ordered background queue. A
failing store is logged and never fails or rolls back a lifecycle operation.
*/
package orchestrator
