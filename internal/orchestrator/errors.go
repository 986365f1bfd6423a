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
	"fmt"
	"strings"
)

// ErrorCode represents a category of orchestrator error.
type ErrorCode string

const (
	// CodeServerNotFound indicates no server is registered under the id.
	CodeServerNotFound ErrorCode = "SERVER_NOT_FOUND"
	// CodeServerAlreadyExists indicates the id is already registered.
	CodeServerAlreadyExists ErrorCode = "SERVER_ALREADY_EXISTS"
	// CodeServerStartFailed indicates a start attempt failed.
	CodeServerStartFailed ErrorCode = "SERVER_START_FAILED"
	// CodeServerReloadFailed indicates the start half of a reload failed.
	CodeServerReloadFailed ErrorCode = "SERVER_RELOAD_FAILED"
	// CodeToolNotFound indicates the tool is unknown, unavailable or disabled.
	CodeToolNotFound ErrorCode = "TOOL_NOT_FOUND"
	// CodeToolExecutionFailed indicates a tool call could not be completed.
	CodeToolExecutionFailed ErrorCode = "TOOL_EXECUTION_FAILED"
	// CodeToolContextRefreshFailed indicates tool definitions could not be registered.
	CodeToolContextRefreshFailed ErrorCode = "TOOL_CONTEXT_REFRESH_FAILED"
	// CodeInvalidStateTransition indicates an operation is not legal in the current state.
	CodeInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	// CodeInvalidConfig indicates a server config failed validation.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrServerNotFound           = &Error{Code: CodeServerNotFound}
	ErrServerAlreadyExists      = &Error{Code: CodeServerAlreadyExists}
	ErrServerStartFailed        = &Error{Code: CodeServerStartFailed}
	ErrServerReloadFailed       = &Error{Code: CodeServerReloadFailed}
	ErrToolNotFound             = &Error{Code: CodeToolNotFound}
	ErrToolExecutionFailed      = &Error{Code: CodeToolExecutionFailed}
	ErrToolContextRefreshFailed = &Error{Code: CodeToolContextRefreshFailed}
	ErrInvalidStateTransition   = &Error{Code: CodeInvalidStateTransition}
	ErrInvalidConfig            = &Error{Code: CodeInvalidConfig}
)

// Error is the typed error returned by every Manager operation.
type Error struct {
	// Code is the error category.
	Code ErrorCode
	// ServerID is the server the error concerns, if any.
	ServerID string
	// Tool is the tool the error concerns, if any.
	Tool string
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if sb.Len() == 0 {
		sb.WriteString(string(e.Code))
	}
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// UserMessage returns a user-friendly message without the cause chain.
func (e *Error) UserMessage() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// Suggestion returns the first suggestion, or "".
func (e *Error) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

// NewError creates a new Error.
func NewError(code ErrorCode, serverID, message string) *Error {
	return &Error{
		Code:     code,
		ServerID: serverID,
		Message:  message,
	}
}

// WithDetail adds detail to the error.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithTool records the tool the error concerns.
func (e *Error) WithTool(tool string) *Error {
	e.Tool = tool
	return e
}

func errServerNotFound(id string) *Error {
	return NewError(CodeServerNotFound, id, fmt.Sprintf("server %q not found", id)).
		WithSuggestions(
			"List registered servers: stagehand servers list",
			"Check the servers section of your config file",
		)
}

func errServerAlreadyExists(id string) *Error {
	return NewError(CodeServerAlreadyExists, id, fmt.Sprintf("server %q already exists", id)).
		WithSuggestions("Unregister it first or choose a different name")
}

func errStartFailed(id string, cause error) *Error {
	return NewError(CodeServerStartFailed, id, fmt.Sprintf("failed to start server %q", id)).
		WithCause(cause).
		WithSuggestions(
			"Check the command and arguments are correct",
			"Inspect recent events: stagehand servers status "+id,
			"Retry with: stagehand servers start "+id,
		)
}

func errReloadFailed(id string, cause error) *Error {
	return NewError(CodeServerReloadFailed, id, fmt.Sprintf("failed to reload server %q", id)).
		WithCause(cause)
}

func errToolNotFound(id, tool string) *Error {
	return NewError(CodeToolNotFound, id, fmt.Sprintf("tool %q not found on server %q", tool, id)).
		WithTool(tool).
		WithSuggestions("List available tools: stagehand tools list " + id)
}

func errToolExecution(id, tool string, cause error) *Error {
	return NewError(CodeToolExecutionFailed, id, fmt.Sprintf("tool %q on server %q failed", tool, id)).
		WithTool(tool).
		WithCause(cause)
}

func errInvalidTransition(id string, from, to State) *Error {
	return NewError(CodeInvalidStateTransition, id,
		fmt.Sprintf("server %q cannot move from %s to %s", id, from, to))
}

func errInvalidConfig(id, detail string) *Error {
	return NewError(CodeInvalidConfig, id, "invalid server config").WithDetail(detail)
}
