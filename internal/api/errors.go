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


package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tombee/stagehand/internal/orchestrator"
)

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Detail      string   `json:"detail,omitempty"`
	ServerID    string   `json:"server_id,omitempty"`
	Tool        string   `json:"tool,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ErrorResponse wraps ErrorBody.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// statusFor maps an orchestrator error to an HTTP status.
//
// Every orchestrator.ErrorCode needs a case here; anything unmatched is 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrServerNotFound),
		errors.Is(err, orchestrator.ErrToolNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrServerAlreadyExists),
		errors.Is(err, orchestrator.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, orchestrator.ErrServerStartFailed),
		errors.Is(err, orchestrator.ErrServerReloadFailed),
		errors.Is(err, orchestrator.ErrToolExecutionFailed),
		errors.Is(err, orchestrator.ErrToolContextRefreshFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err as an error response.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	body := ErrorBody{Code: "INTERNAL", Message: "internal server error"}
	var oerr *orchestrator.Error
	if errors.As(err, &oerr) {
		body = ErrorBody{
			Code:        string(oerr.Code),
			Message:     oerr.Error(),
			Detail:      oerr.Detail,
			ServerID:    oerr.ServerID,
			Tool:        oerr.Tool,
			Suggestions: oerr.Suggestions,
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, ErrorResponse{Error: body})
}
