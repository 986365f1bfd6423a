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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tombee/stagehand/internal/config"
	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/orchestrator"
	"github.com/tombee/stagehand/internal/store"
)

// maxCallBody bounds the size of a tool call request body.
const maxCallBody = 1 << 20

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Servers int    `json:"servers"`
	Active  int    `json:"active"`
}

// ServerList is returned by GET /v1/servers.
type ServerList struct {
	Servers []orchestrator.Server `json:"servers"`
	Count   int                   `json:"count"`
}

// ToolList is returned by GET /v1/servers/{id}/tools.
type ToolList struct {
	ServerID string            `json:"server_id"`
	Tools    []store.ToolEntry `json:"tools"`
}

// History is returned by GET /v1/servers/{id}/history.
type History struct {
	ServerID string         `json:"server_id"`
	Events   []events.Event `json:"events"`
}

// CallRequest is the body of POST /v1/servers/{id}/tools/{tool}/call.
type CallRequest struct {
	Arguments map[string]any `json:"arguments"`
}

// redact hides sensitive env values in a server snapshot.
func redact(srv orchestrator.Server) orchestrator.Server {
	srv.Config.Env = config.RedactEnv(srv.Config.Env)
	return srv
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	summary := s.orch.Summary()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.opts.Version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Servers: summary.Total,
		Active:  summary.Active,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Summary())
}

func (s *Server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	servers := s.orch.GetAllServers()
	for i := range servers {
		servers[i] = redact(servers[i])
	}
	writeJSON(w, http.StatusOK, ServerList{Servers: servers, Count: len(servers)})
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	srv, err := s.orch.GetServer(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redact(srv))
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Unregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	srv, err := s.orch.StartServer(r.Context(), chi.URLParam(r, "id"))
	s.writeServer(w, r, srv, err)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	srv, err := s.orch.ReloadServer(r.Context(), chi.URLParam(r, "id"))
	s.writeServer(w, r, srv, err)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	srv, err := s.orch.ResumeServer(r.Context(), chi.URLParam(r, "id"))
	s.writeServer(w, r, srv, err)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.StopServer(r.Context(), id); err != nil {
		s.handleError(w, r, err)
		return
	}
	srv, err := s.orch.GetServer(id)
	s.writeServer(w, r, srv, err)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.PauseServer(r.Context(), id); err != nil {
		s.handleError(w, r, err)
		return
	}
	srv, err := s.orch.GetServer(id)
	s.writeServer(w, r, srv, err)
}

func (s *Server) writeServer(w http.ResponseWriter, r *http.Request, srv orchestrator.Server, err error) {
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redact(srv))
}

func (s *Server) handleServerMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.orch.GetServerMetrics(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history, err := s.orch.GetServerHistory(id)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, History{ServerID: id, Events: history})
}

// handleListTools lists every registry entry, or only enabled ones with
// ?enabled=true.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var (
		tools []store.ToolEntry
		err   error
	)
	if r.URL.Query().Get("enabled") == "true" {
		tools, err = s.orch.GetEnabledTools(id)
	} else {
		tools, err = s.orch.GetTools(id)
	}
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToolList{ServerID: id, Tools: tools})
}

func (s *Server) handleEnableTool(w http.ResponseWriter, r *http.Request) {
	entry, err := s.orch.EnableTool(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "tool"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDisableTool(w http.ResponseWriter, r *http.Request) {
	entry, err := s.orch.DisableTool(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "tool"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	body := http.MaxBytesReader(w, r.Body, maxCallBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}

	resp, err := s.orch.ExecuteTool(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "tool"), req.Arguments)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
