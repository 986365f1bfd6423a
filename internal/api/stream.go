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
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tombee/stagehand/internal/events"
	"github.com/tombee/stagehand/internal/log"
)

// handleEvents streams lifecycle events as server-sent events.
//
// Query parameters:
//   - server: only events for this server id
//   - type: comma-separated event types
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming not supported")
		return
	}

	serverID := r.URL.Query().Get("server")
	types, err := parseTypes(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	ch := make(chan events.Event, s.opts.StreamBuffer)
	var dropped atomic.Int64
	handler := func(e events.Event) {
		if serverID != "" && e.ServerID != serverID {
			return
		}
		select {
		case ch <- e:
		default:
			dropped.Add(1)
		}
	}

	var unsubscribe []func()
	if len(types) == 0 {
		unsubscribe = append(unsubscribe, s.orch.OnAny(handler))
	} else {
		for _, t := range types {
			unsubscribe = append(unsubscribe, s.orch.On(t, handler))
		}
	}
	defer func() {
		for _, u := range unsubscribe {
			u()
		}
		if n := dropped.Load(); n > 0 {
			s.logger.Warn("event stream dropped events", "dropped", n, "remote", r.RemoteAddr)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.opts.KeepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case e := <-ch:
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.Error("failed to encode event", log.EventKey, string(e.Type), "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data)
			flusher.Flush()
		}
	}
}

func parseTypes(raw string) ([]events.EventType, error) {
	if raw == "" {
		return nil, nil
	}
	var types []events.EventType
	for _, part := range strings.Split(raw, ",") {
		t := events.EventType(strings.TrimSpace(part))
		if !t.Valid() {
			return nil, fmt.Errorf("unknown event type %q", t)
		}
		types = append(types, t)
	}
	return types, nil
}
