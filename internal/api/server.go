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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/orchestrator"
)

// Server serves the orchestrator API.
type Server struct {
	orch    orchestrator.Orchestrator
	opts    Options
	logger  *slog.Logger
	router  chi.Router
	started time.Time
}

// New creates a Server over orch.
func New(orch orchestrator.Orchestrator, opts ...Option) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator cannot be nil")
	}
	options, err := NewOptions(opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid API options: %w", err)
	}

	s := &Server{
		orch:    orch,
		opts:    options,
		logger:  log.WithComponent(options.Logger, "api"),
		started: time.Now(),
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(log.HTTPMiddleware(s.logger))
	r.Use(traceMiddleware)
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(corsOptions(s.opts.CORSOrigins)))
	}

	r.Get("/healthz", s.handleHealth)
	if s.opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/summary", s.handleSummary)
		r.Get("/events", s.handleEvents)

		r.Route("/servers", func(r chi.Router) {
			r.Get("/", s.handleListServers)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetServer)
				r.Delete("/", s.handleDeleteServer)

				r.Post("/start", s.handleStart)
				r.Post("/stop", s.handleStop)
				r.Post("/reload", s.handleReload)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)

				r.Get("/metrics", s.handleServerMetrics)
				r.Get("/history", s.handleHistory)

				r.Get("/tools", s.handleListTools)
				r.Post("/tools/{tool}/enable", s.handleEnableTool)
				r.Post("/tools/{tool}/disable", s.handleDisableTool)
				r.Post("/tools/{tool}/call", s.handleCallTool)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	return r
}

func corsOptions(origins []string) cors.Options {
	opts := cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "Traceparent"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	for _, origin := range origins {
		if origin == "*" {
			opts.AllowedOrigins = []string{"*"}
			opts.AllowCredentials = false
			return opts
		}
		opts.AllowedOrigins = append(opts.AllowedOrigins, strings.TrimSpace(origin))
	}
	return opts
}

// Run listens on addr and serves until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down API server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
