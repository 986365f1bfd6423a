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


// Package daemon wires the orchestrator, its persistence, observability
// and control API into the long-running stagehand process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/stagehand/internal/api"
	"github.com/tombee/stagehand/internal/config"
	"github.com/tombee/stagehand/internal/events"
	internallog "github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/mcp"
	"github.com/tombee/stagehand/internal/metrics"
	"github.com/tombee/stagehand/internal/orchestrator"
	"github.com/tombee/stagehand/internal/store"
	"github.com/tombee/stagehand/internal/tracing"
	"github.com/tombee/stagehand/internal/watcher"
)

// Options configures a daemon instance.
type Options struct {
	Version string

	// Addr overrides api.addr from the config file.
	Addr string

	// Listener serves the API instead of listening on the configured
	// address (optional).
	Listener net.Listener

	// ClientFactory overrides how tool clients are built (optional).
	ClientFactory mcp.ClientFactory

	// LogOutput receives log records (default: os.Stderr).
	LogOutput io.Writer
}

// Daemon is the stagehand server process.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	pid      *pidFile
	provider *tracing.Provider
	store    store.Backend
	manager  *orchestrator.Manager
	metrics  *metrics.Registry
	watcher  *watcher.Watcher
	api      *api.Server

	mu       sync.Mutex
	started  bool
	shutdown bool
}

// New builds every component in dependency order. Nothing is started
// until Run is called.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *Daemon, err error) {
	logCfg := internallog.FromEnv().Merge(cfg.Log.Level, cfg.Log.Format)
	if cfg.Log.AddSource {
		logCfg.AddSource = true
	}
	if opts.LogOutput != nil {
		logCfg.Output = opts.LogOutput
	}
	root := internallog.New(logCfg)
	slog.SetDefault(root)
	if opts.Version != "" {
		mcp.ClientVersion = opts.Version
	}

	d := &Daemon{
		cfg:    cfg,
		opts:   opts,
		logger: internallog.WithComponent(root, "daemon"),
	}
	defer func() {
		if err != nil {
			_ = d.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	if cfg.PIDFile != "" {
		d.pid, err = acquire(cfg.PIDFile)
		if err != nil {
			return nil, err
		}
	}

	// OTel instruments and the orchestrator collectors share one registry.
	promRegistry := prometheus.NewRegistry()
	d.provider, err = tracing.Setup(ctx, tracing.Config{
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: opts.Version,
		SampleRate:     cfg.Tracing.SampleRate,
	}, promRegistry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	d.store, err = store.Open(ctx, store.Config{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.Path,
		DSN:    cfg.Store.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}

	bus := events.NewBus(events.BusConfig{
		HistorySize: cfg.Orchestrator.HistorySize,
		Logger:      internallog.WithComponent(root, "events"),
	})

	orchOpts := append(cfg.OrchestratorOptions(),
		orchestrator.WithLogger(root),
		orchestrator.WithStore(d.store),
		orchestrator.WithBus(bus),
	)
	if opts.ClientFactory != nil {
		orchOpts = append(orchOpts, orchestrator.WithClientFactory(opts.ClientFactory))
	}
	d.manager, err = orchestrator.New(orchOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	for _, sc := range cfg.ServerConfigs() {
		if err := d.manager.Register(ctx, sc); err != nil {
			return nil, fmt.Errorf("failed to register server %s: %w", sc.ID, err)
		}
	}

	d.metrics, err = metrics.NewRegistry(promRegistry, d.manager, d.manager)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics registry: %w", err)
	}

	d.watcher, err = watcher.New(watcher.Config{
		Reloader: d.manager,
		Logger:   root,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	for _, sc := range cfg.ServerConfigs() {
		if len(sc.Watch) == 0 {
			continue
		}
		if err := d.watcher.Watch(sc.ID, sc.Watch); err != nil {
			d.logger.Warn("failed to watch server sources",
				internallog.ServerIDKey, sc.ID,
				internallog.Error(err))
		}
	}

	d.api, err = api.New(d.manager,
		api.WithLogger(root),
		api.WithVersion(opts.Version),
		api.WithCORSOrigins(cfg.API.CORSOrigins),
		api.WithShutdownTimeout(cfg.API.ShutdownTimeout),
		api.WithMetricsHandler(d.metrics.Handler()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create API server: %w", err)
	}

	return d, nil
}

// Manager returns the orchestrator owned by the daemon.
func (d *Daemon) Manager() *orchestrator.Manager {
	return d.manager
}

// Addr returns the address the API serves on.
func (d *Daemon) Addr() string {
	if d.opts.Listener != nil {
		return d.opts.Listener.Addr().String()
	}
	if d.opts.Addr != "" {
		return d.opts.Addr
	}
	return d.cfg.API.Addr
}

// Run serves the API, runs the health monitor and starts auto-start
// servers. It blocks until ctx is cancelled or the API fails, then shuts
// every component down.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	d.logger.Info("daemon starting",
		slog.String("version", d.opts.Version),
		slog.String("addr", d.Addr()),
		slog.String("store", d.cfg.Store.Driver),
		slog.Int("servers", len(d.cfg.Servers)))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if d.opts.Listener != nil {
			return d.api.Serve(gctx, d.opts.Listener)
		}
		return d.api.Run(gctx, d.Addr())
	})

	g.Go(func() error {
		return orchestrator.NewMonitor(d.manager).Run(gctx)
	})

	g.Go(func() error {
		d.autoStart(gctx)
		return nil
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.shutdownTimeout())
	defer cancel()
	return errors.Join(runErr, d.Shutdown(shutdownCtx))
}

// autoStart starts every auto-start server concurrently. Failures are
// logged and leave the server in the error state.
func (d *Daemon) autoStart(ctx context.Context) {
	var g errgroup.Group
	for _, sc := range d.cfg.ServerConfigs() {
		if !sc.AutoStart {
			continue
		}
		g.Go(func() error {
			if _, err := d.manager.StartServer(ctx, sc.ID); err != nil && ctx.Err() == nil {
				d.logger.Warn("auto-start failed",
					internallog.ServerIDKey, sc.ID,
					internallog.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Daemon) shutdownTimeout() time.Duration {
	return d.cfg.Orchestrator.ShutdownTimeout + d.cfg.API.ShutdownTimeout + 5*time.Second
}

// Shutdown stops every server and releases resources. It is safe to call
// more than once.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown {
		return nil
	}
	d.shutdown = true

	var errs []error
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("watcher: %w", err))
		}
	}
	if d.metrics != nil {
		d.metrics.Close()
	}
	if d.manager != nil {
		if err := d.manager.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator: %w", err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if d.provider != nil {
		if err := d.provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}

	if err := d.pid.release(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		d.logger.Error("shutdown completed with errors", internallog.Error(err))
		return err
	}
	d.logger.Info("daemon stopped")
	return nil
}
