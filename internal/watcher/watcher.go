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

// Package watcher reloads servers when their source files change.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tombee/stagehand/internal/log"
	"github.com/tombee/stagehand/internal/orchestrator"
)

// DefaultDebounce is the quiet period after the last change before a reload.
const DefaultDebounce = 200 * time.Millisecond

// Reloader is the part of the orchestrator the watcher drives.
type Reloader interface {
	GetServer(id string) (orchestrator.Server, error)
	ReloadServer(ctx context.Context, id string) (orchestrator.Server, error)
}

// Watcher monitors server source paths and reloads running servers after
// their files change.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	reloader  Reloader
	logger    *slog.Logger
	debounce  time.Duration

	// watched maps server ids to absolute watched paths.
	watched map[string][]string

	// pending holds debounce timers by server id.
	pending map[string]*time.Timer
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures the watcher.
type Config struct {
	// Reloader receives reload requests. Required.
	Reloader Reloader

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration
}

// New creates a watcher and starts its event loop.
func New(cfg Config) (*Watcher, error) {
	if cfg.Reloader == nil {
		return nil, fmt.Errorf("reloader is required")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fsWatcher: fsWatcher,
		reloader:  cfg.Reloader,
		logger:    log.WithComponent(logger, "watcher"),
		debounce:  debounce,
		watched:   make(map[string][]string),
		pending:   make(map[string]*time.Timer),
		ctx:       ctx,
		cancel:    cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Watch adds paths for a server. Directories match any file beneath them.
func (w *Watcher) Watch(serverID string, paths []string) error {
	if serverID == "" {
		return fmt.Errorf("server id is required")
	}
	if len(paths) == 0 {
		return fmt.Errorf("at least one path is required")
	}

	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to resolve path %s: %w", p, err)
		}
		abs = append(abs, a)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, a := range abs {
		if err := w.fsWatcher.Add(a); err != nil {
			return fmt.Errorf("failed to watch path %s: %w", a, err)
		}
		w.logger.Debug("watching path", log.ServerIDKey, serverID, "path", a)
	}
	w.watched[serverID] = append(w.watched[serverID], abs...)
	return nil
}

// Unwatch stops watching a server's paths and cancels any pending reload.
func (w *Watcher) Unwatch(serverID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, ok := w.watched[serverID]
	if !ok {
		return
	}
	delete(w.watched, serverID)

	for _, p := range paths {
		if !w.inUseLocked(p) {
			_ = w.fsWatcher.Remove(p)
		}
	}
	if timer, ok := w.pending[serverID]; ok {
		timer.Stop()
		delete(w.pending, serverID)
	}
}

// Watched returns the ids of servers with watched paths.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.watched))
	for id := range w.watched {
		ids = append(ids, id)
	}
	return ids
}

func (w *Watcher) inUseLocked(path string) bool {
	for _, paths := range w.watched {
		for _, p := range paths {
			if p == path {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.handleChange(event.Name)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

// handleChange schedules a reload for every server watching path.
func (w *Watcher) handleChange(changed string) {
	abs, err := filepath.Abs(changed)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for id, paths := range w.watched {
		if !matches(paths, abs) {
			continue
		}
		w.logger.Debug("source file changed", log.ServerIDKey, id, "file", abs)

		if timer, ok := w.pending[id]; ok {
			timer.Stop()
		}
		serverID := id
		w.pending[id] = time.AfterFunc(w.debounce, func() {
			w.trigger(serverID)
		})
	}
}

func matches(watched []string, changed string) bool {
	for _, p := range watched {
		if p == changed || strings.HasPrefix(changed, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// trigger reloads a server that is still running.
func (w *Watcher) trigger(serverID string) {
	w.mu.Lock()
	delete(w.pending, serverID)
	w.mu.Unlock()

	if w.ctx.Err() != nil {
		return
	}

	srv, err := w.reloader.GetServer(serverID)
	if err != nil {
		return
	}
	if srv.State != orchestrator.StateRunning {
		w.logger.Debug("skipping reload of inactive server",
			log.ServerIDKey, serverID,
			log.StateKey, string(srv.State),
		)
		return
	}

	w.logger.Info("reloading server after source change", log.ServerIDKey, serverID)
	if _, err := w.reloader.ReloadServer(w.ctx, serverID); err != nil {
		w.logger.Error("failed to reload server",
			log.ServerIDKey, serverID,
			"error", err,
		)
	}
}

// Close stops the watcher and cancels pending reloads.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	for id, timer := range w.pending {
		timer.Stop()
		delete(w.pending, id)
	}
	w.mu.Unlock()

	w.wg.Wait()
	return w.fsWatcher.Close()
}
