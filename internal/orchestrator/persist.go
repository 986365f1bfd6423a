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
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/stagehand/internal/store"
)

// Store is the persistence adapter consumed by the Manager.
// store.Backend satisfies it.
type Store interface {
	UpsertServerStatus(ctx context.Context, serverID string, status store.ServerStatus) error
	UpsertTool(ctx context.Context, serverID string, entry store.ToolEntry) error
	GetEnabledTools(ctx context.Context, serverID string) ([]store.ToolEntry, error)
	GetTools(ctx context.Context, serverID string) ([]store.ToolEntry, error)
	DeleteServer(ctx context.Context, serverID string) error
}

// persistWriteTimeout bounds each queued write.
const persistWriteTimeout = 5 * time.Second

// persistOp is one queued write. A nil fn is a flush barrier.
type persistOp struct {
	name     string
	serverID string
	fn       func(ctx context.Context, s Store) error
	done     chan struct{}
}

// persister applies writes in order on one goroutine. Writes never block
// the caller: when the queue is full the write is dropped and logged.
type persister struct {
	store  Store
	logger *slog.Logger
	queue  chan persistOp
	doneCh chan struct{}

	closed bool
	mu     sync.RWMutex
}

func newPersister(s Store, logger *slog.Logger, size int) *persister {
	p := &persister{
		store:  s,
		logger: logger.With("component", "persist"),
		queue:  make(chan persistOp, size),
		doneCh: make(chan struct{}),
	}
	if s == nil {
		close(p.doneCh)
		return p
	}
	go p.run()
	return p
}

func (p *persister) run() {
	defer close(p.doneCh)
	for op := range p.queue {
		if op.fn == nil {
			close(op.done)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), persistWriteTimeout)
		if err := op.fn(ctx, p.store); err != nil {
			p.logger.Warn("persistence write failed",
				"op", op.name,
				"server_id", op.serverID,
				"error", err,
			)
		}
		cancel()
	}
}

// enqueue schedules a write. It never blocks.
func (p *persister) enqueue(name, serverID string, fn func(ctx context.Context, s Store) error) {
	if p.store == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- persistOp{name: name, serverID: serverID, fn: fn}:
	default:
		p.logger.Warn("persistence queue full, dropping write",
			"op", name,
			"server_id", serverID,
		)
	}
}

// flush waits until every write queued before the call has been applied.
func (p *persister) flush(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	done := make(chan struct{})

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil
	}
	select {
	case p.queue <- persistOp{done: done}:
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	p.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting writes and waits for the queue to drain.
func (p *persister) close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		if p.store != nil {
			close(p.queue)
		}
	}
	p.mu.Unlock()

	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
