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

package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHistorySize is the per-server ring buffer capacity.
const DefaultHistorySize = 100

// Bus is a fire-and-forget publish/subscribe channel for lifecycle events.
// Events go to the subscribers present at publish time; nothing is queued
// for later. The last HistorySize events per server are kept for History.
type Bus struct {
	// subs maps an event type to its handlers; the empty type holds
	// handlers subscribed to everything.
	subs map[EventType]map[uint64]Handler

	// history keeps recent events per server id
	history map[string]*ring

	historySize int
	nextID      uint64
	now         func() time.Time
	logger      *slog.Logger

	mu sync.RWMutex
}

// BusConfig configures an event bus.
type BusConfig struct {
	// HistorySize bounds each server's ring buffer (defaults to 100)
	HistorySize int

	// Logger is used to report handler panics (optional)
	Logger *slog.Logger

	// Now overrides the clock (optional, for tests)
	Now func() time.Time
}

// NewBus creates an event bus.
func NewBus(cfg BusConfig) *Bus {
	size := cfg.HistorySize
	if size <= 0 {
		size = DefaultHistorySize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Bus{
		subs:        make(map[EventType]map[uint64]Handler),
		history:     make(map[string]*ring),
		historySize: size,
		now:         now,
		logger:      logger,
	}
}

// Subscribe registers h for events of type t and returns a function that
// removes the subscription. Calling the returned function more than once
// is safe.
func (b *Bus) Subscribe(t EventType, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[t] == nil {
		b.subs[t] = make(map[uint64]Handler)
	}
	b.subs[t][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[t], id)
			if len(b.subs[t]) == 0 {
				delete(b.subs, t)
			}
		})
	}
}

// SubscribeAll registers h for every event type.
func (b *Bus) SubscribeAll(h Handler) func() {
	return b.Subscribe("", h)
}

// Publish stamps e with an id and timestamp (when unset), records it in the
// server's history, and delivers it to current subscribers.
func (b *Bus) Publish(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}

	b.mu.Lock()
	if e.ServerID != "" {
		r, ok := b.history[e.ServerID]
		if !ok {
			r = newRing(b.historySize)
			b.history[e.ServerID] = r
		}
		r.push(e)
	}
	handlers := make([]Handler, 0, len(b.subs[e.Type])+len(b.subs[""]))
	for _, h := range b.subs[e.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.subs[""] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		b.deliver(h, e)
	}
	return e
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(e.Type),
				"server_id", e.ServerID,
				"panic", r,
			)
		}
	}()
	h(e)
}

// History returns the buffered events for a server, oldest first.
func (b *Bus) History(serverID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.history[serverID]
	if !ok {
		return []Event{}
	}
	return r.snapshot()
}

// Forget drops a server's history.
func (b *Bus) Forget(serverID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.history, serverID)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, hs := range b.subs {
		n += len(hs)
	}
	return n
}

// ring is a fixed-capacity circular buffer of events.
type ring struct {
	buf   []Event
	start int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity)}
}

func (r *ring) push(e Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) snapshot() []Event {
	out := make([]Event, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
