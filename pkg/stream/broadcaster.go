// Copyright 2025 The Timus Authors
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

// Package stream fans control-plane events out to SSE observers.
// Each subscriber owns a bounded queue; subscribers that fall behind
// are evicted rather than blocking the broadcaster.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/timus-ai/timus/pkg/observability"
)

const (
	// QueueCapacity bounds each subscriber's event queue.
	QueueCapacity = 100

	// PingInterval is the idle keep-alive interval on open streams.
	PingInterval = 25 * time.Second
)

// Frame is one serialized SSE event.
type Frame struct {
	Event string
	Data  []byte
}

// Subscriber is one observer's bounded event queue.
type Subscriber struct {
	ch chan Frame
}

// Frames exposes the subscriber's queue for direct consumption in
// tests and non-HTTP observers.
func (s *Subscriber) Frames() <-chan Frame {
	return s.ch
}

// Broadcaster fans events out to all subscribers and tracks the
// agent-status snapshot delivered in each stream's init frame.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[*Subscriber]struct{}
	statuses map[string]string

	pingInterval time.Duration
	logger       *slog.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs:         make(map[*Subscriber]struct{}),
		statuses:     make(map[string]string),
		pingInterval: PingInterval,
		logger:       slog.Default(),
	}
}

// Subscribe registers a new observer queue.
func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan Frame, QueueCapacity)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes an observer.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// SubscriberCount returns the number of live observers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// SetAgentStatus records an agent's current status for the init
// snapshot of future streams.
func (b *Broadcaster) SetAgentStatus(agent, status string) {
	b.mu.Lock()
	b.statuses[agent] = status
	b.mu.Unlock()
}

// AgentStatuses returns a copy of the current status snapshot.
func (b *Broadcaster) AgentStatuses() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.statuses))
	for k, v := range b.statuses {
		out[k] = v
	}
	return out
}

// Broadcast serializes the event once and enqueues it into every
// subscriber queue without blocking. Subscribers whose queue is full
// are dropped.
func (b *Broadcaster) Broadcast(eventType string, payload map[string]any) {
	envelope := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		envelope[k] = v
	}
	envelope["type"] = eventType
	envelope["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(envelope)
	if err != nil {
		b.logger.Warn("event serialization failed", "type", eventType, "error", err)
		return
	}
	frame := Frame{Event: eventType, Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- frame:
		default:
			// Queue full: the observer is dead or hopelessly behind.
			delete(b.subs, sub)
			b.logger.Debug("evicted slow event subscriber")
		}
	}
}

// ServeHTTP streams events to one observer. The first frame is an
// init event carrying the agent-status snapshot; a ping is sent after
// PingInterval without traffic.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	observability.GetGlobalMetrics().SubscriberDelta(r.Context(), 1)
	defer observability.GetGlobalMetrics().SubscriberDelta(context.Background(), -1)

	init, err := json.Marshal(map[string]any{
		"type":         "init",
		"agent_status": b.AgentStatuses(),
	})
	if err == nil {
		fmt.Fprintf(w, "event: init\ndata: %s\n\n", init)
		flusher.Flush()
	}

	// The ping timer measures idleness, so every forwarded frame
	// resets it.
	ping := time.NewTimer(b.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame := <-sub.ch:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Event, frame.Data)
			flusher.Flush()
			if !ping.Stop() {
				select {
				case <-ping.C:
				default:
				}
			}
			ping.Reset(b.pingInterval)
		case <-ping.C:
			fmt.Fprintf(w, "event: ping\ndata: {}\n\n")
			flusher.Flush()
			ping.Reset(b.pingInterval)
		}
	}
}
