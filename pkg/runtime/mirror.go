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

package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/timus-ai/timus/pkg/canvas"
)

// mirrorSeenCap bounds the dedup set; beyond it the oldest ids are
// forgotten and may be logged again after a very long run.
const mirrorSeenCap = 25000

// mirrorWorker tails the canvas store and mirrors new events and edges
// to the process log. Existing content is seeded as seen at startup so
// a restart does not replay history.
type mirrorWorker struct {
	store    *canvas.Store
	interval time.Duration
	logger   *slog.Logger

	seen  map[string]struct{}
	order []string
}

func newMirrorWorker(store *canvas.Store, interval time.Duration) *mirrorWorker {
	w := &mirrorWorker{
		store:    store,
		interval: interval,
		logger:   slog.Default(),
		seen:     make(map[string]struct{}),
	}
	w.scan(false)
	return w
}

func (w *mirrorWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan(true)
		}
	}
}

// scan walks every canvas and marks unseen events and edges. When emit
// is set the new entries are logged.
func (w *mirrorWorker) scan(emit bool) {
	for _, c := range w.store.ListCanvases(200).Items {
		for _, ev := range c.Events {
			if !w.mark("ev:" + ev.ID) {
				continue
			}
			if emit {
				w.logger.Info("canvas event",
					"canvas", c.ID,
					"event_type", ev.Type,
					"agent", ev.Agent,
					"status", ev.Status,
					"message", ev.Message,
				)
			}
		}
		for _, e := range c.Edges {
			if !w.mark("ed:" + e.ID) {
				continue
			}
			if emit {
				w.logger.Info("canvas edge",
					"canvas", c.ID,
					"source", e.Source,
					"target", e.Target,
					"kind", e.Kind,
				)
			}
		}
	}
}

// mark records an id and reports whether it was new.
func (w *mirrorWorker) mark(id string) bool {
	if _, ok := w.seen[id]; ok {
		return false
	}
	w.seen[id] = struct{}{}
	w.order = append(w.order, id)
	if len(w.order) > mirrorSeenCap {
		evicted := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, evicted)
	}
	return true
}
