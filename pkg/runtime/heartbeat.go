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
	"time"

	"github.com/timus-ai/timus/pkg/agent"
	"github.com/timus-ai/timus/pkg/stream"
	"github.com/timus-ai/timus/pkg/tool"
)

// heartbeat periodically broadcasts a liveness frame so stream
// consumers can tell a quiet substrate from a dead one.
type heartbeat struct {
	broadcaster *stream.Broadcaster
	tools       *tool.Registry
	agents      *agent.Registry
	interval    time.Duration
	startedAt   time.Time
}

func (h *heartbeat) run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat()
		}
	}
}

func (h *heartbeat) beat() {
	h.broadcaster.Broadcast("heartbeat", map[string]any{
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"tools":          h.tools.Count(),
		"agents":         len(h.agents.ListAgents()),
		"subscribers":    h.broadcaster.SubscriberCount(),
	})
}
