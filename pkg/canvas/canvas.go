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

// Package canvas implements the durable activity log of the
// orchestration substrate: canvases holding nodes, edges, and events,
// persisted to a single JSON file with a session→canvas mapping.
package canvas

import (
	"strings"
	"time"
)

const (
	// MaxEvents is the per-canvas event ring-buffer capacity.
	MaxEvents = 2000

	// MaxMessageLen caps event messages.
	MaxMessageLen = 1000

	// DefaultEdgeKind is used when an edge is added without a kind.
	DefaultEdgeKind = "flow"
)

// timestampFormat is a fixed-width UTC layout so that stored
// timestamps sort lexicographically in chronological order.
const timestampFormat = "2006-01-02T15:04:05.000000Z"

// Timestamp returns the current time as a stored timestamp string.
func Timestamp() string {
	return time.Now().UTC().Format(timestampFormat)
}

// Canvas is a keyed container of nodes, edges, and events for one or
// more sessions.
type Canvas struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Metadata    map[string]any   `json:"metadata"`
	Nodes       map[string]*Node `json:"nodes"`
	Edges       []*Edge          `json:"edges"`
	Events      []*Event         `json:"events"`
	SessionIDs  []string         `json:"session_ids"`
	CreatedAt   string           `json:"created_at"`
	UpdatedAt   string           `json:"updated_at"`

	// View projection fields, set only on filtered views.
	ViewFilters map[string]any `json:"view_filters,omitempty"`
	ViewCounts  map[string]int `json:"view_counts,omitempty"`
}

// Node is a keyed vertex on a canvas, typically an agent or a task.
// The id is caller-supplied and stable, e.g. "agent:research".
type Node struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Status    string         `json:"status"`
	Position  *Position      `json:"position,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// Position is an optional 2D placement hint for UI rendering.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a directed connection between two nodes. Edges are
// deduplicated on (source, target, kind, label).
type Edge struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	Target    string         `json:"target"`
	Kind      string         `json:"kind"`
	Label     string         `json:"label"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt string         `json:"created_at"`
}

// Event is an append-only record of something that happened.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Status    string         `json:"status"`
	Agent     string         `json:"agent"`
	NodeID    string         `json:"node_id"`
	Message   string         `json:"message"`
	SessionID string         `json:"session_id"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at"`
}

// dedupKey identifies an edge for deduplication.
func (e *Edge) dedupKey() string {
	return e.Source + "\x00" + e.Target + "\x00" + e.Kind + "\x00" + e.Label
}

// isErrorLike reports whether an event or node reads as an error for
// the only_errors view filter.
func isErrorLike(status, message string) bool {
	s := strings.ToLower(status)
	m := strings.ToLower(message)
	return strings.Contains(s, "error") || strings.Contains(s, "fehler") ||
		strings.Contains(m, "error") || strings.Contains(m, "fehler")
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Clone returns a deep copy of the canvas.
func (c *Canvas) Clone() *Canvas {
	if c == nil {
		return nil
	}
	out := &Canvas{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		Metadata:    cloneMap(c.Metadata),
		Nodes:       make(map[string]*Node, len(c.Nodes)),
		Edges:       make([]*Edge, 0, len(c.Edges)),
		Events:      make([]*Event, 0, len(c.Events)),
		SessionIDs:  append([]string(nil), c.SessionIDs...),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	for id, n := range c.Nodes {
		out.Nodes[id] = n.Clone()
	}
	for _, e := range c.Edges {
		out.Edges = append(out.Edges, e.Clone())
	}
	for _, ev := range c.Events {
		out.Events = append(out.Events, ev.Clone())
	}
	return out
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	out.Metadata = cloneMap(n.Metadata)
	if n.Position != nil {
		pos := *n.Position
		out.Position = &pos
	}
	return &out
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() *Edge {
	if e == nil {
		return nil
	}
	out := *e
	out.Metadata = cloneMap(e.Metadata)
	return &out
}

// Clone returns a deep copy of the event.
func (ev *Event) Clone() *Event {
	if ev == nil {
		return nil
	}
	out := *ev
	out.Payload = cloneMap(ev.Payload)
	return &out
}

// cloneMap deep-copies a JSON-safe map. Nested maps and slices are
// copied; scalar values are shared.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
