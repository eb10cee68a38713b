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

package canvas

import (
	"sort"
	"strings"
)

const (
	// DefaultEventLimit applies when a view requests no explicit limit.
	DefaultEventLimit = 200

	// MaxEventLimit is the upper clamp on a view's event limit.
	MaxEventLimit = 1000
)

// ViewFilters selects a projection of a canvas. Zero values mean
// "no filter" for that dimension.
type ViewFilters struct {
	SessionID  string
	Agent      string
	Status     string
	OnlyErrors bool
	EventLimit int
}

func (f ViewFilters) limit() int {
	limit := f.EventLimit
	if limit == 0 {
		limit = DefaultEventLimit
	}
	if limit < 1 {
		limit = 1
	}
	if limit > MaxEventLimit {
		limit = MaxEventLimit
	}
	return limit
}

// agentName extracts an agent name from a node id like "agent:research".
func agentName(nodeID string) string {
	return strings.TrimPrefix(nodeID, "agent:")
}

func (f ViewFilters) matchEvent(ev *Event) bool {
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	if f.Status != "" && ev.Status != f.Status {
		return false
	}
	if f.Agent != "" &&
		ev.Agent != f.Agent &&
		ev.NodeID != "agent:"+f.Agent &&
		agentName(ev.NodeID) != f.Agent {
		return false
	}
	if f.OnlyErrors && !isErrorLike(ev.Status, ev.Message) {
		return false
	}
	return true
}

func (f ViewFilters) matchNode(n *Node, sessionNodes map[string]bool) bool {
	if f.Agent != "" && n.ID != "agent:"+f.Agent && n.Title != f.Agent {
		return false
	}
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.OnlyErrors && !isErrorLike(n.Status, "") {
		return false
	}
	if f.SessionID != "" && !sessionNodes[n.ID] {
		return false
	}
	return true
}

// GetCanvasView returns a filtered projection of a canvas, or nil when
// the canvas is unknown. The projection is a copy; the stored canvas
// is never mutated.
func (s *Store) GetCanvasView(canvasID string, f ViewFilters) *Canvas {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	c, ok := s.data.Canvases[canvasID]
	if !ok {
		return nil
	}
	return projectView(c, f)
}

// GetCanvasBySessionView is GetCanvasView keyed by session id.
func (s *Store) GetCanvasBySessionView(sessionID string, f ViewFilters) *Canvas {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	c, ok := s.data.Canvases[s.data.SessionToCanvas[sessionID]]
	if !ok {
		return nil
	}
	return projectView(c, f)
}

func projectView(c *Canvas, f ViewFilters) *Canvas {
	view := &Canvas{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		Metadata:    cloneMap(c.Metadata),
		Nodes:       make(map[string]*Node),
		Edges:       []*Edge{},
		Events:      []*Event{},
		SessionIDs:  append([]string(nil), c.SessionIDs...),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}

	// Events matching the filter, newest first, capped.
	var matched []*Event
	sessionNodes := make(map[string]bool)
	for _, ev := range c.Events {
		if !f.matchEvent(ev) {
			continue
		}
		matched = append(matched, ev)
		if f.SessionID != "" {
			if ev.NodeID != "" {
				sessionNodes[ev.NodeID] = true
			}
			if ev.Agent != "" {
				sessionNodes["agent:"+ev.Agent] = true
			}
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt > matched[j].CreatedAt
	})
	if limit := f.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	for _, ev := range matched {
		view.Events = append(view.Events, ev.Clone())
	}

	for id, n := range c.Nodes {
		if f.matchNode(n, sessionNodes) {
			view.Nodes[id] = n.Clone()
		}
	}

	// Edges survive only when both endpoints survived node filtering.
	for _, e := range c.Edges {
		if _, ok := view.Nodes[e.Source]; !ok {
			continue
		}
		if _, ok := view.Nodes[e.Target]; !ok {
			continue
		}
		view.Edges = append(view.Edges, e.Clone())
	}

	view.ViewFilters = map[string]any{
		"session_id":  f.SessionID,
		"agent":       f.Agent,
		"status":      f.Status,
		"only_errors": f.OnlyErrors,
		"event_limit": f.limit(),
	}
	view.ViewCounts = map[string]int{
		"nodes":  len(view.Nodes),
		"edges":  len(view.Edges),
		"events": len(view.Events),
	}
	return view
}
