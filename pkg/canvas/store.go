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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrCanvasNotFound is returned by mutating operations that reference
// an unknown canvas id.
var ErrCanvasNotFound = errors.New("canvas not found")

// storeFile is the persisted schema of the store.
type storeFile struct {
	Canvases        map[string]*Canvas `json:"canvases"`
	SessionToCanvas map[string]string  `json:"session_to_canvas"`
}

func newStoreFile() *storeFile {
	return &storeFile{
		Canvases:        make(map[string]*Canvas),
		SessionToCanvas: make(map[string]string),
	}
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Path of the backing JSON file.
	Path string

	// AutoAttach binds unseen session ids to the primary canvas when
	// an agent event is recorded for them.
	AutoAttach bool

	// LegacyPaths are prior default store locations scanned once when
	// Path is the default location and does not exist yet.
	LegacyPaths []string
}

// Store is a single-process, thread-safe canvas store persisted to one
// JSON file. Every public operation takes the lock, reloads from disk
// if the file signature changed, applies its mutation, and writes back
// atomically.
type Store struct {
	mu         sync.Mutex
	path       string
	autoAttach bool
	data       *storeFile

	// file signature at last load/save
	sigMTime time.Time
	sigSize  int64

	logger *slog.Logger
}

// NewStore opens or creates the store at opts.Path. When the path is
// missing and legacy paths are configured, the best-scoring legacy
// file is copied in first.
func NewStore(opts StoreOptions) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}

	s := &Store{
		path:       opts.Path,
		autoAttach: opts.AutoAttach,
		data:       newStoreFile(),
		logger:     slog.Default(),
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	if _, err := os.Stat(opts.Path); os.IsNotExist(err) && len(opts.LegacyPaths) > 0 {
		s.migrateLegacy(opts.LegacyPaths)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()
	return s, nil
}

// storeScore ranks candidate store files during legacy migration.
type storeScore struct {
	events   int
	canvases int
	sessions int
}

func (a storeScore) betterThan(b storeScore) bool {
	if a.events != b.events {
		return a.events > b.events
	}
	if a.canvases != b.canvases {
		return a.canvases > b.canvases
	}
	return a.sessions > b.sessions
}

func scoreStoreFile(path string) (storeScore, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return storeScore{}, false
	}
	var sf storeFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return storeScore{}, false
	}
	score := storeScore{
		canvases: len(sf.Canvases),
		sessions: len(sf.SessionToCanvas),
	}
	for _, c := range sf.Canvases {
		score.events += len(c.Events)
	}
	return score, true
}

// migrateLegacy copies the best-scoring legacy store file into the
// canonical path. Convenience only; a fresh deployment starts empty.
func (s *Store) migrateLegacy(legacyPaths []string) {
	var bestPath string
	var best storeScore
	for _, p := range legacyPaths {
		if p == s.path {
			continue
		}
		score, ok := scoreStoreFile(p)
		if !ok {
			continue
		}
		if bestPath == "" || score.betterThan(best) {
			bestPath, best = p, score
		}
	}
	if bestPath == "" {
		return
	}
	raw, err := os.ReadFile(bestPath)
	if err != nil {
		return
	}
	if err := os.WriteFile(s.path, raw, 0644); err != nil {
		s.logger.Warn("canvas store migration failed", "from", bestPath, "error", err)
		return
	}
	s.logger.Info("migrated legacy canvas store",
		"from", bestPath, "to", s.path, "events", best.events)
}

// loadLocked reads the backing file into memory. A missing file leaves
// the store empty; a corrupt file is reinitialized empty and saved.
func (s *Store) loadLocked() {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.data = newStoreFile()
		return
	}
	if err != nil {
		s.logger.Warn("canvas store read failed, starting empty", "path", s.path, "error", err)
		s.data = newStoreFile()
		return
	}

	var sf storeFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		s.logger.Warn("canvas store corrupt, reinitializing", "path", s.path, "error", err)
		s.data = newStoreFile()
		s.saveLocked()
		return
	}
	if sf.Canvases == nil {
		sf.Canvases = make(map[string]*Canvas)
	}
	if sf.SessionToCanvas == nil {
		sf.SessionToCanvas = make(map[string]string)
	}
	s.data = &sf
	s.recordSignature()
}

// refreshLocked reloads from disk when the file's (mtime, size)
// signature differs from the last observed one, so out-of-process
// writers are never shadowed by stale in-memory state.
func (s *Store) refreshLocked() {
	info, err := os.Stat(s.path)
	if err != nil {
		return
	}
	if info.ModTime().Equal(s.sigMTime) && info.Size() == s.sigSize {
		return
	}
	s.loadLocked()
}

func (s *Store) recordSignature() {
	if info, err := os.Stat(s.path); err == nil {
		s.sigMTime = info.ModTime()
		s.sigSize = info.Size()
	}
}

// saveLocked writes the store atomically via temp file + rename.
func (s *Store) saveLocked() {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		s.logger.Error("canvas store marshal failed", "error", err)
		return
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".canvas_store-*.tmp")
	if err != nil {
		s.logger.Error("canvas store temp file failed", "error", err)
		return
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		s.logger.Error("canvas store write failed", "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		s.logger.Error("canvas store close failed", "error", err)
		return
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		s.logger.Error("canvas store rename failed", "error", err)
		return
	}
	s.recordSignature()
}

// touch advances the canvas updated_at, keeping it monotonically
// non-decreasing even under clock adjustments.
func (c *Canvas) touch() {
	ts := Timestamp()
	if ts > c.UpdatedAt {
		c.UpdatedAt = ts
	}
}

// nextEventTimestamp yields a timestamp not earlier than the last
// event on the canvas.
func (c *Canvas) nextEventTimestamp() string {
	ts := Timestamp()
	if n := len(c.Events); n > 0 && c.Events[n-1].CreatedAt > ts {
		return c.Events[n-1].CreatedAt
	}
	return ts
}

// CreateCanvas creates a fresh canvas with empty collections.
func (s *Store) CreateCanvas(title, description string, metadata map[string]any) *Canvas {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	now := Timestamp()
	c := &Canvas{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Metadata:    cloneMap(metadata),
		Nodes:       make(map[string]*Node),
		Edges:       []*Edge{},
		Events:      []*Event{},
		SessionIDs:  []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	s.data.Canvases[c.ID] = c
	s.saveLocked()
	return c.Clone()
}

// GetCanvas returns a deep copy of the canvas, or nil when unknown.
func (s *Store) GetCanvas(canvasID string) *Canvas {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	return s.data.Canvases[canvasID].Clone()
}

// ListResult is the payload of ListCanvases.
type ListResult struct {
	Items []*Canvas `json:"items"`
	Count int       `json:"count"`
}

// ListCanvases returns canvases sorted by updated_at descending. The
// limit is clamped to [1, 200].
func (s *Store) ListCanvases(limit int) *ListResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}

	all := make([]*Canvas, 0, len(s.data.Canvases))
	for _, c := range s.data.Canvases {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].UpdatedAt != all[j].UpdatedAt {
			return all[i].UpdatedAt > all[j].UpdatedAt
		}
		return all[i].ID < all[j].ID
	})

	if len(all) > limit {
		all = all[:limit]
	}
	items := make([]*Canvas, len(all))
	for i, c := range all {
		items[i] = c.Clone()
	}
	return &ListResult{Items: items, Count: len(items)}
}

// AttachResult is the payload of AttachSession.
type AttachResult struct {
	CanvasID         string `json:"canvas_id"`
	SessionID        string `json:"session_id"`
	PreviousCanvasID string `json:"previous_canvas_id,omitempty"`
}

// AttachSession binds a session id to a canvas. Re-attaching an
// already-present session is a no-op on the list but still refreshes
// updated_at and the mapping.
func (s *Store) AttachSession(canvasID, sessionID string) (*AttachResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	c, ok := s.data.Canvases[canvasID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCanvasNotFound, canvasID)
	}

	previous := s.data.SessionToCanvas[sessionID]

	present := false
	for _, sid := range c.SessionIDs {
		if sid == sessionID {
			present = true
			break
		}
	}
	if !present {
		c.SessionIDs = append(c.SessionIDs, sessionID)
	}
	s.data.SessionToCanvas[sessionID] = canvasID
	c.touch()
	s.saveLocked()

	return &AttachResult{
		CanvasID:         canvasID,
		SessionID:        sessionID,
		PreviousCanvasID: previous,
	}, nil
}

// UpsertNode creates or merges a node. On update, metadata is
// shallow-merged and empty scalar arguments leave the prior value
// untouched.
func (s *Store) UpsertNode(canvasID, nodeID, nodeType, title, status string, position *Position, metadata map[string]any) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	c, ok := s.data.Canvases[canvasID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCanvasNotFound, canvasID)
	}

	now := Timestamp()
	n, exists := c.Nodes[nodeID]
	if !exists {
		n = &Node{
			ID:        nodeID,
			Type:      nodeType,
			Title:     title,
			Status:    status,
			Metadata:  map[string]any{},
			CreatedAt: now,
		}
		c.Nodes[nodeID] = n
	} else {
		if nodeType != "" {
			n.Type = nodeType
		}
		if title != "" {
			n.Title = title
		}
		if status != "" {
			n.Status = status
		}
	}
	if position != nil {
		pos := *position
		n.Position = &pos
	}
	for k, v := range metadata {
		if n.Metadata == nil {
			n.Metadata = map[string]any{}
		}
		n.Metadata[k] = cloneValue(v)
	}
	n.UpdatedAt = now
	c.touch()
	s.saveLocked()
	return n.Clone(), nil
}

// AddEdge appends an edge, or returns the existing edge when one with
// the same (source, target, kind, label) is already present.
func (s *Store) AddEdge(canvasID, source, target, label, kind string, metadata map[string]any) (*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	c, ok := s.data.Canvases[canvasID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCanvasNotFound, canvasID)
	}

	if kind == "" {
		kind = DefaultEdgeKind
	}
	candidate := &Edge{Source: source, Target: target, Kind: kind, Label: label}
	for _, e := range c.Edges {
		if e.dedupKey() == candidate.dedupKey() {
			return e.Clone(), nil
		}
	}

	candidate.ID = uuid.NewString()
	candidate.Metadata = cloneMap(metadata)
	if candidate.Metadata == nil {
		candidate.Metadata = map[string]any{}
	}
	candidate.CreatedAt = Timestamp()
	c.Edges = append(c.Edges, candidate)
	c.touch()
	s.saveLocked()
	return candidate.Clone(), nil
}

// EventInput carries the optional attributes of AddEvent.
type EventInput struct {
	Type      string
	Status    string
	Agent     string
	NodeID    string
	Message   string
	SessionID string
	Payload   map[string]any
}

// AddEvent appends an event and trims the canvas event log to the
// most recent MaxEvents entries.
func (s *Store) AddEvent(canvasID string, in EventInput) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	c, ok := s.data.Canvases[canvasID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCanvasNotFound, canvasID)
	}

	ev := s.appendEventLocked(c, in)
	s.saveLocked()
	return ev.Clone(), nil
}

func (s *Store) appendEventLocked(c *Canvas, in EventInput) *Event {
	ev := &Event{
		ID:        uuid.NewString(),
		Type:      in.Type,
		Status:    in.Status,
		Agent:     in.Agent,
		NodeID:    in.NodeID,
		Message:   truncate(in.Message, MaxMessageLen),
		SessionID: in.SessionID,
		Payload:   cloneMap(in.Payload),
		CreatedAt: c.nextEventTimestamp(),
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	c.Events = append(c.Events, ev)
	if len(c.Events) > MaxEvents {
		c.Events = c.Events[len(c.Events)-MaxEvents:]
	}
	c.touch()
	return ev
}

// AgentEventResult is the payload of RecordAgentEvent.
type AgentEventResult struct {
	CanvasID string `json:"canvas_id"`
	Event    *Event `json:"event"`
}

// RecordAgentEvent resolves the canvas for a session, upserts the
// agent's node, and appends an agent_run event. When the session is
// unmapped and auto-attach is enabled, the session is bound to the
// primary canvas first. Returns nil when no canvas can be resolved.
func (s *Store) RecordAgentEvent(sessionID, agentName, status, message string, payload map[string]any) *AgentEventResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	c := s.resolveSessionCanvasLocked(sessionID)
	if c == nil {
		return nil
	}

	nodeID := "agent:" + agentName
	now := Timestamp()
	n, exists := c.Nodes[nodeID]
	if !exists {
		n = &Node{
			ID:        nodeID,
			Type:      "agent",
			Title:     agentName,
			Metadata:  map[string]any{},
			CreatedAt: now,
		}
		c.Nodes[nodeID] = n
	}
	n.Status = status
	n.UpdatedAt = now

	ev := s.appendEventLocked(c, EventInput{
		Type:      "agent_run",
		Status:    status,
		Agent:     agentName,
		NodeID:    nodeID,
		Message:   message,
		SessionID: sessionID,
		Payload:   payload,
	})
	s.saveLocked()

	return &AgentEventResult{CanvasID: c.ID, Event: ev.Clone()}
}

// RecordSessionEvent resolves the canvas for a session (auto-attaching
// to the primary canvas when enabled) and appends the event there.
// Returns nil when no canvas can be resolved.
func (s *Store) RecordSessionEvent(sessionID string, in EventInput) *AgentEventResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	c := s.resolveSessionCanvasLocked(sessionID)
	if c == nil {
		return nil
	}
	if in.SessionID == "" {
		in.SessionID = sessionID
	}
	ev := s.appendEventLocked(c, in)
	s.saveLocked()
	return &AgentEventResult{CanvasID: c.ID, Event: ev.Clone()}
}

// resolveSessionCanvasLocked returns the canvas mapped to a session,
// binding the session to the primary canvas first when auto-attach is
// enabled.
func (s *Store) resolveSessionCanvasLocked(sessionID string) *Canvas {
	canvasID := s.data.SessionToCanvas[sessionID]
	if canvasID == "" {
		if !s.autoAttach {
			return nil
		}
		canvasID = s.primaryCanvasIDLocked()
		if canvasID == "" {
			return nil
		}
		if sessionID != "" {
			s.data.SessionToCanvas[sessionID] = canvasID
			s.data.Canvases[canvasID].SessionIDs = append(s.data.Canvases[canvasID].SessionIDs, sessionID)
		}
	}
	return s.data.Canvases[canvasID]
}

// GetCanvasIDForSession returns the canvas id mapped to a session, or
// "" when unmapped.
func (s *Store) GetCanvasIDForSession(sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	return s.data.SessionToCanvas[sessionID]
}

// GetCanvasBySession returns a deep copy of the canvas mapped to a
// session, or nil.
func (s *Store) GetCanvasBySession(sessionID string) *Canvas {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	return s.data.Canvases[s.data.SessionToCanvas[sessionID]].Clone()
}

// PrimaryCanvasID returns the id of the canvas with the greatest
// updated_at, or "" when the store is empty.
func (s *Store) PrimaryCanvasID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	return s.primaryCanvasIDLocked()
}

func (s *Store) primaryCanvasIDLocked() string {
	var best *Canvas
	for _, c := range s.data.Canvases {
		if best == nil || c.UpdatedAt > best.UpdatedAt ||
			(c.UpdatedAt == best.UpdatedAt && c.ID < best.ID) {
			best = c
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// SessionMappings returns a copy of the session→canvas map.
func (s *Store) SessionMappings() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	out := make(map[string]string, len(s.data.SessionToCanvas))
	for k, v := range s.data.SessionToCanvas {
		out[k] = v
	}
	return out
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}
