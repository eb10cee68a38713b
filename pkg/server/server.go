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

// Package server is the HTTP surface of the substrate: the JSON-RPC
// endpoint, tool introspection, canvas passthroughs, the SSE stream,
// chat, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timus-ai/timus/pkg/agent"
	"github.com/timus-ai/timus/pkg/canvas"
	"github.com/timus-ai/timus/pkg/chat"
	"github.com/timus-ai/timus/pkg/config"
	"github.com/timus-ai/timus/pkg/gateway"
	"github.com/timus-ai/timus/pkg/stream"
	"github.com/timus-ai/timus/pkg/tool"
)

// Options wires the subsystems into the HTTP surface.
type Options struct {
	Config      *config.Config
	Gateway     *gateway.Gateway
	Tools       *tool.Registry
	Store       *canvas.Store
	Broadcaster *stream.Broadcaster
	Chat        *chat.Service
	Agents      *agent.Registry
	Version     string
}

// Server is the substrate's HTTP server.
type Server struct {
	opts      Options
	router    chi.Router
	server    *http.Server
	startedAt time.Time
	logger    *slog.Logger
}

// New creates the server with all routes registered.
func New(opts Options) *Server {
	s := &Server{
		opts:      opts,
		startedAt: time.Now(),
		logger:    slog.Default(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the route tree, for mounting and for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until the context is canceled or ListenAndServe
// fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.opts.Config.Addr(),
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: /events/stream is long-lived.
		IdleTimeout: 120 * time.Second,
	}

	s.logger.Info("HTTP server starting", "address", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.logger.Info("HTTP server shutting down")
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Use(loggingMiddleware)

	r.Post("/", s.opts.Gateway.ServeHTTP)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/get_tool_descriptions", s.handleToolDescriptions)
	r.Get("/get_tool_schemas/{dialect}", s.handleToolSchemas)
	r.Get("/get_tools_by_capability/{tag}", s.handleToolsByCapability)

	r.Get("/canvas", s.handleListCanvases)
	r.Post("/canvas/create", s.handleCreateCanvas)
	r.Get("/canvas/by_session/{sid}", s.handleCanvasBySession)
	r.Get("/canvas/{id}", s.handleGetCanvas)
	r.Post("/canvas/{id}/attach_session", s.handleAttachSession)
	r.Post("/canvas/{id}/nodes/upsert", s.handleUpsertNode)
	r.Post("/canvas/{id}/edges/add", s.handleAddEdge)
	r.Post("/canvas/{id}/events/add", s.handleAddEvent)

	r.Get("/events/stream", s.opts.Broadcaster.ServeHTTP)

	r.Post("/chat", s.handleChat)
	r.Get("/chat/history", s.handleChatHistory)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":            "ok",
		"timestamp":         canvas.Timestamp(),
		"version":           s.opts.Version,
		"uptime_seconds":    int(time.Since(s.startedAt).Seconds()),
		"total_rpc_methods": s.opts.Tools.Count(),
		"registry_version":  s.opts.Tools.Version(),
		"agents":            len(s.opts.Agents.ListAgents()),
		"canvas_store":      s.opts.Store.Path(),
		"sse_subscribers":   s.opts.Broadcaster.SubscriberCount(),
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleToolDescriptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, s.opts.Tools.GetToolManifest())
}

func (s *Server) handleToolSchemas(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "dialect") {
	case "openai":
		writeJSON(w, http.StatusOK, map[string]any{"tools": s.opts.Tools.GetOpenAIToolsSchema()})
	case "anthropic":
		writeJSON(w, http.StatusOK, map[string]any{"tools": s.opts.Tools.GetAnthropicToolsSchema()})
	default:
		writeError(w, http.StatusNotFound, "unknown schema dialect")
	}
}

func (s *Server) handleToolsByCapability(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	tools := s.opts.Tools.GetToolsByCapability(tag)
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	writeJSON(w, http.StatusOK, map[string]any{"capability": tag, "tools": names})
}

func (s *Server) handleListCanvases(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.opts.Store.ListCanvases(limit))
}

func (s *Server) handleCreateCanvas(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       string         `json:"title"`
		Description string         `json:"description"`
		Metadata    map[string]any `json:"metadata"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Store.CreateCanvas(body.Title, body.Description, body.Metadata))
}

func (s *Server) handleCanvasBySession(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sid")
	view := s.opts.Store.GetCanvasBySessionView(sid, viewFilters(r))
	if view == nil {
		writeError(w, http.StatusNotFound, "no canvas for session "+sid)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetCanvas(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view := s.opts.Store.GetCanvasView(id, viewFilters(r))
	if view == nil {
		writeError(w, http.StatusNotFound, "canvas not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAttachSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	res, err := s.opts.Store.AttachSession(chi.URLParam(r, "id"), body.SessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUpsertNode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NodeID   string           `json:"node_id"`
		NodeType string           `json:"node_type"`
		Title    string           `json:"title"`
		Status   string           `json:"status"`
		Position *canvas.Position `json:"position"`
		Metadata map[string]any   `json:"metadata"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.NodeID == "" {
		writeError(w, http.StatusBadRequest, "node_id is required")
		return
	}

	node, err := s.opts.Store.UpsertNode(chi.URLParam(r, "id"),
		body.NodeID, body.NodeType, body.Title, body.Status, body.Position, body.Metadata)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleAddEdge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Source   string         `json:"source"`
		Target   string         `json:"target"`
		Label    string         `json:"label"`
		Kind     string         `json:"kind"`
		Metadata map[string]any `json:"metadata"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Source == "" || body.Target == "" {
		writeError(w, http.StatusBadRequest, "source and target are required")
		return
	}

	edge, err := s.opts.Store.AddEdge(chi.URLParam(r, "id"),
		body.Source, body.Target, body.Label, body.Kind, body.Metadata)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	var body canvas.EventInput
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	event, err := s.opts.Store.AddEvent(chi.URLParam(r, "id"), body)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query     string `json:"query"`
		SessionID string `json:"session_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	reply, err := s.opts.Chat.HandleMessage(r.Context(), body.Query, body.SessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"history": s.opts.Chat.History()})
}

// viewFilters reads the canvas view query parameters.
func viewFilters(r *http.Request) canvas.ViewFilters {
	q := r.URL.Query()
	f := canvas.ViewFilters{
		SessionID: q.Get("session_id"),
		Agent:     q.Get("agent"),
		Status:    q.Get("status"),
	}
	if raw := q.Get("only_errors"); raw != "" {
		f.OnlyErrors, _ = strconv.ParseBool(raw)
	}
	if raw := q.Get("event_limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			f.EventLimit = n
		}
	}
	return f
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, canvas.ErrCanvasNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

// corsMiddleware applies permissive CORS for local UIs.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs requests without wrapping the ResponseWriter,
// which would break http.Flusher for the SSE stream.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
