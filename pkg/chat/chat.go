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

// Package chat is the conversational surface: it routes user queries to
// an entry agent, mirrors the exchange to the canvas and the event
// stream, and keeps a bounded transcript.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/timus-ai/timus/pkg/agent"
	"github.com/timus-ai/timus/pkg/canvas"
	"github.com/timus-ai/timus/pkg/observability"
	"github.com/timus-ai/timus/pkg/stream"
)

const (
	// DefaultAgent receives queries when no router overrides it.
	DefaultAgent = "executor"

	// DefaultHistoryLimit bounds the in-memory transcript.
	DefaultHistoryLimit = 200
)

// RouterFunc picks the entry agent for a query.
type RouterFunc func(query string) string

// Options configures a Service.
type Options struct {
	Engine      *agent.Engine
	Broadcaster *stream.Broadcaster
	Store       *canvas.Store

	// Router overrides the default routing. Returning "" falls back to
	// DefaultAgent.
	Router RouterFunc

	// HistoryLimit caps the transcript. Zero means DefaultHistoryLimit.
	HistoryLimit int
}

// Turn is one transcript entry.
type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Agent     string `json:"agent,omitempty"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

// Reply is the outcome of one handled message.
type Reply struct {
	Status    string `json:"status"`
	Agent     string `json:"agent"`
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

// Service handles chat messages.
type Service struct {
	engine      *agent.Engine
	broadcaster *stream.Broadcaster
	store       *canvas.Store
	router      RouterFunc
	limit       int
	logger      *slog.Logger

	mu      sync.Mutex
	history []Turn
}

// NewService creates a chat service. Broadcaster and store are
// optional.
func NewService(opts Options) *Service {
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Service{
		engine:      opts.Engine,
		broadcaster: opts.Broadcaster,
		store:       opts.Store,
		router:      opts.Router,
		limit:       limit,
		logger:      slog.Default(),
	}
}

// NewSessionID mints a conversation session id.
func NewSessionID() string {
	return "canvas_" + uuid.NewString()[:8]
}

// HandleMessage runs one user query through the routed agent. An empty
// session id starts a new conversation.
func (s *Service) HandleMessage(ctx context.Context, query, sessionID string) (*Reply, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	if sessionID == "" {
		sessionID = NewSessionID()
	}

	agentName := s.route(query)

	s.appendTurn(Turn{
		Role:      "user",
		Content:   query,
		SessionID: sessionID,
		Timestamp: canvas.Timestamp(),
	})
	s.emit("chat_user", map[string]any{"query": query, "session_id": sessionID})
	s.mirror(sessionID, "chat_user", agentName, "", query, nil)

	s.setStatus(agentName, "thinking")
	s.emit("thinking", map[string]any{"agent": agentName, "session_id": sessionID})
	s.mirror(sessionID, "thinking", agentName, "thinking", "", nil)

	started := time.Now()
	reply, err := s.engine.Run(ctx, agentName, query, sessionID)
	observability.GetGlobalMetrics().RecordChatTurn(ctx, agentName, time.Since(started), err)
	if err != nil {
		s.logger.Warn("chat turn failed", "agent", agentName, "session_id", sessionID, "error", err)
		s.setStatus(agentName, "error")
		s.emit("chat_error", map[string]any{
			"agent":      agentName,
			"error":      err.Error(),
			"session_id": sessionID,
		})
		s.mirror(sessionID, "chat_error", agentName, "error", err.Error(), nil)
		return nil, err
	}

	s.appendTurn(Turn{
		Role:      "assistant",
		Content:   reply,
		Agent:     agentName,
		SessionID: sessionID,
		Timestamp: canvas.Timestamp(),
	})
	s.setStatus(agentName, "completed")
	s.emit("chat_reply", map[string]any{
		"agent":      agentName,
		"reply":      reply,
		"session_id": sessionID,
	})
	s.mirror(sessionID, "chat_reply", agentName, "completed", reply, nil)

	return &Reply{
		Status:    "ok",
		Agent:     agentName,
		Reply:     reply,
		SessionID: sessionID,
	}, nil
}

// History returns a copy of the transcript, oldest first.
func (s *Service) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.history...)
}

func (s *Service) route(query string) string {
	if s.router != nil {
		if name := agent.Normalize(s.router(query)); name != "" {
			return name
		}
	}
	return DefaultAgent
}

func (s *Service) appendTurn(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turn)
	if len(s.history) > s.limit {
		s.history = s.history[len(s.history)-s.limit:]
	}
}

func (s *Service) setStatus(agentName, status string) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.SetAgentStatus(agentName, status)
	s.broadcaster.Broadcast("agent_status", map[string]any{
		"agent":  agentName,
		"status": status,
	})
}

func (s *Service) emit(eventType string, payload map[string]any) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Broadcast(eventType, payload)
}

func (s *Service) mirror(sessionID, eventType, agentName, status, message string, payload map[string]any) {
	if s.store == nil {
		return
	}
	s.store.RecordSessionEvent(sessionID, canvas.EventInput{
		Type:    eventType,
		Status:  status,
		Agent:   agentName,
		Message: message,
		Payload: payload,
	})
}
