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

// Package gateway routes JSON-RPC 2.0 tool calls through the policy
// gate and the tool registry, mirroring activity to SSE and to the
// canvas store.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timus-ai/timus/pkg/canvas"
	"github.com/timus-ai/timus/pkg/observability"
	"github.com/timus-ai/timus/pkg/policy"
	"github.com/timus-ai/timus/pkg/stream"
	"github.com/timus-ai/timus/pkg/tool"
)

// RepairFunc rewrites an unserializable result rendering into valid
// JSON. Typically backed by an LLM.
type RepairFunc func(raw string) (string, error)

// Options configures a Gateway.
type Options struct {
	Tools       *tool.Registry
	Policy      policy.Gate
	Broadcaster *stream.Broadcaster
	Store       *canvas.Store

	// Repair is the optional fallback for unserializable results.
	// When nil, such results become JSON-RPC errors.
	Repair RepairFunc
}

// Gateway is the JSON-RPC 2.0 dispatch pipeline:
// policy → validation → tool_start → handler → tool_done.
type Gateway struct {
	tools       *tool.Registry
	policy      policy.Gate
	broadcaster *stream.Broadcaster
	store       *canvas.Store
	repair      RepairFunc
	logger      *slog.Logger
}

// New creates a gateway. Broadcaster and store are optional; policy
// defaults to allow-all.
func New(opts Options) *Gateway {
	gate := opts.Policy
	if gate == nil {
		gate = policy.AllowAll{}
	}
	return &Gateway{
		tools:       opts.Tools,
		policy:      gate,
		broadcaster: opts.Broadcaster,
		store:       opts.Store,
		repair:      opts.Repair,
		logger:      slog.Default(),
	}
}

// ServeHTTP handles POST / with a JSON-RPC 2.0 body.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, http.StatusBadRequest,
			errorResponse(nil, CodeParseError, "invalid JSON body"))
		return
	}
	if req.Method == "" {
		writeResponse(w, http.StatusBadRequest,
			errorResponse(req.ID, CodeInvalidRequest, "method is required"))
		return
	}

	params := map[string]any{}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeResponse(w, http.StatusBadRequest,
				errorResponse(req.ID, CodeInvalidRequest, "params must be an object"))
			return
		}
	}

	status, resp := g.Dispatch(r, &req, params)
	writeResponse(w, status, resp)
}

// Dispatch runs the pipeline for one decoded request and returns the
// HTTP status plus the JSON-RPC response envelope.
func (g *Gateway) Dispatch(r *http.Request, req *Request, params map[string]any) (int, *Response) {
	// 1. Policy gate. Denial short-circuits everything, including the
	// tool_start broadcast.
	if decision := g.policy.Check(req.Method, params); !decision.Allowed {
		g.logger.Warn("tool call denied by policy", "method", req.Method, "reason", decision.Reason)
		return http.StatusForbidden,
			errorResponse(req.ID, CodeInvalidRequest, decision.Reason)
	}

	// 2. Validation against the tool's parameter contract.
	if err := g.tools.ValidateCall(req.Method, params); err != nil {
		var nf *tool.NotFoundError
		if errors.As(err, &nf) {
			return http.StatusOK,
				errorResponse(req.ID, CodeMethodNotFound, err.Error())
		}
		return http.StatusBadRequest,
			errorResponse(req.ID, CodeInvalidParams, err.Error())
	}

	t, _ := g.tools.Get(req.Method)
	params = g.tools.ApplyDefaults(req.Method, params)

	// 3. Broadcast start unless the method is reserved.
	broadcast := !strings.HasPrefix(req.Method, ReservedPrefix)
	toolID := shortToolID()
	if broadcast {
		g.emit("tool_start", req.Method, toolID, params, nil)
	}

	// 4. Dispatch.
	started := time.Now()
	result, err := t.Handler(r.Context(), params)
	observability.GetGlobalMetrics().RecordToolExecution(r.Context(), req.Method, time.Since(started), err)
	if err != nil {
		g.logger.Warn("tool handler failed", "method", req.Method, "error", err)
		if broadcast {
			g.emit("tool_done", req.Method, toolID, nil, map[string]any{"error": err.Error()})
		}
		g.mirrorCall(req.Method, params, "error", err.Error())
		return http.StatusOK,
			errorResponse(req.ID, CodeInternalError, err.Error())
	}

	raw, encErr := encodeResult(result, g.repair)
	if encErr != nil {
		g.logger.Warn("tool result not serializable", "method", req.Method, "error", encErr)
		if broadcast {
			g.emit("tool_done", req.Method, toolID, nil, map[string]any{"error": encErr.Error()})
		}
		return http.StatusOK,
			errorResponse(req.ID, CodeInternalError, encErr.Error())
	}

	// 5. Broadcast done with the same tool id.
	if broadcast {
		g.emit("tool_done", req.Method, toolID, nil, nil)
	}
	g.mirrorCall(req.Method, params, "completed", "")

	return http.StatusOK, successResponse(req.ID, json.RawMessage(raw))
}

// emit broadcasts a tool lifecycle event.
func (g *Gateway) emit(eventType, method, toolID string, params, extra map[string]any) {
	if g.broadcaster == nil {
		return
	}
	payload := map[string]any{
		"tool":    method,
		"tool_id": toolID,
	}
	if params != nil {
		payload["params"] = params
	}
	for k, v := range extra {
		payload[k] = v
	}
	g.broadcaster.Broadcast(eventType, payload)
}

// mirrorCall records the tool call on the caller's canvas when the
// params carry a session id.
func (g *Gateway) mirrorCall(method string, params map[string]any, status, message string) {
	if g.store == nil {
		return
	}
	sessionID, _ := params["session_id"].(string)
	if sessionID == "" {
		return
	}
	g.store.RecordSessionEvent(sessionID, canvas.EventInput{
		Type:    "tool_call",
		Status:  status,
		Message: message,
		Payload: map[string]any{"tool": method},
	})
}

func shortToolID() string {
	return uuid.NewString()[:8]
}

func writeResponse(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Default().Warn("failed to write JSON-RPC response", "error", err)
	}
}
