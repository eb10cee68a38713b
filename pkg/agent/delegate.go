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

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/timus-ai/timus/pkg/canvas"
	"github.com/timus-ai/timus/pkg/observability"
)

const (
	resultPreviewLen = 240
	errorPreviewLen  = 300
	taskPreviewLen   = 200
)

// Engine implements the delegation primitive. Delegation failures are
// returned as strings prefixed "FEHLER:" rather than errors, because
// the immediate caller is an LLM reading the tool response.
type Engine struct {
	registry *Registry
	store    *canvas.Store
	logger   *slog.Logger

	// Per-agent session guards for instances with a mutable session
	// slot. Naive snapshot/restore on a shared instance leaves a stale
	// id behind when concurrent runs interleave.
	guardMu sync.Mutex
	guards  map[string]*sessionGuard
}

// sessionGuard restores an agent's session slot to its original value
// once the last of any overlapping runs has finished.
type sessionGuard struct {
	mu    sync.Mutex
	depth int
	saved string
}

func (g *sessionGuard) enter(carrier SessionCarrier, session string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.depth == 0 {
		g.saved = carrier.ConversationSessionID()
	}
	g.depth++
	carrier.SetConversationSessionID(session)
}

func (g *sessionGuard) exit(carrier SessionCarrier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.depth--
	if g.depth == 0 {
		carrier.SetConversationSessionID(g.saved)
	}
}

// NewEngine creates a delegation engine. The store is optional; when
// nil, delegation activity is not mirrored to a canvas.
func NewEngine(reg *Registry, store *canvas.Store) *Engine {
	return &Engine{
		registry: reg,
		store:    store,
		logger:   slog.Default(),
		guards:   make(map[string]*sessionGuard),
	}
}

// Registry returns the engine's agent registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Delegate runs a sub-task on another agent. The delegation stack is
// carried on the context so concurrent tasks have independent depth
// and cycle history.
func (e *Engine) Delegate(ctx context.Context, fromAgent, toAgent, task, sessionID string) string {
	from := Normalize(fromAgent)
	to := Normalize(toAgent)

	session := e.effectiveSession(ctx, from, sessionID)

	if _, ok := e.registry.GetSpec(to); !ok {
		msg := fmt.Sprintf("FEHLER: Agent '%s' nicht registriert. Verfuegbare Agenten: %s",
			to, strings.Join(e.registry.ListAgents(), ", "))
		e.logDelegation(session, from, to, "error", msg, map[string]any{
			"reason": "agent_not_registered",
			"from":   from,
			"to":     to,
		})
		return msg
	}

	stack := StackFromContext(ctx)

	for i, name := range stack {
		if name != to {
			continue
		}
		chain := strings.Join(append(append([]string{}, stack[i+1:]...), to), " -> ")
		msg := fmt.Sprintf("FEHLER: Zirkulaere Delegation (%s)", chain)
		e.logDelegation(session, from, to, "error", msg, map[string]any{
			"reason": "cycle_detected",
			"from":   from,
			"to":     to,
			"chain":  chain,
		})
		return msg
	}

	if len(stack) >= MaxDelegationDepth {
		msg := fmt.Sprintf("FEHLER: Max Delegation-Tiefe (%d) erreicht", MaxDelegationDepth)
		e.logDelegation(session, from, to, "error", msg, map[string]any{
			"reason": "max_depth",
			"from":   from,
			"to":     to,
			"depth":  len(stack),
		})
		return msg
	}

	// Push the target. The context rebind scopes the new stack to this
	// call; the caller's context keeps the old one, which is the pop.
	newStack := append(append(make([]string, 0, len(stack)+1), stack...), to)
	runCtx := WithSession(withStack(ctx, newStack), session)

	e.logDelegation(session, from, to, "running",
		fmt.Sprintf("%s -> %s: %s", from, to, truncatePreview(task, taskPreviewLen)),
		map[string]any{"from": from, "to": to, "task": truncatePreview(task, taskPreviewLen)})

	inst, err := e.registry.getOrCreate(to)
	if err != nil {
		msg := fmt.Sprintf("FEHLER: Delegation an '%s' fehlgeschlagen: %s",
			to, truncatePreview(err.Error(), errorPreviewLen))
		e.logDelegation(session, from, to, "error", msg, map[string]any{
			"reason": "instantiation_failed",
			"from":   from,
			"to":     to,
		})
		return msg
	}

	// Agent instances are cached and shared, so the mutable session
	// slot is snapshotted and restored around the run.
	if carrier, ok := inst.(SessionCarrier); ok {
		guard := e.sessionGuard(to)
		guard.enter(carrier, session)
		defer guard.exit(carrier)
	}

	result, runErr := inst.Run(runCtx, task)
	observability.GetGlobalMetrics().RecordDelegation(ctx, to, runErr != nil)
	if runErr != nil {
		detail := truncatePreview(runErr.Error(), errorPreviewLen)
		msg := fmt.Sprintf("FEHLER: Delegation an '%s' fehlgeschlagen: %s", to, detail)
		e.logDelegation(session, from, to, "error", detail, map[string]any{
			"reason": "target_failure",
			"from":   from,
			"to":     to,
		})
		return msg
	}

	e.logDelegation(session, from, to, "completed", "", map[string]any{
		"from":   from,
		"to":     to,
		"result": truncatePreview(result, resultPreviewLen),
	})
	return result
}

// Run executes a task on an agent as a fresh top-level entry. Unlike
// Delegate it reports failures as errors, for callers that are code
// rather than a model.
func (e *Engine) Run(ctx context.Context, agentName, task, sessionID string) (string, error) {
	name := Normalize(agentName)
	if _, ok := e.registry.GetSpec(name); !ok {
		return "", fmt.Errorf("agent '%s' not registered, available: %s",
			name, strings.Join(e.registry.ListAgents(), ", "))
	}

	inst, err := e.registry.getOrCreate(name)
	if err != nil {
		return "", err
	}

	// Seed the stack with the entry agent so its own delegations count
	// against the depth limit.
	runCtx := WithSession(withStack(ctx, []string{name}), sessionID)

	if carrier, ok := inst.(SessionCarrier); ok {
		guard := e.sessionGuard(name)
		guard.enter(carrier, sessionID)
		defer guard.exit(carrier)
	}

	return inst.Run(runCtx, task)
}

func (e *Engine) sessionGuard(name string) *sessionGuard {
	e.guardMu.Lock()
	defer e.guardMu.Unlock()
	guard, ok := e.guards[name]
	if !ok {
		guard = &sessionGuard{}
		e.guards[name] = guard
	}
	return guard
}

// effectiveSession prefers the explicit argument, then the cached
// source agent's session slot, then the context.
func (e *Engine) effectiveSession(ctx context.Context, from, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if inst, ok := e.registry.cachedInstance(from); ok {
		if carrier, ok := inst.(SessionCarrier); ok {
			if sid := carrier.ConversationSessionID(); sid != "" {
				return sid
			}
		}
	}
	return SessionFromContext(ctx)
}

// logDelegation mirrors one delegation step to the canvas under the
// caller's session. Best effort: an unresolvable session drops the
// record.
func (e *Engine) logDelegation(session, from, to, status, message string, payload map[string]any) {
	if e.store == nil {
		return
	}
	res := e.store.RecordSessionEvent(session, canvas.EventInput{
		Type:    "delegation",
		Status:  status,
		Agent:   to,
		NodeID:  "agent:" + to,
		Message: message,
		Payload: payload,
	})
	if res == nil {
		return
	}
	if status == "running" {
		// Make both endpoints visible and connect them.
		_, _ = e.store.UpsertNode(res.CanvasID, "agent:"+from, "agent", from, "running", nil, nil)
		_, _ = e.store.UpsertNode(res.CanvasID, "agent:"+to, "agent", to, "running", nil, nil)
		if _, err := e.store.AddEdge(res.CanvasID, "agent:"+from, "agent:"+to, "delegates", "delegation", nil); err != nil {
			e.logger.Debug("delegation edge not recorded", "error", err)
		}
	}
}

func truncatePreview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
