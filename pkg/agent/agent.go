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

// Package agent manages agent blueprints, lazy instantiation, and the
// delegation primitive through which agents call each other.
package agent

import (
	"context"
	"strings"
)

// MaxDelegationDepth bounds the delegation stack of one task.
const MaxDelegationDepth = 3

// Agent is a runnable agent instance.
type Agent interface {
	Run(ctx context.Context, task string) (string, error)
}

// SessionCarrier is implemented by agents that keep a mutable
// conversation session id. The delegation engine snapshots and
// restores it around each run.
type SessionCarrier interface {
	ConversationSessionID() string
	SetConversationSessionID(id string)
}

// Factory builds an agent instance from the tool manifest and the
// spec's extra arguments. Factories must not touch registry state.
type Factory func(manifest string, extras map[string]any) (Agent, error)

// Spec is an agent blueprint. Specs are never mutated after
// registration; instances are memoized on first delegation.
type Spec struct {
	Name         string
	AgentType    string
	Capabilities []string
	Extras       map[string]any
	Factory      Factory
}

// aliases maps accepted input names to canonical agent names.
var aliases = map[string]string{
	"development": "developer",
	"dev":         "developer",
	"researcher":  "research",
	"analyst":     "reasoning",
	"vision":      "visual",
}

// Normalize lowercases, trims, and resolves an agent name through the
// alias table.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

// Context keys. The delegation stack and session id travel on the
// context so concurrent tasks never observe each other's state.
type contextKey int

const (
	stackKey contextKey = iota
	sessionKey
)

// StackFromContext returns the current delegation stack. The returned
// slice must not be mutated.
func StackFromContext(ctx context.Context) []string {
	stack, _ := ctx.Value(stackKey).([]string)
	return stack
}

// withStack returns a context carrying the given stack. The stack is
// always a fresh slice so sibling tasks cannot alias it.
func withStack(ctx context.Context, stack []string) context.Context {
	return context.WithValue(ctx, stackKey, stack)
}

// SessionFromContext returns the session id carried by the context,
// or "".
func SessionFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(sessionKey).(string)
	return sid
}

// WithSession returns a context carrying the session id.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey, sessionID)
}

// CurrentAgentName returns the top of the delegation stack, or "" at
// the root of a task.
func CurrentAgentName(ctx context.Context) string {
	stack := StackFromContext(ctx)
	if len(stack) == 0 {
		return ""
	}
	return stack[len(stack)-1]
}
