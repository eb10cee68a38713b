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
	"sync"

	"github.com/timus-ai/timus/pkg/llm"
)

// LLMAgent is a chat-completion backed agent. The persona and the tool
// manifest form its system prompt; the session id slot is shared
// mutable state managed by the delegation engine across runs.
type LLMAgent struct {
	name     string
	persona  string
	manifest string
	chat     llm.Chat

	mu        sync.Mutex
	sessionID string
}

// NewLLMAgent creates an agent speaking through the given chat client.
func NewLLMAgent(name, persona, manifest string, chat llm.Chat) *LLMAgent {
	return &LLMAgent{
		name:     name,
		persona:  persona,
		manifest: manifest,
		chat:     chat,
	}
}

// Run implements Agent.
func (a *LLMAgent) Run(ctx context.Context, task string) (string, error) {
	system := a.persona
	if a.manifest != "" {
		system += "\n\n" + a.manifest
	}

	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: task},
	}

	result, err := a.chat.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("agent '%s' completion failed: %w", a.name, err)
	}
	return result, nil
}

// ConversationSessionID implements SessionCarrier.
func (a *LLMAgent) ConversationSessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// SetConversationSessionID implements SessionCarrier.
func (a *LLMAgent) SetConversationSessionID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = id
}

// LLMSpec builds a registry blueprint for an LLM-backed agent. The
// factory receives the tool manifest at first instantiation.
func LLMSpec(name, agentType, persona string, capabilities []string, chat llm.Chat) *Spec {
	return &Spec{
		Name:         name,
		AgentType:    agentType,
		Capabilities: capabilities,
		Factory: func(manifest string, _ map[string]any) (Agent, error) {
			if chat == nil {
				return nil, fmt.Errorf("agent '%s' requires an LLM client", name)
			}
			return NewLLMAgent(name, persona, manifest, chat), nil
		},
	}
}
