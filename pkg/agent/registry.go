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
	"fmt"
	"sort"
	"sync"

	"github.com/timus-ai/timus/pkg/registry"
	"github.com/timus-ai/timus/pkg/utils"
)

// ManifestFunc supplies the tool manifest handed to agent factories.
// It is fetched once and cached for the life of the registry.
type ManifestFunc func() (string, error)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Manifest supplies the tool manifest for agent factories.
	// Optional; factories receive "" without it.
	Manifest ManifestFunc

	// ManifestTokenBudget truncates the fetched manifest. Zero means
	// no budget.
	ManifestTokenBudget int

	// TokenCounter counts manifest tokens. When nil, a 4-chars-per-
	// token estimate applies.
	TokenCounter *utils.TokenCounter
}

// Registry holds agent blueprints and their memoized instances.
type Registry struct {
	specs *registry.BaseRegistry[*Spec]

	mu        sync.Mutex
	instances map[string]Agent

	manifestOnce sync.Once
	manifestText string
	opts         RegistryOptions
}

// NewRegistry creates an empty agent registry.
func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{
		specs:     registry.NewBaseRegistry[*Spec](),
		instances: make(map[string]Agent),
		opts:      opts,
	}
}

// RegisterSpec adds an agent blueprint under its canonical name.
func (r *Registry) RegisterSpec(spec *Spec) error {
	if spec == nil {
		return fmt.Errorf("agent spec cannot be nil")
	}
	if spec.Factory == nil {
		return fmt.Errorf("agent spec '%s' has no factory", spec.Name)
	}
	name := Normalize(spec.Name)
	if name == "" {
		return fmt.Errorf("agent spec name cannot be empty")
	}
	if err := r.specs.Register(name, spec); err != nil {
		return fmt.Errorf("failed to register agent: %w", err)
	}
	return nil
}

// GetSpec returns the blueprint registered under a (possibly aliased)
// name.
func (r *Registry) GetSpec(name string) (*Spec, bool) {
	return r.specs.Get(Normalize(name))
}

// ListAgents returns the canonical names of all registered agents.
func (r *Registry) ListAgents() []string {
	return r.specs.Keys()
}

// AgentInfo is the introspection payload for one agent.
type AgentInfo struct {
	Name         string   `json:"name"`
	AgentType    string   `json:"agent_type"`
	Capabilities []string `json:"capabilities"`
	Instantiated bool     `json:"instantiated"`
}

// GetAgentInfo returns metadata about a registered agent.
func (r *Registry) GetAgentInfo(name string) (*AgentInfo, bool) {
	canonical := Normalize(name)
	spec, ok := r.specs.Get(canonical)
	if !ok {
		return nil, false
	}

	r.mu.Lock()
	_, instantiated := r.instances[canonical]
	r.mu.Unlock()

	return &AgentInfo{
		Name:         canonical,
		AgentType:    spec.AgentType,
		Capabilities: append([]string(nil), spec.Capabilities...),
		Instantiated: instantiated,
	}, true
}

// FindByCapability returns canonical names of agents carrying a
// capability tag, sorted.
func (r *Registry) FindByCapability(tag string) []string {
	var names []string
	for name, spec := range r.specs.Items() {
		for _, cap := range spec.Capabilities {
			if cap == tag {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// manifest fetches the tool manifest once, applying the token budget.
func (r *Registry) manifest() string {
	r.manifestOnce.Do(func() {
		if r.opts.Manifest == nil {
			return
		}
		text, err := r.opts.Manifest()
		if err != nil {
			// Factories still run; they just get no catalog.
			return
		}
		if budget := r.opts.ManifestTokenBudget; budget > 0 {
			text = r.opts.TokenCounter.TruncateToBudget(text, budget)
		}
		r.manifestText = text
	})
	return r.manifestText
}

// getOrCreate returns the memoized instance for a canonical name,
// building it on first use.
func (r *Registry) getOrCreate(canonical string) (Agent, error) {
	r.mu.Lock()
	if inst, ok := r.instances[canonical]; ok {
		r.mu.Unlock()
		return inst, nil
	}
	r.mu.Unlock()

	spec, ok := r.specs.Get(canonical)
	if !ok {
		return nil, fmt.Errorf("agent '%s' not registered", canonical)
	}

	// The manifest fetch may block on the gateway; keep it outside
	// the instance lock.
	manifest := r.manifest()

	inst, err := spec.Factory(manifest, spec.Extras)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate agent '%s': %w", canonical, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another task may have won the race; keep the first instance so
	// memoization stays stable.
	if existing, ok := r.instances[canonical]; ok {
		return existing, nil
	}
	r.instances[canonical] = inst
	return inst, nil
}

// cachedInstance returns an already-built instance without
// instantiating.
func (r *Registry) cachedInstance(canonical string) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[canonical]
	return inst, ok
}
