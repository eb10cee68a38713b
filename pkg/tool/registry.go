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

package tool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/timus-ai/timus/pkg/registry"
)

// Registry is the process-wide tool catalog with secondary indexes by
// capability tag and by category. Write-once at startup, read-mostly
// thereafter.
type Registry struct {
	base *registry.BaseRegistry[*Tool]

	mu           sync.RWMutex
	version      int
	byCapability map[string][]*Tool
	byCategory   map[Category][]*Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		base:         registry.NewBaseRegistry[*Tool](),
		byCapability: make(map[string][]*Tool),
		byCategory:   make(map[Category][]*Tool),
	}
}

// Register adds a tool to the catalog. Duplicate names fail fast.
func (r *Registry) Register(t *Tool) error {
	if t == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if err := r.base.Register(t.Name, t); err != nil {
		return fmt.Errorf("failed to register tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.version++
	for _, cap := range t.Capabilities {
		r.byCapability[cap] = append(r.byCapability[cap], t)
	}
	if t.Category != "" {
		r.byCategory[t.Category] = append(r.byCategory[t.Category], t)
	}
	return nil
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	return r.base.Get(name)
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	return r.base.Keys()
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	return r.base.Count()
}

// Version returns the catalog revision, bumped on every registration.
func (r *Registry) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// ListAll returns the name→tool mapping.
func (r *Registry) ListAll() map[string]*Tool {
	return r.base.Items()
}

// GetToolsByCapability returns tools carrying a capability tag,
// sorted by name.
func (r *Registry) GetToolsByCapability(tag string) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := append([]*Tool(nil), r.byCapability[tag]...)
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// GetToolsByCategory returns tools in a category, sorted by name.
func (r *Registry) GetToolsByCategory(cat Category) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := append([]*Tool(nil), r.byCategory[cat]...)
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// ApplyDefaults returns the call parameters with declared defaults
// filled in for absent optional parameters. The input map is not
// modified.
func (r *Registry) ApplyDefaults(name string, params map[string]any) map[string]any {
	t, ok := r.base.Get(name)
	if !ok {
		return params
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, p := range t.Parameters {
		if p.Default == nil {
			continue
		}
		if _, present := out[p.Name]; !present {
			out[p.Name] = p.Default
		}
	}
	return out
}

// ValidateCall checks a call against a tool's parameter contract:
// every required parameter present, every supplied parameter declared
// and type-compatible.
func (r *Registry) ValidateCall(name string, params map[string]any) error {
	t, ok := r.base.Get(name)
	if !ok {
		return &NotFoundError{Name: name}
	}

	declared := make(map[string]Parameter, len(t.Parameters))
	for _, p := range t.Parameters {
		declared[p.Name] = p
		if !p.Required {
			continue
		}
		if _, present := params[p.Name]; !present {
			return &ValidationError{Tool: name, Param: p.Name, Reason: "is required"}
		}
	}

	for pname, value := range params {
		p, ok := declared[pname]
		if !ok {
			return &ValidationError{Tool: name, Param: pname, Reason: "is not declared"}
		}
		if !TypeCompatible(p.Type, value) {
			return &ValidationError{
				Tool:   name,
				Param:  pname,
				Reason: fmt.Sprintf("must be of type %s", p.Type),
			}
		}
	}
	return nil
}
