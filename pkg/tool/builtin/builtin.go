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

// Package builtin registers the substrate's own tools: agent
// delegation and introspection, canvas manipulation, and semantic
// memory. All of them are plain function tools, so they go through the
// same validation and policy pipeline as external tools.
package builtin

import (
	"context"
	"fmt"

	"github.com/timus-ai/timus/pkg/agent"
	"github.com/timus-ai/timus/pkg/canvas"
	"github.com/timus-ai/timus/pkg/memory"
	"github.com/timus-ai/timus/pkg/tool"
	"github.com/timus-ai/timus/pkg/tool/functiontool"
)

// Deps are the subsystems the builtin tools operate on. Memory is
// optional; without it the memory tools are not registered.
type Deps struct {
	Engine *agent.Engine
	Store  *canvas.Store
	Memory *memory.Store
}

// Register adds all builtin tools to the registry.
func Register(reg *tool.Registry, deps Deps) error {
	builders := []func() (*tool.Tool, error){
		func() (*tool.Tool, error) { return delegateToAgent(deps.Engine) },
		func() (*tool.Tool, error) { return listAgents(deps.Engine) },
		func() (*tool.Tool, error) { return getAgentInfo(deps.Engine) },
		func() (*tool.Tool, error) { return canvasCreate(deps.Store) },
		func() (*tool.Tool, error) { return canvasUpsertNode(deps.Store) },
		func() (*tool.Tool, error) { return canvasAddEdge(deps.Store) },
		func() (*tool.Tool, error) { return canvasAddEvent(deps.Store) },
		func() (*tool.Tool, error) { return canvasGetView(deps.Store) },
	}
	if deps.Memory != nil {
		builders = append(builders,
			func() (*tool.Tool, error) { return memoryStore(deps.Memory) },
			func() (*tool.Tool, error) { return memorySearch(deps.Memory) },
		)
	}

	for _, build := range builders {
		t, err := build()
		if err != nil {
			return err
		}
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

type delegateArgs struct {
	AgentName string `json:"agent_name" jsonschema:"required,description=Target agent name or alias"`
	Task      string `json:"task" jsonschema:"required,description=Task description for the target agent"`
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Conversation session id"`
}

func delegateToAgent(engine *agent.Engine) (*tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:         "delegate_to_agent",
		Description:  "Delegate a sub-task to another registered agent and return its result",
		Capabilities: []string{"delegation"},
		Category:     tool.CategoryAgent,
	}, func(ctx context.Context, args delegateArgs) (any, error) {
		from := agent.CurrentAgentName(ctx)
		if from == "" {
			from = "user"
		}
		return engine.Delegate(ctx, from, args.AgentName, args.Task, args.SessionID), nil
	})
}

type listAgentsArgs struct{}

func listAgents(engine *agent.Engine) (*tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:         "list_agents",
		Description:  "List the names of all registered agents",
		Capabilities: []string{"introspection"},
		Category:     tool.CategoryAgent,
	}, func(_ context.Context, _ listAgentsArgs) (any, error) {
		return map[string]any{"agents": engine.Registry().ListAgents()}, nil
	})
}

type agentInfoArgs struct {
	AgentName string `json:"agent_name" jsonschema:"required,description=Agent name or alias"`
}

func getAgentInfo(engine *agent.Engine) (*tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:         "get_agent_info",
		Description:  "Return type, capabilities and instantiation state of an agent",
		Capabilities: []string{"introspection"},
		Category:     tool.CategoryAgent,
	}, func(_ context.Context, args agentInfoArgs) (any, error) {
		info, ok := engine.Registry().GetAgentInfo(args.AgentName)
		if !ok {
			return nil, fmt.Errorf("agent '%s' not registered", args.AgentName)
		}
		return info, nil
	})
}

type canvasCreateArgs struct {
	Title       string `json:"title,omitempty" jsonschema:"description=Canvas title"`
	Description string `json:"description,omitempty" jsonschema:"description=Canvas description"`
}

func canvasCreate(store *canvas.Store) (*tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:         "canvas_create",
		Description:  "Create a new canvas and return it",
		Capabilities: []string{"canvas"},
		Category:     tool.CategoryCanvas,
	}, func(_ context.Context, args canvasCreateArgs) (any, error) {
		return store.CreateCanvas(args.Title, args.Description, nil), nil
	})
}

// resolveCanvasID falls back to the primary canvas when no id is given.
func resolveCanvasID(store *canvas.Store, canvasID string) (string, error) {
	if canvasID != "" {
		return canvasID, nil
	}
	if id := store.PrimaryCanvasID(); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("no canvas_id given and no canvas exists")
}

type upsertNodeArgs struct {
	CanvasID string         `json:"canvas_id,omitempty" jsonschema:"description=Canvas id; defaults to the primary canvas"`
	NodeID   string         `json:"node_id" jsonschema:"required,description=Stable node identifier"`
	NodeType string         `json:"node_type,omitempty" jsonschema:"description=Node type such as agent or task"`
	Title    string         `json:"title,omitempty" jsonschema:"description=Display title"`
	Status   string         `json:"status,omitempty" jsonschema:"description=Node status"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"description=Metadata merged into the node"`
}

func canvasUpsertNode(store *canvas.Store) (*tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:         "canvas_upsert_node",
		Description:  "Create or update a node on a canvas",
		Capabilities: []string{"canvas"},
		Category:     tool.CategoryCanvas,
	}, func(_ context.Context, args upsertNodeArgs) (any, error) {
		id, err := resolveCanvasID(store, args.CanvasID)
		if err != nil {
			return nil, err
		}
		return store.UpsertNode(id, args.NodeID, args.NodeType, args.Title, args.Status, nil, args.Metadata)
	})
}

type addEdgeArgs struct {
	CanvasID string `json:"canvas_id,omitempty" jsonschema:"description=Canvas id; defaults to the primary canvas"`
	Source   string `json:"source" jsonschema:"required,description=Source node id"`
	Target   string `json:"target" jsonschema:"required,description=Target node id"`
	Label    string `json:"label,omitempty" jsonschema:"description=Edge label"`
	Kind     string `json:"kind,omitempty" jsonschema:"description=Edge kind; defaults to flow"`
}

func canvasAddEdge(store *canvas.Store) (*tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:         "canvas_add_edge",
		Description:  "Connect two nodes on a canvas; duplicate edges are merged",
		Capabilities: []string{"canvas"},
		Category:     tool.CategoryCanvas,
	}, func(_ context.Context, args addEdgeArgs) (any, error) {
		id, err := resolveCanvasID(store, args.CanvasID)
		if err != nil {
			return nil, err
		}
		return store.AddEdge(id, args.Source, args.Target, args.Label, args.Kind, nil)
	})
}

type addEventArgs struct {
	CanvasID string         `json:"canvas_id,omitempty" jsonschema:"description=Canvas id; defaults to the primary canvas"`
	Type     string         `json:"type" jsonschema:"required,description=Event type"`
	Status   string         `json:"status,omitempty" jsonschema:"description=Event status"`
	Agent    string         `json:"agent,omitempty" jsonschema:"description=Agent the event belongs to"`
	NodeID   string         `json:"node_id,omitempty" jsonschema:"description=Node the event refers to"`
	Message  string         `json:"message,omitempty" jsonschema:"description=Human readable message"`
	Payload  map[string]any `json:"payload,omitempty" jsonschema:"description=Structured payload"`
}

func canvasAddEvent(store *canvas.Store) (*tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:         "canvas_add_event",
		Description:  "Append an event to a canvas timeline",
		Capabilities: []string{"canvas"},
		Category:     tool.CategoryCanvas,
	}, func(_ context.Context, args addEventArgs) (any, error) {
		id, err := resolveCanvasID(store, args.CanvasID)
		if err != nil {
			return nil, err
		}
		return store.AddEvent(id, canvas.EventInput{
			Type:    args.Type,
			Status:  args.Status,
			Agent:   args.Agent,
			NodeID:  args.NodeID,
			Message: args.Message,
			Payload: args.Payload,
		})
	})
}

type getViewArgs struct {
	CanvasID   string `json:"canvas_id,omitempty" jsonschema:"description=Canvas id; defaults to the primary canvas"`
	SessionID  string `json:"session_id,omitempty" jsonschema:"description=Only events of this session"`
	Agent      string `json:"agent,omitempty" jsonschema:"description=Only events and nodes of this agent"`
	Status     string `json:"status,omitempty" jsonschema:"description=Only events with this status"`
	OnlyErrors bool   `json:"only_errors,omitempty" jsonschema:"description=Only error events and nodes"`
	EventLimit int    `json:"event_limit,omitempty" jsonschema:"description=Max events returned,default=200"`
}

func canvasGetView(store *canvas.Store) (*tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:         "canvas_get_view",
		Description:  "Return a filtered snapshot of a canvas",
		Capabilities: []string{"canvas"},
		Category:     tool.CategoryCanvas,
	}, func(_ context.Context, args getViewArgs) (any, error) {
		id, err := resolveCanvasID(store, args.CanvasID)
		if err != nil {
			return nil, err
		}
		view := store.GetCanvasView(id, canvas.ViewFilters{
			SessionID:  args.SessionID,
			Agent:      args.Agent,
			Status:     args.Status,
			OnlyErrors: args.OnlyErrors,
			EventLimit: args.EventLimit,
		})
		if view == nil {
			return nil, fmt.Errorf("canvas '%s' not found", id)
		}
		return view, nil
	})
}

type memoryStoreArgs struct {
	Content  string            `json:"content" jsonschema:"required,description=Text to remember"`
	Metadata map[string]string `json:"metadata,omitempty" jsonschema:"description=String metadata stored with the note"`
}

func memoryStore(mem *memory.Store) (*tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:         "memory_store",
		Description:  "Store a note in semantic memory and return its id",
		Capabilities: []string{"memory"},
		Category:     tool.CategoryMemory,
	}, func(ctx context.Context, args memoryStoreArgs) (any, error) {
		id, err := mem.Save(ctx, args.Content, args.Metadata)
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": id}, nil
	})
}

type memorySearchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Max results,default=5"`
}

func memorySearch(mem *memory.Store) (*tool.Tool, error) {
	return functiontool.New(functiontool.Config{
		Name:         "memory_search",
		Description:  "Search semantic memory for relevant notes",
		Capabilities: []string{"memory"},
		Category:     tool.CategoryMemory,
	}, func(ctx context.Context, args memorySearchArgs) (any, error) {
		results, err := mem.Search(ctx, args.Query, args.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"results": results}, nil
	})
}
