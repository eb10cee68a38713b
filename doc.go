// Package timus provides a multi-agent orchestration substrate with a
// shared canvas.
//
// Timus exposes a JSON-RPC tool gateway, an agent roster with bounded
// delegation, a persistent canvas workspace and a server-sent-events
// stream over one HTTP port. Agents record their work as canvas nodes,
// edges and events; every observer sees the same live picture.
//
// # Quick Start
//
// Install Timus:
//
//	go install github.com/timus-ai/timus/cmd/timus@latest
//
// Configure and start the server:
//
//	export OPENAI_API_KEY=sk-...
//	export TIMUS_LLM_PROVIDER=openai
//	timus serve
//
// Then talk to it:
//
//	curl -s localhost:5000/chat -d '{"query": "plan the release"}'
//	curl -N localhost:5000/events/stream
//
// # Using as Go Library
//
// Import specific packages:
//
//	import (
//	    "github.com/timus-ai/timus/pkg/canvas"
//	    "github.com/timus-ai/timus/pkg/tool"
//	    "github.com/timus-ai/timus/pkg/agent"
//	)
//
// # Key Features
//
//   - **JSON-RPC 2.0 Gateway**: every tool is a method on one endpoint
//   - **Shared Canvas**: persistent nodes, edges and event log per board
//   - **Bounded Delegation**: agents hand off tasks with cycle and depth guards
//   - **Live Stream**: SSE broadcast of tool calls, chat turns and statuses
//   - **MCP Tool Discovery**: attach external Model Context Protocol servers
//   - **Semantic Memory**: embedded vector store for agent notes
//
// # Architecture
//
// Timus keeps all state process-local:
//
//	Client → HTTP Server → Gateway → Tool Registry → Agents → Canvas Store
//
// The canvas store persists to a single JSON file; everything else is
// rebuilt at startup from configuration.
package timus
