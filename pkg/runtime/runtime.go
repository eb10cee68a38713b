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

// Package runtime assembles the substrate: it builds the canvas store,
// the tool catalog, the agent registry, the gateway and the HTTP
// server from configuration, and runs the background workers.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	goruntime "runtime"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/timus-ai/timus/pkg/agent"
	"github.com/timus-ai/timus/pkg/canvas"
	"github.com/timus-ai/timus/pkg/chat"
	"github.com/timus-ai/timus/pkg/config"
	"github.com/timus-ai/timus/pkg/gateway"
	"github.com/timus-ai/timus/pkg/llm"
	"github.com/timus-ai/timus/pkg/memory"
	"github.com/timus-ai/timus/pkg/observability"
	"github.com/timus-ai/timus/pkg/policy"
	"github.com/timus-ai/timus/pkg/server"
	"github.com/timus-ai/timus/pkg/stream"
	"github.com/timus-ai/timus/pkg/tool"
	"github.com/timus-ai/timus/pkg/tool/builtin"
	"github.com/timus-ai/timus/pkg/tool/mcpsource"
	"github.com/timus-ai/timus/pkg/utils"
)

// Runtime is the assembled substrate.
type Runtime struct {
	cfg *config.Config

	store       *canvas.Store
	tools       *tool.Registry
	agents      *agent.Registry
	engine      *agent.Engine
	broadcaster *stream.Broadcaster
	chatSvc     *chat.Service
	gateway     *gateway.Gateway
	server      *server.Server

	llmClient  *llm.Client
	memStore   *memory.Store
	mcpSources []*mcpsource.Source
	tracer     trace.TracerProvider

	version   string
	startedAt time.Time
	logger    *slog.Logger
}

// New builds the runtime from configuration. Errors here are init
// failures and translate to a nonzero process exit.
func New(ctx context.Context, cfg *config.Config, version string) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.Default()
	rt := &Runtime{
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
		logger:    logger,
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		// Metrics are not worth refusing to start over.
		logger.Warn("metrics disabled", "error", err)
	} else {
		observability.SetGlobalMetrics(metrics)
	}

	rt.tracer, err = observability.InitGlobalTracer(ctx, observability.TracerConfig{
		Enabled:     cfg.TracingEnabled,
		EndpointURL: cfg.TracingEndpoint,
		SampleRate:  cfg.TracingSampleRate,
		ServiceName: "timus",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	storeOpts := canvas.StoreOptions{
		Path:       cfg.CanvasStorePath,
		AutoAttach: cfg.CanvasAutoAttach,
	}
	if cfg.CanvasStorePath == config.DefaultCanvasStorePath() {
		storeOpts.LegacyPaths = config.LegacyCanvasStorePaths()
	}
	rt.store, err = canvas.NewStore(storeOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open canvas store: %w", err)
	}

	if cfg.CanvasAutoCreate && rt.store.PrimaryCanvasID() == "" {
		c := rt.store.CreateCanvas(cfg.CanvasDefaultTitle, "", nil)
		logger.Info("created default canvas", "id", c.ID, "title", c.Title)
	}

	rt.broadcaster = stream.NewBroadcaster()
	rt.tools = tool.NewRegistry()

	if cfg.LLMProvider != "" {
		rt.llmClient, err = llm.NewClient(llm.ClientConfig{
			BaseURL:        cfg.LLMBaseURL,
			APIKey:         cfg.LLMAPIKey,
			Model:          cfg.LLMModel,
			EmbeddingModel: cfg.EmbeddingModel,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}

		rt.memStore, err = memory.NewStore(memory.Config{
			Path:     memoryPath(cfg.CanvasStorePath),
			Embedder: rt.llmClient,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open memory store: %w", err)
		}
	} else {
		logger.Warn("no LLM provider configured, chat and memory are disabled")
	}

	counter, err := utils.NewTokenCounter(cfg.LLMModel)
	if err != nil {
		logger.Warn("token counting unavailable, using size estimate", "error", err)
		counter = nil
	}

	rt.agents = agent.NewRegistry(agent.RegistryOptions{
		Manifest:            func() (string, error) { return rt.tools.GetToolManifest(), nil },
		ManifestTokenBudget: cfg.ManifestTokenBudget,
		TokenCounter:        counter,
	})
	rt.engine = agent.NewEngine(rt.agents, rt.store)

	if rt.llmClient != nil {
		for _, spec := range defaultAgentSpecs(rt.llmClient) {
			if err := rt.agents.RegisterSpec(spec); err != nil {
				return nil, fmt.Errorf("failed to register agent: %w", err)
			}
		}
	}

	if err := builtin.Register(rt.tools, builtin.Deps{
		Engine: rt.engine,
		Store:  rt.store,
		Memory: rt.memStore,
	}); err != nil {
		return nil, fmt.Errorf("failed to register builtin tools: %w", err)
	}

	rt.mcpSources = mcpsource.RegisterAll(ctx, rt.tools, mcpsource.ParseServers(cfg.MCPServers))

	var repair gateway.RepairFunc
	if rt.llmClient != nil {
		repair = func(raw string) (string, error) {
			repairCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return rt.llmClient.RepairJSON(repairCtx, raw)
		}
	}
	rt.gateway = gateway.New(gateway.Options{
		Tools:       rt.tools,
		Policy:      denyGate(cfg.DenyTools),
		Broadcaster: rt.broadcaster,
		Store:       rt.store,
		Repair:      repair,
	})

	rt.chatSvc = chat.NewService(chat.Options{
		Engine:      rt.engine,
		Broadcaster: rt.broadcaster,
		Store:       rt.store,
	})

	rt.server = server.New(server.Options{
		Config:      cfg,
		Gateway:     rt.gateway,
		Tools:       rt.tools,
		Store:       rt.store,
		Broadcaster: rt.broadcaster,
		Chat:        rt.chatSvc,
		Agents:      rt.agents,
		Version:     version,
	})

	logger.Info("runtime assembled",
		"tools", rt.tools.Count(),
		"agents", len(rt.agents.ListAgents()),
		"mcp_servers", len(rt.mcpSources),
		"canvas_store", rt.store.Path(),
	)
	return rt, nil
}

// Run starts the background workers and serves HTTP until the context
// is canceled.
func (rt *Runtime) Run(ctx context.Context) error {
	if rt.cfg.MirrorLog {
		worker := newMirrorWorker(rt.store, rt.cfg.MirrorLogInterval)
		go worker.run(ctx)
	}

	hb := &heartbeat{
		broadcaster: rt.broadcaster,
		tools:       rt.tools,
		agents:      rt.agents,
		interval:    rt.cfg.HeartbeatInterval,
		startedAt:   rt.startedAt,
	}
	go hb.run(ctx)

	if rt.cfg.CanvasAutoOpen {
		openBrowser("http://" + rt.cfg.Addr() + "/canvas")
	}

	err := rt.server.Start(ctx)
	rt.close()
	return err
}

// close releases external connections.
func (rt *Runtime) close() {
	for _, src := range rt.mcpSources {
		if err := src.Close(); err != nil {
			rt.logger.Warn("failed to close MCP source", "server", src.Name(), "error", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := observability.Shutdown(shutdownCtx, rt.tracer); err != nil {
		rt.logger.Warn("tracer shutdown failed", "error", err)
	}
}

// Handler exposes the HTTP surface for tests.
func (rt *Runtime) Handler() *server.Server {
	return rt.server
}

// denyGate builds the gateway's policy gate from the configured deny
// list. Nil leaves the gateway on its allow-all default.
func denyGate(denied []string) policy.Gate {
	if len(denied) == 0 {
		return nil
	}
	return policy.NewRuleGate(
		policy.DenyMethods("tool disabled by operator policy", denied...))
}

// memoryPath places the vector store next to the canvas store file.
func memoryPath(canvasStorePath string) string {
	return canvasStorePath + ".memory"
}

// openBrowser is best effort; a headless host just logs the URL.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		slog.Default().Info("open the canvas UI manually", "url", url)
	}
}
