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

// Package mcpsource discovers tools from MCP (Model Context Protocol)
// servers over streamable HTTP and registers them in the tool catalog.
// A server that cannot be reached degrades to a warning; the substrate
// starts without its tools.
package mcpsource

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/timus-ai/timus/pkg/tool"
)

const protocolVersion = "2024-11-05"

// ServerConfig identifies one MCP server.
type ServerConfig struct {
	Name string
	URL  string
}

// ParseServers parses TIMUS_MCP_SERVERS entries, each either
// "name=url" or a bare url.
func ParseServers(entries []string) []ServerConfig {
	var servers []ServerConfig
	for i, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, url, found := strings.Cut(entry, "=")
		if !found {
			servers = append(servers, ServerConfig{
				Name: fmt.Sprintf("mcp%d", i+1),
				URL:  entry,
			})
			continue
		}
		servers = append(servers, ServerConfig{
			Name: strings.TrimSpace(name),
			URL:  strings.TrimSpace(url),
		})
	}
	return servers
}

// Source is a connected MCP server.
type Source struct {
	cfg    ServerConfig
	client *client.Client
	logger *slog.Logger
}

// Connect dials an MCP server and performs the initialize handshake.
func Connect(ctx context.Context, cfg ServerConfig) (*Source, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("MCP server url is required")
	}

	c, err := client.NewStreamableHttpClient(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client for %s: %w", cfg.Name, err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client for %s: %w", cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "timus", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = protocolVersion
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize MCP server %s: %w", cfg.Name, err)
	}

	return &Source{cfg: cfg, client: c, logger: slog.Default()}, nil
}

// Name returns the configured server name.
func (s *Source) Name() string {
	return s.cfg.Name
}

// Close closes the MCP connection.
func (s *Source) Close() error {
	return s.client.Close()
}

// Tools lists the server's tools converted to catalog tools. Every
// tool carries the "mcp" capability tag and the external category.
func (s *Source) Tools(ctx context.Context) ([]*tool.Tool, error) {
	resp, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools of %s: %w", s.cfg.Name, err)
	}

	tools := make([]*tool.Tool, 0, len(resp.Tools))
	for _, mcpTool := range resp.Tools {
		tools = append(tools, s.convert(mcpTool))
	}
	return tools, nil
}

func (s *Source) convert(mcpTool mcp.Tool) *tool.Tool {
	name := mcpTool.Name
	return &tool.Tool{
		Name:         name,
		Description:  mcpTool.Description,
		Parameters:   convertParameters(mcpTool.InputSchema),
		Capabilities: []string{"mcp", "mcp:" + s.cfg.Name},
		Category:     tool.CategoryExternal,
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return s.call(ctx, name, params)
		},
	}
}

// call invokes the remote tool. Tool-level failures come back as a
// result with an "error" key so the calling model can read them.
func (s *Source) call(ctx context.Context, name string, params map[string]any) (any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = params

	resp, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call to %s/%s failed: %w", s.cfg.Name, name, err)
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}

	result := make(map[string]any)
	if resp.IsError {
		result["error"] = "unknown error"
		if len(texts) > 0 {
			result["error"] = texts[0]
		}
		return result, nil
	}

	switch len(texts) {
	case 0:
	case 1:
		result["result"] = texts[0]
	default:
		result["results"] = texts
	}
	return result, nil
}

// convertParameters flattens an MCP input schema into the catalog's
// parameter list.
func convertParameters(schema mcp.ToolInputSchema) []tool.Parameter {
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tool.Parameter, 0, len(names))
	for _, name := range names {
		p := tool.Parameter{
			Name:     name,
			Type:     tool.TypeString,
			Required: required[name],
		}
		if prop, ok := schema.Properties[name].(map[string]any); ok {
			if typ, ok := prop["type"].(string); ok && typ != "" {
				p.Type = tool.ParamType(typ)
			}
			if desc, ok := prop["description"].(string); ok {
				p.Description = desc
			}
			if def, ok := prop["default"]; ok {
				p.Default = def
			}
		}
		params = append(params, p)
	}
	return params
}

// RegisterAll connects to every configured server and registers its
// tools. Connection and registration failures are logged and skipped.
// Returns the connected sources so the caller can close them on
// shutdown.
func RegisterAll(ctx context.Context, reg *tool.Registry, servers []ServerConfig) []*Source {
	logger := slog.Default()
	var sources []*Source

	for _, cfg := range servers {
		src, err := Connect(ctx, cfg)
		if err != nil {
			logger.Warn("MCP server unavailable, skipping", "server", cfg.Name, "url", cfg.URL, "error", err)
			continue
		}

		tools, err := src.Tools(ctx)
		if err != nil {
			logger.Warn("MCP tool discovery failed, skipping", "server", cfg.Name, "error", err)
			src.Close()
			continue
		}

		registered := 0
		for _, t := range tools {
			if err := reg.Register(t); err != nil {
				logger.Warn("MCP tool not registered", "server", cfg.Name, "tool", t.Name, "error", err)
				continue
			}
			registered++
		}
		logger.Info("connected to MCP server", "server", cfg.Name, "tools", registered)
		sources = append(sources, src)
	}
	return sources
}
