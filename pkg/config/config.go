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

// Package config loads the runtime configuration from the process
// environment. Configuration is flat: every knob is a single
// environment variable, optionally seeded from .env.local / .env.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultHost               = "127.0.0.1"
	DefaultPort               = 5000
	DefaultCanvasTitle        = "Live Canvas"
	DefaultMirrorInterval     = 1200 * time.Millisecond
	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultManifestTokenLimit = 4096
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Host string
	Port int

	// Canvas store.
	CanvasStorePath    string
	CanvasAutoCreate   bool
	CanvasAutoOpen     bool
	CanvasDefaultTitle string
	CanvasAutoAttach   bool

	// Mirror worker.
	MirrorLog         bool
	MirrorLogInterval time.Duration

	// Heartbeat scheduler.
	HeartbeatInterval time.Duration

	// Token budget applied to the tool manifest handed to agents.
	ManifestTokenBudget int

	// MCP tool discovery. Comma-separated streamable HTTP URLs.
	MCPServers []string

	// Tool names the gateway's policy gate rejects. Empty allows all.
	DenyTools []string

	// LLM client. Provider is "" when no LLM is configured; the
	// substrate then runs without chat completion and repair support.
	LLMProvider    string
	LLMBaseURL     string
	LLMModel       string
	LLMAPIKey      string
	EmbeddingModel string

	// Logging.
	LogLevel  string
	LogFormat string

	// Tracing. Disabled by default; the OTLP endpoint is only used
	// when enabled.
	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64
}

// Load resolves the configuration from environment variables, applying
// documented defaults. It does not validate; call Validate afterwards.
func Load() *Config {
	return &Config{
		Host: GetEnvString("HOST", DefaultHost),
		Port: GetEnvInt("PORT", DefaultPort),

		CanvasStorePath:    GetEnvString("TIMUS_CANVAS_STORE", DefaultCanvasStorePath()),
		CanvasAutoCreate:   GetEnvBool("TIMUS_CANVAS_AUTO_CREATE", true),
		CanvasAutoOpen:     GetEnvBool("TIMUS_CANVAS_AUTO_OPEN", true),
		CanvasDefaultTitle: GetEnvString("TIMUS_CANVAS_DEFAULT_TITLE", DefaultCanvasTitle),
		CanvasAutoAttach:   GetEnvBool("TIMUS_CANVAS_AUTO_ATTACH_SESSIONS", true),

		MirrorLog:         GetEnvBool("TIMUS_CANVAS_MIRROR_LOG", true),
		MirrorLogInterval: GetEnvDuration("TIMUS_CANVAS_MIRROR_LOG_INTERVAL", DefaultMirrorInterval),

		HeartbeatInterval: GetEnvDuration("TIMUS_HEARTBEAT_INTERVAL", DefaultHeartbeatInterval),

		ManifestTokenBudget: GetEnvInt("TIMUS_MANIFEST_TOKEN_BUDGET", DefaultManifestTokenLimit),

		MCPServers: GetEnvStringList("TIMUS_MCP_SERVERS"),

		DenyTools: GetEnvStringList("TIMUS_DENY_TOOLS"),

		LLMProvider:    GetEnvString("TIMUS_LLM_PROVIDER", ""),
		LLMBaseURL:     GetEnvString("TIMUS_LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModel:       GetEnvString("TIMUS_LLM_MODEL", "gpt-4o-mini"),
		LLMAPIKey:      os.Getenv("OPENAI_API_KEY"),
		EmbeddingModel: GetEnvString("TIMUS_EMBEDDING_MODEL", "text-embedding-3-small"),

		LogLevel:  GetEnvString("TIMUS_LOG_LEVEL", "info"),
		LogFormat: GetEnvString("TIMUS_LOG_FORMAT", "simple"),

		TracingEnabled:    GetEnvBool("TIMUS_TRACING_ENABLED", false),
		TracingEndpoint:   GetEnvString("TIMUS_TRACING_ENDPOINT", "localhost:4317"),
		TracingSampleRate: GetEnvFloat("TIMUS_TRACING_SAMPLE_RATE", 1.0),
	}
}

// Validate checks the invariants that must hold before the runtime
// starts. Failures here translate to a nonzero process exit.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.CanvasStorePath == "" {
		return fmt.Errorf("canvas store path cannot be empty")
	}
	if c.MirrorLogInterval <= 0 {
		return fmt.Errorf("mirror log interval must be positive, got %s", c.MirrorLogInterval)
	}
	if c.ManifestTokenBudget <= 0 {
		return fmt.Errorf("manifest token budget must be positive, got %d", c.ManifestTokenBudget)
	}
	if c.LLMProvider != "" && c.LLMAPIKey == "" {
		return fmt.Errorf("LLM provider '%s' configured but OPENAI_API_KEY is not set", c.LLMProvider)
	}
	return nil
}

// Addr returns the host:port bind address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultCanvasStorePath returns the default store file location,
// relative to the working directory.
func DefaultCanvasStorePath() string {
	return filepath.Join("data", "canvas_store.json")
}

// LegacyCanvasStorePaths lists prior default store locations checked
// during one-time migration of the default path.
func LegacyCanvasStorePaths() []string {
	return []string{
		filepath.Join("canvas_store.json"),
		filepath.Join("data", "canvas.json"),
		filepath.Join("state", "canvas_store.json"),
	}
}
