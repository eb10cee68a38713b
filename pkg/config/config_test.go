package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultCanvasTitle, cfg.CanvasDefaultTitle)
	assert.True(t, cfg.CanvasAutoCreate)
	assert.True(t, cfg.CanvasAutoAttach)
	assert.True(t, cfg.MirrorLog)
	assert.Equal(t, DefaultMirrorInterval, cfg.MirrorLogInterval)
	assert.Equal(t, DefaultManifestTokenLimit, cfg.ManifestTokenBudget)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "8080")
	t.Setenv("TIMUS_CANVAS_STORE", "/tmp/canvas.json")
	t.Setenv("TIMUS_CANVAS_AUTO_CREATE", "false")
	t.Setenv("TIMUS_CANVAS_MIRROR_LOG_INTERVAL", "2.5")
	t.Setenv("TIMUS_MCP_SERVERS", "http://localhost:3001, http://localhost:3002")
	t.Setenv("TIMUS_DENY_TOOLS", "delegate_to_agent, memory_store")

	cfg := Load()

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "/tmp/canvas.json", cfg.CanvasStorePath)
	assert.False(t, cfg.CanvasAutoCreate)
	assert.Equal(t, 2500*time.Millisecond, cfg.MirrorLogInterval)
	assert.Equal(t, []string{"http://localhost:3001", "http://localhost:3002"}, cfg.MCPServers)
	assert.Equal(t, []string{"delegate_to_agent", "memory_store"}, cfg.DenyTools)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Port = 0 },
			wantErr: "invalid port",
		},
		{
			name:    "empty store path",
			mutate:  func(c *Config) { c.CanvasStorePath = "" },
			wantErr: "store path",
		},
		{
			name:    "negative mirror interval",
			mutate:  func(c *Config) { c.MirrorLogInterval = -time.Second },
			wantErr: "mirror log interval",
		},
		{
			name: "provider without api key",
			mutate: func(c *Config) {
				c.LLMProvider = "openai"
				c.LLMAPIKey = ""
			},
			wantErr: "OPENAI_API_KEY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TIMUS_TEST_BOOL", "yes")
	assert.True(t, GetEnvBool("TIMUS_TEST_BOOL", false))

	t.Setenv("TIMUS_TEST_BOOL", "0")
	assert.False(t, GetEnvBool("TIMUS_TEST_BOOL", true))

	t.Setenv("TIMUS_TEST_BOOL", "garbage")
	assert.True(t, GetEnvBool("TIMUS_TEST_BOOL", true))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TIMUS_TEST_DUR", "750ms")
	assert.Equal(t, 750*time.Millisecond, GetEnvDuration("TIMUS_TEST_DUR", time.Second))

	t.Setenv("TIMUS_TEST_DUR", "1.2")
	assert.Equal(t, 1200*time.Millisecond, GetEnvDuration("TIMUS_TEST_DUR", time.Second))

	t.Setenv("TIMUS_TEST_DUR", "-3")
	assert.Equal(t, time.Second, GetEnvDuration("TIMUS_TEST_DUR", time.Second))
}
