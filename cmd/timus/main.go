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

// Command timus runs the agent substrate.
//
// Usage:
//
//	timus serve
//	timus serve --port 8080
//	timus validate
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/timus-ai/timus"
	"github.com/timus-ai/timus/pkg/config"
	"github.com/timus-ai/timus/pkg/logger"
	"github.com/timus-ai/timus/pkg/runtime"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the substrate server."`
	Validate ValidateCmd `cmd:"" help:"Validate the environment configuration."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." env:"TIMUS_LOG_LEVEL" default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)." env:"TIMUS_LOG_FILE"`
	LogFormat string `help:"Log format (simple or verbose)." env:"TIMUS_LOG_FORMAT" default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(timus.GetVersion().String())
	return nil
}

// ServeCmd starts the HTTP server and background workers.
type ServeCmd struct {
	Host string `help:"Bind address (overrides HOST)."`
	Port int    `help:"Port to listen on (overrides PORT)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg := loadConfig()
	if c.Host != "" {
		cfg.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}

	rt, err := runtime.New(ctx, cfg, timus.Version)
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	return rt.Run(ctx)
}

// ValidateCmd resolves and validates the environment configuration
// without starting the server.
type ValidateCmd struct{}

func (c *ValidateCmd) Run() error {
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Printf("Configuration valid: %s, canvas store %s\n", cfg.Addr(), cfg.CanvasStorePath)
	return nil
}

// loadConfig seeds the environment from .env files and resolves the
// configuration. A broken .env file degrades to a warning.
func loadConfig() *config.Config {
	if err := config.LoadEnvFiles(); err != nil {
		slog.Warn("failed to load env files", "error", err)
	}
	return config.Load()
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("timus"),
		kong.Description("Multi-agent orchestration substrate with a shared canvas."),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(cli.LogLevel)
	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	if err := kctx.Run(cli); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
