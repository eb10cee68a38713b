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

// Package functiontool creates catalog tools from typed Go functions.
// The parameter list is derived from the argument struct's json and
// jsonschema tags, so the function signature is the single source of
// truth for the tool's contract.
//
// Usage:
//
//	type SearchArgs struct {
//	    Query string `json:"query" jsonschema:"required,description=Search query"`
//	    Limit int    `json:"limit,omitempty" jsonschema:"description=Max results,default=10"`
//	}
//
//	t, err := functiontool.New(
//	    functiontool.Config{Name: "search", Description: "Search documents"},
//	    func(ctx context.Context, args SearchArgs) (any, error) { ... },
//	)
package functiontool

import (
	"context"
	"fmt"

	"github.com/timus-ai/timus/pkg/tool"
)

// Config declares the catalog attributes of a function tool.
type Config struct {
	// Name is the unique tool identifier (required).
	Name string

	// Description explains what the tool does (required). Shown to the
	// LLM so it can decide when to call the tool.
	Description string

	// Capabilities are free-form catalog tags.
	Capabilities []string

	// Category places the tool in the catalog. Defaults to core.
	Category tool.Category
}

// New builds a *tool.Tool from a typed function. Args must be a struct
// whose fields carry json tags; jsonschema tags refine descriptions,
// required flags, and defaults.
func New[Args any](cfg Config, fn func(context.Context, Args) (any, error)) (*tool.Tool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if cfg.Description == "" {
		return nil, fmt.Errorf("tool description is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("tool function is required")
	}

	params, err := parametersFor[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", cfg.Name, err)
	}

	category := cfg.Category
	if category == "" {
		category = tool.CategoryCore
	}

	return &tool.Tool{
		Name:         cfg.Name,
		Description:  cfg.Description,
		Parameters:   params,
		Capabilities: cfg.Capabilities,
		Category:     category,
		Handler: func(ctx context.Context, raw map[string]any) (any, error) {
			var args Args
			if err := mapToStruct(raw, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments for %s: %w", cfg.Name, err)
			}
			return fn(ctx, args)
		},
	}, nil
}
