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

// Package tool defines the tool catalog of the orchestration
// substrate: named operations with typed parameters, capability tags,
// and categories, invocable through the JSON-RPC gateway.
package tool

import (
	"context"
	"fmt"
	"math"
	"reflect"
)

// ParamType is the semantic type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Parameter describes one tool argument.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
}

// Category groups tools in the catalog.
type Category string

const (
	CategoryCore     Category = "core"
	CategoryCanvas   Category = "canvas"
	CategoryAgent    Category = "agent"
	CategoryMemory   Category = "memory"
	CategoryExternal Category = "external"
)

// Handler executes a tool call. Parameters arrive as decoded JSON.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Tool is a named operation in the catalog.
type Tool struct {
	Name         string
	Description  string
	Parameters   []Parameter
	Capabilities []string
	Category     Category
	Handler      Handler
}

// NotFoundError reports a call to an unregistered tool.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// ValidationError reports a call that violates a tool's parameter
// contract. Param names the offending parameter.
type ValidationError struct {
	Tool   string
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid call to '%s': parameter '%s' %s", e.Tool, e.Param, e.Reason)
}

// TypeCompatible reports whether a decoded JSON value satisfies a
// semantic parameter type. Integers arriving as float64 (the default
// JSON decoding) are accepted when integral.
func TypeCompatible(t ParamType, v any) bool {
	if v == nil {
		return false
	}
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeInteger:
		switch n := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return n == math.Trunc(n) && !math.IsInf(n, 0)
		case float32:
			f := float64(n)
			return f == math.Trunc(f)
		}
		return false
	case TypeNumber:
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}
		return false
	case TypeArray:
		k := reflect.ValueOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	case TypeObject:
		return reflect.ValueOf(v).Kind() == reflect.Map
	}
	return false
}

// Validate checks the tool's own declaration: a usable name and
// handler, and defaults that satisfy their declared types.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool '%s' has no handler", t.Name)
	}
	seen := make(map[string]bool, len(t.Parameters))
	for _, p := range t.Parameters {
		if p.Name == "" {
			return fmt.Errorf("tool '%s' has a parameter without a name", t.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("tool '%s' declares parameter '%s' twice", t.Name, p.Name)
		}
		seen[p.Name] = true
		if p.Default != nil && !TypeCompatible(p.Type, p.Default) {
			return fmt.Errorf("tool '%s': default for '%s' does not satisfy type %s",
				t.Name, p.Name, p.Type)
		}
	}
	return nil
}
