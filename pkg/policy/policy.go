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

// Package policy implements the pre-dispatch gate consulted by the
// tool gateway before validation and dispatch.
package policy

import (
	"strings"
)

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Gate decides whether a tool call may proceed.
type Gate interface {
	Check(method string, params map[string]any) Decision
}

// Rule denies matching calls with a fixed reason.
type Rule struct {
	Name    string
	Reason  string
	Matches func(method string, params map[string]any) bool
}

// RuleGate evaluates deny rules in order; the first match denies the
// call. No match allows it.
type RuleGate struct {
	rules []Rule
}

// NewRuleGate creates a gate from deny rules.
func NewRuleGate(rules ...Rule) *RuleGate {
	return &RuleGate{rules: rules}
}

func (g *RuleGate) Check(method string, params map[string]any) Decision {
	for _, r := range g.rules {
		if r.Matches(method, params) {
			return Decision{Allowed: false, Reason: r.Reason}
		}
	}
	return Decision{Allowed: true}
}

// AllowAll is a gate that permits every call.
type AllowAll struct{}

func (AllowAll) Check(string, map[string]any) Decision {
	return Decision{Allowed: true}
}

// DenyMethods builds a rule rejecting the named methods.
func DenyMethods(reason string, methods ...string) Rule {
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[m] = true
	}
	return Rule{
		Name:    "deny_methods",
		Reason:  reason,
		Matches: func(method string, _ map[string]any) bool { return set[method] },
	}
}

// DenyMethodPrefix builds a rule rejecting methods with a prefix.
func DenyMethodPrefix(reason, prefix string) Rule {
	return Rule{
		Name:   "deny_prefix",
		Reason: reason,
		Matches: func(method string, _ map[string]any) bool {
			return strings.HasPrefix(method, prefix)
		},
	}
}

// DenyParamSubstring builds a rule rejecting calls to a method whose
// string parameter contains any of the given substrings
// (case-insensitive).
func DenyParamSubstring(reason, method, param string, substrings ...string) Rule {
	lowered := make([]string, len(substrings))
	for i, s := range substrings {
		lowered[i] = strings.ToLower(s)
	}
	return Rule{
		Name:   "deny_param_substring",
		Reason: reason,
		Matches: func(m string, params map[string]any) bool {
			if m != method {
				return false
			}
			val, ok := params[param].(string)
			if !ok {
				return false
			}
			val = strings.ToLower(val)
			for _, s := range lowered {
				if strings.Contains(val, s) {
					return true
				}
			}
			return false
		},
	}
}
