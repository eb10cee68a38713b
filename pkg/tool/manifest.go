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

package tool

import (
	"fmt"
	"sort"
	"strings"
)

// GetToolManifest renders the catalog as a human-readable listing for
// inclusion in agent prompts. Tools are grouped by category and sorted
// by name within each group.
func (r *Registry) GetToolManifest() string {
	byCat := make(map[Category][]*Tool)
	for _, t := range r.base.List() {
		cat := t.Category
		if cat == "" {
			cat = CategoryCore
		}
		byCat[cat] = append(byCat[cat], t)
	}

	cats := make([]string, 0, len(byCat))
	for cat := range byCat {
		cats = append(cats, string(cat))
	}
	sort.Strings(cats)

	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, cat := range cats {
		tools := byCat[Category(cat)]
		sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

		fmt.Fprintf(&b, "\n## %s\n", cat)
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s(%s): %s", t.Name, formatParams(t.Parameters), t.Description)
			if len(t.Capabilities) > 0 {
				fmt.Fprintf(&b, " [%s]", strings.Join(t.Capabilities, ", "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func formatParams(params []Parameter) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		part := fmt.Sprintf("%s: %s", p.Name, p.Type)
		if !p.Required {
			part += "?"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}
