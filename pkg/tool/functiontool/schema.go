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

package functiontool

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"

	"github.com/timus-ai/timus/pkg/tool"
)

// parametersFor derives a catalog parameter list from the Args struct.
func parametersFor[Args any]() ([]tool.Parameter, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	schema := reflector.Reflect(new(Args))

	// JSON round-trip flattens jsonschema's internal types into plain
	// maps for uniform handling.
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(raw, &schemaMap); err != nil {
		return nil, err
	}

	properties, _ := schemaMap["properties"].(map[string]any)

	required := make(map[string]bool)
	if reqList, ok := schemaMap["required"].([]any); ok {
		for _, r := range reqList {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tool.Parameter, 0, len(names))
	for _, name := range names {
		prop, ok := properties[name].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("property %s has no schema", name)
		}
		typeStr, _ := prop["type"].(string)
		if typeStr == "" {
			typeStr = string(tool.TypeObject)
		}
		description, _ := prop["description"].(string)
		params = append(params, tool.Parameter{
			Name:        name,
			Type:        tool.ParamType(typeStr),
			Description: description,
			Required:    required[name],
			Default:     prop["default"],
		})
	}
	return params, nil
}
