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

package gateway

import (
	"encoding/json"
	"fmt"
	"math"
)

// SanitizeResult widens values that have no JSON representation so the
// handler result always serializes. Non-finite floats become their
// conventional string spellings; other values pass through unchanged.
func SanitizeResult(v any) any {
	switch val := v.(type) {
	case float64:
		return sanitizeFloat(val)
	case float32:
		return sanitizeFloat(float64(val))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = SanitizeResult(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = SanitizeResult(item)
		}
		return out
	default:
		return v
	}
}

func sanitizeFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return f
	}
}

// encodeResult serializes a handler result with the numeric-safe
// sanitizer, falling back to the repair function when set.
func encodeResult(v any, repair RepairFunc) (json.RawMessage, error) {
	sanitized := SanitizeResult(v)
	raw, err := json.Marshal(sanitized)
	if err == nil {
		return raw, nil
	}

	if repair == nil {
		return nil, fmt.Errorf("result is not serializable: %w", err)
	}

	repaired, repairErr := repair(fmt.Sprintf("%+v", v))
	if repairErr != nil {
		return nil, fmt.Errorf("result is not serializable: %w", err)
	}
	if !json.Valid([]byte(repaired)) {
		return nil, fmt.Errorf("repair produced invalid JSON")
	}
	return json.RawMessage(repaired), nil
}
