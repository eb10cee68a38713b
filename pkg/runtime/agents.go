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

package runtime

import (
	"github.com/timus-ai/timus/pkg/agent"
	"github.com/timus-ai/timus/pkg/llm"
)

const (
	executorPersona = "You are the executor agent. You carry out concrete tasks: " +
		"run tools, record progress on the canvas, and report results plainly. " +
		"Delegate research, analysis, visual and coding work to the specialist agents " +
		"via delegate_to_agent instead of guessing."

	researchPersona = "You are the research agent. You gather facts, search stored " +
		"memory, and summarize findings with sources. Answer with what you found, " +
		"not with speculation. Store durable findings via memory_store."

	reasoningPersona = "You are the reasoning agent. You break problems into steps, " +
		"weigh alternatives and produce structured conclusions. Keep the chain of " +
		"reasoning short and verifiable."

	visualPersona = "You are the visual agent. You turn plans and findings into " +
		"canvas structure: upsert nodes for work items, connect them with edges, " +
		"and keep node statuses current."

	developerPersona = "You are the developer agent. You write, review and explain " +
		"code. Prefer small, working examples over abstract advice."
)

// defaultAgentSpecs returns the built-in agent roster. Every agent
// shares the chat client; personas differ.
func defaultAgentSpecs(chat llm.Chat) []*agent.Spec {
	return []*agent.Spec{
		agent.LLMSpec("executor", "executor", executorPersona,
			[]string{"execution", "delegation", "canvas"}, chat),
		agent.LLMSpec("research", "specialist", researchPersona,
			[]string{"research", "memory"}, chat),
		agent.LLMSpec("reasoning", "specialist", reasoningPersona,
			[]string{"analysis", "planning"}, chat),
		agent.LLMSpec("visual", "specialist", visualPersona,
			[]string{"canvas", "visualization"}, chat),
		agent.LLMSpec("developer", "specialist", developerPersona,
			[]string{"coding", "review"}, chat),
	}
}
