// Copyright 2025 Kadir Pekel
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

package observability

const (
	SpanAsk           = "mchat.ask"
	SpanAgentTurn     = "mchat.agent_turn"
	SpanLLMRequest    = "mchat.llm_request"
	SpanToolExecution = "mchat.tool_execution"
	SpanTeamRound     = "mchat.team_round"

	AttrAgentName    = "mchat.agent.name"
	AttrSessionID    = "mchat.session.id"
	AttrModelID      = "mchat.model.id"
	AttrToolName     = "mchat.tool.name"
	AttrStream       = "mchat.stream"
	AttrRound        = "mchat.round"
	AttrInputTokens  = "mchat.tokens.input"
	AttrOutputTokens = "mchat.tokens.output"

	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"

	DefaultServiceName  = "mchat"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)
