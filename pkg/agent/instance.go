// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/memory"
	"github.com/kadirpekel/mchat/pkg/model"
	"github.com/kadirpekel/mchat/pkg/observability"
	"github.com/kadirpekel/mchat/pkg/tool"
)

// Stop reasons reported by Run.
const (
	StopCompleted  = "completed"
	StopTerminated = "terminated"
	StopMaxRounds  = "max_rounds"
)

// RunConfig carries the per-turn settings of a run. It is built by the
// session for each ask and never shared between turns.
type RunConfig struct {
	// Stream requests token streaming where the model supports it.
	Stream bool

	// Overrides adjust model capabilities for this turn only.
	Overrides []model.CapabilityOption

	Callback Callback
	Tally    *model.Tally
	Recorder observability.Recorder
	Logger   *slog.Logger
}

func (rc *RunConfig) withDefaults() *RunConfig {
	out := RunConfig{}
	if rc != nil {
		out = *rc
	}
	if out.Tally == nil {
		out.Tally = &model.Tally{}
	}
	if out.Recorder == nil {
		out.Recorder = observability.Noop()
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

// Outcome is the result of one run.
type Outcome struct {
	// Messages holds every message produced, in order.
	Messages   []domain.Message
	StopReason string
}

// Participant is a spawned agent or team taking part in a conversation.
// A participant is driven by one turn at a time.
type Participant interface {
	Name() string
	Blueprint() *Blueprint

	// Memory returns the context window: the agent's own, or the thread
	// of a team.
	Memory() memory.Strategy

	// Observe adds a message produced elsewhere (the user, a teammate).
	Observe(msg domain.Message)

	// Run produces the participant's reply to its current context.
	Run(ctx context.Context, rc *RunConfig) (*Outcome, error)

	Snapshot() Snapshot
	Restore(s Snapshot)
	Clear()
}

// Snapshot captures a participant's state for rollback.
type Snapshot struct {
	memory  memory.Snapshot
	cursor  int
	last    int
	members []Snapshot
}

// Spawn creates a fresh instance of the blueprint. Every agent instance,
// including team members, owns a new context window.
func (b *Blueprint) Spawn() (Participant, error) {
	estimator := b.estimator
	if estimator == nil {
		estimator = memory.TiktokenEstimator
	}
	modelName := ""
	if b.Model != nil {
		modelName = b.Model.Model
	}
	mem, err := memory.New(b.Context, estimator(modelName))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name, err)
	}

	if b.Kind == KindAgent {
		return &agentInstance{bp: b, memory: mem}, nil
	}

	members := make([]Participant, 0, len(b.Members))
	for _, m := range b.Members {
		p, err := m.Spawn()
		if err != nil {
			return nil, err
		}
		members = append(members, p)
	}
	return &teamInstance{bp: b, thread: mem, members: members, last: -1}, nil
}

type agentInstance struct {
	bp     *Blueprint
	memory memory.Strategy
}

func (a *agentInstance) Name() string { return a.bp.Name }
func (a *agentInstance) Blueprint() *Blueprint { return a.bp }
func (a *agentInstance) Memory() memory.Strategy { return a.memory }
func (a *agentInstance) Observe(msg domain.Message) { a.memory.Add(msg) }
func (a *agentInstance) Clear() { a.memory.Clear() }

func (a *agentInstance) Snapshot() Snapshot {
	return Snapshot{memory: a.memory.Snapshot()}
}

func (a *agentInstance) Restore(s Snapshot) {
	a.memory.Restore(s.memory)
}

// Run calls the model until it answers without tool calls. Tool calls are
// executed and their results fed back, for at most MaxRounds model calls;
// the last call is made without tools so the model has to answer.
func (a *agentInstance) Run(ctx context.Context, rc *RunConfig) (out *Outcome, err error) {
	rc = rc.withDefaults()
	bp := a.bp

	caps := bp.Capabilities(rc.Overrides...)
	system, _ := bp.EffectiveSystemPrompt(rc.Overrides...)
	stream := rc.Stream && caps.Streaming

	var tools []tool.Tool
	if caps.Tools {
		tools = bp.Tools
	}
	byName := make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}

	ctx, span := rc.Recorder.StartSpan(ctx, observability.SpanAgentTurn,
		attribute.String(observability.AttrAgentName, bp.Name),
		attribute.String(observability.AttrModelID, bp.Model.ID),
		attribute.Bool(observability.AttrStream, stream),
	)
	defer func() { observability.EndSpan(span, err) }()

	maxRounds := bp.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultAgentMaxRounds
	}

	var produced []domain.Message
	add := func(msg domain.Message, kind EventKind) {
		a.memory.Add(msg)
		produced = append(produced, msg)
		rc.Callback.emit(Event{Kind: kind, Agent: bp.Name, Message: &msg})
	}

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		final := round >= maxRounds || len(tools) == 0

		req := &model.Request{
			Messages:          prepareHistory(bp.Name, a.memory.Messages()),
			Config:            bp.generateConfig(),
			SystemInstruction: system,
		}
		if !final {
			req.Tools = tool.Definitions(tools)
		}

		resp, err := a.generate(ctx, rc, req, stream, round)
		if err != nil {
			return nil, err
		}

		if !resp.HasToolCalls() || final {
			add(domain.NewAssistantMessage(bp.Name, resp.Text), EventMessage)
			reason := StopCompleted
			if resp.HasToolCalls() {
				reason = StopMaxRounds
			}
			return &Outcome{Messages: produced, StopReason: reason}, nil
		}

		add(domain.NewToolCallMessage(bp.Name, resp.Text, resp.ToolCalls), EventMessage)
		for _, tc := range resp.ToolCalls {
			result, err := a.callTool(ctx, rc, byName, tc)
			if err != nil {
				return nil, err
			}
			add(result, EventToolResult)
		}
	}
}

func (a *agentInstance) generate(ctx context.Context, rc *RunConfig, req *model.Request, stream bool, round int) (*model.Response, error) {
	entry := a.bp.Model
	ctx, span := rc.Recorder.StartSpan(ctx, observability.SpanLLMRequest,
		attribute.String(observability.AttrModelID, entry.ID),
		attribute.Int(observability.AttrRound, round),
	)

	var onDelta func(string)
	if stream {
		onDelta = func(delta string) {
			rc.Callback.emit(Event{Kind: EventToken, Agent: a.bp.Name, Delta: delta})
		}
	}

	start := time.Now()
	resp, err := model.Collect(a.bp.LLM.GenerateContent(ctx, req, stream), onDelta)
	call := observability.LLMCall{Model: entry.ID, Duration: time.Since(start), Err: err}
	if err == nil {
		rc.Tally.Record(entry.Pricing, resp.Usage)
		if resp.Usage != nil {
			call.InputTokens = resp.Usage.PromptTokens
			call.OutputTokens = resp.Usage.CompletionTokens
			call.Cost = entry.Pricing.Cost(resp.Usage)
			span.SetAttributes(
				attribute.Int(observability.AttrInputTokens, call.InputTokens),
				attribute.Int(observability.AttrOutputTokens, call.OutputTokens),
			)
		}
	}
	rc.Recorder.RecordLLMCall(ctx, call)
	observability.EndSpan(span, err)

	if err != nil {
		return nil, fmt.Errorf("model %s: %w", entry.ID, err)
	}
	return resp, nil
}

// callTool runs one tool call. Tool failures become error results the
// model can react to; only cancellation aborts the turn.
func (a *agentInstance) callTool(ctx context.Context, rc *RunConfig, tools map[string]tool.Tool, tc domain.ToolCall) (domain.Message, error) {
	name := a.bp.Name
	rc.Callback.emit(Event{Kind: EventToolCall, Agent: name, ToolCall: &tc})

	t, ok := tools[tc.Name]
	if !ok {
		rc.Logger.Warn("Model requested an unknown tool", "agent", name, "tool", tc.Name)
		return domain.NewToolResultMessage(name, tc.ID, fmt.Sprintf("unknown tool %q", tc.Name), true), nil
	}

	ctx, span := rc.Recorder.StartSpan(ctx, observability.SpanToolExecution,
		attribute.String(observability.AttrToolName, tc.Name),
	)
	start := time.Now()
	result, err := t.Call(ctx, tc.Arguments)
	rc.Recorder.RecordToolCall(ctx, tc.Name, time.Since(start), err)
	observability.EndSpan(span, err)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Message{}, ctxErr
		}
		rc.Logger.Warn("Tool call failed", "agent", name, "tool", tc.Name, "error", err)
		return domain.NewToolResultMessage(name, tc.ID, err.Error(), true), nil
	}
	if tool.IsErrorResult(result) {
		return domain.NewToolResultMessage(name, tc.ID, result["error"].(string), true), nil
	}
	return domain.NewToolResultMessage(name, tc.ID, formatToolResult(result), false), nil
}

// formatToolResult renders a result map as message content. A lone string
// "result" is used as is; anything else is JSON.
func formatToolResult(result map[string]any) string {
	if len(result) == 0 {
		return "(no output)"
	}
	if s, ok := result["result"].(string); ok && len(result) == 1 {
		return s
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}
