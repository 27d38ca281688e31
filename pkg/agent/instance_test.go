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

package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/model"
	"github.com/kadirpekel/mchat/pkg/tool"
	"github.com/kadirpekel/mchat/pkg/tool/functiontool"
)

func lastMessage(req *model.Request) domain.Message {
	return req.Messages[len(req.Messages)-1]
}

// callThenAnswer asks for tool name once, then answers with the result.
func callThenAnswer(name string) func(context.Context, *model.Request) (*model.Response, error) {
	return func(_ context.Context, req *model.Request) (*model.Response, error) {
		if last := lastMessage(req); last.Role == domain.RoleTool {
			return &model.Response{Text: "answer: " + last.Content}, nil
		}
		return &model.Response{ToolCalls: []domain.ToolCall{{ID: "call-1", Name: name}}}, nil
	}
}

func TestAgent_Echo(t *testing.T) {
	f := newFixture(t)
	p := f.mustSpawn(t, `echo: {prompt: Be brief.}`, "echo")
	assert.Zero(t, p.Memory().Len())

	rc := &RunConfig{}
	out, err := ask(t, p, "hello", rc)
	require.NoError(t, err)

	assert.Equal(t, StopCompleted, out.StopReason)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "echo: hello", out.Messages[0].Content)
	assert.Equal(t, "echo", out.Messages[0].Source)
	assert.Equal(t, domain.RoleAssistant, out.Messages[0].Role)
	assert.Equal(t, 2, p.Memory().Len())

	reqs := f.llm.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Be brief.", reqs[0].SystemInstruction)
	assert.Empty(t, reqs[0].Tools)
}

func TestAgent_RecordsUsage(t *testing.T) {
	f := newFixture(t)
	p := f.mustSpawn(t, `echo: {prompt: Be brief.}`, "echo")

	tally := &model.Tally{}
	_, err := ask(t, p, "hello", &RunConfig{Tally: tally})
	require.NoError(t, err)

	assert.Equal(t, 1, tally.Calls())
	assert.Equal(t, 15, tally.Usage().TotalTokens)
	assert.Positive(t, tally.Cost())
}

func TestAgent_ToolLoop(t *testing.T) {
	f := newFixture(t, fakeTool("today", "2025-10-01"))
	f.llm.GenerateFunc = callThenAnswer("today")
	p := f.mustSpawn(t, `dated: {prompt: x, tools: [today]}`, "dated")

	var events []EventKind
	out, err := ask(t, p, "what day is it?", &RunConfig{Callback: func(e Event) { events = append(events, e.Kind) }})
	require.NoError(t, err)

	require.Len(t, out.Messages, 3)
	assert.Equal(t, "today", out.Messages[0].ToolCalls[0].Name)
	assert.Equal(t, domain.RoleTool, out.Messages[1].Role)
	assert.Equal(t, "call-1", out.Messages[1].ToolCallID)
	assert.Equal(t, "2025-10-01", out.Messages[1].Content)
	assert.False(t, out.Messages[1].IsError)
	assert.Equal(t, "answer: 2025-10-01", out.Messages[2].Content)
	assert.Equal(t, StopCompleted, out.StopReason)
	assert.Equal(t, 4, p.Memory().Len())

	assert.Equal(t, []EventKind{EventMessage, EventToolCall, EventToolResult, EventMessage}, events)

	reqs := f.llm.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "today", reqs[0].Tools[0].Name)
}

func TestAgent_ToolFailures(t *testing.T) {
	failing := functiontool.Must(
		functiontool.Config{Name: "flaky", Description: "Always fails"},
		func(context.Context, struct{}) (map[string]any, error) {
			return nil, errors.New("backend unavailable")
		},
	)
	reporting := functiontool.Must(
		functiontool.Config{Name: "picky", Description: "Reports a failure"},
		func(context.Context, struct{}) (map[string]any, error) {
			return tool.ErrorResult("bad input"), nil
		},
	)

	tests := []struct {
		name string
		call string
		want string
	}{
		{name: "call error", call: "flaky", want: "backend unavailable"},
		{name: "error result", call: "picky", want: "bad input"},
		{name: "unknown tool", call: "teleport", want: `unknown tool "teleport"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, failing, reporting)
			f.llm.GenerateFunc = callThenAnswer(tt.call)
			p := f.mustSpawn(t, `a: {prompt: x, tools: [flaky, picky]}`, "a")

			out, err := ask(t, p, "go", nil)
			require.NoError(t, err)
			require.Len(t, out.Messages, 3)

			result := out.Messages[1]
			assert.True(t, result.IsError)
			assert.Contains(t, result.Content, tt.want)
			assert.Equal(t, "answer: "+result.Content, out.Messages[2].Content)
		})
	}
}

func TestAgent_MaxRounds(t *testing.T) {
	f := newFixture(t, fakeTool("today", "x"))
	f.llm.GenerateFunc = func(context.Context, *model.Request) (*model.Response, error) {
		return &model.Response{
			Text:      "let me check again",
			ToolCalls: []domain.ToolCall{{ID: "loop", Name: "today"}},
		}, nil
	}
	p := f.mustSpawn(t, `looper: {prompt: x, tools: [today], max_rounds: 2}`, "looper")

	out, err := ask(t, p, "go", nil)
	require.NoError(t, err)
	assert.Equal(t, StopMaxRounds, out.StopReason)

	reqs := f.llm.Requests()
	require.Len(t, reqs, 2)
	assert.NotEmpty(t, reqs[0].Tools)
	assert.Empty(t, reqs[1].Tools, "the last round is sent without tools")

	require.Len(t, out.Messages, 3)
	final := out.Messages[2]
	assert.False(t, final.HasToolCalls())
	assert.Equal(t, "let me check again", final.Content)
}

func TestAgent_Streaming(t *testing.T) {
	tests := []struct {
		name       string
		src        string
		overrides  []model.CapabilityOption
		wantStream bool
	}{
		{name: "supported", src: `a: {prompt: x}`, wantStream: true},
		{name: "model without streaming", src: `a: {prompt: x, model: test-mini}`},
		{name: "override", src: `a: {prompt: x}`, overrides: []model.CapabilityOption{model.WithStreamingSupport(false)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			p := f.mustSpawn(t, tt.src, "a")

			var deltas []string
			out, err := ask(t, p, "hello there", &RunConfig{
				Stream:    true,
				Overrides: tt.overrides,
				Callback: func(e Event) {
					if e.Kind == EventToken {
						deltas = append(deltas, e.Delta)
					}
				},
			})
			require.NoError(t, err)
			assert.Equal(t, "echo: hello there", out.Messages[0].Content)
			assert.Equal(t, []bool{tt.wantStream}, f.llm.Streamed())

			if tt.wantStream {
				assert.Greater(t, len(deltas), 1)
				assert.Equal(t, "echo: hello there", strings.Join(deltas, ""))
			} else {
				assert.Empty(t, deltas)
			}
		})
	}
}

func TestAgent_NoStreamingUnlessRequested(t *testing.T) {
	f := newFixture(t)
	p := f.mustSpawn(t, `a: {prompt: x}`, "a")

	_, err := ask(t, p, "hi", &RunConfig{})
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, f.llm.Streamed())
}

func TestAgent_ToolSupportOverride(t *testing.T) {
	f := newFixture(t, fakeTool("today", "x"))
	p := f.mustSpawn(t, `a: {prompt: x, tools: [today]}`, "a")

	_, err := ask(t, p, "hi", &RunConfig{Overrides: []model.CapabilityOption{model.WithToolSupport(false)}})
	require.NoError(t, err)

	reqs := f.llm.Requests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Tools)

	_, err = ask(t, p, "again", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, f.llm.Requests()[1].Tools, "overrides apply to one run only")
}

func TestAgent_ModelFailure(t *testing.T) {
	f := newFixture(t)
	f.llm.SetError(errors.New("rate limited"))
	p := f.mustSpawn(t, `a: {prompt: x}`, "a")

	_, err := ask(t, p, "hi", nil)
	require.ErrorContains(t, err, "rate limited")
	assert.ErrorContains(t, err, "test-chat")
	assert.Equal(t, 1, p.Memory().Len(), "no reply is recorded")
}

func TestAgent_Cancellation(t *testing.T) {
	f := newFixture(t)
	f.llm.Gate = make(chan struct{})
	started := f.llm.Started()
	p := f.mustSpawn(t, `a: {prompt: x}`, "a")
	p.Observe(domain.NewUserMessage("hi"))

	ctx, cancel := context.WithCancel(context.Background())
	var (
		wg     sync.WaitGroup
		runErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, runErr = p.Run(ctx, &RunConfig{Stream: true})
	}()

	<-started
	cancel()
	wg.Wait()

	require.ErrorIs(t, runErr, context.Canceled)
	assert.Equal(t, 1, p.Memory().Len())
}

func TestPrepareHistory(t *testing.T) {
	user := domain.NewUserMessage("plan a trip")
	peer := domain.NewAssistantMessage("bob", "I suggest Rome")
	silentPeer := domain.NewAssistantMessage("carol", "  ")
	dangling := domain.NewToolCallMessage("alice", "checking", []domain.ToolCall{{ID: "gone", Name: "search"}})
	orphan := domain.NewToolResultMessage("alice", "gone-earlier", "stale", false)
	call := domain.NewToolCallMessage("alice", "", []domain.ToolCall{{ID: "c1", Name: "search"}})
	result := domain.NewToolResultMessage("alice", "c1", "flights", false)
	peerResult := domain.NewToolResultMessage("bob", "c1", "not mine", false)
	own := domain.NewAssistantMessage("alice", "Rome it is")

	got := prepareHistory("alice", []domain.Message{user, peer, silentPeer, dangling, orphan, call, result, peerResult, own})

	require.Len(t, got, 6)
	assert.Equal(t, "plan a trip", got[0].Content)

	assert.Equal(t, domain.RoleUser, got[1].Role)
	assert.Equal(t, "bob: I suggest Rome", got[1].Content)

	assert.Equal(t, "checking", got[2].Content)
	assert.False(t, got[2].HasToolCalls())

	assert.Equal(t, "c1", got[3].ToolCalls[0].ID)
	assert.Equal(t, "flights", got[4].Content)
	assert.Equal(t, "Rome it is", got[5].Content)

	assert.True(t, dangling.HasToolCalls(), "the window is not modified")
}

func TestFormatToolResult(t *testing.T) {
	tests := []struct {
		name   string
		result map[string]any
		want   string
	}{
		{name: "empty", result: nil, want: "(no output)"},
		{name: "plain result", result: map[string]any{"result": "sunny"}, want: "sunny"},
		{name: "structured", result: map[string]any{"temp": 21, "unit": "C"}, want: `{"temp":21,"unit":"C"}`},
		{name: "non-string result", result: map[string]any{"result": 3}, want: `{"result":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatToolResult(tt.result))
		})
	}
}
