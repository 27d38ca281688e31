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

package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/mchat/pkg/agent"
	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/logger"
	"github.com/kadirpekel/mchat/pkg/memory"
	"github.com/kadirpekel/mchat/pkg/model"
	"github.com/kadirpekel/mchat/pkg/testutils"
	"github.com/kadirpekel/mchat/pkg/tool"
	"github.com/kadirpekel/mchat/pkg/tool/functiontool"
)

const agentsYAML = `
echo:
  description: Repeats the user
  prompt: You repeat the user's words.
  context: {type: unbounded}
mini:
  prompt: You repeat the user's words.
  model: test-mini
forgetful:
  prompt: x
  oneshot: true
dated:
  prompt: x
  tools: [today]
duo:
  type: team
  agents: [echo, forgetful]
  max_rounds: 2
`

func resolve(t *testing.T, llm *testutils.MockLLM) *agent.Set {
	t.Helper()

	reg, err := model.FromSettings(testutils.TestSettings())
	require.NoError(t, err)
	today := functiontool.Must(
		functiontool.Config{Name: "today", Description: "Current date"},
		func(context.Context, struct{}) (map[string]any, error) {
			return map[string]any{"result": "2025-10-01"}, nil
		},
	)
	local, err := tool.NewRegistry(today)
	require.NoError(t, err)

	r := agent.NewResolver(reg, tool.NewBinder(local, nil),
		func(context.Context, *model.Entry) (model.LLM, error) { return llm, nil },
		agent.WithLogger(logger.Discard()),
		agent.WithEstimator(func(string) memory.Estimator { return memory.CharEstimator() }),
	)
	defs, err := agent.ParseSource(agentsYAML)
	require.NoError(t, err)
	set, err := r.Resolve(context.Background(), defs)
	require.NoError(t, err)
	return set
}

func newSession(t *testing.T, llm *testutils.MockLLM, name string, stream bool, opts ...Option) *Session {
	t.Helper()
	bp, err := resolve(t, llm).Get(name)
	require.NoError(t, err)
	s, err := New(bp, stream, append([]Option{WithLogger(logger.Discard())}, opts...)...)
	require.NoError(t, err)
	return s
}

func TestAsk_Echo(t *testing.T) {
	llm := testutils.NewMockLLM()
	s := newSession(t, llm, "echo", false)

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "echo", s.Agent())
	assert.Empty(t, s.Messages())

	res, err := s.Ask(context.Background(), "hello")
	require.NoError(t, err)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "echo", msgs[1].Source)

	require.Len(t, res.Messages, 2)
	assert.Equal(t, "hello", res.Messages[0].Content)
	assert.Equal(t, "echo: hello", res.Reply().Content)
	assert.Equal(t, agent.StopCompleted, res.StopReason)
	assert.Equal(t, 15, res.Usage.TotalTokens)
	assert.Positive(t, res.Cost)

	require.Len(t, llm.Requests(), 1)
	assert.Equal(t, "You repeat the user's words.", llm.Requests()[0].SystemInstruction)
}

func TestAsk_SystemPromptAbsentWhenUnsupported(t *testing.T) {
	llm := testutils.NewMockLLM()
	s := newSession(t, llm, "mini", false)

	assert.Equal(t, "You repeat the user's words.", s.Prompt())
	assert.Equal(t, "test-mini", s.Model().ID)
	_, ok := s.EffectiveSystemPrompt()
	assert.False(t, ok)

	_, err := s.Ask(context.Background(), "hello")
	require.NoError(t, err)
	assert.Empty(t, llm.Requests()[0].SystemInstruction)
}

func TestAsk_ScopedCapabilityOverrides(t *testing.T) {
	llm := testutils.NewMockLLM()
	s := newSession(t, llm, "echo", false)

	_, err := s.Ask(context.Background(), "one", WithCapabilities(model.WithSystemPromptSupport(false)))
	require.NoError(t, err)
	_, err = s.Ask(context.Background(), "two")
	require.NoError(t, err)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].SystemInstruction)
	assert.NotEmpty(t, reqs[1].SystemInstruction)

	prompt, ok := s.EffectiveSystemPrompt()
	assert.True(t, ok)
	assert.Equal(t, s.Prompt(), prompt)
}

func TestAsk_OverlappingTurnsAreRefused(t *testing.T) {
	llm := testutils.NewMockLLM()
	llm.Gate = make(chan struct{})
	started := llm.Started()
	s := newSession(t, llm, "echo", false)

	var (
		wg       sync.WaitGroup
		firstErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = s.Ask(context.Background(), "first")
	}()
	<-started

	_, err := s.Ask(context.Background(), "second")
	require.ErrorIs(t, err, domain.ErrTurnInProgress)
	assert.NotErrorIs(t, err, domain.ErrAsk)
	require.ErrorIs(t, s.Clear(), domain.ErrTurnInProgress)

	close(llm.Gate)
	wg.Wait()
	require.NoError(t, firstErr)

	assert.Equal(t, []string{"first", "echo: first"}, contents(s.Messages()))
	assert.Len(t, llm.Requests(), 1)
}

func TestAsk_FailureKeepsUserMessage(t *testing.T) {
	llm := testutils.NewMockLLM()
	s := newSession(t, llm, "echo", false)

	_, err := s.Ask(context.Background(), "hello")
	require.NoError(t, err)

	cause := errors.New("quota exceeded")
	llm.SetError(cause)
	_, err = s.Ask(context.Background(), "again")
	require.ErrorIs(t, err, domain.ErrAsk)
	require.ErrorIs(t, err, cause)

	var askErr *domain.AskError
	require.ErrorAs(t, err, &askErr)
	assert.Equal(t, "echo", askErr.Agent)

	assert.Equal(t, []string{"hello", "echo: hello", "again"}, contents(s.Messages()))

	llm.SetError(nil)
	res, err := s.Ask(context.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, "echo: again", res.Reply().Content)
}

func TestAsk_FailureAfterToolCallLeavesNoPartialReply(t *testing.T) {
	llm := testutils.NewMockLLM()
	calls := 0
	llm.GenerateFunc = func(context.Context, *model.Request) (*model.Response, error) {
		calls++
		if calls == 1 {
			return &model.Response{ToolCalls: []domain.ToolCall{{ID: "c1", Name: "today"}}}, nil
		}
		return nil, errors.New("connection reset")
	}
	s := newSession(t, llm, "dated", false)

	_, err := s.Ask(context.Background(), "what day is it?")
	require.ErrorIs(t, err, domain.ErrAsk)
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, []string{"what day is it?"}, contents(s.Messages()))
}

func TestAsk_CancellationKeepsUserMessage(t *testing.T) {
	llm := testutils.NewMockLLM()
	llm.Gate = make(chan struct{})
	started := llm.Started()
	s := newSession(t, llm, "echo", true)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.Ask(ctx, "hello")
		errc <- err
	}()
	<-started
	cancel()

	err := <-errc
	require.ErrorIs(t, err, domain.ErrAsk)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"hello"}, contents(s.Messages()))
}

func TestAsk_StreamToggleAppliesToNextTurn(t *testing.T) {
	llm := testutils.NewMockLLM()
	llm.Gate = make(chan struct{})
	started := llm.Started()

	var tokens []string
	s := newSession(t, llm, "echo", false, WithCallback(func(e agent.Event) {
		if e.Kind == agent.EventToken {
			tokens = append(tokens, e.Delta)
		}
	}))
	assert.False(t, s.StreamTokens())

	errc := make(chan error, 1)
	go func() {
		_, err := s.Ask(context.Background(), "one")
		errc <- err
	}()
	<-started
	s.SetStreamTokens(true)
	close(llm.Gate)
	require.NoError(t, <-errc)

	assert.True(t, s.StreamTokens())
	assert.Equal(t, []bool{false}, llm.Streamed())
	assert.Empty(t, tokens)

	_, err := s.Ask(context.Background(), "two words")
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, llm.Streamed())
	assert.NotEmpty(t, tokens)
}

func TestAsk_TurnCallbackOverridesSessionCallback(t *testing.T) {
	llm := testutils.NewMockLLM()
	var sessionEvents, turnEvents int
	s := newSession(t, llm, "echo", false, WithCallback(func(agent.Event) { sessionEvents++ }))

	_, err := s.Ask(context.Background(), "hi", WithTurnCallback(func(agent.Event) { turnEvents++ }))
	require.NoError(t, err)
	assert.Zero(t, sessionEvents)
	assert.Equal(t, 1, turnEvents)
}

func TestAsk_Oneshot(t *testing.T) {
	llm := testutils.NewMockLLM()
	s := newSession(t, llm, "forgetful", false)

	_, err := s.Ask(context.Background(), "one")
	require.NoError(t, err)
	_, err = s.Ask(context.Background(), "two")
	require.NoError(t, err)

	assert.Equal(t, []string{"two", "echo: two"}, contents(s.Messages()))
	require.Len(t, llm.Requests()[1].Messages, 1)
}

func TestAsk_Team(t *testing.T) {
	llm := testutils.NewMockLLM()
	s := newSession(t, llm, "duo", false)
	assert.Nil(t, s.Model())
	_, ok := s.EffectiveSystemPrompt()
	assert.False(t, ok)

	res, err := s.Ask(context.Background(), "hi")
	require.NoError(t, err)

	require.Len(t, res.Messages, 3)
	assert.Equal(t, []string{"user", "echo", "forgetful"}, []string{
		res.Messages[0].Source, res.Messages[1].Source, res.Messages[2].Source,
	})
	assert.Equal(t, agent.StopMaxRounds, res.StopReason)
	assert.Equal(t, 30, res.Usage.TotalTokens)
	assert.Len(t, s.Messages(), 3)
}

func TestClear(t *testing.T) {
	s := newSession(t, testutils.NewMockLLM(), "echo", false)
	_, err := s.Ask(context.Background(), "hello")
	require.NoError(t, err)

	require.NoError(t, s.Clear())
	assert.Empty(t, s.Messages())
}

func TestSessionsAreIndependent(t *testing.T) {
	llm := testutils.NewMockLLM()
	bp, err := resolve(t, llm).Get("echo")
	require.NoError(t, err)

	sessions := make([]*Session, 4)
	for i := range sessions {
		sessions[i], err = New(bp, false, WithLogger(logger.Discard()))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Ask(context.Background(), s.ID())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, s := range sessions {
		assert.Equal(t, []string{s.ID(), "echo: " + s.ID()}, contents(s.Messages()))
	}
}

func TestWithID(t *testing.T) {
	s := newSession(t, testutils.NewMockLLM(), "echo", false, WithID("fixed"))
	assert.Equal(t, "fixed", s.ID())
}

func contents(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
