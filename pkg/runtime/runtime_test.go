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

package runtime

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/mchat/pkg/agent"
	"github.com/kadirpekel/mchat/pkg/config"
	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/logger"
	"github.com/kadirpekel/mchat/pkg/memory"
	"github.com/kadirpekel/mchat/pkg/model"
	"github.com/kadirpekel/mchat/pkg/testutils"
	"github.com/kadirpekel/mchat/pkg/tool"
	"github.com/kadirpekel/mchat/pkg/tool/functiontool"
)

const agentsYAML = `
default_with_tools:
  description: A general-purpose bot
  prompt: Please ask me anything.
  max_rounds: 10
  tools: [google_search, generate_image, today]
research_team:
  type: team
  team_type: selector
  chooseable: false
  agents: [default_with_tools, ai2, ai3]
  description: Team research.
  max_rounds: 5
ai2:
  description: The second agent.
  prompt: I am AI2.
  chooseable: false
  tools: [google_search]
ai3:
  description: The third agent.
  prompt: I am AI3.
pair:
  type: team
  agents: [ai2, ai3]
`

const agentsJSON = `{
  "default_with_tools": {
    "description": "A general-purpose bot",
    "prompt": "Please ask me anything.",
    "max_rounds": 10,
    "tools": ["google_search", "generate_image", "today"]
  },
  "research_team": {
    "type": "team",
    "team_type": "selector",
    "chooseable": false,
    "agents": ["default_with_tools", "ai2", "ai3"],
    "description": "Team research.",
    "max_rounds": 5
  },
  "ai2": {"description": "The second agent.", "prompt": "I am AI2.", "chooseable": false, "tools": ["google_search"]},
  "ai3": {"description": "The third agent.", "prompt": "I am AI3."},
  "pair": {"type": "team", "agents": ["ai2", "ai3"]}
}`

type harness struct {
	llm *testutils.MockLLM

	mu      sync.Mutex
	created []string
}

func newHarness() *harness {
	return &harness{llm: testutils.NewMockLLM()}
}

func (h *harness) factory(_ context.Context, e *model.Entry, _ *slog.Logger) (model.LLM, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = append(h.created, e.ID)
	return h.llm, nil
}

func (h *harness) createdClients() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.created...)
}

func fakeTools() []tool.Tool {
	mk := func(name string) tool.Tool {
		return functiontool.Must(
			functiontool.Config{Name: name, Description: "Fake " + name},
			func(context.Context, struct{}) (map[string]any, error) {
				return map[string]any{"result": name}, nil
			},
		)
	}
	return []tool.Tool{mk("google_search"), mk("generate_image")}
}

func (h *harness) options(extra ...Option) []Option {
	return append([]Option{
		WithLogger(logger.Discard()),
		WithClientFactory(h.factory),
		WithTools(fakeTools()...),
		WithEstimator(func(string) memory.Estimator { return memory.CharEstimator() }),
	}, extra...)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNew_FromPath(t *testing.T) {
	h := newHarness()
	path := writeFile(t, t.TempDir(), "agents.yaml", agentsYAML)

	rt, err := New(context.Background(), testutils.TestSettings(), h.options(WithAgentPaths(path))...)
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, []string{"ai3", "default_with_tools", "pair"}, rt.ChooseableAgents())
	assert.Equal(t, []string{"ai2", "ai3", "default_with_tools", "pair", "research_team"}, rt.Agents())
	assert.Subset(t, rt.Tools(), []string{"today", "now", "fetch_url", "google_search", "generate_image"})
	assert.ElementsMatch(t, []string{"test-chat", "test-mini"}, h.createdClients(), "one client per model")
}

func TestNew_SettingsAgentPaths(t *testing.T) {
	h := newHarness()
	settings := testutils.TestSettings()
	settings.AgentPaths = []string{writeFile(t, t.TempDir(), "agents.yaml", agentsYAML)}

	rt, err := New(context.Background(), settings, h.options()...)
	require.NoError(t, err)
	defer rt.Close()
	assert.Len(t, rt.Agents(), 5)
}

func TestNew_InlineAgents(t *testing.T) {
	h := newHarness()
	rt, err := New(context.Background(), testutils.TestSettings(), h.options(WithAgents(map[string]any{
		"echo": map[string]any{"prompt": "You repeat the user's words."},
	}))...)
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, []string{"echo"}, rt.ChooseableAgents())
}

func TestNew_ConfigErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agents.yaml", agentsYAML)

	tests := []struct {
		name     string
		settings func() *config.Settings
		opts     []Option
	}{
		{
			name:     "inline and paths",
			settings: testutils.TestSettings,
			opts:     []Option{WithAgents(map[string]any{"a": map[string]any{}}), WithAgentPaths(path)},
		},
		{
			name:     "no definitions",
			settings: testutils.TestSettings,
		},
		{
			name:     "no settings",
			settings: func() *config.Settings { return nil },
			opts:     []Option{WithAgentPaths(path)},
		},
		{
			name: "invalid settings",
			settings: func() *config.Settings {
				s := testutils.TestSettings()
				s.Defaults.ChatModel = "missing"
				return s
			},
			opts: []Option{WithAgentPaths(path)},
		},
		{
			name:     "tool name clash",
			settings: testutils.TestSettings,
			opts:     []Option{WithAgentPaths(path), WithTools(builtinClash())},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			_, err := New(context.Background(), tt.settings(), h.options(tt.opts...)...)
			require.ErrorIs(t, err, domain.ErrConfig)
			assert.Empty(t, h.createdClients())
		})
	}
}

func builtinClash() tool.Tool {
	return functiontool.Must(
		functiontool.Config{Name: "today", Description: "Another today"},
		func(context.Context, struct{}) (map[string]any, error) { return nil, nil },
	)
}

func TestNew_InvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "cycle", src: "a: {type: team, agents: [b]}\nb: {type: team, agents: [a]}\n"},
		{name: "unknown member", src: "a: {type: team, agents: [ghost]}\n"},
		{name: "not definitions", src: "this is not json or yaml"},
		{name: "unknown model", src: "a: {prompt: x, model: gpt-9}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			_, err := New(context.Background(), testutils.TestSettings(), h.options(WithAgentPaths(tt.src))...)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestNew_DuplicateAcrossSources(t *testing.T) {
	h := newHarness()
	path := writeFile(t, t.TempDir(), "agents.yaml", agentsYAML)

	_, err := New(context.Background(), testutils.TestSettings(),
		h.options(WithAgentPaths(path, `{"ai3": {"prompt": "again"}}`))...)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorContains(t, err, "already defined")
}

func TestNew_JSONAndYAMLFilesAreEquivalent(t *testing.T) {
	dir := t.TempDir()
	yamlPath := writeFile(t, dir, "agents.yaml", agentsYAML)
	jsonPath := writeFile(t, dir, "agents.json", agentsJSON)

	h := newHarness()
	fromYAML, err := New(context.Background(), testutils.TestSettings(), h.options(WithAgentPaths(yamlPath))...)
	require.NoError(t, err)
	defer fromYAML.Close()
	fromJSON, err := New(context.Background(), testutils.TestSettings(), h.options(WithAgentPaths(jsonPath))...)
	require.NoError(t, err)
	defer fromJSON.Close()

	assert.Equal(t, fromYAML.ChooseableAgents(), fromJSON.ChooseableAgents())
	assert.Equal(t, fromYAML.Describe(), fromJSON.Describe())

	inline, err := New(context.Background(), testutils.TestSettings(), h.options(WithAgentPaths(agentsJSON))...)
	require.NoError(t, err)
	defer inline.Close()
	assert.Equal(t, fromYAML.Describe(), inline.Describe())
}

func TestNewConversation(t *testing.T) {
	h := newHarness()
	path := writeFile(t, t.TempDir(), "agents.yaml", agentsYAML)
	rt, err := New(context.Background(), testutils.TestSettings(), h.options(WithAgentPaths(path))...)
	require.NoError(t, err)
	defer rt.Close()

	t.Run("echo", func(t *testing.T) {
		conv, err := rt.NewConversation(context.Background(), "ai3", false)
		require.NoError(t, err)
		assert.Empty(t, conv.Messages())

		res, err := conv.Ask(context.Background(), "hello")
		require.NoError(t, err)
		assert.Equal(t, "echo: hello", res.Reply().Content)
		assert.Len(t, conv.Messages(), 2)
	})

	t.Run("non-chooseable agent by name", func(t *testing.T) {
		_, err := rt.NewConversation(context.Background(), "ai2", false)
		require.NoError(t, err)
	})

	t.Run("non-chooseable team", func(t *testing.T) {
		_, err := rt.NewConversation(context.Background(), "research_team", false)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := rt.NewConversation(context.Background(), "nobody", false)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("conversations are independent", func(t *testing.T) {
		a, err := rt.NewConversation(context.Background(), "ai3", false)
		require.NoError(t, err)
		b, err := rt.NewConversation(context.Background(), "ai3", true)
		require.NoError(t, err)

		_, err = a.Ask(context.Background(), "only a")
		require.NoError(t, err)
		assert.Len(t, a.Messages(), 2)
		assert.Empty(t, b.Messages())
		assert.True(t, b.StreamTokens())
	})
}

func TestNewConversation_Callback(t *testing.T) {
	h := newHarness()
	var (
		mu     sync.Mutex
		agents []string
	)
	rt, err := New(context.Background(), testutils.TestSettings(), h.options(
		WithAgentPaths(agentsYAML),
		WithCallback(func(e agent.Event) {
			mu.Lock()
			defer mu.Unlock()
			if e.Kind == agent.EventSpeaker {
				agents = append(agents, e.Agent)
			}
		}),
	)...)
	require.NoError(t, err)
	defer rt.Close()

	conv, err := rt.NewConversation(context.Background(), "pair", false)
	require.NoError(t, err)
	_, err = conv.Ask(context.Background(), "hi")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ai2", "ai3", "ai2", "ai3", "ai2", "ai3", "ai2", "ai3", "ai2", "ai3"}, agents)
}

func TestReload(t *testing.T) {
	h := newHarness()
	dir := t.TempDir()
	path := writeFile(t, dir, "agents.yaml", "first: {prompt: one}\n")

	rt, err := New(context.Background(), testutils.TestSettings(), h.options(WithAgentPaths(path))...)
	require.NoError(t, err)
	defer rt.Close()

	conv, err := rt.NewConversation(context.Background(), "first", false)
	require.NoError(t, err)

	writeFile(t, dir, "agents.yaml", "first: {prompt: one}\nsecond: {prompt: two}\n")
	require.NoError(t, rt.Reload(context.Background()))
	assert.Equal(t, []string{"first", "second"}, rt.Agents())

	writeFile(t, dir, "agents.yaml", "broken: {type: team, agents: [ghost]}\n")
	require.ErrorIs(t, rt.Reload(context.Background()), domain.ErrValidation)
	assert.Equal(t, []string{"first", "second"}, rt.Agents(), "a failed reload keeps the agents")

	_, err = conv.Ask(context.Background(), "still here")
	require.NoError(t, err)
	assert.Len(t, h.createdClients(), 1, "clients are reused across reloads")
}

func TestWatch(t *testing.T) {
	h := newHarness()
	dir := t.TempDir()
	path := writeFile(t, dir, "agents.yaml", "first: {prompt: one}\n")

	rt, err := New(context.Background(), testutils.TestSettings(), h.options(WithAgentPaths(path))...)
	require.NoError(t, err)
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan error, 4)
	require.NoError(t, rt.Watch(ctx, func(err error) { reloaded <- err }))

	writeFile(t, dir, "agents.yaml", "first: {prompt: one}\nsecond: {prompt: two}\n")

	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("definitions were not reloaded")
	}
	assert.Equal(t, []string{"first", "second"}, rt.Agents())
}

func TestWatch_InlineDefinitions(t *testing.T) {
	h := newHarness()
	rt, err := New(context.Background(), testutils.TestSettings(), h.options(WithAgentPaths("a: {prompt: x}\n"))...)
	require.NoError(t, err)
	defer rt.Close()

	require.NoError(t, rt.Watch(context.Background(), nil))
}

type fakeToolset struct {
	tools  []tool.Tool
	closed int
}

func (f *fakeToolset) Name() string { return "fake" }

func (f *fakeToolset) Tools(context.Context) ([]tool.Tool, error) { return f.tools, nil }

func (f *fakeToolset) Close() error {
	f.closed++
	return nil
}

func TestNew_RemoteTools(t *testing.T) {
	h := newHarness()
	ts := &fakeToolset{tools: fakeTools()}
	var locators []tool.Locator

	rt, err := New(context.Background(), testutils.TestSettings(), h.options(
		WithAgentPaths(`{"remote": {"prompt": "x", "tools": ["mcp:http://localhost:8000/mcp#google_search"]}}`),
		WithConnector(func(_ context.Context, loc tool.Locator) (tool.Toolset, error) {
			locators = append(locators, loc)
			return ts, nil
		}),
	)...)
	require.NoError(t, err)

	bp, err := rt.Agent("remote")
	require.NoError(t, err)
	require.Len(t, bp.Tools, 1)
	assert.Equal(t, "google_search", bp.Tools[0].Name())
	require.Len(t, locators, 1)
	assert.Equal(t, "http://localhost:8000/mcp", locators[0].URL)

	require.NoError(t, rt.Close())
	assert.Equal(t, 1, ts.closed)
}
