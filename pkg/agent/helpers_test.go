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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/logger"
	"github.com/kadirpekel/mchat/pkg/memory"
	"github.com/kadirpekel/mchat/pkg/model"
	"github.com/kadirpekel/mchat/pkg/testutils"
	"github.com/kadirpekel/mchat/pkg/tool"
	"github.com/kadirpekel/mchat/pkg/tool/functiontool"
)

var fixedNow = time.Date(2025, 10, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	llm      *testutils.MockLLM
	binder   *tool.Binder
	resolver *Resolver

	mu      sync.Mutex
	clients []string
}

func newFixture(t *testing.T, tools ...tool.Tool) *fixture {
	t.Helper()

	reg, err := model.FromSettings(testutils.TestSettings())
	require.NoError(t, err)
	local, err := tool.NewRegistry(tools...)
	require.NoError(t, err)

	f := &fixture{llm: testutils.NewMockLLM()}
	f.binder = tool.NewBinder(local, nil, tool.WithBinderLogger(logger.Discard()))
	f.resolver = NewResolver(reg, f.binder,
		func(_ context.Context, e *model.Entry) (model.LLM, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.clients = append(f.clients, e.ID)
			return f.llm, nil
		},
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return fixedNow }),
		WithEstimator(func(string) memory.Estimator { return memory.CharEstimator() }),
	)
	return f
}

func (f *fixture) resolve(src string) (*Set, error) {
	defs, err := ParseSource(src)
	if err != nil {
		return nil, err
	}
	return f.resolver.Resolve(context.Background(), defs)
}

func (f *fixture) mustSpawn(t *testing.T, src, name string) Participant {
	t.Helper()
	set, err := f.resolve(src)
	require.NoError(t, err)
	bp, err := set.Get(name)
	require.NoError(t, err)
	p, err := bp.Spawn()
	require.NoError(t, err)
	return p
}

func (f *fixture) clientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// fakeTool returns a tool that answers with result.
func fakeTool(name, result string) tool.Tool {
	return functiontool.Must(
		functiontool.Config{Name: name, Description: "Fake " + name},
		func(context.Context, struct{}) (map[string]any, error) {
			return map[string]any{"result": result}, nil
		},
	)
}

// ask adds a user message and runs p, the way a session does.
func ask(t *testing.T, p Participant, text string, rc *RunConfig) (*Outcome, error) {
	t.Helper()
	p.Observe(domain.NewUserMessage(text))
	return p.Run(context.Background(), rc)
}

func contents(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func sources(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Source
	}
	return out
}
