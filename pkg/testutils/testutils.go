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

// Package testutils provides testing utilities for mchat packages.
package testutils

import (
	"context"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/mchat/pkg/config"
	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/model"
)

// TestSettings returns defaulted, valid settings with two models:
// "test-chat" (all capabilities, priced) as the chat default and
// "test-mini" (no system prompt, no streaming) as the mini default.
func TestSettings() *config.Settings {
	no := false
	s := &config.Settings{
		Models: config.ModelsConfig{Chat: map[string]*config.ModelConfig{
			"test-chat": {
				Model:      "gpt-4.1",
				APIType:    config.APITypeOpenAI,
				APIKey:     "test-key",
				CostInput:  2,
				CostOutput: 8,
			},
			"test-mini": {
				Model:               "llama3.2",
				APIType:             config.APITypeOllama,
				StreamingSupport:    &no,
				SystemPromptSupport: &no,
			},
		}},
		Defaults: config.DefaultsConfig{
			ChatModel: "test-chat",
			MiniModel: "test-mini",
		},
	}
	s.SetDefaults()
	return s
}

// TestContext returns a context with timeout for testing.
func TestContext() context.Context {
	return TestContextWithTimeout(5 * time.Second)
}

// TestContextWithTimeout returns a context with custom timeout for testing.
func TestContextWithTimeout(timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	// The context is released when the timeout expires.
	_ = cancel
	return ctx
}

// MockLLM implements model.LLM for tests.
//
// By default it echoes the last user message. Streaming calls split the
// reply into word-sized partial responses before the aggregated one.
type MockLLM struct {
	ModelName    string
	GenerateFunc func(ctx context.Context, req *model.Request) (*model.Response, error)
	Delay        time.Duration
	Err          error

	// Gate, when set, blocks every call until it is closed or ctx ends.
	Gate chan struct{}

	mu       sync.Mutex
	requests []*model.Request
	streamed []bool
	started  chan struct{}
}

// NewMockLLM creates an echoing mock model.
func NewMockLLM() *MockLLM {
	return &MockLLM{ModelName: "mock"}
}

// EchoReply is the reply of the default behaviour.
func EchoReply(req *model.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == domain.RoleUser {
			return "echo: " + req.Messages[i].Content
		}
	}
	return "echo:"
}

func (m *MockLLM) Name() string { return m.ModelName }

func (m *MockLLM) Provider() model.Provider { return model.ProviderUnknown }

func (m *MockLLM) Close() error { return nil }

// Started returns a channel that receives once per call, after the call is
// recorded and before it blocks on Gate.
func (m *MockLLM) Started() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started == nil {
		m.started = make(chan struct{}, 16)
	}
	return m.started
}

// Requests returns the requests received so far.
func (m *MockLLM) Requests() []*model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Request(nil), m.requests...)
}

// Streamed reports, per call, whether streaming was requested.
func (m *MockLLM) Streamed() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.streamed...)
}

// SetError makes every subsequent call fail with err.
func (m *MockLLM) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

func (m *MockLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		m.mu.Lock()
		m.requests = append(m.requests, req)
		m.streamed = append(m.streamed, stream)
		started, gate, delay, failure := m.started, m.Gate, m.Delay, m.Err
		m.mu.Unlock()

		if started != nil {
			select {
			case started <- struct{}{}:
			default:
			}
		}
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
		}
		if failure != nil {
			yield(nil, failure)
			return
		}

		var resp *model.Response
		if m.GenerateFunc != nil {
			var err error
			if resp, err = m.GenerateFunc(ctx, req); err != nil {
				yield(nil, err)
				return
			}
		} else {
			resp = &model.Response{Text: EchoReply(req)}
		}
		if resp.Usage == nil {
			resp.Usage = &model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
		}

		if !stream {
			yield(resp, nil)
			return
		}

		agg := model.NewStreamingAggregator()
		for _, word := range strings.SplitAfter(resp.Text, " ") {
			for partial, err := range agg.ProcessTextDelta(word) {
				if !yield(partial, err) {
					return
				}
			}
		}
		for _, tc := range resp.ToolCalls {
			agg.ProcessToolCall(tc)
		}
		agg.SetUsage(resp.Usage)
		agg.SetFinishReason(resp.FinishReason)
		yield(agg.Close(), nil)
	}
}

var _ model.LLM = (*MockLLM)(nil)
