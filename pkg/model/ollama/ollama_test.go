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

package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/logger"
	"github.com/kadirpekel/mchat/pkg/model"
)

func TestGenerate_NonStreaming(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"model":"llama3.2","message":{"role":"assistant","content":"","tool_calls":[
			{"function":{"name":"now","arguments":{"timezone":"UTC"}}}
		]},"done":true,"prompt_eval_count":20,"eval_count":4}`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Logger: logger.Discard()})
	require.NoError(t, err)

	history := []domain.Message{
		domain.NewUserMessage("Time?"),
		domain.NewToolCallMessage("assistant", "", []domain.ToolCall{{ID: "call_0", Name: "today"}}),
		domain.NewToolResultMessage("assistant", "call_0", "2025-10-01", false),
	}
	resp, err := model.Collect(c.GenerateContent(context.Background(), &model.Request{
		SystemInstruction: "sys",
		Messages:          history,
	}, false), nil)
	require.NoError(t, err)

	assert.Equal(t, model.FinishReasonToolCalls, resp.FinishReason)
	assert.Equal(t, []domain.ToolCall{{ID: "call_0", Name: "now", Arguments: map[string]any{"timezone": "UTC"}}}, resp.ToolCalls)
	assert.Equal(t, &model.Usage{PromptTokens: 20, CompletionTokens: 4, TotalTokens: 24}, resp.Usage)

	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "today", got.Messages[2].ToolCalls[0].Function.Name)
	assert.Equal(t, "tool", got.Messages[3].Role)
	assert.Equal(t, "today", got.Messages[3].ToolName)
}

func TestGenerate_Streaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hello"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":" world"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":3,"eval_count":2}`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Logger: logger.Discard()})
	require.NoError(t, err)

	var deltas []string
	resp, err := model.Collect(c.GenerateContent(context.Background(), &model.Request{
		Messages: []domain.Message{domain.NewUserMessage("Hi")},
	}, true), func(s string) { deltas = append(deltas, s) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Hello", " world"}, deltas)
	assert.Equal(t, "Hello world", resp.Text)
	assert.Equal(t, model.FinishReasonStop, resp.FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestGenerate_StreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model 'nope' not found"}`)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Model: "nope", Logger: logger.Discard()})
	require.NoError(t, err)

	_, err = model.Collect(c.GenerateContent(context.Background(), &model.Request{
		Messages: []domain.Message{domain.NewUserMessage("Hi")},
	}, true), nil)
	assert.ErrorContains(t, err, "not found")
}
