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

package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/model"
	"github.com/kadirpekel/mchat/pkg/tool"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestBuildContents(t *testing.T) {
	contents := buildContents([]domain.Message{
		domain.NewUserMessage("What day is it?"),
		domain.NewToolCallMessage("assistant", "", []domain.ToolCall{{ID: "c1", Name: "today", Arguments: map[string]any{}}}),
		domain.NewToolResultMessage("assistant", "c1", "Wednesday", false),
		domain.NewAssistantMessage("assistant", "It is Wednesday."),
	})

	require.Len(t, contents, 4)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, "What day is it?", contents[0].Parts[0].Text)

	assert.Equal(t, genai.RoleModel, contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "today", contents[1].Parts[0].FunctionCall.Name)

	fr := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "today", fr.Name)
	assert.Equal(t, map[string]any{"result": "Wednesday"}, fr.Response)

	assert.Equal(t, genai.RoleModel, contents[3].Role)
}

func TestBuildConfig(t *testing.T) {
	temp := 0.3
	m := &geminiModel{name: "gemini-2.0-flash", config: Config{Temperature: &temp, MaxTokens: 256}}

	cfg := m.buildConfig(&model.Request{
		SystemInstruction: "Be kind.",
		Tools: []tool.Definition{{
			Name: "now",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{"type": "string", "description": "IANA name"},
				},
				"required": []any{"timezone"},
			},
		}},
	})

	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "Be kind.", cfg.SystemInstruction.Parts[0].Text)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.3, *cfg.Temperature, 1e-6)
	assert.Equal(t, int32(256), cfg.MaxOutputTokens)

	require.Len(t, cfg.Tools, 1)
	decl := cfg.Tools[0].FunctionDeclarations[0]
	assert.Equal(t, genai.TypeObject, decl.Parameters.Type)
	assert.Equal(t, genai.TypeString, decl.Parameters.Properties["timezone"].Type)
	assert.Equal(t, []string{"timezone"}, decl.Parameters.Required)

	noSystem := m.buildConfig(&model.Request{})
	assert.Nil(t, noSystem.SystemInstruction)
	assert.Nil(t, noSystem.Tools)
}

func TestParseResponse(t *testing.T) {
	resp, err := parseResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "Hello"},
				{FunctionCall: &genai.FunctionCall{Name: "today", Args: map[string]any{}}},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount: 4, CandidatesTokenCount: 2, TotalTokenCount: 6,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.NotEmpty(t, resp.ToolCalls[0].ID)
	assert.Equal(t, model.FinishReasonToolCalls, resp.FinishReason)
	assert.Equal(t, 6, resp.Usage.TotalTokens)

	_, err = parseResponse(&genai.GenerateContentResponse{})
	assert.Error(t, err)
}

func TestProcessStreamChunk_DeduplicatesCalls(t *testing.T) {
	agg := model.NewStreamingAggregator()
	emitted := make(map[string]bool)
	chunk := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "Hi"},
			{FunctionCall: &genai.FunctionCall{Name: "today"}},
		}},
	}}}

	var deltas []string
	for i := 0; i < 2; i++ {
		for resp, err := range processStreamChunk(agg, chunk, emitted) {
			require.NoError(t, err)
			deltas = append(deltas, resp.Text)
		}
	}

	final := agg.Close()
	assert.Equal(t, []string{"Hi", "Hi"}, deltas)
	assert.Len(t, final.ToolCalls, 1)
}
