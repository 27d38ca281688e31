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

// Package openai provides an LLM implementation for the OpenAI Chat
// Completions API and OpenAI-compatible endpoints, including Azure OpenAI
// deployments.
//
//   - POST {base_url}/chat/completions (Azure: /openai/deployments/{model}/chat/completions)
//   - Streaming uses server-sent events terminated by "data: [DONE]"
//   - Tool call arguments arrive as JSON fragments keyed by index
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/httpclient"
	"github.com/kadirpekel/mchat/pkg/model"
	"github.com/kadirpekel/mchat/pkg/tool"
)

const (
	defaultBaseURL      = "https://api.openai.com/v1"
	defaultModel        = "gpt-4o-mini"
	defaultTimeout      = 120 * time.Second
	defaultAzureVersion = "2024-10-21"
)

// Config configures the OpenAI client.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature *float64
	Timeout     time.Duration

	// MaxRetries for HTTP requests on 429/5xx (default: 0).
	MaxRetries int

	// Azure switches to Azure OpenAI URL layout and api-key authentication.
	Azure      bool
	APIVersion string

	Logger *slog.Logger
}

// Client is an OpenAI Chat Completions client.
type Client struct {
	httpClient  *httpclient.Client
	apiKey      string
	baseURL     string
	modelName   string
	maxTokens   int
	temperature *float64
	azure       bool
	apiVersion  string
	logger      *slog.Logger
}

// New creates a new OpenAI client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" && cfg.Azure {
		return nil, fmt.Errorf("API key is required for azure")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Azure {
			return nil, fmt.Errorf("base URL is required for azure")
		}
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	apiVersion := cfg.APIVersion
	if cfg.Azure && apiVersion == "" {
		apiVersion = defaultAzureVersion
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		httpclient.WithLogger(logger),
	)

	return &Client{
		httpClient:  hc,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		modelName:   modelName,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		azure:       cfg.Azure,
		apiVersion:  apiVersion,
		logger:      logger,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.modelName
}

// Provider returns the provider type.
func (c *Client) Provider() model.Provider {
	if c.azure {
		return model.ProviderAzure
	}
	return model.ProviderOpenAI
}

// GenerateContent produces responses for the given request.
func (c *Client) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[*model.Response, error] {
	if stream {
		return c.generateStream(ctx, req)
	}

	return func(yield func(*model.Response, error) bool) {
		resp, err := c.generate(ctx, req)
		yield(resp, err)
	}
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

func (c *Client) completionsURL() string {
	if !c.azure {
		return c.baseURL + "/chat/completions"
	}
	return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		c.baseURL, url.PathEscape(c.modelName), url.QueryEscape(c.apiVersion))
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey == "" {
		return
	}
	if c.azure {
		req.Header.Set("api-key", c.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) post(ctx context.Context, req *model.Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(c.buildRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	return resp, nil
}

// generate performs non-streaming generation.
func (c *Client) generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return parseResponse(&apiResp)
}

// generateStream performs streaming generation with the aggregator.
func (c *Client) generateStream(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		resp, err := c.post(ctx, req, true)
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		aggregator := model.NewStreamingAggregator()
		calls := make(map[int]*streamedCall)
		reader := bufio.NewReader(resp.Body)

	read:
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				yield(nil, fmt.Errorf("stream read error: %w", err))
				return
			}
			eof := err != nil

			line = bytes.TrimSpace(line)
			if data, ok := bytes.CutPrefix(line, []byte("data:")); ok {
				data = bytes.TrimSpace(data)
				if string(data) == "[DONE]" {
					break read
				}

				var chunk chatResponse
				if jerr := json.Unmarshal(data, &chunk); jerr != nil {
					c.logger.Debug("Skipping malformed stream event", "error", jerr)
				} else {
					if chunk.Error != nil {
						yield(nil, fmt.Errorf("openai: %s", chunk.Error.Message))
						return
					}
					if chunk.Usage != nil {
						aggregator.SetUsage(chunk.Usage.toModel())
					}
					for _, choice := range chunk.Choices {
						delta := choice.Delta
						if delta == nil {
							continue
						}
						for partial, perr := range aggregator.ProcessTextDelta(delta.Content) {
							if !yield(partial, perr) {
								return
							}
						}
						for _, tc := range delta.ToolCalls {
							accumulate(calls, tc)
						}
						if choice.FinishReason != "" {
							aggregator.SetFinishReason(finishReason(choice.FinishReason))
						}
					}
				}
			}
			if eof {
				break
			}
		}
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		indexes := make([]int, 0, len(calls))
		for idx := range calls {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			tc, err := calls[idx].toolCall()
			if err != nil {
				yield(nil, err)
				return
			}
			aggregator.ProcessToolCall(tc)
		}
		yield(aggregator.Close(), nil)
	}
}

type streamedCall struct {
	id   string
	name string
	args strings.Builder
}

func accumulate(calls map[int]*streamedCall, tc apiToolCall) {
	sc, ok := calls[tc.Index]
	if !ok {
		sc = &streamedCall{}
		calls[tc.Index] = sc
	}
	if tc.ID != "" {
		sc.id = tc.ID
	}
	if tc.Function.Name != "" {
		sc.name = tc.Function.Name
	}
	sc.args.WriteString(tc.Function.Arguments)
}

func (s *streamedCall) toolCall() (domain.ToolCall, error) {
	args, err := parseArguments(s.name, s.args.String())
	if err != nil {
		return domain.ToolCall{}, err
	}
	return domain.ToolCall{ID: s.id, Name: s.name, Arguments: args}, nil
}

func parseArguments(name, raw string) (map[string]any, error) {
	args := make(map[string]any)
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("tool call %s: invalid arguments: %w", name, err)
	}
	return args, nil
}

func finishReason(reason string) model.FinishReason {
	switch reason {
	case "length":
		return model.FinishReasonLength
	case "tool_calls", "function_call":
		return model.FinishReasonToolCalls
	case "content_filter":
		return model.FinishReasonContent
	default:
		return model.FinishReasonStop
	}
}

// buildRequest creates an API request from model.Request.
func (c *Client) buildRequest(req *model.Request, stream bool) *chatRequest {
	apiReq := &chatRequest{
		Model:  c.modelName,
		Stream: stream,
	}
	if stream {
		apiReq.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	cfg := req.Config
	if cfg == nil {
		cfg = &model.GenerateConfig{}
	}
	apiReq.Temperature = c.temperature
	if cfg.Temperature != nil {
		apiReq.Temperature = cfg.Temperature
	}
	if cfg.MaxTokens != nil {
		apiReq.MaxTokens = *cfg.MaxTokens
	} else if c.maxTokens > 0 {
		apiReq.MaxTokens = c.maxTokens
	}
	apiReq.Stop = cfg.StopSequences

	if req.SystemInstruction != "" {
		apiReq.Messages = append(apiReq.Messages, chatMessage{
			Role:    "system",
			Content: req.SystemInstruction,
		})
	}
	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, convertMessage(msg))
	}

	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, convertTool(t))
	}
	return apiReq
}

func convertMessage(msg domain.Message) chatMessage {
	out := chatMessage{Role: string(msg.Role), Content: msg.Content}
	switch msg.Role {
	case domain.RoleTool:
		out.ToolCallID = msg.ToolCallID
	case domain.RoleAssistant:
		for _, tc := range msg.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil || tc.Arguments == nil {
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, apiToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: apiFunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
	}
	return out
}

func convertTool(t tool.Definition) apiTool {
	params := t.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return apiTool{
		Type: "function",
		Function: functionDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		},
	}
}

// parseResponse converts an API response to model.Response.
func parseResponse(resp *chatResponse) (*model.Response, error) {
	if resp.Error != nil {
		return nil, fmt.Errorf("openai: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response has no choices")
	}

	choice := resp.Choices[0]
	result := &model.Response{FinishReason: finishReason(choice.FinishReason)}
	if resp.Usage != nil {
		result.Usage = resp.Usage.toModel()
	}
	if choice.Message == nil {
		return result, nil
	}

	result.Text = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		args, err := parseArguments(tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			return nil, err
		}
		result.ToolCalls = append(result.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = model.FinishReasonToolCalls
	}
	return result, nil
}

// API types

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Tools         []apiTool      `json:"tools,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role       string        `json:"role,omitempty"`
	Content    string        `json:"content"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type apiToolCall struct {
	Index    int             `json:"index,omitempty"`
	ID       string          `json:"id,omitempty"`
	Type     string          `json:"type,omitempty"`
	Function apiFunctionCall `json:"function"`
}

type apiFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type apiTool struct {
	Type     string      `json:"type"`
	Function functionDef `json:"function"`
}

type functionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type chatResponse struct {
	ID      string    `json:"id"`
	Choices []choice  `json:"choices"`
	Usage   *apiUsage `json:"usage,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type choice struct {
	Index        int          `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *apiUsage) toModel() *model.Usage {
	return &model.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

var _ model.LLM = (*Client)(nil)
