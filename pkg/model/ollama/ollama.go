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

// Package ollama provides an Ollama LLM implementation.
//
//   - Uses Ollama's Chat API (/api/chat)
//   - Streaming responses are newline-delimited JSON objects
//   - Tool calls are collected and reported on the final response
package ollama

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
	"strings"
	"time"

	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/httpclient"
	"github.com/kadirpekel/mchat/pkg/model"
	"github.com/kadirpekel/mchat/pkg/tool"
)

const (
	defaultBaseURL   = "http://localhost:11434"
	defaultModel     = "llama3.2"
	defaultTimeout   = 300 * time.Second // first requests load the model
	defaultKeepAlive = "5m"
)

// Config configures the Ollama client.
type Config struct {
	// BaseURL is the Ollama server URL (default: http://localhost:11434)
	BaseURL string

	// Model is the model name (e.g., "llama3.2", "mistral", "qwen2.5")
	Model string

	// Temperature controls randomness (0-2)
	Temperature *float64

	// NumPredict limits the number of tokens to predict
	NumPredict *int

	// NumCtx sets the context window size
	NumCtx *int

	// KeepAlive controls how long the model stays loaded (default: "5m")
	KeepAlive string

	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxRetries for HTTP requests (default: 0)
	MaxRetries int

	Logger *slog.Logger
}

// Client is an Ollama LLM implementation.
type Client struct {
	httpClient  *httpclient.Client
	baseURL     string
	modelName   string
	temperature *float64
	numPredict  *int
	numCtx      *int
	keepAlive   string
	logger      *slog.Logger
}

// New creates a new Ollama client.
func New(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
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

	keepAlive := cfg.KeepAlive
	if keepAlive == "" {
		keepAlive = defaultKeepAlive
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(2*time.Second),
		httpclient.WithLogger(logger),
	)

	return &Client{
		httpClient:  hc,
		baseURL:     baseURL,
		modelName:   modelName,
		temperature: cfg.Temperature,
		numPredict:  cfg.NumPredict,
		numCtx:      cfg.NumCtx,
		keepAlive:   keepAlive,
		logger:      logger,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.modelName
}

// Provider returns the provider type.
func (c *Client) Provider() model.Provider {
	return model.ProviderOllama
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

func (c *Client) post(ctx context.Context, req *model.Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(c.buildRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
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
	return c.parseResponse(&apiResp), nil
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
		reader := bufio.NewReader(resp.Body)
		var toolCalls []domain.ToolCall
		done := false

		for !done {
			line, err := reader.ReadBytes('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				yield(nil, fmt.Errorf("stream read error: %w", err))
				return
			}
			eof := err != nil

			line = bytes.TrimSpace(line)
			if len(line) > 0 {
				var chunk chatResponse
				if jerr := json.Unmarshal(line, &chunk); jerr != nil {
					c.logger.Debug("Skipping malformed Ollama chunk", "error", jerr)
				} else {
					if chunk.Error != "" {
						yield(nil, fmt.Errorf("ollama: %s", chunk.Error))
						return
					}
					if chunk.Message != nil {
						for partial, perr := range aggregator.ProcessTextDelta(chunk.Message.Content) {
							if !yield(partial, perr) {
								return
							}
						}
						toolCalls = appendToolCalls(toolCalls, chunk.Message.ToolCalls)
					}
					if chunk.Done {
						done = true
						aggregator.SetUsage(usageOf(&chunk))
						if chunk.DoneReason == "length" {
							aggregator.SetFinishReason(model.FinishReasonLength)
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

		for _, tc := range toolCalls {
			aggregator.ProcessToolCall(tc)
		}
		yield(aggregator.Close(), nil)
	}
}

// appendToolCalls records tool calls. Ollama sends each call complete in
// a single chunk.
func appendToolCalls(acc []domain.ToolCall, calls []*toolCall) []domain.ToolCall {
	for _, tc := range calls {
		if tc.Function == nil {
			continue
		}
		args := tc.Function.Arguments
		if args == nil {
			args = make(map[string]any)
		}
		acc = append(acc, domain.ToolCall{
			ID:        fmt.Sprintf("call_%d", len(acc)),
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return acc
}

func usageOf(resp *chatResponse) *model.Usage {
	if resp.PromptEvalCount == 0 && resp.EvalCount == 0 {
		return nil
	}
	return &model.Usage{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}
}

// buildRequest creates an API request from model.Request.
func (c *Client) buildRequest(req *model.Request, stream bool) *chatRequest {
	apiReq := &chatRequest{
		Model:     c.modelName,
		Stream:    stream,
		KeepAlive: c.keepAlive,
	}

	options := make(map[string]any)
	cfg := req.Config
	if cfg == nil {
		cfg = &model.GenerateConfig{}
	}

	if cfg.Temperature != nil {
		options["temperature"] = *cfg.Temperature
	} else if c.temperature != nil {
		options["temperature"] = *c.temperature
	}

	if cfg.MaxTokens != nil {
		options["num_predict"] = *cfg.MaxTokens
	} else if c.numPredict != nil {
		options["num_predict"] = *c.numPredict
	}

	if c.numCtx != nil {
		options["num_ctx"] = *c.numCtx
	}

	if len(cfg.StopSequences) > 0 {
		options["stop"] = cfg.StopSequences
	}

	if len(options) > 0 {
		apiReq.Options = options
	}

	if req.SystemInstruction != "" {
		apiReq.Messages = append(apiReq.Messages, &chatMessage{
			Role:    "system",
			Content: req.SystemInstruction,
		})
	}

	toolNames := make(map[string]string)
	for _, msg := range req.Messages {
		for _, tc := range msg.ToolCalls {
			toolNames[tc.ID] = tc.Name
		}
		apiReq.Messages = append(apiReq.Messages, convertMessage(msg, toolNames))
	}

	if len(req.Tools) > 0 {
		apiReq.Tools = convertTools(req.Tools)
	}

	return apiReq
}

// convertMessage converts a transcript message to Ollama format.
func convertMessage(msg domain.Message, toolNames map[string]string) *chatMessage {
	out := &chatMessage{Role: string(msg.Role), Content: msg.Content}
	switch msg.Role {
	case domain.RoleTool:
		out.ToolName = toolNames[msg.ToolCallID]
	case domain.RoleAssistant:
		for _, tc := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, &toolCall{
				Function: &functionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
	}
	return out
}

// convertTools converts tool definitions to Ollama format.
func convertTools(tools []tool.Definition) []*apiTool {
	result := make([]*apiTool, len(tools))
	for i, t := range tools {
		result[i] = &apiTool{
			Type: "function",
			Function: &functionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return result
}

// parseResponse converts API response to model.Response.
func (c *Client) parseResponse(resp *chatResponse) *model.Response {
	result := &model.Response{
		FinishReason: model.FinishReasonStop,
		Usage:        usageOf(resp),
	}
	if resp.DoneReason == "length" {
		result.FinishReason = model.FinishReasonLength
	}

	if resp.Message != nil {
		result.Text = resp.Message.Content
		result.ToolCalls = appendToolCalls(nil, resp.Message.ToolCalls)
		if len(result.ToolCalls) > 0 {
			result.FinishReason = model.FinishReasonToolCalls
		}
	}
	return result
}

// API types

type chatRequest struct {
	Model     string         `json:"model"`
	Messages  []*chatMessage `json:"messages"`
	Tools     []*apiTool     `json:"tools,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
}

type chatMessage struct {
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	ToolCalls []*toolCall `json:"tool_calls,omitempty"`
	ToolName  string      `json:"tool_name,omitempty"`
}

type toolCall struct {
	Function *functionCall `json:"function,omitempty"`
}

type functionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type apiTool struct {
	Type     string       `json:"type"`
	Function *functionDef `json:"function"`
}

type functionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatResponse struct {
	Model           string       `json:"model"`
	Message         *chatMessage `json:"message,omitempty"`
	Done            bool         `json:"done"`
	DoneReason      string       `json:"done_reason,omitempty"`
	PromptEvalCount int          `json:"prompt_eval_count,omitempty"`
	EvalCount       int          `json:"eval_count,omitempty"`
	Error           string       `json:"error,omitempty"`
}

var _ model.LLM = (*Client)(nil)
