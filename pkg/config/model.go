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

package config

import (
	"fmt"
	"time"
)

// Supported api_type values.
const (
	APITypeOpenAI = "open_ai"
	APITypeAzure  = "azure"
	APITypeOllama = "ollama"
	APITypeGemini = "gemini"
)

const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultAzureVersion  = "2024-10-21"
	DefaultModelTimeout  = 120 * time.Second
)

// ModelConfig is one entry under models.chat.
//
// The underscore-prefixed keys are capability flags and prices: they are
// facts about the deployment, not parameters sent to the provider.
type ModelConfig struct {
	// Model is the provider-side model name.
	Model string `yaml:"model"`

	// APIType selects the client: open_ai, azure, ollama or gemini.
	// Default: open_ai
	APIType string `yaml:"api_type"`

	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	APIVersion string `yaml:"api_version"`

	// Capability flags. Default: true.
	ToolSupport         *bool `yaml:"_tool_support"`
	StreamingSupport    *bool `yaml:"_streaming_support"`
	SystemPromptSupport *bool `yaml:"_system_prompt_support"`

	// CostInput and CostOutput are USD per million tokens.
	CostInput  float64 `yaml:"_cost_input"`
	CostOutput float64 `yaml:"_cost_output"`

	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`

	// Timeout bounds one request. Default: 120s
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of HTTP-level retries on 429/5xx.
	// Default: 0. Failed asks are surfaced, not retried.
	MaxRetries int `yaml:"max_retries"`

	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      *RateLimitConfig      `yaml:"rate_limit"`
}

// CircuitBreakerConfig trips a model client after consecutive failures.
type CircuitBreakerConfig struct {
	Enabled bool `yaml:"enabled"`

	// MaxFailures is the number of consecutive failures that opens the breaker.
	// Default: 5
	MaxFailures uint32 `yaml:"max_failures"`

	// OpenTimeout is how long the breaker stays open before probing.
	// Default: 30s
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// RateLimitConfig throttles requests to a model client.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerMinute float64 `yaml:"requests_per_minute"`

	// Burst defaults to 1.
	Burst int `yaml:"burst"`
}

// SetDefaults applies default values.
func (c *ModelConfig) SetDefaults() {
	if c.APIType == "" {
		c.APIType = APITypeOpenAI
	}
	if c.APIType == "openai" {
		c.APIType = APITypeOpenAI
	}
	if c.APIType == "google" {
		c.APIType = APITypeGemini
	}
	if c.BaseURL == "" {
		switch c.APIType {
		case APITypeOpenAI:
			c.BaseURL = DefaultOpenAIBaseURL
		case APITypeOllama:
			c.BaseURL = DefaultOllamaBaseURL
		}
	}
	if c.APIType == APITypeAzure && c.APIVersion == "" {
		c.APIVersion = DefaultAzureVersion
	}
	if c.APIKey == "" {
		c.APIKey = ProviderAPIKey(c.APIType)
	}
	for _, flag := range []**bool{&c.ToolSupport, &c.StreamingSupport, &c.SystemPromptSupport} {
		if *flag == nil {
			v := true
			*flag = &v
		}
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultModelTimeout
	}
	if c.CircuitBreaker != nil {
		if c.CircuitBreaker.MaxFailures == 0 {
			c.CircuitBreaker.MaxFailures = 5
		}
		if c.CircuitBreaker.OpenTimeout == 0 {
			c.CircuitBreaker.OpenTimeout = 30 * time.Second
		}
	}
	if c.RateLimit != nil && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 1
	}
}

// Validate checks the entry.
func (c *ModelConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	switch c.APIType {
	case APITypeOpenAI, APITypeOllama, APITypeGemini:
	case APITypeAzure:
		if c.BaseURL == "" {
			return fmt.Errorf("base_url is required for azure")
		}
	default:
		return fmt.Errorf("unsupported api_type %q (valid: %s, %s, %s, %s)",
			c.APIType, APITypeOpenAI, APITypeAzure, APITypeOllama, APITypeGemini)
	}
	if c.CostInput < 0 || c.CostOutput < 0 {
		return fmt.Errorf("costs must not be negative")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", *c.Temperature)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.RateLimit != nil && c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive")
	}
	return nil
}
