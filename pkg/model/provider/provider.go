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

// Package provider builds model clients from registry entries.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kadirpekel/mchat/pkg/config"
	"github.com/kadirpekel/mchat/pkg/model"
	"github.com/kadirpekel/mchat/pkg/model/gemini"
	"github.com/kadirpekel/mchat/pkg/model/ollama"
	"github.com/kadirpekel/mchat/pkg/model/openai"
)

// Factory creates a client for a model entry.
type Factory func(ctx context.Context, entry *model.Entry, logger *slog.Logger) (model.LLM, error)

// New creates the client matching entry.APIType, wrapped with the rate
// limiter and circuit breaker the entry enables. It is the default Factory.
func New(ctx context.Context, entry *model.Entry, logger *slog.Logger) (model.LLM, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("model", entry.ID)

	llm, err := newClient(ctx, entry, logger)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", entry.ID, err)
	}

	if rl := entry.RateLimit; rl != nil && rl.Enabled {
		llm = model.WithRateLimit(llm, *rl)
	}
	if cb := entry.CircuitBreaker; cb != nil && cb.Enabled {
		llm = model.WithCircuitBreaker(llm, *cb, logger)
	}
	return llm, nil
}

func newClient(ctx context.Context, entry *model.Entry, logger *slog.Logger) (model.LLM, error) {
	switch entry.APIType {
	case config.APITypeOpenAI, config.APITypeAzure:
		return openai.New(openai.Config{
			APIKey:      entry.APIKey,
			Model:       entry.Model,
			BaseURL:     entry.BaseURL,
			MaxTokens:   entry.MaxTokens,
			Temperature: entry.Temperature,
			Timeout:     entry.Timeout,
			MaxRetries:  entry.MaxRetries,
			Azure:       entry.APIType == config.APITypeAzure,
			APIVersion:  entry.APIVersion,
			Logger:      logger,
		})

	case config.APITypeOllama:
		ocfg := ollama.Config{
			BaseURL:     entry.BaseURL,
			Model:       entry.Model,
			Temperature: entry.Temperature,
			Timeout:     entry.Timeout,
			MaxRetries:  entry.MaxRetries,
			Logger:      logger,
		}
		if entry.MaxTokens > 0 {
			numPredict := entry.MaxTokens
			ocfg.NumPredict = &numPredict
		}
		return ollama.New(ocfg)

	case config.APITypeGemini:
		return gemini.New(ctx, gemini.Config{
			APIKey:      entry.APIKey,
			Model:       entry.Model,
			BaseURL:     entry.BaseURL,
			MaxTokens:   entry.MaxTokens,
			Temperature: entry.Temperature,
		})

	default:
		return nil, fmt.Errorf("unknown api_type: %s", entry.APIType)
	}
}

// Cache holds one client per model entry ID. Safe for concurrent use.
type Cache struct {
	factory Factory
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]model.LLM
}

// NewCache creates a cache backed by factory. A nil factory means New.
func NewCache(factory Factory, logger *slog.Logger) *Cache {
	if factory == nil {
		factory = New
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		factory: factory,
		logger:  logger,
		clients: make(map[string]model.LLM),
	}
}

// Get returns the client for entry, creating it on first use.
func (c *Cache) Get(ctx context.Context, entry *model.Entry) (model.LLM, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if llm, ok := c.clients[entry.ID]; ok {
		return llm, nil
	}
	llm, err := c.factory(ctx, entry, c.logger)
	if err != nil {
		return nil, err
	}
	c.clients[entry.ID] = llm
	c.logger.Debug("Created model client", "model", entry.ID, "provider", llm.Provider())
	return llm, nil
}

// Reset closes and forgets every cached client.
func (c *Cache) Reset() error {
	c.mu.Lock()
	clients := c.clients
	c.clients = make(map[string]model.LLM)
	c.mu.Unlock()

	var errs []error
	for id, llm := range clients {
		if err := llm.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases all clients.
func (c *Cache) Close() error {
	return c.Reset()
}
