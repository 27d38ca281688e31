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

// Package config loads mchat settings: model entries, role defaults,
// agent definition sources, logging and observability.
package config

import (
	"fmt"
	"slices"

	"github.com/kadirpekel/mchat/pkg/observability"
)

// Settings is the root of a settings file.
type Settings struct {
	Models   ModelsConfig   `yaml:"models"`
	Defaults DefaultsConfig `yaml:"defaults"`

	// AgentPaths lists agent definition files used when the caller
	// supplies neither inline definitions nor paths.
	AgentPaths []string `yaml:"agent_paths"`

	Logger        LoggerConfig         `yaml:"logger"`
	Observability observability.Config `yaml:"observability"`
}

// ModelsConfig groups model entries by purpose.
type ModelsConfig struct {
	Chat map[string]*ModelConfig `yaml:"chat"`
}

// DefaultsConfig names the model serving each role.
type DefaultsConfig struct {
	ChatModel   string `yaml:"chat_model"`
	MiniModel   string `yaml:"mini_model"`
	MemoryModel string `yaml:"memory_model"`

	// ChatTemperature applies to models without their own temperature.
	ChatTemperature *float64 `yaml:"chat_temperature"`

	// MemoryModelTemperature and MemoryModelMaxTokens override the memory
	// model's own values when it is selected for the memory role.
	MemoryModelTemperature *float64 `yaml:"memory_model_temperature"`
	MemoryModelMaxTokens   int      `yaml:"memory_model_max_tokens"`

	// GoogleAPIKey is the fallback key for gemini entries.
	GoogleAPIKey string `yaml:"google_api_key"`
}

// LoggerConfig configures the process logger.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// SetDefaults applies default values to every section.
func (s *Settings) SetDefaults() {
	for _, m := range s.Models.Chat {
		if m == nil {
			continue
		}
		m.SetDefaults()
		if m.APIType == APITypeGemini && m.APIKey == "" {
			m.APIKey = s.Defaults.GoogleAPIKey
		}
	}
	if s.Defaults.ChatModel == "" && len(s.Models.Chat) == 1 {
		for id := range s.Models.Chat {
			s.Defaults.ChatModel = id
		}
	}
	if s.Logger.Level == "" {
		s.Logger.Level = "info"
	}
	if s.Logger.Format == "" {
		s.Logger.Format = "simple"
	}
	s.Observability.SetDefaults()
}

// Validate checks that the settings are internally consistent.
func (s *Settings) Validate() error {
	for _, id := range s.ModelIDs() {
		m := s.Models.Chat[id]
		if m == nil {
			return fmt.Errorf("models.chat.%s: entry is empty", id)
		}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("models.chat.%s: %w", id, err)
		}
	}

	roles := []struct{ key, id string }{
		{"chat_model", s.Defaults.ChatModel},
		{"mini_model", s.Defaults.MiniModel},
		{"memory_model", s.Defaults.MemoryModel},
	}
	for _, r := range roles {
		if r.id == "" {
			continue
		}
		if _, ok := s.Models.Chat[r.id]; !ok {
			return fmt.Errorf("defaults.%s: unknown model %q", r.key, r.id)
		}
	}
	temps := []struct {
		key string
		t   *float64
	}{
		{"chat_temperature", s.Defaults.ChatTemperature},
		{"memory_model_temperature", s.Defaults.MemoryModelTemperature},
	}
	for _, tt := range temps {
		if tt.t != nil && (*tt.t < 0 || *tt.t > 2) {
			return fmt.Errorf("defaults.%s must be between 0 and 2, got %v", tt.key, *tt.t)
		}
	}
	if s.Defaults.MemoryModelMaxTokens < 0 {
		return fmt.Errorf("defaults.memory_model_max_tokens must not be negative, got %d", s.Defaults.MemoryModelMaxTokens)
	}

	switch s.Logger.Format {
	case "simple", "verbose", "json":
	default:
		return fmt.Errorf("logger.format: unknown format %q", s.Logger.Format)
	}

	if err := s.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return nil
}

// ModelIDs returns the configured chat model ids in ascending order.
func (s *Settings) ModelIDs() []string {
	ids := make([]string, 0, len(s.Models.Chat))
	for id := range s.Models.Chat {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
