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

package memory

import (
	"fmt"
	"slices"
)

// Types lists the supported strategy types.
var Types = []string{TypeUnbounded, TypeBuffered, TypeToken, TypeHeadTail}

// Config is the context block of an agent definition.
type Config struct {
	// Type selects the strategy. Default: unbounded
	Type string `yaml:"type" json:"type"`

	// BufferSize is the window of the buffered strategy.
	BufferSize int `yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`

	// TokenLimit is the budget of the token strategy.
	TokenLimit int `yaml:"token_limit,omitempty" json:"token_limit,omitempty"`

	// HeadSize and TailSize configure the head_tail strategy.
	HeadSize int `yaml:"head_size,omitempty" json:"head_size,omitempty"`
	TailSize int `yaml:"tail_size,omitempty" json:"tail_size,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Type == "" {
		c.Type = TypeUnbounded
	}
}

// Validate checks the configuration. Parameters of other strategy types
// are rejected rather than ignored.
func (c *Config) Validate() error {
	typ := c.Type
	if typ == "" {
		typ = TypeUnbounded
	}
	if !slices.Contains(Types, typ) {
		return fmt.Errorf("unknown context type %q (valid: %v)", c.Type, Types)
	}

	params := map[string]int{
		"buffer_size": c.BufferSize,
		"token_limit": c.TokenLimit,
		"head_size":   c.HeadSize,
		"tail_size":   c.TailSize,
	}
	allowed := map[string][]string{
		TypeUnbounded: nil,
		TypeBuffered:  {"buffer_size"},
		TypeToken:     {"token_limit"},
		TypeHeadTail:  {"head_size", "tail_size"},
	}[typ]
	for _, name := range []string{"buffer_size", "token_limit", "head_size", "tail_size"} {
		if params[name] != 0 && !slices.Contains(allowed, name) {
			return fmt.Errorf("%s does not apply to context type %q", name, typ)
		}
		if params[name] < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	switch typ {
	case TypeBuffered:
		if c.BufferSize <= 0 {
			return fmt.Errorf("buffer_size must be positive for buffered context")
		}
	case TypeToken:
		if c.TokenLimit <= 0 {
			return fmt.Errorf("token_limit must be positive for token context")
		}
	case TypeHeadTail:
		if c.TailSize <= 0 {
			return fmt.Errorf("tail_size must be positive for head_tail context")
		}
	}
	return nil
}

// New creates a strategy for cfg. estimator is used by the token
// strategy; nil means DefaultEstimator.
func New(cfg Config, estimator Estimator) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()

	switch cfg.Type {
	case TypeBuffered:
		return NewBuffered(cfg.BufferSize), nil
	case TypeToken:
		return NewTokenLimited(cfg.TokenLimit, estimator), nil
	case TypeHeadTail:
		return NewHeadTail(cfg.HeadSize, cfg.TailSize), nil
	default:
		return NewUnbounded(), nil
	}
}
