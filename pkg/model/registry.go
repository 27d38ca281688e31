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

package model

import (
	"fmt"
	"time"

	"github.com/kadirpekel/mchat/pkg/config"
	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/registry"
)

// Role names a purpose a default model is configured for.
type Role string

const (
	RoleChat   Role = "chat"
	RoleMini   Role = "mini"
	RoleMemory Role = "memory"
)

// Capabilities are the features a model endpoint supports.
type Capabilities struct {
	Tools        bool
	Streaming    bool
	SystemPrompt bool
}

// CapabilityOption overrides one capability for a single call.
type CapabilityOption func(*Capabilities)

// WithToolSupport overrides tool-calling support.
func WithToolSupport(v bool) CapabilityOption {
	return func(c *Capabilities) { c.Tools = v }
}

// WithStreamingSupport overrides streaming support.
func WithStreamingSupport(v bool) CapabilityOption {
	return func(c *Capabilities) { c.Streaming = v }
}

// WithSystemPromptSupport overrides system prompt support.
func WithSystemPromptSupport(v bool) CapabilityOption {
	return func(c *Capabilities) { c.SystemPrompt = v }
}

// With returns a copy of c with opts applied. c itself is unchanged.
func (c Capabilities) With(opts ...CapabilityOption) Capabilities {
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}

// Pricing is the cost of a model in USD per million tokens.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Cost returns the USD cost of u.
func (p Pricing) Cost(u *Usage) float64 {
	if u == nil {
		return 0
	}
	return (float64(u.PromptTokens)*p.InputPerMillion + float64(u.CompletionTokens)*p.OutputPerMillion) / 1e6
}

// Entry describes one configured model endpoint. Entries are immutable
// after the registry is built; accessors return copies.
type Entry struct {
	// ID is the key under models.chat.
	ID string

	// Model is the provider-side model name.
	Model string

	APIType    string
	BaseURL    string
	APIKey     string
	APIVersion string

	Capabilities Capabilities
	Pricing      Pricing

	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int

	CircuitBreaker *config.CircuitBreakerConfig
	RateLimit      *config.RateLimitConfig
}

func (e *Entry) clone() *Entry {
	c := *e
	if e.Temperature != nil {
		t := *e.Temperature
		c.Temperature = &t
	}
	if e.CircuitBreaker != nil {
		cb := *e.CircuitBreaker
		c.CircuitBreaker = &cb
	}
	if e.RateLimit != nil {
		rl := *e.RateLimit
		c.RateLimit = &rl
	}
	return &c
}

// EntryFromConfig builds an entry from a defaulted model configuration.
// defaultTemperature applies when the entry has no temperature of its own.
func EntryFromConfig(id string, mc *config.ModelConfig, defaultTemperature *float64) *Entry {
	flag := func(b *bool) bool { return b == nil || *b }
	e := &Entry{
		ID:         id,
		Model:      mc.Model,
		APIType:    mc.APIType,
		BaseURL:    mc.BaseURL,
		APIKey:     mc.APIKey,
		APIVersion: mc.APIVersion,
		Capabilities: Capabilities{
			Tools:        flag(mc.ToolSupport),
			Streaming:    flag(mc.StreamingSupport),
			SystemPrompt: flag(mc.SystemPromptSupport),
		},
		Pricing: Pricing{
			InputPerMillion:  mc.CostInput,
			OutputPerMillion: mc.CostOutput,
		},
		Temperature:    mc.Temperature,
		MaxTokens:      mc.MaxTokens,
		Timeout:        mc.Timeout,
		MaxRetries:     mc.MaxRetries,
		CircuitBreaker: mc.CircuitBreaker,
		RateLimit:      mc.RateLimit,
	}
	if e.Temperature == nil {
		e.Temperature = defaultTemperature
	}
	return e.clone()
}

// RoleParams override generation parameters of the entry a role resolves to.
// A nil Temperature or zero MaxTokens keeps the entry's own value.
type RoleParams struct {
	Temperature *float64
	MaxTokens   int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRoleParams applies p whenever role is resolved through Default.
func WithRoleParams(role Role, p RoleParams) RegistryOption {
	return func(r *Registry) {
		r.params[role] = p
	}
}

// Registry is the Model Capability Registry: the configured model entries
// and the default model of each role. It is read-only once built and safe
// for concurrent use.
type Registry struct {
	entries *registry.BaseRegistry[*Entry]
	roles   map[Role]string
	params  map[Role]RoleParams
}

// NewRegistry builds a registry. Every role must name a known entry.
func NewRegistry(entries []*Entry, roles map[Role]string, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		entries: registry.NewBaseRegistry[*Entry](),
		roles:   make(map[Role]string, len(roles)),
		params:  make(map[Role]RoleParams),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, e := range entries {
		if e == nil {
			continue
		}
		if err := r.entries.Register(e.ID, e.clone()); err != nil {
			return nil, fmt.Errorf("model: %w", err)
		}
	}
	for role, id := range roles {
		if id == "" {
			continue
		}
		if _, ok := r.entries.Get(id); !ok {
			return nil, fmt.Errorf("default %s model: %w", role, domain.NotFound("model", id))
		}
		r.roles[role] = id
	}
	return r, nil
}

// FromSettings builds a registry from validated settings.
func FromSettings(s *config.Settings) (*Registry, error) {
	entries := make([]*Entry, 0, len(s.Models.Chat))
	for _, id := range s.ModelIDs() {
		entries = append(entries, EntryFromConfig(id, s.Models.Chat[id], s.Defaults.ChatTemperature))
	}
	return NewRegistry(entries, map[Role]string{
		RoleChat:   s.Defaults.ChatModel,
		RoleMini:   s.Defaults.MiniModel,
		RoleMemory: s.Defaults.MemoryModel,
	}, WithRoleParams(RoleMemory, RoleParams{
		Temperature: s.Defaults.MemoryModelTemperature,
		MaxTokens:   s.Defaults.MemoryModelMaxTokens,
	}))
}

// Get returns a copy of the entry with the given id.
func (r *Registry) Get(id string) (*Entry, bool) {
	e, ok := r.entries.Get(id)
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

// Select returns the entry with the given id or a lookup error.
func (r *Registry) Select(id string) (*Entry, error) {
	e, ok := r.Get(id)
	if !ok {
		return nil, &domain.LookupError{
			Kind: "model",
			Name: id,
			Msg:  fmt.Sprintf("available: %v", r.Names()),
		}
	}
	return e, nil
}

// Default returns the entry configured for role, with the role's
// parameter overrides applied.
func (r *Registry) Default(role Role) (*Entry, error) {
	id, ok := r.roles[role]
	if !ok {
		return nil, &domain.LookupError{Kind: "model role", Name: string(role), Msg: "no default configured"}
	}
	e, err := r.Select(id)
	if err != nil {
		return nil, err
	}
	if p, ok := r.params[role]; ok {
		if p.Temperature != nil {
			t := *p.Temperature
			e.Temperature = &t
		}
		if p.MaxTokens > 0 {
			e.MaxTokens = p.MaxTokens
		}
	}
	return e, nil
}

// DefaultOr selects id when it is not empty and the role default otherwise.
func (r *Registry) DefaultOr(id string, role Role) (*Entry, error) {
	if id != "" {
		return r.Select(id)
	}
	return r.Default(role)
}

// Capabilities returns the capabilities of id with call-scoped overrides
// applied. The registry is not modified.
func (r *Registry) Capabilities(id string, overrides ...CapabilityOption) (Capabilities, error) {
	e, ok := r.entries.Get(id)
	if !ok {
		return Capabilities{}, domain.NotFound("model", id)
	}
	return e.Capabilities.With(overrides...), nil
}

// Pricing returns the pricing of id.
func (r *Registry) Pricing(id string) (Pricing, error) {
	e, ok := r.entries.Get(id)
	if !ok {
		return Pricing{}, domain.NotFound("model", id)
	}
	return e.Pricing, nil
}

// EstimateCost returns the USD cost of usage on model id.
func (r *Registry) EstimateCost(id string, usage *Usage) (float64, error) {
	p, err := r.Pricing(id)
	if err != nil {
		return 0, err
	}
	return p.Cost(usage), nil
}

// Names returns the configured model ids in ascending order.
func (r *Registry) Names() []string {
	return r.entries.Names()
}

// RoleModel returns the model id configured for role.
func (r *Registry) RoleModel(role Role) (string, bool) {
	id, ok := r.roles[role]
	return id, ok
}
