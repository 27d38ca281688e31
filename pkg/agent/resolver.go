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

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/instruction"
	"github.com/kadirpekel/mchat/pkg/memory"
	"github.com/kadirpekel/mchat/pkg/model"
	"github.com/kadirpekel/mchat/pkg/tool"
)

// ClientFunc returns the model client for a registry entry.
type ClientFunc func(ctx context.Context, entry *model.Entry) (model.LLM, error)

// EstimatorFunc returns the token estimator for a provider model name.
type EstimatorFunc func(modelName string) memory.Estimator

// Blueprint is a resolved agent or team. Blueprints are immutable and
// shared; Spawn creates instances that own their context windows.
type Blueprint struct {
	Definition *Definition

	Name string
	Kind Kind

	// Prompt is the rendered prompt. Empty for teams.
	Prompt string

	// Model is the agent's model, or the speaker-selection model of a
	// selector team. Nil for round robin teams.
	Model *model.Entry
	LLM   model.LLM

	Tools     []tool.Tool
	Context   memory.Config
	MaxRounds int
	Oneshot   bool

	TeamType TeamType
	Members  []*Blueprint

	estimator EstimatorFunc
}

// Description returns the definition's description.
func (b *Blueprint) Description() string { return b.Definition.Description() }

// Chooseable reports whether the blueprint may be offered to users.
func (b *Blueprint) Chooseable() bool { return b.Definition.Chooseable() }

// Capabilities returns the model capabilities with overrides applied to a
// copy. Teams report no capabilities.
func (b *Blueprint) Capabilities(overrides ...model.CapabilityOption) model.Capabilities {
	if b.Kind == KindTeam || b.Model == nil {
		return model.Capabilities{}
	}
	return b.Model.Capabilities.With(overrides...)
}

// EffectiveSystemPrompt returns the prompt submitted as system instruction,
// or false when there is none: teams have no prompt, and models without
// system prompt support get none.
func (b *Blueprint) EffectiveSystemPrompt(overrides ...model.CapabilityOption) (string, bool) {
	if b.Kind != KindAgent || b.Prompt == "" {
		return "", false
	}
	if !b.Capabilities(overrides...).SystemPrompt {
		return "", false
	}
	return b.Prompt, true
}

func (b *Blueprint) generateConfig() *model.GenerateConfig {
	if b.Model == nil {
		return nil
	}
	cfg := &model.GenerateConfig{Temperature: b.Model.Temperature}
	if b.Model.MaxTokens > 0 {
		maxTokens := b.Model.MaxTokens
		cfg.MaxTokens = &maxTokens
	}
	return cfg
}

// Description is a comparable summary of a resolved blueprint.
type Description struct {
	Name        string        `json:"name"`
	Kind        Kind          `json:"type"`
	Description string        `json:"description"`
	Prompt      string        `json:"prompt,omitempty"`
	Model       string        `json:"model,omitempty"`
	Tools       []string      `json:"tools,omitempty"`
	Context     memory.Config `json:"context"`
	Chooseable  bool          `json:"chooseable"`
	Oneshot     bool          `json:"oneshot"`
	MaxRounds   int           `json:"max_rounds"`
	TeamType    TeamType      `json:"team_type,omitempty"`
	Members     []string      `json:"agents,omitempty"`
}

// Describe summarises the blueprint.
func (b *Blueprint) Describe() Description {
	d := Description{
		Name:        b.Name,
		Kind:        b.Kind,
		Description: b.Description(),
		Prompt:      b.Prompt,
		Context:     b.Context,
		Chooseable:  b.Chooseable(),
		Oneshot:     b.Oneshot,
		MaxRounds:   b.MaxRounds,
		TeamType:    b.TeamType,
	}
	if b.Model != nil {
		d.Model = b.Model.ID
	}
	for _, t := range b.Tools {
		d.Tools = append(d.Tools, t.Name())
	}
	for _, m := range b.Members {
		d.Members = append(d.Members, m.Name)
	}
	return d
}

// Set is a resolved definition set.
type Set struct {
	defs       Definitions
	blueprints map[string]*Blueprint
	order      []string
}

// Get returns the blueprint named name.
func (s *Set) Get(name string) (*Blueprint, error) {
	bp, ok := s.blueprints[name]
	if !ok {
		err := domain.NotFound("agent", name)
		err.Msg = fmt.Sprintf("available: %v", s.Names())
		return nil, err
	}
	return bp, nil
}

// Names returns every agent and team name, sorted.
func (s *Set) Names() []string {
	return s.defs.Names()
}

// Chooseable returns the names users may pick, sorted.
func (s *Set) Chooseable() []string {
	var names []string
	for _, name := range s.defs.Names() {
		if s.defs[name].Chooseable() {
			names = append(names, name)
		}
	}
	return names
}

// Definitions returns the definitions the set was resolved from.
func (s *Set) Definitions() Definitions {
	return s.defs
}

// Order returns the resolution order: members before their teams.
func (s *Set) Order() []string {
	return slices.Clone(s.order)
}

// Resolver turns definitions into blueprints.
type Resolver struct {
	models    *model.Registry
	binder    *tool.Binder
	clients   ClientFunc
	estimator EstimatorFunc
	now       func() time.Time
	logger    *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock sets the clock used for the date and time prompt variables.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithEstimator sets the token estimator of token-limited contexts.
func WithEstimator(fn EstimatorFunc) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.estimator = fn
		}
	}
}

// NewResolver creates a resolver selecting models from models, binding
// tools with binder and obtaining clients from clients.
func NewResolver(models *model.Registry, binder *tool.Binder, clients ClientFunc, opts ...ResolverOption) *Resolver {
	if binder == nil {
		binder = tool.NewBinder(nil, nil)
	}
	r := &Resolver{
		models:    models,
		binder:    binder,
		clients:   clients,
		estimator: memory.TiktokenEstimator,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve validates defs as a whole and builds their blueprints. The
// membership graph is checked before anything is constructed; any failure
// aborts resolution.
func (r *Resolver) Resolve(ctx context.Context, defs Definitions) (*Set, error) {
	if len(defs) == 0 {
		return nil, &domain.ValidationError{Message: "no agents defined"}
	}

	graph, err := NewGraph(defs)
	if err != nil {
		return nil, err
	}
	order, err := graph.Order()
	if err != nil {
		return nil, err
	}

	var refs []string
	for _, name := range order {
		if def := defs[name]; def.Agent != nil {
			refs = append(refs, def.Agent.Tools...)
		}
	}
	if err := r.binder.Connect(ctx, refs); err != nil {
		return nil, &domain.ValidationError{Field: "tools", Err: err}
	}

	set := &Set{
		defs:       defs,
		blueprints: make(map[string]*Blueprint, len(defs)),
		order:      order,
	}
	for _, name := range order {
		def := defs[name]
		var bp *Blueprint
		if def.Kind == KindTeam {
			bp, err = r.resolveTeam(ctx, def, set.blueprints)
		} else {
			bp, err = r.resolveAgent(ctx, def)
		}
		if err != nil {
			return nil, err
		}
		set.blueprints[name] = bp
	}

	// Clients are created only once every definition is valid.
	for _, name := range order {
		bp := set.blueprints[name]
		if bp.Model == nil {
			continue
		}
		llm, err := r.clients(ctx, bp.Model)
		if err != nil {
			return nil, &domain.ValidationError{Source: bp.Definition.Source, Name: name, Field: "model", Err: err}
		}
		bp.LLM = llm
	}

	r.logger.Debug("Resolved agents", "count", len(set.blueprints), "chooseable", set.Chooseable())
	return set, nil
}

func (r *Resolver) resolveAgent(ctx context.Context, def *Definition) (*Blueprint, error) {
	spec := def.Agent
	invalid := func(field string, err error) error {
		return &domain.ValidationError{Source: def.Source, Name: def.Name, Field: field, Err: err}
	}

	entry, err := r.selectModel(spec.Model, model.RoleChat)
	if err != nil {
		return nil, invalid("model", err)
	}

	prompt, err := instruction.Render(spec.Prompt, instruction.AgentVars(def.Name, spec.Description, r.now()))
	if err != nil {
		return nil, invalid("prompt", err)
	}

	tools, err := r.binder.Bind(ctx, spec.Tools)
	if err != nil {
		return nil, invalid("tools", err)
	}
	if len(tools) > 0 && !entry.Capabilities.Tools {
		r.logger.Warn("Model does not support tools, they will not be offered",
			"agent", def.Name, "model", entry.ID, "tools", len(tools))
	}

	if spec.Context.Type == memory.TypeToken {
		if err := memory.EstimatorErr(r.estimator(entry.Model)); err != nil {
			r.logger.Debug("Token encoding unavailable, estimating by length",
				"agent", def.Name, "model", entry.Model, "error", err)
		}
	}

	return &Blueprint{
		Definition: def,
		Name:       def.Name,
		Kind:       KindAgent,
		Prompt:     prompt,
		Model:      entry,
		Tools:      tools,
		Context:    spec.Context,
		MaxRounds:  spec.MaxRounds,
		Oneshot:    spec.Oneshot,
		estimator:  r.estimator,
	}, nil
}

func (r *Resolver) resolveTeam(ctx context.Context, def *Definition, resolved map[string]*Blueprint) (*Blueprint, error) {
	spec := def.Team
	invalid := func(field string, err error) error {
		return &domain.ValidationError{Source: def.Source, Name: def.Name, Field: field, Err: err}
	}

	members := make([]*Blueprint, 0, len(spec.Agents))
	for _, name := range spec.Agents {
		m, ok := resolved[name]
		if !ok {
			return nil, invalid("agents", fmt.Errorf("member %q is not resolved", name))
		}
		members = append(members, m)
	}

	bp := &Blueprint{
		Definition: def,
		Name:       def.Name,
		Kind:       KindTeam,
		Context:    spec.Context,
		MaxRounds:  spec.MaxRounds,
		Oneshot:    spec.Oneshot,
		TeamType:   spec.TeamType,
		Members:    members,
		estimator:  r.estimator,
	}

	if spec.TeamType == TeamSelector {
		entry, err := r.selectModel(spec.Model, model.RoleMini)
		if err != nil {
			return nil, invalid("model", err)
		}
		bp.Model = entry
	}
	return bp, nil
}

// selectModel returns the named model or the default of role. The mini
// and memory roles fall back to the chat default when unset.
func (r *Resolver) selectModel(name string, role model.Role) (*model.Entry, error) {
	if name != "" {
		return r.models.Select(name)
	}
	entry, err := r.models.Default(role)
	if err != nil && role != model.RoleChat {
		return r.models.Default(model.RoleChat)
	}
	return entry, err
}
