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

// Package runtime wires settings, models, tools and agent definitions
// together and starts conversations.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kadirpekel/mchat/pkg/agent"
	"github.com/kadirpekel/mchat/pkg/config"
	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/memory"
	"github.com/kadirpekel/mchat/pkg/model"
	"github.com/kadirpekel/mchat/pkg/model/provider"
	"github.com/kadirpekel/mchat/pkg/observability"
	"github.com/kadirpekel/mchat/pkg/session"
	"github.com/kadirpekel/mchat/pkg/tool"
	"github.com/kadirpekel/mchat/pkg/tool/builtin"
	"github.com/kadirpekel/mchat/pkg/tool/mcptoolset"
)

// inlineSource labels definitions supplied with WithAgents.
const inlineSource = "inline definitions"

// Runtime holds the resolved agents and the shared model clients and tool
// connections. It is safe for concurrent use.
type Runtime struct {
	settings *config.Settings
	models   *model.Registry
	binder   *tool.Binder
	clients  *provider.Cache
	resolver *agent.Resolver

	inline  map[string]any
	sources []string

	logger   *slog.Logger
	recorder observability.Recorder
	callback agent.Callback

	mu  sync.RWMutex
	set *agent.Set
}

// New builds a runtime from settings and resolves the agent definitions.
//
// Definitions come from WithAgents or WithAgentPaths, falling back to the
// agent_paths of settings. Supplying both options is a configuration
// error, as is supplying neither with no paths in settings. Any
// definition problem fails construction.
func New(ctx context.Context, settings *config.Settings, opts ...Option) (*Runtime, error) {
	if settings == nil {
		return nil, domain.NewConfigError("runtime", "settings are required")
	}

	o := options{
		logger:    slog.Default(),
		recorder:  observability.Noop(),
		clock:     time.Now,
		estimator: memory.TiktokenEstimator,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.agents != nil && len(o.agentPaths) > 0 {
		return nil, domain.NewConfigError("runtime", "inline agent definitions and agent paths cannot be combined")
	}
	sources := o.agentPaths
	if o.agents == nil && len(sources) == 0 {
		sources = settings.AgentPaths
	}
	if o.agents == nil && len(sources) == 0 {
		return nil, domain.NewConfigError("runtime", "no agent definitions: pass inline agents or agent paths")
	}

	if err := settings.Validate(); err != nil {
		return nil, &domain.ConfigError{Op: "settings", Err: err}
	}
	models, err := model.FromSettings(settings)
	if err != nil {
		return nil, &domain.ConfigError{Op: "models", Err: err}
	}

	local, err := tool.NewRegistry(append(builtin.All(o.clock), o.tools...)...)
	if err != nil {
		return nil, &domain.ConfigError{Op: "tools", Err: err}
	}
	if o.connector == nil {
		o.connector = mcptoolset.NewConnector(mcptoolset.WithLogger(o.logger))
	}

	rt := &Runtime{
		settings: settings,
		models:   models,
		binder:   tool.NewBinder(local, o.connector, tool.WithBinderLogger(o.logger)),
		clients:  provider.NewCache(o.factory, o.logger),
		inline:   o.agents,
		sources:  sources,
		logger:   o.logger,
		recorder: o.recorder,
		callback: o.callback,
	}
	rt.resolver = agent.NewResolver(models, rt.binder, rt.clients.Get,
		agent.WithLogger(o.logger),
		agent.WithClock(o.clock),
		agent.WithEstimator(o.estimator),
	)

	set, err := rt.resolve(ctx)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.set = set

	rt.logger.Info("Runtime ready",
		"agents", len(set.Names()),
		"chooseable", set.Chooseable(),
		"models", models.Names(),
	)
	return rt, nil
}

func (r *Runtime) resolve(ctx context.Context) (*agent.Set, error) {
	var (
		defs agent.Definitions
		err  error
	)
	if r.inline != nil {
		defs, err = agent.ParseMap(inlineSource, r.inline)
	} else {
		defs, err = agent.LoadSources(r.sources)
	}
	if err != nil {
		return nil, err
	}
	return r.resolver.Resolve(ctx, defs)
}

// Reload resolves the definitions again and swaps them in when they are
// valid. Running conversations keep the agents they were started with.
func (r *Runtime) Reload(ctx context.Context) error {
	set, err := r.resolve(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.set = set
	r.mu.Unlock()
	r.logger.Info("Agents reloaded", "agents", len(set.Names()))
	return nil
}

func (r *Runtime) current() *agent.Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set
}

// Settings returns the settings the runtime was built from.
func (r *Runtime) Settings() *config.Settings { return r.settings }

// Models returns the model registry.
func (r *Runtime) Models() *model.Registry { return r.models }

// Tools returns the names of the local tools definitions may reference.
func (r *Runtime) Tools() []string { return r.binder.Local().Names() }

// Agents returns every agent and team name, sorted.
func (r *Runtime) Agents() []string { return r.current().Names() }

// ChooseableAgents returns the agents and teams users may pick, sorted.
func (r *Runtime) ChooseableAgents() []string { return r.current().Chooseable() }

// Agent returns the resolved agent or team named name.
func (r *Runtime) Agent(name string) (*agent.Blueprint, error) {
	return r.current().Get(name)
}

// Describe summarises every agent and team, in name order.
func (r *Runtime) Describe() []agent.Description {
	set := r.current()
	out := make([]agent.Description, 0, len(set.Names()))
	for _, name := range set.Names() {
		bp, err := set.Get(name)
		if err != nil {
			continue
		}
		out = append(out, bp.Describe())
	}
	return out
}

// NewConversation starts a conversation with the named agent or team.
// Teams must be chooseable; agents that are not chooseable may still be
// addressed by name.
func (r *Runtime) NewConversation(ctx context.Context, name string, streamTokens bool, opts ...session.Option) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bp, err := r.Agent(name)
	if err != nil {
		return nil, err
	}
	if bp.Kind == agent.KindTeam && !bp.Chooseable() {
		return nil, &domain.LookupError{Kind: "agent", Name: name, Msg: "team is not chooseable"}
	}

	base := []session.Option{
		session.WithLogger(r.logger),
		session.WithRecorder(r.recorder),
		session.WithCallback(r.callback),
	}
	s, err := session.New(bp, streamTokens, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("start conversation with %s: %w", name, err)
	}
	r.logger.Debug("Conversation started", "session", s.ID(), "agent", name, "stream", streamTokens)
	return s, nil
}

// Close releases tool connections and model clients.
func (r *Runtime) Close() error {
	return errors.Join(r.binder.Close(), r.clients.Close())
}
