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
	"fmt"
	"slices"
	"strings"

	"github.com/kadirpekel/mchat/pkg/config"
	"github.com/kadirpekel/mchat/pkg/domain"
	"github.com/kadirpekel/mchat/pkg/memory"
)

// Kind tells agents and teams apart.
type Kind string

const (
	KindAgent Kind = "agent"
	KindTeam  Kind = "team"
)

// TeamType selects how a team picks its next speaker.
type TeamType string

const (
	TeamRoundRobin TeamType = "round_robin"
	TeamSelector   TeamType = "selector"
)

const (
	// DefaultAgentMaxRounds bounds the model calls of one agent turn.
	DefaultAgentMaxRounds = 5

	// DefaultTeamMaxRounds bounds the member replies of one team turn.
	DefaultTeamMaxRounds = 10
)

// AgentSpec is the agent variant of a definition.
type AgentSpec struct {
	Description string        `json:"description"`
	Prompt      string        `json:"prompt"`
	Tools       []string      `json:"tools,omitempty"`
	Context     memory.Config `json:"context"`
	Model       string        `json:"model,omitempty"`
	Chooseable  bool          `json:"chooseable"`
	Oneshot     bool          `json:"oneshot"`
	MaxRounds   int           `json:"max_rounds"`
}

// TeamSpec is the team variant of a definition.
type TeamSpec struct {
	Description string        `json:"description"`
	TeamType    TeamType      `json:"team_type"`
	Agents      []string      `json:"agents"`
	Context     memory.Config `json:"context"`
	Model       string        `json:"model,omitempty"`
	Chooseable  bool          `json:"chooseable"`
	Oneshot     bool          `json:"oneshot"`
	MaxRounds   int           `json:"max_rounds"`
}

// Definition is a validated agent or team definition. Exactly one of
// Agent and Team is set, matching Kind.
type Definition struct {
	Name   string     `json:"name"`
	Kind   Kind       `json:"type"`
	Source string     `json:"-"`
	Agent  *AgentSpec `json:"agent,omitempty"`
	Team   *TeamSpec  `json:"team,omitempty"`
}

// Description returns the definition's description.
func (d *Definition) Description() string {
	if d.Team != nil {
		return d.Team.Description
	}
	return d.Agent.Description
}

// Chooseable reports whether the definition may be offered to users.
func (d *Definition) Chooseable() bool {
	if d.Team != nil {
		return d.Team.Chooseable
	}
	return d.Agent.Chooseable
}

// Members returns the member names of a team, nil for agents.
func (d *Definition) Members() []string {
	if d.Team == nil {
		return nil
	}
	return d.Team.Agents
}

// rawDefinition mirrors every field a definition may carry.
type rawDefinition struct {
	Type        string         `yaml:"type"`
	Description string         `yaml:"description"`
	Prompt      string         `yaml:"prompt"`
	Tools       []string       `yaml:"tools"`
	Context     *memory.Config `yaml:"context"`
	Model       string         `yaml:"model"`
	Chooseable  *bool          `yaml:"chooseable"`
	Oneshot     bool           `yaml:"oneshot"`
	MaxRounds   int            `yaml:"max_rounds"`
	TeamType    string         `yaml:"team_type"`
	Agents      []string       `yaml:"agents"`
}

var (
	agentOnlyFields = []string{"prompt", "tools"}
	teamOnlyFields  = []string{"team_type", "agents"}
)

// ParseDefinition validates one raw definition. raw must be a mapping as
// produced by a YAML or JSON decoder.
func ParseDefinition(name string, raw any) (*Definition, error) {
	if strings.TrimSpace(name) == "" {
		return nil, domain.Invalid("", "", "definition name must not be empty")
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, domain.Invalid(name, "", "definition must be a mapping of fields, got %T", raw)
	}

	var r rawDefinition
	if err := config.DecodeStrict(fields, &r); err != nil {
		return nil, &domain.ValidationError{Name: name, Err: err}
	}

	kind := Kind(r.Type)
	if kind == "" {
		kind = KindAgent
	}
	chooseable := r.Chooseable == nil || *r.Chooseable
	if r.MaxRounds < 0 {
		return nil, domain.Invalid(name, "max_rounds", "must not be negative")
	}

	ctxCfg := memory.Config{}
	if r.Context != nil {
		ctxCfg = *r.Context
	}
	if err := ctxCfg.Validate(); err != nil {
		return nil, &domain.ValidationError{Name: name, Field: "context", Err: err}
	}
	ctxCfg.SetDefaults()

	switch kind {
	case KindAgent:
		if f := presentField(fields, teamOnlyFields); f != "" {
			return nil, domain.Invalid(name, f, "only applies to teams")
		}
		if slices.Contains(r.Tools, "") {
			return nil, domain.Invalid(name, "tools", "tool reference must not be empty")
		}
		maxRounds := r.MaxRounds
		if maxRounds == 0 {
			maxRounds = DefaultAgentMaxRounds
		}
		return &Definition{
			Name: name,
			Kind: KindAgent,
			Agent: &AgentSpec{
				Description: r.Description,
				Prompt:      r.Prompt,
				Tools:       r.Tools,
				Context:     ctxCfg,
				Model:       r.Model,
				Chooseable:  chooseable,
				Oneshot:     r.Oneshot,
				MaxRounds:   maxRounds,
			},
		}, nil

	case KindTeam:
		if f := presentField(fields, agentOnlyFields); f != "" {
			return nil, domain.Invalid(name, f, "only applies to agents")
		}
		if len(r.Agents) == 0 {
			return nil, domain.Invalid(name, "agents", "a team needs at least one member")
		}
		for i, m := range r.Agents {
			if m == "" {
				return nil, domain.Invalid(name, "agents", "member %d has an empty name", i)
			}
			if slices.Contains(r.Agents[:i], m) {
				return nil, domain.Invalid(name, "agents", "member %q is listed twice", m)
			}
		}
		teamType := TeamType(r.TeamType)
		switch teamType {
		case "":
			teamType = TeamRoundRobin
		case TeamRoundRobin, TeamSelector:
		default:
			return nil, domain.Invalid(name, "team_type", "unknown team type %q (valid: %s, %s)", r.TeamType, TeamRoundRobin, TeamSelector)
		}
		if teamType == TeamRoundRobin && presentField(fields, []string{"model"}) != "" {
			return nil, domain.Invalid(name, "model", "only applies to selector teams")
		}
		maxRounds := r.MaxRounds
		if maxRounds == 0 {
			maxRounds = DefaultTeamMaxRounds
		}
		return &Definition{
			Name: name,
			Kind: KindTeam,
			Team: &TeamSpec{
				Description: r.Description,
				TeamType:    teamType,
				Agents:      r.Agents,
				Context:     ctxCfg,
				Model:       r.Model,
				Chooseable:  chooseable,
				Oneshot:     r.Oneshot,
				MaxRounds:   maxRounds,
			},
		}, nil

	default:
		return nil, domain.Invalid(name, "type", "unknown type %q (valid: %s, %s)", r.Type, KindAgent, KindTeam)
	}
}

func presentField(fields map[string]any, names []string) string {
	for _, n := range names {
		if _, ok := fields[n]; ok {
			return n
		}
	}
	return ""
}

// String returns a short human readable form.
func (d *Definition) String() string {
	if d.Team != nil {
		return fmt.Sprintf("%s (team %s: %s)", d.Name, d.Team.TeamType, strings.Join(d.Team.Agents, ", "))
	}
	return fmt.Sprintf("%s (agent)", d.Name)
}
