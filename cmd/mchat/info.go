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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/kadirpekel/mchat/pkg/model"
)

// AgentsCmd lists the resolved agents and teams.
type AgentsCmd struct {
	All  bool `help:"Include agents that are not chooseable."`
	JSON bool `help:"Print JSON."`
}

func (c *AgentsCmd) Run(ctx context.Context, cli *CLI) error {
	env, err := setup(ctx, cli, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	descs := env.rt.Describe()
	if !c.All {
		filtered := descs[:0]
		for _, d := range descs {
			if d.Chooseable {
				filtered = append(filtered, d)
			}
		}
		descs = filtered
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(descs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tMODEL\tTOOLS/MEMBERS\tDESCRIPTION")
	for _, d := range descs {
		parts := d.Tools
		if len(d.Members) > 0 {
			parts = d.Members
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.Kind, orDash(d.Model), orDash(strings.Join(parts, ",")), d.Description)
	}
	return w.Flush()
}

// ModelsCmd lists the model registry.
type ModelsCmd struct{}

func (c *ModelsCmd) Run(ctx context.Context, cli *CLI) error {
	env, err := setup(ctx, cli, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	models := env.rt.Models()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tAPI\tTOOLS\tSTREAM\tSYSTEM\tCOST IN/OUT\tROLES")
	for _, id := range models.Names() {
		e, _ := models.Get(id)
		var roles []string
		for _, role := range []model.Role{model.RoleChat, model.RoleMini, model.RoleMemory} {
			if m, ok := models.RoleModel(role); ok && m == id {
				roles = append(roles, string(role))
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%t\t%g/%g\t%s\n",
			id, e.Model, e.APIType,
			e.Capabilities.Tools, e.Capabilities.Streaming, e.Capabilities.SystemPrompt,
			e.Pricing.InputPerMillion, e.Pricing.OutputPerMillion,
			orDash(strings.Join(roles, ",")))
	}
	return w.Flush()
}

// ValidateCmd resolves everything and reports the first problem.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(ctx context.Context, cli *CLI) error {
	env, err := setup(ctx, cli, nil)
	if err != nil {
		return err
	}
	defer env.Close()

	fmt.Printf("%s is valid: %d models, %d agents (%d chooseable)\n",
		cli.Config, len(env.rt.Models().Names()), len(env.rt.Agents()), len(env.rt.ChooseableAgents()))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
