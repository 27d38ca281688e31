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
	"strings"

	"github.com/kadirpekel/mchat/pkg/domain"
)

// Graph is the team membership graph: an edge runs from each team to each
// of its members.
type Graph struct {
	nodes []string
	edges map[string][]string
}

// NewGraph builds the membership graph of defs. Every member must name a
// definition in defs, and no team may list itself.
func NewGraph(defs Definitions) (*Graph, error) {
	g := &Graph{
		nodes: defs.Names(),
		edges: make(map[string][]string),
	}
	for _, name := range g.nodes {
		for _, member := range defs[name].Members() {
			if member == name {
				return nil, domain.Invalid(name, "agents", "a team cannot be its own member")
			}
			if _, ok := defs[member]; !ok {
				return nil, domain.Invalid(name, "agents", "unknown member %q", member)
			}
			g.edges[name] = append(g.edges[name], member)
		}
	}
	return g, nil
}

// Members returns the direct members of name.
func (g *Graph) Members(name string) []string {
	return g.edges[name]
}

// Order returns every node with members before the teams containing them.
// A membership cycle is a validation error naming the cycle.
func (g *Graph) Order() ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.nodes))
	order := make([]string, 0, len(g.nodes))
	var path []string

	var visit func(n string) error
	visit = func(n string) error {
		switch state[n] {
		case done:
			return nil
		case visiting:
			start := 0
			for i, p := range path {
				if p == n {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), path[start:]...), n)
			return domain.Invalid(n, "agents", "membership cycle: %s", strings.Join(cycle, " -> "))
		}

		state[n] = visiting
		path = append(path, n)
		for _, m := range g.edges[n] {
			if err := visit(m); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[n] = done
		order = append(order, n)
		return nil
	}

	for _, n := range g.nodes {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return order, nil
}
