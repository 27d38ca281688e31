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

// Package tool defines the tools agents can invoke and how tool
// references in agent definitions are bound to them.
//
// A reference is either the name of a local tool registered in a Registry,
// or a remote locator with the "mcp:" prefix:
//
//	today                               local tool
//	mcp:http://localhost:8000/mcp       MCP streamable HTTP endpoint
//	mcp:sse+http://localhost:8000/sse   MCP SSE endpoint
//	mcp:uvx mcp-server-time             MCP server launched over stdio
//
// Both kinds are exposed to agents through the same Tool interface.
package tool

import (
	"context"
	"slices"
)

// Tool is a callable capability exposed to a model.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON schema for the tool's parameters.
	// Returns nil if the tool takes no parameters.
	Schema() map[string]any

	// Call executes the tool. A returned error means the invocation
	// itself failed; tools report domain failures in the result map.
	Call(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Toolset groups tools served by one remote endpoint.
type Toolset interface {
	// Name identifies the toolset, usually its locator.
	Name() string

	// Tools returns the tools currently exposed.
	Tools(ctx context.Context) ([]Tool, error)

	// Close releases the connection.
	Close() error
}

// Predicate determines whether a tool should be exposed.
type Predicate func(t Tool) bool

// StringPredicate creates a Predicate that allows only named tools.
func StringPredicate(allowed []string) Predicate {
	return func(t Tool) bool {
		return slices.Contains(allowed, t.Name())
	}
}

// AllowAll returns a Predicate that allows all tools.
func AllowAll() Predicate {
	return func(Tool) bool { return true }
}

// Filter returns the tools that satisfy p.
func Filter(tools []Tool, p Predicate) []Tool {
	var out []Tool
	for _, t := range tools {
		if p(t) {
			out = append(out, t)
		}
	}
	return out
}

// errorKey carries a tool-reported failure in a result map.
const errorKey = "error"

// ErrorResult builds a result reporting a failure the model should see.
func ErrorResult(msg string) map[string]any {
	return map[string]any{errorKey: msg}
}

// IsErrorResult reports whether result was built by ErrorResult.
func IsErrorResult(result map[string]any) bool {
	_, ok := result[errorKey].(string)
	return ok && len(result) == 1
}

// Definition represents a tool definition for LLM function calling.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToDefinition converts a tool to a Definition.
func ToDefinition(t Tool) Definition {
	return Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Schema(),
	}
}

// Definitions converts every tool to a Definition.
func Definitions(tools []Tool) []Definition {
	defs := make([]Definition, len(tools))
	for i, t := range tools {
		defs[i] = ToDefinition(t)
	}
	return defs
}
