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

// Package functiontool creates tools from typed Go functions, with the
// parameter schema generated from struct tags.
//
//	type WeatherArgs struct {
//	    City  string `json:"city" jsonschema:"required,description=City name"`
//	    Units string `json:"units,omitempty" jsonschema:"enum=celsius,enum=fahrenheit"`
//	}
//
//	weather, err := functiontool.New(
//	    functiontool.Config{Name: "get_weather", Description: "Current weather for a city"},
//	    func(ctx context.Context, args WeatherArgs) (map[string]any, error) {
//	        return map[string]any{"temp": 22}, nil
//	    },
//	)
//
// Register the result with runtime.WithTools and reference it by name from
// an agent definition's tools list.
package functiontool

import (
	"context"
	"fmt"

	"github.com/kadirpekel/mchat/pkg/tool"
)

// Config defines the configuration for a function tool.
type Config struct {
	// Name is the unique identifier for this tool (required).
	Name string

	// Description explains what the tool does (required).
	Description string
}

// Func is the signature wrapped by New.
type Func[Args any] func(ctx context.Context, args Args) (map[string]any, error)

// New creates a Tool from a typed function.
func New[Args any](cfg Config, fn Func[Args]) (tool.Tool, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("tool %s: function is nil", cfg.Name)
	}

	schema, err := generateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", cfg.Name, err)
	}

	return &functionTool[Args]{config: cfg, fn: fn, schema: schema}, nil
}

// NewWithValidation creates a Tool that runs validate on the decoded
// arguments before calling fn.
func NewWithValidation[Args any](cfg Config, fn Func[Args], validate func(Args) error) (tool.Tool, error) {
	base, err := New(cfg, fn)
	if err != nil {
		return nil, err
	}
	return &functionTool[Args]{
		config:   cfg,
		fn:       fn,
		schema:   base.Schema(),
		validate: validate,
	}, nil
}

// Must is New that panics on error. Intended for package-level tool variables.
func Must[Args any](cfg Config, fn Func[Args]) tool.Tool {
	t, err := New(cfg, fn)
	if err != nil {
		panic(err)
	}
	return t
}

type functionTool[Args any] struct {
	config   Config
	fn       Func[Args]
	schema   map[string]any
	validate func(Args) error
}

func (t *functionTool[Args]) Name() string { return t.config.Name }

func (t *functionTool[Args]) Description() string { return t.config.Description }

func (t *functionTool[Args]) Schema() map[string]any { return t.schema }

// Call decodes args into Args and calls the function.
func (t *functionTool[Args]) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	var typedArgs Args
	if err := mapToStruct(args, &typedArgs); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.config.Name, err)
	}

	if t.validate != nil {
		if err := t.validate(typedArgs); err != nil {
			return nil, fmt.Errorf("validation failed for %s: %w", t.config.Name, err)
		}
	}

	return t.fn(ctx, typedArgs)
}

func validateConfig(cfg Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if cfg.Description == "" {
		return fmt.Errorf("tool description is required")
	}
	return nil
}

var _ tool.Tool = (*functionTool[struct{}])(nil)
