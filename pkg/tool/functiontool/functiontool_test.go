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

package functiontool_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/mchat/pkg/tool/functiontool"
)

type greetArgs struct {
	Name string `json:"name" jsonschema:"required,description=User name"`
	Age  int    `json:"age,omitempty" jsonschema:"description=User age,minimum=0,maximum=150"`
}

func greet(ctx context.Context, args greetArgs) (map[string]any, error) {
	return map[string]any{"greeting": fmt.Sprintf("Hello, %s! Age: %d", args.Name, args.Age)}, nil
}

func TestNew_SchemaAndCall(t *testing.T) {
	greetTool, err := functiontool.New(functiontool.Config{Name: "greet", Description: "Greet a user"}, greet)
	require.NoError(t, err)

	assert.Equal(t, "greet", greetTool.Name())
	assert.Equal(t, "Greet a user", greetTool.Description())

	schema := greetTool.Schema()
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "name")
	assert.Contains(t, props, "age")
	assert.Equal(t, []any{"name"}, schema["required"])

	got, err := greetTool.Call(context.Background(), map[string]any{"name": "Ada", "age": 36})
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada! Age: 36", got["greeting"])
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  functiontool.Config
	}{
		{"missing name", functiontool.Config{Description: "x"}},
		{"missing description", functiontool.Config{Name: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := functiontool.New(tt.cfg, greet)
			assert.Error(t, err)
		})
	}
}

func TestCall_BadArguments(t *testing.T) {
	greetTool := functiontool.Must(functiontool.Config{Name: "greet", Description: "Greet a user"}, greet)

	_, err := greetTool.Call(context.Background(), map[string]any{"age": "old"})
	assert.ErrorContains(t, err, "invalid arguments for greet")
}

func TestNewWithValidation(t *testing.T) {
	tl, err := functiontool.NewWithValidation(
		functiontool.Config{Name: "greet", Description: "Greet a user"},
		greet,
		func(a greetArgs) error {
			if a.Name == "" {
				return errors.New("name is empty")
			}
			return nil
		},
	)
	require.NoError(t, err)

	_, err = tl.Call(context.Background(), map[string]any{})
	assert.ErrorContains(t, err, "name is empty")

	out, err := tl.Call(context.Background(), map[string]any{"name": "Lin"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, Lin! Age: 0", out["greeting"])
}

func TestNew_NoArguments(t *testing.T) {
	tl, err := functiontool.New(
		functiontool.Config{Name: "ping", Description: "Ping"},
		func(ctx context.Context, _ struct{}) (map[string]any, error) {
			return map[string]any{"pong": true}, nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, tl.Schema()["properties"])

	out, err := tl.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["pong"])
}
