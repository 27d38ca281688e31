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

package tool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct{ name string }

func (s stubTool) Name() string           { return s.name }
func (s stubTool) Description() string    { return "stub " + s.name }
func (s stubTool) Schema() map[string]any { return map[string]any{"type": "object"} }
func (s stubTool) Call(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{"tool": s.name}, nil
}

type stubToolset struct {
	name   string
	tools  []Tool
	closed atomic.Bool
}

func (s *stubToolset) Name() string                          { return s.name }
func (s *stubToolset) Tools(context.Context) ([]Tool, error) { return s.tools, nil }
func (s *stubToolset) Close() error                          { s.closed.Store(true); return nil }

func TestParseLocator(t *testing.T) {
	t.Setenv("MCHAT_TZ", "Europe/Istanbul")

	tests := []struct {
		ref     string
		want    Locator
		wantErr bool
	}{
		{
			ref:  "mcp:http://localhost:8000/mcp",
			want: Locator{Transport: TransportStreamableHTTP, URL: "http://localhost:8000/mcp"},
		},
		{
			ref:  "mcp:https://tools.example.com/mcp#get_current_time,convert_time",
			want: Locator{Transport: TransportStreamableHTTP, URL: "https://tools.example.com/mcp", Filter: []string{"get_current_time", "convert_time"}},
		},
		{
			ref:  "mcp:sse+http://localhost:8000/sse",
			want: Locator{Transport: TransportSSE, URL: "http://localhost:8000/sse"},
		},
		{
			ref:  `mcp:uvx mcp-server-time --local-timezone "$MCHAT_TZ"`,
			want: Locator{Transport: TransportStdio, Command: "uvx", Args: []string{"mcp-server-time", "--local-timezone", "Europe/Istanbul"}},
		},
		{ref: "today", wantErr: true},
		{ref: "mcp:", wantErr: true},
		{ref: "mcp:http://", wantErr: true},
		{ref: `mcp:python "unterminated`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ParseLocator(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.want.Raw = tt.ref
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocatorKeySharedAcrossFilters(t *testing.T) {
	a, err := ParseLocator("mcp:http://localhost:8000/mcp#a")
	require.NoError(t, err)
	b, err := ParseLocator("mcp:http://localhost:8000/mcp")
	require.NoError(t, err)
	assert.Equal(t, a.Key(), b.Key())
}

func TestBinder_BindLocalAndRemote(t *testing.T) {
	local, err := NewRegistry(stubTool{"today"}, stubTool{"calculator"})
	require.NoError(t, err)

	var connects atomic.Int32
	remote := &stubToolset{name: "time-server", tools: []Tool{stubTool{"get_current_time"}, stubTool{"convert_time"}}}
	connect := func(ctx context.Context, loc Locator) (Toolset, error) {
		connects.Add(1)
		return remote, nil
	}

	b := NewBinder(local, connect)
	refs := []string{"today", "mcp:http://localhost:8000/mcp#get_current_time"}

	require.NoError(t, b.Connect(context.Background(), refs))
	require.NoError(t, b.Connect(context.Background(), []string{"mcp:http://localhost:8000/mcp"}))
	assert.Equal(t, int32(1), connects.Load())

	tools, err := b.Bind(context.Background(), refs)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "today", tools[0].Name())
	assert.Equal(t, "get_current_time", tools[1].Name())

	defs := Definitions(tools)
	assert.Equal(t, "stub today", defs[0].Description)

	require.NoError(t, b.Close())
	assert.True(t, remote.closed.Load())
}

func TestBinder_Errors(t *testing.T) {
	local, err := NewRegistry(stubTool{"today"})
	require.NoError(t, err)

	t.Run("unknown local tool", func(t *testing.T) {
		_, err := NewBinder(local, nil).Bind(context.Background(), []string{"weather"})
		assert.ErrorContains(t, err, "unknown tool")
	})

	t.Run("duplicate tool name", func(t *testing.T) {
		_, err := NewBinder(local, nil).Bind(context.Background(), []string{"today", "today"})
		assert.ErrorContains(t, err, "provided by both")
	})

	t.Run("remote without connector", func(t *testing.T) {
		err := NewBinder(local, nil).Connect(context.Background(), []string{"mcp:http://localhost:1/mcp"})
		assert.Error(t, err)
	})

	t.Run("unreachable server closes partial connections", func(t *testing.T) {
		var (
			mu     sync.Mutex
			opened []*stubToolset
		)
		connect := func(ctx context.Context, loc Locator) (Toolset, error) {
			if loc.URL == "http://down:1/mcp" {
				return nil, errors.New("connection refused")
			}
			ts := &stubToolset{name: loc.URL}
			mu.Lock()
			opened = append(opened, ts)
			mu.Unlock()
			return ts, nil
		}
		b := NewBinder(local, connect)
		err := b.Connect(context.Background(), []string{"mcp:http://up:1/mcp", "mcp:http://down:1/mcp"})
		require.ErrorContains(t, err, "connection refused")

		for _, ts := range opened {
			assert.True(t, ts.closed.Load())
		}
		_, err = b.Bind(context.Background(), []string{"mcp:http://up:1/mcp"})
		assert.ErrorContains(t, err, "not connected")
	})

	t.Run("filter names a missing tool", func(t *testing.T) {
		connect := func(ctx context.Context, loc Locator) (Toolset, error) {
			return &stubToolset{name: "x", tools: []Tool{stubTool{"a"}}}, nil
		}
		b := NewBinder(local, connect)
		refs := []string{"mcp:http://x:1/mcp#a,b"}
		require.NoError(t, b.Connect(context.Background(), refs))
		_, err := b.Bind(context.Background(), refs)
		assert.ErrorContains(t, err, "not served")
	})
}
