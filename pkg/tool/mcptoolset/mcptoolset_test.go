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

package mcptoolset

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/mchat/pkg/logger"
	"github.com/kadirpekel/mchat/pkg/tool"
)

type fakeClient struct {
	initErr error
	tools   []mcp.Tool
	calls   []mcp.CallToolRequest
	result  *mcp.CallToolResult
	callErr error
	closed  int
}

func (f *fakeClient) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &mcp.InitializeResult{}, nil
}

func (f *fakeClient) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeClient) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.calls = append(f.calls, req)
	return f.result, f.callErr
}

func (f *fakeClient) Close() error {
	f.closed++
	return nil
}

func testOptions() options {
	return buildOptions([]Option{WithLogger(logger.Discard())})
}

func TestOpen_ListsTools(t *testing.T) {
	fc := &fakeClient{tools: []mcp.Tool{
		mcp.NewTool("get_current_time",
			mcp.WithDescription("Current time in a timezone"),
			mcp.WithString("timezone", mcp.Required()),
		),
		mcp.NewTool("convert_time"),
	}}

	ts, err := open(context.Background(), "mcp:uvx mcp-server-time", fc, testOptions())
	require.NoError(t, err)
	assert.Equal(t, "mcp:uvx mcp-server-time", ts.Name())

	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "get_current_time", tools[0].Name())
	assert.Equal(t, "Current time in a timezone", tools[0].Description())
	assert.Contains(t, tools[1].Description(), "convert_time")

	schema := tools[0].Schema()
	assert.Equal(t, "object", schema["type"])
	assert.Contains(t, schema["properties"], "timezone")
	assert.Equal(t, []any{"timezone"}, schema["required"])

	require.NoError(t, ts.Close())
	require.NoError(t, ts.Close())
	assert.Equal(t, 1, fc.closed)

	_, err = ts.Tools(context.Background())
	assert.Error(t, err)
}

func TestOpen_InitializeFailureClosesClient(t *testing.T) {
	fc := &fakeClient{initErr: errors.New("protocol mismatch")}

	_, err := open(context.Background(), "mcp:http://localhost:1/mcp", fc, testOptions())
	require.ErrorContains(t, err, "protocol mismatch")
	assert.Equal(t, 1, fc.closed)
}

func TestCall(t *testing.T) {
	fc := &fakeClient{tools: []mcp.Tool{mcp.NewTool("echo")}}
	ts, err := open(context.Background(), "echo-server", fc, testOptions())
	require.NoError(t, err)
	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)
	echo := tools[0]

	t.Run("text result", func(t *testing.T) {
		fc.result = &mcp.CallToolResult{Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "hello"},
			mcp.TextContent{Type: "text", Text: "world"},
		}}
		out, err := echo.Call(context.Background(), map[string]any{"text": "hello world"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"result": "hello\nworld"}, out)

		last := fc.calls[len(fc.calls)-1]
		assert.Equal(t, "echo", last.Params.Name)
		assert.Equal(t, map[string]any{"text": "hello world"}, last.Params.Arguments)
	})

	t.Run("server reported error", func(t *testing.T) {
		fc.result = &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "bad input"}},
		}
		out, err := echo.Call(context.Background(), nil)
		require.NoError(t, err)
		assert.True(t, tool.IsErrorResult(out))
	})

	t.Run("transport failure", func(t *testing.T) {
		fc.result, fc.callErr = nil, errors.New("broken pipe")
		_, err := echo.Call(context.Background(), nil)
		assert.ErrorContains(t, err, "broken pipe")
	})
}

func TestConnect_UnsupportedTransport(t *testing.T) {
	_, err := Connect(context.Background(), tool.Locator{Raw: "mcp:?", Transport: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unsupported transport")
}
