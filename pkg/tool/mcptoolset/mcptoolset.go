// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mcptoolset connects to MCP (Model Context Protocol) tool servers
// and exposes their tools as tool.Tool values.
//
// Transport Support:
//   - stdio: the server is launched as a subprocess
//   - streamable-http: "mcp:http(s)://..." locators
//   - sse: "mcp:sse+http(s)://..." locators
package mcptoolset

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/mchat"
	"github.com/kadirpekel/mchat/pkg/tool"
)

// DefaultCallTimeout bounds a single tool invocation.
const DefaultCallTimeout = 5 * time.Minute

// mcpClient is the subset of the mcp-go client the toolset uses.
type mcpClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Option configures connections made by a Connector.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	callTimeout time.Duration
	env         []string
}

// WithLogger sets the logger used by connected toolsets.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// WithEnv sets the environment of stdio servers, as KEY=VALUE pairs.
// Defaults to the current process environment.
func WithEnv(env []string) Option {
	return func(o *options) { o.env = env }
}

func buildOptions(opts []Option) options {
	o := options{
		logger:      slog.Default(),
		callTimeout: DefaultCallTimeout,
		env:         os.Environ(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewConnector returns a tool.Connector that opens MCP sessions.
func NewConnector(opts ...Option) tool.Connector {
	o := buildOptions(opts)
	return func(ctx context.Context, loc tool.Locator) (tool.Toolset, error) {
		c, err := dial(ctx, loc, o)
		if err != nil {
			return nil, err
		}
		return open(ctx, loc.Raw, c, o)
	}
}

// Connect opens a session with the server loc addresses.
func Connect(ctx context.Context, loc tool.Locator, opts ...Option) (tool.Toolset, error) {
	return NewConnector(opts...)(ctx, loc)
}

func dial(ctx context.Context, loc tool.Locator, o options) (mcpClient, error) {
	switch loc.Transport {
	case tool.TransportStdio:
		// The stdio client starts its subprocess on creation.
		c, err := client.NewStdioMCPClient(loc.Command, o.env, loc.Args...)
		if err != nil {
			return nil, fmt.Errorf("start %s: %w", loc.Command, err)
		}
		return c, nil

	case tool.TransportStreamableHTTP:
		t, err := transport.NewStreamableHTTP(loc.URL)
		if err != nil {
			return nil, fmt.Errorf("create http transport: %w", err)
		}
		c := client.NewClient(t)
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
		return c, nil

	case tool.TransportSSE:
		c, err := client.NewSSEMCPClient(loc.URL)
		if err != nil {
			return nil, fmt.Errorf("create sse client: %w", err)
		}
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("start sse client: %w", err)
		}
		return c, nil

	default:
		return nil, fmt.Errorf("unsupported transport %q", loc.Transport)
	}
}

// Toolset is a live session with one MCP server.
type Toolset struct {
	name        string
	client      mcpClient
	logger      *slog.Logger
	callTimeout time.Duration

	mu     sync.Mutex
	tools  []tool.Tool
	closed bool
}

// open performs the MCP handshake and lists the server's tools.
func open(ctx context.Context, name string, c mcpClient, o options) (*Toolset, error) {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "mchat",
		Version: mchat.Version,
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	ts := &Toolset{
		name:        name,
		client:      c,
		logger:      o.logger,
		callTimeout: o.callTimeout,
	}
	if _, err := ts.refresh(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return ts, nil
}

// Name returns the locator the toolset was opened with.
func (t *Toolset) Name() string { return t.name }

// Tools returns the tools listed at connection time.
func (t *Toolset) Tools(ctx context.Context) ([]tool.Tool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("toolset %s is closed", t.name)
	}
	return t.tools, nil
}

// Refresh lists the server's tools again.
func (t *Toolset) Refresh(ctx context.Context) ([]tool.Tool, error) {
	return t.refresh(ctx)
}

func (t *Toolset) refresh(ctx context.Context) ([]tool.Tool, error) {
	resp, err := t.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	tools := make([]tool.Tool, 0, len(resp.Tools))
	for _, mt := range resp.Tools {
		tools = append(tools, &mcpTool{
			toolset: t,
			name:    mt.Name,
			desc:    mt.Description,
			schema:  convertSchema(mt),
		})
	}

	t.mu.Lock()
	t.tools = tools
	t.mu.Unlock()

	t.logger.Info("Connected to MCP server", "server", t.name, "tools", len(tools))
	return tools, nil
}

// Close ends the session. Safe to call more than once.
func (t *Toolset) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.client.Close()
}

type mcpTool struct {
	toolset *Toolset
	name    string
	desc    string
	schema  map[string]any
}

func (m *mcpTool) Name() string { return m.name }

func (m *mcpTool) Description() string {
	if m.desc == "" {
		return fmt.Sprintf("MCP tool %q from %s", m.name, m.toolset.name)
	}
	return m.desc
}

func (m *mcpTool) Schema() map[string]any { return m.schema }

// Call invokes the tool on the server. Results flagged as errors by the
// server are returned as tool.ErrorResult so the model can react.
func (m *mcpTool) Call(ctx context.Context, args map[string]any) (map[string]any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = m.name
	req.Params.Arguments = args

	callCtx, cancel := context.WithTimeout(ctx, m.toolset.callTimeout)
	defer cancel()

	m.toolset.logger.Debug("Calling MCP tool", "server", m.toolset.name, "tool", m.name)
	result, err := m.toolset.client.CallTool(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp tool %s: %w", m.name, err)
	}

	content := extractContent(result)
	if result.IsError {
		return tool.ErrorResult(content), nil
	}
	return map[string]any{"result": content}, nil
}

// extractContent joins text parts; other content is rendered as JSON.
func extractContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

func convertSchema(t mcp.Tool) map[string]any {
	var data []byte
	if len(t.RawInputSchema) > 0 {
		data = t.RawInputSchema
	} else {
		var err error
		if data, err = json.Marshal(t.InputSchema); err != nil {
			return map[string]any{"type": "object"}
		}
	}

	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil || schema == nil {
		return map[string]any{"type": "object"}
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return schema
}

var (
	_ tool.Toolset = (*Toolset)(nil)
	_ tool.Tool    = (*mcpTool)(nil)
	_ mcpClient    = (*client.Client)(nil)
)
