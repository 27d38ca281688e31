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

package runtime

import (
	"log/slog"
	"time"

	"github.com/kadirpekel/mchat/pkg/agent"
	"github.com/kadirpekel/mchat/pkg/model/provider"
	"github.com/kadirpekel/mchat/pkg/observability"
	"github.com/kadirpekel/mchat/pkg/tool"
)

// Option configures a Runtime.
type Option func(*options)

type options struct {
	agents     map[string]any
	agentPaths []string
	tools      []tool.Tool
	logger     *slog.Logger
	recorder   observability.Recorder
	factory    provider.Factory
	connector  tool.Connector
	callback   agent.Callback
	clock      func() time.Time
	estimator  agent.EstimatorFunc
}

// WithAgents supplies agent and team definitions directly, as decoded
// JSON or YAML. It cannot be combined with WithAgentPaths.
func WithAgents(defs map[string]any) Option {
	return func(o *options) { o.agents = defs }
}

// WithAgentPaths adds definition sources: file paths, JSON strings or
// YAML strings. Later sources may not redefine earlier names.
func WithAgentPaths(paths ...string) Option {
	return func(o *options) { o.agentPaths = append(o.agentPaths, paths...) }
}

// WithTools registers local tools next to the built-in ones.
func WithTools(tools ...tool.Tool) Option {
	return func(o *options) { o.tools = append(o.tools, tools...) }
}

// WithLogger sets the logger of the runtime and everything it creates.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets where spans and metrics are recorded.
func WithRecorder(r observability.Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithClientFactory replaces the function creating model clients.
func WithClientFactory(f provider.Factory) Option {
	return func(o *options) {
		if f != nil {
			o.factory = f
		}
	}
}

// WithConnector replaces the connector used for "mcp:" tool references.
func WithConnector(c tool.Connector) Option {
	return func(o *options) {
		if c != nil {
			o.connector = c
		}
	}
}

// WithCallback sets the callback receiving the events of every
// conversation the runtime starts.
func WithCallback(cb agent.Callback) Option {
	return func(o *options) { o.callback = cb }
}

// WithClock sets the clock of the date and time prompt variables and the
// built-in tools.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithEstimator sets the token estimator of token-limited contexts.
func WithEstimator(fn agent.EstimatorFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.estimator = fn
		}
	}
}
