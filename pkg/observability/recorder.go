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

package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Recorder is the observability surface the orchestration core uses.
// Components receive it through their options; Noop is the default.
type Recorder interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

	RecordLLMCall(ctx context.Context, call LLMCall)
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error)
	RecordAsk(ctx context.Context, agent string, duration time.Duration, err error)
}

// LLMCall describes one completed model request.
type LLMCall struct {
	Model        string
	Duration     time.Duration
	InputTokens  int
	OutputTokens int
	Cost         float64
	Err          error
}

// Noop returns a Recorder that records nothing.
func Noop() Recorder { return noopRecorder{} }

type noopRecorder struct{}

var noopTracer = noop.NewTracerProvider().Tracer(DefaultServiceName)

func (noopRecorder) StartSpan(ctx context.Context, name string, _ ...attribute.KeyValue) (context.Context, trace.Span) {
	return noopTracer.Start(ctx, name)
}

func (noopRecorder) RecordLLMCall(context.Context, LLMCall)                         {}
func (noopRecorder) RecordToolCall(context.Context, string, time.Duration, error) {}
func (noopRecorder) RecordAsk(context.Context, string, time.Duration, error)      {}

// EndSpan records err on span (if any) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
