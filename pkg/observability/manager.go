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

package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Manager owns the tracer and meter providers built from Config and
// implements Recorder on top of them.
type Manager struct {
	config         Config
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	meterProvider  *sdkmetric.MeterProvider
	registry       *promclient.Registry
	inst           *instruments
}

var _ Recorder = (*Manager)(nil)

// NewManager initializes tracing and metrics. Disabled parts fall back to no-ops.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tp, err := newTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		config:         cfg,
		tracerProvider: tp,
		tracer:         tp.Tracer(cfg.Tracing.ServiceName),
	}

	if cfg.Metrics.Enabled {
		m.registry = promclient.NewRegistry()
		m.meterProvider, m.inst, err = newMeterProvider(cfg.Metrics, m.registry)
		if err != nil {
			return nil, errors.Join(err, m.Shutdown(ctx))
		}
	}
	return m, nil
}

// MetricsHandler serves the Prometheus exposition format, or nil when
// metrics are disabled.
func (m *Manager) MetricsHandler() http.Handler {
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MetricsPath is the configured metrics endpoint path.
func (m *Manager) MetricsPath() string { return m.config.Metrics.Endpoint }

// Gatherer exposes the underlying registry, or nil when metrics are disabled.
func (m *Manager) Gatherer() promclient.Gatherer {
	if m.registry == nil {
		return nil
	}
	return m.registry
}

func (m *Manager) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (m *Manager) RecordLLMCall(ctx context.Context, call LLMCall) {
	if m.inst == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", call.Model))
	m.inst.llmCalls.Add(ctx, 1, attrs)
	m.inst.llmDuration.Record(ctx, call.Duration.Seconds(), attrs)
	if call.Err != nil {
		m.inst.llmErrors.Add(ctx, 1, attrs)
		return
	}
	m.inst.llmInputTokens.Add(ctx, int64(call.InputTokens), attrs)
	m.inst.llmOutputTokens.Add(ctx, int64(call.OutputTokens), attrs)
	if call.Cost > 0 {
		m.inst.llmCost.Add(ctx, call.Cost, attrs)
	}
}

func (m *Manager) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	if m.inst == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.inst.toolCalls.Add(ctx, 1, attrs)
	m.inst.toolDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.inst.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *Manager) RecordAsk(ctx context.Context, agent string, duration time.Duration, err error) {
	if m.inst == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("agent", agent))
	m.inst.asks.Add(ctx, 1, attrs)
	m.inst.askDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.inst.askErrors.Add(ctx, 1, attrs)
	}
}

// Shutdown flushes and stops the providers.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	if spt, ok := m.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		errs = append(errs, spt.Shutdown(ctx))
	}
	if m.meterProvider != nil {
		errs = append(errs, m.meterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
