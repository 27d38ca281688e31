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
	"fmt"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type instruments struct {
	askDuration metric.Float64Histogram
	asks        metric.Int64Counter
	askErrors   metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmCalls        metric.Int64Counter
	llmErrors       metric.Int64Counter
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmCost         metric.Float64Counter

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter
}

func newMeterProvider(cfg MetricsConfig, reg *promclient.Registry) (*sdkmetric.MeterProvider, *instruments, error) {
	exporter, err := prometheus.New(
		prometheus.WithRegisterer(reg),
		prometheus.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	inst, err := newInstruments(mp.Meter(DefaultServiceName))
	if err != nil {
		return nil, nil, err
	}
	return mp, inst, nil
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		inst instruments
		err  error
	)

	histogram := func(name, desc string) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		if err != nil {
			err = fmt.Errorf("failed to create %s histogram: %w", name, err)
		}
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			err = fmt.Errorf("failed to create %s counter: %w", name, err)
		}
		return c
	}

	inst.askDuration = histogram("ask_duration", "Conversation turn duration")
	inst.asks = counter("asks", "Total conversation turns")
	inst.askErrors = counter("ask_errors", "Total failed conversation turns")
	inst.llmDuration = histogram("llm_request_duration", "LLM request duration")
	inst.llmCalls = counter("llm_calls", "Total LLM requests")
	inst.llmErrors = counter("llm_errors", "Total failed LLM requests")
	inst.llmInputTokens = counter("llm_tokens_input", "Total input tokens sent to LLMs")
	inst.llmOutputTokens = counter("llm_tokens_output", "Total output tokens received from LLMs")
	inst.toolDuration = histogram("tool_execution_duration", "Tool execution duration")
	inst.toolCalls = counter("tool_calls", "Total tool calls")
	inst.toolErrors = counter("tool_errors", "Total failed tool calls")
	if err != nil {
		return nil, err
	}

	inst.llmCost, err = meter.Float64Counter("llm_cost", metric.WithDescription("Estimated LLM spend in USD"))
	if err != nil {
		return nil, fmt.Errorf("failed to create llm_cost counter: %w", err)
	}
	return &inst, nil
}
