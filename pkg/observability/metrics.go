// Copyright 2025 The Timus Authors
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

// Package observability wires OpenTelemetry metrics and tracing for
// the substrate. Metrics export through the Prometheus reader and are
// scraped at /metrics; tracing ships OTLP over gRPC when enabled.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records the substrate's operational counters.
type Metrics struct {
	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter

	delegations      metric.Int64Counter
	delegationErrors metric.Int64Counter

	chatDuration metric.Float64Histogram
	chatTurns    metric.Int64Counter
	chatErrors   metric.Int64Counter

	sseSubscribers metric.Int64UpDownCounter
}

// InitMetrics builds the meter provider with a Prometheus reader and
// creates the substrate's instruments.
func InitMetrics() (*Metrics, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("timus")

	m := &Metrics{}

	if m.toolDuration, err = meter.Float64Histogram(
		"timus_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter(
		"timus_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	); err != nil {
		return nil, err
	}
	if m.toolErrors, err = meter.Int64Counter(
		"timus_tool_errors_total",
		metric.WithDescription("Total tool errors"),
	); err != nil {
		return nil, err
	}
	if m.delegations, err = meter.Int64Counter(
		"timus_delegations_total",
		metric.WithDescription("Total agent delegations"),
	); err != nil {
		return nil, err
	}
	if m.delegationErrors, err = meter.Int64Counter(
		"timus_delegation_errors_total",
		metric.WithDescription("Total failed agent delegations"),
	); err != nil {
		return nil, err
	}
	if m.chatDuration, err = meter.Float64Histogram(
		"timus_chat_turn_duration_seconds",
		metric.WithDescription("Chat turn duration in seconds"),
	); err != nil {
		return nil, err
	}
	if m.chatTurns, err = meter.Int64Counter(
		"timus_chat_turns_total",
		metric.WithDescription("Total chat turns"),
	); err != nil {
		return nil, err
	}
	if m.chatErrors, err = meter.Int64Counter(
		"timus_chat_errors_total",
		metric.WithDescription("Total failed chat turns"),
	); err != nil {
		return nil, err
	}
	if m.sseSubscribers, err = meter.Int64UpDownCounter(
		"timus_sse_subscribers",
		metric.WithDescription("Currently connected SSE subscribers"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordToolExecution records one tool call.
func (m *Metrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCalls.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

// RecordDelegation records one delegation attempt.
func (m *Metrics) RecordDelegation(ctx context.Context, target string, failed bool) {
	if m == nil || m.delegations == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("target", target))
	m.delegations.Add(ctx, 1, attrs)
	if failed {
		m.delegationErrors.Add(ctx, 1, attrs)
	}
}

// RecordChatTurn records one chat turn.
func (m *Metrics) RecordChatTurn(ctx context.Context, agent string, duration time.Duration, err error) {
	if m == nil || m.chatDuration == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("agent", agent))
	m.chatDuration.Record(ctx, duration.Seconds(), attrs)
	m.chatTurns.Add(ctx, 1, attrs)
	if err != nil {
		m.chatErrors.Add(ctx, 1, attrs)
	}
}

// SubscriberDelta adjusts the SSE subscriber gauge.
func (m *Metrics) SubscriberDelta(ctx context.Context, delta int64) {
	if m == nil || m.sseSubscribers == nil {
		return
	}
	m.sseSubscribers.Add(ctx, delta)
}
