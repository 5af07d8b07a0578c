package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// KernelMetrics holds the instruments recorded by the orchestration
// kernel. All recording methods are nil-safe so the kernel can run with
// telemetry disabled.
type KernelMetrics struct {
	passes        metric.Int64Counter
	phaseDuration metric.Float64Histogram
	failures      metric.Int64Counter
	externalCalls metric.Int64Counter
}

// NewKernelMetrics creates the kernel instruments on the given meter.
func NewKernelMetrics(meter metric.Meter) (*KernelMetrics, error) {
	passes, err := meter.Int64Counter("quadra.kernel.passes",
		metric.WithDescription("Completed passes through the phase cycle"))
	if err != nil {
		return nil, fmt.Errorf("creating pass counter: %w", err)
	}
	phaseDuration, err := meter.Float64Histogram("quadra.kernel.phase.duration",
		metric.WithDescription("Phase execution duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating phase duration histogram: %w", err)
	}
	failures, err := meter.Int64Counter("quadra.kernel.failures",
		metric.WithDescription("Structured failures by code"))
	if err != nil {
		return nil, fmt.Errorf("creating failure counter: %w", err)
	}
	externalCalls, err := meter.Int64Counter("quadra.kernel.external_calls",
		metric.WithDescription("External reasoning and tool calls"))
	if err != nil {
		return nil, fmt.Errorf("creating external call counter: %w", err)
	}
	return &KernelMetrics{
		passes:        passes,
		phaseDuration: phaseDuration,
		failures:      failures,
		externalCalls: externalCalls,
	}, nil
}

// RecordPass counts one completed pass.
func (m *KernelMetrics) RecordPass(ctx context.Context) {
	if m == nil {
		return
	}
	m.passes.Add(ctx, 1)
}

// RecordPhase records a phase's duration in seconds.
func (m *KernelMetrics) RecordPhase(ctx context.Context, phase string, seconds float64) {
	if m == nil {
		return
	}
	m.phaseDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordFailure counts one structured failure by error code.
func (m *KernelMetrics) RecordFailure(ctx context.Context, code string) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("code", code)))
}

// RecordExternalCall counts one external call by component.
func (m *KernelMetrics) RecordExternalCall(ctx context.Context, component string) {
	if m == nil {
		return
	}
	m.externalCalls.Add(ctx, 1,
		metric.WithAttributes(attribute.String("component", component)))
}
