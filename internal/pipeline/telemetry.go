package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-sign/internal/pipeline"

type metrics struct {
	dispatches metric.Int64Counter
	failures   metric.Int64Counter
	stale      metric.Int64Counter
	latency    metric.Float64Histogram
}

func newMetrics(logger *slog.Logger) *metrics {
	meter := otel.Meter(instrumentationName)
	m := &metrics{}
	var err error
	if m.dispatches, err = meter.Int64Counter("loqa.sign.dispatches", metric.WithDescription("Recognition requests started")); err != nil {
		logger.Warn("failed to create dispatch counter", slogError(err))
	}
	if m.failures, err = meter.Int64Counter("loqa.sign.dispatch_failures", metric.WithDescription("Recognition requests that failed or timed out")); err != nil {
		logger.Warn("failed to create failure counter", slogError(err))
	}
	if m.stale, err = meter.Int64Counter("loqa.sign.stale_results", metric.WithDescription("Recognition results discarded after a reset")); err != nil {
		logger.Warn("failed to create stale counter", slogError(err))
	}
	if m.latency, err = meter.Float64Histogram("loqa.sign.recognition_latency", metric.WithUnit("ms"), metric.WithDescription("Recognition round trip")); err != nil {
		logger.Warn("failed to create latency histogram", slogError(err))
	}
	return m
}

func (m *metrics) dispatched(ctx context.Context) {
	if m.dispatches != nil {
		m.dispatches.Add(ctx, 1)
	}
}

func (m *metrics) settled(ctx context.Context, latency time.Duration, failed, stale bool) {
	if m.latency != nil {
		m.latency.Record(ctx, float64(latency.Microseconds())/1000)
	}
	if failed && m.failures != nil {
		m.failures.Add(ctx, 1)
	}
	if stale && m.stale != nil {
		m.stale.Add(ctx, 1)
	}
}

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
