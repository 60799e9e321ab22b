// Package obs wires OpenTelemetry tracing and metrics for the fleet
// orchestrator: agent starts, approval decision latency, review-loop
// iterations, and pull request creation, plus spans around PTY spawn
// and git push — the concerns CodeForge's own internal/adapter/otel
// package left as a "Phase 2" stub (InitTracer there just logs and
// returns a no-op shutdown func; metrics.go/spans.go instrument a
// different domain, agent runs and tool calls, not a PTY-attached
// agent fleet).
package obs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes and shuts down every provider InitProvider set up.
type ShutdownFunc func(ctx context.Context) error

// InitProvider configures the global trace and meter providers against
// an OTLP/gRPC collector at endpoint. An empty endpoint leaves the
// global no-op providers in place, so a deployment with no collector
// configured pays no cost and gets no broken exporter retry loop —
// the same "optional, degrades to inert" shape as the audit trail's
// Postgres wiring.
func InitProvider(ctx context.Context, serviceName, endpoint string) (ShutdownFunc, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("obs: build resource: %w", err)
	}

	traceExp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("obs: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("obs: metric exporter: %w", err)
	}
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExp, metric.WithInterval(15*time.Second))),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("obs: shutdown tracer provider: %w", err)
		}
		if err := mp.Shutdown(ctx); err != nil {
			return fmt.Errorf("obs: shutdown meter provider: %w", err)
		}
		return nil
	}, nil
}
