// Package telemetry wires OpenTelemetry tracing and Prometheus metrics for
// the Hive server, grounded on the teacher's internal/telemetry package and
// internal/metrics package respectively.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "datasektionen.se/hive"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initializes the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (the global no-op
// provider is left in place). Returns a shutdown function to call on exit.
func InitTraceProvider(ctx context.Context, endpoint, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			attribute.String("service.name", "hive"),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// StartEvaluationSpan starts the span wrapping one permission evaluation —
// the hot path worth tracing separately from the generic HTTP span (§4.3).
func StartEvaluationSpan(ctx context.Context, permID, systemID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "hive.evaluate",
		trace.WithAttributes(
			attribute.String("hive.perm_id", permID),
			attribute.String("hive.system_id", systemID),
		))
}

// StartSyncSpan starts the span wrapping one integration sync task run
// (§4.6).
func StartSyncSpan(ctx context.Context, integrationID, taskID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "hive.integration.sync",
		trace.WithAttributes(
			attribute.String("hive.integration_id", integrationID),
			attribute.String("hive.task_id", taskID),
		))
}
