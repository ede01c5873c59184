// Package otel sets up the OpenTelemetry tracer provider used for trace/span
// IDs in logs and for spans around Kubernetes writes.
package otel

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/cloudoperators/greenhouse-mirror/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// EnvTraceSampleRatio holds the parent-based sampling ratio (0.0 - 1.0)
const EnvTraceSampleRatio = "TRACE_SAMPLE_RATIO"

// DefaultTraceSampleRatio samples 10% of root spans
const DefaultTraceSampleRatio = 0.1

// TracerName is the instrumentation scope of spans created by this module
const TracerName = "github.com/cloudoperators/greenhouse-mirror"

// GetTraceSampleRatio reads TRACE_SAMPLE_RATIO, falling back to the default
// (with a warning) when the value is missing or out of range.
func GetTraceSampleRatio(log logger.Logger, ctx context.Context) float64 {
	raw := os.Getenv(EnvTraceSampleRatio)
	if raw == "" {
		return DefaultTraceSampleRatio
	}
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		log.Warnf(ctx, "Invalid %s=%q, using default %.2f", EnvTraceSampleRatio, raw, DefaultTraceSampleRatio)
		return DefaultTraceSampleRatio
	}
	return ratio
}

// InitTracer installs a global TracerProvider and W3C trace-context propagator.
// Callers must Shutdown the returned provider.
func InitTracer(serviceName, serviceVersion string, sampleRatio float64) (*sdktrace.TracerProvider, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}

// Tracer returns the module tracer from the global provider
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// WithTraceFields copies the trace and span IDs of the span in ctx into the
// context log fields.
func WithTraceFields(ctx context.Context) context.Context {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ctx
	}
	return logger.WithLogFields(ctx, logger.LogFields{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	})
}
