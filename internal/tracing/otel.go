// Package tracing wires the runtime's OTel spans (compaction passes) to an
// OTLP/HTTP collector. With no OTEL_EXPORTER_OTLP_ENDPOINT
// configured, every tracer is a no-op.
package tracing

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	setupOnce sync.Once
	provider  trace.TracerProvider = noop.NewTracerProvider()
	flushable *sdktrace.TracerProvider
)

// Tracer returns a named tracer, initializing the provider on first use.
func Tracer(name string) trace.Tracer {
	setupOnce.Do(setup)
	return provider.Tracer(name)
}

// Shutdown flushes buffered spans. Safe to call when tracing never
// initialized.
func Shutdown(ctx context.Context) error {
	if flushable == nil {
		return nil
	}
	return flushable.Shutdown(ctx)
}

func setup() {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")

	ctx := context.Background()
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName("loaf")))
	if err != nil {
		res = resource.Default()
	}

	flushable = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	provider = flushable
	otel.SetTracerProvider(provider)
}
