package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Tracing holds the tracer provider in use and a flush hook.
type Tracing struct {
	Provider trace.TracerProvider

	// Shutdown flushes pending spans. Must be called before exit.
	Shutdown func(ctx context.Context) error
}

// Tracer returns a named tracer from the provider.
func (t Tracing) Tracer(name string) trace.Tracer {
	return t.Provider.Tracer(name)
}

// InitTracing installs a global tracer provider. When enabled, finished
// spans are written to w as JSON; otherwise a no-op provider is used.
func InitTracing(enabled bool, w io.Writer) (Tracing, error) {
	if !enabled {
		tp := nooptrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return Tracing{Provider: tp, Shutdown: func(context.Context) error { return nil }}, nil
	}

	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return Tracing{}, fmt.Errorf("create span exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)

	return Tracing{Provider: tp, Shutdown: tp.Shutdown}, nil
}
