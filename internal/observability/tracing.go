// Package observability wires OpenTelemetry tracing to an OTLP HTTP
// collector. Tracing is opt-in: with no collector endpoint configured the
// proxy runs with a no-op shutdown and zero overhead.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/dcbridge/dcbridge/internal/log"
)

// Config for trace export.
type Config struct {
	// Endpoint is the OTLP HTTP collector, host:port. Empty disables
	// tracing entirely.
	Endpoint string
	// ServiceName tags every span. Defaults to "dcbridge".
	ServiceName string
	// Version tags spans with the build version.
	Version string

	Logger log.Logger
}

// Setup installs a global tracer provider exporting to the configured
// collector. The returned shutdown flushes pending spans; it is always
// safe to call.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if cfg.Endpoint == "" {
		return noop, nil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	service := cfg.ServiceName
	if service == "" {
		service = "dcbridge"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return noop, fmt.Errorf("creating trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return noop, fmt.Errorf("building trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("tracing enabled", "collector", cfg.Endpoint, "service", service)
	return provider.Shutdown, nil
}
