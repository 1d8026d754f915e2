// Package observability configures OpenTelemetry tracing for the
// circulation server. Spans come from otelgin (HTTP), the GORM tracing
// plugin (SQL) and the services themselves (borrow, return, reserve, jobs).
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-circulation-backend/internal/config"
)

// ServiceNamespace groups every library service in the tracing backend.
const ServiceNamespace = "library"

// Shutdown flushes pending spans and stops the exporter.
type Shutdown func(context.Context) error

type setup struct {
	exporter sdktrace.SpanExporter
	syncer   bool
}

// Option adjusts SetupOTel.
type Option func(*setup)

// WithExporter replaces the OTLP exporter. With sync set, spans are exported
// as they end instead of in batches.
func WithExporter(exp sdktrace.SpanExporter, sync bool) Option {
	return func(s *setup) {
		s.exporter = exp
		s.syncer = sync
	}
}

// SetupOTel installs a global tracer provider and W3C propagators. When
// tracing is disabled nothing is installed and the returned Shutdown is a
// no-op. Globals are only touched once every part was built.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, version string, opts ...Option) (Shutdown, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	var s setup
	for _, o := range opts {
		o(&s)
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
			semconv.ServiceNamespace(ServiceNamespace),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	exp := s.exporter
	if exp == nil {
		exp, err = otlpExporter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
	}

	processor := sdktrace.WithBatcher(exp)
	if s.syncer {
		processor = sdktrace.WithSyncer(exp)
	}
	tp := sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// otlpExporter dials the collector lazily; a missing collector does not fail
// start-up, spans are dropped until it appears.
func otlpExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return otlptracegrpc.New(ctx, opts...)
}
