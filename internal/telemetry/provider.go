package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ErrInvalidSampleRate возвращается, если доля семплирования вне [0, 1].
var ErrInvalidSampleRate = errors.New("sample rate must be between 0.0 and 1.0")

// Config описывает экспорт трасс.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// OTLPEndpoint — host:port OTLP/gRPC коллектора; пустое значение выключает трассировку.
	OTLPEndpoint string
	SampleRate   float64
}

// Option настраивает Setup.
type Option func(*setupOptions)

type setupOptions struct {
	exporter sdktrace.SpanExporter
}

// WithExporter подменяет OTLP-экспортёр (в тестах tracetest.InMemoryExporter).
func WithExporter(exporter sdktrace.SpanExporter) Option {
	return func(o *setupOptions) {
		o.exporter = exporter
	}
}

// ShutdownFunc сбрасывает буферы и останавливает провайдер.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Setup регистрирует глобальный TracerProvider. Без эндпоинта и экспортёра
// остаётся no-op провайдер по умолчанию.
func Setup(ctx context.Context, cfg Config, opts ...Option) (ShutdownFunc, error) {
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		return nil, ErrInvalidSampleRate
	}

	options := &setupOptions{}
	for _, opt := range opts {
		opt(options)
	}

	exporter := options.exporter
	if exporter == nil {
		if cfg.OTLPEndpoint == "" {
			return noopShutdown, nil
		}
		var err error
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		// Конфликт schema URL не критичен: работаем с атрибутами без схемы.
		res = resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
