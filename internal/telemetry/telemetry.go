// Package telemetry wraps OpenTelemetry tracer provider setup for spans
// around the write and recall paths. When telemetry is disabled, Tracer
// hands out the global (by default noop) tracer; when it is enabled but no
// span exporter is supplied, spans are sampled and recorded in-process
// without being shipped anywhere — callers don't need to branch on whether
// tracing is wired up.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/memkit/memkit/config"
)

// Providers holds the OTel SDK TracerProvider. When telemetry is disabled,
// tp is nil and Shutdown/Tracer are no-ops/noop tracers.
type Providers struct {
	tp *sdktrace.TracerProvider
}

// Init builds the tracer provider from cfg. exporter may be nil, in which
// case spans are created and sampled but never exported — useful for local
// runs and tests that only want the span/context-propagation behavior.
func Init(ctx context.Context, cfg config.TelemetryConfig, exporter sdktrace.SpanExporter, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("telemetry disabled, using noop tracer provider")
		return &Providers{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(buildVersion()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		zap.String("service_name", cfg.ServiceName),
		zap.Float64("sample_rate", cfg.SampleRate),
		zap.Bool("exporter_configured", exporter != nil),
	)

	return &Providers{tp: tp}, nil
}

// Tracer returns a named tracer, or the global noop tracer if telemetry was
// never initialized.
func (p *Providers) Tracer(name string) trace.Tracer {
	if p == nil || p.tp == nil {
		return otel.Tracer(name)
	}
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans and closes the exporter. Safe on a noop
// Providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return errors.Join(fmt.Errorf("shutdown tracer provider: %w", err))
	}
	return nil
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
