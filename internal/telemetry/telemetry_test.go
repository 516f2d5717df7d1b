package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/memkit/memkit/config"
)

// saveAndRestoreGlobalTracerProvider snapshots the current global OTel
// tracer provider and restores it via t.Cleanup.
func saveAndRestoreGlobalTracerProvider(t *testing.T) {
	t.Helper()
	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
}

func TestInitDisabledIsNoop(t *testing.T) {
	saveAndRestoreGlobalTracerProvider(t)
	logger := zaptest.NewLogger(t)

	p, err := Init(context.Background(), config.TelemetryConfig{Enabled: false}, nil, logger)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Nil(t, p.tp)
}

func TestInitEnabledWithoutExporterStillRecordsSpans(t *testing.T) {
	saveAndRestoreGlobalTracerProvider(t)
	logger := zaptest.NewLogger(t)

	cfg := config.TelemetryConfig{Enabled: true, ServiceName: "memkit-test", SampleRate: 1.0}
	p, err := Init(context.Background(), cfg, nil, logger)
	require.NoError(t, err)
	require.NotNil(t, p.tp)

	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, tpIsSDK)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
}

func TestInitEnabledWithExporterRecordsSpan(t *testing.T) {
	saveAndRestoreGlobalTracerProvider(t)
	logger := zaptest.NewLogger(t)
	exporter := tracetest.NewInMemoryExporter()

	cfg := config.TelemetryConfig{Enabled: true, ServiceName: "memkit-test", SampleRate: 1.0}
	p, err := Init(context.Background(), cfg, exporter, logger)
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "unit-test-span")
	span.End()
	require.NoError(t, p.tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "unit-test-span", spans[0].Name)
}

func TestProvidersShutdownNilIsSafe(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestProvidersTracerFallsBackToNoop(t *testing.T) {
	var p *Providers
	tracer := p.Tracer("fallback")
	assert.NotNil(t, tracer)
}

func TestBuildVersionFallsBackToDev(t *testing.T) {
	assert.Equal(t, "dev", buildVersion())
}
