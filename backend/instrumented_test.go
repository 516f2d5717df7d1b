package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memkit/memkit/internal/metrics"
	"github.com/memkit/memkit/memory"
)

func TestWithMetricsNilCollectorReturnsSameBackend(t *testing.T) {
	be := NewMemoryBackend(nil)
	wrapped := WithMetrics(be, "memory", nil)
	assert.Same(t, Backend(be), wrapped)
}

func TestWithMetricsRecordsBackendOpDuration(t *testing.T) {
	collector := metrics.NewCollector("backend_test", zap.NewNop())

	be := WithMetrics(NewMemoryBackend(nil), "memory", collector)
	ctx := context.Background()
	ac := memory.NewAccessContext("agent-1")

	m := mustMemory(t, "agent-1", memory.ScopePrivate, nil)
	require.NoError(t, be.PutMemory(ctx, m, ac))
	_, err := be.GetMemory(ctx, m.ID, ac)
	require.NoError(t, err)

	families, err := collector.Registry().Gather()
	require.NoError(t, err)

	var samples int
	for _, f := range families {
		if f.GetName() == "backend_test_backend_op_duration_seconds" {
			samples = len(f.GetMetric())
		}
	}
	assert.Equal(t, 2, samples)
}
