package batch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memkit/memkit/internal/metrics"
)

type fakeProvider struct {
	calls     atomic.Int64
	dims      int
	failNext  atomic.Bool
	embedFunc func([]string) ([][]float32, error)
}

func (p *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := p.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (p *fakeProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(1)
	if p.failNext.Load() {
		return nil, errors.New("provider failure")
	}
	if p.embedFunc != nil {
		return p.embedFunc(texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func (p *fakeProvider) Dimensions() int { return p.dims }

// TestBatcherCoalescesWithinTimeout covers P7: k <= batch_size callers
// within batch_timeout_ms produce exactly one EmbedMany call, and each
// caller gets the embedding at its own queue position.
func TestBatcherCoalescesWithinTimeout(t *testing.T) {
	provider := &fakeProvider{embedFunc: func(texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, s := range texts {
			out[i] = []float32{float32(len(s))}
		}
		return out, nil
	}}
	b := NewBatcher(provider, Config{BatchSize: 10, BatchTimeout: 50 * time.Millisecond}, nil)

	const n = 5
	results := make([][]float32, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vec, err := b.Request(context.Background(), strings.Repeat("x", i+1), Opts{})
			require.NoError(t, err)
			results[i] = vec
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), provider.calls.Load())
	for i, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, []float32{float32(i + 1)}, r)
	}
}

// TestBatcherFlushesOnSize covers the size-triggered flush path.
func TestBatcherFlushesOnSize(t *testing.T) {
	provider := &fakeProvider{}
	b := NewBatcher(provider, Config{BatchSize: 2, BatchTimeout: time.Hour}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Request(context.Background(), "x", Opts{})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), provider.calls.Load())
}

// TestBatcherStaleTimerIsIgnored covers P8: a timer from a prior,
// already-flushed batch must not spuriously flush an empty or differently
// populated queue.
func TestBatcherStaleTimerIsIgnored(t *testing.T) {
	provider := &fakeProvider{}
	b := NewBatcher(provider, Config{BatchSize: 1, BatchTimeout: 20 * time.Millisecond}, nil)

	_, err := b.Request(context.Background(), "first", Opts{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), provider.calls.Load())

	// With BatchSize 1 the request flushed on size and scheduled no timer;
	// waiting past BatchTimeout must not produce a second EmbedMany call.
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int64(1), provider.calls.Load())

	// A timer callback carrying an outdated nonce must not flush a queue
	// that a later batch has populated; the current nonce still flushes it.
	provider2 := &fakeProvider{}
	b2 := NewBatcher(provider2, Config{BatchSize: 2, BatchTimeout: time.Hour}, nil)
	b2.enqueue(&pendingEntry{text: "second", reply: make(chan entryResult, 1)})
	b2.mu.Lock()
	current := b2.nonce
	b2.mu.Unlock()

	b2.onTimerFired(current - 1)
	assert.Equal(t, int64(0), provider2.calls.Load())
	b2.onTimerFired(current)
	assert.Equal(t, int64(1), provider2.calls.Load())
}

func TestBatcherTotalFailureReachesAllCallers(t *testing.T) {
	provider := &fakeProvider{}
	provider.failNext.Store(true)
	b := NewBatcher(provider, Config{BatchSize: 3, BatchTimeout: 20 * time.Millisecond}, nil)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := b.Request(context.Background(), "x", Opts{})
			errs[i] = err
		}(i)
	}
	wg.Wait()
	for _, e := range errs {
		require.Error(t, e)
	}
}

func TestBatcherRecordsFlushMetrics(t *testing.T) {
	provider := &fakeProvider{}
	b := NewBatcher(provider, Config{BatchSize: 2, BatchTimeout: time.Hour}, nil)
	collector := metrics.NewCollector("batch_test", zap.NewNop())
	b.SetMetrics(collector)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Request(context.Background(), "x", Opts{})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Greater(t, countMetricSamples(t, collector, "batch_test_batch_flushes_total"), 0)
}

// countMetricSamples gathers collector's private registry and counts the
// samples exposed under metricName.
func countMetricSamples(t *testing.T, collector *metrics.Collector, metricName string) int {
	t.Helper()
	families, err := collector.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == metricName {
			return len(f.GetMetric())
		}
	}
	return 0
}
