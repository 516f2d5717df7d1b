package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/memkit/memkit/internal/metrics"
)

// instrumentedProvider wraps a Provider and reports call latency and
// outcome through a Collector, keeping the embedding path itself free of
// any metrics awareness (spec §9's "counters for … embeddings computed").
type instrumentedProvider struct {
	Provider
	providerName string
	model        string
	metrics      *metrics.Collector
}

// WithMetrics wraps p so every Embed/EmbedMany call is recorded against m
// under providerName/model labels. A nil Collector returns p unchanged.
func WithMetrics(p Provider, providerName, model string, m *metrics.Collector) Provider {
	if m == nil {
		return p
	}
	return &instrumentedProvider{Provider: p, providerName: providerName, model: model, metrics: m}
}

func (p *instrumentedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := p.Provider.Embed(ctx, text)
	p.record(start, err)
	return vec, err
}

func (p *instrumentedProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := p.Provider.EmbedMany(ctx, texts)
	p.record(start, err)
	return vecs, err
}

func (p *instrumentedProvider) record(start time.Time, err error) {
	kind := ""
	if err != nil {
		var adapterErr *Error
		if errors.As(err, &adapterErr) {
			kind = string(adapterErr.Kind)
		} else {
			kind = "unknown"
		}
	}
	p.metrics.RecordEmbedding(p.providerName, p.model, time.Since(start), kind)
}
