package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memkit/memkit/backend"
	"github.com/memkit/memkit/graph"
	"github.com/memkit/memkit/memory"
)

type stubProvider struct {
	vectors map[string][]float32
	dims    int
}

func (p *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := p.vectors[text]; ok {
		return v, nil
	}
	return make([]float32, p.dims), nil
}

func (p *stubProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *stubProvider) Dimensions() int { return p.dims }

func putEmbedded(t *testing.T, be backend.Backend, id string, vec []float32, ac memory.AccessContext) *memory.Memory {
	t.Helper()
	m, err := memory.NewMemory(memory.MemoryAttrs{ID: id, Content: id, AgentID: ac.AgentID}, 0, time.Now().UTC())
	require.NoError(t, err)
	m.Embedding = vec
	require.NoError(t, be.PutMemory(context.Background(), m, ac))
	return m
}

// TestRecallStoreRoundtrip covers S1: a query embedding equal to a stored
// memory's embedding returns exactly that memory with score 1.0.
func TestRecallStoreRoundtrip(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	ac := memory.NewAccessContext("a1")
	putEmbedded(t, be, "m1", []float32{1, 0, 0}, ac)

	provider := &stubProvider{dims: 3, vectors: map[string][]float32{
		"Paris is the capital of France": {1, 0, 0},
		"What is the capital of France?": {1, 0, 0},
	}}
	svc := NewService(be, provider, nil, nil)

	res, err := svc.Recall(context.Background(), "What is the capital of France?", ac, Options{Limit: 1, Threshold: 0.3})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "m1", res.Hits[0].Memory.ID)
	assert.InDelta(t, 1.0, res.Hits[0].Score, 1e-9)
}

func TestRecallWithNoAdapterReturnsEmptyNotError(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	ac := memory.NewAccessContext("a1")
	svc := NewService(be, nil, nil, nil)

	res, err := svc.Recall(context.Background(), "anything", ac, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

// TestRecallNeverReturnsInaccessibleMemory covers P5.
func TestRecallNeverReturnsInaccessibleMemory(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	owner := memory.NewAccessContext("a1")
	putEmbedded(t, be, "m1", []float32{1, 0, 0}, owner)

	provider := &stubProvider{dims: 3}
	svc := NewService(be, provider, nil, nil)

	other := memory.NewAccessContext("a2")
	res, err := svc.Recall(context.Background(), "q", other, Options{Threshold: 0})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestRecallExpandsGraphAndRemerges(t *testing.T) {
	be := backend.NewMemoryBackend(nil)
	ac := memory.NewAccessContext("a1")
	putEmbedded(t, be, "a", []float32{1, 0, 0}, ac)
	putEmbedded(t, be, "b", nil, ac)

	gsvc := graph.NewService(be, nil)
	weight := 0.8
	_, err := gsvc.Link(context.Background(), "a", "b", memory.EdgeRelatesTo, graph.LinkOptions{Weight: &weight}, ac)
	require.NoError(t, err)

	provider := &stubProvider{dims: 3, vectors: map[string][]float32{"q": {1, 0, 0}}}
	svc := NewService(be, provider, gsvc, nil)

	res, err := svc.Recall(context.Background(), "q", ac, Options{Threshold: 0.3, ExpandGraph: true, GraphDepth: 1})
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, h := range res.Hits {
		ids[h.Memory.ID] = true
	}
	assert.True(t, ids["a"])
	assert.True(t, ids["b"])
}
