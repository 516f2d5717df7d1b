package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memkit/memkit/memory"
)

func mustMemory(t *testing.T, agentID string, scope memory.Scope, embedding []float32) *memory.Memory {
	t.Helper()
	conf := 0.9
	m, err := memory.NewMemory(memory.MemoryAttrs{
		AgentID:    agentID,
		Content:    "x",
		Scope:      scope,
		Confidence: &conf,
		Embedding:  embedding,
	}, 0, time.Now())
	require.NoError(t, err)
	return m
}

func TestMemoryBackendPutGetIdempotent(t *testing.T) {
	b := NewMemoryBackend(nil)
	ctx := context.Background()
	ac := memory.NewAccessContext("a1")
	m := mustMemory(t, "a1", memory.ScopePrivate, nil)

	require.NoError(t, b.PutMemory(ctx, m, ac))
	require.NoError(t, b.PutMemory(ctx, m, ac))

	got, err := b.GetMemory(ctx, m.ID, ac)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)
}

func TestMemoryBackendAccessDenied(t *testing.T) {
	b := NewMemoryBackend(nil)
	ctx := context.Background()
	owner := memory.NewAccessContext("a1")
	other := memory.NewAccessContext("a2")
	m := mustMemory(t, "a1", memory.ScopePrivate, nil)
	require.NoError(t, b.PutMemory(ctx, m, owner))

	_, err := b.GetMemory(ctx, m.ID, other)
	require.Error(t, err)
	assert.Equal(t, memory.ErrAccessDenied, memory.KindOf(err))
}

func TestMemoryBackendDeleteCascadesEdges(t *testing.T) {
	b := NewMemoryBackend(nil)
	ctx := context.Background()
	ac := memory.NewAccessContext("a1")
	m1 := mustMemory(t, "a1", memory.ScopePrivate, nil)
	m2 := mustMemory(t, "a1", memory.ScopePrivate, nil)
	require.NoError(t, b.PutMemory(ctx, m1, ac))
	require.NoError(t, b.PutMemory(ctx, m2, ac))

	e, err := memory.NewEdge(memory.EdgeAttrs{FromID: m1.ID, ToID: m2.ID}, memory.ScopePrivate, time.Now())
	require.NoError(t, err)
	_, err = b.PutEdge(ctx, e, ac)
	require.NoError(t, err)

	require.NoError(t, b.DeleteMemory(ctx, m1.ID, ac))

	neighbors, err := b.Neighbors(ctx, m2.ID, DirIncoming, ac, NeighborOptions{})
	require.NoError(t, err)
	assert.Empty(t, neighbors)
}

func TestMemoryBackendPutEdgeIdempotent(t *testing.T) {
	b := NewMemoryBackend(nil)
	ctx := context.Background()
	ac := memory.NewAccessContext("a1")
	m1 := mustMemory(t, "a1", memory.ScopePrivate, nil)
	m2 := mustMemory(t, "a1", memory.ScopePrivate, nil)
	require.NoError(t, b.PutMemory(ctx, m1, ac))
	require.NoError(t, b.PutMemory(ctx, m2, ac))

	w1 := 0.8
	e1, _ := memory.NewEdge(memory.EdgeAttrs{FromID: m1.ID, ToID: m2.ID, Type: memory.EdgeSupports, Weight: &w1}, memory.ScopePrivate, time.Now())
	first, err := b.PutEdge(ctx, e1, ac)
	require.NoError(t, err)

	w2 := 0.2
	e2, _ := memory.NewEdge(memory.EdgeAttrs{FromID: m1.ID, ToID: m2.ID, Type: memory.EdgeSupports, Weight: &w2}, memory.ScopePrivate, time.Now())
	second, err := b.PutEdge(ctx, e2, ac)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 0.8, second.Weight) // first writer wins

	neighbors, err := b.Neighbors(ctx, m1.ID, DirOutgoing, ac, NeighborOptions{})
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
}

func TestMemoryBackendSearchFiltersByAccessAndThreshold(t *testing.T) {
	b := NewMemoryBackend(nil)
	ctx := context.Background()
	ac := memory.NewAccessContext("a1")

	m1 := mustMemory(t, "a1", memory.ScopePrivate, []float32{1, 0, 0})
	m2 := mustMemory(t, "a2", memory.ScopePrivate, []float32{1, 0, 0})
	require.NoError(t, b.PutMemory(ctx, m1, ac))
	require.NoError(t, b.PutMemory(ctx, m2, ac))

	results, err := b.SearchMemories(ctx, []float32{1, 0, 0}, ac, SearchOptions{Limit: 5, Threshold: 0.3})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, m1.ID, results[0].Memory.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestMemoryBackendExpandDepthBound(t *testing.T) {
	b := NewMemoryBackend(nil)
	ctx := context.Background()
	ac := memory.AccessContext{AgentID: "a1", Role: memory.RoleSystem}

	a := mustMemory(t, "a1", memory.ScopePrivate, nil)
	bm := mustMemory(t, "a1", memory.ScopePrivate, nil)
	c := mustMemory(t, "a1", memory.ScopePrivate, nil)
	for _, m := range []*memory.Memory{a, bm, c} {
		require.NoError(t, b.PutMemory(ctx, m, ac))
	}

	w := 0.8
	eAB, _ := memory.NewEdge(memory.EdgeAttrs{FromID: a.ID, ToID: bm.ID, Weight: &w}, memory.ScopePrivate, time.Now())
	eBC, _ := memory.NewEdge(memory.EdgeAttrs{FromID: bm.ID, ToID: c.ID, Weight: &w}, memory.ScopePrivate, time.Now())
	_, err := b.PutEdge(ctx, eAB, ac)
	require.NoError(t, err)
	_, err = b.PutEdge(ctx, eBC, ac)
	require.NoError(t, err)

	res2, err := b.Expand(ctx, []string{a.ID}, ac, ExpandOptions{Depth: 2, MinWeight: 0.3})
	require.NoError(t, err)
	ids := memberIDs(res2.Memories)
	assert.ElementsMatch(t, []string{a.ID, bm.ID, c.ID}, ids)
	assert.Len(t, res2.Edges, 2)

	res1, err := b.Expand(ctx, []string{a.ID}, ac, ExpandOptions{Depth: 1, MinWeight: 0.3})
	require.NoError(t, err)
	ids1 := memberIDs(res1.Memories)
	assert.ElementsMatch(t, []string{a.ID, bm.ID}, ids1)
	assert.Len(t, res1.Edges, 1)
}

func memberIDs(ms []*memory.Memory) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}
