package backend

import (
	"context"
	"time"

	"github.com/memkit/memkit/internal/metrics"
	"github.com/memkit/memkit/memory"
)

// instrumentedBackend wraps a Backend and reports each operation's latency
// through a Collector's backend operation latency histogram, under a fixed
// backend-name label. Every method is a thin
// time-and-forward; access control and storage semantics are entirely the
// wrapped Backend's.
type instrumentedBackend struct {
	Backend
	name    string
	metrics *metrics.Collector
}

// WithMetrics wraps be so every operation's duration is recorded against m
// under the backend/op labels of spec §4.11. A nil Collector returns be
// unchanged.
func WithMetrics(be Backend, name string, m *metrics.Collector) Backend {
	if m == nil {
		return be
	}
	return &instrumentedBackend{Backend: be, name: name, metrics: m}
}

func (b *instrumentedBackend) observe(op string, start time.Time) {
	b.metrics.RecordBackendOp(b.name, op, time.Since(start))
}

func (b *instrumentedBackend) PutMemory(ctx context.Context, m *memory.Memory, ac memory.AccessContext) error {
	defer b.observe("put_memory", time.Now())
	return b.Backend.PutMemory(ctx, m, ac)
}

func (b *instrumentedBackend) GetMemory(ctx context.Context, id string, ac memory.AccessContext) (*memory.Memory, error) {
	defer b.observe("get_memory", time.Now())
	return b.Backend.GetMemory(ctx, id, ac)
}

func (b *instrumentedBackend) DeleteMemory(ctx context.Context, id string, ac memory.AccessContext) error {
	defer b.observe("delete_memory", time.Now())
	return b.Backend.DeleteMemory(ctx, id, ac)
}

func (b *instrumentedBackend) ListMemories(ctx context.Context, ac memory.AccessContext, opts ListOptions) ([]*memory.Memory, error) {
	defer b.observe("list_memories", time.Now())
	return b.Backend.ListMemories(ctx, ac, opts)
}

func (b *instrumentedBackend) SearchMemories(ctx context.Context, vec []float32, ac memory.AccessContext, opts SearchOptions) ([]Scored, error) {
	defer b.observe("search_memories", time.Now())
	return b.Backend.SearchMemories(ctx, vec, ac, opts)
}

func (b *instrumentedBackend) PutEdge(ctx context.Context, e *memory.Edge, ac memory.AccessContext) (*memory.Edge, error) {
	defer b.observe("put_edge", time.Now())
	return b.Backend.PutEdge(ctx, e, ac)
}

func (b *instrumentedBackend) DeleteEdge(ctx context.Context, fromID, toID string, typ memory.EdgeType) error {
	defer b.observe("delete_edge", time.Now())
	return b.Backend.DeleteEdge(ctx, fromID, toID, typ)
}

func (b *instrumentedBackend) Neighbors(ctx context.Context, id string, dir Direction, ac memory.AccessContext, opts NeighborOptions) ([]Neighbor, error) {
	defer b.observe("neighbors", time.Now())
	return b.Backend.Neighbors(ctx, id, dir, ac, opts)
}

func (b *instrumentedBackend) Expand(ctx context.Context, seedIDs []string, ac memory.AccessContext, opts ExpandOptions) (ExpandResult, error) {
	defer b.observe("expand", time.Now())
	return b.Backend.Expand(ctx, seedIDs, ac, opts)
}
