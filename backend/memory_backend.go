package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memkit/memkit/memory"
)

// MemoryBackend is an in-process implementation of Backend, backed by maps
// guarded by a single mutex, with adjacency indices for edge traversal.
type MemoryBackend struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	now     func() time.Time
	records map[string]*memory.Memory
	edges   map[string]*memory.Edge
	// outRels/inRels index edge ids by memory id, for traversal.
	outRels map[string][]string
	inRels  map[string][]string
}

// NewMemoryBackend constructs an empty in-memory backend.
func NewMemoryBackend(logger *zap.Logger) *MemoryBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBackend{
		logger:  logger.With(zap.String("component", "backend_inmemory")),
		now:     time.Now,
		records: make(map[string]*memory.Memory),
		edges:   make(map[string]*memory.Edge),
		outRels: make(map[string][]string),
		inRels:  make(map[string][]string),
	}
}

func (b *MemoryBackend) Start(ctx context.Context) error { return nil }
func (b *MemoryBackend) Stop(ctx context.Context) error  { return nil }

func (b *MemoryBackend) PutMemory(ctx context.Context, m *memory.Memory, ac memory.AccessContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m == nil || m.ID == "" {
		return memory.NewError(memory.ErrValidation, "memory id is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	copy := *m
	b.records[m.ID] = &copy
	return nil
}

func (b *MemoryBackend) GetMemory(ctx context.Context, id string, ac memory.AccessContext) (*memory.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	m, ok := b.records[id]
	if !ok {
		return nil, memory.NewError(memory.ErrNotFound, "memory not found")
	}
	if !ac.CanAccessMemory(m) {
		return nil, memory.NewError(memory.ErrAccessDenied, "caller cannot access memory")
	}

	out := *m
	return &out, nil
}

func (b *MemoryBackend) DeleteMemory(ctx context.Context, id string, ac memory.AccessContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.records[id]; !ok {
		return nil // idempotent
	}

	delete(b.records, id)
	b.removeIncidentEdgesLocked(id)
	return nil
}

func (b *MemoryBackend) removeIncidentEdgesLocked(id string) {
	for _, eid := range append([]string{}, b.outRels[id]...) {
		b.deleteEdgeByIDLocked(eid)
	}
	for _, eid := range append([]string{}, b.inRels[id]...) {
		b.deleteEdgeByIDLocked(eid)
	}
	delete(b.outRels, id)
	delete(b.inRels, id)
}

func (b *MemoryBackend) deleteEdgeByIDLocked(eid string) {
	e, ok := b.edges[eid]
	if !ok {
		return
	}
	delete(b.edges, eid)
	b.outRels[e.FromID] = removeString(b.outRels[e.FromID], eid)
	b.inRels[e.ToID] = removeString(b.inRels[e.ToID], eid)
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func (b *MemoryBackend) ListMemories(ctx context.Context, ac memory.AccessContext, opts ListOptions) ([]*memory.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*memory.Memory
	for _, m := range b.records {
		if !ac.CanAccessMemory(m) {
			continue
		}
		if opts.Type != "" && m.Type != opts.Type {
			continue
		}
		if len(opts.Tags) > 0 && !hasAnyTag(m.Tags, opts.Tags) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].InsertedAt.After(out[j].InsertedAt) })

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func hasAnyTag(tags, want []string) bool {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func (b *MemoryBackend) SearchMemories(ctx context.Context, vec []float32, ac memory.AccessContext, opts SearchOptions) ([]Scored, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Scored
	for _, m := range b.records {
		if len(m.Embedding) == 0 {
			continue
		}
		if !ac.CanAccessMemory(m) {
			continue
		}
		if opts.Type != "" && m.Type != opts.Type {
			continue
		}
		if len(opts.Tags) > 0 && !hasAnyTag(m.Tags, opts.Tags) {
			continue
		}
		if opts.MinConfidence > 0 && m.Confidence < opts.MinConfidence {
			continue
		}

		score := memory.CosineSimilarity(vec, m.Embedding)
		if score < opts.Threshold {
			continue
		}

		cp := *m
		out = append(out, Scored{Memory: &cp, Score: score})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}

	now := b.now()
	for _, s := range out {
		if rec, ok := b.records[s.Memory.ID]; ok {
			rec.AccessCount++
			rec.LastAccessedAt = &now
		}
	}

	return out, nil
}

func (b *MemoryBackend) PutEdge(ctx context.Context, e *memory.Edge, ac memory.AccessContext) (*memory.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e == nil || e.FromID == "" || e.ToID == "" {
		return nil, memory.NewError(memory.ErrValidation, "edge endpoints are required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// I5: (from_id, to_id, type) is unique; repeated put is a no-op.
	for _, eid := range b.outRels[e.FromID] {
		existing := b.edges[eid]
		if existing != nil && existing.ToID == e.ToID && existing.Type == e.Type {
			out := *existing
			return &out, nil
		}
	}

	id := e.ID
	if id == "" {
		id = memory.NewID()
	}
	stored := *e
	stored.ID = id
	b.edges[id] = &stored
	b.outRels[e.FromID] = append(b.outRels[e.FromID], id)
	b.inRels[e.ToID] = append(b.inRels[e.ToID], id)

	out := stored
	return &out, nil
}

func (b *MemoryBackend) DeleteEdge(ctx context.Context, fromID, toID string, typ memory.EdgeType) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, eid := range b.outRels[fromID] {
		e, ok := b.edges[eid]
		if ok && e.ToID == toID && e.Type == typ {
			b.deleteEdgeByIDLocked(eid)
			return nil
		}
	}
	return nil // idempotent
}

func (b *MemoryBackend) Neighbors(ctx context.Context, id string, dir Direction, ac memory.AccessContext, opts NeighborOptions) ([]Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var edgeIDs []string
	switch dir {
	case DirOutgoing:
		edgeIDs = b.outRels[id]
	case DirIncoming:
		edgeIDs = b.inRels[id]
	default:
		edgeIDs = append(append([]string{}, b.outRels[id]...), b.inRels[id]...)
	}

	var out []Neighbor
	for _, eid := range edgeIDs {
		e, ok := b.edges[eid]
		if !ok {
			continue
		}
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if e.Weight < opts.MinWeight {
			continue
		}
		peerID := e.ToID
		if peerID == id {
			peerID = e.FromID
		}
		peer, ok := b.records[peerID]
		if !ok || !ac.CanAccessMemory(peer) {
			continue
		}
		peerCopy := *peer
		edgeCopy := *e
		out = append(out, Neighbor{Memory: &peerCopy, Edge: &edgeCopy})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (b *MemoryBackend) Expand(ctx context.Context, seedIDs []string, ac memory.AccessContext, opts ExpandOptions) (ExpandResult, error) {
	if err := ctx.Err(); err != nil {
		return ExpandResult{}, err
	}

	depth := opts.Depth
	if depth <= 0 {
		depth = 2
	}
	if depth > 3 {
		depth = 3
	}
	minWeight := opts.MinWeight
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	visited := make(map[string]bool)
	collected := make([]*memory.Memory, 0)
	type frontierItem struct {
		id   string
		dist int
	}
	var frontier []frontierItem
	for _, id := range seedIDs {
		if !visited[id] {
			visited[id] = true
			frontier = append(frontier, frontierItem{id: id, dist: 0})
		}
	}

	edgeSet := make(map[string]*memory.Edge)

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]

		if cur.dist >= depth {
			continue
		}

		for _, eid := range b.outRels[cur.id] {
			e, ok := b.edges[eid]
			if !ok || e.Weight < minWeight {
				continue
			}
			target, ok := b.records[e.ToID]
			if !ok || target.Confidence < opts.MinConfidence || !ac.CanAccessMemory(target) {
				continue
			}

			edgeSet[eid] = e

			if !visited[e.ToID] {
				if len(collected) >= limit {
					continue
				}
				visited[e.ToID] = true
				cp := *target
				collected = append(collected, &cp)
				frontier = append(frontier, frontierItem{id: e.ToID, dist: cur.dist + 1})
			}
		}
	}

	// Ensure seed memories that are accessible are included in the result
	// set so the induced subgraph's edges have both endpoints present.
	memberSet := make(map[string]bool)
	for _, m := range collected {
		memberSet[m.ID] = true
	}
	for _, id := range seedIDs {
		if memberSet[id] {
			continue
		}
		if seed, ok := b.records[id]; ok && ac.CanAccessMemory(seed) {
			cp := *seed
			collected = append(collected, &cp)
			memberSet[id] = true
		}
	}

	var edges []*memory.Edge
	for _, e := range edgeSet {
		if memberSet[e.FromID] && memberSet[e.ToID] {
			cp := *e
			edges = append(edges, &cp)
		}
	}

	return ExpandResult{Memories: collected, Edges: edges}, nil
}

// String reports a summary, used in logging and tests.
func (b *MemoryBackend) String() string {
	return fmt.Sprintf("MemoryBackend(memories=%d, edges=%d)", len(b.records), len(b.edges))
}
