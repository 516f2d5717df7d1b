package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/memkit/memkit/internal/database"
	"github.com/memkit/memkit/memory"
)

// RelationalBackend implements Backend over a GORM-managed PostgreSQL
// connection with the pgvector extension for similarity search, and a
// single parameterized recursive query for graph expansion (spec §4.9,
// §4.11, §6).
type RelationalBackend struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewRelationalBackend wraps an already-opened connection pool.
func NewRelationalBackend(pool *database.PoolManager, logger *zap.Logger) *RelationalBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelationalBackend{pool: pool, logger: logger.With(zap.String("component", "backend_relational"))}
}

func (b *RelationalBackend) Start(ctx context.Context) error {
	return AutoMigrate(b.pool.DB())
}

func (b *RelationalBackend) Stop(ctx context.Context) error {
	return b.pool.Close()
}

func (b *RelationalBackend) PutMemory(ctx context.Context, m *memory.Memory, ac memory.AccessContext) error {
	row := rowFromMemory(m)
	err := b.pool.DB().WithContext(ctx).Save(&row).Error
	if err != nil {
		return memory.WrapError(memory.ErrBackendError, "put_memory failed", err)
	}
	return nil
}

func (b *RelationalBackend) GetMemory(ctx context.Context, id string, ac memory.AccessContext) (*memory.Memory, error) {
	var row memoryRow
	err := b.pool.DB().WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, memory.NewError(memory.ErrNotFound, "memory not found")
	}
	if err != nil {
		return nil, memory.WrapError(memory.ErrBackendError, "get_memory failed", err)
	}

	m := row.toMemory()
	if !ac.CanAccessMemory(m) {
		return nil, memory.NewError(memory.ErrAccessDenied, "caller cannot access memory")
	}

	return m, nil
}

func (b *RelationalBackend) DeleteMemory(ctx context.Context, id string, ac memory.AccessContext) error {
	return b.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Exec(`DELETE FROM edges WHERE from_id = $1 OR to_id = $1`, id).Error; err != nil {
			return err
		}
		if err := tx.Exec(`DELETE FROM memories WHERE id = $1`, id).Error; err != nil {
			return err
		}
		return nil
	})
}

func (b *RelationalBackend) ListMemories(ctx context.Context, ac memory.AccessContext, opts ListOptions) ([]*memory.Memory, error) {
	q := b.pool.DB().WithContext(ctx).Model(&memoryRow{}).
		Where("scope IN ?", scopeStrings(ac.ReadableScopes())).
		Where("agent_id = ? OR scope != ?", ac.AgentID, string(memory.ScopePrivate))

	if opts.Type != "" {
		q = q.Where("type = ?", string(opts.Type))
	}
	if len(opts.Tags) > 0 {
		q = q.Where("tags && ?", opts.Tags)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	q = q.Order("inserted_at DESC").Limit(limit)

	var rows []memoryRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, memory.WrapError(memory.ErrBackendError, "list_memories failed", err)
	}

	out := make([]*memory.Memory, 0, len(rows))
	for _, r := range rows {
		m := r.toMemory()
		if ac.CanAccessMemory(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (b *RelationalBackend) SearchMemories(ctx context.Context, vec []float32, ac memory.AccessContext, opts SearchOptions) ([]Scored, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}

	v := pgvector.NewVector(vec)
	query := `
		SELECT id, type, summary, content, embedding, importance, confidence, scope,
		       agent_id, tenant_id, tags, metadata, session_id, access_count,
		       last_accessed_at, inserted_at, updated_at,
		       1 - (embedding <=> $1) AS similarity
		FROM memories
		WHERE embedding IS NOT NULL
		  AND scope = ANY($2)
		  AND confidence >= $3
		ORDER BY embedding <=> $1
		LIMIT $4
	`
	minConf := opts.MinConfidence

	var results []struct {
		memoryRow
		Similarity float64
	}
	err := b.pool.DB().WithContext(ctx).Raw(query, v, scopeStrings(ac.ReadableScopes()), minConf, limit*4).Scan(&results).Error
	if err != nil {
		return nil, memory.WrapError(memory.ErrBackendError, "search_memories failed", err)
	}

	var out []Scored
	for _, r := range results {
		m := r.memoryRow.toMemory()
		if opts.Type != "" && m.Type != opts.Type {
			continue
		}
		if len(opts.Tags) > 0 && !hasAnyTag(m.Tags, opts.Tags) {
			continue
		}
		if !ac.CanAccessMemory(m) {
			continue
		}
		if r.Similarity < opts.Threshold {
			continue
		}
		out = append(out, Scored{Memory: m, Score: r.Similarity})
		if len(out) >= limit {
			break
		}
	}

	ids := make([]string, 0, len(out))
	for _, s := range out {
		ids = append(ids, s.Memory.ID)
	}
	if len(ids) > 0 {
		_ = b.pool.DB().WithContext(ctx).Model(&memoryRow{}).Where("id IN ?", ids).
			UpdateColumns(map[string]any{
				"access_count":     gorm.Expr("access_count + 1"),
				"last_accessed_at": time.Now().UTC(),
			}).Error
	}

	return out, nil
}

func (b *RelationalBackend) PutEdge(ctx context.Context, e *memory.Edge, ac memory.AccessContext) (*memory.Edge, error) {
	var existing edgeRow
	err := b.pool.DB().WithContext(ctx).Where(
		"from_id = ? AND to_id = ? AND type = ?", e.FromID, e.ToID, string(e.Type),
	).First(&existing).Error
	if err == nil {
		return existing.toEdge(), nil // I5: first writer wins, repeated put is a no-op
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, memory.WrapError(memory.ErrBackendError, "put_edge lookup failed", err)
	}

	if e.ID == "" {
		e.ID = memory.NewID()
	}
	row := rowFromEdge(e)
	if err := b.pool.DB().WithContext(ctx).Create(&row).Error; err != nil {
		return nil, memory.WrapError(memory.ErrBackendError, "put_edge failed", err)
	}
	return row.toEdge(), nil
}

func (b *RelationalBackend) DeleteEdge(ctx context.Context, fromID, toID string, typ memory.EdgeType) error {
	err := b.pool.DB().WithContext(ctx).Exec(
		`DELETE FROM edges WHERE from_id = $1 AND to_id = $2 AND type = $3`, fromID, toID, string(typ),
	).Error
	if err != nil {
		return memory.WrapError(memory.ErrBackendError, "delete_edge failed", err)
	}
	return nil
}

func (b *RelationalBackend) Neighbors(ctx context.Context, id string, dir Direction, ac memory.AccessContext, opts NeighborOptions) ([]Neighbor, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	var cond string
	switch dir {
	case DirOutgoing:
		cond = "e.from_id = $1"
	case DirIncoming:
		cond = "e.to_id = $1"
	default:
		cond = "(e.from_id = $1 OR e.to_id = $1)"
	}

	query := fmt.Sprintf(`
		SELECT e.*, m.* FROM edges e
		JOIN memories m ON m.id = CASE WHEN e.from_id = $1 THEN e.to_id ELSE e.from_id END
		WHERE %s AND e.weight >= $2
		LIMIT $3
	`, cond)

	var rows []struct {
		edgeRow
		memoryRow
	}
	if err := b.pool.DB().WithContext(ctx).Raw(query, id, opts.MinWeight, limit*2).Scan(&rows).Error; err != nil {
		return nil, memory.WrapError(memory.ErrBackendError, "neighbors failed", err)
	}

	var out []Neighbor
	for _, r := range rows {
		if opts.Type != "" && r.edgeRow.Type != string(opts.Type) {
			continue
		}
		peer := r.memoryRow.toMemory()
		if !ac.CanAccessMemory(peer) {
			continue
		}
		out = append(out, Neighbor{Memory: peer, Edge: r.edgeRow.toEdge()})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// expandRow is the result shape of the recursive traversal query.
type expandRow struct {
	memoryRow
	EdgeID         string
	EdgeFromID     string
	EdgeToID       string
	EdgeType       string
	EdgeWeight     float64
	EdgeConfidence float64
}

// Expand executes a single parameterized recursive query (spec §4.9's
// "a prior security fix" requirement: no identifier or bound is
// string-interpolated into SQL).
func (b *RelationalBackend) Expand(ctx context.Context, seedIDs []string, ac memory.AccessContext, opts ExpandOptions) (ExpandResult, error) {
	depth := opts.Depth
	if depth <= 0 {
		depth = 2
	}
	if depth > 3 {
		depth = 3
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		WITH RECURSIVE reachable(memory_id, depth) AS (
			SELECT unnest($1::text[]), 0
			UNION
			SELECT e.to_id, r.depth + 1
			FROM edges e
			JOIN reachable r ON e.from_id = r.memory_id
			WHERE r.depth < $2 AND e.weight >= $3
		)
		SELECT DISTINCT m.*, e.id AS edge_id, e.from_id AS edge_from_id, e.to_id AS edge_to_id,
		       e.type AS edge_type, e.weight AS edge_weight, e.confidence AS edge_confidence
		FROM reachable r
		JOIN memories m ON m.id = r.memory_id
		LEFT JOIN edges e ON e.from_id = m.id OR e.to_id = m.id
		WHERE m.confidence >= $4
		LIMIT $5
	`

	var rows []expandRow
	err := b.pool.DB().WithContext(ctx).Raw(query, seedIDs, depth, opts.MinWeight, opts.MinConfidence, limit*4).Scan(&rows).Error
	if err != nil {
		return ExpandResult{}, memory.WrapError(memory.ErrBackendError, "expand failed", err)
	}

	memberSet := make(map[string]*memory.Memory)
	edgeSet := make(map[string]*memory.Edge)
	for _, r := range rows {
		m := r.memoryRow.toMemory()
		if !ac.CanAccessMemory(m) {
			continue
		}
		if len(memberSet) >= limit {
			if _, ok := memberSet[m.ID]; !ok {
				continue
			}
		}
		memberSet[m.ID] = m
		if r.EdgeID != "" && r.EdgeWeight >= opts.MinWeight {
			edgeSet[r.EdgeID] = &memory.Edge{
				ID: r.EdgeID, FromID: r.EdgeFromID, ToID: r.EdgeToID,
				Type: memory.EdgeType(r.EdgeType), Weight: r.EdgeWeight, Confidence: r.EdgeConfidence,
			}
		}
	}

	var memories []*memory.Memory
	for _, m := range memberSet {
		memories = append(memories, m)
	}
	var edges []*memory.Edge
	for _, e := range edgeSet {
		if _, ok := memberSet[e.FromID]; !ok {
			continue
		}
		if _, ok := memberSet[e.ToID]; !ok {
			continue
		}
		edges = append(edges, e)
	}

	return ExpandResult{Memories: memories, Edges: edges}, nil
}

func scopeStrings(scopes []memory.Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

func encodeMetadata(m map[string]any) []byte {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}

func decodeMetadata(b []byte) map[string]any {
	if len(b) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
