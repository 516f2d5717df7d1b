package backend

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/memkit/memkit/memory"
)

// memoryRow is the GORM model for the memories table (spec §6).
type memoryRow struct {
	ID             string `gorm:"primaryKey;column:id"`
	Type           string `gorm:"column:type;index"`
	Summary        string `gorm:"column:summary"`
	Content        string `gorm:"column:content"`
	Embedding      *pgvector.Vector `gorm:"column:embedding;type:vector"`
	Importance     float64 `gorm:"column:importance;default:0.5"`
	Confidence     float64 `gorm:"column:confidence;default:0.7;index"`
	Scope          string  `gorm:"column:scope;default:'private';index"`
	AgentID        string  `gorm:"column:agent_id;index"`
	TenantID       string  `gorm:"column:tenant_id;index"`
	Tags           []string `gorm:"column:tags;type:text[]"`
	Metadata       []byte  `gorm:"column:metadata;type:jsonb"`
	SessionID      string  `gorm:"column:session_id;index"`
	AccessCount    int     `gorm:"column:access_count;default:0"`
	LastAccessedAt *time.Time `gorm:"column:last_accessed_at"`
	InsertedAt     time.Time  `gorm:"column:inserted_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (memoryRow) TableName() string { return "memories" }

// edgeRow is the GORM model for the edges table (spec §6).
type edgeRow struct {
	ID         string  `gorm:"primaryKey;column:id"`
	FromID     string  `gorm:"column:from_id;index"`
	ToID       string  `gorm:"column:to_id;index"`
	Type       string  `gorm:"column:type;default:'relates_to'"`
	Weight     float64 `gorm:"column:weight;default:0.5"`
	Confidence float64 `gorm:"column:confidence;default:0.7"`
	Scope      string  `gorm:"column:scope"`
	Metadata   []byte  `gorm:"column:metadata;type:jsonb"`
	InsertedAt time.Time `gorm:"column:inserted_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (edgeRow) TableName() string { return "edges" }

func rowFromMemory(m *memory.Memory) memoryRow {
	var vec *pgvector.Vector
	if len(m.Embedding) > 0 {
		v := pgvector.NewVector(m.Embedding)
		vec = &v
	}
	return memoryRow{
		ID:             m.ID,
		Type:           string(m.Type),
		Summary:        m.Summary,
		Content:        m.Content,
		Embedding:      vec,
		Importance:     m.Importance,
		Confidence:     m.Confidence,
		Scope:          string(m.Scope),
		AgentID:        m.AgentID,
		TenantID:       m.TenantID,
		Tags:           m.Tags,
		Metadata:       encodeMetadata(m.Metadata),
		SessionID:      m.SessionID,
		AccessCount:    m.AccessCount,
		LastAccessedAt: m.LastAccessedAt,
		InsertedAt:     m.InsertedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func (r memoryRow) toMemory() *memory.Memory {
	var emb []float32
	if r.Embedding != nil {
		emb = r.Embedding.Slice()
	}
	return &memory.Memory{
		ID:             r.ID,
		Type:           memory.MemoryType(r.Type),
		Summary:        r.Summary,
		Content:        r.Content,
		Embedding:      emb,
		Importance:     r.Importance,
		Confidence:     r.Confidence,
		Scope:          memory.Scope(r.Scope),
		AgentID:        r.AgentID,
		TenantID:       r.TenantID,
		Tags:           r.Tags,
		Metadata:       decodeMetadata(r.Metadata),
		SessionID:      r.SessionID,
		AccessCount:    r.AccessCount,
		LastAccessedAt: r.LastAccessedAt,
		InsertedAt:     r.InsertedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func rowFromEdge(e *memory.Edge) edgeRow {
	return edgeRow{
		ID:         e.ID,
		FromID:     e.FromID,
		ToID:       e.ToID,
		Type:       string(e.Type),
		Weight:     e.Weight,
		Confidence: e.Confidence,
		Scope:      string(e.Scope),
		Metadata:   encodeMetadata(e.Metadata),
		InsertedAt: e.InsertedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

func (r edgeRow) toEdge() *memory.Edge {
	return &memory.Edge{
		ID:         r.ID,
		FromID:     r.FromID,
		ToID:       r.ToID,
		Type:       memory.EdgeType(r.Type),
		Weight:     r.Weight,
		Confidence: r.Confidence,
		Scope:      memory.Scope(r.Scope),
		Metadata:   decodeMetadata(r.Metadata),
		InsertedAt: r.InsertedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

// AutoMigrate applies the table/index layout of spec §6. Migration
// generation (a versioned migration tool) is out of scope; this is the
// idempotent schema-application path instead.
func AutoMigrate(db *gorm.DB) error {
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
		return err
	}
	if err := db.AutoMigrate(&memoryRow{}, &edgeRow{}); err != nil {
		return err
	}
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_memories_agent_scope_inserted ON memories (agent_id, scope, inserted_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_tags_gin ON memories USING GIN (tags)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_edges_triple ON edges (from_id, to_id, type)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_from_type_weight ON edges (from_id, type, weight)`,
	}
	for _, s := range stmts {
		if err := db.Exec(s).Error; err != nil {
			return err
		}
	}
	return nil
}
