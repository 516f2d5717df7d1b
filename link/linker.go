// Package link implements the Linker (spec §4.5): proposing relates_to
// edges from a freshly-embedded memory to its most similar existing
// memories, above a similarity threshold.
package link

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/memkit/memkit/backend"
	"github.com/memkit/memkit/internal/metrics"
	"github.com/memkit/memkit/memory"
)

// Config tunes the Linker (spec §4.5, §6 defaults).
type Config struct {
	Threshold     float64
	MaxCandidates int
	MaxLinks      int
}

func DefaultConfig() Config {
	return Config{Threshold: 0.75, MaxCandidates: 20, MaxLinks: 5}
}

// Linker is grounded on the nearest-neighbor search already exposed by
// Backend.SearchMemories; it adds no index of its own.
type Linker struct {
	backend backend.Backend
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collector
}

// SetMetrics attaches a Collector the linker reports edge-creation outcomes
// to (spec §9's "counters for … auto-link edges created").
func (l *Linker) SetMetrics(m *metrics.Collector) {
	l.metrics = m
}

func NewLinker(be backend.Backend, cfg Config, logger *zap.Logger) *Linker {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 20
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = 5
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.75
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Linker{backend: be, cfg: cfg, logger: logger.With(zap.String("component", "linker"))}
}

// LinkAsync proposes and persists relates_to edges from m to its most
// similar existing memories (spec §4.5). It is best-effort: a failed edge
// write is logged and skipped rather than aborting the whole pass. The
// name matches the indexer's call site; the work itself runs synchronously
// within the caller's goroutine (the Indexer is what makes it asynchronous
// with respect to the original write).
func (l *Linker) LinkAsync(ctx context.Context, m *memory.Memory, ac memory.AccessContext) ([]*memory.Edge, error) {
	if len(m.Embedding) == 0 {
		return nil, nil
	}

	candidates, err := l.backend.SearchMemories(ctx, m.Embedding, ac, backend.SearchOptions{
		Limit:     l.cfg.MaxCandidates,
		Threshold: l.cfg.Threshold,
	})
	if err != nil {
		return nil, err
	}

	links := make([]*memory.Edge, 0, l.cfg.MaxLinks)
	now := time.Now().UTC()
	for _, c := range candidates {
		if len(links) >= l.cfg.MaxLinks {
			break
		}
		if c.Memory.ID == m.ID {
			continue
		}

		confidence := m.Confidence
		if c.Memory.Confidence < confidence {
			confidence = c.Memory.Confidence
		}
		scope := memory.DeriveEdgeScope(m.Scope, c.Memory.Scope)
		weight := c.Score

		edge, err := memory.NewEdge(memory.EdgeAttrs{
			FromID:     m.ID,
			ToID:       c.Memory.ID,
			Type:       memory.EdgeRelatesTo,
			Weight:     &weight,
			Confidence: &confidence,
			Metadata: map[string]any{
				"linked_by":        "auto",
				"similarity_score": c.Score,
			},
		}, scope, now)
		if err != nil {
			l.logger.Warn("auto-link edge construction failed", zap.String("memory_id", m.ID), zap.Error(err))
			l.recordEdge("error")
			continue
		}

		persisted, err := l.backend.PutEdge(ctx, edge, ac)
		if err != nil {
			l.logger.Warn("auto-link edge persistence failed",
				zap.String("from", m.ID), zap.String("to", c.Memory.ID), zap.Error(err))
			l.recordEdge("error")
			continue
		}
		l.recordEdge("success")
		links = append(links, persisted)
	}
	return links, nil
}

func (l *Linker) recordEdge(status string) {
	if l.metrics != nil {
		l.metrics.RecordAutoLinkEdge(status)
	}
}
