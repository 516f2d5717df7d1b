// Package graph implements the Graph service (spec §4.9): link/unlink,
// neighbor lookup, and depth-limited expansion, dispatched onto the
// Backend contract which already owns the traversal implementation.
package graph

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/memkit/memkit/backend"
	"github.com/memkit/memkit/memory"
)

// LinkOptions carries the optional fields of a link call.
type LinkOptions struct {
	Weight     *float64
	Confidence *float64
	Metadata   map[string]any
}

// Service dispatches graph operations onto a Backend.
type Service struct {
	backend backend.Backend
	now     func() time.Time
	logger  *zap.Logger
}

func NewService(be backend.Backend, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{backend: be, now: time.Now, logger: logger.With(zap.String("component", "graph"))}
}

// Link loads both endpoints (access-checked), derives edge scope per I6,
// validates, and persists idempotently (spec §4.9).
func (s *Service) Link(ctx context.Context, fromID, toID string, typ memory.EdgeType, opts LinkOptions, ac memory.AccessContext) (*memory.Edge, error) {
	from, err := s.backend.GetMemory(ctx, fromID, ac)
	if err != nil {
		return nil, err
	}
	to, err := s.backend.GetMemory(ctx, toID, ac)
	if err != nil {
		return nil, err
	}

	scope := memory.DeriveEdgeScope(from.Scope, to.Scope)
	edge, err := memory.NewEdge(memory.EdgeAttrs{
		FromID:     fromID,
		ToID:       toID,
		Type:       typ,
		Weight:     opts.Weight,
		Confidence: opts.Confidence,
		Metadata:   opts.Metadata,
	}, scope, s.now().UTC())
	if err != nil {
		return nil, err
	}

	return s.backend.PutEdge(ctx, edge, ac)
}

// Unlink removes an edge; idempotent (spec §4.11).
func (s *Service) Unlink(ctx context.Context, fromID, toID string, typ memory.EdgeType) error {
	return s.backend.DeleteEdge(ctx, fromID, toID, typ)
}

// Neighbors is a thin pass-through to Backend.Neighbors.
func (s *Service) Neighbors(ctx context.Context, id string, dir backend.Direction, ac memory.AccessContext, opts backend.NeighborOptions) ([]backend.Neighbor, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	return s.backend.Neighbors(ctx, id, dir, ac, opts)
}

// Expand is a thin pass-through to Backend.Expand, applying spec §4.9's
// default/cap on depth and defaults for the remaining options.
func (s *Service) Expand(ctx context.Context, seedIDs []string, ac memory.AccessContext, opts backend.ExpandOptions) (backend.ExpandResult, error) {
	if opts.Depth <= 0 {
		opts.Depth = 2
	}
	if opts.Depth > 3 {
		opts.Depth = 3
	}
	if opts.MinWeight <= 0 {
		opts.MinWeight = 0.3
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = 0.5
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	return s.backend.Expand(ctx, seedIDs, ac, opts)
}
