// Package retrieval implements the read-path Retrieval service (spec
// §4.7): embed the query, search the backend, optionally expand through
// the graph, and merge the two result sets.
package retrieval

import (
	"context"

	"go.uber.org/zap"

	"github.com/memkit/memkit/backend"
	"github.com/memkit/memkit/embedding"
	"github.com/memkit/memkit/graph"
	"github.com/memkit/memkit/memory"
)

// Options configures a Recall call (spec §4.7, §6 defaults).
type Options struct {
	Limit         int
	Threshold     float64
	Type          memory.MemoryType
	Tags          []string
	MinConfidence float64
	ExpandGraph   bool
	GraphDepth    int
}

// DefaultOptions mirrors spec §6: limit=5, threshold=0.3, graph_depth=1.
func DefaultOptions() Options {
	return Options{Limit: 5, Threshold: 0.3, GraphDepth: 1}
}

// Hit pairs a memory with its relevance score.
type Hit struct {
	Memory *memory.Memory
	Score  float64
}

// Result is the output of Recall.
type Result struct {
	Hits []Hit
}

// Service implements Recall/RecallContext.
type Service struct {
	backend backend.Backend
	adapter embedding.Provider // nil means embedding-free operation
	graph   *graph.Service
	logger  *zap.Logger
}

func NewService(be backend.Backend, adapter embedding.Provider, g *graph.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{backend: be, adapter: adapter, graph: g, logger: logger.With(zap.String("component", "retrieval"))}
}

// Recall implements spec §4.7 steps 1-4.
func (s *Service) Recall(ctx context.Context, query string, ac memory.AccessContext, opts Options) (Result, error) {
	opts = applyDefaults(opts)

	// Step 1: embedding-free operation returns an empty result, not an error.
	if s.adapter == nil {
		return Result{}, nil
	}
	vec, err := s.adapter.Embed(ctx, query)
	if err != nil {
		return Result{}, err
	}

	// Step 2: backend search.
	scored, err := s.backend.SearchMemories(ctx, vec, ac, backend.SearchOptions{
		Limit:         opts.Limit,
		Threshold:     opts.Threshold,
		Type:          opts.Type,
		Tags:          opts.Tags,
		MinConfidence: opts.MinConfidence,
	})
	if err != nil {
		return Result{}, err
	}

	hits := make([]Hit, 0, len(scored))
	for _, sc := range scored {
		hits = append(hits, Hit{Memory: sc.Memory, Score: sc.Score})
	}

	// Step 3: optional graph expansion, merged with the stricter canonical
	// variant — re-sorted, re-thresholded, re-limited.
	if opts.ExpandGraph && s.graph != nil {
		seedIDs := make([]string, len(hits))
		for i, h := range hits {
			seedIDs[i] = h.Memory.ID
		}
		expanded, err := s.graph.Expand(ctx, seedIDs, ac, backend.ExpandOptions{Depth: opts.GraphDepth})
		if err != nil {
			return Result{}, err
		}
		hits = mergeExpanded(hits, expanded.Memories)
		hits = rethresholdAndLimit(hits, opts.Threshold, opts.Limit)
	}

	return Result{Hits: hits}, nil
}

// RecallContext is Recall followed by handing {memories, similarities} to a
// caller-supplied reducer (the reduce package), kept here as a thin
// convenience so callers don't have to re-derive the similarities map.
func (s *Service) RecallContext(ctx context.Context, query string, ac memory.AccessContext, opts Options) (Result, map[string]float64, error) {
	res, err := s.Recall(ctx, query, ac, opts)
	if err != nil {
		return Result{}, nil, err
	}
	sims := make(map[string]float64, len(res.Hits))
	for _, h := range res.Hits {
		sims[h.Memory.ID] = h.Score
	}
	return res, sims, nil
}

func applyDefaults(opts Options) Options {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 0.3
	}
	if opts.GraphDepth <= 0 {
		opts.GraphDepth = 1
	}
	return opts
}

// mergeExpanded adds expanded memories as new hits with score 0.5, unless
// already present (keep max score) — spec §4.7 step 3.
func mergeExpanded(hits []Hit, expanded []*memory.Memory) []Hit {
	byID := make(map[string]int, len(hits))
	for i, h := range hits {
		byID[h.Memory.ID] = i
	}
	for _, m := range expanded {
		if i, ok := byID[m.ID]; ok {
			if hits[i].Score < 0.5 {
				hits[i].Score = 0.5
			}
			continue
		}
		hits = append(hits, Hit{Memory: m, Score: 0.5})
		byID[m.ID] = len(hits) - 1
	}
	return hits
}

func rethresholdAndLimit(hits []Hit, threshold float64, limit int) []Hit {
	filtered := hits[:0]
	for _, h := range hits {
		if h.Score >= threshold {
			filtered = append(filtered, h)
		}
	}
	sortHitsDescending(filtered)
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

func sortHitsDescending(hits []Hit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}
