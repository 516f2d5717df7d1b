// Package engine wires every memory subsystem — backend, embedding,
// batching, indexing, linking, storage, retrieval, reduction, graph, and
// reflection — into the single public facade an agent runtime calls
// against (spec §2's "Public facade").
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/memkit/memkit/backend"
	"github.com/memkit/memkit/batch"
	"github.com/memkit/memkit/config"
	"github.com/memkit/memkit/embedding"
	"github.com/memkit/memkit/graph"
	"github.com/memkit/memkit/index"
	"github.com/memkit/memkit/internal/database"
	"github.com/memkit/memkit/internal/idempotency"
	"github.com/memkit/memkit/internal/metrics"
	"github.com/memkit/memkit/internal/telemetry"
	"github.com/memkit/memkit/internal/tokencount"
	"github.com/memkit/memkit/internal/workpool"
	"github.com/memkit/memkit/link"
	"github.com/memkit/memkit/memory"
	"github.com/memkit/memkit/reduce"
	"github.com/memkit/memkit/reflect"
	"github.com/memkit/memkit/retrieval"
	"github.com/memkit/memkit/storage"
)

// Engine is the agent-facing entry point. Every method takes a
// memory.AccessContext and enforces scope on the caller's behalf; none of
// the underlying services are exported for direct use outside this
// package.
type Engine struct {
	cfg *config.Config

	backend   backend.Backend
	adapter   embedding.Provider
	batcher   *batch.Batcher
	linker    *link.Linker
	indexer   *index.Indexer
	storage   *storage.Store
	retrieval *retrieval.Service
	graph     *graph.Service
	reduce    reduce.Options
	reflect   *reflect.Service

	tokenCounter tokencount.Counter

	pool *workpool.Pool
	idem idempotency.Manager

	metrics    *metrics.Collector
	telemetry  *telemetry.Providers
	logger     *zap.Logger
}

// Deps carries the optional externally-constructed collaborators: a
// relational connection pool (required when cfg.Backend.Kind is
// "relational"; the backend itself is chosen by that kind), a reflection
// synthesizer, and a pre-built idempotency manager for durable indexing.
// Everything else is constructed from cfg.
type Deps struct {
	DatabasePool *database.PoolManager
	Synthesizer  reflect.Synthesizer
	RedisClient  idempotency.Manager // pre-built durable idempotency manager, if cfg.Index.Mode == "durable"
}

// New builds an Engine from cfg and optional deps. Apart from the cleanup
// goroutine of the in-memory idempotency manager it creates in durable mode
// when deps supplies none, it starts no background work; call Start before
// issuing operations.
func New(ctx context.Context, cfg *config.Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}

	collector := metrics.NewCollector("memkit", logger)

	be, err := buildBackend(cfg, deps, logger)
	if err != nil {
		return nil, err
	}
	be = backend.WithMetrics(be, cfg.Backend.Kind, collector)

	adapter := buildEmbeddingProvider(cfg)
	adapter = embedding.WithMetrics(adapter, cfg.Embedding.Provider, cfg.Embedding.Model, collector)

	batcher := batch.NewBatcher(adapter, batch.Config{
		BatchSize:    cfg.Batch.Size,
		BatchTimeout: cfg.Batch.TimeoutMS,
	}, logger)
	batcher.SetMetrics(collector)

	linker := link.NewLinker(be, link.Config{
		Threshold:     cfg.Link.Threshold,
		MaxCandidates: cfg.Link.MaxCandidates,
		MaxLinks:      cfg.Link.MaxLinks,
	}, logger)
	linker.SetMetrics(collector)

	poolCfg := workpool.DefaultConfig()
	if cfg.Index.Workers > 0 {
		poolCfg.MaxWorkers = cfg.Index.Workers
	}
	pool := workpool.NewPool(poolCfg)

	idem := deps.RedisClient
	if idem == nil && index.Mode(cfg.Index.Mode) == index.ModeDurable {
		idem = idempotency.NewMemoryManager(logger)
	}

	indexer := index.NewIndexer(be, batcher, linker, pool, idem, index.Config{
		Mode:        index.Mode(cfg.Index.Mode),
		AutoLink:    true,
		DedupWindow: cfg.Index.DedupWindow,
	}, logger)
	indexer.SetMetrics(collector)

	store := storage.NewStore(be, cfg.Embedding.Dimensions, logger)
	graphSvc := graph.NewService(be, logger)
	retrievalSvc := retrieval.NewService(be, adapter, graphSvc, logger)
	reflectSvc := reflect.NewService(retrievalSvc, store, graphSvc, deps.Synthesizer, logger)

	tp, err := telemetry.Init(ctx, cfg.Telemetry, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: init telemetry: %w", err)
	}

	eng := &Engine{
		cfg:          cfg,
		backend:      be,
		adapter:      adapter,
		batcher:      batcher,
		linker:       linker,
		indexer:      indexer,
		storage:      store,
		retrieval:    retrievalSvc,
		graph:        graphSvc,
		reduce:       reduce.Options{MaxTokens: cfg.Reduce.DefaultMaxTokens, IncludeEdges: true, Format: reduce.FormatText},
		reflect:      reflectSvc,
		tokenCounter: tokencount.NewCounter(cfg.Reduce.TokenModel),
		pool:         pool,
		idem:         idem,
		metrics:      collector,
		telemetry:    tp,
		logger:       logger.With(zap.String("component", "engine")),
	}
	return eng, nil
}

func buildBackend(cfg *config.Config, deps Deps, logger *zap.Logger) (backend.Backend, error) {
	switch cfg.Backend.Kind {
	case "relational":
		if deps.DatabasePool == nil {
			return nil, fmt.Errorf("engine: backend.kind=relational requires Deps.DatabasePool")
		}
		return backend.NewRelationalBackend(deps.DatabasePool, logger), nil
	default:
		return backend.NewMemoryBackend(logger), nil
	}
}

func buildEmbeddingProvider(cfg *config.Config) embedding.Provider {
	switch cfg.Embedding.Provider {
	case "openai":
		return embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout,
		})
	default:
		return embedding.NewOllamaProvider(embedding.OllamaConfig{
			Endpoint:   cfg.Embedding.Endpoint,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout,
		})
	}
}

// MetricsHandler returns an http.Handler exposing this Engine's Prometheus
// instruments, scoped to its own private registry rather than the global
// default.
func (e *Engine) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(e.metrics.Registry(), promhttp.HandlerOpts{})
}

// Start brings up the backend connection and any background workers.
func (e *Engine) Start(ctx context.Context) error {
	return e.backend.Start(ctx)
}

// Stop drains the work pool and closes the backend and telemetry provider.
func (e *Engine) Stop(ctx context.Context) error {
	e.pool.Close()
	if e.idem != nil {
		if err := idempotency.CloseMemoryManager(e.idem); err != nil && !errors.Is(err, idempotency.ErrNotMemoryManager) {
			e.logger.Warn("idempotency manager close failed", zap.Error(err))
		}
	}
	if err := e.telemetry.Shutdown(ctx); err != nil {
		e.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	return e.backend.Stop(ctx)
}

// Remember stores a new memory and schedules its embedding and auto-link
// pipeline (spec §4.6, §2's write data flow). It returns as soon as the
// record is durably visible with no embedding yet; IndexMemoryAsync
// completes the pipeline out of band.
func (e *Engine) Remember(ctx context.Context, attrs memory.MemoryAttrs, ac memory.AccessContext) (*memory.Memory, error) {
	ctx, span := e.telemetry.Tracer("engine").Start(ctx, "Engine.Remember")
	defer span.End()

	start := time.Now()
	m, err := e.storage.StoreMemory(ctx, attrs, ac)
	status := "success"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordMemoryStored(string(attrs.Type), string(attrs.Scope), time.Since(start), status)
	if err != nil {
		return nil, err
	}

	if err := e.indexer.IndexMemoryAsync(ctx, m, ac); err != nil {
		e.logger.Warn("failed to enqueue indexing", zap.String("memory_id", m.ID), zap.Error(err))
	}
	return m, nil
}

// Get fetches a single memory by id, subject to ac's read access.
func (e *Engine) Get(ctx context.Context, id string, ac memory.AccessContext) (*memory.Memory, error) {
	return e.storage.GetMemory(ctx, id, ac)
}

// List returns memories visible to ac matching opts.
func (e *Engine) List(ctx context.Context, ac memory.AccessContext, opts backend.ListOptions) ([]*memory.Memory, error) {
	return e.storage.ListMemories(ctx, ac, opts)
}

// Forget deletes a memory the caller owns or has system access to (spec
// §4.6, P3's incident-edge cleanup is the backend's responsibility).
func (e *Engine) Forget(ctx context.Context, id string, ac memory.AccessContext) error {
	err := e.storage.DeleteMemory(ctx, id, ac)
	status := "success"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordMemoryDeleted(status)
	return err
}

// Recall embeds query, searches the backend, optionally expands the
// result through the graph, and returns the merged, re-thresholded hits
// (spec §4.7, §2's recall data flow).
func (e *Engine) Recall(ctx context.Context, query string, ac memory.AccessContext, opts retrieval.Options) (retrieval.Result, error) {
	ctx, span := e.telemetry.Tracer("engine").Start(ctx, "Engine.Recall")
	defer span.End()

	start := time.Now()
	result, err := e.retrieval.Recall(ctx, query, ac, opts)
	if err != nil {
		e.metrics.RecordRecall(opts.ExpandGraph, time.Since(start), 0)
		return retrieval.Result{}, err
	}
	e.metrics.RecordRecall(opts.ExpandGraph, time.Since(start), len(result.Hits))
	return result, nil
}

// RecallAndReduce performs Recall and formats the hits into a
// token-budgeted context block, the combination an agent runtime calls on
// every turn (spec §4.7 + §4.8).
func (e *Engine) RecallAndReduce(ctx context.Context, query string, ac memory.AccessContext, recallOpts retrieval.Options, reduceOpts *reduce.Options) (string, error) {
	result, err := e.Recall(ctx, query, ac, recallOpts)
	if err != nil {
		return "", err
	}

	opts := e.reduce
	if reduceOpts != nil {
		opts = *reduceOpts
	}

	input := reduce.Input{Memories: make([]*memory.Memory, 0, len(result.Hits)), Similarities: map[string]float64{}}
	for _, hit := range result.Hits {
		input.Memories = append(input.Memories, hit.Memory)
		input.Similarities[hit.Memory.ID] = hit.Score
	}
	if opts.IncludeEdges && recallOpts.ExpandGraph {
		expanded, err := e.graph.Expand(ctx, idsOf(input.Memories), ac, backend.ExpandOptions{Depth: recallOpts.GraphDepth})
		if err == nil {
			input.Edges = expanded.Edges
		}
	}

	formatted := reduce.Formatted(input, opts, time.Now().UTC())

	if used := reduce.TokensUsed(formatted, e.tokenCounter); used > opts.MaxTokens {
		e.logger.Warn("recall context exceeds token budget",
			zap.Int("tokens_used", used), zap.Int("max_tokens", opts.MaxTokens))
	}

	return formatted, nil
}

// Link creates an edge between two memories (spec §4.9).
func (e *Engine) Link(ctx context.Context, fromID, toID string, typ memory.EdgeType, opts graph.LinkOptions, ac memory.AccessContext) (*memory.Edge, error) {
	return e.graph.Link(ctx, fromID, toID, typ, opts, ac)
}

// Unlink removes an edge (spec §4.9, §4.11's idempotent delete).
func (e *Engine) Unlink(ctx context.Context, fromID, toID string, typ memory.EdgeType) error {
	return e.graph.Unlink(ctx, fromID, toID, typ)
}

// Neighbors returns a memory's directly connected neighbors (spec §4.9).
func (e *Engine) Neighbors(ctx context.Context, id string, dir backend.Direction, ac memory.AccessContext, opts backend.NeighborOptions) ([]backend.Neighbor, error) {
	return e.graph.Neighbors(ctx, id, dir, ac, opts)
}

// Expand performs a depth-bounded graph traversal from seedIDs (spec §4.9).
func (e *Engine) Expand(ctx context.Context, seedIDs []string, ac memory.AccessContext, opts backend.ExpandOptions) (backend.ExpandResult, error) {
	return e.graph.Expand(ctx, seedIDs, ac, opts)
}

// Reflect recalls memories about opts.Topic, synthesizes a reflection, and
// optionally persists it as a new memory linked to its sources (spec
// §4.10).
func (e *Engine) Reflect(ctx context.Context, agentID string, opts reflect.Options, ac memory.AccessContext) (reflect.Outcome, error) {
	ctx, span := e.telemetry.Tracer("engine").Start(ctx, "Engine.Reflect")
	defer span.End()

	outcome, err := e.reflect.Reflect(ctx, agentID, opts, ac)
	status := "success"
	if err != nil {
		status = string(memory.KindOf(err))
		if status == "" {
			status = "error"
		}
	}
	e.metrics.RecordReflection(status)
	return outcome, err
}

func idsOf(memories []*memory.Memory) []string {
	ids := make([]string, len(memories))
	for i, m := range memories {
		ids[i] = m.ID
	}
	return ids
}
