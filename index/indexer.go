// Package index implements the Indexer (spec §4.4): computing and
// persisting a memory's embedding after the initial synchronous write,
// then triggering auto-linking, in either an ephemeral worker-pool mode or
// a durable idempotency-guarded mode.
package index

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/memkit/memkit/backend"
	"github.com/memkit/memkit/batch"
	"github.com/memkit/memkit/internal/idempotency"
	"github.com/memkit/memkit/internal/metrics"
	"github.com/memkit/memkit/internal/workpool"
	"github.com/memkit/memkit/link"
	"github.com/memkit/memkit/memory"
)

// Mode selects how IndexMemoryAsync schedules work.
type Mode string

const (
	ModeEphemeral Mode = "ephemeral"
	ModeDurable   Mode = "durable"
)

// Config tunes the Indexer.
type Config struct {
	Mode         Mode
	AutoLink     bool
	DedupWindow  time.Duration // durable mode only, spec §4.4 default 60s
	MaxAttempts  int           // durable mode only, spec §4.4 default 3
	RetryBackoff time.Duration // durable mode only, initial backoff
}

func DefaultConfig() Config {
	return Config{
		Mode:         ModeEphemeral,
		AutoLink:     true,
		DedupWindow:  idempotency.DefaultWindow,
		MaxAttempts:  3,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// Indexer is mode-agnostic in its execute step (spec §4.4, §9); the mode
// only changes how that step is scheduled.
type Indexer struct {
	backend backend.Backend
	batcher *batch.Batcher
	linker  *link.Linker
	pool    *workpool.Pool
	idem    idempotency.Manager
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collector
}

// SetMetrics attaches a Collector the indexer reports job outcomes to by
// mode and status (spec §9's "counters for … index jobs").
func (idx *Indexer) SetMetrics(m *metrics.Collector) {
	idx.metrics = m
}

func NewIndexer(be backend.Backend, batcher *batch.Batcher, linker *link.Linker, pool *workpool.Pool, idem idempotency.Manager, cfg Config, logger *zap.Logger) *Indexer {
	if pool == nil {
		pool = workpool.NewPool(workpool.DefaultConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = idempotency.DefaultWindow
	}
	return &Indexer{
		backend: be, batcher: batcher, linker: linker, pool: pool, idem: idem,
		cfg: cfg, logger: logger.With(zap.String("component", "indexer")),
	}
}

// IndexMemoryAsync enqueues the embedding+link pipeline for m. It MUST NOT
// block the write caller (spec §4.4).
func (idx *Indexer) IndexMemoryAsync(ctx context.Context, m *memory.Memory, ac memory.AccessContext) error {
	switch idx.cfg.Mode {
	case ModeDurable:
		return idx.enqueueDurable(ctx, m, ac)
	default:
		return idx.enqueueEphemeral(m, ac)
	}
}

func (idx *Indexer) enqueueEphemeral(m *memory.Memory, ac memory.AccessContext) error {
	id := m.ID
	return idx.pool.Submit(context.Background(), func(ctx context.Context) error {
		err := idx.execute(ctx, id, ac)
		idx.recordJob(err)
		if err != nil {
			idx.logger.Warn("indexer job failed", zap.String("memory_id", id), zap.Error(err))
			return err
		}
		return nil
	})
}

// enqueueDurable claims a 60-second dedup window on the memory id before
// scheduling the job; a re-enqueue of the same id within the window is a
// silent no-op (spec §4.4's durable-mode uniqueness requirement).
func (idx *Indexer) enqueueDurable(ctx context.Context, m *memory.Memory, ac memory.AccessContext) error {
	if idx.idem == nil {
		return idx.enqueueEphemeral(m, ac)
	}

	claimed, err := idx.idem.TryClaim(ctx, m.ID, idx.cfg.DedupWindow)
	if err != nil {
		return err
	}
	if !claimed {
		idx.logger.Debug("indexer dedup: memory already enqueued", zap.String("memory_id", m.ID))
		return nil
	}

	id := m.ID
	return idx.pool.Submit(context.Background(), func(ctx context.Context) error {
		err := idx.executeWithRetry(ctx, id, ac)
		idx.recordJob(err)
		return err
	})
}

func (idx *Indexer) executeWithRetry(ctx context.Context, id string, ac memory.AccessContext) error {
	var lastErr error
	backoff := idx.cfg.RetryBackoff
	for attempt := 1; attempt <= idx.cfg.MaxAttempts; attempt++ {
		lastErr = idx.execute(ctx, id, ac)
		if lastErr == nil {
			return nil
		}
		if attempt < idx.cfg.MaxAttempts {
			idx.logger.Warn("durable indexer attempt failed, retrying",
				zap.String("memory_id", id), zap.Int("attempt", attempt), zap.Error(lastErr))
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	idx.logger.Warn("durable indexer exhausted retries", zap.String("memory_id", id), zap.Error(lastErr))
	return lastErr
}

// execute is the shared step sequence of spec §4.4, steps 1-5. It reloads
// the memory by id so the durable worker tolerates deletion between
// enqueue and execution.
func (idx *Indexer) execute(ctx context.Context, memoryID string, ac memory.AccessContext) error {
	m, err := idx.backend.GetMemory(ctx, memoryID, ac)
	if err != nil {
		if memory.KindOf(err) == memory.ErrNotFound {
			return nil // step 4: deleted in the interim is terminal success
		}
		return err
	}

	if idx.batcher == nil {
		return ErrNoBatcher
	}

	vec, err := idx.batcher.Request(ctx, m.Content, batch.Opts{})
	if err != nil {
		return err
	}

	m.Embedding = vec
	if err := idx.backend.PutMemory(ctx, m, ac); err != nil {
		if memory.KindOf(err) == memory.ErrNotFound {
			return nil
		}
		return err
	}

	if idx.cfg.AutoLink && idx.linker != nil {
		if _, err := idx.linker.LinkAsync(ctx, m, ac); err != nil {
			idx.logger.Warn("auto-link failed after indexing", zap.String("memory_id", memoryID), zap.Error(err))
		}
	}
	return nil
}

func (idx *Indexer) recordJob(err error) {
	if idx.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	idx.metrics.RecordIndexJob(string(idx.cfg.Mode), status)
}

var ErrNoBatcher = errors.New("indexer has no embedding batcher configured")
