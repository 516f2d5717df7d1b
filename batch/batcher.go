// Package batch coalesces concurrent single-item embedding requests into
// provider batch calls (spec §4.3), trading per-call overhead for latency
// within a bounded window.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memkit/memkit/embedding"
	"github.com/memkit/memkit/internal/metrics"
)

// Config tunes the Batcher (spec §4.3 defaults).
type Config struct {
	BatchSize      int
	BatchTimeout   time.Duration
	WaiterDeadline time.Duration // total time Request waits for its reply, counted from enqueue
}

func DefaultConfig() Config {
	return Config{
		BatchSize:      32,
		BatchTimeout:   50 * time.Millisecond,
		WaiterDeadline: 60 * time.Second,
	}
}

// Opts carries per-request provider options. They are recorded on each
// queued entry but are not passed to the provider: every flush calls
// EmbedMany with the provider's own configured model, whatever Opts the
// entries carry.
type Opts struct {
	Model string
}

var ErrBatchFailed = errors.New("batch embedding call failed")

type pendingEntry struct {
	text  string
	opts  Opts
	reply chan entryResult
}

type entryResult struct {
	vec []float32
	err error
}

// Batcher is a single-threaded actor owning a pending-request queue and a
// "current timer nonce", matching spec §4.3/§9's model: flush is driven by
// queue size or by the nonce-bearing timer; stale nonces are discarded.
type Batcher struct {
	provider embedding.Provider
	cfg      Config
	logger   *zap.Logger

	mu    sync.Mutex
	queue []*pendingEntry
	nonce int64
	timer *time.Timer

	metrics *metrics.Collector
}

// SetMetrics attaches a Collector the batcher reports flush counts and
// sizes to (spec §9's "counters for … batch flushes"). Safe to call once
// after construction; nil is a valid no-op collector.
func (b *Batcher) SetMetrics(m *metrics.Collector) {
	b.metrics = m
}

func NewBatcher(provider embedding.Provider, cfg Config, logger *zap.Logger) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.WaiterDeadline <= 0 {
		cfg.WaiterDeadline = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "batcher")),
	}
}

// Request enqueues text for embedding and blocks until its embedding is
// available, the batch fails, or the waiter deadline elapses.
func (b *Batcher) Request(ctx context.Context, text string, opts Opts) ([]float32, error) {
	entry := &pendingEntry{text: text, opts: opts, reply: make(chan entryResult, 1)}
	b.enqueue(entry)

	deadline := time.NewTimer(b.cfg.WaiterDeadline)
	defer deadline.Stop()

	select {
	case res := <-entry.reply:
		return res.vec, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-deadline.C:
		return nil, errors.New("batcher wait deadline exceeded")
	}
}

func (b *Batcher) enqueue(entry *pendingEntry) {
	b.mu.Lock()
	b.queue = append(b.queue, entry)

	flushNow := len(b.queue) >= b.cfg.BatchSize
	if len(b.queue) == 1 && !flushNow {
		b.nonce++
		nonce := b.nonce
		if b.timer != nil {
			b.timer.Stop()
		}
		b.timer = time.AfterFunc(b.cfg.BatchTimeout, func() { b.onTimerFired(nonce) })
	}
	b.mu.Unlock()

	if flushNow {
		b.flush("size")
	}
}

// onTimerFired is the stale-timer guard of P8: a timer from a prior batch
// fires against the current nonce and is ignored if it no longer matches.
func (b *Batcher) onTimerFired(nonce int64) {
	b.mu.Lock()
	if nonce != b.nonce {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.flush("timeout")
}

// flush drains the queue atomically, invalidates the current timer nonce,
// then calls EmbedMany outside the lock so new requests may enqueue into a
// fresh batch while this one is in flight.
func (b *Batcher) flush(trigger string) {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}
	snapshot := b.queue
	b.queue = nil
	b.nonce++ // invalidate any outstanding timer for this batch
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RecordBatchFlush(trigger, len(snapshot))
	}

	texts := make([]string, len(snapshot))
	for i, e := range snapshot {
		texts[i] = e.text
	}

	vecs, err := b.provider.EmbedMany(context.Background(), texts)
	if err != nil {
		b.logger.Warn("batch embed failed", zap.Int("size", len(snapshot)), zap.Error(err))
		for _, e := range snapshot {
			e.reply <- entryResult{err: err}
		}
		return
	}
	if len(vecs) != len(snapshot) {
		err := ErrBatchFailed
		for _, e := range snapshot {
			e.reply <- entryResult{err: err}
		}
		return
	}

	for i, e := range snapshot {
		e.reply <- entryResult{vec: vecs[i]}
	}
}
