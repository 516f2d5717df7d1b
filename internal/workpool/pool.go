// Package workpool provides a bounded goroutine pool used by the Indexer's
// ephemeral mode (spec §4.4, §9) to run post-write embedding/link jobs
// without blocking the write caller.
package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed = errors.New("workpool is closed")
	ErrPoolFull   = errors.New("workpool is full")
)

// Job is a unit of indexing/linking work.
type Job func(ctx context.Context) error

// Pool manages a bounded set of worker goroutines that grow on demand up to
// MaxWorkers and shrink back down after IdleTimeout.
type Pool struct {
	maxWorkers  int
	jobQueue    chan jobWrapper
	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	idleTimeout  time.Duration
	panicHandler func(any)
}

type jobWrapper struct {
	job    Job
	ctx    context.Context
	result chan error
}

// Config tunes a Pool.
type Config struct {
	MaxWorkers   int
	QueueSize    int
	IdleTimeout  time.Duration
	PanicHandler func(any)
}

func DefaultConfig() Config {
	return Config{MaxWorkers: 32, QueueSize: 256, IdleTimeout: 60 * time.Second}
}

func NewPool(cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 32
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	return &Pool{
		maxWorkers:   cfg.MaxWorkers,
		jobQueue:     make(chan jobWrapper, cfg.QueueSize),
		idleTimeout:  cfg.IdleTimeout,
		panicHandler: cfg.PanicHandler,
	}
}

// Submit enqueues a job without waiting for its result (the Indexer's
// fire-and-forget ephemeral mode).
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	wrapper := jobWrapper{job: job, ctx: ctx}
	select {
	case p.jobQueue <- wrapper:
		p.ensureWorker()
		return nil
	default:
		if p.trySpawnWorker() {
			select {
			case p.jobQueue <- wrapper:
				return nil
			default:
			}
		}
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

// SubmitWait enqueues a job and blocks for its result, used by tests and by
// callers that need a synchronous drain point.
func (p *Pool) SubmitWait(ctx context.Context, job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	wrapper := jobWrapper{job: job, ctx: ctx, result: make(chan error, 1)}
	select {
	case p.jobQueue <- wrapper:
		p.ensureWorker()
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}

	select {
	case err := <-wrapper.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) ensureWorker() {
	if p.workerCount.Load() < int32(p.maxWorkers) {
		p.trySpawnWorker()
	}
}

func (p *Pool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case wrapper, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.activeCount.Add(1)
			err := p.runJob(wrapper)
			p.activeCount.Add(-1)

			if wrapper.result != nil {
				wrapper.result <- err
				close(wrapper.result)
			}
			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}
			timer.Reset(p.idleTimeout)

		case <-timer.C:
			if p.workerCount.Load() > 1 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *Pool) runJob(wrapper jobWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = errors.New("indexer job panicked")
		}
	}()
	return wrapper.job(wrapper.ctx)
}

// Close stops accepting jobs and waits for in-flight workers to drain.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.jobQueue)
	p.wg.Wait()
}

// Stats reports pool load, used by the metrics surface.
type Stats struct {
	Workers   int
	Active    int
	Queued    int
	Submitted int64
	Completed int64
	Failed    int64
	Rejected  int64
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.jobQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
