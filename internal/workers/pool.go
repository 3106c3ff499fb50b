// Package workers provides the bounded worker pool used by P2. Adapted from the trading
// backend's internal/workers/pool.go, trimmed from its throughput-benchmark
// framing down to the pipeline's actual need: a fixed-size pool draining a
// bounded task queue with panic recovery and latency/backlog metrics.
package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/atlas-desktop/signal-pipeline/pkg/perrors"
)

// Task is a unit of work submitted to a Pool.
type Task func(ctx context.Context) error

// Pool manages a bounded number of concurrent task executions. Unlike a
// channel-fed goroutine pool, Pool uses a weighted semaphore (golang.org/x/sync)
// so Submit itself blocks (respecting ctx) once the pool is saturated, giving
// the phase's own bounded queue natural backpressure without an extra buffering layer.
type Pool struct {
	logger *zap.Logger
	config PoolConfig

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	metrics *Metrics
}

// PoolConfig configures a worker pool.
type PoolConfig struct {
	Name          string
	NumWorkers    int64
	TaskTimeout   time.Duration
	PanicRecovery bool
}

// DefaultPoolConfig returns this default of 8 concurrent workers.
func DefaultPoolConfig(name string) PoolConfig {
	return PoolConfig{
		Name:          name,
		NumWorkers:    8,
		TaskTimeout:   500 * time.Millisecond,
		PanicRecovery: true,
	}
}

// Metrics tracks pool throughput and failure counts, all via atomics so
// Submit never takes a lock on the success path.
type Metrics struct {
	Submitted      int64
	Completed      int64
	Failed         int64
	TimedOut       int64
	PanicRecovered int64
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	Submitted, Completed, Failed, TimedOut, PanicRecovered int64
}

func (m *Metrics) snapshot() Snapshot {
	return Snapshot{
		Submitted:      atomic.LoadInt64(&m.Submitted),
		Completed:      atomic.LoadInt64(&m.Completed),
		Failed:         atomic.LoadInt64(&m.Failed),
		TimedOut:       atomic.LoadInt64(&m.TimedOut),
		PanicRecovered: atomic.LoadInt64(&m.PanicRecovered),
	}
}

// NewPool creates a worker pool bounded to config.NumWorkers concurrent tasks.
func NewPool(logger *zap.Logger, config PoolConfig) *Pool {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 8
	}
	return &Pool{
		logger:  logger.Named("pool." + config.Name),
		config:  config,
		sem:     semaphore.NewWeighted(config.NumWorkers),
		metrics: &Metrics{},
	}
}

// Submit runs task under the pool's concurrency bound. It blocks until a slot
// is free or ctx is cancelled. The task itself is given a derived context with
// config.TaskTimeout. When config.PanicRecovery is set, a panic inside task is
// recovered into a Fatal-classed error with reason "panic_recovered" and
// logged under the pool's name instead of propagating as a runtime panic.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return perrors.NewDeadline("pool_saturated", err)
	}
	atomic.AddInt64(&p.metrics.Submitted, 1)
	p.wg.Add(1)
	defer p.wg.Done()
	defer p.sem.Release(1)

	taskCtx := ctx
	var cancel context.CancelFunc
	if p.config.TaskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, p.config.TaskTimeout)
		defer cancel()
	}

	err := p.runRecovered(taskCtx, task)
	switch {
	case err == nil:
		atomic.AddInt64(&p.metrics.Completed, 1)
	case perrors.Is(err, perrors.Deadline):
		atomic.AddInt64(&p.metrics.TimedOut, 1)
	default:
		atomic.AddInt64(&p.metrics.Failed, 1)
	}
	return err
}

func (p *Pool) runRecovered(ctx context.Context, task Task) error {
	done := make(chan error, 1)
	go func() {
		if p.config.PanicRecovery {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddInt64(&p.metrics.PanicRecovered, 1)
					p.logger.Error("recovered panic in pool task", zap.Any("panic", r))
					done <- perrors.NewFatal("panic_recovered", nil)
				}
			}()
		}
		done <- task(ctx)
	}()

	select {
	case e := <-done:
		return e
	case <-ctx.Done():
		return perrors.NewDeadline("task_deadline_exceeded", ctx.Err())
	}
}

// Wait blocks until every in-flight task submitted so far has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Snapshot {
	return p.metrics.snapshot()
}
