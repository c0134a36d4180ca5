// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// Package workpool runs submitted jobs on a bounded set of workers.
// Submissions are either awaited (the caller blocks with a timeout),
// fire-and-forget, or detached onto their own goroutine.
package workpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/datagate/datagate/gateway/gerr"
)

var mon = monkit.Package()

// Default wait deadlines per submission path.
const (
	DefaultAwaitTimeout   = 600 * time.Second
	DefaultAsyncTimeout   = 6000 * time.Second
	DefaultBlockOnTimeout = 30000 * time.Second
)

// Job is a unit of work; the returned value reaches only awaited
// callers.
type Job func(ctx context.Context) (any, error)

type result struct {
	value any
	err   error
}

type submission struct {
	ctx  context.Context
	job  Job // nil is the shutdown sentinel
	done chan result
}

// Counters is a snapshot of the pool's activity counters.
type Counters struct {
	Started   int64
	Completed int64
	Errored   int64
	Alive     int64
	Exited    int64
}

// Pool is a fixed-size worker pool.
type Pool struct {
	log  *zap.Logger
	jobs chan submission

	workers int

	started   atomic.Int64
	completed atomic.Int64
	errored   atomic.Int64
	alive     atomic.Int64
	exited    atomic.Int64

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New starts a pool with the given number of workers; non-positive
// means GOMAXPROCS.
func New(log *zap.Logger, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	pool := &Pool{
		log:     log,
		jobs:    make(chan submission, workers*64),
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		pool.alive.Add(1)
		go pool.worker()
	}
	return pool
}

func (pool *Pool) worker() {
	defer pool.wg.Done()
	defer pool.alive.Add(-1)
	defer pool.exited.Add(1)

	for sub := range pool.jobs {
		if sub.job == nil {
			// shutdown sentinel
			return
		}
		pool.run(sub)
	}
}

func (pool *Pool) run(sub submission) {
	defer func() {
		if rec := recover(); rec != nil {
			pool.errored.Add(1)
			pool.log.Error("worker job panicked", zap.Any("panic", rec))
			if sub.done != nil {
				sub.done <- result{err: gerr.Backend.New("job panic: %v", rec)}
			}
		}
	}()

	pool.started.Add(1)
	mon.Counter("tasks_started").Inc(1)

	value, err := sub.job(sub.ctx)
	if err != nil {
		pool.errored.Add(1)
		mon.Counter("tasks_errored").Inc(1)
	} else {
		pool.completed.Add(1)
		mon.Counter("tasks_completed").Inc(1)
	}
	if sub.done != nil {
		sub.done <- result{value: value, err: err}
	}
}

// Await submits a job and blocks until it finishes or the timeout
// elapses. A non-positive timeout means DefaultAwaitTimeout.
func (pool *Pool) Await(ctx context.Context, job Job, timeout time.Duration) (_ any, err error) {
	defer mon.Task()(&ctx)(&err)

	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}
	done := make(chan result, 1)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case pool.jobs <- submission{ctx: ctx, job: job, done: done}:
	case <-timer.C:
		return nil, gerr.Timeout.New("worker pool is saturated")
	case <-ctx.Done():
		return nil, gerr.Timeout.Wrap(ctx.Err())
	}

	select {
	case res := <-done:
		return res.value, res.err
	case <-timer.C:
		return nil, gerr.Timeout.New("job did not finish within %s", timeout)
	case <-ctx.Done():
		return nil, gerr.Timeout.Wrap(ctx.Err())
	}
}

// Fire submits a job without waiting for it. Errors are logged by the
// worker only.
func (pool *Pool) Fire(ctx context.Context, job Job) {
	wrapped := func(ctx context.Context) (any, error) {
		value, err := job(ctx)
		if err != nil {
			pool.log.Warn("fire-and-forget job failed", zap.Error(err))
		}
		return value, err
	}
	select {
	case pool.jobs <- submission{ctx: context.WithoutCancel(ctx), job: wrapped}:
	default:
		// queue full, run detached instead of blocking the caller
		pool.Detach(ctx, wrapped)
	}
}

// Detach runs a job on its own goroutine, outside the bounded workers,
// and counts its completion.
func (pool *Pool) Detach(ctx context.Context, job Job) {
	detached := context.WithoutCancel(ctx)
	pool.wg.Add(1)
	go func() {
		defer pool.wg.Done()
		pool.run(submission{ctx: detached, job: job})
	}()
}

// Counters returns a snapshot of the activity counters.
func (pool *Pool) Counters() Counters {
	return Counters{
		Started:   pool.started.Load(),
		Completed: pool.completed.Load(),
		Errored:   pool.errored.Load(),
		Alive:     pool.alive.Load(),
		Exited:    pool.exited.Load(),
	}
}

// Close delivers one shutdown sentinel per worker and waits for them
// and any detached jobs to exit.
func (pool *Pool) Close() error {
	pool.closeOnce.Do(func() {
		for i := 0; i < pool.workers; i++ {
			pool.jobs <- submission{}
		}
		pool.wg.Wait()
	})
	return nil
}
