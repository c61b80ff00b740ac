package node

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/libs/service"
)

// defaultWorkerQueueSize bounds the jobs waiting for a worker.
const defaultWorkerQueueSize = 16384

// workerPool runs background jobs, such as observer notifications, on at most
// a fixed number of goroutines. Submitting never blocks; jobs submitted to a
// saturated pool are dropped.
type workerPool struct {
	service.BaseService
	logger log.Logger

	threads int64
	sem     *semaphore.Weighted
	jobs    chan func()
	dropped func()
}

func newWorkerPool(logger log.Logger, threads int, dropped func()) *workerPool {
	wp := &workerPool{
		logger:  logger,
		threads: int64(threads),
		sem:     semaphore.NewWeighted(int64(threads)),
		jobs:    make(chan func(), defaultWorkerQueueSize),
		dropped: dropped,
	}
	wp.BaseService = *service.NewBaseService(logger, "WorkerPool", wp)
	return wp
}

func (wp *workerPool) OnStart(ctx context.Context) error {
	wp.Spawn(ctx, wp.dispatchRoutine)
	return nil
}

func (wp *workerPool) OnStop() {}

// Submit queues fn. It returns false if the queue is full.
func (wp *workerPool) Submit(fn func()) bool {
	select {
	case wp.jobs <- fn:
		return true
	default:
		wp.dropped()
		return false
	}
}

// dispatchRoutine hands jobs to goroutines and, on exit, waits for the
// ones still running.
func (wp *workerPool) dispatchRoutine(ctx context.Context) {
	defer func() {
		_ = wp.sem.Acquire(context.Background(), wp.threads)
		wp.sem.Release(wp.threads)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-wp.Quit():
			return
		case fn := <-wp.jobs:
			if err := wp.sem.Acquire(ctx, 1); err != nil {
				return
			}
			go func() {
				defer wp.sem.Release(1)
				wp.run(fn)
			}()
		}
	}
}

func (wp *workerPool) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("background job panicked", "err", r)
		}
	}()
	fn()
}
