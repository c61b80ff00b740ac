package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/orvnode/orv/libs/log"
)

var (
	// ErrAlreadyStarted is returned when somebody tries to start an already
	// running service.
	ErrAlreadyStarted = errors.New("already started")
	// ErrAlreadyStopped is returned when somebody tries to stop an already
	// stopped service (without resetting it).
	ErrAlreadyStopped = errors.New("already stopped")
	// ErrNotStarted is returned when somebody tries to stop a not running
	// service.
	ErrNotStarted = errors.New("not started")
)

// Service defines a service that can be started and stopped.
type Service interface {
	// Start is called to start the service, which should run until
	// the context terminates. If the service is already running, Start
	// must report an error.
	Start(context.Context) error

	// Stop stops the service and waits for its background routines.
	Stop() error

	// Return true if the service is running
	IsRunning() bool

	// String representation of the service
	String() string

	// Wait blocks until the service is stopped.
	Wait()
}

// Implementation describes the implementation that the
// BaseService implementation wraps.
type Implementation interface {
	Service

	// Called by the Services Start Method
	OnStart(context.Context) error

	// Called when the service's context is canceled.
	OnStop()
}

/*
BaseService carries the start/stop bookkeeping shared by every background
component of the node. Services embed it and implement OnStart/OnStop:

	type Worker struct {
		service.BaseService
	}

	func NewWorker(logger log.Logger) *Worker {
		w := &Worker{}
		w.BaseService = *service.NewBaseService(logger, "Worker", w)
		return w
	}

	func (w *Worker) OnStart(ctx context.Context) error {
		w.Spawn(ctx, w.loop)
		return nil
	}

	func (w *Worker) OnStop() {}

Routines launched with Spawn are joined by Stop, after OnStop returns and the
quit channel is closed, so a stopped service has no work in flight.

The caller must ensure that Start and Stop are not called concurrently.
*/
type BaseService struct {
	logger   log.Logger
	name     string
	started  uint32 // atomic
	stopped  uint32 // atomic
	quit     chan struct{}
	routines sync.WaitGroup

	// The "subclass" of BaseService
	impl Implementation
}

// NewBaseService creates a new BaseService.
func NewBaseService(logger log.Logger, name string, impl Implementation) *BaseService {
	return &BaseService{
		logger: logger,
		name:   name,
		quit:   make(chan struct{}),
		impl:   impl,
	}
}

// Start starts the Service and calls its OnStart method. An error will be
// returned if the service is already running or stopped.
func (bs *BaseService) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&bs.started, 0, 1) {
		return ErrAlreadyStarted
	}

	if atomic.LoadUint32(&bs.stopped) == 1 {
		bs.logger.Error("not starting service; already stopped", "service", bs.name)
		atomic.StoreUint32(&bs.started, 0)
		return ErrAlreadyStopped
	}

	bs.logger.Debug("starting service", "service", bs.name)

	if err := bs.impl.OnStart(ctx); err != nil {
		// revert flag
		atomic.StoreUint32(&bs.started, 0)
		return err
	}

	go func(ctx context.Context) {
		select {
		case <-bs.quit:
			// someone else explicitly called stop
			// and then we shouldn't.
			return
		case <-ctx.Done():
			// if nothing is running, no need to
			// shut down again.
			if !bs.impl.IsRunning() {
				return
			}

			// the context was cancel and we
			// should stop.
			if err := bs.Stop(); err != nil {
				bs.logger.Error("stopped service",
					"err", err.Error(),
					"service", bs.name)
			}
		}
	}(ctx)

	return nil
}

// Stop implements Service by calling OnStop, closing the quit channel and
// waiting for spawned routines. An error will be returned if the service is
// already stopped.
func (bs *BaseService) Stop() error {
	if !atomic.CompareAndSwapUint32(&bs.stopped, 0, 1) {
		return ErrAlreadyStopped
	}

	if atomic.LoadUint32(&bs.started) == 0 {
		bs.logger.Error("not stopping service; not started yet", "service", bs.name)
		atomic.StoreUint32(&bs.stopped, 0)
		return ErrNotStarted
	}

	bs.logger.Debug("stopping service", "service", bs.name)
	bs.impl.OnStop()
	close(bs.quit)
	bs.routines.Wait()

	return nil
}

// Spawn runs fn in a goroutine that Stop waits for. fn must return once the
// quit channel closes or ctx is done.
func (bs *BaseService) Spawn(ctx context.Context, fn func(context.Context)) {
	bs.routines.Add(1)
	go func() {
		defer bs.routines.Done()
		fn(ctx)
	}()
}

// IsRunning implements Service by returning true or false depending on the
// service's state.
func (bs *BaseService) IsRunning() bool {
	return atomic.LoadUint32(&bs.started) == 1 && atomic.LoadUint32(&bs.stopped) == 0
}

// Wait blocks until the service is stopped.
func (bs *BaseService) Wait() { <-bs.quit }

// Quit is closed once the service stops.
func (bs *BaseService) Quit() <-chan struct{} { return bs.quit }

// String implements Service by returning a string representation of the service.
func (bs *BaseService) String() string { return bs.name }
