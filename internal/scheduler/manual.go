package scheduler

import (
	"context"
	"sync"

	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/libs/service"
	"github.com/orvnode/orv/types"
)

// Manual starts elections requested explicitly, regardless of the state of
// their dependencies. Manual elections are not bound by the container size.
type Manual struct {
	service.BaseService
	logger log.Logger

	elections Elections
	metrics   *Metrics

	mtx   sync.Mutex
	queue []*types.Block

	wake chan struct{}
}

// NewManual returns a manual scheduler.
func NewManual(logger log.Logger, elections Elections, metrics *Metrics) *Manual {
	m := &Manual{
		logger:    logger,
		elections: elections,
		metrics:   metrics,
		wake:      make(chan struct{}, 1),
	}
	m.BaseService = *service.NewBaseService(logger, "ManualScheduler", m)
	return m
}

// OnStart implements service.Service.
func (m *Manual) OnStart(ctx context.Context) error {
	m.Spawn(ctx, m.run)
	return nil
}

// OnStop implements service.Service.
func (m *Manual) OnStop() {}

// Push queues block for a manual election.
func (m *Manual) Push(block *types.Block) {
	m.mtx.Lock()
	m.queue = append(m.queue, block)
	m.metrics.ManualSize.Set(float64(len(m.queue)))
	m.mtx.Unlock()
	signal(m.wake)
}

// Len returns the number of queued blocks.
func (m *Manual) Len() int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return len(m.queue)
}

// Schedule inserts every queued block and returns how many elections were
// started.
func (m *Manual) Schedule() int {
	m.mtx.Lock()
	queue := m.queue
	m.queue = nil
	m.metrics.ManualSize.Set(0)
	m.mtx.Unlock()

	n := 0
	for _, block := range queue {
		if m.elections.Insert(block, types.BehaviorManual).Inserted {
			n++
			m.metrics.Activated.With("behavior", types.BehaviorManual.String()).Add(1)
		}
	}
	return n
}

func (m *Manual) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.Quit():
			return
		case <-m.wake:
			m.Schedule()
		}
	}
}
