package scheduler

import (
	"context"
	"sync"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/internal/ledger"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/libs/service"
	"github.com/orvnode/orv/types"
)

// Priority starts elections for the next uncemented block of accounts whose
// dependencies are already cemented. Blocks wait in balance buckets that are
// drained round-robin whenever the election container has room.
type Priority struct {
	service.BaseService
	logger log.Logger

	cfg       *config.SchedulerConfig
	ledger    *ledger.Ledger
	elections Elections
	metrics   *Metrics

	mtx     sync.Mutex
	buckets []*bucket
	current int
	size    int

	wake chan struct{}
}

// NewPriority returns a priority scheduler. Call Start to begin inserting
// elections.
func NewPriority(
	logger log.Logger,
	cfg *config.SchedulerConfig,
	l *ledger.Ledger,
	elections Elections,
	metrics *Metrics,
) *Priority {
	p := &Priority{
		logger:    logger,
		cfg:       cfg,
		ledger:    l,
		elections: elections,
		metrics:   metrics,
		buckets:   make([]*bucket, len(bucketBoundaries)),
		wake:      make(chan struct{}, 1),
	}
	for i := range p.buckets {
		p.buckets[i] = newBucket(cfg.PriorityBucketSize)
	}
	p.BaseService = *service.NewBaseService(logger, "PriorityScheduler", p)
	return p
}

// OnStart implements service.Service.
func (p *Priority) OnStart(ctx context.Context) error {
	p.Spawn(ctx, p.run)
	return nil
}

// OnStop implements service.Service.
func (p *Priority) OnStop() {}

// Notify wakes the scheduler, for example when an election slot frees up.
func (p *Priority) Notify() { signal(p.wake) }

// Activate queues the next uncemented block of account if all of its
// dependencies are cemented. It reports whether a block was queued; calling
// it again for the same block is a no-op.
func (p *Priority) Activate(account types.Account) bool {
	txn := p.ledger.Store().TxBeginRead()
	info, ok := txn.Account(account)
	if !ok {
		return false
	}
	block, ok := p.ledger.NextUncemented(txn, account)
	if !ok {
		return false
	}
	if !p.ledger.DependentsConfirmed(txn, block) {
		return false
	}
	balance := info.Balance
	if conf := txn.ConfirmationHeight(account); !conf.Frontier.IsZero() {
		if prev, ok := txn.Block(conf.Frontier); ok {
			balance = balance.Max(prev.Balance())
		}
	}
	if !p.push(balance, &entry{time: info.Modified, block: block}) {
		return false
	}
	p.logger.Debug("activated account", "account", account, "block", block.Hash(), "height", block.Height())
	p.Notify()
	return true
}

func (p *Priority) push(balance types.Amount, e *entry) bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	b := p.buckets[bucketIndex(balance)]
	before := b.len()
	added, overflow := b.push(e)
	if overflow {
		p.metrics.PriorityOverflow.Add(1)
	}
	p.size += b.len() - before
	p.metrics.PrioritySize.Set(float64(p.size))
	return added
}

// pop takes the next block round-robin across non-empty buckets.
func (p *Priority) pop() (*types.Block, bool) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for i := 0; i < len(p.buckets); i++ {
		b := p.buckets[p.current]
		p.current = (p.current + 1) % len(p.buckets)
		if e, ok := b.pop(); ok {
			p.size--
			p.metrics.PrioritySize.Set(float64(p.size))
			return e.block, true
		}
	}
	return nil, false
}

// Len returns the number of queued blocks.
func (p *Priority) Len() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.size
}

// Schedule inserts queued blocks while there is priority vacancy and returns
// how many elections were started.
func (p *Priority) Schedule() int {
	n := 0
	for p.elections.Vacancy(types.BehaviorPriority) > 0 {
		block, ok := p.pop()
		if !ok {
			break
		}
		res := p.elections.Insert(block, types.BehaviorPriority)
		if res.Inserted {
			n++
			p.metrics.Activated.With("behavior", types.BehaviorPriority.String()).Add(1)
		}
	}
	return n
}

func (p *Priority) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.Quit():
			return
		case <-p.wake:
			p.Schedule()
		}
	}
}
