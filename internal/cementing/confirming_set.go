package cementing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/internal/ledger"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/libs/service"
	"github.com/orvnode/orv/types"
)

// ErrConfirmingSetFull is returned by Add when MaxQueued hashes are waiting.
var ErrConfirmingSetFull = errors.New("confirming set full")

// ConfirmingSet queues confirmed blocks for cementation, so callers never
// wait on disk writes. A single worker drains the queue into the Processor,
// hashes added with priority first.
type ConfirmingSet struct {
	service.BaseService
	logger log.Logger

	cfg       *config.CementingConfig
	ledger    *ledger.Ledger
	processor *Processor
	metrics   *Metrics

	mtx      sync.Mutex
	priority []Target
	normal   []Target
	// queued holds every hash added and not yet processed, including the
	// batch in flight
	queued map[types.Hash]struct{}
	wake   chan struct{}
}

// NewConfirmingSet returns a set feeding processor. Call Start to run the
// worker.
func NewConfirmingSet(
	logger log.Logger,
	cfg *config.CementingConfig,
	l *ledger.Ledger,
	processor *Processor,
	metrics *Metrics,
) *ConfirmingSet {
	cs := &ConfirmingSet{
		logger:    logger,
		cfg:       cfg,
		ledger:    l,
		processor: processor,
		metrics:   metrics,
		queued:    make(map[types.Hash]struct{}),
		wake:      make(chan struct{}, 1),
	}
	cs.BaseService = *service.NewBaseService(logger, "ConfirmingSet", cs)
	return cs
}

func (cs *ConfirmingSet) OnStart(ctx context.Context) error {
	cs.Spawn(ctx, cs.run)
	return nil
}

func (cs *ConfirmingSet) OnStop() {}

// AddElection queues the winner of a confirmed election with priority. The
// status is handed to observers with the cemented winner.
func (cs *ConfirmingSet) AddElection(status types.ElectionStatus) error {
	st := status
	return cs.add(Target{Hash: status.Winner.Hash(), Election: &st}, true)
}

// Add queues hash for cementation. Adding a hash already queued or already
// cemented does nothing.
func (cs *ConfirmingSet) Add(hash types.Hash, priority bool) error {
	return cs.add(Target{Hash: hash}, priority)
}

func (cs *ConfirmingSet) add(target Target, priority bool) error {
	if cs.ledger.BlockConfirmed(cs.ledger.Store().TxBeginRead(), target.Hash) {
		return nil
	}

	cs.mtx.Lock()
	if _, ok := cs.queued[target.Hash]; ok {
		cs.mtx.Unlock()
		return nil
	}
	if len(cs.queued) >= cs.cfg.MaxQueued {
		cs.mtx.Unlock()
		cs.metrics.ConfirmingSetRejected.Add(1)
		return ErrConfirmingSetFull
	}
	cs.queued[target.Hash] = struct{}{}
	if priority {
		cs.priority = append(cs.priority, target)
	} else {
		cs.normal = append(cs.normal, target)
	}
	cs.metrics.ConfirmingSetSize.Set(float64(len(cs.queued)))
	cs.mtx.Unlock()

	select {
	case cs.wake <- struct{}{}:
	default:
	}
	return nil
}

// Exists reports whether hash is waiting to be cemented.
func (cs *ConfirmingSet) Exists(hash types.Hash) bool {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	_, ok := cs.queued[hash]
	return ok
}

// Size returns the number of hashes waiting, the batch in flight included.
func (cs *ConfirmingSet) Size() int {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	return len(cs.queued)
}

// Vacancy returns how many more hashes can be added.
func (cs *ConfirmingSet) Vacancy() int {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	if v := cs.cfg.MaxQueued - len(cs.queued); v > 0 {
		return v
	}
	return 0
}

// next pops up to n targets, priority ones first.
func (cs *ConfirmingSet) next(n int) []Target {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	out := make([]Target, 0, n)
	for _, q := range []*[]Target{&cs.priority, &cs.normal} {
		k := n - len(out)
		if k > len(*q) {
			k = len(*q)
		}
		out = append(out, (*q)[:k]...)
		*q = (*q)[k:]
	}
	return out
}

// requeue puts targets back at the head of the queue after a failed commit.
func (cs *ConfirmingSet) requeue(targets []Target) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	cs.priority = append(append([]Target(nil), targets...), cs.priority...)
}

func (cs *ConfirmingSet) done(targets []Target) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	for _, t := range targets {
		delete(cs.queued, t.Hash)
	}
	cs.metrics.ConfirmingSetSize.Set(float64(len(cs.queued)))
}

func (cs *ConfirmingSet) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-cs.Quit():
			return
		case <-cs.wake:
		}
		if !cs.debounce(ctx) {
			return
		}
		if !cs.drain(ctx) {
			return
		}
	}
}

// debounce lets a backlog grow into a fuller batch for up to BatchMinTime.
// A lone hash is cemented right away. It returns false on shutdown.
func (cs *ConfirmingSet) debounce(ctx context.Context) bool {
	if n := cs.Size(); n <= 1 || n >= cs.cfg.MaxBatchSize {
		return true
	}
	timer := time.NewTimer(cs.cfg.BatchMinTime)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-cs.Quit():
			return false
		case <-timer.C:
			return true
		case <-cs.wake:
			if cs.Size() >= cs.cfg.MaxBatchSize {
				return true
			}
		}
	}
}

// drain cements until the queue is empty. It returns false on shutdown.
func (cs *ConfirmingSet) drain(ctx context.Context) bool {
	for {
		select {
		case <-cs.Quit():
			return false
		default:
		}
		targets := cs.next(cs.cfg.MaxBatchSize)
		if len(targets) == 0 {
			return true
		}
		failed, err := cs.processor.Cement(ctx, targets)
		if err != nil {
			cs.requeue(targets)
			if ctx.Err() != nil {
				return false
			}
			cs.logger.Error("cementation failed; retrying", "targets", len(targets), "err", err)
			select {
			case <-ctx.Done():
				return false
			case <-cs.Quit():
				return false
			case <-time.After(cs.cfg.BatchMaxTime):
			}
			continue
		}
		for hash, err := range failed {
			cs.logger.Error("could not cement block", "hash", hash, "err", err)
		}
		cs.done(targets)
	}
}
