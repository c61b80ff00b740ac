package scheduler

import (
	"context"
	"time"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/internal/consensus"
	"github.com/orvnode/orv/internal/ledger"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/libs/service"
	"github.com/orvnode/orv/types"
)

// OnlineWeight reports the vote weight currently online.
type OnlineWeight interface {
	Online() types.Amount
}

// Hinted starts elections for blocks that collected significant vote weight
// before the node scheduled them itself.
type Hinted struct {
	service.BaseService
	logger log.Logger

	cfg       *config.SchedulerConfig
	hintPct   uint64
	ledger    *ledger.Ledger
	elections Elections
	voteCache *consensus.VoteCache
	online    OnlineWeight
	metrics   *Metrics
}

// NewHinted returns a hinted scheduler. A cached block qualifies once its
// tally reaches hintPct percent of the online weight.
func NewHinted(
	logger log.Logger,
	cfg *config.SchedulerConfig,
	hintPct int,
	l *ledger.Ledger,
	elections Elections,
	voteCache *consensus.VoteCache,
	online OnlineWeight,
	metrics *Metrics,
) *Hinted {
	h := &Hinted{
		logger:    logger,
		cfg:       cfg,
		hintPct:   uint64(hintPct),
		ledger:    l,
		elections: elections,
		voteCache: voteCache,
		online:    online,
		metrics:   metrics,
	}
	h.BaseService = *service.NewBaseService(logger, "HintedScheduler", h)
	return h
}

// OnStart implements service.Service.
func (h *Hinted) OnStart(ctx context.Context) error {
	h.Spawn(ctx, h.run)
	return nil
}

// OnStop implements service.Service.
func (h *Hinted) OnStop() {}

// Schedule starts hinted elections for the best supported cached blocks
// while there is hinted vacancy, and returns how many were started. Cached
// votes for blocks that are already cemented are dropped.
func (h *Hinted) Schedule() int {
	if h.elections.Vacancy(types.BehaviorHinted) <= 0 {
		return 0
	}
	minTally := h.online.Online().Percent(h.hintPct)
	n := 0
	txn := h.ledger.Store().TxBeginRead()
	for _, entry := range h.voteCache.Top(minTally) {
		if h.elections.Vacancy(types.BehaviorHinted) <= 0 {
			break
		}
		block, ok := txn.Block(entry.Hash)
		if !ok {
			// unknown to us; keep the votes in case the block arrives
			continue
		}
		if h.ledger.BlockConfirmed(txn, entry.Hash) {
			h.voteCache.Erase(entry.Hash)
			continue
		}
		if h.elections.Insert(block, types.BehaviorHinted).Inserted {
			n++
			h.metrics.Activated.With("behavior", types.BehaviorHinted.String()).Add(1)
			h.logger.Debug("hinted election", "block", entry.Hash, "tally", entry.Tally)
		}
	}
	return n
}

func (h *Hinted) run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HintedCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.Quit():
			return
		case <-ticker.C:
			h.Schedule()
		}
	}
}
