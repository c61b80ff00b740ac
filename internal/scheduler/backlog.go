package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/internal/ledger"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/libs/service"
	"github.com/orvnode/orv/types"
)

// Activator takes an account with uncemented blocks. *Priority satisfies it.
type Activator interface {
	Activate(account types.Account) bool
}

// Backlog walks the account table in pages and hands every account whose
// confirmation height is below its block count to the activator. It catches
// accounts whose activation was missed, and those left uncemented across a
// restart.
type Backlog struct {
	service.BaseService
	logger log.Logger

	cfg       *config.SchedulerConfig
	ledger    *ledger.Ledger
	activator Activator
	metrics   *Metrics

	mtx    sync.Mutex
	cursor types.Account
	resume bool // cursor was scanned already
}

// NewBacklog returns a backlog scanner. Call Start to begin scanning.
func NewBacklog(
	logger log.Logger,
	cfg *config.SchedulerConfig,
	l *ledger.Ledger,
	activator Activator,
	metrics *Metrics,
) *Backlog {
	b := &Backlog{
		logger:    logger,
		cfg:       cfg,
		ledger:    l,
		activator: activator,
		metrics:   metrics,
	}
	b.BaseService = *service.NewBaseService(logger, "BacklogPopulation", b)
	return b
}

// OnStart implements service.Service. The first full pass runs before Start
// returns.
func (b *Backlog) OnStart(ctx context.Context) error {
	b.Populate()
	b.Spawn(ctx, b.run)
	return nil
}

// OnStop implements service.Service.
func (b *Backlog) OnStop() {}

// Populate scans every account once, starting from the beginning of the
// table, and returns the number of accounts activated.
func (b *Backlog) Populate() int {
	b.mtx.Lock()
	b.cursor, b.resume = types.Account{}, false
	b.mtx.Unlock()

	var total int
	for {
		n, wrapped := b.Step()
		total += n
		if wrapped {
			return total
		}
	}
}

// Step scans up to BacklogBatchSize accounts after the cursor. It returns the
// number of accounts activated and whether the scan reached the end of the
// table, in which case the next step starts over.
func (b *Backlog) Step() (activated int, wrapped bool) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	type candidate struct {
		account types.Account
		count   uint64
	}
	var (
		page []candidate
		more bool
	)
	txn := b.ledger.Store().TxBeginRead()
	err := txn.ForEachAccountFrom(b.cursor, func(account types.Account, info types.AccountInfo) bool {
		if b.resume && account == b.cursor {
			return true
		}
		if len(page) == b.cfg.BacklogBatchSize {
			more = true
			return false
		}
		page = append(page, candidate{account: account, count: info.BlockCount})
		return true
	})
	if err != nil {
		b.logger.Error("failed to scan accounts", "err", err)
		b.cursor, b.resume = types.Account{}, false
		return 0, true
	}

	// heights are read after the iterator is closed
	for _, c := range page {
		if txn.ConfirmationHeight(c.account).Height >= c.count {
			continue
		}
		if b.activator.Activate(c.account) {
			activated++
		}
	}
	if activated > 0 {
		b.metrics.BacklogActivated.Add(float64(activated))
	}

	if !more {
		b.cursor, b.resume = types.Account{}, false
		return activated, true
	}
	b.cursor, b.resume = page[len(page)-1].account, true
	return activated, false
}

func (b *Backlog) run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.BacklogScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.Quit():
			return
		case <-ticker.C:
			if n, _ := b.Step(); n > 0 {
				b.logger.Debug("backlog activated accounts", "count", n)
			}
		}
	}
}
