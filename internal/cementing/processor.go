package cementing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/internal/ledger"
	"github.com/orvnode/orv/internal/store"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/types"
)

var (
	// ErrLedgerInconsistent is returned when a block needed for cementation
	// is missing from the ledger and was not pruned.
	ErrLedgerInconsistent = errors.New("ledger inconsistent")
	// ErrAccountHalted is returned for blocks of an account whose
	// cementation stopped after a consistency error.
	ErrAccountHalted = errors.New("cementation halted for account")
)

// CementedBlock is one block made irreversible. Election is set when the
// block won an election that handed it over for cementation.
type CementedBlock struct {
	Block    *types.Block
	Election *types.ElectionStatus
}

// Target is a block to cement together with everything it depends on.
type Target struct {
	Hash     types.Hash
	Election *types.ElectionStatus
}

// Processor raises confirmation heights. Cementing a block first cements
// every block it depends on: earlier blocks of its account and, for
// receives, the sends they pull, recursively. Blocks are committed in
// dependency order and observers see them in commit order.
type Processor struct {
	logger  log.Logger
	cfg     *config.CementingConfig
	ledger  *ledger.Ledger
	metrics *Metrics

	mtx       sync.Mutex
	halted    map[types.Account]error
	observers []func(CementedBlock)

	now func() time.Time
}

// NewProcessor returns a processor writing to the store of l.
func NewProcessor(logger log.Logger, cfg *config.CementingConfig, l *ledger.Ledger, metrics *Metrics) *Processor {
	return &Processor{
		logger:  logger,
		cfg:     cfg,
		ledger:  l,
		metrics: metrics,
		halted:  make(map[types.Account]error),
		now:     time.Now,
	}
}

// AddObserver registers fn to be called for every cemented block after its
// batch committed. Observers run on the cementing goroutine, in commit
// order, and must not block.
func (p *Processor) AddObserver(fn func(CementedBlock)) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.observers = append(p.observers, fn)
}

// Halted returns the error that stopped cementation for account, if any.
func (p *Processor) Halted(account types.Account) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.halted[account]
}

func (p *Processor) halt(account types.Account, err error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if _, ok := p.halted[account]; !ok {
		p.halted[account] = err
	}
}

// Cement cements targets, splitting the work into commits of at most
// MaxBatchSize blocks or BatchMaxTime. Targets whose cementation fails
// because of ledger inconsistency are skipped and reported in the returned
// map; the rest of the work continues. A failed commit aborts the call and
// returns the error: the caller must retry the targets, already cemented
// blocks are skipped the second time.
func (p *Processor) Cement(ctx context.Context, targets []Target) (map[types.Hash]error, error) {
	b := &batch{p: p}
	defer b.discard()

	failed := make(map[types.Hash]error)
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		if err := p.cementTarget(ctx, b, target); err != nil {
			if errors.Is(err, ErrLedgerInconsistent) || errors.Is(err, ErrAccountHalted) {
				failed[target.Hash] = err
				continue
			}
			return failed, err
		}
	}
	return failed, b.flush()
}

// span is the uncemented part of an account chain below a target, lowest
// block first. next is the index of the first block whose source has not
// been checked yet.
type span struct {
	blocks []*types.Block
	next   int
}

// cementTarget walks the dependencies of target with an explicit stack. A
// block is cemented only after all blocks below it in its account and the
// sources of its receives are cemented.
func (p *Processor) cementTarget(ctx context.Context, b *batch, target Target) error {
	stack := []types.Hash{target.Hash}
	spans := make(map[types.Hash]*span)

	for len(stack) > 0 {
		if err := b.ensure(ctx); err != nil {
			return err
		}
		hash := stack[len(stack)-1]

		block, ok := b.txn.Block(hash)
		if !ok {
			if p.explainedByPruning(b.txn, hash) {
				stack = stack[:len(stack)-1]
				continue
			}
			// the receive below it on the stack can never be cemented
			var account types.Account
			if len(stack) > 1 {
				if dependent, ok := b.txn.Block(stack[len(stack)-2]); ok {
					account = dependent.Account()
					p.halt(account, fmt.Errorf("source %v missing", hash))
				}
			}
			return p.inconsistent(target.Hash, hash, account, "block missing")
		}
		account := block.Account()
		if err := p.Halted(account); err != nil {
			return fmt.Errorf("%w %v: %v", ErrAccountHalted, account, err)
		}
		info := b.txn.ConfirmationHeight(account)
		if block.Height() <= info.Height {
			stack = stack[:len(stack)-1]
			continue
		}

		s, ok := spans[hash]
		if !ok {
			blocks, err := p.collect(b.txn, block, info.Height)
			if err != nil {
				p.halt(account, err)
				return p.inconsistent(target.Hash, hash, account, err.Error())
			}
			s = &span{blocks: blocks}
			spans[hash] = s
		}

		if src, pending := p.pendingSource(b.txn, s); pending {
			stack = append(stack, src)
			continue
		}

		var election *types.ElectionStatus
		if hash == target.Hash {
			election = target.Election
		}
		if err := b.cementSpan(ctx, account, s.blocks, election); err != nil {
			return err
		}
		delete(spans, hash)
		stack = stack[:len(stack)-1]
	}
	return nil
}

// collect returns the blocks of the account of top above height, lowest
// first.
func (p *Processor) collect(r store.Reader, top *types.Block, height uint64) ([]*types.Block, error) {
	n := top.Height() - height
	blocks := make([]*types.Block, n)
	blocks[n-1] = top
	for i := int(n) - 2; i >= 0; i-- {
		prev := blocks[i+1].Previous()
		block, ok := r.Block(prev)
		if !ok {
			if p.explainedByPruning(r, prev) {
				return blocks[i+1:], nil
			}
			return nil, fmt.Errorf("previous block %v of %v missing", prev, blocks[i+1].Hash())
		}
		blocks[i] = block
	}
	return blocks, nil
}

// pendingSource advances s past blocks whose sources are cemented and
// returns the first source that is not.
func (p *Processor) pendingSource(r store.Reader, s *span) (types.Hash, bool) {
	for ; s.next < len(s.blocks); s.next++ {
		block := s.blocks[s.next]
		for _, dep := range p.ledger.Dependents(block) {
			if dep == block.Previous() {
				continue
			}
			if !p.ledger.BlockConfirmed(r, dep) {
				return dep, true
			}
		}
	}
	return types.Hash{}, false
}

func (p *Processor) explainedByPruning(r store.Reader, hash types.Hash) bool {
	return p.cfg.Pruning && r.Pruned(hash)
}

func (p *Processor) inconsistent(target, hash types.Hash, account types.Account, reason string) error {
	p.metrics.Errors.Add(1)
	p.logger.Error("ledger inconsistency during cementation; halting account",
		"target", target, "hash", hash, "account", account, "reason", reason)
	return fmt.Errorf("%w: %s (block %v)", ErrLedgerInconsistent, reason, hash)
}

func (p *Processor) notify(blocks []CementedBlock) {
	p.mtx.Lock()
	observers := p.observers
	p.mtx.Unlock()
	for _, cb := range blocks {
		for _, fn := range observers {
			fn(cb)
		}
	}
}

//-----------------------------------------------------------------------------

// batch is the open write transaction of a Cement call with the blocks
// staged in it.
type batch struct {
	p       *Processor
	txn     *store.WriteTxn
	started time.Time
	blocks  []CementedBlock
}

// ensure opens a write transaction if none is open.
func (b *batch) ensure(ctx context.Context) error {
	if b.txn != nil {
		return nil
	}
	txn, err := b.p.ledger.Store().TxBeginWrite(ctx, store.WriterConfirmationHeight)
	if err != nil {
		return err
	}
	b.txn = txn
	b.started = b.p.now()
	return nil
}

func (b *batch) full() bool {
	return len(b.blocks) >= b.p.cfg.MaxBatchSize || b.p.now().Sub(b.started) >= b.p.cfg.BatchMaxTime
}

// cementSpan raises the confirmation height of account through blocks,
// committing whenever the batch fills up. Blocks a previous step already
// cemented are skipped.
func (b *batch) cementSpan(ctx context.Context, account types.Account, blocks []*types.Block, election *types.ElectionStatus) error {
	for len(blocks) > 0 {
		if err := b.ensure(ctx); err != nil {
			return err
		}
		info := b.txn.ConfirmationHeight(account)
		for len(blocks) > 0 && blocks[0].Height() <= info.Height {
			blocks = blocks[1:]
		}
		if len(blocks) == 0 {
			return nil
		}

		n := b.p.cfg.MaxBatchSize - len(b.blocks)
		if n < 1 {
			n = 1
		}
		if n > len(blocks) {
			n = len(blocks)
		}
		chunk := blocks[:n]
		blocks = blocks[n:]

		top := chunk[len(chunk)-1]
		b.txn.ConfirmationHeightPut(account, types.ConfirmationHeightInfo{Height: top.Height(), Frontier: top.Hash()})
		b.txn.CementedCountPut(b.txn.CementedCount() + uint64(len(chunk)))
		for _, block := range chunk {
			cb := CementedBlock{Block: block}
			if len(blocks) == 0 && block == top {
				cb.Election = election
			}
			b.blocks = append(b.blocks, cb)
		}

		if b.full() {
			if err := b.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// flush commits the open transaction and notifies observers.
func (b *batch) flush() error {
	if b.txn == nil {
		return nil
	}
	txn, blocks := b.txn, b.blocks
	b.txn, b.blocks = nil, nil

	start := b.p.now()
	if err := txn.Commit(); err != nil {
		b.p.metrics.Errors.Add(1)
		b.p.logger.Error("failed to commit cemented blocks", "blocks", len(blocks), "err", err)
		return err
	}
	b.p.metrics.CommitDuration.Observe(b.p.now().Sub(start).Seconds())
	b.p.metrics.BatchSize.Observe(float64(len(blocks)))
	b.p.metrics.CementedBlocks.Add(float64(len(blocks)))
	if len(blocks) > 0 {
		b.p.logger.Debug("cemented blocks", "count", len(blocks), "last", blocks[len(blocks)-1].Block.Hash())
	}
	b.p.notify(blocks)
	return nil
}

func (b *batch) discard() {
	if b.txn != nil {
		b.txn.Discard()
		b.txn = nil
	}
}
