package node

import (
	"context"
	"fmt"

	"github.com/orvnode/orv/internal/consensus"
	"github.com/orvnode/orv/internal/ledger"
	"github.com/orvnode/orv/internal/network"
	"github.com/orvnode/orv/internal/scheduler"
	"github.com/orvnode/orv/internal/store"
	"github.com/orvnode/orv/internal/uniquer"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/libs/service"
	"github.com/orvnode/orv/types"
)

// BlockProcessor applies blocks to the ledger and hands the outcome to the
// elections: new blocks activate their account in the priority scheduler and
// forks join the election for their root.
type BlockProcessor struct {
	service.BaseService
	logger log.Logger

	ledger   *ledger.Ledger
	active   *consensus.ActiveElections
	priority *scheduler.Priority
	filter   *network.Filter
	blocks   *uniquer.Uniquer[*types.Block]
	metrics  *Metrics

	queue chan *types.Block

	// rolledBack is called for every block removed by Force.
	rolledBack func(*types.Block)
}

var _ consensus.WinnerForcer = (*BlockProcessor)(nil)

// NewBlockProcessor returns a processor with room for queueSize blocks.
func NewBlockProcessor(
	logger log.Logger,
	queueSize int,
	l *ledger.Ledger,
	active *consensus.ActiveElections,
	priority *scheduler.Priority,
	filter *network.Filter,
	blocks *uniquer.Uniquer[*types.Block],
	metrics *Metrics,
) *BlockProcessor {
	bp := &BlockProcessor{
		logger:     logger,
		ledger:     l,
		active:     active,
		priority:   priority,
		filter:     filter,
		blocks:     blocks,
		metrics:    metrics,
		queue:      make(chan *types.Block, queueSize),
		rolledBack: func(*types.Block) {},
	}
	bp.BaseService = *service.NewBaseService(logger, "BlockProcessor", bp)
	return bp
}

// OnStart implements service.Service.
func (bp *BlockProcessor) OnStart(ctx context.Context) error {
	bp.Spawn(ctx, bp.processRoutine)
	return nil
}

// OnStop implements service.Service.
func (bp *BlockProcessor) OnStop() {}

// ProcessActive queues a block received from the network. It returns false
// if the block was seen recently or the queue is full.
func (bp *BlockProcessor) ProcessActive(block *types.Block) bool {
	block = bp.blocks.Unique(block)
	if _, seen := bp.filter.ApplyBlock(block); seen {
		return false
	}
	select {
	case bp.queue <- block:
		bp.metrics.BlockQueueSize.Set(float64(len(bp.queue)))
		return true
	default:
		bp.filter.ClearBlock(block)
		bp.metrics.BlocksOverflow.Add(1)
		return false
	}
}

// Len returns the number of queued blocks.
func (bp *BlockProcessor) Len() int { return len(bp.queue) }

func (bp *BlockProcessor) processRoutine(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-bp.Quit():
			return
		case block := <-bp.queue:
			bp.metrics.BlockQueueSize.Set(float64(len(bp.queue)))
			if _, err := bp.Process(ctx, block); err != nil {
				bp.logger.Error("failed to process block", "hash", block.Hash(), "err", err)
			}
		}
	}
}

// Process applies block synchronously and returns the ledger result.
func (bp *BlockProcessor) Process(ctx context.Context, block *types.Block) (ledger.ProcessResult, error) {
	txn, err := bp.ledger.Store().TxBeginWrite(ctx, store.WriterBlockProcessor)
	if err != nil {
		return ledger.ProcessResult{}, err
	}
	defer txn.Discard()

	res := bp.ledger.Process(txn, block)
	if res.Code == ledger.Progress {
		if err := txn.Commit(); err != nil {
			return res, fmt.Errorf("committing block %v: %w", block.Hash(), err)
		}
	}
	txn.Discard()
	bp.processed(block, res)
	return res, nil
}

func (bp *BlockProcessor) processed(block *types.Block, res ledger.ProcessResult) {
	bp.metrics.BlocksProcessed.With("result", res.Code.String()).Add(1)
	switch res.Code {
	case ledger.Progress:
		bp.logger.Debug("processed block", "hash", block.Hash(), "account", res.Block.Account())
		bp.priority.Activate(res.Block.Account())
	case ledger.Fork:
		bp.fork(block)
	case ledger.Old:
	case ledger.GapPrevious, ledger.GapSource:
		// forget the block so it can be processed once its dependency arrives
		bp.filter.ClearBlock(block)
		bp.logger.Debug("gap", "hash", block.Hash(), "result", res.Code)
	default:
		bp.logger.Debug("rejected block", "hash", block.Hash(), "result", res.Code)
	}
}

// fork adds block to the election for its root, starting one for the block
// the ledger holds if needed.
func (bp *BlockProcessor) fork(block *types.Block) {
	if bp.active.Publish(block) {
		return
	}
	existing, ok := bp.ledger.Successor(bp.ledger.Store().TxBeginRead(), block.QualifiedRoot())
	if !ok {
		return
	}
	if res := bp.active.Insert(existing, types.BehaviorPriority); res.Election != nil {
		bp.active.Publish(block)
	}
	bp.logger.Debug("fork", "hash", block.Hash(), "ledger", existing.Hash(), "root", block.QualifiedRoot())
}

// Force puts block into the ledger, first rolling back whichever block
// holds its root. Elections for the blocks rolled back are erased.
func (bp *BlockProcessor) Force(ctx context.Context, block *types.Block) error {
	txn, err := bp.ledger.Store().TxBeginWrite(ctx, store.WriterBlockProcessor)
	if err != nil {
		return err
	}
	defer txn.Discard()

	var rolled []*types.Block
	if existing, ok := bp.ledger.Successor(txn, block.QualifiedRoot()); ok && existing.Hash() != block.Hash() {
		rolled, err = bp.ledger.Rollback(txn, existing.Hash())
		if err != nil {
			return fmt.Errorf("rolling back %v for %v: %w", existing.Hash(), block.Hash(), err)
		}
	}
	res := bp.ledger.Process(txn, block)
	if res.Code != ledger.Progress {
		return fmt.Errorf("forcing block %v: %v", block.Hash(), res.Code)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("committing forced block %v: %w", block.Hash(), err)
	}

	for _, b := range rolled {
		bp.logger.Info("rolled back block", "hash", b.Hash(), "account", b.Account(), "winner", block.Hash())
		bp.metrics.RolledBack.Add(1)
		if b.QualifiedRoot() != block.QualifiedRoot() {
			bp.active.Erase(b)
		}
		bp.filter.ClearBlock(b)
		bp.rolledBack(b)
	}
	bp.processed(block, res)
	return nil
}
