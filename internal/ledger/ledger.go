package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orvnode/orv/internal/store"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/types"
)

var (
	// ErrRollbackCemented is returned when a rollback would remove a block at
	// or below its account's confirmation height.
	ErrRollbackCemented = errors.New("cannot roll back a cemented block")
	// ErrBlockNotFound is returned for operations on a hash the ledger does not hold.
	ErrBlockNotFound = errors.New("block not found")
	// ErrPruneUncemented is returned when pruning a block that is not cemented,
	// or that is its account's frontier.
	ErrPruneUncemented = errors.New("only cemented, non-frontier blocks can be pruned")
)

// Ledger applies blocks to the account chains held in a Store and answers
// questions about them. Methods taking a store.Reader work on both read and
// write transactions; mutations require a *store.WriteTxn.
type Ledger struct {
	store     *store.Store
	constants Constants
	weights   *RepWeights
	logger    log.Logger

	now func() time.Time
}

// New opens the ledger in st, writing the genesis block on first use.
func New(ctx context.Context, st *store.Store, constants Constants, logger log.Logger) (*Ledger, error) {
	l := &Ledger{
		store:     st,
		constants: constants,
		logger:    logger.With("module", "ledger"),
		now:       time.Now,
	}

	if st.TxBeginRead().BlockCount() == 0 {
		if err := l.initialize(ctx); err != nil {
			return nil, err
		}
	}

	weights, err := st.TxBeginRead().RepWeights()
	if err != nil {
		return nil, fmt.Errorf("loading representative weights: %w", err)
	}
	l.weights = newRepWeights(weights)

	genesis := constants.GenesisBlock.Hash()
	if !st.TxBeginRead().BlockExists(genesis) {
		return nil, fmt.Errorf("ledger does not contain genesis block %v; wrong network?", genesis)
	}
	return l, nil
}

func (l *Ledger) initialize(ctx context.Context) error {
	txn, err := l.store.TxBeginWrite(ctx, store.WriterBlockProcessor)
	if err != nil {
		return err
	}
	defer txn.Discard()

	c := l.constants
	genesis := c.GenesisBlock.Clone()
	genesis.SetSideband(types.Sideband{
		Height:    1,
		Account:   c.GenesisAccount,
		Balance:   c.GenesisAmount,
		Timestamp: l.now(),
	})
	txn.BlockPut(genesis)
	txn.AccountPut(c.GenesisAccount, types.AccountInfo{
		Head:           genesis.Hash(),
		Representative: c.GenesisAccount,
		Open:           genesis.Hash(),
		Balance:        c.GenesisAmount,
		Modified:       l.now(),
		BlockCount:     1,
	})
	txn.ConfirmationHeightPut(c.GenesisAccount, types.ConfirmationHeightInfo{Height: 1, Frontier: genesis.Hash()})
	txn.RepWeightPut(c.GenesisAccount, c.GenesisAmount)
	txn.BlockCountPut(1)
	txn.CementedCountPut(1)

	l.logger.Info("initialized ledger", "genesis", genesis.Hash())
	return txn.Commit()
}

// Store returns the underlying store.
func (l *Ledger) Store() *store.Store { return l.store }

// Constants returns the network constants.
func (l *Ledger) Constants() Constants { return l.constants }

// Weight returns the committed voting weight delegated to rep.
func (l *Ledger) Weight(rep types.Account) types.Amount { return l.weights.Weight(rep) }

// RepWeights exposes the weight cache.
func (l *Ledger) RepWeights() *RepWeights { return l.weights }

// BlockCount returns the number of blocks in the ledger, pruned ones included.
func (l *Ledger) BlockCount() uint64 { return l.store.TxBeginRead().BlockCount() }

// CementedCount returns the number of cemented blocks.
func (l *Ledger) CementedCount() uint64 { return l.store.TxBeginRead().CementedCount() }

// BlockOrPruned reports whether hash is in the ledger, either stored or pruned.
func (l *Ledger) BlockOrPruned(r store.Reader, hash types.Hash) bool {
	return r.BlockExists(hash) || r.Pruned(hash)
}

// BlockConfirmed reports whether hash is cemented. Pruned blocks are always
// cemented.
func (l *Ledger) BlockConfirmed(r store.Reader, hash types.Hash) bool {
	if r.Pruned(hash) {
		return true
	}
	block, ok := r.Block(hash)
	if !ok {
		return false
	}
	return block.Height() <= r.ConfirmationHeight(block.Account()).Height
}

// Dependents returns the blocks that must be cemented before block: its
// previous block and, for receives, the send it pulls. Zero hashes are
// omitted.
func (l *Ledger) Dependents(block *types.Block) []types.Hash {
	deps := make([]types.Hash, 0, 2)
	if prev := block.Previous(); !prev.IsZero() {
		deps = append(deps, prev)
	}
	if src := block.Source(); !src.IsZero() && !block.IsEpoch() {
		deps = append(deps, src)
	}
	return deps
}

// DependentsConfirmed reports whether every dependency of block is cemented.
func (l *Ledger) DependentsConfirmed(r store.Reader, block *types.Block) bool {
	for _, dep := range l.Dependents(block) {
		if !l.BlockConfirmed(r, dep) {
			return false
		}
	}
	return true
}

// Successor returns the block following root: the open block of an account
// when root names the account, otherwise the block whose previous is root.
func (l *Ledger) Successor(r store.Reader, root types.QualifiedRoot) (*types.Block, bool) {
	var hash types.Hash
	if root.Previous.IsZero() {
		info, ok := r.Account(root.Root.AsAccount())
		if !ok {
			return nil, false
		}
		hash = info.Open
	} else {
		prev, ok := r.Block(root.Previous)
		if !ok {
			return nil, false
		}
		hash = prev.Sideband().Successor
	}
	if hash.IsZero() {
		return nil, false
	}
	return r.Block(hash)
}

// Amount returns how much balance block moved, in either direction.
func (l *Ledger) Amount(r store.Reader, block *types.Block) (types.Amount, bool) {
	if block.Hash() == l.constants.GenesisBlock.Hash() {
		return l.constants.GenesisAmount, true
	}
	prevBalance, ok := l.balanceAt(r, block.Previous())
	if !ok {
		return types.Amount{}, false
	}
	balance := block.Balance()
	if balance.Lt(prevBalance) {
		return prevBalance.MustSub(balance), true
	}
	return balance.MustSub(prevBalance), true
}

func (l *Ledger) balanceAt(r store.Reader, hash types.Hash) (types.Amount, bool) {
	if hash.IsZero() {
		return types.Amount{}, true
	}
	block, ok := r.Block(hash)
	if !ok {
		return types.Amount{}, false
	}
	return block.Balance(), true
}

// NextUncemented returns the lowest block of account above its confirmation
// height, if any.
func (l *Ledger) NextUncemented(r store.Reader, account types.Account) (*types.Block, bool) {
	info, ok := r.Account(account)
	if !ok {
		return nil, false
	}
	conf := r.ConfirmationHeight(account)
	if conf.Height >= info.BlockCount {
		return nil, false
	}
	if conf.Height == 0 {
		return r.Block(info.Open)
	}
	return l.Successor(r, types.QualifiedRoot{Root: conf.Frontier, Previous: conf.Frontier})
}

// representativeAt returns the representative in effect after hash, walking
// back over legacy blocks that do not name one.
func (l *Ledger) representativeAt(r store.Reader, hash types.Hash) types.Account {
	for !hash.IsZero() {
		block, ok := r.Block(hash)
		if !ok {
			return types.ZeroAccount
		}
		if rep := block.Representative(); !rep.IsZero() {
			return rep
		}
		hash = block.Previous()
	}
	return types.ZeroAccount
}

// Prune removes a cemented block that is not its account's frontier,
// remembering its hash so dependants still count it as cemented.
func (l *Ledger) Prune(txn *store.WriteTxn, hash types.Hash) error {
	block, ok := txn.Block(hash)
	if !ok {
		return ErrBlockNotFound
	}
	account := block.Account()
	info, _ := txn.Account(account)
	if block.Height() > txn.ConfirmationHeight(account).Height || info.Head == hash {
		return ErrPruneUncemented
	}
	txn.BlockDel(hash)
	txn.PrunedPut(hash)
	return nil
}
