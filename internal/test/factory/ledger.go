package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/orvnode/orv/internal/ledger"
	"github.com/orvnode/orv/internal/store"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/types"
)

// NewLedger opens a dev network ledger in memory.
func NewLedger(t testing.TB) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(context.Background(), store.New(dbm.NewMemDB()), ledger.DevConstants(), log.NewNopLogger())
	require.NoError(t, err)
	return l
}

// Process applies blocks in order and requires each to make progress. It
// returns the stored copies, which carry sidebands.
func Process(t testing.TB, l *ledger.Ledger, blocks ...*types.Block) []*types.Block {
	t.Helper()
	txn, err := l.Store().TxBeginWrite(context.Background(), store.WriterTesting)
	require.NoError(t, err)
	defer txn.Discard()

	stored := make([]*types.Block, 0, len(blocks))
	for _, b := range blocks {
		res := l.Process(txn, b)
		require.Equal(t, ledger.Progress, res.Code, "processing %v", b)
		stored = append(stored, res.Block)
	}
	require.NoError(t, txn.Commit())
	return stored
}

// Cement marks block and everything below it in its chain as cemented,
// bypassing dependency checks. Only for setting up fixtures.
func Cement(t testing.TB, l *ledger.Ledger, hash types.Hash) {
	t.Helper()
	txn, err := l.Store().TxBeginWrite(context.Background(), store.WriterTesting)
	require.NoError(t, err)
	defer txn.Discard()

	block, ok := txn.Block(hash)
	require.True(t, ok, "block %v", hash)
	account := block.Account()
	prev := txn.ConfirmationHeight(account)
	if block.Height() > prev.Height {
		txn.ConfirmationHeightPut(account, types.ConfirmationHeightInfo{Height: block.Height(), Frontier: hash})
		txn.CementedCountPut(txn.CementedCount() + block.Height() - prev.Height)
	}
	require.NoError(t, txn.Commit())
}
