package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orvnode/orv/internal/ledger"
	"github.com/orvnode/orv/internal/store"
	"github.com/orvnode/orv/internal/test/factory"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/types"
)

func beginWrite(t *testing.T, l *ledger.Ledger) *store.WriteTxn {
	t.Helper()
	txn, err := l.Store().TxBeginWrite(context.Background(), store.WriterTesting)
	require.NoError(t, err)
	t.Cleanup(txn.Discard)
	return txn
}

func TestGenesis(t *testing.T) {
	l := factory.NewLedger(t)
	c := l.Constants()

	assert.EqualValues(t, 1, l.BlockCount())
	assert.EqualValues(t, 1, l.CementedCount())
	assert.Equal(t, types.MaxAmount, l.Weight(c.GenesisAccount))

	rtxn := l.Store().TxBeginRead()
	assert.True(t, l.BlockConfirmed(rtxn, c.GenesisBlock.Hash()))
	_, ok := l.NextUncemented(rtxn, c.GenesisAccount)
	assert.False(t, ok)
}

func TestReopenKeepsState(t *testing.T) {
	l := factory.NewLedger(t)
	genesis := factory.GenesisChain()
	key := factory.NewChain()
	factory.Process(t, l, genesis.Send(key.Account(), 100))

	reopened, err := ledger.New(context.Background(), l.Store(), ledger.DevConstants(), log.NewNopLogger())
	require.NoError(t, err)
	assert.EqualValues(t, 2, reopened.BlockCount())
	assert.Equal(t, l.Weight(genesis.Account()), reopened.Weight(genesis.Account()))

	_, err = ledger.New(context.Background(), l.Store(), ledger.TestConstants(), log.NewNopLogger())
	assert.Error(t, err)
}

func TestSendReceive(t *testing.T) {
	l := factory.NewLedger(t)
	genesis := factory.GenesisChain()
	key := factory.NewChain()

	send := genesis.Send(key.Account(), 100)
	open := key.Receive(send, 100)
	stored := factory.Process(t, l, send, open)

	assert.True(t, stored[0].IsSend())
	assert.Equal(t, key.Account(), stored[0].Destination())
	assert.EqualValues(t, 2, stored[0].Height())
	assert.True(t, stored[1].IsReceive())
	assert.Equal(t, send.Hash(), stored[1].Source())
	assert.EqualValues(t, 1, stored[1].Height())

	rtxn := l.Store().TxBeginRead()
	info, ok := rtxn.Account(key.Account())
	require.True(t, ok)
	assert.Equal(t, types.NewAmount(100), info.Balance)
	assert.Equal(t, open.Hash(), info.Open)
	_, ok = rtxn.Pending(types.PendingKey{Account: key.Account(), Hash: send.Hash()})
	assert.False(t, ok)

	assert.Equal(t, types.NewAmount(100), l.Weight(key.Account()))
	assert.Equal(t, types.MaxAmount.MustSub(types.NewAmount(100)), l.Weight(genesis.Account()))

	amount, ok := l.Amount(rtxn, stored[0])
	require.True(t, ok)
	assert.Equal(t, types.NewAmount(100), amount)

	succ, ok := l.Successor(rtxn, l.Constants().GenesisBlock.QualifiedRoot())
	require.True(t, ok)
	assert.Equal(t, l.Constants().GenesisBlock.Hash(), succ.Hash())
	succ, ok = l.Successor(rtxn, send.QualifiedRoot())
	require.True(t, ok)
	assert.Equal(t, send.Hash(), succ.Hash())
}

func TestProcessResults(t *testing.T) {
	l := factory.NewLedger(t)
	genesis := factory.GenesisChain()
	key := factory.NewChain()

	send := genesis.Send(key.Account(), 100)
	fork := types.NewStateBlock(genesis.Account(), l.Constants().GenesisBlock.Hash(),
		genesis.Account(), types.NewAmount(5), types.Hash{1}).Sign(genesis.Key)
	factory.Process(t, l, send)

	txn := beginWrite(t, l)
	testCases := []struct {
		name  string
		block *types.Block
		code  ledger.ProcessCode
	}{
		{"old", send, ledger.Old},
		{"fork", fork, ledger.Fork},
		{"gap previous", types.NewStateBlock(genesis.Account(), types.Hash{9}, genesis.Account(), types.NewAmount(1), types.ZeroHash).Sign(genesis.Key), ledger.GapPrevious},
		{"bad signature", types.NewStateBlock(genesis.Account(), send.Hash(), genesis.Account(), genesis.Balance, types.ZeroHash).Sign(key.Key), ledger.BadSignature},
		{"gap source", types.NewStateBlock(key.Account(), types.ZeroHash, key.Account(), types.NewAmount(100), types.Hash{7}).Sign(key.Key), ledger.GapSource},
		{"balance mismatch", types.NewStateBlock(key.Account(), types.ZeroHash, key.Account(), types.NewAmount(99), send.Hash()).Sign(key.Key), ledger.BalanceMismatch},
		{"legacy after state", types.NewSendBlock(send.Hash(), key.Account(), types.NewAmount(0)).Sign(genesis.Key), ledger.BlockPosition},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, l.Process(txn, tc.block).Code)
		})
	}

	// receiving twice
	open := key.Receive(send, 100)
	require.Equal(t, ledger.Progress, l.Process(txn, open).Code)
	again := types.NewStateBlock(key.Account(), open.Hash(), key.Account(), types.NewAmount(200), send.Hash()).Sign(key.Key)
	assert.Equal(t, ledger.Unreceivable, l.Process(txn, again).Code)
}

func TestLegacyBlocks(t *testing.T) {
	l := factory.NewLedger(t)
	gkey := ledger.DevGenesisKey()
	genesis := l.Constants().GenesisBlock
	key := types.GenPrivKey()

	send := types.NewSendBlock(genesis.Hash(), key.Account(), types.MaxAmount.MustSub(types.NewAmount(50))).Sign(gkey)
	open := types.NewOpenBlock(send.Hash(), key.Account(), key.Account()).Sign(key)
	change := types.NewChangeBlock(open.Hash(), gkey.Account()).Sign(key)
	stored := factory.Process(t, l, send, open, change)

	assert.Equal(t, gkey.Account(), stored[0].Account())
	assert.Equal(t, types.NewAmount(50), stored[1].Balance())
	assert.True(t, stored[1].IsReceive())
	assert.Equal(t, gkey.Account(), stored[2].Representative())
	assert.True(t, l.Weight(key.Account()).IsZero())
	assert.Equal(t, types.MaxAmount, l.Weight(gkey.Account()))

	txn := beginWrite(t, l)
	overspend := types.NewSendBlock(send.Hash(), key.Account(), types.MaxAmount).Sign(gkey)
	assert.Equal(t, ledger.NegativeSpend, l.Process(txn, overspend).Code)
}

func TestEpochBlock(t *testing.T) {
	l := factory.NewLedger(t)
	genesis := factory.GenesisChain()
	key := factory.NewChain()
	send := genesis.Send(key.Account(), 10)
	open := key.Receive(send, 10)
	factory.Process(t, l, send, open)

	c := l.Constants()
	txn := beginWrite(t, l)

	// signed by the account itself rather than the epoch signer
	bad := types.NewStateBlock(key.Account(), open.Hash(), key.Account(), types.NewAmount(10), c.EpochLink).Sign(key.Key)
	assert.Equal(t, ledger.BadSignature, l.Process(txn, bad).Code)

	changesRep := types.NewStateBlock(key.Account(), open.Hash(), genesis.Account(), types.NewAmount(10), c.EpochLink).Sign(genesis.Key)
	assert.Equal(t, ledger.RepresentativeMismatch, l.Process(txn, changesRep).Code)

	epoch := types.NewStateBlock(key.Account(), open.Hash(), key.Account(), types.NewAmount(10), c.EpochLink).Sign(genesis.Key)
	res := l.Process(txn, epoch)
	require.Equal(t, ledger.Progress, res.Code)
	assert.True(t, res.Block.IsEpoch())
	assert.False(t, res.Block.IsReceive())
	assert.Len(t, l.Dependents(res.Block), 1)
}

func TestDependentsConfirmed(t *testing.T) {
	l := factory.NewLedger(t)
	genesis := factory.GenesisChain()
	key := factory.NewChain()
	send := genesis.Send(key.Account(), 10)
	open := key.Receive(send, 10)
	stored := factory.Process(t, l, send, open)

	rtxn := l.Store().TxBeginRead()
	assert.True(t, l.DependentsConfirmed(rtxn, stored[0]))
	assert.False(t, l.DependentsConfirmed(rtxn, stored[1]))
	assert.Equal(t, []types.Hash{send.Hash()}, l.Dependents(stored[1]))

	next, ok := l.NextUncemented(rtxn, genesis.Account())
	require.True(t, ok)
	assert.Equal(t, send.Hash(), next.Hash())

	factory.Cement(t, l, send.Hash())
	rtxn = l.Store().TxBeginRead()
	assert.True(t, l.BlockConfirmed(rtxn, send.Hash()))
	assert.True(t, l.DependentsConfirmed(rtxn, stored[1]))
	assert.False(t, l.BlockConfirmed(rtxn, open.Hash()))
}

func TestRollback(t *testing.T) {
	l := factory.NewLedger(t)
	genesis := factory.GenesisChain()
	key := factory.NewChain()
	send1 := genesis.Send(key.Account(), 10)
	send2 := genesis.Send(key.Account(), 20)
	open := key.Receive(send2, 20)
	factory.Process(t, l, send1, send2, open)
	require.EqualValues(t, 4, l.BlockCount())

	txn := beginWrite(t, l)
	removed, err := l.Rollback(txn, send1.Hash())
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	// the receive of send2 goes first, then both sends
	hashes := make([]types.Hash, len(removed))
	for i, b := range removed {
		hashes[i] = b.Hash()
	}
	assert.Equal(t, []types.Hash{open.Hash(), send2.Hash(), send1.Hash()}, hashes)

	rtxn := l.Store().TxBeginRead()
	assert.EqualValues(t, 1, l.BlockCount())
	_, ok := rtxn.Account(key.Account())
	assert.False(t, ok)
	info, ok := rtxn.Account(genesis.Account())
	require.True(t, ok)
	assert.Equal(t, l.Constants().GenesisBlock.Hash(), info.Head)
	assert.Equal(t, types.MaxAmount, info.Balance)
	assert.Equal(t, types.MaxAmount, l.Weight(genesis.Account()))
	assert.True(t, l.Weight(key.Account()).IsZero())
	pending, err := rtxn.PendingFor(key.Account())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRollbackRestoresPending(t *testing.T) {
	l := factory.NewLedger(t)
	genesis := factory.GenesisChain()
	key := factory.NewChain()
	send := genesis.Send(key.Account(), 10)
	open := key.Receive(send, 10)
	factory.Process(t, l, send, open)

	txn := beginWrite(t, l)
	_, err := l.Rollback(txn, open.Hash())
	require.NoError(t, err)
	pending, ok := txn.Pending(types.PendingKey{Account: key.Account(), Hash: send.Hash()})
	require.True(t, ok)
	assert.Equal(t, genesis.Account(), pending.Source)
	assert.Equal(t, types.NewAmount(10), pending.Amount)
}

func TestRollbackRefusesCemented(t *testing.T) {
	l := factory.NewLedger(t)
	genesis := factory.GenesisChain()
	key := factory.NewChain()
	send := genesis.Send(key.Account(), 10)
	open := key.Receive(send, 10)
	factory.Process(t, l, send, open)
	factory.Cement(t, l, open.Hash())

	txn := beginWrite(t, l)
	_, err := l.Rollback(txn, send.Hash())
	assert.ErrorIs(t, err, ledger.ErrRollbackCemented)

	txn.Discard()

	txn = beginWrite(t, l)
	_, err = l.Rollback(txn, l.Constants().GenesisBlock.Hash())
	assert.ErrorIs(t, err, ledger.ErrRollbackCemented)
}

func TestPrune(t *testing.T) {
	l := factory.NewLedger(t)
	genesis := factory.GenesisChain()
	key := factory.NewChain()
	send1 := genesis.Send(key.Account(), 10)
	send2 := genesis.Send(key.Account(), 10)
	factory.Process(t, l, send1, send2)

	txn := beginWrite(t, l)
	assert.ErrorIs(t, l.Prune(txn, send1.Hash()), ledger.ErrPruneUncemented)
	txn.Discard()

	factory.Cement(t, l, send2.Hash())
	txn = beginWrite(t, l)
	assert.ErrorIs(t, l.Prune(txn, send2.Hash()), ledger.ErrPruneUncemented)
	require.NoError(t, l.Prune(txn, send1.Hash()))
	require.NoError(t, txn.Commit())

	rtxn := l.Store().TxBeginRead()
	assert.False(t, rtxn.BlockExists(send1.Hash()))
	assert.True(t, l.BlockConfirmed(rtxn, send1.Hash()))
	assert.True(t, l.BlockOrPruned(rtxn, send1.Hash()))
}
