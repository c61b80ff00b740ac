package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/internal/test/factory"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/types"
)

func pow2(e uint) types.Amount {
	v := new(uint256.Int).Lsh(uint256.NewInt(1), e)
	a, err := types.AmountFromDecimal(v.Dec())
	if err != nil {
		panic(err)
	}
	return a
}

func TestBucketIndex(t *testing.T) {
	testCases := []struct {
		balance types.Amount
		want    int
	}{
		{types.Amount{}, 0},
		{types.NewAmount(1000), 0},
		{pow2(79).MustSub(types.NewAmount(1)), 0},
		{pow2(79), 1},
		{pow2(90), 2},
		{pow2(120), 10},
		{types.MaxAmount, 10},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, bucketIndex(tc.balance), "balance %v", tc.balance)
	}
}

func TestBucketDropsNewest(t *testing.T) {
	genesis := factory.GenesisChain()
	dest := types.GenPrivKey().Account()
	now := time.Now()
	e1 := &entry{time: now, block: genesis.Fork(dest, 1)}
	e2 := &entry{time: now.Add(time.Second), block: genesis.Fork(dest, 2)}
	e3 := &entry{time: now.Add(2 * time.Second), block: genesis.Fork(dest, 3)}
	e0 := &entry{time: now.Add(-time.Second), block: genesis.Fork(dest, 4)}

	b := newBucket(2)
	for _, e := range []*entry{e2, e1} {
		added, overflow := b.push(e)
		require.True(t, added)
		require.False(t, overflow)
	}
	added, overflow := b.push(e2)
	require.False(t, added, "duplicate")
	require.False(t, overflow)
	added, overflow = b.push(e3)
	require.False(t, added, "ranks below a full bucket")
	require.True(t, overflow)
	require.Equal(t, 2, b.len())

	// an older account displaces the newest entry
	added, overflow = b.push(e0)
	require.True(t, added)
	require.True(t, overflow)
	require.Equal(t, 2, b.len())

	got, ok := b.pop()
	require.True(t, ok)
	assert.Same(t, e0, got)
	got, ok = b.pop()
	require.True(t, ok)
	assert.Same(t, e1, got)
	_, ok = b.pop()
	assert.False(t, ok)
}

func newTestPriority(t *testing.T, elections *testElections) (*Priority, *factory.Chain) {
	t.Helper()
	l := factory.NewLedger(t)
	p := NewPriority(log.TestingLogger(), config.TestSchedulerConfig(), l, elections, NopMetrics())
	return p, factory.GenesisChain()
}

func TestPriorityActivate(t *testing.T) {
	elections := newTestElections(10, 0)
	p, genesis := newTestPriority(t, elections)
	l := p.ledger

	a := factory.NewChain()
	send := genesis.Send(a.Account(), 100)
	open := a.Receive(send, 100)
	factory.Process(t, l, send, open)

	assert.False(t, p.Activate(types.GenPrivKey().Account()), "unknown account")
	assert.False(t, p.Activate(a.Account()), "source not cemented")

	require.True(t, p.Activate(genesis.Account()))
	assert.False(t, p.Activate(genesis.Account()), "already queued")
	assert.Equal(t, 1, p.Len())

	factory.Cement(t, l, send.Hash())
	require.True(t, p.Activate(a.Account()))
	assert.False(t, p.Activate(genesis.Account()), "nothing left to cement")
	assert.Equal(t, 2, p.Len())

	assert.Equal(t, 2, p.Schedule())
	assert.ElementsMatch(t, []types.Hash{send.Hash(), open.Hash()}, elections.hashes())
	assert.Zero(t, p.Len())
}

func TestPriorityRoundRobin(t *testing.T) {
	elections := newTestElections(1, 0)
	p, genesis := newTestPriority(t, elections)
	l := p.ledger

	a := factory.NewChain()
	send1 := genesis.Send(a.Account(), 100)
	send2 := genesis.Send(a.Account(), 100)
	open := a.Receive(send1, 100)
	factory.Process(t, l, send1, send2, open)
	factory.Cement(t, l, send1.Hash())

	require.True(t, p.Activate(genesis.Account()))
	require.True(t, p.Activate(a.Account()))

	// small balances are served first in each round
	assert.Equal(t, 1, p.Schedule())
	assert.Equal(t, []types.Hash{open.Hash()}, elections.hashes())
	assert.Equal(t, 1, p.Len())

	assert.Zero(t, p.Schedule(), "no vacancy")
	elections.setVacancy(types.BehaviorPriority, 1)
	assert.Equal(t, 1, p.Schedule())
	assert.Equal(t, []types.Hash{open.Hash(), send2.Hash()}, elections.hashes())
}

func TestPriorityService(t *testing.T) {
	defer leaktest.Check(t)()

	elections := newTestElections(10, 0)
	p, genesis := newTestPriority(t, elections)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))

	send := genesis.Send(types.GenPrivKey().Account(), 1)
	factory.Process(t, p.ledger, send)
	require.True(t, p.Activate(genesis.Account()))
	require.Eventually(t, func() bool { return elections.len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())
}
