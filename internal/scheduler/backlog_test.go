package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/go-kit/kit/metrics/generic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/internal/test/factory"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/types"
)

type recordingActivator struct {
	mtx      sync.Mutex
	accounts []types.Account
}

func (a *recordingActivator) Activate(account types.Account) bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.accounts = append(a.accounts, account)
	return true
}

func (a *recordingActivator) seen() []types.Account {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return append([]types.Account(nil), a.accounts...)
}

func (a *recordingActivator) reset() {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.accounts = nil
}

func TestBacklogStepPages(t *testing.T) {
	l := factory.NewLedger(t)
	genesis := factory.GenesisChain()
	cfg := config.TestSchedulerConfig()
	cfg.BacklogBatchSize = 2

	var (
		opens    []*types.Block
		lastSend *types.Block
	)
	want := []types.Account{genesis.Account()}
	for i := 0; i < 4; i++ {
		c := factory.NewChain()
		send := genesis.Send(c.Account(), 10)
		open := c.Receive(send, 10)
		factory.Process(t, l, send, open)
		opens = append(opens, open)
		lastSend = send
		want = append(want, c.Account())
	}

	activator := &recordingActivator{}
	metrics := NopMetrics()
	metrics.BacklogActivated = generic.NewCounter("backlog_activated")
	b := NewBacklog(log.TestingLogger(), cfg, l, activator, metrics)

	n, wrapped := b.Step()
	assert.Equal(t, 2, n)
	assert.False(t, wrapped)
	n, wrapped = b.Step()
	assert.Equal(t, 2, n)
	assert.False(t, wrapped)
	n, wrapped = b.Step()
	assert.Equal(t, 1, n)
	assert.True(t, wrapped, "the last page reaches the end of the table")

	assert.ElementsMatch(t, want, activator.seen(), "every account is visited once per pass")
	assert.Equal(t, 5.0, metrics.BacklogActivated.(*generic.Counter).Value())

	// the next step starts over
	activator.reset()
	n, _ = b.Step()
	assert.Equal(t, 2, n)

	// cemented accounts are skipped
	factory.Cement(t, l, lastSend.Hash())
	for _, open := range opens {
		factory.Cement(t, l, open.Hash())
	}
	activator.reset()
	assert.Zero(t, b.Populate())
	assert.Empty(t, activator.seen())
}

func TestBacklogActivatesThroughPriority(t *testing.T) {
	elections := newTestElections(10, 0)
	p, genesis := newTestPriority(t, elections)
	l := p.ledger

	a := factory.NewChain()
	send := genesis.Send(a.Account(), 100)
	open := a.Receive(send, 100)
	factory.Process(t, l, send, open)

	b := NewBacklog(log.TestingLogger(), config.TestSchedulerConfig(), l, p, NopMetrics())
	assert.Equal(t, 1, b.Populate(), "the open waits for its source")
	assert.Equal(t, 1, p.Schedule())
	assert.Equal(t, []types.Hash{send.Hash()}, elections.hashes())

	factory.Cement(t, l, send.Hash())
	assert.Equal(t, 1, b.Populate())
	assert.Equal(t, 1, p.Schedule())
	assert.Equal(t, []types.Hash{send.Hash(), open.Hash()}, elections.hashes())
}

func TestBacklogService(t *testing.T) {
	defer leaktest.Check(t)()

	l := factory.NewLedger(t)
	genesis := factory.GenesisChain()
	a := factory.NewChain()
	send := genesis.Send(a.Account(), 100)
	factory.Process(t, l, send)

	activator := &recordingActivator{}
	b := NewBacklog(log.TestingLogger(), config.TestSchedulerConfig(), l, activator, NopMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx))
	assert.Contains(t, activator.seen(), genesis.Account(), "the first pass runs on start")

	open := a.Receive(send, 100)
	factory.Process(t, l, open)
	require.Eventually(t, func() bool {
		for _, acc := range activator.seen() {
			if acc == a.Account() {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Stop())
}
