package node

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/internal/ledger"
	"github.com/orvnode/orv/internal/test/factory"
	"github.com/orvnode/orv/libs/events"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/libs/service"
	"github.com/orvnode/orv/types"
)

const waitFor = 5 * time.Second

func memDBProvider(*config.DBContext) (dbm.DB, error) { return dbm.NewMemDB(), nil }

func newTestNode(t *testing.T, mutate func(*config.Config)) *Node {
	t.Helper()
	cfg := config.TestConfig()
	cfg.SetRoot(t.TempDir())
	if mutate != nil {
		mutate(cfg)
	}
	n, err := New(context.Background(), cfg, log.TestingLogger(), WithDBProvider(memDBProvider))
	require.NoError(t, err)
	return n
}

func startTestNode(t *testing.T, mutate func(*config.Config)) *Node {
	t.Helper()
	n := newTestNode(t, mutate)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, n.Start(ctx))
	t.Cleanup(func() {
		if n.IsRunning() {
			require.NoError(t, n.Stop())
		}
		cancel()
	})
	return n
}

func listen(t *testing.T, n *Node, event string) <-chan events.EventData {
	t.Helper()
	ch := make(chan events.EventData, 64)
	err := n.EventSwitch().AddListenerForEvent(t.Name()+event, event, func(data events.EventData) error {
		ch <- data
		return nil
	})
	require.NoError(t, err)
	return ch
}

func finalVote(hashes ...*types.Block) *types.Vote {
	hs := make([]types.Hash, len(hashes))
	for i, b := range hashes {
		hs[i] = b.Hash()
	}
	return types.NewFinalVote(ledger.DevGenesisKey(), hs)
}

func confirmedHeight(n *Node, account types.Account) uint64 {
	return n.Ledger().Store().TxBeginRead().ConfirmationHeight(account).Height
}

func TestNodeStartStop(t *testing.T) {
	defer leaktest.CheckTimeout(t, waitFor)()

	n := newTestNode(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, n.Start(ctx))
	require.True(t, n.IsRunning())
	assert.True(t, n.services.IsRunning())
	for _, s := range []service.Service{
		n.workers, n.confirming, n.active, n.voteProcessor,
		n.blockProcessor, n.priority, n.backlog, n.manual, n.hinted,
	} {
		assert.True(t, s.IsRunning(), "%v", s)
	}
	assert.Nil(t, n.VoteGenerator())
	assert.Equal(t, uint64(1), n.Ledger().CementedCount())

	require.NoError(t, n.Stop())
	require.False(t, n.IsRunning())
}

func TestNodeUnknownNetwork(t *testing.T) {
	cfg := config.TestConfig()
	cfg.Network = "main"
	_, err := New(context.Background(), cfg, log.TestingLogger(), WithDBProvider(memDBProvider))
	require.Error(t, err)
}

func TestNodeConfirmsBlock(t *testing.T) {
	n := startTestNode(t, nil)
	confirmed := listen(t, n, EventBlockConfirmed)
	genesis := factory.GenesisChain()
	dest := types.GenPrivKey().Account()
	send := genesis.Send(dest, 100)

	res, err := n.Process(context.Background(), send)
	require.NoError(t, err)
	require.Equal(t, ledger.Progress, res.Code)

	// the priority scheduler starts an election for the new block
	require.Eventually(t, func() bool {
		return n.ActiveElections().Active(send.Hash())
	}, waitFor, 5*time.Millisecond)

	require.True(t, n.Vote(finalVote(send)))
	require.Eventually(t, func() bool {
		return n.Ledger().CementedCount() == 2
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, uint64(2), confirmedHeight(n, genesis.Account()))
	assert.False(t, n.ActiveElections().Active(send.Hash()))
	assert.True(t, n.ActiveElections().RecentlyConfirmed().ExistsHash(send.Hash()))

	select {
	case data := <-confirmed:
		ev := data.(EventDataBlockConfirmed)
		assert.Equal(t, send.Hash(), ev.Status.Winner.Hash())
		assert.Equal(t, types.StatusActiveConfirmedQuorum, ev.Status.Type)
		assert.Equal(t, types.NewAmount(100), ev.Amount)
		assert.True(t, ev.IsSend)
	case <-time.After(waitFor):
		t.Fatal("no confirmation event")
	}
	_, ok := n.ActiveElections().RecentlyCemented().Get(send.Hash())
	assert.True(t, ok)

	// a replayed vote is deduplicated before it reaches the elections
	assert.False(t, n.Vote(finalVote(send)))
}

func TestNodeCementsDependenciesFirst(t *testing.T) {
	n := startTestNode(t, nil)
	confirmed := listen(t, n, EventBlockConfirmed)
	genesis := factory.GenesisChain()
	a, b := factory.NewChain(), factory.NewChain()

	send1 := genesis.Send(a.Account(), 100)
	openA := a.Receive(send1, 100)
	sendAB := a.Send(b.Account(), 10)
	openB := b.Receive(sendAB, 10)
	for _, block := range []*types.Block{send1, openA, sendAB, openB} {
		res, err := n.Process(context.Background(), block)
		require.NoError(t, err)
		require.Equal(t, ledger.Progress, res.Code)
	}

	n.StartElection(openB)
	require.Eventually(t, func() bool {
		return n.ActiveElections().Active(openB.Hash())
	}, waitFor, 5*time.Millisecond)
	require.True(t, n.Vote(finalVote(openB)))

	require.Eventually(t, func() bool {
		return n.Ledger().CementedCount() == 5
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, uint64(2), confirmedHeight(n, genesis.Account()))
	assert.Equal(t, uint64(2), confirmedHeight(n, a.Account()))
	assert.Equal(t, uint64(1), confirmedHeight(n, b.Account()))

	// statuses are recorded in commit order
	var order []types.Hash
	for _, st := range n.ActiveElections().RecentlyCemented().List() {
		order = append(order, st.Winner.Hash())
	}
	assert.Equal(t, []types.Hash{send1.Hash(), openA.Hash(), sendAB.Hash(), openB.Hash()}, order)

	notified := make(map[types.Hash]types.ElectionStatusType)
	for len(notified) < 4 {
		select {
		case data := <-confirmed:
			st := data.(EventDataBlockConfirmed).Status
			notified[st.Winner.Hash()] = st.Type
		case <-time.After(waitFor):
			t.Fatalf("got %d confirmations", len(notified))
		}
	}
	assert.Equal(t, types.StatusActiveConfirmedQuorum, notified[openB.Hash()])
	assert.NotEqual(t, types.StatusActiveConfirmedQuorum, notified[openA.Hash()])
}

func TestNodeForksResolveToConfirmedWinner(t *testing.T) {
	n := startTestNode(t, nil)
	balance := listen(t, n, EventAccountBalanceChanged)
	genesis := factory.GenesisChain()
	fork := genesis.Fork(types.GenPrivKey().Account(), 1)
	send := genesis.Send(types.GenPrivKey().Account(), 1)

	res, err := n.Process(context.Background(), send)
	require.NoError(t, err)
	require.Equal(t, ledger.Progress, res.Code)
	require.True(t, n.ProcessActive(fork))

	require.Eventually(t, func() bool {
		e, ok := n.ActiveElections().Election(fork.QualifiedRoot())
		return ok && e.Contains(fork.Hash()) && e.Contains(send.Hash())
	}, waitFor, 5*time.Millisecond)

	require.True(t, n.Vote(finalVote(fork)))
	require.Eventually(t, func() bool {
		return n.Ledger().CementedCount() == 2
	}, waitFor, 5*time.Millisecond)

	txn := n.Ledger().Store().TxBeginRead()
	assert.True(t, txn.BlockExists(fork.Hash()))
	assert.False(t, txn.BlockExists(send.Hash()))
	assert.Equal(t, fork.Hash(), txn.ConfirmationHeight(genesis.Account()).Frontier)

	select {
	case data := <-balance:
		assert.Equal(t, genesis.Account(), data.(EventDataBalanceChanged).Account)
	case <-time.After(waitFor):
		t.Fatal("no balance event")
	}
}

func TestNodeElectionStoppedEvent(t *testing.T) {
	n := startTestNode(t, nil)
	stopped := listen(t, n, EventElectionStopped)
	block := factory.GenesisChain().Send(types.GenPrivKey().Account(), 1)

	n.StartElection(block)
	require.Eventually(t, func() bool {
		return n.ActiveElections().Active(block.Hash())
	}, waitFor, 5*time.Millisecond)
	require.True(t, n.ActiveElections().Erase(block))

	select {
	case data := <-stopped:
		st := data.(EventDataElectionStopped).Status
		assert.Equal(t, types.StatusStopped, st.Type)
		assert.Equal(t, block.Hash(), st.Winner.Hash())
	case <-time.After(waitFor):
		t.Fatal("no election stopped event")
	}
}

func TestNodeLocalRepresentativeVotes(t *testing.T) {
	n := startTestNode(t, func(cfg *config.Config) {
		keyFile := filepath.Join(cfg.RootDir, "rep_key")
		seed := hex.EncodeToString(ledger.DevGenesisKey().Seed())
		require.NoError(t, os.WriteFile(keyFile, []byte(seed), 0o600))
		cfg.Voting.RepresentativeKeyFile = keyFile
	})
	require.NotNil(t, n.VoteGenerator())
	assert.Equal(t, n.Ledger().Constants().GenesisAccount, n.VoteGenerator().Representative())

	genesis := factory.GenesisChain()
	send := genesis.Send(types.GenPrivKey().Account(), 1)
	res, err := n.Process(context.Background(), send)
	require.NoError(t, err)
	require.Equal(t, ledger.Progress, res.Code)

	// the node's own vote carries the genesis weight
	require.Eventually(t, func() bool {
		return n.Ledger().CementedCount() == 2
	}, waitFor, 5*time.Millisecond)
}

func TestNodeActivatesUncementedAccountsOnStart(t *testing.T) {
	db := dbm.NewMemDB()
	provider := func(*config.DBContext) (dbm.DB, error) { return db, nil }
	cfg := config.TestConfig()
	cfg.SetRoot(t.TempDir())

	// a previous run left an uncemented block behind
	prev, err := New(context.Background(), cfg, log.TestingLogger(), WithDBProvider(provider))
	require.NoError(t, err)
	send := factory.GenesisChain().Send(types.GenPrivKey().Account(), 1)
	res, err := prev.Process(context.Background(), send)
	require.NoError(t, err)
	require.Equal(t, ledger.Progress, res.Code)

	n, err := New(context.Background(), cfg, log.TestingLogger(), WithDBProvider(provider))
	require.NoError(t, err)
	require.Equal(t, uint64(2), n.Ledger().BlockCount())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, n.Start(ctx))
	defer func() { require.NoError(t, n.Stop()) }()

	require.Eventually(t, func() bool {
		return n.ActiveElections().Active(send.Hash())
	}, waitFor, 5*time.Millisecond)
}

func processAll(t *testing.T, n *Node, blocks ...*types.Block) {
	t.Helper()
	for _, block := range blocks {
		res, err := n.Process(context.Background(), block)
		require.NoError(t, err)
		require.Equal(t, ledger.Progress, res.Code, "block %v", block.Hash())
	}
}

func TestNodeActivatesSuccessorsOnCementation(t *testing.T) {
	// only cementation may start the elections below
	n := startTestNode(t, func(cfg *config.Config) {
		cfg.Scheduler.BacklogScanInterval = time.Hour
	})
	genesis := factory.GenesisChain()
	a := factory.NewChain()

	send1 := genesis.Send(a.Account(), 100)
	openA := a.Receive(send1, 100)
	send2 := genesis.Send(a.Account(), 50)
	recv2 := a.Receive(send2, 50)
	processAll(t, n, send1, openA, send2, recv2)

	require.Eventually(t, func() bool {
		return n.ActiveElections().Active(send1.Hash())
	}, waitFor, 5*time.Millisecond)
	assert.False(t, n.ActiveElections().Active(openA.Hash()), "source not cemented")
	assert.False(t, n.ActiveElections().Active(send2.Hash()), "predecessor not cemented")

	require.True(t, n.Vote(finalVote(send1)))
	require.Eventually(t, func() bool {
		return n.ActiveElections().Active(openA.Hash()) && n.ActiveElections().Active(send2.Hash())
	}, waitFor, 5*time.Millisecond)

	// the receive waits for send2 even once its predecessor is cemented
	require.True(t, n.Vote(finalVote(openA)))
	require.Eventually(t, func() bool {
		return confirmedHeight(n, a.Account()) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Never(t, func() bool {
		return n.ActiveElections().Active(recv2.Hash())
	}, 200*time.Millisecond, 10*time.Millisecond)

	require.True(t, n.Vote(finalVote(send2)))
	require.Eventually(t, func() bool {
		return n.ActiveElections().Active(recv2.Hash())
	}, waitFor, 5*time.Millisecond)
}

func TestNodeActivatesSuccessorsWithBusyWorkers(t *testing.T) {
	n := startTestNode(t, func(cfg *config.Config) {
		cfg.BackgroundThreads = 1
		cfg.Scheduler.BacklogScanInterval = time.Hour
	})
	// a slow listener holds the only worker
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	err := n.EventSwitch().AddListenerForEvent(t.Name(), EventBlockConfirmed, func(events.EventData) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	genesis := factory.GenesisChain()
	a := factory.NewChain()
	send1 := genesis.Send(a.Account(), 100)
	openA := a.Receive(send1, 100)
	processAll(t, n, send1, openA)

	require.Eventually(t, func() bool {
		return n.ActiveElections().Active(send1.Hash())
	}, waitFor, 5*time.Millisecond)
	require.True(t, n.Vote(finalVote(send1)))
	require.Eventually(t, func() bool {
		return n.Ledger().CementedCount() == 2
	}, waitFor, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return n.ActiveElections().Active(openA.Hash())
	}, waitFor, 5*time.Millisecond)
}
