package consensus

import (
	"sync"
	"testing"

	"github.com/go-kit/kit/metrics/generic"
	"github.com/stretchr/testify/require"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/internal/ledger"
	"github.com/orvnode/orv/internal/network"
	"github.com/orvnode/orv/internal/test/factory"
	"github.com/orvnode/orv/libs/log"
	"github.com/orvnode/orv/types"
)

type weightMap map[types.Account]types.Amount

func (w weightMap) Weight(rep types.Account) types.Amount { return w[rep] }

type fixedQuorum struct{ delta types.Amount }

func (q fixedQuorum) Delta() types.Amount { return q.delta }

func amount(v uint64) types.Amount { return types.NewAmount(v) }

// newReps returns n representative accounts with the given weights.
func newReps(weights ...uint64) ([]types.PrivKey, weightMap) {
	keys := make([]types.PrivKey, len(weights))
	w := make(weightMap, len(weights))
	for i, v := range weights {
		keys[i] = types.GenPrivKey()
		w[keys[i].Account()] = amount(v)
	}
	return keys, w
}

// forks returns n competing sends from the genesis head.
func forks(n int) []*types.Block {
	c := factory.GenesisChain()
	out := make([]*types.Block, n)
	for i := range out {
		out[i] = c.Fork(types.GenPrivKey().Account(), uint64(i+1))
	}
	return out
}

// testConfirmingSet records what ActiveElections hands over for cementation.
type testConfirmingSet struct {
	mtx      sync.Mutex
	statuses []types.ElectionStatus
	vacancy  int
	err      error
}

var _ ConfirmingSet = (*testConfirmingSet)(nil)

func newTestConfirmingSet() *testConfirmingSet {
	return &testConfirmingSet{vacancy: 1 << 20}
}

func (s *testConfirmingSet) AddElection(status types.ElectionStatus) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.err != nil {
		return s.err
	}
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *testConfirmingSet) Exists(hash types.Hash) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, st := range s.statuses {
		if st.Winner.Hash() == hash {
			return true
		}
	}
	return false
}

func (s *testConfirmingSet) Vacancy() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.vacancy
}

func (s *testConfirmingSet) Statuses() []types.ElectionStatus {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]types.ElectionStatus(nil), s.statuses...)
}

// testMetrics returns metrics whose counters can be read back.
func testMetrics() *Metrics {
	m := NopMetrics()
	m.ElectionsStarted = generic.NewCounter("started")
	m.ElectionsConfirmed = generic.NewCounter("confirmed")
	m.VotesGenerated = generic.NewCounter("votes_generated")
	for i := range m.ElectionsDropped {
		m.ElectionsDropped[i] = generic.NewCounter("dropped_" + DropReason(i).String())
	}
	for i := range m.VoteResults {
		m.VoteResults[i] = generic.NewCounter(types.VoteCode(i).String())
	}
	return m
}

// droppedTotal sums the drop counters over every reason.
func droppedTotal(t *testing.T, m *Metrics) float64 {
	t.Helper()
	var total float64
	for _, c := range m.ElectionsDropped {
		total += counterValue(t, c)
	}
	return total
}

func counterValue(t *testing.T, c interface{}) float64 {
	t.Helper()
	gc, ok := c.(*generic.Counter)
	require.True(t, ok, "not a generic counter")
	return gc.Value()
}

type activeFixture struct {
	active     *ActiveElections
	ledger     *ledger.Ledger
	genesis    *factory.Chain
	reps       []types.PrivKey
	confirming *testConfirmingSet
	voteCache  *VoteCache
	filter     *network.Filter
	metrics    *Metrics
	quorum     *fixedQuorum
}

// newActiveFixture builds ActiveElections over a fresh dev ledger in which
// one representative is funded per entry of weights. The quorum delta
// starts at 1 raw; tests adjust f.quorum.delta.
func newActiveFixture(t *testing.T, cfg *config.ActiveElectionsConfig, weights []uint64, opts ...ActiveOption) *activeFixture {
	t.Helper()
	if cfg == nil {
		cfg = config.TestActiveElectionsConfig()
	}
	f := &activeFixture{
		ledger:     factory.NewLedger(t),
		genesis:    factory.GenesisChain(),
		confirming: newTestConfirmingSet(),
		filter:     network.NewFilter(1 << 16),
		metrics:    testMetrics(),
		quorum:     &fixedQuorum{delta: amount(1)},
	}
	for _, w := range weights {
		rep := factory.NewChain()
		send := f.genesis.Send(rep.Account(), w)
		factory.Process(t, f.ledger, send, rep.Receive(send, w))
		f.reps = append(f.reps, rep.Key)
	}
	f.voteCache = NewVoteCache(128, f.metrics)
	opts = append([]ActiveOption{ActiveMetrics(f.metrics)}, opts...)
	f.active = NewActiveElections(
		log.TestingLogger(),
		cfg,
		f.ledger,
		f.quorum,
		f.confirming,
		f.voteCache,
		f.filter,
		network.NewSolicitor(network.NopBroadcaster{}, 100, 10),
		opts...,
	)
	return f
}

// forks returns n competing sends from the current genesis head.
func (f *activeFixture) forks(n int) []*types.Block {
	out := make([]*types.Block, n)
	for i := range out {
		out[i] = f.genesis.Fork(types.GenPrivKey().Account(), uint64(i+1))
	}
	return out
}

// vote signs a non-final vote by rep i. Votes of one representative with a
// higher seq supersede lower ones.
func (f *activeFixture) vote(i int, seq uint64, hashes ...types.Hash) *types.Vote {
	return types.NewVote(f.reps[i], seq<<4, 0, hashes)
}

// finalVote signs a final vote by rep i.
func (f *activeFixture) finalVote(i int, hashes ...types.Hash) *types.Vote {
	return types.NewFinalVote(f.reps[i], hashes)
}

// rootBlocks returns n blocks with distinct qualified roots.
func rootBlocks(n int) []*types.Block {
	out := make([]*types.Block, n)
	for i := range out {
		c := factory.NewChain()
		c.Balance = amount(10)
		out[i] = c.Send(types.GenPrivKey().Account(), 1)
	}
	return out
}
