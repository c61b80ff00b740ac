package scheduler

import (
	"sync"

	"github.com/orvnode/orv/internal/consensus"
	"github.com/orvnode/orv/types"
)

// testElections records inserts and hands out a fixed number of slots per
// behavior.
type testElections struct {
	mtx      sync.Mutex
	vacancy  map[types.ElectionBehavior]int
	inserted []*types.Block
	behavior []types.ElectionBehavior
	roots    map[types.QualifiedRoot]bool
}

func newTestElections(priority, hinted int) *testElections {
	return &testElections{
		vacancy: map[types.ElectionBehavior]int{
			types.BehaviorPriority: priority,
			types.BehaviorHinted:   hinted,
		},
		roots: make(map[types.QualifiedRoot]bool),
	}
}

func (e *testElections) Insert(block *types.Block, b types.ElectionBehavior) consensus.InsertResult {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.roots[block.QualifiedRoot()] {
		return consensus.InsertResult{}
	}
	if b != types.BehaviorManual {
		if e.vacancy[b] <= 0 {
			return consensus.InsertResult{}
		}
		e.vacancy[b]--
	}
	e.roots[block.QualifiedRoot()] = true
	e.inserted = append(e.inserted, block)
	e.behavior = append(e.behavior, b)
	return consensus.InsertResult{Inserted: true}
}

func (e *testElections) Vacancy(b types.ElectionBehavior) int {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if b == types.BehaviorManual {
		return 1
	}
	return e.vacancy[b]
}

func (e *testElections) setVacancy(b types.ElectionBehavior, n int) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.vacancy[b] = n
}

func (e *testElections) hashes() []types.Hash {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	out := make([]types.Hash, len(e.inserted))
	for i, b := range e.inserted {
		out[i] = b.Hash()
	}
	return out
}

func (e *testElections) len() int {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return len(e.inserted)
}

type fixedOnline types.Amount

func (o fixedOnline) Online() types.Amount { return types.Amount(o) }
