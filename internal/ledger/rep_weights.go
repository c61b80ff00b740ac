package ledger

import (
	"sync"

	"github.com/orvnode/orv/internal/store"
	"github.com/orvnode/orv/types"
)

// RepWeights mirrors the committed representative weight table in memory,
// since every vote needs a weight lookup.
type RepWeights struct {
	mtx     sync.RWMutex
	weights map[types.Account]types.Amount
}

func newRepWeights(weights map[types.Account]types.Amount) *RepWeights {
	return &RepWeights{weights: weights}
}

// Weight returns the committed voting weight of rep.
func (rw *RepWeights) Weight(rep types.Account) types.Amount {
	rw.mtx.RLock()
	defer rw.mtx.RUnlock()
	return rw.weights[rep]
}

// Len returns the number of representatives with non-zero weight.
func (rw *RepWeights) Len() int {
	rw.mtx.RLock()
	defer rw.mtx.RUnlock()
	return len(rw.weights)
}

// Copy returns a snapshot of all weights.
func (rw *RepWeights) Copy() map[types.Account]types.Amount {
	rw.mtx.RLock()
	defer rw.mtx.RUnlock()
	out := make(map[types.Account]types.Amount, len(rw.weights))
	for k, v := range rw.weights {
		out[k] = v
	}
	return out
}

func (rw *RepWeights) set(rep types.Account, weight types.Amount) {
	rw.mtx.Lock()
	defer rw.mtx.Unlock()
	if weight.IsZero() {
		delete(rw.weights, rep)
		return
	}
	rw.weights[rep] = weight
}

// move shifts amount of weight from one representative to another inside
// txn. The cache follows once txn commits.
func (rw *RepWeights) move(txn *store.WriteTxn, from types.Account, to types.Account, remove, add types.Amount) {
	if !remove.IsZero() && !from.IsZero() {
		w := txn.RepWeight(from).SaturatingSub(remove)
		txn.RepWeightPut(from, w)
		txn.OnCommit(func() { rw.set(from, w) })
	}
	if !add.IsZero() && !to.IsZero() {
		w := txn.RepWeight(to).MustAdd(add)
		txn.RepWeightPut(to, w)
		txn.OnCommit(func() { rw.set(to, w) })
	}
}
