package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/orvnode/orv/types"
)

// OnlineReps tracks which representatives voted recently and derives the
// quorum delta from their combined weight.
type OnlineReps struct {
	mtx sync.Mutex

	weights   WeightSource
	period    time.Duration
	minimum   types.Amount
	quorumPct uint64
	lastSeen  map[types.Account]time.Time
	metrics   *Metrics

	now func() time.Time
}

var _ Quorum = (*OnlineReps)(nil)

// NewOnlineReps returns a tracker counting a representative as online for
// period after its last vote. The online weight never counts as less than
// minimum, and the delta is quorumPct percent of it.
func NewOnlineReps(weights WeightSource, period time.Duration, minimum types.Amount, quorumPct uint64, metrics *Metrics) *OnlineReps {
	return &OnlineReps{
		weights:   weights,
		period:    period,
		minimum:   minimum,
		quorumPct: quorumPct,
		lastSeen:  make(map[types.Account]time.Time),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Observe marks rep as online. Representatives without weight are ignored.
func (o *OnlineReps) Observe(rep types.Account) {
	if o.weights.Weight(rep).IsZero() {
		return
	}
	o.mtx.Lock()
	o.lastSeen[rep] = o.now()
	o.mtx.Unlock()
}

// Online returns the current combined weight of online representatives.
func (o *OnlineReps) Online() types.Amount {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	o.trim()
	var total types.Amount
	for rep := range o.lastSeen {
		total = total.MustAdd(o.weights.Weight(rep))
	}
	o.metrics.OnlineWeight.Set(total.Float64())
	return total
}

// Delta returns the weight a winner needs to be confirmed.
func (o *OnlineReps) Delta() types.Amount {
	return o.Online().Max(o.minimum).Percent(o.quorumPct)
}

// List returns the online representatives, heaviest first.
func (o *OnlineReps) List() []types.Account {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	o.trim()
	out := make([]types.Account, 0, len(o.lastSeen))
	for rep := range o.lastSeen {
		out = append(out, rep)
	}
	sort.Slice(out, func(i, j int) bool {
		wi, wj := o.weights.Weight(out[i]), o.weights.Weight(out[j])
		if wi.Cmp(wj) != 0 {
			return wi.Gt(wj)
		}
		return out[i].Compare(out[j]) < 0
	})
	return out
}

// Clear forgets every representative.
func (o *OnlineReps) Clear() {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	o.lastSeen = make(map[types.Account]time.Time)
}

// trim drops representatives not seen within the period. o.mtx must be held.
func (o *OnlineReps) trim() {
	cutoff := o.now().Add(-o.period)
	for rep, seen := range o.lastSeen {
		if seen.Before(cutoff) {
			delete(o.lastSeen, rep)
		}
	}
}
