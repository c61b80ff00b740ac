package scheduler

import (
	"time"

	"github.com/google/btree"
	"github.com/holiman/uint256"

	"github.com/orvnode/orv/types"
)

const defaultTreeDegree = 2

// bucketBoundaries are the minimum balances of each priority bucket, in
// raw. Accounts with larger balances land in later buckets; every bucket is
// served in turn so small accounts cannot be starved by large ones, nor the
// reverse.
var bucketBoundaries = func() []types.Amount {
	exps := []uint{79, 88, 92, 96, 100, 104, 108, 112, 116, 120}
	out := []types.Amount{{}}
	for _, e := range exps {
		v := new(uint256.Int).Lsh(uint256.NewInt(1), e)
		a, err := types.AmountFromDecimal(v.Dec())
		if err != nil {
			panic(err)
		}
		out = append(out, a)
	}
	return out
}()

// bucketIndex returns the bucket for an account holding balance.
func bucketIndex(balance types.Amount) int {
	i := 0
	for j, min := range bucketBoundaries {
		if balance.Cmp(min) >= 0 {
			i = j
		}
	}
	return i
}

// entry is a block waiting for a priority election. Accounts that have
// been idle longest go first.
type entry struct {
	time  time.Time
	block *types.Block
}

var _ btree.LessFunc[*entry] = (*entry).Less

func (e *entry) Less(o *entry) bool {
	if !e.time.Equal(o.time) {
		return e.time.Before(o.time)
	}
	return e.block.Hash().Compare(o.block.Hash()) < 0
}

// bucket is a size-bounded ordered queue. When full, the entry with the
// lowest priority is dropped.
type bucket struct {
	max   int
	queue *btree.BTreeG[*entry]
	// hashes indexes queued blocks
	hashes map[types.Hash]*entry
}

func newBucket(max int) *bucket {
	return &bucket{
		max:    max,
		queue:  btree.NewG(defaultTreeDegree, (*entry).Less),
		hashes: make(map[types.Hash]*entry),
	}
}

// push queues e. It reports whether e was queued and whether an entry was
// dropped because the bucket was full, which may be e itself.
func (b *bucket) push(e *entry) (added, overflow bool) {
	if _, ok := b.hashes[e.block.Hash()]; ok {
		return false, false
	}
	b.queue.ReplaceOrInsert(e)
	b.hashes[e.block.Hash()] = e
	if b.queue.Len() > b.max {
		last, _ := b.queue.DeleteMax()
		delete(b.hashes, last.block.Hash())
		return last != e, true
	}
	return true, false
}

func (b *bucket) pop() (*entry, bool) {
	e, ok := b.queue.DeleteMin()
	if ok {
		delete(b.hashes, e.block.Hash())
	}
	return e, ok
}

func (b *bucket) len() int { return b.queue.Len() }
