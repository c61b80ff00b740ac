package consensus

import (
	"sort"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/orvnode/orv/types"
)

// maxCachedVoters bounds the representatives remembered per block.
const maxCachedVoters = 64

// CachedVote is one representative's vote held while no election exists.
type CachedVote struct {
	Representative types.Account
	Timestamp      uint64
	Weight         types.Amount
}

// VoteCacheEntry is the cached support of one block.
type VoteCacheEntry struct {
	Hash       types.Hash
	Voters     []CachedVote
	Tally      types.Amount
	FinalTally types.Amount
}

// VoteCache holds votes for blocks that have no election yet. They are
// applied when an election starts and their tally drives hinted elections.
// The least recently voted block is evicted first.
type VoteCache struct {
	mtx     sync.Mutex
	entries *simplelru.LRU[types.Hash, *VoteCacheEntry]
	metrics *Metrics
}

// NewVoteCache returns a cache for up to size blocks.
func NewVoteCache(size int, metrics *Metrics) *VoteCache {
	entries, err := simplelru.NewLRU[types.Hash, *VoteCacheEntry](size, nil)
	if err != nil {
		panic(err)
	}
	return &VoteCache{entries: entries, metrics: metrics}
}

// Vote records rep's vote for hash. A newer vote from the same
// representative replaces the older one.
func (vc *VoteCache) Vote(hash types.Hash, rep types.Account, timestamp uint64, weight types.Amount) {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()

	entry, ok := vc.entries.Get(hash)
	if !ok {
		entry = &VoteCacheEntry{Hash: hash}
		vc.entries.Add(hash, entry)
		vc.metrics.VoteCacheSize.Set(float64(vc.entries.Len()))
	}
	for i, v := range entry.Voters {
		if v.Representative != rep {
			continue
		}
		if timestamp <= v.Timestamp {
			return
		}
		entry.Voters[i] = CachedVote{Representative: rep, Timestamp: timestamp, Weight: weight}
		entry.recount()
		return
	}
	if len(entry.Voters) >= maxCachedVoters {
		return
	}
	entry.Voters = append(entry.Voters, CachedVote{Representative: rep, Timestamp: timestamp, Weight: weight})
	entry.recount()
}

func (e *VoteCacheEntry) recount() {
	e.Tally, e.FinalTally = types.Amount{}, types.Amount{}
	for _, v := range e.Voters {
		e.Tally = e.Tally.MustAdd(v.Weight)
		if v.Timestamp == types.FinalTimestamp {
			e.FinalTally = e.FinalTally.MustAdd(v.Weight)
		}
	}
}

// Find returns a copy of the cached votes for hash.
func (vc *VoteCache) Find(hash types.Hash) ([]CachedVote, bool) {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()
	entry, ok := vc.entries.Peek(hash)
	if !ok {
		return nil, false
	}
	return append([]CachedVote(nil), entry.Voters...), true
}

// Erase drops the votes for hash.
func (vc *VoteCache) Erase(hash types.Hash) {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()
	vc.entries.Remove(hash)
	vc.metrics.VoteCacheSize.Set(float64(vc.entries.Len()))
}

// Top returns the entries whose tally reaches minTally, highest tally first.
func (vc *VoteCache) Top(minTally types.Amount) []VoteCacheEntry {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()
	var out []VoteCacheEntry
	for _, hash := range vc.entries.Keys() {
		entry, _ := vc.entries.Peek(hash)
		if entry.Tally.Lt(minTally) {
			continue
		}
		cp := *entry
		cp.Voters = append([]CachedVote(nil), entry.Voters...)
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tally.Gt(out[j].Tally) })
	return out
}

func (vc *VoteCache) Len() int {
	vc.mtx.Lock()
	defer vc.mtx.Unlock()
	return vc.entries.Len()
}
