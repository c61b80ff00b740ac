package consensus

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/orvnode/orv/types"
)

// RecentlyConfirmed remembers the outcome of recently finished elections so
// that late votes classify as replays. It is a FIFO: lookups do not refresh
// entries and the oldest entry goes first once the capacity is reached.
type RecentlyConfirmed struct {
	mtx    sync.Mutex
	roots  *simplelru.LRU[types.QualifiedRoot, types.Hash]
	hashes map[types.Hash]types.QualifiedRoot
}

// NewRecentlyConfirmed returns a cache holding up to size outcomes.
func NewRecentlyConfirmed(size int) *RecentlyConfirmed {
	rc := &RecentlyConfirmed{hashes: make(map[types.Hash]types.QualifiedRoot, size)}
	roots, err := simplelru.NewLRU[types.QualifiedRoot, types.Hash](size, func(_ types.QualifiedRoot, hash types.Hash) {
		delete(rc.hashes, hash)
	})
	if err != nil {
		panic(err)
	}
	rc.roots = roots
	return rc
}

// Put records that root was decided for hash. It returns false, changing
// nothing, if root is already present.
func (rc *RecentlyConfirmed) Put(root types.QualifiedRoot, hash types.Hash) bool {
	rc.mtx.Lock()
	defer rc.mtx.Unlock()
	if rc.roots.Contains(root) {
		return false
	}
	rc.roots.Add(root, hash)
	rc.hashes[hash] = root
	return true
}

// Erase forgets the entry for hash.
func (rc *RecentlyConfirmed) Erase(hash types.Hash) {
	rc.mtx.Lock()
	defer rc.mtx.Unlock()
	if root, ok := rc.hashes[hash]; ok {
		rc.roots.Remove(root)
	}
}

func (rc *RecentlyConfirmed) Clear() {
	rc.mtx.Lock()
	defer rc.mtx.Unlock()
	rc.roots.Purge()
}

func (rc *RecentlyConfirmed) ExistsHash(hash types.Hash) bool {
	rc.mtx.Lock()
	defer rc.mtx.Unlock()
	_, ok := rc.hashes[hash]
	return ok
}

func (rc *RecentlyConfirmed) ExistsRoot(root types.QualifiedRoot) bool {
	rc.mtx.Lock()
	defer rc.mtx.Unlock()
	return rc.roots.Contains(root)
}

func (rc *RecentlyConfirmed) Len() int {
	rc.mtx.Lock()
	defer rc.mtx.Unlock()
	return rc.roots.Len()
}

// Oldest returns the entry next in line for eviction.
func (rc *RecentlyConfirmed) Oldest() (types.QualifiedRoot, types.Hash, bool) {
	rc.mtx.Lock()
	defer rc.mtx.Unlock()
	return rc.roots.GetOldest()
}
