package consensus

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/orvnode/orv/types"
)

// RecentlyCemented keeps the statuses of the most recently cemented
// election winners for queries, oldest first.
type RecentlyCemented struct {
	mtx      sync.Mutex
	statuses *simplelru.LRU[types.Hash, types.ElectionStatus]
}

// NewRecentlyCemented returns a cache holding up to size statuses.
func NewRecentlyCemented(size int) *RecentlyCemented {
	if size < 1 {
		size = 1
	}
	statuses, err := simplelru.NewLRU[types.Hash, types.ElectionStatus](size, nil)
	if err != nil {
		panic(err)
	}
	return &RecentlyCemented{statuses: statuses}
}

// Put records status. A status for a winner already present is ignored.
func (rc *RecentlyCemented) Put(status types.ElectionStatus) {
	if status.Winner == nil {
		return
	}
	rc.mtx.Lock()
	defer rc.mtx.Unlock()
	hash := status.Winner.Hash()
	if rc.statuses.Contains(hash) {
		return
	}
	rc.statuses.Add(hash, status)
}

// List returns the statuses, oldest first.
func (rc *RecentlyCemented) List() []types.ElectionStatus {
	rc.mtx.Lock()
	defer rc.mtx.Unlock()
	keys := rc.statuses.Keys()
	out := make([]types.ElectionStatus, 0, len(keys))
	for _, k := range keys {
		if st, ok := rc.statuses.Peek(k); ok {
			out = append(out, st)
		}
	}
	return out
}

// Get returns the status recorded for a cemented winner.
func (rc *RecentlyCemented) Get(hash types.Hash) (types.ElectionStatus, bool) {
	rc.mtx.Lock()
	defer rc.mtx.Unlock()
	return rc.statuses.Peek(hash)
}

func (rc *RecentlyCemented) Len() int {
	rc.mtx.Lock()
	defer rc.mtx.Unlock()
	return rc.statuses.Len()
}
