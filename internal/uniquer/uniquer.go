// Package uniquer deduplicates blocks and votes arriving from the network so
// that equal objects share one instance in memory.
package uniquer

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/orvnode/orv/types"
)

// DefaultSize is the number of objects remembered by each uniquer.
const DefaultSize = 65536

// Uniquer maps objects with the same key onto the first instance seen, for
// as long as that instance is in the cache.
type Uniquer[T any] struct {
	cache *lru.Cache[types.Hash, T]
	key   func(T) types.Hash
}

func newUniquer[T any](size int, key func(T) types.Hash) *Uniquer[T] {
	cache, err := lru.New[types.Hash, T](size)
	if err != nil {
		panic(err)
	}
	return &Uniquer[T]{cache: cache, key: key}
}

// NewBlocks returns a block uniquer keyed by block hash.
func NewBlocks(size int) *Uniquer[*types.Block] {
	return newUniquer(size, (*types.Block).Hash)
}

// NewVotes returns a vote uniquer keyed by the hash of the whole vote,
// signature included.
func NewVotes(size int) *Uniquer[*types.Vote] {
	return newUniquer(size, (*types.Vote).FullHash)
}

// Unique returns the remembered instance equal to v, or remembers and
// returns v itself.
func (u *Uniquer[T]) Unique(v T) T {
	if prev, ok, _ := u.cache.PeekOrAdd(u.key(v), v); ok {
		return prev
	}
	return v
}

// Len returns the number of remembered objects.
func (u *Uniquer[T]) Len() int { return u.cache.Len() }
