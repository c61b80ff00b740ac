package network

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/orvnode/orv/types"
)

// DigestSize is the size of a Filter digest in bytes.
const DigestSize = 16

// Digest identifies message contents in a Filter.
type Digest [DigestSize]byte

// Filter is a fixed size duplicate filter for inbound messages. Each digest
// maps to one slot; a newer message hashing to the same slot replaces the old
// one, so the filter may forget but never reports a false duplicate unless
// two digests collide.
type Filter struct {
	mtx   sync.Mutex
	key   [32]byte
	items []Digest
}

// NewFilter returns a filter with size slots, keyed with a random key so
// peers cannot craft colliding messages.
func NewFilter(size int) *Filter {
	if size <= 0 {
		panic("filter size must be positive")
	}
	f := &Filter{items: make([]Digest, size)}
	if _, err := rand.Read(f.key[:]); err != nil {
		panic(err)
	}
	return f
}

// Hash returns the digest of bz under the filter key.
func (f *Filter) Hash(bz []byte) Digest {
	h, err := blake2b.New(DigestSize, f.key[:])
	if err != nil {
		panic(err)
	}
	h.Write(bz)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Apply records bz and reports whether it was already present.
func (f *Filter) Apply(bz []byte) (Digest, bool) {
	d := f.Hash(bz)
	f.mtx.Lock()
	defer f.mtx.Unlock()
	slot := &f.items[f.index(d)]
	seen := *slot == d
	if !seen {
		*slot = d
	}
	return d, seen
}

// Clear forgets digest, if it is still present.
func (f *Filter) Clear(d Digest) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	slot := &f.items[f.index(d)]
	if *slot == d {
		*slot = Digest{}
	}
}

// ClearBlock forgets the publish of block so it can be processed again.
func (f *Filter) ClearBlock(block *types.Block) {
	f.Clear(f.BlockDigest(block))
}

// ApplyBlock records a block publish.
func (f *Filter) ApplyBlock(block *types.Block) (Digest, bool) {
	return f.Apply(blockFilterBytes(block))
}

// BlockDigest returns the digest a block publish is recorded under.
func (f *Filter) BlockDigest(block *types.Block) Digest {
	return f.Hash(blockFilterBytes(block))
}

// Contains reports whether digest is present.
func (f *Filter) Contains(d Digest) bool {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.items[f.index(d)] == d
}

// Reset empties the filter.
func (f *Filter) Reset() {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	for i := range f.items {
		f.items[i] = Digest{}
	}
}

func (f *Filter) index(d Digest) uint64 {
	return binary.BigEndian.Uint64(d[:8]) % uint64(len(f.items))
}

// blockFilterBytes covers the hash and signature, so a re-signed block is a
// different publish.
func blockFilterBytes(block *types.Block) []byte {
	hash := block.Hash()
	bz := make([]byte, 0, len(hash)+len(block.Signature()))
	bz = append(bz, hash[:]...)
	return append(bz, block.Signature()...)
}
