package consensus

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/orvnode/orv/types"
)

func TestRecentlyConfirmed(t *testing.T) {
	rc := NewRecentlyConfirmed(2)
	blocks := rootBlocks(3)

	require.True(t, rc.Put(blocks[0].QualifiedRoot(), blocks[0].Hash()))
	require.False(t, rc.Put(blocks[0].QualifiedRoot(), blocks[1].Hash()), "root already decided")
	require.True(t, rc.Put(blocks[1].QualifiedRoot(), blocks[1].Hash()))

	// lookups do not refresh: blocks[0] is still evicted first
	require.True(t, rc.ExistsHash(blocks[0].Hash()))
	require.True(t, rc.Put(blocks[2].QualifiedRoot(), blocks[2].Hash()))
	assert.Equal(t, 2, rc.Len())
	assert.False(t, rc.ExistsHash(blocks[0].Hash()))
	assert.False(t, rc.ExistsRoot(blocks[0].QualifiedRoot()))

	root, hash, ok := rc.Oldest()
	require.True(t, ok)
	assert.Equal(t, blocks[1].QualifiedRoot(), root)
	assert.Equal(t, blocks[1].Hash(), hash)

	rc.Erase(blocks[1].Hash())
	assert.False(t, rc.ExistsRoot(blocks[1].QualifiedRoot()))
	assert.Equal(t, 1, rc.Len())

	rc.Clear()
	assert.Equal(t, 0, rc.Len())
	assert.False(t, rc.ExistsHash(blocks[2].Hash()))
}

func TestRecentlyConfirmedBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 8).Draw(t, "size").(int)
		n := rapid.IntRange(0, 32).Draw(t, "n").(int)
		rc := NewRecentlyConfirmed(size)
		blocks := rootBlocks(n)
		for _, b := range blocks {
			rc.Put(b.QualifiedRoot(), b.Hash())
		}
		want := n
		if want > size {
			want = size
		}
		require.Equal(t, want, rc.Len())
		for i, b := range blocks {
			require.Equal(t, i >= n-want, rc.ExistsHash(b.Hash()), "block %d", i)
		}
	})
}

func TestRecentlyCemented(t *testing.T) {
	rc := NewRecentlyCemented(2)
	blocks := rootBlocks(3)
	now := time.Now()
	statuses := make([]types.ElectionStatus, len(blocks))
	for i, b := range blocks {
		statuses[i] = types.ElectionStatus{
			Winner:      b,
			Tally:       amount(uint64(i)),
			ElectionEnd: now.Add(time.Duration(i) * time.Second),
			Type:        types.StatusActiveConfirmedQuorum,
		}
	}

	rc.Put(types.ElectionStatus{})
	assert.Equal(t, 0, rc.Len(), "statuses without winner are ignored")

	rc.Put(statuses[0])
	rc.Put(statuses[1])
	dup := statuses[0]
	dup.Type = types.StatusInactiveConfirmationHeight
	rc.Put(dup)
	rc.Put(statuses[2])

	if diff := cmp.Diff(statuses[1:], rc.List(), cmp.AllowUnexported(types.Amount{}, types.Block{})); diff != "" {
		t.Fatalf("unexpected statuses (-want +got):\n%s", diff)
	}
	_, ok := rc.Get(blocks[0].Hash())
	assert.False(t, ok)
	st, ok := rc.Get(blocks[2].Hash())
	require.True(t, ok)
	assert.Equal(t, amount(2), st.Tally)
}
