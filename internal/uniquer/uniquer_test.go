package uniquer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orvnode/orv/internal/test/factory"
	"github.com/orvnode/orv/types"
)

func TestBlockUniquer(t *testing.T) {
	u := NewBlocks(2)
	genesis := factory.GenesisChain()
	dest := types.GenPrivKey().Account()
	b1 := genesis.Fork(dest, 1)
	dup := genesis.Fork(dest, 1)
	require.NotSame(t, b1, dup)
	require.Equal(t, b1.Hash(), dup.Hash())

	assert.Same(t, b1, u.Unique(b1))
	assert.Same(t, b1, u.Unique(dup))
	assert.Equal(t, 1, u.Len())

	// least recently used entries are forgotten
	b2 := genesis.Fork(dest, 2)
	b3 := genesis.Fork(dest, 3)
	u.Unique(b2)
	u.Unique(b3)
	assert.Equal(t, 2, u.Len())
	assert.Same(t, dup, u.Unique(dup))
}

func TestVoteUniquer(t *testing.T) {
	u := NewVotes(DefaultSize)
	key := types.GenPrivKey()
	hash := factory.GenesisChain().Send(types.GenPrivKey().Account(), 1).Hash()

	v1 := types.NewVote(key, 16, 0, []types.Hash{hash})
	v2 := types.NewVote(key, 16, 0, []types.Hash{hash})
	v3 := types.NewVote(key, 32, 0, []types.Hash{hash})

	assert.Same(t, v1, u.Unique(v1))
	assert.Same(t, v1, u.Unique(v2))
	assert.Same(t, v3, u.Unique(v3))
	assert.Equal(t, 2, u.Len())
}
