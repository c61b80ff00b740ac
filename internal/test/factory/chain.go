package factory

import (
	"github.com/orvnode/orv/internal/ledger"
	"github.com/orvnode/orv/types"
)

// Chain follows the head of one account so that successive state blocks can
// be built without a ledger. Building a block advances the chain.
type Chain struct {
	Key     types.PrivKey
	Head    types.Hash
	Balance types.Amount
	Rep     types.Account
}

// GenesisChain returns the chain of the dev genesis account.
func GenesisChain() *Chain {
	c := ledger.DevConstants()
	return &Chain{
		Key:     ledger.DevGenesisKey(),
		Head:    c.GenesisBlock.Hash(),
		Balance: c.GenesisAmount,
		Rep:     c.GenesisAccount,
	}
}

// NewChain returns an unopened account with a fresh key that will represent
// itself.
func NewChain() *Chain {
	key := types.GenPrivKey()
	return &Chain{Key: key, Rep: key.Account()}
}

func (c *Chain) Account() types.Account { return c.Key.Account() }

func (c *Chain) next(balance types.Amount, link types.Hash) *types.Block {
	block := types.NewStateBlock(c.Account(), c.Head, c.Rep, balance, link).Sign(c.Key)
	c.Head = block.Hash()
	c.Balance = balance
	return block
}

// Send moves amount raw to dest.
func (c *Chain) Send(dest types.Account, amount uint64) *types.Block {
	return c.next(c.Balance.MustSub(types.NewAmount(amount)), dest.AsHash())
}

// Receive pulls amount raw from send. On an unopened chain it opens the account.
func (c *Chain) Receive(send *types.Block, amount uint64) *types.Block {
	return c.next(c.Balance.MustAdd(types.NewAmount(amount)), send.Hash())
}

// Change switches the representative.
func (c *Chain) Change(rep types.Account) *types.Block {
	c.Rep = rep
	return c.next(c.Balance, types.ZeroHash)
}

// Fork builds a send from the current head without advancing the chain, so
// several calls produce competing blocks for the same root.
func (c *Chain) Fork(dest types.Account, amount uint64) *types.Block {
	saved := *c
	block := c.Send(dest, amount)
	*c = saved
	return block
}
