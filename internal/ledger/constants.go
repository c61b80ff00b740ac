package ledger

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/orvnode/orv/types"
)

// devGenesisSeed is the published seed of the dev network genesis account.
// Anyone can sign for it, which is the point of the dev network.
const devGenesisSeed = "34F0A37AAD20F4A260F0A5B3CB3D7FB50673212263E58A380BC10474BB039CE4"

// Constants describe a network's ledger: its genesis and epoch rules.
type Constants struct {
	GenesisAccount types.Account
	GenesisBlock   *types.Block
	GenesisAmount  types.Amount

	// EpochLink marks state blocks that upgrade an account. They must be
	// signed by EpochSigner and leave balance and representative unchanged.
	EpochLink   types.Hash
	EpochSigner types.Account
}

// DevGenesisKey returns the dev network genesis key.
func DevGenesisKey() types.PrivKey {
	seed, err := hex.DecodeString(devGenesisSeed)
	if err != nil {
		panic(err)
	}
	key, err := types.PrivKeyFromSeed(seed)
	if err != nil {
		panic(err)
	}
	return key
}

// DevConstants returns the constants of the dev network. The genesis account
// holds the whole supply and represents itself.
func DevConstants() Constants {
	key := DevGenesisKey()
	return NewConstants(key, key.Account())
}

// TestConstants returns the constants of the shared test network, whose
// genesis seed is derived from the network name.
func TestConstants() Constants {
	seed := blake2b.Sum256([]byte("orv test network genesis"))
	key, err := types.PrivKeyFromSeed(seed[:])
	if err != nil {
		panic(err)
	}
	return NewConstants(key, key.Account())
}

// NewConstants builds a network whose genesis is owned by key and whose epoch
// blocks are signed by epochSigner.
func NewConstants(key types.PrivKey, epochSigner types.Account) Constants {
	account := key.Account()
	genesis := types.NewOpenBlock(account.AsHash(), account, account).Sign(key)

	var epochLink types.Hash
	copy(epochLink[:], "epoch v1 block")

	return Constants{
		GenesisAccount: account,
		GenesisBlock:   genesis,
		GenesisAmount:  types.MaxAmount,
		EpochLink:      epochLink,
		EpochSigner:    epochSigner,
	}
}

// IsEpochLink reports whether link marks an epoch block.
func (c Constants) IsEpochLink(link types.Hash) bool {
	return !link.IsZero() && link == c.EpochLink
}
