package types

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// BlockType tags the variant held by a Block.
type BlockType uint8

const (
	BlockTypeInvalid BlockType = iota
	BlockTypeSend
	BlockTypeReceive
	BlockTypeOpen
	BlockTypeChange
	BlockTypeState
)

func (t BlockType) String() string {
	switch t {
	case BlockTypeSend:
		return "send"
	case BlockTypeReceive:
		return "receive"
	case BlockTypeOpen:
		return "open"
	case BlockTypeChange:
		return "change"
	case BlockTypeState:
		return "state"
	default:
		return "invalid"
	}
}

// statePreamble separates state block hashes from legacy block hashes.
var statePreamble = [HashSize]byte{31: byte(BlockTypeState)}

var ErrBlockSidebandMissing = errors.New("block has no sideband")

// BlockDetails records what a block did to its account, as decided by the
// ledger when the block was processed.
type BlockDetails struct {
	IsSend    bool
	IsReceive bool
	IsEpoch   bool
}

// Sideband is ledger metadata kept alongside a stored block.
type Sideband struct {
	Height    uint64
	Account   Account
	Balance   Amount
	Successor Hash
	Timestamp time.Time
	Details   BlockDetails
}

// Block is one entry of an account chain. It is a closed sum over the five
// block types; only the fields relevant to Type are populated. Blocks are
// immutable once signed, except for the ledger-owned sideband.
type Block struct {
	blockType      BlockType
	account        Account
	previous       Hash
	representative Account
	balance        Amount
	link           Hash
	source         Hash
	destination    Account

	signature []byte
	work      uint64
	hash      Hash

	sideband *Sideband
}

// NewSendBlock returns a legacy send of everything above balance to destination.
func NewSendBlock(previous Hash, destination Account, balance Amount) *Block {
	b := &Block{blockType: BlockTypeSend, previous: previous, destination: destination, balance: balance}
	b.hash = b.computeHash()
	return b
}

// NewReceiveBlock returns a legacy receive of the pending entry created by source.
func NewReceiveBlock(previous, source Hash) *Block {
	b := &Block{blockType: BlockTypeReceive, previous: previous, source: source}
	b.hash = b.computeHash()
	return b
}

// NewOpenBlock returns the legacy first block of account.
func NewOpenBlock(source Hash, representative, account Account) *Block {
	b := &Block{blockType: BlockTypeOpen, source: source, representative: representative, account: account}
	b.hash = b.computeHash()
	return b
}

// NewChangeBlock returns a legacy representative change.
func NewChangeBlock(previous Hash, representative Account) *Block {
	b := &Block{blockType: BlockTypeChange, previous: previous, representative: representative}
	b.hash = b.computeHash()
	return b
}

// NewStateBlock returns a state block. Whether it sends, receives, changes or
// upgrades the epoch is derived from the balance delta and link.
func NewStateBlock(account Account, previous Hash, representative Account, balance Amount, link Hash) *Block {
	b := &Block{
		blockType:      BlockTypeState,
		account:        account,
		previous:       previous,
		representative: representative,
		balance:        balance,
		link:           link,
	}
	b.hash = b.computeHash()
	return b
}

func (b *Block) computeHash() Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	switch b.blockType {
	case BlockTypeSend:
		h.Write(b.previous[:])
		h.Write(b.destination[:])
		h.Write(b.balance.Bytes())
	case BlockTypeReceive:
		h.Write(b.previous[:])
		h.Write(b.source[:])
	case BlockTypeOpen:
		h.Write(b.source[:])
		h.Write(b.representative[:])
		h.Write(b.account[:])
	case BlockTypeChange:
		h.Write(b.previous[:])
		h.Write(b.representative[:])
	case BlockTypeState:
		h.Write(statePreamble[:])
		h.Write(b.account[:])
		h.Write(b.previous[:])
		h.Write(b.representative[:])
		h.Write(b.balance.Bytes())
		h.Write(b.link[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Sign signs the block hash with key and returns the block for chaining.
func (b *Block) Sign(key PrivKey) *Block {
	b.signature = key.Sign(b.hash[:])
	return b
}

// SetWork attaches a proof of work nonce. Work is carried but not validated.
func (b *Block) SetWork(work uint64) *Block {
	b.work = work
	return b
}

// VerifySignature checks the signature against signer. For legacy blocks
// other than open the signer is only known from the ledger.
func (b *Block) VerifySignature(signer Account) bool {
	return VerifySignature(signer, b.hash[:], b.signature)
}

func (b *Block) Type() BlockType { return b.blockType }

func (b *Block) Hash() Hash { return b.hash }

func (b *Block) Signature() []byte { return b.signature }

func (b *Block) Work() uint64 { return b.work }

// Previous is zero for open blocks and for the first state block of a chain.
func (b *Block) Previous() Hash {
	if b.blockType == BlockTypeOpen {
		return ZeroHash
	}
	return b.previous
}

// Root is the account for the first block of a chain, the previous hash otherwise.
func (b *Block) Root() Hash {
	if b.Previous().IsZero() {
		return b.Account().AsHash()
	}
	return b.previous
}

func (b *Block) QualifiedRoot() QualifiedRoot {
	return QualifiedRoot{Root: b.Root(), Previous: b.Previous()}
}

// Account returns the owning account. Legacy send, receive and change blocks
// do not carry it, so it comes from the sideband and is zero without one.
func (b *Block) Account() Account {
	switch b.blockType {
	case BlockTypeOpen, BlockTypeState:
		return b.account
	}
	if b.sideband != nil {
		return b.sideband.Account
	}
	return ZeroAccount
}

// Balance is the account balance after this block.
func (b *Block) Balance() Amount {
	switch b.blockType {
	case BlockTypeSend, BlockTypeState:
		return b.balance
	}
	if b.sideband != nil {
		return b.sideband.Balance
	}
	return Amount{}
}

// Representative is zero for block types that do not name one.
func (b *Block) Representative() Account {
	switch b.blockType {
	case BlockTypeOpen, BlockTypeChange, BlockTypeState:
		return b.representative
	}
	return ZeroAccount
}

// Link is the raw link field of a state block.
func (b *Block) Link() Hash {
	if b.blockType == BlockTypeState {
		return b.link
	}
	return ZeroHash
}

// Source is the send this block receives, or zero. State blocks only know
// they are receives once the ledger has filled in the sideband.
func (b *Block) Source() Hash {
	switch b.blockType {
	case BlockTypeReceive, BlockTypeOpen:
		return b.source
	case BlockTypeState:
		if b.sideband != nil && b.sideband.Details.IsReceive {
			return b.link
		}
	}
	return ZeroHash
}

// Destination is the receiving account of a send, or zero.
func (b *Block) Destination() Account {
	switch b.blockType {
	case BlockTypeSend:
		return b.destination
	case BlockTypeState:
		if b.sideband != nil && b.sideband.Details.IsSend {
			return b.link.AsAccount()
		}
	}
	return ZeroAccount
}

// Height is the position in the account chain, starting at 1. Zero without sideband.
func (b *Block) Height() uint64 {
	if b.sideband == nil {
		return 0
	}
	return b.sideband.Height
}

func (b *Block) Sideband() *Sideband { return b.sideband }

func (b *Block) HasSideband() bool { return b.sideband != nil }

// SetSideband is called by the ledger when the block is stored or loaded.
func (b *Block) SetSideband(sb Sideband) {
	b.sideband = &sb
}

// IsSend reports whether the block decreased the account balance.
func (b *Block) IsSend() bool {
	if b.blockType == BlockTypeSend {
		return true
	}
	return b.sideband != nil && b.sideband.Details.IsSend
}

// IsReceive reports whether the block pulls a pending entry.
func (b *Block) IsReceive() bool {
	switch b.blockType {
	case BlockTypeReceive, BlockTypeOpen:
		return true
	}
	return b.sideband != nil && b.sideband.Details.IsReceive
}

func (b *Block) IsEpoch() bool {
	return b.sideband != nil && b.sideband.Details.IsEpoch
}

// Clone returns a copy that does not share the sideband.
func (b *Block) Clone() *Block {
	cp := *b
	if b.sideband != nil {
		sb := *b.sideband
		cp.sideband = &sb
	}
	cp.signature = append([]byte(nil), b.signature...)
	return &cp
}

func (b *Block) String() string {
	if b == nil {
		return "nil-Block"
	}
	return fmt.Sprintf("Block{%v %v root:%v}", b.blockType, b.hash, b.Root())
}
