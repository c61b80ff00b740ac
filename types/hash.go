package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// HashSize is the size in bytes of block hashes, roots and account keys.
	HashSize = 32
)

// Hash identifies a block (or any other content-addressed object).
type Hash [HashSize]byte

// ZeroHash is the empty hash, used for "no previous block" and "no link".
var ZeroHash Hash

// HashFromBytes copies bz into a Hash. bz must be exactly HashSize bytes long.
func HashFromBytes(bz []byte) (Hash, error) {
	var h Hash
	if len(bz) != HashSize {
		return h, fmt.Errorf("invalid hash length: expected %d, got %d", HashSize, len(bz))
	}
	copy(h[:], bz)
	return h, nil
}

// HashFromHex decodes a hex encoded hash.
func HashFromHex(s string) (Hash, error) {
	bz, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decoding hash: %w", err)
	}
	return HashFromBytes(bz)
}

func (h Hash) IsZero() bool { return h == ZeroHash }

func (h Hash) Bytes() []byte {
	bz := make([]byte, HashSize)
	copy(bz, h[:])
	return bz
}

// Compare returns -1, 0 or 1 comparing the hashes as big-endian integers.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

// AsAccount reinterprets the hash as an account key. Used for the link field
// of state sends and for the root of open blocks.
func (h Hash) AsAccount() Account { return Account(h) }

func (h Hash) String() string {
	return strings.ToUpper(hex.EncodeToString(h[:]))
}

// Account is the public key of an account chain.
type Account [HashSize]byte

// ZeroAccount is the burn account.
var ZeroAccount Account

// AccountFromBytes copies bz into an Account.
func AccountFromBytes(bz []byte) (Account, error) {
	h, err := HashFromBytes(bz)
	if err != nil {
		return Account{}, err
	}
	return Account(h), nil
}

func (a Account) IsZero() bool { return a == ZeroAccount }

func (a Account) Bytes() []byte {
	bz := make([]byte, HashSize)
	copy(bz, a[:])
	return bz
}

func (a Account) AsHash() Hash { return Hash(a) }

func (a Account) Compare(other Account) int {
	return bytes.Compare(a[:], other[:])
}

func (a Account) String() string {
	return "orv_" + strings.ToUpper(hex.EncodeToString(a[:]))
}

// QualifiedRoot identifies one position in one account chain: the root (the
// account for the first block of a chain, the previous hash otherwise) and
// the previous hash. At most one election may exist for a qualified root.
type QualifiedRoot struct {
	Root     Hash
	Previous Hash
}

func (qr QualifiedRoot) Bytes() []byte {
	bz := make([]byte, 0, 2*HashSize)
	bz = append(bz, qr.Root[:]...)
	return append(bz, qr.Previous[:]...)
}

func (qr QualifiedRoot) IsZero() bool {
	return qr.Root.IsZero() && qr.Previous.IsZero()
}

func (qr QualifiedRoot) String() string {
	return fmt.Sprintf("%v:%v", qr.Root, qr.Previous)
}
