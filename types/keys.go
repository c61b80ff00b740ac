package types

import (
	"crypto/rand"
	"errors"
	"io"

	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
)

const SignatureSize = ed25519.SignatureSize

var ErrInvalidSignature = errors.New("invalid signature")

// PrivKey signs blocks and votes on behalf of an account.
type PrivKey struct {
	key ed25519.PrivateKey
}

// GenPrivKey generates a new key from crypto/rand.
func GenPrivKey() PrivKey {
	return genPrivKey(rand.Reader)
}

func genPrivKey(r io.Reader) PrivKey {
	_, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		panic(err)
	}
	return PrivKey{key: priv}
}

// PrivKeyFromSeed derives a key deterministically from a 32 byte seed.
func PrivKeyFromSeed(seed []byte) (PrivKey, error) {
	if len(seed) != ed25519.SeedSize {
		return PrivKey{}, errors.New("invalid seed length")
	}
	return PrivKey{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// Account returns the public key as an account.
func (pk PrivKey) Account() Account {
	var a Account
	copy(a[:], pk.key.Public().(ed25519.PublicKey))
	return a
}

func (pk PrivKey) Sign(msg []byte) []byte {
	return ed25519.Sign(pk.key, msg)
}

// Seed returns the 32 byte seed the key was derived from.
func (pk PrivKey) Seed() []byte {
	return pk.key.Seed()
}

// VerifySignature checks sig over msg against the account's public key.
func VerifySignature(account Account, msg, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(account[:]), msg, sig)
}
