package types

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	// FinalTimestamp marks a final vote: the representative commits to never
	// voting differently for the same root.
	FinalTimestamp uint64 = math.MaxUint64

	// MaxVoteHashes bounds the number of hashes one vote may cover.
	MaxVoteHashes = 12

	durationMask uint64 = 0xf
)

var votePrefix = []byte("vote ")

var (
	ErrVoteNil           = errors.New("nil vote")
	ErrVoteNoHashes      = errors.New("vote has no hashes")
	ErrVoteTooManyHashes = fmt.Errorf("vote covers more than %d hashes", MaxVoteHashes)
	ErrVoteDuplicateHash = errors.New("vote repeats a hash")
)

// Vote is a representative's signed support for one or more blocks. The low
// four bits of a non-final timestamp carry the duration exponent. A vote is
// immutable once constructed.
type Vote struct {
	Account   Account
	Timestamp uint64
	Hashes    []Hash
	Signature []byte
}

// NewVote signs a non-final vote. timestampMs is milliseconds since the unix
// epoch; durationBits (0..15) encodes how long the vote stays valid.
func NewVote(key PrivKey, timestampMs uint64, durationBits uint8, hashes []Hash) *Vote {
	ts := (timestampMs &^ durationMask) | (uint64(durationBits) & durationMask)
	if ts == FinalTimestamp {
		ts--
	}
	return newSignedVote(key, ts, hashes)
}

// NewFinalVote signs a final vote.
func NewFinalVote(key PrivKey, hashes []Hash) *Vote {
	return newSignedVote(key, FinalTimestamp, hashes)
}

func newSignedVote(key PrivKey, ts uint64, hashes []Hash) *Vote {
	v := &Vote{
		Account:   key.Account(),
		Timestamp: ts,
		Hashes:    append([]Hash(nil), hashes...),
	}
	h := v.Hash()
	v.Signature = key.Sign(h[:])
	return v
}

func (v *Vote) IsFinal() bool { return v.Timestamp == FinalTimestamp }

// DurationBits returns the encoded duration exponent.
func (v *Vote) DurationBits() uint8 {
	return uint8(v.Timestamp & durationMask)
}

// Duration is how long the vote remains valid, 2^(bits+4) milliseconds.
func (v *Vote) Duration() time.Duration {
	return time.Duration(1<<(v.DurationBits()+4)) * time.Millisecond
}

// Time returns the timestamp without the duration bits. Final votes return
// the zero time.
func (v *Vote) Time() time.Time {
	if v.IsFinal() {
		return time.Time{}
	}
	return time.UnixMilli(int64(v.Timestamp &^ durationMask))
}

// Hash is what the representative signs.
func (v *Vote) Hash() Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	h.Write(votePrefix)
	for _, bh := range v.Hashes {
		h.Write(bh[:])
	}
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], v.Timestamp)
	h.Write(ts[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// FullHash also covers the signer and signature, and identifies a vote
// message for deduplication.
func (v *Vote) FullHash() Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}
	inner := v.Hash()
	h.Write(inner[:])
	h.Write(v.Account[:])
	h.Write(v.Signature)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ValidateBasic performs stateless checks, excluding the signature.
func (v *Vote) ValidateBasic() error {
	if v == nil {
		return ErrVoteNil
	}
	if len(v.Hashes) == 0 {
		return ErrVoteNoHashes
	}
	if len(v.Hashes) > MaxVoteHashes {
		return ErrVoteTooManyHashes
	}
	seen := make(map[Hash]struct{}, len(v.Hashes))
	for _, h := range v.Hashes {
		if _, ok := seen[h]; ok {
			return ErrVoteDuplicateHash
		}
		seen[h] = struct{}{}
	}
	return nil
}

// Verify checks the signature against the voting account.
func (v *Vote) Verify() error {
	h := v.Hash()
	if !VerifySignature(v.Account, h[:], v.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *Vote) String() string {
	if v == nil {
		return "nil-Vote"
	}
	hashes := make([]string, len(v.Hashes))
	for i, h := range v.Hashes {
		hashes[i] = h.String()[:12]
	}
	ts := fmt.Sprint(v.Timestamp)
	if v.IsFinal() {
		ts = "final"
	}
	return fmt.Sprintf("Vote{%v ts:%s [%s]}", v.Account, ts, strings.Join(hashes, " "))
}
