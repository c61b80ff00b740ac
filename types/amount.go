package types

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// AmountSize is the encoded size of an Amount (128 bits, big-endian).
const AmountSize = 16

var (
	// MaxAmount is the largest representable balance, 2^128 - 1 raw.
	MaxAmount = Amount{u: *new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))}

	ErrAmountOverflow = errors.New("amount overflows 128 bits")
)

// Amount is an unsigned 128-bit quantity of raw units. Balances and
// representative weights are Amounts; sums of weights never exceed the total
// supply so tally arithmetic stays inside 128 bits.
type Amount struct {
	u uint256.Int
}

// NewAmount returns an Amount holding v raw.
func NewAmount(v uint64) Amount {
	return Amount{u: *uint256.NewInt(v)}
}

// AmountFromBytes decodes a 16 byte big-endian amount.
func AmountFromBytes(bz []byte) (Amount, error) {
	if len(bz) != AmountSize {
		return Amount{}, fmt.Errorf("invalid amount length: expected %d, got %d", AmountSize, len(bz))
	}
	var a Amount
	a.u.SetBytes(bz)
	return a, nil
}

// AmountFromDecimal parses a base 10 string.
func AmountFromDecimal(s string) (Amount, error) {
	u, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, err
	}
	a := Amount{u: *u}
	if a.u.Gt(&MaxAmount.u) {
		return Amount{}, ErrAmountOverflow
	}
	return a, nil
}

func (a Amount) IsZero() bool { return a.u.IsZero() }

// Cmp returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.u.Cmp(&b.u) }

func (a Amount) Lt(b Amount) bool { return a.u.Lt(&b.u) }

func (a Amount) Gt(b Amount) bool { return a.u.Gt(&b.u) }

// Add returns a+b. The boolean reports overflow past 128 bits.
func (a Amount) Add(b Amount) (Amount, bool) {
	var r Amount
	r.u.Add(&a.u, &b.u)
	return r, r.u.Gt(&MaxAmount.u)
}

// Sub returns a-b. The boolean reports underflow.
func (a Amount) Sub(b Amount) (Amount, bool) {
	var r Amount
	_, underflow := r.u.SubOverflow(&a.u, &b.u)
	return r, underflow
}

// MustAdd panics on overflow; used where the invariant total <= supply holds.
func (a Amount) MustAdd(b Amount) Amount {
	r, overflow := a.Add(b)
	if overflow {
		panic(fmt.Sprintf("amount overflow: %v + %v", a, b))
	}
	return r
}

// MustSub panics on underflow.
func (a Amount) MustSub(b Amount) Amount {
	r, underflow := a.Sub(b)
	if underflow {
		panic(fmt.Sprintf("amount underflow: %v - %v", a, b))
	}
	return r
}

// SaturatingSub returns a-b, or zero when b > a.
func (a Amount) SaturatingSub(b Amount) Amount {
	r, underflow := a.Sub(b)
	if underflow {
		return Amount{}
	}
	return r
}

// Percent returns a * pct / 100. Intermediate values fit in 256 bits.
func (a Amount) Percent(pct uint64) Amount {
	var r Amount
	r.u.Mul(&a.u, uint256.NewInt(pct))
	r.u.Div(&r.u, uint256.NewInt(100))
	return r
}

// Max returns the larger of a and b.
func (a Amount) Max(b Amount) Amount {
	if a.Lt(b) {
		return b
	}
	return a
}

// Bytes returns the 16 byte big-endian encoding.
func (a Amount) Bytes() []byte {
	full := a.u.Bytes32()
	bz := make([]byte, AmountSize)
	copy(bz, full[32-AmountSize:])
	return bz
}

// Float64 is lossy and only meant for metrics.
func (a Amount) Float64() float64 {
	return a.u.Float64()
}

func (a Amount) String() string { return a.u.Dec() }
