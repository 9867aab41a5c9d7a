// Package u256 provides a fixed-width 256-bit unsigned integer whose arithmetic
// fails explicitly instead of wrapping.
package u256

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/defistate/amm-engine/types"
)

// U256 is an immutable 256-bit unsigned integer. The zero value is 0.
type U256 struct {
	v uint256.Int
}

// Uint128 is a 128-bit unsigned value split into two words.
type Uint128 struct {
	Hi uint64
	Lo uint64
}

// From builds a U256 from a native 64-bit value.
func From(x uint64) U256 {
	var z U256
	z.v.SetUint64(x)
	return z
}

// FromBig converts a non-negative big.Int of at most 256 bits.
func FromBig(b *big.Int) (U256, error) {
	if b == nil || b.Sign() < 0 {
		return U256{}, types.ErrInvalidParameter.Wrap("u256: negative or nil big.Int")
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return U256{}, types.ErrOverflow.Wrapf("u256: %s does not fit in 256 bits", b.String())
	}
	return U256{v: *v}, nil
}

// MustFromDecimal parses a base-10 string and panics on failure. Intended for constants and tests.
func MustFromDecimal(s string) U256 {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		panic(err)
	}
	return U256{v: *v}
}

func Zero() U256 { return U256{} }

func One() U256 { return From(1) }

func (a U256) IsZero() bool { return a.v.IsZero() }

// Add returns a+b or an Overflow error.
func (a U256) Add(b U256) (U256, error) {
	var z U256
	if _, overflow := z.v.AddOverflow(&a.v, &b.v); overflow {
		return U256{}, types.ErrOverflow.Wrapf("u256: %s + %s", a, b)
	}
	return z, nil
}

// Sub returns a-b or an Overflow error when b > a.
func (a U256) Sub(b U256) (U256, error) {
	var z U256
	if _, underflow := z.v.SubOverflow(&a.v, &b.v); underflow {
		return U256{}, types.ErrOverflow.Wrapf("u256: underflow %s - %s", a, b)
	}
	return z, nil
}

// Mul returns a*b or an Overflow error.
func (a U256) Mul(b U256) (U256, error) {
	var z U256
	if _, overflow := z.v.MulOverflow(&a.v, &b.v); overflow {
		return U256{}, types.ErrOverflow.Wrapf("u256: %s * %s", a, b)
	}
	return z, nil
}

// Div returns floor(a/b) or an Overflow error when b is zero.
func (a U256) Div(b U256) (U256, error) {
	if b.IsZero() {
		return U256{}, types.ErrOverflow.Wrapf("u256: division of %s by zero", a)
	}
	var z U256
	z.v.Div(&a.v, &b.v)
	return z, nil
}

// MulDiv returns floor(a*b/d) using a 512-bit intermediate product.
func (a U256) MulDiv(b, d U256) (U256, error) {
	if d.IsZero() {
		return U256{}, types.ErrOverflow.Wrapf("u256: muldiv of %s*%s by zero", a, b)
	}
	var z U256
	if _, overflow := z.v.MulDivOverflow(&a.v, &b.v, &d.v); overflow {
		return U256{}, types.ErrOverflow.Wrapf("u256: %s * %s / %s", a, b, d)
	}
	return z, nil
}

// AbsSub returns |a-b|.
func (a U256) AbsSub(b U256) U256 {
	var z U256
	if a.v.Lt(&b.v) {
		z.v.Sub(&b.v, &a.v)
	} else {
		z.v.Sub(&a.v, &b.v)
	}
	return z
}

func (a U256) Cmp(b U256) int { return a.v.Cmp(&b.v) }
func (a U256) Eq(b U256) bool { return a.v.Eq(&b.v) }
func (a U256) Lt(b U256) bool { return a.v.Lt(&b.v) }
func (a U256) Gt(b U256) bool { return a.v.Gt(&b.v) }
func (a U256) Lte(b U256) bool { return !a.v.Gt(&b.v) }
func (a U256) Gte(b U256) bool { return !a.v.Lt(&b.v) }
func (a U256) BitLen() int { return a.v.BitLen() }
func (a U256) String() string { return a.v.Dec() }
func (a U256) ToBig() *big.Int { return a.v.ToBig() }
func (a U256) IsUint64() bool { return a.v.IsUint64() }

// Min returns the smaller of a and b.
func Min(a, b U256) U256 {
	if a.Lt(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b U256) U256 {
	if a.Gt(b) {
		return a
	}
	return b
}

// Uint64 extracts the value if it fits in 64 bits.
func (a U256) Uint64() (uint64, error) {
	if !a.v.IsUint64() {
		return 0, types.ErrOverflow.Wrapf("u256: %s does not fit in 64 bits", a)
	}
	return a.v.Uint64(), nil
}

// Uint128 extracts the value if it fits in 128 bits.
func (a U256) Uint128() (Uint128, error) {
	if a.v[2] != 0 || a.v[3] != 0 {
		return Uint128{}, types.ErrOverflow.Wrapf("u256: %s does not fit in 128 bits", a)
	}
	return Uint128{Hi: a.v[1], Lo: a.v[0]}, nil
}

// MarshalText renders the value in base 10.
func (a U256) MarshalText() ([]byte, error) {
	return []byte(a.v.Dec()), nil
}

// UnmarshalText parses a base-10 value.
func (a *U256) UnmarshalText(text []byte) error {
	v, err := uint256.FromDecimal(string(text))
	if err != nil {
		return types.ErrInvalidParameter.Wrapf("u256: %v", err)
	}
	a.v = *v
	return nil
}

// Sqrt returns floor(sqrt(a)).
func (a U256) Sqrt() U256 {
	var z U256
	z.v.Sqrt(&a.v)
	return z
}
