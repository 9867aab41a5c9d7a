package liquidity

import (
	"github.com/defistate/amm-engine/types"
	"github.com/defistate/amm-engine/u256"
)

// Isqrt returns floor(sqrt(x)) using the binary digit-by-digit method.
// The remainder is tracked in 128 bits so res+bit can never wrap.
func Isqrt(x uint64) uint64 {
	if x < 2 {
		return x
	}

	rem := u256.From(x)
	var res uint64
	bit := uint64(1) << 62
	for bit > x {
		bit >>= 2
	}

	for bit != 0 {
		candidate := u256.From(res + bit)
		if rem.Gte(candidate) {
			// rem >= candidate so the subtraction cannot fail.
			rem, _ = rem.Sub(candidate)
			res = (res >> 1) + bit
		} else {
			res >>= 1
		}
		bit >>= 2
	}
	return res
}

// IsqrtU256 returns floor(sqrt(x)) for product-sized values.
func IsqrtU256(x u256.U256) u256.U256 {
	return x.Sqrt()
}

// ValidateLSPValueIncrease fails unless k1/s1 >= k0/s0, evaluated as k1*s0 >= k0*s1.
// A side whose invariant and supply are both zero is an empty pool and is trivially satisfied.
func ValidateLSPValueIncrease(k0, k1, s0, s1 u256.U256) error {
	if (k0.IsZero() && s0.IsZero()) || (k1.IsZero() && s1.IsZero()) {
		return nil
	}
	if s0.IsZero() || s1.IsZero() {
		return types.ErrComputation.Wrapf("lsp value: zero supply with non-zero invariant (k0=%s s0=%s k1=%s s1=%s)", k0, s0, k1, s1)
	}

	after, err := k1.Mul(s0)
	if err != nil {
		return err
	}
	before, err := k0.Mul(s1)
	if err != nil {
		return err
	}
	if after.Lt(before) {
		return types.ErrComputation.Wrapf("lsp value decreased: %s/%s < %s/%s", k1, s1, k0, s0)
	}
	return nil
}

// ReservesPerShareHeld reports whether neither reserve per share decreased from (x0, y0, s0)
// to (x1, y1, s1), evaluated as x1*s0 >= x0*s1 and y1*s0 >= y0*s1. It is false when either
// supply is zero.
func ReservesPerShareHeld(x0, y0, s0, x1, y1, s1 uint64) bool {
	if s0 == 0 || s1 == 0 {
		return false
	}
	return perShareHeld(x0, s0, x1, s1) && perShareHeld(y0, s0, y1, s1)
}

func perShareHeld(r0, s0, r1, s1 uint64) bool {
	// Both products are below 2^128.
	after, _ := u256.From(r1).Mul(u256.From(s0))
	before, _ := u256.From(r0).Mul(u256.From(s1))
	return after.Gte(before)
}
