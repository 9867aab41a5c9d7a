// Package cpmm implements the closed-form math of the x*y=k constant-product invariant.
// Every result is floored so rounding always favors the pool.
package cpmm

import (
	"github.com/defistate/amm-engine/liquidity"
	"github.com/defistate/amm-engine/types"
	"github.com/defistate/amm-engine/u256"
)

// ComputeAmount returns dy = floor(y*dx / (x+dx)), the output of selling dx into reserves (x, y).
// The floor guarantees (x+dx)*(y-dy) >= x*y; that product is re-checked before returning.
func ComputeAmount(dx, x, y uint64) (uint64, error) {
	if dx == 0 {
		return 0, types.ErrInvalidParameter.Wrap("cpmm: input amount is zero")
	}
	if x == 0 || y == 0 {
		return 0, types.ErrEmptyReserves.Wrapf("cpmm: reserves (%d, %d)", x, y)
	}

	newX, err := u256.From(x).Add(u256.From(dx))
	if err != nil {
		return 0, err
	}
	out, err := u256.From(y).MulDiv(u256.From(dx), newX)
	if err != nil {
		return 0, err
	}
	dy, err := out.Uint64()
	if err != nil {
		return 0, err
	}

	if err := checkProduct(x, y, newX, y-dy); err != nil {
		return 0, err
	}
	return dy, nil
}

// ComputeAmountIn returns the smallest input that yields at least dy out of reserves (x, y):
// floor(x*dy / (y-dy)) + 1.
func ComputeAmountIn(dy, x, y uint64) (uint64, error) {
	if dy == 0 {
		return 0, types.ErrInvalidParameter.Wrap("cpmm: output amount is zero")
	}
	if x == 0 || y == 0 {
		return 0, types.ErrEmptyReserves.Wrapf("cpmm: reserves (%d, %d)", x, y)
	}
	if dy >= y {
		return 0, types.ErrInvalidParameter.Wrapf("cpmm: requested output %d is >= reserve %d", dy, y)
	}

	in, err := u256.From(x).MulDiv(u256.From(dy), u256.From(y-dy))
	if err != nil {
		return 0, err
	}
	in, err = in.Add(u256.One())
	if err != nil {
		return 0, err
	}
	return in.Uint64()
}

// ComputeDeposit returns the shares minted for adding (xAdded, yAdded) to a funded pool:
// min(floor(xAdded*supply/x), floor(yAdded*supply/y)).
func ComputeDeposit(xAdded, yAdded, x, y, supply uint64) (uint64, error) {
	if x == 0 || y == 0 {
		return 0, types.ErrEmptyReserves.Wrapf("cpmm: reserves (%d, %d)", x, y)
	}
	if supply == 0 {
		return 0, types.ErrEmptyShareSupply.Wrap("cpmm: deposit into pool without shares")
	}

	fromX, err := u256.From(xAdded).MulDiv(u256.From(supply), u256.From(x))
	if err != nil {
		return 0, err
	}
	fromY, err := u256.From(yAdded).MulDiv(u256.From(supply), u256.From(y))
	if err != nil {
		return 0, err
	}
	return u256.Min(fromX, fromY).Uint64()
}

// ComputeWithdraw returns the reserves released by burning amount shares:
// (floor(x*amount/supply), floor(y*amount/supply)).
func ComputeWithdraw(x, y, supply, amount uint64) (uint64, uint64, error) {
	if supply == 0 {
		return 0, 0, types.ErrEmptyShareSupply.Wrap("cpmm: withdraw from pool without shares")
	}
	if amount == 0 || amount > supply {
		return 0, 0, types.ErrInvalidParameter.Wrapf("cpmm: burn amount %d outside (0, %d]", amount, supply)
	}

	xOut, err := u256.From(x).MulDiv(u256.From(amount), u256.From(supply))
	if err != nil {
		return 0, 0, err
	}
	yOut, err := u256.From(y).MulDiv(u256.From(amount), u256.From(supply))
	if err != nil {
		return 0, 0, err
	}

	// Both are bounded by their reserve.
	xRemoved, _ := xOut.Uint64()
	yRemoved, _ := yOut.Uint64()
	return xRemoved, yRemoved, nil
}

// ComputeInitialShares bootstraps an empty pool: isqrt(xAdded) * isqrt(yAdded).
func ComputeInitialShares(xAdded, yAdded uint64) (uint64, error) {
	if xAdded == 0 || yAdded == 0 {
		return 0, types.ErrInvalidParameter.Wrapf("cpmm: initial deposit (%d, %d) must fund both sides", xAdded, yAdded)
	}
	// Each root is below 2^32, so the product fits in 64 bits.
	return liquidity.Isqrt(xAdded) * liquidity.Isqrt(yAdded), nil
}

// Invariant returns k = x*y.
func Invariant(x, y uint64) u256.U256 {
	// Two 64-bit factors never overflow 256 bits.
	k, _ := u256.From(x).Mul(u256.From(y))
	return k
}

func checkProduct(x0, y0 uint64, x1 u256.U256, y1 uint64) error {
	before := Invariant(x0, y0)
	after, err := x1.Mul(u256.From(y1))
	if err != nil {
		return err
	}
	if after.Lt(before) {
		return types.ErrComputation.Wrapf("cpmm: product decreased from %s to %s", before, after)
	}
	return nil
}
