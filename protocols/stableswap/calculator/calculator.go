// Package stableswap implements the two-coin Curve invariant
//
//	A*n^n*S + D = A*n^n*D + D^(n+1) / (n^n * x * y)
//
// with Newton-Raphson solvers for D and for one reserve given the other.
// Reserves are first aligned to 18 decimals with per-coin scale factors.
package stableswap

import (
	"github.com/defistate/amm-engine/liquidity"
	"github.com/defistate/amm-engine/types"
	"github.com/defistate/amm-engine/u256"
)

const (
	// nCoinsPow is n^n for the fixed coin count of two.
	nCoinsPow = 4

	// MaxIterations caps both Newton loops.
	MaxIterations = 256

	// SolverTolerance is the largest error of a converged solver result, in scaled units.
	// Comparisons between two computed invariants allow for it.
	SolverTolerance = 1
)

var (
	two   = u256.From(2)
	three = u256.From(3)
	four  = u256.From(nCoinsPow)

	// precomputedScales[d] = 10^(18-d) for d in [0, 18].
	precomputedScales [types.MaxDecimals + 1]uint64
)

func init() {
	scale := uint64(1)
	for d := int(types.MaxDecimals); d >= 0; d-- {
		precomputedScales[d] = scale
		scale *= 10
	}
}

// ScaleFactor returns 10^(18-decimals), the multiplier aligning a coin to 18 decimals.
func ScaleFactor(decimals uint8) (uint64, error) {
	if decimals > types.MaxDecimals {
		return 0, types.ErrInvalidParameter.Wrapf("stableswap: %d decimals exceeds the maximum of %d", decimals, types.MaxDecimals)
	}
	return precomputedScales[decimals], nil
}

// ValidateAmplification rejects A outside [1, 1_000_000].
func ValidateAmplification(a uint64) error {
	if a < types.MinAmplification || a > types.MaxAmplification {
		return types.ErrInvalidParameter.Wrapf("stableswap: amplification %d outside [%d, %d]", a, types.MinAmplification, types.MaxAmplification)
	}
	return nil
}

// Params are the immutable per-pool StableSwap parameters.
type Params struct {
	A      uint64 `json:"a"`
	ScaleX uint64 `json:"scaleX"`
	ScaleY uint64 `json:"scaleY"`
}

// NewParams validates A and derives both scale factors from the coins' decimals.
func NewParams(a uint64, decimalsX, decimalsY uint8) (Params, error) {
	if err := ValidateAmplification(a); err != nil {
		return Params{}, err
	}
	scaleX, err := ScaleFactor(decimalsX)
	if err != nil {
		return Params{}, err
	}
	scaleY, err := ScaleFactor(decimalsY)
	if err != nil {
		return Params{}, err
	}
	return Params{A: a, ScaleX: scaleX, ScaleY: scaleY}, nil
}

// Validate checks A and that both scales are non-zero.
func (p Params) Validate() error {
	if err := ValidateAmplification(p.A); err != nil {
		return err
	}
	if p.ScaleX == 0 || p.ScaleY == 0 {
		return types.ErrInvalidParameter.Wrapf("stableswap: zero scale factor (%d, %d)", p.ScaleX, p.ScaleY)
	}
	return nil
}

// Reversed swaps the roles of the two coins.
func (p Params) Reversed() Params {
	return Params{A: p.A, ScaleX: p.ScaleY, ScaleY: p.ScaleX}
}

// Scale converts native reserves to the common 18-decimal base.
func (p Params) Scale(x, y uint64) (u256.U256, u256.U256, error) {
	xs, err := scale(x, p.ScaleX)
	if err != nil {
		return u256.U256{}, u256.U256{}, err
	}
	ys, err := scale(y, p.ScaleY)
	if err != nil {
		return u256.U256{}, u256.U256{}, err
	}
	return xs, ys, nil
}

func scale(v, factor uint64) (u256.U256, error) {
	return u256.From(v).Mul(u256.From(factor))
}

// unscale floors a scaled amount back to native decimals.
func unscale(v u256.U256, factor uint64) (uint64, error) {
	native, err := v.Div(u256.From(factor))
	if err != nil {
		return 0, err
	}
	return native.Uint64()
}

func amplification(a uint64) (u256.U256, error) {
	if err := ValidateAmplification(a); err != nil {
		return u256.U256{}, err
	}
	return u256.From(a * nCoinsPow), nil
}

// ComputeD solves the invariant for scaled reserves (x, y). It returns 0 when both reserves are zero
// and EmptyReserves when exactly one is. If the iteration cap is hit the last value is returned.
func ComputeD(x, y u256.U256, a uint64) (u256.U256, error) {
	d, _, err := computeD(x, y, a)
	return d, err
}

func computeD(x, y u256.U256, a uint64) (u256.U256, bool, error) {
	if x.IsZero() && y.IsZero() {
		return u256.Zero(), true, nil
	}
	if x.IsZero() || y.IsZero() {
		return u256.U256{}, false, types.ErrEmptyReserves.Wrapf("stableswap: one-sided reserves (%s, %s)", x, y)
	}
	ann, err := amplification(a)
	if err != nil {
		return u256.U256{}, false, err
	}

	s, err := x.Add(y)
	if err != nil {
		return u256.U256{}, false, err
	}
	xy, err := x.Mul(y)
	if err != nil {
		return u256.U256{}, false, err
	}
	fourXY, err := xy.Mul(four)
	if err != nil {
		return u256.U256{}, false, err
	}
	annS, err := ann.Mul(s)
	if err != nil {
		return u256.U256{}, false, err
	}
	// ann >= 4
	annMinusOne, _ := ann.Sub(u256.One())

	d := s
	var prevPrev u256.U256
	for i := 0; i < MaxIterations; i++ {
		// dP = D^3 / (4xy), floored once.
		dSq, err := d.Mul(d)
		if err != nil {
			return u256.U256{}, false, err
		}
		dP, err := dSq.MulDiv(d, fourXY)
		if err != nil {
			return u256.U256{}, false, err
		}

		// D = (Ann*S + n*dP) * D / ((Ann-1)*D + (n+1)*dP)
		nDP, err := dP.Mul(two)
		if err != nil {
			return u256.U256{}, false, err
		}
		num, err := annS.Add(nDP)
		if err != nil {
			return u256.U256{}, false, err
		}
		den, err := annMinusOne.Mul(d)
		if err != nil {
			return u256.U256{}, false, err
		}
		n1DP, err := dP.Mul(three)
		if err != nil {
			return u256.U256{}, false, err
		}
		if den, err = den.Add(n1DP); err != nil {
			return u256.U256{}, false, err
		}
		if den.IsZero() {
			return u256.U256{}, false, types.ErrComputation.Wrap("stableswap: D iteration collapsed to zero")
		}

		prev := d
		if d, err = num.MulDiv(prev, den); err != nil {
			return u256.U256{}, false, err
		}
		if d.AbsSub(prev).Lte(u256.One()) {
			return d, true, nil
		}
		// A period-2 oscillation has settled; the lower value undervalues the pool.
		if i > 0 && d.AbsSub(prevPrev).Lte(u256.One()) {
			return u256.Min(d, prev), true, nil
		}
		prevPrev = prev
	}
	return d, false, nil
}

// ComputeY solves for the reserve paired with x such that the invariant equals d:
// y^2 + (b-D)*y = c with b = x + D/Ann and c = D^3 / (n^n * x * Ann).
func ComputeY(x, d u256.U256, a uint64) (u256.U256, error) {
	y, _, err := computeY(x, d, a)
	return y, err
}

func computeY(x, d u256.U256, a uint64) (u256.U256, bool, error) {
	if x.IsZero() {
		return u256.U256{}, false, types.ErrEmptyReserves.Wrap("stableswap: solving y for a zero reserve")
	}
	if d.IsZero() {
		return u256.Zero(), true, nil
	}
	ann, err := amplification(a)
	if err != nil {
		return u256.U256{}, false, err
	}

	fourXAnn, err := x.Mul(ann)
	if err != nil {
		return u256.U256{}, false, err
	}
	if fourXAnn, err = fourXAnn.Mul(four); err != nil {
		return u256.U256{}, false, err
	}
	dSq, err := d.Mul(d)
	if err != nil {
		return u256.U256{}, false, err
	}
	c, err := dSq.MulDiv(d, fourXAnn)
	if err != nil {
		return u256.U256{}, false, err
	}
	dOverAnn, _ := d.Div(ann)
	b, err := x.Add(dOverAnn)
	if err != nil {
		return u256.U256{}, false, err
	}

	y := d
	var prevPrev u256.U256
	for i := 0; i < MaxIterations; i++ {
		// y = (y^2 + c) / (2y + b - D)
		ySq, err := y.Mul(y)
		if err != nil {
			return u256.U256{}, false, err
		}
		num, err := ySq.Add(c)
		if err != nil {
			return u256.U256{}, false, err
		}
		twoY, err := y.Mul(two)
		if err != nil {
			return u256.U256{}, false, err
		}
		den, err := twoY.Add(b)
		if err != nil {
			return u256.U256{}, false, err
		}
		if den.Lte(d) {
			return u256.U256{}, false, types.ErrComputation.Wrapf("stableswap: y iteration denominator vanished (2y+b=%s, D=%s)", den, d)
		}
		den, _ = den.Sub(d)

		prev := y
		y, _ = num.Div(den)
		if y.AbsSub(prev).Lte(u256.One()) {
			return y, true, nil
		}
		// On oscillation keep the larger reserve so the amount paid out is the smaller one.
		if i > 0 && y.AbsSub(prevPrev).Lte(u256.One()) {
			return u256.Max(y, prev), true, nil
		}
		prevPrev = prev
	}
	return y, false, nil
}

// SwapTo returns the scaled output of adding dx to x: y - ComputeY(x+dx, D) - 1.
// The post-trade invariant is re-checked against the pre-trade one.
func SwapTo(dx, x, y u256.U256, a uint64) (u256.U256, error) {
	if dx.IsZero() {
		return u256.U256{}, types.ErrInvalidParameter.Wrap("stableswap: input amount is zero")
	}
	if x.IsZero() || y.IsZero() {
		return u256.U256{}, types.ErrEmptyReserves.Wrapf("stableswap: reserves (%s, %s)", x, y)
	}

	d0, err := ComputeD(x, y, a)
	if err != nil {
		return u256.U256{}, err
	}
	newX, err := x.Add(dx)
	if err != nil {
		return u256.U256{}, err
	}
	newY, err := ComputeY(newX, d0, a)
	if err != nil {
		return u256.U256{}, err
	}

	// One unit is held back so rounding in the solver always favors the pool.
	floorY, err := newY.Add(u256.One())
	if err != nil {
		return u256.U256{}, err
	}
	if floorY.Gte(y) {
		return u256.Zero(), nil
	}
	dy, _ := y.Sub(floorY)

	d1, err := ComputeD(newX, floorY, a)
	if err != nil {
		return u256.U256{}, err
	}
	if !notBelow(d1, d0) {
		return u256.U256{}, types.ErrComputation.Wrapf("stableswap: invariant decreased from %s to %s", d0, d1)
	}
	return dy, nil
}

// notBelow reports whether the computed invariant after is at least before, less SolverTolerance.
func notBelow(after, before u256.U256) bool {
	credited, err := after.Add(u256.From(SolverTolerance))
	return err == nil && credited.Gte(before)
}

// ValidateLSP is liquidity.ValidateLSPValueIncrease for invariants produced by ComputeD:
// a non-zero d1 is credited SolverTolerance before d1/s1 is compared against d0/s0.
func ValidateLSP(d0, d1, s0, s1 u256.U256) error {
	if !d1.IsZero() {
		var err error
		if d1, err = d1.Add(u256.From(SolverTolerance)); err != nil {
			return err
		}
	}
	return liquidity.ValidateLSPValueIncrease(d0, d1, s0, s1)
}

// ComputeAmountStable prices a swap of native dx: amounts are scaled by scaleIn and scaleOut,
// passed through SwapTo, and the output is floored back to native decimals.
func ComputeAmountStable(dx, x, y, a, scaleIn, scaleOut uint64) (uint64, error) {
	p := Params{A: a, ScaleX: scaleIn, ScaleY: scaleOut}
	if err := p.Validate(); err != nil {
		return 0, err
	}
	dxs, err := scale(dx, scaleIn)
	if err != nil {
		return 0, err
	}
	xs, ys, err := p.Scale(x, y)
	if err != nil {
		return 0, err
	}
	dys, err := SwapTo(dxs, xs, ys, a)
	if err != nil {
		return 0, err
	}
	return unscale(dys, scaleOut)
}

// Invariant returns D for native reserves under p.
func Invariant(x, y uint64, p Params) (u256.U256, error) {
	xs, ys, err := p.Scale(x, y)
	if err != nil {
		return u256.U256{}, err
	}
	return ComputeD(xs, ys, p.A)
}

// ComputeInitialShares bootstraps an empty stable pool with isqrt(xAdded) * isqrt(yAdded) shares.
func ComputeInitialShares(xAdded, yAdded uint64) (uint64, error) {
	if xAdded == 0 || yAdded == 0 {
		return 0, types.ErrInvalidParameter.Wrapf("stableswap: initial deposit (%d, %d) must fund both sides", xAdded, yAdded)
	}
	return liquidity.Isqrt(xAdded) * liquidity.Isqrt(yAdded), nil
}

// ComputeDepositStable returns floor(supply * (D1-D0) / D0) when the deposit raises D, else 0.
func ComputeDepositStable(xAdded, yAdded, x, y, supply uint64, p Params) (uint64, error) {
	if supply == 0 {
		return 0, types.ErrEmptyShareSupply.Wrap("stableswap: deposit into pool without shares")
	}
	if x == 0 || y == 0 {
		return 0, types.ErrEmptyReserves.Wrapf("stableswap: reserves (%d, %d)", x, y)
	}

	d0, err := Invariant(x, y, p)
	if err != nil {
		return 0, err
	}
	newX, newY, err := addReserves(x, xAdded, y, yAdded)
	if err != nil {
		return 0, err
	}
	d1, err := Invariant(newX, newY, p)
	if err != nil {
		return 0, err
	}
	if d1.Lte(d0) {
		return 0, nil
	}

	diff, _ := d1.Sub(d0)
	minted, err := u256.From(supply).MulDiv(diff, d0)
	if err != nil {
		return 0, err
	}
	return minted.Uint64()
}

// ComputeWithdrawStable releases reserves proportionally to amount/supply and returns the
// invariant of what remains. It fails if either reserve per share would decrease; D is
// homogeneous and increasing in both reserves, so that bounds D/supply without the solver.
func ComputeWithdrawStable(x, y, supply, amount uint64, p Params) (uint64, uint64, u256.U256, error) {
	if supply == 0 {
		return 0, 0, u256.U256{}, types.ErrEmptyShareSupply.Wrap("stableswap: withdraw from pool without shares")
	}
	if amount == 0 || amount > supply {
		return 0, 0, u256.U256{}, types.ErrInvalidParameter.Wrapf("stableswap: burn amount %d outside (0, %d]", amount, supply)
	}

	xOut, err := u256.From(x).MulDiv(u256.From(amount), u256.From(supply))
	if err != nil {
		return 0, 0, u256.U256{}, err
	}
	yOut, err := u256.From(y).MulDiv(u256.From(amount), u256.From(supply))
	if err != nil {
		return 0, 0, u256.U256{}, err
	}
	// Both are bounded by their reserve.
	xRemoved, _ := xOut.Uint64()
	yRemoved, _ := yOut.Uint64()

	if amount < supply && !liquidity.ReservesPerShareHeld(x, y, supply, x-xRemoved, y-yRemoved, supply-amount) {
		return 0, 0, u256.U256{}, types.ErrComputation.Wrapf("stableswap: burning %d of %d shares pays (%d, %d) from (%d, %d)", amount, supply, xRemoved, yRemoved, x, y)
	}
	d1, err := Invariant(x-xRemoved, y-yRemoved, p)
	if err != nil {
		return 0, 0, u256.U256{}, err
	}
	return xRemoved, yRemoved, d1, nil
}

// ComputeWithdrawOneStable burns amount shares for the second coin only. keep is the reserve that
// stays untouched, out the reserve paid from; p.ScaleX scales keep and p.ScaleY scales out.
// The invariant drops by floor(amount*D/supply) and the output is floored to native decimals.
func ComputeWithdrawOneStable(keep, out, supply, amount uint64, p Params) (uint64, error) {
	if supply == 0 {
		return 0, types.ErrEmptyShareSupply.Wrap("stableswap: withdraw from pool without shares")
	}
	if amount == 0 || amount >= supply {
		return 0, types.ErrInvalidParameter.Wrapf("stableswap: single-coin burn amount %d outside (0, %d)", amount, supply)
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}

	keepS, outS, err := p.Scale(keep, out)
	if err != nil {
		return 0, err
	}
	d0, err := ComputeD(keepS, outS, p.A)
	if err != nil {
		return 0, err
	}
	burned, err := u256.From(amount).MulDiv(d0, u256.From(supply))
	if err != nil {
		return 0, err
	}
	d1, err := d0.Sub(burned)
	if err != nil {
		return 0, err
	}
	newOut, err := ComputeY(keepS, d1, p.A)
	if err != nil {
		return 0, err
	}

	floorOut, err := newOut.Add(u256.One())
	if err != nil {
		return 0, err
	}
	if floorOut.Gte(outS) {
		return 0, nil
	}
	dy, _ := outS.Sub(floorOut)
	return unscale(dy, p.ScaleY)
}

func addReserves(x, dx, y, dy uint64) (uint64, uint64, error) {
	newX, err := u256.From(x).Add(u256.From(dx))
	if err != nil {
		return 0, 0, err
	}
	newY, err := u256.From(y).Add(u256.From(dy))
	if err != nil {
		return 0, 0, err
	}
	nx, err := newX.Uint64()
	if err != nil {
		return 0, 0, err
	}
	ny, err := newY.Uint64()
	if err != nil {
		return 0, 0, err
	}
	return nx, ny, nil
}
