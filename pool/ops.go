package pool

import (
	"github.com/defistate/amm-engine/fees"
	cpmm "github.com/defistate/amm-engine/protocols/cpmm/calculator"
	stableswap "github.com/defistate/amm-engine/protocols/stableswap/calculator"
	"github.com/defistate/amm-engine/types"
)

// SwapResult lists every amount a swap moves. The host pulls AmountIn from the user, pays AmountOut,
// and routes ProtocolFees (denominated in ProtocolFeeSide) to the bank. LPFee stays in the reserves.
type SwapResult struct {
	In              types.Side        `json:"in"`
	AmountIn        uint64            `json:"amountIn"`
	AmountOut       uint64            `json:"amountOut"`
	LPFee           uint64            `json:"lpFee"`
	ProtocolFees    fees.ProtocolFees `json:"protocolFees"`
	ProtocolFeeSide types.Side        `json:"protocolFeeSide"`
}

// DepositResult is the amounts taken from the user and the shares minted for them.
type DepositResult struct {
	AmountX uint64 `json:"amountX"`
	AmountY uint64 `json:"amountY"`
	Minted  uint64 `json:"minted"`
}

// WithdrawResult is the shares burned, the amounts paid to the user and the withdrawal fees routed to the bank.
type WithdrawResult struct {
	Burned  uint64 `json:"burned"`
	AmountX uint64 `json:"amountX"`
	AmountY uint64 `json:"amountY"`
	FeeX    uint64 `json:"feeX"`
	FeeY    uint64 `json:"feeY"`
}

// PrepareSwap prices selling amountIn of side in. Fees come off first: the LP fee always from the
// input, protocol fees from the input when in is the fee side and from the output otherwise.
func (p *Pool) PrepareSwap(now uint64, in types.Side, amountIn, minOut uint64) (SwapResult, *Pending, error) {
	if !in.Valid() {
		return SwapResult{}, nil, types.ErrInvalidParameter.Wrapf("side %d", in)
	}
	if p.state.Frozen {
		return SwapResult{}, nil, types.ErrFrozen
	}
	if amountIn == 0 {
		return SwapResult{}, nil, types.ErrInvalidParameter.Wrap("swap: input amount is zero")
	}
	s := p.state
	if s.ReserveX == 0 || s.ReserveY == 0 {
		return SwapResult{}, nil, types.ErrEmptyReserves.Wrapf("swap: reserves (%d, %d)", s.ReserveX, s.ReserveY)
	}

	split, err := fees.Split(amountIn, s.Fees, in == s.FeeSide)
	if err != nil {
		return SwapResult{}, nil, err
	}
	res := SwapResult{
		In:           in,
		AmountIn:     amountIn,
		LPFee:        split.LP,
		ProtocolFees: split.Protocol,
	}
	// The LP fee stays in the reserves; protocol fees taken here leave for the bank.
	added := amountIn - split.Protocol.Total()
	if in == s.FeeSide {
		res.ProtocolFeeSide = in
	}

	out, err := p.price(split.Rest, in)
	if err != nil {
		return SwapResult{}, nil, err
	}
	res.AmountOut = out
	if in != s.FeeSide {
		res.ProtocolFeeSide = in.Other()
		if res.ProtocolFees, res.AmountOut, err = fees.ExtractProtocol(out, s.Fees); err != nil {
			return SwapResult{}, nil, err
		}
	}

	if res.AmountOut == 0 {
		return SwapResult{}, nil, types.ErrInvalidParameter.Wrapf("swap: output for %d rounds to zero", amountIn)
	}
	if res.AmountOut < minOut {
		return SwapResult{}, nil, types.ErrSlippageExceeded.Wrapf("swap: output %d below minimum %d", res.AmountOut, minOut)
	}

	rin, rout := p.oriented(in)
	newIn, err := addUint64(rin, added)
	if err != nil {
		return SwapResult{}, nil, err
	}
	// out < rout by construction of both curves.
	newOut := rout - out

	d := Diff{Supply: s.Supply, Trade: true}
	if in == types.SideX {
		d.ReserveX, d.ReserveY = newIn, newOut
		d.TradeX, d.TradeY = amountIn, out
	} else {
		d.ReserveX, d.ReserveY = newOut, newIn
		d.TradeX, d.TradeY = out, amountIn
	}

	pending, err := p.plan(d, now)
	if err != nil {
		return SwapResult{}, nil, err
	}
	return res, pending, nil
}

// Swap prepares and commits a swap.
func (p *Pool) Swap(now uint64, in types.Side, amountIn, minOut uint64) (SwapResult, error) {
	res, pending, err := p.PrepareSwap(now, in, amountIn, minOut)
	if err != nil {
		return SwapResult{}, err
	}
	return res, p.Commit(pending)
}

// QuoteSwap prices a swap without committing it or touching aggregation state.
func (p *Pool) QuoteSwap(in types.Side, amountIn uint64) (SwapResult, error) {
	res, _, err := p.PrepareSwap(0, in, amountIn, 0)
	return res, err
}

// PrepareDeposit mints shares for adding (amountX, amountY). An empty pool mints
// isqrt(amountX)*isqrt(amountY); a funded one mints by the kind's deposit formula.
// Both amounts always land in the reserves.
func (p *Pool) PrepareDeposit(now, amountX, amountY, minShares uint64) (DepositResult, *Pending, error) {
	if p.state.Frozen {
		return DepositResult{}, nil, types.ErrFrozen
	}
	if amountX == 0 && amountY == 0 {
		return DepositResult{}, nil, types.ErrInvalidParameter.Wrap("deposit: both amounts are zero")
	}
	s := p.state

	var (
		minted uint64
		err    error
	)
	switch {
	case s.Supply == 0 && p.kind == KindStable:
		minted, err = stableswap.ComputeInitialShares(amountX, amountY)
	case s.Supply == 0:
		minted, err = cpmm.ComputeInitialShares(amountX, amountY)
	case p.kind == KindStable:
		minted, err = stableswap.ComputeDepositStable(amountX, amountY, s.ReserveX, s.ReserveY, s.Supply, p.params)
	default:
		minted, err = cpmm.ComputeDeposit(amountX, amountY, s.ReserveX, s.ReserveY, s.Supply)
	}
	if err != nil {
		return DepositResult{}, nil, err
	}
	if minted == 0 {
		return DepositResult{}, nil, types.ErrInvalidParameter.Wrapf("deposit: (%d, %d) mints no shares", amountX, amountY)
	}
	if minted < minShares {
		return DepositResult{}, nil, types.ErrSlippageExceeded.Wrapf("deposit: minted %d below minimum %d", minted, minShares)
	}

	d := Diff{}
	if d.ReserveX, err = addUint64(s.ReserveX, amountX); err != nil {
		return DepositResult{}, nil, err
	}
	if d.ReserveY, err = addUint64(s.ReserveY, amountY); err != nil {
		return DepositResult{}, nil, err
	}
	if d.Supply, err = addUint64(s.Supply, minted); err != nil {
		return DepositResult{}, nil, err
	}

	pending, err := p.plan(d, now)
	if err != nil {
		return DepositResult{}, nil, err
	}
	return DepositResult{AmountX: amountX, AmountY: amountY, Minted: minted}, pending, nil
}

// Deposit prepares and commits a deposit.
func (p *Pool) Deposit(now, amountX, amountY, minShares uint64) (DepositResult, error) {
	res, pending, err := p.PrepareDeposit(now, amountX, amountY, minShares)
	if err != nil {
		return DepositResult{}, err
	}
	return res, p.Commit(pending)
}

// PrepareWithdraw burns shares for a proportional slice of both reserves, minus the withdrawal fee
// on each side. Withdrawals stay open while the pool is frozen.
func (p *Pool) PrepareWithdraw(now, shares, minX, minY uint64) (WithdrawResult, *Pending, error) {
	s := p.state

	var (
		xOut, yOut uint64
		err        error
	)
	if p.kind == KindStable {
		xOut, yOut, _, err = stableswap.ComputeWithdrawStable(s.ReserveX, s.ReserveY, s.Supply, shares, p.params)
	} else {
		xOut, yOut, err = cpmm.ComputeWithdraw(s.ReserveX, s.ReserveY, s.Supply, shares)
	}
	if err != nil {
		return WithdrawResult{}, nil, err
	}

	res := WithdrawResult{Burned: shares}
	if res.FeeX, err = fees.CollectFee(xOut, s.Fees.Withdraw); err != nil {
		return WithdrawResult{}, nil, err
	}
	if res.FeeY, err = fees.CollectFee(yOut, s.Fees.Withdraw); err != nil {
		return WithdrawResult{}, nil, err
	}
	res.AmountX = xOut - res.FeeX
	res.AmountY = yOut - res.FeeY
	if res.AmountX < minX || res.AmountY < minY {
		return WithdrawResult{}, nil, types.ErrSlippageExceeded.Wrapf("withdraw: (%d, %d) below minimum (%d, %d)", res.AmountX, res.AmountY, minX, minY)
	}

	d := Diff{
		ReserveX: s.ReserveX - xOut,
		ReserveY: s.ReserveY - yOut,
		Supply:   s.Supply - shares,
	}
	pending, err := p.plan(d, now)
	if err != nil {
		return WithdrawResult{}, nil, err
	}
	return res, pending, nil
}

// Withdraw prepares and commits a proportional withdrawal.
func (p *Pool) Withdraw(now, shares, minX, minY uint64) (WithdrawResult, error) {
	res, pending, err := p.PrepareWithdraw(now, shares, minX, minY)
	if err != nil {
		return WithdrawResult{}, err
	}
	return res, p.Commit(pending)
}

// PrepareWithdrawOne burns shares for side out only. Stable pools only.
func (p *Pool) PrepareWithdrawOne(now, shares uint64, out types.Side, minOut uint64) (WithdrawResult, *Pending, error) {
	if p.kind != KindStable {
		return WithdrawResult{}, nil, types.ErrNotImplemented.Wrapf("single-coin withdrawal from a %s pool", p.kind)
	}
	if !out.Valid() {
		return WithdrawResult{}, nil, types.ErrInvalidParameter.Wrapf("side %d", out)
	}
	s := p.state

	keep, take := p.oriented(out.Other())
	params := p.params
	if out == types.SideX {
		params = params.Reversed()
	}
	amount, err := stableswap.ComputeWithdrawOneStable(keep, take, s.Supply, shares, params)
	if err != nil {
		return WithdrawResult{}, nil, err
	}
	if amount == 0 {
		return WithdrawResult{}, nil, types.ErrInvalidParameter.Wrapf("withdraw: burning %d shares pays nothing", shares)
	}

	fee, err := fees.CollectFee(amount, s.Fees.Withdraw)
	if err != nil {
		return WithdrawResult{}, nil, err
	}
	if amount-fee < minOut {
		return WithdrawResult{}, nil, types.ErrSlippageExceeded.Wrapf("withdraw: %d below minimum %d", amount-fee, minOut)
	}

	res := WithdrawResult{Burned: shares}
	d := Diff{ReserveX: s.ReserveX, ReserveY: s.ReserveY, Supply: s.Supply - shares}
	if out == types.SideX {
		res.AmountX, res.FeeX = amount-fee, fee
		d.ReserveX -= amount
	} else {
		res.AmountY, res.FeeY = amount-fee, fee
		d.ReserveY -= amount
	}

	pending, err := p.plan(d, now)
	if err != nil {
		return WithdrawResult{}, nil, err
	}
	return res, pending, nil
}

// WithdrawOne prepares and commits a single-coin withdrawal.
func (p *Pool) WithdrawOne(now, shares uint64, out types.Side, minOut uint64) (WithdrawResult, error) {
	res, pending, err := p.PrepareWithdrawOne(now, shares, out, minOut)
	if err != nil {
		return WithdrawResult{}, err
	}
	return res, p.Commit(pending)
}
