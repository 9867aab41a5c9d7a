package fees

import (
	"github.com/defistate/amm-engine/types"
	"github.com/defistate/amm-engine/u256"
)

// Rates holds every fee rate of a pool in basis points.
type Rates struct {
	Admin     uint64 `json:"admin" yaml:"admin"`
	LP        uint64 `json:"lp" yaml:"lp"`
	Incentive uint64 `json:"incentive" yaml:"incentive"`
	Connect   uint64 `json:"connect" yaml:"connect"`
	Withdraw  uint64 `json:"withdraw" yaml:"withdraw"`
}

// Validate enforces admin+lp+incentive+connect < 100% and withdraw < 100%.
func (r Rates) Validate() error {
	sum := uint64(0)
	for _, rate := range []uint64{r.Admin, r.LP, r.Incentive, r.Connect} {
		if rate >= types.BpsDenominator {
			return types.ErrWrongFeeConfiguration.Wrapf("fee rate %d bps must be below %d", rate, types.BpsDenominator)
		}
		sum += rate
	}
	if sum >= types.BpsDenominator {
		return types.ErrWrongFeeConfiguration.Wrapf("swap fee rates sum to %d bps, must be below %d", sum, types.BpsDenominator)
	}
	if r.Withdraw >= types.BpsDenominator {
		return types.ErrWrongFeeConfiguration.Wrapf("withdraw fee %d bps must be below %d", r.Withdraw, types.BpsDenominator)
	}
	return nil
}

// Protocol returns the combined rate of the fees routed to the bank.
func (r Rates) Protocol() uint64 {
	return r.Admin + r.Incentive + r.Connect
}

// CollectFee returns floor(amount * bps / 10000).
func CollectFee(amount, bps uint64) (uint64, error) {
	if bps >= types.BpsDenominator {
		return 0, types.ErrWrongFeeConfiguration.Wrapf("fee rate %d bps must be below %d", bps, types.BpsDenominator)
	}
	fee, err := u256.From(amount).MulDiv(u256.From(bps), u256.From(types.BpsDenominator))
	if err != nil {
		return 0, err
	}
	// fee <= amount, always fits.
	return fee.Uint64()
}

// ProtocolFees is the breakdown of the fees that leave the pool for the bank.
type ProtocolFees struct {
	Admin     uint64 `json:"admin"`
	Incentive uint64 `json:"incentive"`
	Connect   uint64 `json:"connect"`
}

// Total is the sum of every protocol fee part.
func (p ProtocolFees) Total() uint64 {
	return p.Admin + p.Incentive + p.Connect
}

// ExtractProtocol computes the admin, incentive and connect fees of amount and
// returns them with the amount that remains after they are taken out.
func ExtractProtocol(amount uint64, r Rates) (ProtocolFees, uint64, error) {
	var (
		out ProtocolFees
		err error
	)
	if out.Admin, err = CollectFee(amount, r.Admin); err != nil {
		return ProtocolFees{}, 0, err
	}
	if out.Incentive, err = CollectFee(amount, r.Incentive); err != nil {
		return ProtocolFees{}, 0, err
	}
	if out.Connect, err = CollectFee(amount, r.Connect); err != nil {
		return ProtocolFees{}, 0, err
	}
	// Each part is floor(amount*rate/1e4) and the rates sum below 1e4, so the total never exceeds amount.
	if out.Total() > amount {
		return ProtocolFees{}, 0, types.ErrComputation.Wrapf("protocol fees %d exceed amount %d", out.Total(), amount)
	}
	return out, amount - out.Total(), nil
}

// Breakdown is every swap fee taken from one amount and what is left of it.
type Breakdown struct {
	LP       uint64       `json:"lp"`
	Protocol ProtocolFees `json:"protocol"`
	Rest     uint64       `json:"rest"`
}

// Split takes the LP fee from amount and, when withProtocol is set, the protocol fees too.
// Every part is computed on the full amount.
func Split(amount uint64, r Rates, withProtocol bool) (Breakdown, error) {
	var (
		b   Breakdown
		err error
	)
	if b.LP, err = CollectFee(amount, r.LP); err != nil {
		return Breakdown{}, err
	}
	if withProtocol {
		if b.Protocol, _, err = ExtractProtocol(amount, r); err != nil {
			return Breakdown{}, err
		}
	}
	taken := b.LP + b.Protocol.Total()
	if taken > amount {
		return Breakdown{}, types.ErrComputation.Wrapf("fees %d exceed amount %d", taken, amount)
	}
	b.Rest = amount - taken
	return b, nil
}
