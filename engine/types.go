package engine

import (
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/amm-engine/aggregator"
	"github.com/defistate/amm-engine/fees"
	"github.com/defistate/amm-engine/pool"
	"github.com/defistate/amm-engine/types"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Token is a registered asset.
type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// PoolKey identifies a pool by its ordered token pair and kind.
type PoolKey struct {
	X    common.Address `json:"x"`
	Y    common.Address `json:"y"`
	Kind pool.Kind      `json:"kind"`
}

// Reversed is the same pair in the opposite order.
func (k PoolKey) Reversed() PoolKey {
	return PoolKey{X: k.Y, Y: k.X, Kind: k.Kind}
}

func (k PoolKey) String() string {
	return k.X.Hex() + "/" + k.Y.Hex() + "/" + k.Kind.String()
}

func (k PoolKey) token(side types.Side) common.Address {
	if side == types.SideX {
		return k.X
	}
	return k.Y
}

func (k PoolKey) side(token common.Address) (types.Side, error) {
	switch token {
	case k.X:
		return types.SideX, nil
	case k.Y:
		return types.SideY, nil
	default:
		return 0, types.ErrInvalidParameter.Wrapf("token %s is not part of pool %s", token.Hex(), k)
	}
}

// PoolView is a read-only rendering of one pool.
type PoolView struct {
	Key           PoolKey        `json:"key"`
	Kind          string         `json:"kind"`
	ReserveX      uint64         `json:"reserveX"`
	ReserveY      uint64         `json:"reserveY"`
	Supply        uint64         `json:"supply"`
	Fees          fees.Rates     `json:"fees"`
	FeeToken      common.Address `json:"feeToken"`
	Frozen        bool           `json:"frozen"`
	Amplification uint64         `json:"amplification,omitempty"`

	// SpotPrice is the fee-free price of one X in Y, in whole-token units.
	SpotPrice math.LegacyDec `json:"spotPrice"`
	// VirtualPrice is the liquidity value per share in native units: sqrt(x*y)/supply for
	// constant-product pools and (D/2)/supply for stable pools, D taken back to native decimals.
	// Both start near 1 for a balanced pool and only grow as fees accrue.
	VirtualPrice math.LegacyDec `json:"virtualPrice"`
	// WeeklySMA is the 7-day moving average of VirtualPrice.
	WeeklySMA math.LegacyDec `json:"weeklySma"`

	LastTrade    uint64                 `json:"lastTrade"`
	Trades       aggregator.TradeWindow `json:"trades"`
	LastSnapshot aggregator.Snapshot    `json:"lastSnapshot"`
}
