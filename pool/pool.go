// Package pool holds the state of one two-token pool and the operations that mutate it.
//
// Every operation runs in three steps. It computes a Diff from the current state,
// validates that the invariant per share does not decrease, and patches a deep copy of
// the state. Nothing is committed until all three succeed, so a failed operation leaves
// the pool exactly as it was.
//
// A Pool is not safe for concurrent use; callers serialize access per pool.
package pool

import (
	"github.com/defistate/amm-engine/aggregator"
	"github.com/defistate/amm-engine/fees"
	"github.com/defistate/amm-engine/liquidity"
	cpmm "github.com/defistate/amm-engine/protocols/cpmm/calculator"
	stableswap "github.com/defistate/amm-engine/protocols/stableswap/calculator"
	"github.com/defistate/amm-engine/types"
	"github.com/defistate/amm-engine/u256"
)

// State is the mutable part of a pool.
type State struct {
	ReserveX   uint64           `json:"reserveX"`
	ReserveY   uint64           `json:"reserveY"`
	Supply     uint64           `json:"supply"`
	Fees       fees.Rates       `json:"fees"`
	FeeSide    types.Side       `json:"feeSide"`
	Frozen     bool             `json:"frozen"`
	Aggregates aggregator.State `json:"aggregates"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	s.Aggregates = s.Aggregates.Clone()
	return s
}

// Pool is one pool's immutable parameters plus its committed state.
type Pool struct {
	kind      Kind
	params    stableswap.Params
	decimalsX uint8
	decimalsY uint8

	// version increments on every commit; a Pending built on an older version is rejected.
	version uint64
	state   State
}

// New validates cfg and returns an empty pool.
func New(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		kind:      cfg.Kind,
		decimalsX: cfg.DecimalsX,
		decimalsY: cfg.DecimalsY,
		state: State{
			Fees:       cfg.Fees,
			FeeSide:    cfg.FeeSide,
			Aggregates: aggregator.NewState(),
		},
	}
	if cfg.Kind == KindStable {
		params, err := stableswap.NewParams(cfg.Amplification, cfg.DecimalsX, cfg.DecimalsY)
		if err != nil {
			return nil, err
		}
		p.params = params
	}
	return p, nil
}

func (p *Pool) Kind() Kind { return p.kind }

// Params returns the StableSwap parameters; zero for constant-product pools.
func (p *Pool) Params() stableswap.Params { return p.params }

func (p *Pool) Decimals() (uint8, uint8) { return p.decimalsX, p.decimalsY }

// State returns a deep copy of the committed state.
func (p *Pool) State() State { return p.state.Clone() }

// Reserves returns (x, y, supply).
func (p *Pool) Reserves() (uint64, uint64, uint64) {
	return p.state.ReserveX, p.state.ReserveY, p.state.Supply
}

// SetFees replaces every fee rate.
func (p *Pool) SetFees(r fees.Rates) error {
	if err := r.Validate(); err != nil {
		return err
	}
	p.state.Fees = r
	p.version++
	return nil
}

func (p *Pool) SetFrozen(frozen bool) {
	p.state.Frozen = frozen
	p.version++
}

// SetFeeSide selects the token that absorbs protocol fees.
func (p *Pool) SetFeeSide(side types.Side) error {
	if !side.Valid() {
		return types.ErrInvalidParameter.Wrapf("fee side %d", side)
	}
	p.state.FeeSide = side
	p.version++
	return nil
}

// Diff is the full effect of one operation on reserves, supply and trade volume.
type Diff struct {
	ReserveX uint64 `json:"reserveX"`
	ReserveY uint64 `json:"reserveY"`
	Supply   uint64 `json:"supply"`

	// Trade is set for swaps; TradeX and TradeY are the volume moved on each side.
	Trade  bool   `json:"trade,omitempty"`
	TradeX uint64 `json:"tradeX,omitempty"`
	TradeY uint64 `json:"tradeY,omitempty"`
}

// Pending is a validated operation whose new state has not been committed.
type Pending struct {
	version uint64
	next    State
}

// State returns a copy of the state Commit would install.
func (pd *Pending) State() State { return pd.next.Clone() }

// Commit installs a pending state. It fails if anything was committed since the Pending was built.
func (p *Pool) Commit(pending *Pending) error {
	if pending == nil {
		return types.ErrInvalidParameter.Wrap("pool: nil pending operation")
	}
	if pending.version != p.version {
		return types.ErrComputation.Wrapf("pool: stale pending operation (built on version %d, pool at %d)", pending.version, p.version)
	}
	p.state = pending.next
	p.version++
	return nil
}

func (p *Pool) plan(d Diff, now uint64) (*Pending, error) {
	if err := p.validate(d); err != nil {
		return nil, err
	}
	next, err := p.patch(d, now)
	if err != nil {
		return nil, err
	}
	return &Pending{version: p.version, next: next}, nil
}

// validate fails unless the invariant per share is non-decreasing from the committed state to d.
func (p *Pool) validate(d Diff) error {
	s := p.state
	if p.kind == KindStable && liquidity.ReservesPerShareHeld(s.ReserveX, s.ReserveY, s.Supply, d.ReserveX, d.ReserveY, d.Supply) {
		// D is homogeneous and increasing in both reserves, so D per share held as well.
		return nil
	}
	k0, s0, err := p.lspMetric(s.ReserveX, s.ReserveY, s.Supply)
	if err != nil {
		return err
	}
	k1, s1, err := p.lspMetric(d.ReserveX, d.ReserveY, d.Supply)
	if err != nil {
		return err
	}
	if p.kind == KindStable {
		return stableswap.ValidateLSP(k0, k1, s0, s1)
	}
	return liquidity.ValidateLSPValueIncrease(k0, k1, s0, s1)
}

// patch applies d to a deep copy of the committed state and runs the time-driven bookkeeping.
func (p *Pool) patch(d Diff, now uint64) (State, error) {
	next := p.state.Clone()
	next.ReserveX = d.ReserveX
	next.ReserveY = d.ReserveY
	next.Supply = d.Supply

	if now == 0 {
		return next, nil
	}
	if d.Trade {
		if err := next.Aggregates.RecordTrade(now, d.TradeX, d.TradeY); err != nil {
			return State{}, err
		}
	}
	if next.Supply == 0 {
		next.Aggregates.Snapshots.Capture(now, next.ReserveX, next.ReserveY)
		return next, nil
	}
	sample, err := p.invariantPerShare(next.ReserveX, next.ReserveY, next.Supply)
	if err != nil {
		return State{}, err
	}
	next.Aggregates.Observe(now, next.ReserveX, next.ReserveY, sample)
	return next, nil
}

// lspMetric returns the (k, s) pair whose ratio must never decrease. For constant-product pools
// k = x*y grows quadratically with the pool, so it is compared against supply^2.
func (p *Pool) lspMetric(x, y, supply uint64) (u256.U256, u256.U256, error) {
	s := u256.From(supply)
	switch p.kind {
	case KindConstantProduct:
		// supply < 2^64, so supply^2 fits.
		sq, _ := s.Mul(s)
		return cpmm.Invariant(x, y), sq, nil
	case KindStable:
		d, err := stableswap.Invariant(x, y, p.params)
		if err != nil {
			return u256.U256{}, u256.U256{}, err
		}
		return d, s, nil
	default:
		return u256.U256{}, u256.U256{}, types.ErrInvalidParameter.Wrapf("pool kind %d", p.kind)
	}
}

// liquidityValue is linear in pool size and denominated in native units, so a fresh balanced pool
// of either kind is worth about one unit per share: sqrt(x*y) for constant-product pools and
// D/2 for stable pools, with D brought back from 18 decimals by sqrt(ScaleX*ScaleY).
func (p *Pool) liquidityValue(x, y uint64) (u256.U256, error) {
	if p.kind != KindStable {
		return liquidity.IsqrtU256(cpmm.Invariant(x, y)), nil
	}
	d, err := stableswap.Invariant(x, y, p.params)
	if err != nil {
		return u256.U256{}, err
	}
	// Both scales are at most 1e18.
	scales, _ := u256.From(p.params.ScaleX).Mul(u256.From(p.params.ScaleY))
	native, err := d.MulDiv(d, scales)
	if err != nil {
		return u256.U256{}, err
	}
	return native.Sqrt().Div(u256.From(2))
}

func (p *Pool) invariantPerShare(x, y, supply uint64) (u256.U256, error) {
	v, err := p.liquidityValue(x, y)
	if err != nil {
		return u256.U256{}, err
	}
	return aggregator.InvariantPerShare(v, supply)
}

// InvariantPerShare returns the committed liquidity value per share scaled by 1e8.
// The second result is false for an empty pool.
func (p *Pool) InvariantPerShare() (u256.U256, bool, error) {
	if p.state.Supply == 0 {
		return u256.Zero(), false, nil
	}
	v, err := p.invariantPerShare(p.state.ReserveX, p.state.ReserveY, p.state.Supply)
	return v, err == nil, err
}

// WeeklyAverage returns the moving average of the invariant per share over the week ending at now.
func (p *Pool) WeeklyAverage(now uint64) (u256.U256, bool, error) {
	if p.state.Aggregates.SMA == nil {
		return u256.Zero(), false, nil
	}
	return p.state.Aggregates.SMA.Average(now)
}

// oriented returns (reserve of in, reserve of the other side).
func (p *Pool) oriented(in types.Side) (uint64, uint64) {
	if in == types.SideX {
		return p.state.ReserveX, p.state.ReserveY
	}
	return p.state.ReserveY, p.state.ReserveX
}

// price runs the kind's swap math for a fee-free input on side in.
func (p *Pool) price(net uint64, in types.Side) (uint64, error) {
	rin, rout := p.oriented(in)
	switch p.kind {
	case KindConstantProduct:
		return cpmm.ComputeAmount(net, rin, rout)
	case KindStable:
		params := p.params
		if in == types.SideY {
			params = params.Reversed()
		}
		return stableswap.ComputeAmountStable(net, rin, rout, params.A, params.ScaleX, params.ScaleY)
	default:
		return 0, types.ErrInvalidParameter.Wrapf("pool kind %d", p.kind)
	}
}

// ExchangeRate probes the curve with 1% of the input reserve and returns the fee-free (in, out) pair.
func (p *Pool) ExchangeRate(in types.Side) (uint64, uint64, error) {
	if !in.Valid() {
		return 0, 0, types.ErrInvalidParameter.Wrapf("side %d", in)
	}
	rin, _ := p.oriented(in)
	probe := rin / 100
	if probe == 0 {
		return 0, 0, types.ErrEmptyReserves.Wrapf("pool: reserve %d too small to probe", rin)
	}
	out, err := p.price(probe, in)
	if err != nil {
		return 0, 0, err
	}
	return probe, out, nil
}

func addUint64(a, b uint64) (uint64, error) {
	sum, err := u256.From(a).Add(u256.From(b))
	if err != nil {
		return 0, err
	}
	return sum.Uint64()
}
