// Package engine hosts many pools behind one API. It owns the token and pool registries,
// serializes operations per pool, routes protocol and withdrawal fees into the bank and
// gates the admin operations.
package engine

import (
	"errors"
	"slices"
	"sync"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/defistate/amm-engine/bank"
	"github.com/defistate/amm-engine/fees"
	"github.com/defistate/amm-engine/pool"
	"github.com/defistate/amm-engine/types"
	"github.com/defistate/amm-engine/u256"
)

// virtualPricePrecision is the number of decimals in an invariant-per-share sample.
const virtualPricePrecision = 8

// Config holds the engine's dependencies.
type Config struct {
	// Admin is the only caller allowed to change pool settings or withdraw from the bank.
	Admin    common.Address
	Logger   Logger
	Registry prometheus.Registerer
}

func (c *Config) validate() error {
	if c.Admin == (common.Address{}) {
		return errors.New("config: Admin cannot be the zero address")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	return nil
}

type poolEntry struct {
	mu   sync.Mutex
	key  PoolKey
	pool *pool.Pool
}

// Engine is safe for concurrent use. Operations on different pools run in parallel;
// operations on the same pool are serialized.
type Engine struct {
	admin   common.Address
	logger  Logger
	metrics *Metrics
	bank    *bank.Bank

	tokens *xsync.Map[common.Address, Token]
	pools  *xsync.Map[PoolKey, *poolEntry]

	// createMu makes the reversed-pair duplicate check and the insert one step.
	createMu sync.Mutex
}

func NewEngine(cfg *Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{
		admin:   cfg.Admin,
		logger:  cfg.Logger,
		metrics: NewMetrics(cfg.Registry),
		bank:    bank.New(),
		tokens:  xsync.NewMap[common.Address, Token](),
		pools:   xsync.NewMap[PoolKey, *poolEntry](),
	}, nil
}

// RegisterToken adds a token. Decimals above 18 and repeated addresses are rejected.
func (e *Engine) RegisterToken(t Token) error {
	if t.Address == (common.Address{}) {
		return types.ErrInvalidParameter.Wrap("token address is zero")
	}
	if t.Decimals > types.MaxDecimals {
		return types.ErrInvalidParameter.Wrapf("token %s has %d decimals, max %d", t.Symbol, t.Decimals, types.MaxDecimals)
	}
	if _, loaded := e.tokens.LoadOrStore(t.Address, t); loaded {
		return types.ErrDuplicate.Wrapf("token %s", t.Address.Hex())
	}
	e.logger.Info("token registered", "token", t.Address.Hex(), "symbol", t.Symbol, "decimals", t.Decimals)
	return nil
}

func (e *Engine) Token(addr common.Address) (Token, error) {
	t, ok := e.tokens.Load(addr)
	if !ok {
		return Token{}, types.ErrNotRegistered.Wrapf("token %s", addr.Hex())
	}
	return t, nil
}

// CreatePool creates an empty pool for the ordered pair (x, y). Token decimals come from the
// registry and override whatever cfg carries. A pair may hold one pool per kind, in one order.
func (e *Engine) CreatePool(x, y common.Address, cfg pool.Config) (PoolKey, error) {
	if x == y {
		return PoolKey{}, types.ErrInvalidParameter.Wrapf("pool needs two distinct tokens, got %s twice", x.Hex())
	}
	tx, err := e.Token(x)
	if err != nil {
		return PoolKey{}, err
	}
	ty, err := e.Token(y)
	if err != nil {
		return PoolKey{}, err
	}
	cfg.DecimalsX, cfg.DecimalsY = tx.Decimals, ty.Decimals

	p, err := pool.New(cfg)
	if err != nil {
		return PoolKey{}, err
	}
	key := PoolKey{X: x, Y: y, Kind: cfg.Kind}

	e.createMu.Lock()
	defer e.createMu.Unlock()
	if _, ok := e.pools.Load(key.Reversed()); ok {
		return PoolKey{}, types.ErrDuplicate.Wrapf("pool %s exists in reverse order", key)
	}
	if _, loaded := e.pools.LoadOrStore(key, &poolEntry{key: key, pool: p}); loaded {
		return PoolKey{}, types.ErrDuplicate.Wrapf("pool %s", key)
	}

	e.metrics.pools.Inc()
	e.logger.Info("pool created",
		"pool", key.String(),
		"kind", cfg.Kind.String(),
		"feeSide", cfg.FeeSide.String(),
		"amplification", cfg.Amplification,
	)
	return key, nil
}

func (e *Engine) entry(key PoolKey) (*poolEntry, error) {
	en, ok := e.pools.Load(key)
	if !ok {
		return nil, types.ErrNotFound.Wrapf("pool %s", key)
	}
	return en, nil
}

// observe records the outcome of op on key and logs failures.
func (e *Engine) observe(op string, key PoolKey, err error) {
	e.metrics.operations.WithLabelValues(op, key.Kind.String(), resultLabel(err)).Inc()
	if err != nil {
		e.logger.Warn("pool operation failed", "op", op, "pool", key.String(), "error", err)
		return
	}
	e.logger.Debug("pool operation", "op", op, "pool", key.String())
}

// settle credits deposits to the bank and then commits pending. The entry lock is held,
// so nothing can commit in between and Commit only fails on a programming error.
func (e *Engine) settle(now uint64, en *poolEntry, pending *pool.Pending, deposits []bank.Deposit) error {
	if err := e.bank.DepositAll(now, deposits); err != nil {
		return err
	}
	if err := en.pool.Commit(pending); err != nil {
		e.logger.Error("commit after bank deposit failed", "pool", en.key.String(), "error", err)
		return err
	}
	for _, d := range deposits {
		if d.Amount > 0 {
			e.metrics.protocolFees.WithLabelValues(d.Token.Hex()).Add(float64(d.Amount))
		}
	}
	return nil
}

// Swap sells amountIn of tokenIn into the pool at key.
func (e *Engine) Swap(now uint64, key PoolKey, tokenIn common.Address, amountIn, minOut uint64) (res pool.SwapResult, err error) {
	timer := prometheus.NewTimer(e.metrics.duration.WithLabelValues("swap"))
	defer timer.ObserveDuration()
	defer func() { e.observe("swap", key, err) }()

	en, err := e.entry(key)
	if err != nil {
		return pool.SwapResult{}, err
	}
	in, err := key.side(tokenIn)
	if err != nil {
		return pool.SwapResult{}, err
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	res, pending, err := en.pool.PrepareSwap(now, in, amountIn, minOut)
	if err != nil {
		return pool.SwapResult{}, err
	}
	feeToken := key.token(res.ProtocolFeeSide)
	deposits := []bank.Deposit{{Token: feeToken, Amount: res.ProtocolFees.Total()}}
	if err := e.settle(now, en, pending, deposits); err != nil {
		return pool.SwapResult{}, err
	}
	return res, nil
}

// QuoteSwap prices a swap against the committed state without changing anything.
func (e *Engine) QuoteSwap(key PoolKey, tokenIn common.Address, amountIn uint64) (pool.SwapResult, error) {
	en, err := e.entry(key)
	if err != nil {
		return pool.SwapResult{}, err
	}
	in, err := key.side(tokenIn)
	if err != nil {
		return pool.SwapResult{}, err
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	return en.pool.QuoteSwap(in, amountIn)
}

// Deposit adds (amountX, amountY) to the pool at key and mints shares.
func (e *Engine) Deposit(now uint64, key PoolKey, amountX, amountY, minShares uint64) (res pool.DepositResult, err error) {
	timer := prometheus.NewTimer(e.metrics.duration.WithLabelValues("deposit"))
	defer timer.ObserveDuration()
	defer func() { e.observe("deposit", key, err) }()

	en, err := e.entry(key)
	if err != nil {
		return pool.DepositResult{}, err
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	res, pending, err := en.pool.PrepareDeposit(now, amountX, amountY, minShares)
	if err != nil {
		return pool.DepositResult{}, err
	}
	if err := e.settle(now, en, pending, nil); err != nil {
		return pool.DepositResult{}, err
	}
	return res, nil
}

// Withdraw burns shares for a proportional slice of both reserves.
func (e *Engine) Withdraw(now uint64, key PoolKey, shares, minX, minY uint64) (res pool.WithdrawResult, err error) {
	timer := prometheus.NewTimer(e.metrics.duration.WithLabelValues("withdraw"))
	defer timer.ObserveDuration()
	defer func() { e.observe("withdraw", key, err) }()

	en, err := e.entry(key)
	if err != nil {
		return pool.WithdrawResult{}, err
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	res, pending, err := en.pool.PrepareWithdraw(now, shares, minX, minY)
	if err != nil {
		return pool.WithdrawResult{}, err
	}
	deposits := []bank.Deposit{
		{Token: key.X, Amount: res.FeeX},
		{Token: key.Y, Amount: res.FeeY},
	}
	if err := e.settle(now, en, pending, deposits); err != nil {
		return pool.WithdrawResult{}, err
	}
	return res, nil
}

// WithdrawOne burns shares for tokenOut only. Constant-product pools return ErrNotImplemented.
func (e *Engine) WithdrawOne(now uint64, key PoolKey, shares uint64, tokenOut common.Address, minOut uint64) (res pool.WithdrawResult, err error) {
	timer := prometheus.NewTimer(e.metrics.duration.WithLabelValues("withdraw_one"))
	defer timer.ObserveDuration()
	defer func() { e.observe("withdraw_one", key, err) }()

	en, err := e.entry(key)
	if err != nil {
		return pool.WithdrawResult{}, err
	}
	out, err := key.side(tokenOut)
	if err != nil {
		return pool.WithdrawResult{}, err
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	res, pending, err := en.pool.PrepareWithdrawOne(now, shares, out, minOut)
	if err != nil {
		return pool.WithdrawResult{}, err
	}
	deposits := []bank.Deposit{
		{Token: key.X, Amount: res.FeeX},
		{Token: key.Y, Amount: res.FeeY},
	}
	if err := e.settle(now, en, pending, deposits); err != nil {
		return pool.WithdrawResult{}, err
	}
	return res, nil
}

func (e *Engine) authorize(caller common.Address, action string) error {
	if caller != e.admin {
		e.logger.Warn("unauthorized admin call", "action", action, "caller", caller.Hex())
		return types.ErrPermissionDenied.Wrapf("%s: caller %s is not the admin", action, caller.Hex())
	}
	return nil
}

// SetFees replaces the fee rates of the pool at key.
func (e *Engine) SetFees(caller common.Address, key PoolKey, r fees.Rates) error {
	if err := e.authorize(caller, "set fees"); err != nil {
		return err
	}
	en, err := e.entry(key)
	if err != nil {
		return err
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	if err := en.pool.SetFees(r); err != nil {
		return err
	}
	e.logger.Info("pool fees changed",
		"pool", key.String(),
		"admin", r.Admin,
		"lp", r.LP,
		"incentive", r.Incentive,
		"connect", r.Connect,
		"withdraw", r.Withdraw,
	)
	return nil
}

// SetFrozen blocks or unblocks swaps and deposits on the pool at key.
func (e *Engine) SetFrozen(caller common.Address, key PoolKey, frozen bool) error {
	if err := e.authorize(caller, "set frozen"); err != nil {
		return err
	}
	en, err := e.entry(key)
	if err != nil {
		return err
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	en.pool.SetFrozen(frozen)
	e.logger.Info("pool frozen flag changed", "pool", key.String(), "frozen", frozen)
	return nil
}

// SetFeeSide makes token the one protocol fees are taken in.
func (e *Engine) SetFeeSide(caller common.Address, key PoolKey, token common.Address) error {
	if err := e.authorize(caller, "set fee side"); err != nil {
		return err
	}
	en, err := e.entry(key)
	if err != nil {
		return err
	}
	side, err := key.side(token)
	if err != nil {
		return err
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	if err := en.pool.SetFeeSide(side); err != nil {
		return err
	}
	e.logger.Info("pool fee side changed", "pool", key.String(), "token", token.Hex())
	return nil
}

// WithdrawFees debits amount of token from the bank.
func (e *Engine) WithdrawFees(caller, token common.Address, amount uint64) error {
	if err := e.authorize(caller, "withdraw fees"); err != nil {
		return err
	}
	if err := e.bank.Withdraw(token, amount); err != nil {
		return err
	}
	e.logger.Info("bank withdrawal", "token", token.Hex(), "amount", amount)
	return nil
}

// ShareSupply returns the outstanding shares of the pool at key.
func (e *Engine) ShareSupply(key PoolKey) (uint64, error) {
	en, err := e.entry(key)
	if err != nil {
		return 0, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	_, _, supply := en.pool.Reserves()
	return supply, nil
}

func (e *Engine) BankBalance(token common.Address) uint64 {
	return e.bank.Balance(token)
}

func (e *Engine) BankSnapshot() bank.Snapshot {
	return e.bank.LastSnapshot()
}

// Pool renders the pool at key. now is only used for the weekly average window.
func (e *Engine) Pool(now uint64, key PoolKey) (PoolView, error) {
	en, err := e.entry(key)
	if err != nil {
		return PoolView{}, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return e.view(now, en)
}

// Pools renders every pool, ordered by key.
func (e *Engine) Pools(now uint64) ([]PoolView, error) {
	var entries []*poolEntry
	e.pools.Range(func(_ PoolKey, en *poolEntry) bool {
		entries = append(entries, en)
		return true
	})
	slices.SortFunc(entries, func(a, b *poolEntry) int {
		if c := a.key.X.Cmp(b.key.X); c != 0 {
			return c
		}
		if c := a.key.Y.Cmp(b.key.Y); c != 0 {
			return c
		}
		return int(a.key.Kind) - int(b.key.Kind)
	})

	views := make([]PoolView, 0, len(entries))
	for _, en := range entries {
		en.mu.Lock()
		v, err := e.view(now, en)
		en.mu.Unlock()
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// view must be called with en.mu held.
func (e *Engine) view(now uint64, en *poolEntry) (PoolView, error) {
	p := en.pool
	s := p.State()
	v := PoolView{
		Key:          en.key,
		Kind:         p.Kind().String(),
		ReserveX:     s.ReserveX,
		ReserveY:     s.ReserveY,
		Supply:       s.Supply,
		Fees:         s.Fees,
		FeeToken:     en.key.token(s.FeeSide),
		Frozen:       s.Frozen,
		SpotPrice:    math.LegacyZeroDec(),
		VirtualPrice: math.LegacyZeroDec(),
		WeeklySMA:    math.LegacyZeroDec(),
		LastTrade:    s.Aggregates.LastTrade,
		Trades:       s.Aggregates.Trades,
		LastSnapshot: s.Aggregates.Snapshots.Last,
	}
	if p.Kind() == pool.KindStable {
		v.Amplification = p.Params().A
	}

	// A pool too small to probe has no meaningful price; leave it at zero.
	if in, out, err := p.ExchangeRate(types.SideX); err == nil {
		decX, decY := p.Decimals()
		v.SpotPrice = math.LegacyNewDecFromBigIntWithPrec(u256.From(out).ToBig(), int64(decY)).
			Quo(math.LegacyNewDecFromBigIntWithPrec(u256.From(in).ToBig(), int64(decX)))
	}

	vp, ok, err := p.InvariantPerShare()
	if err != nil {
		return PoolView{}, err
	}
	if ok {
		v.VirtualPrice = math.LegacyNewDecFromBigIntWithPrec(vp.ToBig(), virtualPricePrecision)
	}

	avg, ok, err := p.WeeklyAverage(now)
	if err != nil {
		return PoolView{}, err
	}
	if ok {
		v.WeeklySMA = math.LegacyNewDecFromBigIntWithPrec(avg.ToBig(), virtualPricePrecision)
	}
	return v, nil
}
