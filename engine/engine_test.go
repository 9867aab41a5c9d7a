package engine

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/amm-engine/fees"
	"github.com/defistate/amm-engine/pool"
	"github.com/defistate/amm-engine/types"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	usdc     = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	usdt     = common.HexToAddress("0xdac17f958d2ee523a2206206994597c13d831ec7")
	weth     = common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
)

var typicalFees = fees.Rates{Admin: 10, LP: 30, Incentive: 5, Connect: 5, Withdraw: 100}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(&Config{Admin: admin, Logger: discardLogger(), Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	require.NoError(t, e.RegisterToken(Token{Address: usdc, Symbol: "USDC", Decimals: 6}))
	require.NoError(t, e.RegisterToken(Token{Address: usdt, Symbol: "USDT", Decimals: 6}))
	require.NoError(t, e.RegisterToken(Token{Address: weth, Symbol: "WETH", Decimals: 18}))
	return e
}

func fundedPool(t *testing.T, e *Engine, x, y common.Address, cfg pool.Config, ax, ay uint64) PoolKey {
	t.Helper()
	key, err := e.CreatePool(x, y, cfg)
	require.NoError(t, err)
	_, err = e.Deposit(0, key, ax, ay, 0)
	require.NoError(t, err)
	return key
}

func TestNewEngineValidatesConfig(t *testing.T) {
	testCases := []struct {
		name string
		cfg  Config
	}{
		{"Zero Admin", Config{Logger: discardLogger(), Registry: prometheus.NewRegistry()}},
		{"Nil Logger", Config{Admin: admin, Registry: prometheus.NewRegistry()}},
		{"Nil Registry", Config{Admin: admin, Logger: discardLogger()}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEngine(&tc.cfg)
			assert.Error(t, err)
		})
	}
}

func TestRegisterToken(t *testing.T) {
	e := newTestEngine(t)

	err := e.RegisterToken(Token{Address: usdc, Symbol: "USDC", Decimals: 6})
	assert.ErrorIs(t, err, types.ErrDuplicate)

	other := common.HexToAddress("0x1")
	err = e.RegisterToken(Token{Address: other, Symbol: "BIG", Decimals: 19})
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = e.Token(other)
	assert.ErrorIs(t, err, types.ErrNotRegistered)

	tok, err := e.Token(weth)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), tok.Decimals)
}

func TestCreatePool(t *testing.T) {
	e := newTestEngine(t)
	cpmmCfg := pool.Config{Kind: pool.KindConstantProduct, Fees: typicalFees}

	_, err := e.CreatePool(usdc, common.HexToAddress("0x1"), cpmmCfg)
	assert.ErrorIs(t, err, types.ErrNotRegistered)

	_, err = e.CreatePool(usdc, usdc, cpmmCfg)
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	key, err := e.CreatePool(usdc, usdt, cpmmCfg)
	require.NoError(t, err)
	assert.Equal(t, PoolKey{X: usdc, Y: usdt, Kind: pool.KindConstantProduct}, key)

	_, err = e.CreatePool(usdc, usdt, cpmmCfg)
	assert.ErrorIs(t, err, types.ErrDuplicate)
	_, err = e.CreatePool(usdt, usdc, cpmmCfg)
	assert.ErrorIs(t, err, types.ErrDuplicate)

	_, err = e.CreatePool(usdc, usdt, pool.Config{Kind: pool.KindStable, Fees: typicalFees})
	assert.ErrorIs(t, err, types.ErrInvalidParameter, "stable pool without amplification")

	stableKey, err := e.CreatePool(usdc, usdt, pool.Config{Kind: pool.KindStable, Fees: typicalFees, Amplification: 100})
	require.NoError(t, err)
	assert.NotEqual(t, key, stableKey)

	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.pools))

	_, err = e.ShareSupply(PoolKey{X: usdc, Y: weth})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSwapRoutesProtocolFeesToBank(t *testing.T) {
	e := newTestEngine(t)
	key := fundedPool(t, e, usdc, usdt, pool.Config{Kind: pool.KindConstantProduct, Fees: typicalFees}, 1_000_000, 1_000_000)

	quote, err := e.QuoteSwap(key, usdc, 10_000)
	require.NoError(t, err)

	res, err := e.Swap(30_000, key, usdc, 10_000, 0)
	require.NoError(t, err)
	assert.Equal(t, quote, res)
	assert.Equal(t, types.SideX, res.ProtocolFeeSide)
	assert.Equal(t, uint64(20), res.ProtocolFees.Total())
	assert.Equal(t, uint64(20), e.BankBalance(usdc))
	assert.Zero(t, e.BankBalance(usdt))

	// Protocol fees switch to the output token.
	require.NoError(t, e.SetFeeSide(admin, key, usdt))
	res, err = e.Swap(30_001, key, usdc, 10_000, 0)
	require.NoError(t, err)
	assert.Equal(t, types.SideY, res.ProtocolFeeSide)
	assert.Equal(t, res.ProtocolFees.Total(), e.BankBalance(usdt))

	assert.Equal(t, 2.0, testutil.ToFloat64(e.metrics.operations.WithLabelValues("swap", "constant-product", "ok")))
	assert.Equal(t, float64(20+res.ProtocolFees.Total()), testutil.ToFloat64(e.metrics.protocolFees.WithLabelValues(usdc.Hex()))+
		testutil.ToFloat64(e.metrics.protocolFees.WithLabelValues(usdt.Hex())))

	// Only the first deposit was past the bank snapshot interval.
	snap := e.BankSnapshot()
	assert.Equal(t, uint64(30_000), snap.Time)
	assert.Equal(t, uint64(20), snap.Balances[usdc])
}

func TestDepositLeavesBankSnapshotAlone(t *testing.T) {
	e := newTestEngine(t)
	key := fundedPool(t, e, usdc, usdt, pool.Config{Kind: pool.KindConstantProduct, Fees: typicalFees}, 1_000_000, 1_000_000)

	_, err := e.Deposit(30_000, key, 10_000, 10_000, 0)
	require.NoError(t, err)
	assert.Zero(t, e.BankSnapshot().Time, "a deposit routes no fee to the bank")

	_, err = e.Swap(30_001, key, usdc, 10_000, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(30_001), e.BankSnapshot().Time)
}

func TestSwapRejections(t *testing.T) {
	e := newTestEngine(t)
	key := fundedPool(t, e, usdc, usdt, pool.Config{Kind: pool.KindConstantProduct, Fees: typicalFees}, 1_000_000, 1_000_000)

	_, err := e.Swap(0, key, weth, 10_000, 0)
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = e.Swap(0, key, usdc, 10_000, 1_000_000)
	assert.ErrorIs(t, err, types.ErrSlippageExceeded)

	_, err = e.Swap(0, PoolKey{X: usdc, Y: weth}, usdc, 10_000, 0)
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, e.SetFrozen(admin, key, true))
	_, err = e.Swap(0, key, usdc, 10_000, 0)
	assert.ErrorIs(t, err, types.ErrFrozen)
	_, err = e.Deposit(0, key, 10_000, 10_000, 0)
	assert.ErrorIs(t, err, types.ErrFrozen)

	frozenLabel := resultLabel(types.ErrFrozen)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.operations.WithLabelValues("swap", "constant-product", frozenLabel)))

	// Nothing moved.
	v, err := e.Pool(0, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), v.ReserveX)
	assert.Equal(t, uint64(1_000_000), v.ReserveY)
	assert.True(t, v.Frozen)
	assert.Zero(t, e.BankBalance(usdc))
}

func TestWithdrawRoutesFeesToBank(t *testing.T) {
	e := newTestEngine(t)
	key := fundedPool(t, e, usdc, usdt, pool.Config{Kind: pool.KindConstantProduct, Fees: typicalFees}, 1_000_000, 1_000_000)

	supply, err := e.ShareSupply(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), supply)

	// Withdrawals stay open on a frozen pool.
	require.NoError(t, e.SetFrozen(admin, key, true))

	res, err := e.Withdraw(0, key, 100_000, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(99_000), res.AmountX)
	assert.Equal(t, uint64(99_000), res.AmountY)
	assert.Equal(t, uint64(1_000), e.BankBalance(usdc))
	assert.Equal(t, uint64(1_000), e.BankBalance(usdt))

	supply, err = e.ShareSupply(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(900_000), supply)

	_, err = e.WithdrawOne(0, key, 1_000, usdc, 0)
	assert.ErrorIs(t, err, types.ErrNotImplemented)
}

func TestWithdrawOneStable(t *testing.T) {
	e := newTestEngine(t)
	cfg := pool.Config{Kind: pool.KindStable, Amplification: 100}
	key := fundedPool(t, e, usdc, usdt, cfg, 1_000_000, 1_000_000)

	_, err := e.WithdrawOne(0, key, 10_000, weth, 0)
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	res, err := e.WithdrawOne(0, key, 10_000, usdt, 0)
	require.NoError(t, err)
	assert.Zero(t, res.AmountX)
	assert.Greater(t, res.AmountY, uint64(19_000))
	assert.Less(t, res.AmountY, uint64(20_000))

	v, err := e.Pool(0, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(990_000), v.Supply)
	assert.Equal(t, uint64(1_000_000)-res.AmountY, v.ReserveY)
	assert.Equal(t, uint64(100), v.Amplification)
}

func TestAdminOperations(t *testing.T) {
	e := newTestEngine(t)
	key := fundedPool(t, e, usdc, usdt, pool.Config{Kind: pool.KindConstantProduct, Fees: typicalFees}, 1_000_000, 1_000_000)

	assert.ErrorIs(t, e.SetFees(stranger, key, fees.Rates{}), types.ErrPermissionDenied)
	assert.ErrorIs(t, e.SetFrozen(stranger, key, true), types.ErrPermissionDenied)
	assert.ErrorIs(t, e.SetFeeSide(stranger, key, usdt), types.ErrPermissionDenied)
	assert.ErrorIs(t, e.WithdrawFees(stranger, usdc, 1), types.ErrPermissionDenied)

	assert.ErrorIs(t, e.SetFees(admin, key, fees.Rates{LP: 10_000}), types.ErrWrongFeeConfiguration)
	assert.ErrorIs(t, e.SetFeeSide(admin, key, weth), types.ErrInvalidParameter)

	_, err := e.Swap(0, key, usdc, 10_000, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(20), e.BankBalance(usdc))

	assert.ErrorIs(t, e.WithdrawFees(admin, usdc, 21), types.ErrInsufficientBalance)
	require.NoError(t, e.WithdrawFees(admin, usdc, 15))
	assert.Equal(t, uint64(5), e.BankBalance(usdc))

	require.NoError(t, e.SetFees(admin, key, fees.Rates{}))
	v, err := e.Pool(0, key)
	require.NoError(t, err)
	assert.Equal(t, fees.Rates{}, v.Fees)
}

func TestPoolView(t *testing.T) {
	t.Run("Equal Decimals", func(t *testing.T) {
		e := newTestEngine(t)
		key, err := e.CreatePool(usdc, usdt, pool.Config{Kind: pool.KindConstantProduct})
		require.NoError(t, err)
		_, err = e.Deposit(1_000, key, 1_000_000, 1_000_000, 0)
		require.NoError(t, err)

		v, err := e.Pool(1_000, key)
		require.NoError(t, err)
		assert.Equal(t, "constant-product", v.Kind)
		assert.Equal(t, usdc, v.FeeToken)
		// A 1% probe of a balanced pool returns 9900 for 10000.
		assert.True(t, v.SpotPrice.Equal(math.LegacyMustNewDecFromStr("0.99")), v.SpotPrice.String())
		assert.True(t, v.VirtualPrice.Equal(math.LegacyOneDec()), v.VirtualPrice.String())
		assert.True(t, v.WeeklySMA.Equal(math.LegacyOneDec()), v.WeeklySMA.String())
		assert.Equal(t, uint64(1_000), v.LastSnapshot.Time)
	})

	t.Run("Mixed Decimals", func(t *testing.T) {
		e := newTestEngine(t)
		// 10 WETH against 20,000 USDC.
		key := fundedPool(t, e, weth, usdc, pool.Config{Kind: pool.KindConstantProduct}, 10_000_000_000_000_000_000, 20_000_000_000)

		v, err := e.Pool(0, key)
		require.NoError(t, err)
		assert.True(t, v.SpotPrice.Equal(math.LegacyMustNewDecFromStr("1980.19801")), v.SpotPrice.String())
		assert.True(t, v.WeeklySMA.IsZero(), "no samples without a clock")
	})

	t.Run("Stable Pool", func(t *testing.T) {
		e := newTestEngine(t)
		key, err := e.CreatePool(usdc, usdt, pool.Config{Kind: pool.KindStable, Amplification: 100})
		require.NoError(t, err)
		_, err = e.Deposit(1_000, key, 1_000_000, 1_000_000, 0)
		require.NoError(t, err)

		v, err := e.Pool(1_000, key)
		require.NoError(t, err)
		// Half of D in native units over isqrt(x)*isqrt(y) shares.
		assert.True(t, v.VirtualPrice.Equal(math.LegacyOneDec()), v.VirtualPrice.String())
		assert.True(t, v.WeeklySMA.Equal(math.LegacyOneDec()), v.WeeklySMA.String())
	})

	t.Run("Empty Pool", func(t *testing.T) {
		e := newTestEngine(t)
		key, err := e.CreatePool(usdc, usdt, pool.Config{Kind: pool.KindConstantProduct})
		require.NoError(t, err)

		v, err := e.Pool(0, key)
		require.NoError(t, err)
		assert.True(t, v.SpotPrice.IsZero())
		assert.True(t, v.VirtualPrice.IsZero())
	})
}

func TestPoolsOrdered(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreatePool(weth, usdc, pool.Config{Kind: pool.KindConstantProduct})
	require.NoError(t, err)
	_, err = e.CreatePool(usdc, usdt, pool.Config{Kind: pool.KindStable, Amplification: 200})
	require.NoError(t, err)
	_, err = e.CreatePool(usdc, usdt, pool.Config{Kind: pool.KindConstantProduct})
	require.NoError(t, err)

	views, err := e.Pools(0)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, PoolKey{X: usdc, Y: usdt, Kind: pool.KindConstantProduct}, views[0].Key)
	assert.Equal(t, PoolKey{X: usdc, Y: usdt, Kind: pool.KindStable}, views[1].Key)
	assert.Equal(t, PoolKey{X: weth, Y: usdc, Kind: pool.KindConstantProduct}, views[2].Key)
}

func TestConcurrentSwaps(t *testing.T) {
	const (
		workers = 50
		amount  = 1_000
		reserve = 1_000_000_000
	)
	e := newTestEngine(t)
	a := fundedPool(t, e, usdc, usdt, pool.Config{Kind: pool.KindConstantProduct}, reserve, reserve)
	b := fundedPool(t, e, weth, usdc, pool.Config{Kind: pool.KindConstantProduct}, reserve, reserve)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, in := a, usdc
			if i%2 == 1 {
				key, in = b, weth
			}
			_, err := e.Swap(uint64(1_000+i), key, in, amount, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	va, err := e.Pool(0, a)
	require.NoError(t, err)
	vb, err := e.Pool(0, b)
	require.NoError(t, err)
	assert.Equal(t, uint64(reserve+amount*workers/2), va.ReserveX)
	assert.Equal(t, uint64(reserve+amount*workers/2), vb.ReserveX)
	assert.Equal(t, uint64(workers/2), va.Trades.Trades)
	assert.Equal(t, float64(workers), testutil.ToFloat64(e.metrics.operations.WithLabelValues("swap", "constant-product", "ok")))
}
