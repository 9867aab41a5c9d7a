package cpmm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/defistate/amm-engine/types"
	"github.com/defistate/amm-engine/u256"
)

func TestComputeAmount(t *testing.T) {
	testCases := []struct {
		name        string
		dx, x, y    uint64
		expected    uint64
		expectedErr error
	}{
		{
			name: "Balanced Pool Without Fees",
			dx:   100, x: 1000, y: 1000,
			expected: 90,
		},
		{
			name: "Mixed Decimals",
			dx:   1_000_000, x: 100_000_000, y: 5_000_000_000_000_000_000,
			expected: 49_504_950_495_049_504,
		},
		{
			name: "Dust Input Rounds To Zero",
			dx:   1, x: 1_000_000, y: 10,
			expected: 0,
		},
		{
			name: "Max Input Does Not Overflow",
			dx:   math.MaxUint64, x: math.MaxUint64, y: 1000,
			expected: 500,
		},
		{
			name: "Zero Input",
			dx:   0, x: 1000, y: 1000,
			expectedErr: types.ErrInvalidParameter,
		},
		{
			name: "Empty Reserve",
			dx:   10, x: 0, y: 1000,
			expectedErr: types.ErrEmptyReserves,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dy, err := ComputeAmount(tc.dx, tc.x, tc.y)
			if tc.expectedErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, dy)
		})
	}
}

func TestComputeAmountIn(t *testing.T) {
	dx, err := ComputeAmountIn(90, 1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), dx)

	dy, err := ComputeAmount(dx, 1000, 1000)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, dy, uint64(90), "the quoted input must buy at least the requested output")

	_, err = ComputeAmountIn(1000, 1000, 1000)
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = ComputeAmountIn(0, 1000, 1000)
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestComputeDeposit(t *testing.T) {
	shares, err := ComputeDeposit(100, 300, 1000, 1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), shares, "the scarcer side bounds the mint")

	shares, err = ComputeDeposit(1, 1, 1000, 1000, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), shares)

	_, err = ComputeDeposit(100, 100, 0, 1000, 1000)
	assert.ErrorIs(t, err, types.ErrEmptyReserves)

	_, err = ComputeDeposit(100, 100, 1000, 1000, 0)
	assert.ErrorIs(t, err, types.ErrEmptyShareSupply)
}

func TestComputeWithdraw(t *testing.T) {
	xOut, yOut, err := ComputeWithdraw(1000, 3000, 600, 200)
	require.NoError(t, err)
	assert.Equal(t, uint64(333), xOut)
	assert.Equal(t, uint64(1000), yOut)

	xOut, yOut, err = ComputeWithdraw(1000, 3000, 600, 600)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), xOut)
	assert.Equal(t, uint64(3000), yOut)

	_, _, err = ComputeWithdraw(1000, 3000, 600, 601)
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, _, err = ComputeWithdraw(1000, 3000, 0, 1)
	assert.ErrorIs(t, err, types.ErrEmptyShareSupply)
}

func TestComputeInitialShares(t *testing.T) {
	shares, err := ComputeInitialShares(400, 900)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), shares)

	shares, err = ComputeInitialShares(math.MaxUint64, math.MaxUint64)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint32)*uint64(math.MaxUint32), shares)

	_, err = ComputeInitialShares(0, 900)
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

// TestComputeAmount_Invariants checks the product never decreases and pricing is monotonic.
func TestComputeAmount_Invariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Uint64Range(1, math.MaxUint64).Draw(t, "x")
		y := rapid.Uint64Range(1, math.MaxUint64).Draw(t, "y")
		dx := rapid.Uint64Range(1, math.MaxUint64-1).Draw(t, "dx")

		dy, err := ComputeAmount(dx, x, y)
		if err != nil {
			t.Fatalf("ComputeAmount(%d, %d, %d): %v", dx, x, y, err)
		}
		if dy >= y {
			t.Fatalf("output %d drains reserve %d", dy, y)
		}

		newX, _ := u256.From(x).Add(u256.From(dx))
		after, _ := newX.Mul(u256.From(y - dy))
		if after.Lt(Invariant(x, y)) {
			t.Fatalf("product decreased: %s < %s", after, Invariant(x, y))
		}

		larger, err := ComputeAmount(dx+1, x, y)
		if err != nil {
			t.Fatalf("ComputeAmount(%d, %d, %d): %v", dx+1, x, y, err)
		}
		if larger < dy {
			t.Fatalf("pricing not monotonic: dy(%d)=%d > dy(%d)=%d", dx, dy, dx+1, larger)
		}
	})
}

func TestComputeAmount_StrictlyMonotonicOnDeepPool(t *testing.T) {
	prev := uint64(0)
	for dx := uint64(1); dx <= 1000; dx++ {
		dy, err := ComputeAmount(dx, 1_000_000, 1_000_000_000)
		require.NoError(t, err)
		require.Greater(t, dy, prev, "dx=%d", dx)
		prev = dy
	}
}

// TestDepositWithdrawRoundTrip checks that depositing then burning the minted shares never returns more than deposited.
func TestDepositWithdrawRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Uint64Range(1, 1<<40).Draw(t, "x")
		y := rapid.Uint64Range(1, 1<<40).Draw(t, "y")
		supply := rapid.Uint64Range(1, 1<<40).Draw(t, "supply")
		a := rapid.Uint64Range(0, 1<<40).Draw(t, "a")
		b := rapid.Uint64Range(0, 1<<40).Draw(t, "b")

		minted, err := ComputeDeposit(a, b, x, y, supply)
		if err != nil {
			t.Fatalf("deposit: %v", err)
		}
		if minted == 0 {
			return
		}
		xOut, yOut, err := ComputeWithdraw(x+a, y+b, supply+minted, minted)
		if err != nil {
			t.Fatalf("withdraw: %v", err)
		}
		if xOut > a || yOut > b {
			t.Fatalf("round trip created value: deposited (%d, %d), withdrew (%d, %d)", a, b, xOut, yOut)
		}
	})
}
