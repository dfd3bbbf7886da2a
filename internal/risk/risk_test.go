package risk

import (
	"testing"
	"time"

	"frizo/margin_ledger/internal/fixedpoint"
	"frizo/margin_ledger/internal/market"
	"frizo/margin_ledger/internal/position"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var prec = fixedpoint.MustPrecision(18)

func v(s string) fixedpoint.Value {
	return prec.MustParse(s)
}

func testEvaluator(t *testing.T, floor string) Evaluator {
	t.Helper()
	params := market.Params{
		InitialMarginRatio:      decimal.RequireFromString("0.10"),
		MaintenanceRatio:        decimal.RequireFromString("0.05"),
		LiquidationFee:          decimal.RequireFromString("0.01"),
		PartialLiquidationRatio: decimal.RequireFromString("0.25"),
		FluctuationLimitRatio:   decimal.RequireFromString("0.1"),
		PartialLiquidationFloor: decimal.RequireFromString(floor),
		FundingPeriod:           time.Hour,
		Decimals:                18,
	}
	rp, err := params.Scaled()
	require.NoError(t, err)
	return NewEvaluator(rp)
}

func createTestPosition(t *testing.T, side position.PositionSide) position.Position {
	t.Helper()
	p, err := position.New("T1", side, v("100"), v("1000"), v("1000"), fixedpoint.Zero(), 100)
	require.NoError(t, err)
	return p
}

func TestValuation(t *testing.T) {
	e := testEvaluator(t, "0")
	long := createTestPosition(t, position.LONG)
	short := createTestPosition(t, position.SHORT)

	tests := []struct {
		name      string
		pos       position.Position
		mark      string
		wantValue string
		wantPnL   string
		wantRatio string
	}{
		{"LongFlat", long, "10", "1000", "0", "1"},
		{"LongUp", long, "12", "1200", "200", "1.2"},
		{"LongDown", long, "0.4", "40", "-960", "0.04"},
		{"ShortFlat", short, "10", "1000", "0", "1"},
		{"ShortUp", short, "12", "1200", "-200", "0.8"},
		{"ShortDown", short, "8", "800", "200", "1.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := e.PositionValue(tt.pos, v(tt.mark))
			require.NoError(t, err)
			assert.Equal(t, tt.wantValue, prec.Format(value))

			pnl, err := e.UnrealizedPnL(tt.pos, v(tt.mark))
			require.NoError(t, err)
			assert.Equal(t, tt.wantPnL, prec.Format(pnl))

			ratio, err := e.MarginRatio(tt.pos, v(tt.mark))
			require.NoError(t, err)
			assert.Equal(t, tt.wantRatio, prec.Format(ratio))
		})
	}

	t.Run("ZeroNotional", func(t *testing.T) {
		broken := long
		broken.Notional = fixedpoint.Zero()
		_, err := e.MarginRatio(broken, v("10"))
		assert.ErrorIs(t, err, fixedpoint.ErrDivisionByZero)
	})
}

func TestIsLiquidatable(t *testing.T) {
	e := testEvaluator(t, "0")
	long := createTestPosition(t, position.LONG)

	t.Run("Healthy", func(t *testing.T) {
		ok, err := e.IsLiquidatable(long, v("10"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ExactlyAtMaintenance", func(t *testing.T) {
		// ratio 0.05 == maintenance, the comparison is strict
		ok, err := e.IsLiquidatable(long, v("0.5"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("BelowMaintenance", func(t *testing.T) {
		ok, err := e.IsLiquidatable(long, v("0.4"))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ShortAbove", func(t *testing.T) {
		short := createTestPosition(t, position.SHORT)
		ok, err := e.IsLiquidatable(short, v("19.6"))
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestPartialLiquidationEligibility(t *testing.T) {
	long := createTestPosition(t, position.LONG)

	t.Run("Eligible", func(t *testing.T) {
		ok, err := testEvaluator(t, "0").IsPartialLiquidationEligible(long, v("0.4"))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("NotLiquidatable", func(t *testing.T) {
		ok, err := testEvaluator(t, "0").IsPartialLiquidationEligible(long, v("10"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("BelowFloor", func(t *testing.T) {
		ok, err := testEvaluator(t, "5000").IsPartialLiquidationEligible(long, v("0.4"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("CannotPayFee", func(t *testing.T) {
		// ratio 0.01 is not above the liquidation fee
		ok, err := testEvaluator(t, "0").IsPartialLiquidationEligible(long, v("0.1"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ZeroMargin", func(t *testing.T) {
		p := long
		p.Status = position.PositionLiquidating
		p.Margin = fixedpoint.Zero()
		ok, err := testEvaluator(t, "0").IsPartialLiquidationEligible(p, v("10"))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestLiquidationPrice(t *testing.T) {
	e := testEvaluator(t, "0")

	price, err := e.LiquidationPrice(createTestPosition(t, position.LONG))
	require.NoError(t, err)
	assert.Equal(t, "0.5", prec.Format(price))

	price, err = e.LiquidationPrice(createTestPosition(t, position.SHORT))
	require.NoError(t, err)
	assert.Equal(t, "19.5", prec.Format(price))

	t.Run("OvercollateralizedLong", func(t *testing.T) {
		p := createTestPosition(t, position.LONG)
		p.Margin = v("2000")
		price, err := e.LiquidationPrice(p)
		require.NoError(t, err)
		assert.True(t, price.IsZero())
	})
}

func TestFundingPayment(t *testing.T) {
	e := testEvaluator(t, "0")
	long := createTestPosition(t, position.LONG)
	short := createTestPosition(t, position.SHORT)

	owed, err := e.FundingPayment(long, v("0.5"))
	require.NoError(t, err)
	assert.Equal(t, "50", prec.Format(owed))

	owed, err = e.FundingPayment(short, v("0.5"))
	require.NoError(t, err)
	assert.Equal(t, "-50", prec.Format(owed))

	long.LastUpdatedPremiumFraction = v("0.5")
	owed, err = e.FundingPayment(long, v("0.5"))
	require.NoError(t, err)
	assert.True(t, owed.IsZero())
}

func TestFreeCollateral(t *testing.T) {
	e := testEvaluator(t, "0")
	long := createTestPosition(t, position.LONG)

	free, err := e.FreeCollateral(long, v("10"))
	require.NoError(t, err)
	assert.Equal(t, "900", prec.Format(free))

	free, err = e.FreeCollateral(long, v("12"))
	require.NoError(t, err)
	assert.Equal(t, "1000", prec.Format(free))

	free, err = e.FreeCollateral(long, v("0.4"))
	require.NoError(t, err)
	assert.True(t, free.IsZero())
}

func TestAssessIsIdempotent(t *testing.T) {
	e := testEvaluator(t, "0")
	long := createTestPosition(t, position.LONG)

	first, err := e.Assess(long, v("0.4"))
	require.NoError(t, err)
	second, err := e.Assess(long, v("0.4"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, first.Liquidatable)
	assert.True(t, first.PartialEligible)
	assert.Equal(t, "-960", prec.Format(first.UnrealizedPnL))
	assert.Equal(t, "0.5", prec.Format(first.LiquidationPrice))
	assert.Equal(t, "1000", prec.Format(long.Margin))
}

func BenchmarkAssess(b *testing.B) {
	params := market.Params{
		InitialMarginRatio: decimal.RequireFromString("0.10"),
		MaintenanceRatio:   decimal.RequireFromString("0.05"),
		FundingPeriod:      time.Hour,
		Decimals:           18,
	}
	rp, _ := params.Scaled()
	e := NewEvaluator(rp)
	p, _ := position.New("T1", position.LONG, v("100"), v("1000"), v("1000"), fixedpoint.Zero(), 100)
	mark := v("9.5")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Assess(p, mark)
	}
}
