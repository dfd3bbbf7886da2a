package position

import (
	"testing"

	"frizo/margin_ledger/internal/fixedpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var prec = fixedpoint.MustPrecision(18)

func v(s string) fixedpoint.Value {
	return prec.MustParse(s)
}

// Test helpers
func createTestPosition(t *testing.T, trader string, side PositionSide) Position {
	t.Helper()
	p, err := New(trader, side, v("100"), v("1000"), v("1000"), fixedpoint.Zero(), 100)
	require.NoError(t, err)
	return p
}

func TestNewPosition(t *testing.T) {
	t.Run("Long", func(t *testing.T) {
		p := createTestPosition(t, "user1", LONG)

		assert.Equal(t, "user1", p.Trader)
		assert.Equal(t, LONG, p.Side())
		assert.True(t, p.IsLong())
		assert.Equal(t, "100", prec.Format(p.Size))
		assert.Equal(t, PositionNormal, p.Status)
		assert.Equal(t, uint64(100), p.OpenedAt)
		assert.Equal(t, uint64(100), p.UpdatedAt)
	})

	t.Run("ShortStoresNegativeSize", func(t *testing.T) {
		p := createTestPosition(t, "user1", SHORT)

		assert.Equal(t, SHORT, p.Side())
		assert.Equal(t, "-100", prec.Format(p.Size))
		assert.Equal(t, "100", prec.Format(p.AbsSize()))
	})

	t.Run("Invalid", func(t *testing.T) {
		cases := map[string]func() (Position, error){
			"ZeroSize": func() (Position, error) {
				return New("u", LONG, fixedpoint.Zero(), v("1"), v("1"), fixedpoint.Zero(), 0)
			},
			"ZeroMargin": func() (Position, error) {
				return New("u", LONG, v("1"), fixedpoint.Zero(), v("1"), fixedpoint.Zero(), 0)
			},
			"ZeroNotional": func() (Position, error) {
				return New("u", LONG, v("1"), v("1"), fixedpoint.Zero(), fixedpoint.Zero(), 0)
			},
			"SignedSize": func() (Position, error) {
				return New("u", LONG, v("-1"), v("1"), v("1"), fixedpoint.Zero(), 0)
			},
			"UnknownSide": func() (Position, error) {
				return New("u", PositionSide(0), v("1"), v("1"), v("1"), fixedpoint.Zero(), 0)
			},
			"NoTrader": func() (Position, error) {
				return New("", LONG, v("1"), v("1"), v("1"), fixedpoint.Zero(), 0)
			},
		}
		for name, build := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := build()
				assert.ErrorIs(t, err, ErrInvalidPosition)
			})
		}
	})
}

func TestValidateZeroMarginWhileLiquidating(t *testing.T) {
	p := createTestPosition(t, "user1", LONG)
	p.Margin = fixedpoint.Zero()
	assert.ErrorIs(t, p.Validate(), ErrInvalidPosition)

	p.Status = PositionLiquidating
	assert.NoError(t, p.Validate())
}

func TestTouchedIsMonotonic(t *testing.T) {
	p := createTestPosition(t, "user1", LONG)

	p = p.Touched(200)
	assert.Equal(t, uint64(200), p.UpdatedAt)

	p = p.Touched(150)
	assert.Equal(t, uint64(200), p.UpdatedAt)
}

func TestParseSide(t *testing.T) {
	side, ok := ParseSide("buy")
	assert.True(t, ok)
	assert.Equal(t, LONG, side)

	side, ok = ParseSide("short")
	assert.True(t, ok)
	assert.Equal(t, SHORT, side)

	_, ok = ParseSide("sideways")
	assert.False(t, ok)
	assert.Equal(t, "unknown", PositionSide(0).String())
}
