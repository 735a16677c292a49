package credit

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverter_ToCredits(t *testing.T) {
	c := DefaultConverter()
	tests := []struct {
		price string
		want  int64
	}{
		{"0", 0},
		{"0.167", 51},
		{"0.04", 12},
		{"0.02", 6},
		{"0.0035", 2},
		{"0.133", 40},
		{"0.25", 75},
		{"0.00001", 1},
	}
	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			got, err := c.ToCredits(decimal.RequireFromString(tt.price))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConverter_NegativePrice(t *testing.T) {
	_, err := DefaultConverter().ToCredits(decimal.RequireFromString("-0.01"))
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestConverter_NeverUndercharges(t *testing.T) {
	c := DefaultConverter()
	step := decimal.RequireFromString("0.0007")
	price := decimal.Zero
	var prev int64
	for i := 0; i < 2000; i++ {
		got, err := c.ToCredits(price)
		require.NoError(t, err)

		exact := price.Mul(c.Markup()).Div(c.UnitValue())
		assert.True(t, decimal.NewFromInt(got).GreaterThanOrEqual(exact), "price %s", price)
		assert.True(t, decimal.NewFromInt(got).Sub(exact).LessThan(decimal.NewFromInt(1)), "price %s", price)
		assert.GreaterOrEqual(t, got, prev, "price %s", price)

		prev = got
		price = price.Add(step)
	}
}

func TestNewConverter(t *testing.T) {
	_, err := NewConverter(decimal.Zero, DefaultUnitValue)
	assert.Error(t, err)
	_, err = NewConverter(DefaultMarkup, decimal.NewFromInt(-1))
	assert.Error(t, err)

	c, err := NewConverter(decimal.NewFromInt(2), decimal.RequireFromString("0.05"))
	require.NoError(t, err)
	got, err := c.ToCredits(decimal.RequireFromString("0.06"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
}
