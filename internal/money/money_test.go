package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	m, err := Parse("1180.005", "INR")
	require.NoError(t, err)
	assert.Equal(t, "1180.00", m.Round().String())
}

func TestScaleTable(t *testing.T) {
	assert.Equal(t, int32(2), Scale("USD"))
	assert.Equal(t, int32(2), Scale("INR"))
	assert.Equal(t, int32(0), Scale("JPY"))
	assert.Equal(t, int32(2), Scale("XXX_UNKNOWN"))
}

func TestHalfEvenRounding(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"10.125", "10.12"},
		{"10.135", "10.14"},
		{"10.005", "10.00"},
		{"10.015", "10.02"},
	}
	for _, c := range cases {
		m, err := Parse(c.in, "USD")
		require.NoError(t, err)
		assert.Equal(t, c.want, m.Round().String(), "rounding %s", c.in)
	}
}

func TestAddSubRequireSameCurrency(t *testing.T) {
	a := FromInt(10, "USD")
	b := FromInt(5, "USD")
	assert.Equal(t, "15.00", a.Add(b).String())
	assert.Equal(t, "5.00", a.Sub(b).String())

	c := FromInt(5, "EUR")
	assert.Panics(t, func() { a.Add(c) })
	assert.Panics(t, func() { a.Cmp(c) })
}

func TestDivDecimalByZero(t *testing.T) {
	m := FromInt(10, "USD")
	_, err := m.DivDecimal(decimal.Zero)
	require.Error(t, err)
}

func TestMulDivRoundTrip(t *testing.T) {
	m := FromInt(100, "USD")
	divided, err := m.DivDecimal(decimal.NewFromInt(3))
	require.NoError(t, err)
	tripled := divided.MulDecimal(decimal.NewFromInt(3))
	assert.True(t, tripled.Round().Equal(FromInt(100, "USD")))
}

func TestMinMax(t *testing.T) {
	a := FromInt(10, "USD")
	b := FromInt(20, "USD")
	assert.True(t, Min(a, b).Equal(a))
	assert.True(t, Max(a, b).Equal(b))
}

func TestConvertedTo(t *testing.T) {
	usd := FromInt(10, "USD")
	inr := usd.ConvertedTo("INR", decimal.NewFromFloat(83.5))
	assert.Equal(t, "INR", inr.Currency())
	assert.Equal(t, "835.00", inr.Round().String())
}

func TestSignAndZero(t *testing.T) {
	z := Zero("USD")
	assert.True(t, z.IsZero())
	assert.Equal(t, 0, z.Sign())

	neg, err := Parse("-5.00", "USD")
	require.NoError(t, err)
	assert.True(t, neg.IsNegative())
	assert.Equal(t, -1, neg.Sign())
}
