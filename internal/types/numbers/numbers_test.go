package numbers

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func Test_Numbers(t *testing.T) {
	t.Run("Should truncate to six places without rounding", func(t *testing.T) {
		assert.Equal(t, "1.234567", Truncate(d("1.2345679")).String())
		assert.Equal(t, "0.000001", Truncate(d("0.0000019")).String())
		assert.Equal(t, "0", Truncate(d("0.0000009")).String())
		assert.Equal(t, "100", Truncate(d("100")).String())
	})
	t.Run("Should convert reward to stake by dividing by the rate", func(t *testing.T) {
		out := ConvertRewardToStake(d("1.234567"), d("0.05"))
		assert.Equal(t, "24.69134", out.String())
		assert.True(t, out.Equal(d("24.691340")))
	})
	t.Run("Should never exceed the untruncated conversion", func(t *testing.T) {
		amount := d("10")
		rate := d("3")
		out := ConvertRewardToStake(amount, rate)
		assert.Equal(t, "3.333333", out.String())
		assert.True(t, out.LessThanOrEqual(amount.DivRound(rate, 30)))
	})
	t.Run("Should floor a quotient that sits just below a whole amount", func(t *testing.T) {
		amount := d("1000")
		rate := d("1000.000000000000000001")
		out := ConvertRewardToStake(amount, rate)
		assert.Equal(t, "0.999999", out.String())
		assert.True(t, out.Mul(rate).LessThanOrEqual(amount))
	})
	t.Run("Should convert stake to reward net of the fee", func(t *testing.T) {
		out := ConvertStakeToReward(d("10"), d("0.05"), d("0.05"))
		assert.Equal(t, "0.45", out.String())

		out = ConvertStakeToReward(d("1"), d("0.05"), d("0.05"))
		assert.True(t, out.IsZero())
	})
	t.Run("Should accrue one day at 72 percent apr", func(t *testing.T) {
		accrued := Accrue(d("100"), d("0.72"), 86400)
		assert.Equal(t, "0.19726", Truncate(accrued).String())
		assert.True(t, accrued.Mul(d("31536000")).LessThanOrEqual(d("100").Mul(d("0.72")).Mul(d("86400"))))
	})
	t.Run("Should not accrue over empty windows", func(t *testing.T) {
		assert.True(t, Accrue(d("100"), d("0.72"), 0).IsZero())
		assert.True(t, Accrue(d("0"), d("0.72"), 86400).IsZero())
	})
	t.Run("Should parse and format ledger amounts", func(t *testing.T) {
		v, err := ParseAmount("12.3456789")
		assert.Nil(t, err)
		assert.Equal(t, "12.345678", FormatAmount(v))

		_, err = ParseAmount("abc")
		assert.NotNil(t, err)
	})
}
