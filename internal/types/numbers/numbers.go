package numbers

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of decimal places every ledger amount is truncated to.
const AmountPlaces = 6

// DivisionPrecision bounds the scale of intermediate quotients. Quotients are truncated at it, never rounded.
const DivisionPrecision = 18

var (
	secondsPerDay  = decimal.NewFromInt(86400)
	secondsPerYear = decimal.NewFromInt(365 * 86400)
)

// Truncate floors d to AmountPlaces decimal places. The result is never greater than d.
func Truncate(d decimal.Decimal) decimal.Decimal {
	return d.Shift(AmountPlaces).Floor().Shift(-AmountPlaces)
}

// ConvertRewardToStake converts an incoming reward-token amount to the stake token: floor(amount / rate).
func ConvertRewardToStake(amount decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	q, _ := amount.QuoRem(rate, AmountPlaces)
	return q
}

// ConvertStakeToReward converts an incoming stake-token amount to the reward token: floor(amount * rate - fee).
func ConvertStakeToReward(amount decimal.Decimal, rate decimal.Decimal, fee decimal.Decimal) decimal.Decimal {
	return Truncate(amount.Mul(rate).Sub(fee))
}

// Accrue returns principal * apr * seconds / (365 * 86400), cut at DivisionPrecision places.
func Accrue(principal decimal.Decimal, apr decimal.Decimal, seconds int64) decimal.Decimal {
	if seconds <= 0 || !principal.IsPositive() {
		return decimal.Zero
	}
	q, _ := principal.Mul(apr).Mul(decimal.NewFromInt(seconds)).QuoRem(secondsPerYear, DivisionPrecision)
	return q
}

func DaysToSeconds(days int) decimal.Decimal {
	return decimal.NewFromInt(int64(days)).Mul(secondsPerDay)
}

// ParseAmount parses a ledger amount string and truncates it.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount '%s': %w", s, err)
	}
	return Truncate(d), nil
}

// FormatAmount renders d with at most AmountPlaces places and no trailing zeros, as the ledger expects.
func FormatAmount(d decimal.Decimal) string {
	return Truncate(d).String()
}
