package domain

import "github.com/shopspring/decimal"

const DefaultCurrency = "INR"

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount (rupees) into integer minor units (paise).
// Amounts with sub-paise precision or negative amounts are rejected.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, Validationf("amount %s must not be negative", amount.String())
	}
	minor := amount.Mul(hundred)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, Validationf("amount %s has more than two decimal places", amount.String())
	}
	return minor.IntPart(), nil
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// RoundMoney rounds half away from zero to two places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// IsMoneyPrecision reports whether d has at most two decimal places.
func IsMoneyPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}
