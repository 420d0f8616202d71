// Package money provides fixed-scale decimal arithmetic for monetary amounts.
package money

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every amount is kept at.
const Scale int32 = 2

// ErrInvalidAmount indicates a non-finite, unparsable or out-of-range amount.
var ErrInvalidAmount = errors.New("invalid amount")

var hundred = decimal.NewFromInt(100)

// Zero is the canonical zero amount.
func Zero() decimal.Decimal {
	return decimal.Zero.Round(Scale)
}

// Round rounds half away from zero to the canonical scale.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Scale)
}

// Add returns a+b at the canonical scale.
func Add(a, b decimal.Decimal) decimal.Decimal {
	return Round(a.Add(b))
}

// Sub returns a-b at the canonical scale.
func Sub(a, b decimal.Decimal) decimal.Decimal {
	return Round(a.Sub(b))
}

// Multiply returns amount*rate rounded to the canonical scale.
func Multiply(amount, rate decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(rate))
}

// Percent returns round(amount * pct / 100).
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// Sum adds already rounded amounts without re-rounding intermediate results.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// FromFloat converts a float into a canonical amount. NaN and infinities are rejected.
func FromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrInvalidAmount, f)
	}
	return Round(decimal.NewFromFloat(f)), nil
}

// Parse reads a decimal string into a canonical amount.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Round(d), nil
}

// RequireNonNegative fails with ErrInvalidAmount when amount < 0.
func RequireNonNegative(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount.StringFixed(Scale))
	}
	return nil
}

// RequirePositive fails with ErrInvalidAmount when amount <= 0.
func RequirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, amount.StringFixed(Scale))
	}
	return nil
}
