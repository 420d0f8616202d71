package money

import (
	"errors"
	"fmt"
	"strings"

	gomoney "github.com/Rhymond/go-money"
)

// DefaultCurrency is applied when an invoice does not name one.
const DefaultCurrency = "USD"

// ErrUnknownCurrency indicates an ISO-4217 code missing from the currency table.
var ErrUnknownCurrency = errors.New("unknown currency")

// NormalizeCurrency upper-cases the code, defaults it and checks it against the currency table.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = DefaultCurrency
	}
	if err := ValidateCurrency(code); err != nil {
		return "", err
	}
	return code, nil
}

// ValidateCurrency reports whether code is a known ISO-4217 currency.
func ValidateCurrency(code string) error {
	if gomoney.GetCurrency(code) == nil {
		return fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return nil
}
