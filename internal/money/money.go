// Package money converts amounts between decimal units and integer subunits
// using each currency's ISO 4217 precision.
//
// All rounding in this package is half-up (away from zero for .5).
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrUnknownCurrency = errors.New("unknown currency")
)

var maxSubunit = decimal.NewFromInt(math.MaxInt64)

func lookup(code string) (currency.Unit, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	// ParseISO maps the "no currency" code XXX to the zero Unit
	if err != nil || unit == (currency.Unit{}) {
		return currency.Unit{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return unit, nil
}

// ParseCurrency validates an ISO 4217 code and returns it upper-cased
func ParseCurrency(code string) (string, error) {
	unit, err := lookup(code)
	if err != nil {
		return "", err
	}
	return unit.String(), nil
}

// Precision returns the number of decimal places used by a currency
func Precision(code string) (int32, error) {
	unit, err := lookup(code)
	if err != nil {
		return 0, err
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale), nil
}

// ToSubunit converts a unit amount to the currency's smallest denomination.
// Amounts below half a subunit round to zero.
func ToSubunit(amount decimal.Decimal, code string) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount)
	}
	precision, err := Precision(code)
	if err != nil {
		return 0, err
	}

	subunits := amount.Shift(precision).Round(0)
	if subunits.GreaterThan(maxSubunit) {
		return 0, fmt.Errorf("%w: %s overflows %s subunits", ErrInvalidAmount, amount, code)
	}
	return subunits.IntPart(), nil
}

// ToUnit converts subunits back to a unit amount
func ToUnit(subunit int64, code string) (decimal.Decimal, error) {
	if subunit < 0 {
		return decimal.Zero, fmt.Errorf("%w: %d is negative", ErrInvalidAmount, subunit)
	}
	precision, err := Precision(code)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(subunit, -precision), nil
}

// Normalize quantizes amount to the currency's precision.
//
// Normalize is lossy and intended for display and test data. Totals that
// must balance should go through ToSubunit and ToUnit instead.
func Normalize(amount decimal.Decimal, code string) (decimal.Decimal, error) {
	precision, err := Precision(code)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Round(precision), nil
}

// Format renders amount with exactly the currency's number of places
func Format(amount decimal.Decimal, code string) (string, error) {
	precision, err := Precision(code)
	if err != nil {
		return "", err
	}
	iso, _ := ParseCurrency(code)
	return fmt.Sprintf("%s %s", amount.StringFixed(precision), iso), nil
}

// Parse reads a decimal amount from its string form
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}
