package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrAmountNotPositive is returned for zero or negative transfer amounts.
var ErrAmountNotPositive = errors.New("amount must be positive")

// ToSmallestUnit converts a human-readable decimal amount string into an
// integer string scaled by the asset's decimal precision. The conversion is
// exact string-based scaling; it never goes through floating point, so
// re-parsing the result is idempotent. Amounts with more fractional digits
// than the asset supports are rejected rather than rounded.
func ToSmallestUnit(amount string, decimals int) (string, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return "", errors.New("amount is required")
	}

	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse amount %q: %w", trimmed, err)
	}
	if !d.IsPositive() {
		return "", ErrAmountNotPositive
	}
	if int(-d.Exponent()) > decimals {
		return "", fmt.Errorf("amount %q exceeds %d decimal places", trimmed, decimals)
	}

	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return "", fmt.Errorf("amount %q does not scale to an integer at %d decimals", trimmed, decimals)
	}
	return scaled.String(), nil
}

// FromSmallestUnit renders a smallest-unit integer string back into a
// human-readable decimal amount. Used only for display; bookkeeping always
// stays in smallest units.
func FromSmallestUnit(amount string, decimals int) (string, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return "", fmt.Errorf("parse smallest-unit amount %q: %w", amount, err)
	}
	if !d.IsInteger() {
		return "", fmt.Errorf("smallest-unit amount %q is not an integer", amount)
	}
	return d.Shift(int32(-decimals)).String(), nil
}

// SumAmounts adds smallest-unit integer strings exactly.
func SumAmounts(amounts []string) (string, error) {
	total := decimal.Zero
	for _, a := range amounts {
		d, err := decimal.NewFromString(strings.TrimSpace(a))
		if err != nil {
			return "", fmt.Errorf("parse amount %q: %w", a, err)
		}
		total = total.Add(d)
	}
	return total.String(), nil
}
