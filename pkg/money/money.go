// Package money parses decimal price strings and formats amounts for display.
// Monetary arithmetic never goes through float64.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount indicates a price string that is not a decimal number.
var ErrInvalidAmount = errors.New("invalid amount")

// Scale is the number of minor-unit digits kept for display and comparison.
const Scale = 2

// Parse converts a backend price string into a decimal.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// LineTotal returns quantity x price.
func LineTotal(price string, quantity int) (decimal.Decimal, error) {
	d, err := Parse(price)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Mul(decimal.NewFromInt(int64(quantity))), nil
}

// String renders d with exactly two fractional digits, e.g. "30000.00".
func String(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// FormatIDR renders d the way the storefront shows prices: "Rp 30.000,00".
func FormatIDR(d decimal.Decimal) string {
	fixed := d.StringFixed(Scale)
	neg := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")

	intPart, frac, _ := strings.Cut(fixed, ".")
	var b strings.Builder
	if neg {
		b.WriteString("-")
	}
	b.WriteString("Rp ")
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	b.WriteByte(',')
	b.WriteString(frac)
	return b.String()
}

// FormatPrice parses and formats a backend price string, falling back to the
// raw string when it does not parse.
func FormatPrice(price string) string {
	d, err := Parse(price)
	if err != nil {
		return price
	}
	return FormatIDR(d)
}
