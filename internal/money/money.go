// Package money holds the integer arithmetic helpers for amounts expressed
// in minor currency units. Floats never touch a price anywhere in the
// backend; all rounding questions are avoided by staying in int64.
package money

import (
	"fmt"
	"strconv"
	"strings"
)

// LineTotal multiplies a unit price by a quantity.
func LineTotal(unitPriceCents int64, qty int) int64 {
	return unitPriceCents * int64(qty)
}

// ClampNonNegative floors a derived amount at zero. Used for payable totals
// where a discount may exceed the subtotal.
func ClampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// FormatIDR renders an amount as display text, e.g. 1500000 -> "Rp 1.500.000".
// Negative amounts keep the sign in front of the currency marker.
func FormatIDR(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	digits := strconv.FormatInt(cents, 10)

	var groups []string
	for len(digits) > 3 {
		groups = append([]string{digits[len(digits)-3:]}, groups...)
		digits = digits[:len(digits)-3]
	}
	groups = append([]string{digits}, groups...)

	return fmt.Sprintf("%sRp %s", sign, strings.Join(groups, "."))
}
