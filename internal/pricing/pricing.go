// Package pricing computes cart totals. It is a pure function of the cart
// lines and the payment inputs so the register, the submit guards, and the
// store-side revalidation all agree on the same numbers.
package pricing

import (
	"kasirpos/backend/internal/domain"
	"kasirpos/backend/internal/money"
)

// Quote is the derived money summary for a cart at a point in time.
type Quote struct {
	SubtotalCents     int64
	DiscountCents     int64
	PayableCents      int64
	CashReceivedCents int64
	ChangeCents       int64
	RemainingCents    int64
}

// Compute derives the full quote for a cart. For cash payments the received
// amount is whatever the cashier typed; change and remaining are mutually
// exclusive (at most one is non-zero). For gateway payments the received
// amount is forced to the payable total and there is never change.
func Compute(items []domain.CartItem, discountCents int64, method string, cashReceivedCents int64) Quote {
	var subtotal int64
	for _, item := range items {
		subtotal += money.LineTotal(item.UnitPriceCents, item.Qty)
	}

	payable := money.ClampNonNegative(subtotal - discountCents)

	q := Quote{
		SubtotalCents: subtotal,
		DiscountCents: discountCents,
		PayableCents:  payable,
	}

	if method == domain.PaymentMethodCash {
		q.CashReceivedCents = cashReceivedCents
		q.ChangeCents = money.ClampNonNegative(cashReceivedCents - payable)
		q.RemainingCents = money.ClampNonNegative(payable - cashReceivedCents)
		return q
	}

	q.CashReceivedCents = payable
	return q
}

// LineProfit is the margin earned on one transaction line.
func LineProfit(unitPriceCents, buyPriceCents int64, qty int) int64 {
	return (unitPriceCents - buyPriceCents) * int64(qty)
}
