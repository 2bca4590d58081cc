package pricing

import (
	"testing"

	"kasirpos/backend/internal/domain"
)

func cartLines() []domain.CartItem {
	return []domain.CartItem{
		{LineID: "line-1", ProductID: "prd-1", Title: "Susu UHT 1L", UnitPriceCents: 15000, Qty: 2},
	}
}

func TestComputeCashWithChange(t *testing.T) {
	q := Compute(cartLines(), 5000, domain.PaymentMethodCash, 30000)

	if q.SubtotalCents != 30000 {
		t.Fatalf("subtotal = %d, want 30000", q.SubtotalCents)
	}
	if q.PayableCents != 25000 {
		t.Fatalf("payable = %d, want 25000", q.PayableCents)
	}
	if q.ChangeCents != 5000 {
		t.Fatalf("change = %d, want 5000", q.ChangeCents)
	}
	if q.RemainingCents != 0 {
		t.Fatalf("remaining = %d, want 0", q.RemainingCents)
	}
}

func TestComputeCashShort(t *testing.T) {
	q := Compute(cartLines(), 5000, domain.PaymentMethodCash, 20000)

	if q.RemainingCents != 5000 {
		t.Fatalf("remaining = %d, want 5000", q.RemainingCents)
	}
	if q.ChangeCents != 0 {
		t.Fatalf("change = %d, want 0 when cash is short", q.ChangeCents)
	}
}

func TestComputeDiscountClampsPayable(t *testing.T) {
	q := Compute(cartLines(), 99000, domain.PaymentMethodCash, 0)

	if q.PayableCents != 0 {
		t.Fatalf("payable = %d, want 0 when discount exceeds subtotal", q.PayableCents)
	}
	// The entered discount is preserved as-is; only the payable is clamped.
	if q.DiscountCents != 99000 {
		t.Fatalf("discount = %d, want 99000", q.DiscountCents)
	}
	if q.RemainingCents != 0 {
		t.Fatalf("remaining = %d, want 0 for a zero payable", q.RemainingCents)
	}
}

func TestComputeNonCashForcesExactTender(t *testing.T) {
	q := Compute(cartLines(), 0, "qris", 999999)

	if q.CashReceivedCents != q.PayableCents {
		t.Fatalf("cash received = %d, want payable %d", q.CashReceivedCents, q.PayableCents)
	}
	if q.ChangeCents != 0 || q.RemainingCents != 0 {
		t.Fatalf("non-cash quote must have zero change (%d) and remaining (%d)", q.ChangeCents, q.RemainingCents)
	}
}

func TestComputeEmptyCart(t *testing.T) {
	q := Compute(nil, 0, domain.PaymentMethodCash, 0)
	if q.SubtotalCents != 0 || q.PayableCents != 0 {
		t.Fatalf("empty cart quote should be all zeros, got %+v", q)
	}
}

func TestLineProfit(t *testing.T) {
	if got := LineProfit(15000, 11000, 3); got != 12000 {
		t.Fatalf("profit = %d, want 12000", got)
	}
}
