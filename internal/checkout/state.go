package checkout

import (
	"fmt"

	"kasirpos/backend/internal/domain"
	"kasirpos/backend/internal/money"
	"kasirpos/backend/internal/pricing"
)

// Cart lifecycle states as reported in CartView. There is no stored state
// field anywhere; the state is derived from the cart contents and the
// submit guards on every read.
const (
	StateEmpty      = "empty"
	StateBuilding   = "building"
	StateReadyToPay = "ready_to_pay"
	StateSubmitting = "submitting"
)

// Submit block reason codes, in the order the guards are evaluated.
const (
	BlockEmptyCart         = "empty_cart"
	BlockNoCustomer        = "no_customer"
	BlockInsufficientCash  = "insufficient_cash"
	BlockAlreadySubmitting = "already_submitting"
)

// submitBlock evaluates the submit guards against a cart and quote.
// The first failing guard wins; a nil result means the sale may proceed.
func submitBlock(cart domain.Cart, q pricing.Quote, submitting bool) *domain.SubmitBlock {
	if len(cart.Items) == 0 {
		return &domain.SubmitBlock{Reason: BlockEmptyCart, Message: "cart is empty"}
	}
	if cart.CustomerID == "" {
		return &domain.SubmitBlock{Reason: BlockNoCustomer, Message: "select a customer before payment"}
	}
	if cart.PaymentMethod == domain.PaymentMethodCash && q.RemainingCents > 0 {
		return &domain.SubmitBlock{
			Reason:         BlockInsufficientCash,
			Message:        fmt.Sprintf("cash received is short by %s", money.FormatIDR(q.RemainingCents)),
			ShortfallCents: q.RemainingCents,
		}
	}
	if submitting {
		return &domain.SubmitBlock{Reason: BlockAlreadySubmitting, Message: "checkout already in progress"}
	}
	return nil
}

func stateOf(cart domain.Cart, block *domain.SubmitBlock, submitting bool) string {
	switch {
	case submitting:
		return StateSubmitting
	case len(cart.Items) == 0:
		return StateEmpty
	case block == nil:
		return StateReadyToPay
	default:
		return StateBuilding
	}
}
