package checkout

import (
	"errors"
	"fmt"

	"kasirpos/backend/internal/money"
)

var (
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrInvalidDiscount      = errors.New("discount must not be negative")
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
	ErrOutOfStock           = errors.New("not enough stock")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrNoCustomer           = errors.New("select a customer before payment")
	ErrAlreadySubmitting    = errors.New("checkout already in progress")
	ErrActiveCartExists     = errors.New("active cart must be empty before resuming a hold")
	ErrGatewayTimeout       = errors.New("gateway timed out")
)

// InsufficientCashError carries the exact shortfall so the register can tell
// the cashier how much more to collect.
type InsufficientCashError struct {
	ShortfallCents int64
}

func (e *InsufficientCashError) Error() string {
	return fmt.Sprintf("cash received is short by %s", money.FormatIDR(e.ShortfallCents))
}
