package domain

import "time"

// Payment methods. Cash is handled entirely in-store; every other method is
// routed through a registered payment gateway and settles asynchronously.
const (
	PaymentMethodCash = "cash"
)

// Payment statuses for a finalized sale.
const (
	PaymentStatusPaid    = "paid"
	PaymentStatusPending = "pending"
	PaymentStatusFailed  = "failed"
	PaymentStatusExpired = "expired"
)

// Product is the catalog read model used by the register. Prices are stored
// in minor currency units.
type Product struct {
	ID             string `json:"id"`
	Barcode        string `json:"barcode"`
	Title          string `json:"title"`
	Category       string `json:"category"`
	SellPriceCents int64  `json:"sell_price_cents"`
	BuyPriceCents  int64  `json:"buy_price_cents"`
	Stock          int    `json:"stock"`
	Active         bool   `json:"active"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CartItem is a cart line. UnitPriceCents is snapshotted from the catalog at
// the moment the line is added and never re-read afterwards.
type CartItem struct {
	LineID         string `json:"line_id"`
	ProductID      string `json:"product_id"`
	Barcode        string `json:"barcode,omitempty"`
	Title          string `json:"title"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
}

// Cart is the in-progress sale for a single cashier.
type Cart struct {
	CashierID     string     `json:"cashier_id"`
	Items         []CartItem `json:"items"`
	DiscountCents int64      `json:"discount_cents"`
	CustomerID    string     `json:"customer_id,omitempty"`
	PaymentMethod string     `json:"payment_method"`
}

// HeldCart is a parked cart waiting to be resumed at the same register.
type HeldCart struct {
	ID         string    `json:"id"`
	CashierID  string    `json:"cashier_id"`
	Label      string    `json:"label"`
	Cart       Cart      `json:"cart"`
	TotalCents int64     `json:"total_cents"`
	CreatedAt  time.Time `json:"created_at"`
}

// HeldCartSummary is the listing row shown in the held-transactions drawer.
type HeldCartSummary struct {
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	ItemCount  int       `json:"item_count"`
	TotalCents int64     `json:"total_cents"`
	CreatedAt  time.Time `json:"created_at"`
}

// TransactionLine is an immutable copy of a cart line at finalize time.
// ProfitCents is (unit sell price - buy price) * qty, filled by the store
// from the authoritative buy price during the sale transaction.
type TransactionLine struct {
	ProductID      string `json:"product_id"`
	Title          string `json:"title"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
	LineTotalCents int64  `json:"line_total_cents"`
	ProfitCents    int64  `json:"profit_cents"`
}

// Transaction is a finalized sale.
type Transaction struct {
	Invoice           string            `json:"invoice"`
	CashierID         string            `json:"cashier_id"`
	CustomerID        string            `json:"customer_id"`
	Lines             []TransactionLine `json:"lines"`
	SubtotalCents     int64             `json:"subtotal_cents"`
	DiscountCents     int64             `json:"discount_cents"`
	GrandTotalCents   int64             `json:"grand_total_cents"`
	PaymentMethod     string            `json:"payment_method"`
	CashReceivedCents int64             `json:"cash_received_cents"`
	ChangeCents       int64             `json:"change_cents"`
	ProfitCents       int64             `json:"profit_cents"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentURL        string            `json:"payment_url,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// CartLineView mirrors CartItem with the derived line total included.
type CartLineView struct {
	LineID         string `json:"line_id"`
	ProductID      string `json:"product_id"`
	Title          string `json:"title"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
	LineTotalCents int64  `json:"line_total_cents"`
}

// SubmitBlock explains why the pay button is disabled. Reason is a stable
// machine-readable code; Message is display text for the cashier.
type SubmitBlock struct {
	Reason         string `json:"reason"`
	Message        string `json:"message"`
	ShortfallCents int64  `json:"shortfall_cents,omitempty"`
}

// CartView is the read model returned by every cart mutation. All money
// fields are derived; the view is recomputed on each request, never stored.
type CartView struct {
	State             string         `json:"state"`
	Lines             []CartLineView `json:"lines"`
	ItemCount         int            `json:"item_count"`
	SubtotalCents     int64          `json:"subtotal_cents"`
	DiscountCents     int64          `json:"discount_cents"`
	PayableCents      int64          `json:"payable_cents"`
	CashReceivedCents int64          `json:"cash_received_cents"`
	ChangeCents       int64          `json:"change_cents"`
	RemainingCents    int64          `json:"remaining_cents"`
	CustomerID        string         `json:"customer_id,omitempty"`
	PaymentMethod     string         `json:"payment_method"`
	Block             *SubmitBlock   `json:"block,omitempty"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Actor is the authenticated principal attached to a request context.
type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// AddItemRequest accepts either a resolved product id or a raw code from the
// scan/search box. Qty defaults to 1 when omitted.
type AddItemRequest struct {
	ProductID string `json:"product_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Qty       int    `json:"qty,omitempty"`
}

type UpdateQtyRequest struct {
	Qty int `json:"qty"`
}

type DiscountRequest struct {
	DiscountCents int64 `json:"discount_cents"`
}

type CustomerRequest struct {
	CustomerID string `json:"customer_id"`
}

type PaymentMethodRequest struct {
	Method string `json:"method"`
}

type HoldRequest struct {
	Label string `json:"label,omitempty"`
}

type SubmitRequest struct {
	CashReceivedCents int64 `json:"cash_received_cents"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// PaymentCallbackRequest is posted by a payment gateway when an async
// payment settles, fails, or expires.
type PaymentCallbackRequest struct {
	Invoice string `json:"invoice"`
	Status  string `json:"status"`
}
