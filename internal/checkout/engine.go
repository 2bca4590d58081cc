// Package checkout is the register's cart engine. Each cashier owns exactly
// one active cart, kept in process memory; holds and finalized sales go
// through the repository. All money figures are derived on demand by the
// pricing package and never stored on the cart.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"kasirpos/backend/internal/catalog"
	"kasirpos/backend/internal/domain"
	"kasirpos/backend/internal/invoice"
	"kasirpos/backend/internal/payment"
	"kasirpos/backend/internal/pricing"
	"kasirpos/backend/internal/store"
	"kasirpos/backend/internal/xid"
)

const defaultGatewayTimeout = 5 * time.Second

type Engine struct {
	mu       sync.Mutex
	sessions map[string]*session

	repo           store.Repository
	catalog        catalog.Gateway
	payments       *payment.Registry
	gatewayTimeout time.Duration
}

// session is one cashier's register slot. Its mutex serializes every cart
// mutation for that cashier; the engine-level mutex only guards the slot map.
type session struct {
	mu         sync.Mutex
	cart       domain.Cart
	submitting bool
}

func New(repo store.Repository, gw catalog.Gateway, payments *payment.Registry, gatewayTimeout time.Duration) *Engine {
	if gatewayTimeout <= 0 {
		gatewayTimeout = defaultGatewayTimeout
	}
	return &Engine{
		sessions:       make(map[string]*session),
		repo:           repo,
		catalog:        gw,
		payments:       payments,
		gatewayTimeout: gatewayTimeout,
	}
}

// session returns the cashier's slot, creating an empty cart on first use.
func (e *Engine) session(cashierID string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[cashierID]
	if !ok {
		s = &session{cart: emptyCart(cashierID)}
		e.sessions[cashierID] = s
	}
	return s
}

func emptyCart(cashierID string) domain.Cart {
	return domain.Cart{
		CashierID:     cashierID,
		Items:         []domain.CartItem{},
		PaymentMethod: domain.PaymentMethodCash,
	}
}

// View renders the cart with the submit guards evaluated against the cash
// amount currently entered on the register.
func (e *Engine) View(cashierID string, cashReceivedCents int64) domain.CartView {
	s := e.session(cashierID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.view(s, cashReceivedCents)
}

// view builds the read model. Callers must hold s.mu.
func (e *Engine) view(s *session, cashReceivedCents int64) domain.CartView {
	q := pricing.Compute(s.cart.Items, s.cart.DiscountCents, s.cart.PaymentMethod, cashReceivedCents)
	block := submitBlock(s.cart, q, s.submitting)

	lines := make([]domain.CartLineView, 0, len(s.cart.Items))
	itemCount := 0
	for _, item := range s.cart.Items {
		lines = append(lines, domain.CartLineView{
			LineID:         item.LineID,
			ProductID:      item.ProductID,
			Title:          item.Title,
			UnitPriceCents: item.UnitPriceCents,
			Qty:            item.Qty,
			LineTotalCents: item.UnitPriceCents * int64(item.Qty),
		})
		itemCount += item.Qty
	}

	return domain.CartView{
		State:             stateOf(s.cart, block, s.submitting),
		Lines:             lines,
		ItemCount:         itemCount,
		SubtotalCents:     q.SubtotalCents,
		DiscountCents:     q.DiscountCents,
		PayableCents:      q.PayableCents,
		CashReceivedCents: q.CashReceivedCents,
		ChangeCents:       q.ChangeCents,
		RemainingCents:    q.RemainingCents,
		CustomerID:        s.cart.CustomerID,
		PaymentMethod:     s.cart.PaymentMethod,
		Block:             block,
	}
}

// AddItem puts qty units of a product in the cart. A line already holding
// the product is merged; the unit price is snapshotted from the catalog on
// first add and left alone on merge.
func (e *Engine) AddItem(ctx context.Context, cashierID string, productID string, qty int) (domain.CartView, error) {
	if qty < 1 {
		return domain.CartView{}, ErrInvalidQuantity
	}

	product, err := e.lookupProduct(ctx, productID)
	if err != nil {
		return domain.CartView{}, err
	}

	s := e.session(cashierID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitting {
		return domain.CartView{}, ErrAlreadySubmitting
	}

	idx := slices.IndexFunc(s.cart.Items, func(item domain.CartItem) bool {
		return item.ProductID == productID
	})

	newQty := qty
	if idx >= 0 {
		newQty += s.cart.Items[idx].Qty
	}
	if newQty > product.Stock {
		return domain.CartView{}, fmt.Errorf("%w: only %d of %s available", ErrOutOfStock, product.Stock, product.Title)
	}

	if idx >= 0 {
		s.cart.Items[idx].Qty = newQty
	} else {
		s.cart.Items = append(s.cart.Items, domain.CartItem{
			LineID:         xid.New("line"),
			ProductID:      product.ID,
			Barcode:        product.Barcode,
			Title:          product.Title,
			UnitPriceCents: product.SellPriceCents,
			Qty:            qty,
		})
	}

	return e.view(s, 0), nil
}

// UpdateQty sets a line's quantity. Zero or negative is refused; removing a
// line is an explicit RemoveItem call. No stock check happens here: the
// cashier can dial any quantity and the authoritative check runs at finalize.
func (e *Engine) UpdateQty(cashierID string, lineID string, qty int) (domain.CartView, error) {
	if qty < 1 {
		return domain.CartView{}, ErrInvalidQuantity
	}

	s := e.session(cashierID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitting {
		return domain.CartView{}, ErrAlreadySubmitting
	}

	idx := slices.IndexFunc(s.cart.Items, func(item domain.CartItem) bool {
		return item.LineID == lineID
	})
	if idx < 0 {
		return domain.CartView{}, fmt.Errorf("cart line %s: %w", lineID, store.ErrNotFound)
	}

	s.cart.Items[idx].Qty = qty
	return e.view(s, 0), nil
}

func (e *Engine) RemoveItem(cashierID string, lineID string) (domain.CartView, error) {
	s := e.session(cashierID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitting {
		return domain.CartView{}, ErrAlreadySubmitting
	}

	idx := slices.IndexFunc(s.cart.Items, func(item domain.CartItem) bool {
		return item.LineID == lineID
	})
	if idx < 0 {
		return domain.CartView{}, fmt.Errorf("cart line %s: %w", lineID, store.ErrNotFound)
	}

	s.cart.Items = slices.Delete(s.cart.Items, idx, idx+1)
	return e.view(s, 0), nil
}

// SetDiscount stores a whole-cart discount. Oversized discounts are kept
// as entered; the payable total clamps at zero instead.
func (e *Engine) SetDiscount(cashierID string, discountCents int64) (domain.CartView, error) {
	if discountCents < 0 {
		return domain.CartView{}, ErrInvalidDiscount
	}

	s := e.session(cashierID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitting {
		return domain.CartView{}, ErrAlreadySubmitting
	}

	s.cart.DiscountCents = discountCents
	return e.view(s, 0), nil
}

func (e *Engine) SetCustomer(ctx context.Context, cashierID string, customerID string) (domain.CartView, error) {
	if _, err := e.repo.GetCustomer(ctx, customerID); err != nil {
		return domain.CartView{}, fmt.Errorf("customer %s: %w", customerID, err)
	}

	s := e.session(cashierID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitting {
		return domain.CartView{}, ErrAlreadySubmitting
	}

	s.cart.CustomerID = customerID
	return e.view(s, 0), nil
}

func (e *Engine) SetPaymentMethod(cashierID string, method string) (domain.CartView, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if !e.payments.Known(method) {
		return domain.CartView{}, fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, method)
	}

	s := e.session(cashierID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitting {
		return domain.CartView{}, ErrAlreadySubmitting
	}

	s.cart.PaymentMethod = method
	return e.view(s, 0), nil
}

// Clear abandons the active cart. Held carts are untouched.
func (e *Engine) Clear(cashierID string) (domain.CartView, error) {
	s := e.session(cashierID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitting {
		return domain.CartView{}, ErrAlreadySubmitting
	}

	s.cart = emptyCart(cashierID)
	return e.view(s, 0), nil
}

// Hold parks the active cart under a label and empties the register slot.
// If persisting the hold fails the cart stays as it was.
func (e *Engine) Hold(ctx context.Context, cashierID string, label string) (domain.HeldCartSummary, error) {
	s := e.session(cashierID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitting {
		return domain.HeldCartSummary{}, ErrAlreadySubmitting
	}
	if len(s.cart.Items) == 0 {
		return domain.HeldCartSummary{}, ErrEmptyCart
	}

	label = strings.TrimSpace(label)
	if label == "" {
		label = "Hold " + time.Now().Format("15:04")
	}

	q := pricing.Compute(s.cart.Items, s.cart.DiscountCents, s.cart.PaymentMethod, 0)
	held := domain.HeldCart{
		CashierID:  cashierID,
		Label:      label,
		Cart:       cloneCart(s.cart),
		TotalCents: q.PayableCents,
		CreatedAt:  time.Now().UTC(),
	}

	created, err := e.repo.CreateHeldCart(ctx, held)
	if err != nil {
		return domain.HeldCartSummary{}, fmt.Errorf("hold cart: %w", err)
	}

	s.cart = emptyCart(cashierID)
	return summarize(*created), nil
}

// Resume swaps a held cart back into the register slot. It refuses while
// the active cart still has items so half-built sales cannot be silently
// destroyed; the cashier must hold or clear first.
func (e *Engine) Resume(ctx context.Context, cashierID string, holdID string) (domain.CartView, error) {
	s := e.session(cashierID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitting {
		return domain.CartView{}, ErrAlreadySubmitting
	}
	if len(s.cart.Items) > 0 {
		return domain.CartView{}, ErrActiveCartExists
	}

	held, err := e.repo.PopHeldCart(ctx, cashierID, holdID)
	if err != nil {
		return domain.CartView{}, fmt.Errorf("resume hold %s: %w", holdID, err)
	}

	cart := cloneCart(held.Cart)
	cart.CashierID = cashierID
	if cart.PaymentMethod == "" {
		cart.PaymentMethod = domain.PaymentMethodCash
	}
	s.cart = cart
	return e.view(s, 0), nil
}

// Discard permanently deletes a held cart.
func (e *Engine) Discard(ctx context.Context, cashierID string, holdID string) error {
	if err := e.repo.DeleteHeldCart(ctx, cashierID, holdID); err != nil {
		return fmt.Errorf("discard hold %s: %w", holdID, err)
	}
	return nil
}

// ListHolds returns the cashier's parked carts, oldest first.
func (e *Engine) ListHolds(ctx context.Context, cashierID string) ([]domain.HeldCartSummary, error) {
	held, err := e.repo.ListHeldCarts(ctx, cashierID)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.HeldCartSummary, 0, len(held))
	for _, h := range held {
		summaries = append(summaries, summarize(h))
	}
	return summaries, nil
}

// Holds returns a restartable iterator over the cashier's parked carts.
// Every range over the sequence re-reads the repository, so a hold created
// between two passes shows up in the second. Repository errors end the
// sequence early and are logged.
func (e *Engine) Holds(ctx context.Context, cashierID string) iter.Seq[domain.HeldCartSummary] {
	return func(yield func(domain.HeldCartSummary) bool) {
		held, err := e.repo.ListHeldCarts(ctx, cashierID)
		if err != nil {
			log.Printf("[checkout] list holds for %s: %v", cashierID, err)
			return
		}
		for _, h := range held {
			if !yield(summarize(h)) {
				return
			}
		}
	}
}

// Submit runs the guard chain and finalizes the sale. The slot lock is
// released while the finalizer runs, but every mutating operation refuses
// with ErrAlreadySubmitting until it returns, so the cart handed to the
// finalizer is exactly the cart emptied on success. On failure the cart is
// left as it was so the cashier can correct and retry.
func (e *Engine) Submit(ctx context.Context, cashierID string, cashReceivedCents int64) (*domain.Transaction, error) {
	s := e.session(cashierID)

	s.mu.Lock()
	q := pricing.Compute(s.cart.Items, s.cart.DiscountCents, s.cart.PaymentMethod, cashReceivedCents)
	if block := submitBlock(s.cart, q, s.submitting); block != nil {
		s.mu.Unlock()
		return nil, blockError(block)
	}
	s.submitting = true
	cart := cloneCart(s.cart)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.submitting = false
		s.mu.Unlock()
	}()

	tx, err := e.finalize(ctx, cart, q)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cart = emptyCart(cashierID)
	s.mu.Unlock()

	return tx, nil
}

func blockError(block *domain.SubmitBlock) error {
	switch block.Reason {
	case BlockEmptyCart:
		return ErrEmptyCart
	case BlockNoCustomer:
		return ErrNoCustomer
	case BlockInsufficientCash:
		return &InsufficientCashError{ShortfallCents: block.ShortfallCents}
	default:
		return ErrAlreadySubmitting
	}
}

// finalize builds the immutable sale record and hands it to the repository,
// whose CreateSale performs the authoritative stock re-check atomically.
// For non-cash tenders the payment session is created first: a gateway
// failure then aborts before any stock has moved.
func (e *Engine) finalize(ctx context.Context, cart domain.Cart, q pricing.Quote) (*domain.Transaction, error) {
	now := time.Now().UTC()

	lines := make([]domain.TransactionLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		lines = append(lines, domain.TransactionLine{
			ProductID:      item.ProductID,
			Title:          item.Title,
			UnitPriceCents: item.UnitPriceCents,
			Qty:            item.Qty,
			LineTotalCents: item.UnitPriceCents * int64(item.Qty),
		})
	}

	tx := domain.Transaction{
		Invoice:           invoice.New(now),
		CashierID:         cart.CashierID,
		CustomerID:        cart.CustomerID,
		Lines:             lines,
		SubtotalCents:     q.SubtotalCents,
		DiscountCents:     q.DiscountCents,
		GrandTotalCents:   q.PayableCents,
		PaymentMethod:     cart.PaymentMethod,
		CashReceivedCents: q.CashReceivedCents,
		ChangeCents:       q.ChangeCents,
		PaymentStatus:     domain.PaymentStatusPaid,
		CreatedAt:         now,
	}

	if cart.PaymentMethod != domain.PaymentMethodCash {
		sessCtx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
		sess, err := e.payments.CreateSession(sessCtx, cart.PaymentMethod, tx)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrGatewayTimeout
		}
		if err != nil {
			return nil, fmt.Errorf("payment session: %w", err)
		}
		tx.PaymentURL = sess.URL
		tx.PaymentStatus = domain.PaymentStatusPending
	}

	created, err := e.repo.CreateSale(ctx, tx)
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (e *Engine) lookupProduct(ctx context.Context, productID string) (*domain.Product, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	defer cancel()

	product, err := e.catalog.GetProduct(lookupCtx, productID)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrGatewayTimeout
	}
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", productID, err)
	}
	return product, nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	copied := cart
	copied.Items = slices.Clone(cart.Items)
	return copied
}

func summarize(held domain.HeldCart) domain.HeldCartSummary {
	count := 0
	for _, item := range held.Cart.Items {
		count += item.Qty
	}
	return domain.HeldCartSummary{
		ID:         held.ID,
		Label:      held.Label,
		ItemCount:  count,
		TotalCents: held.TotalCents,
		CreatedAt:  held.CreatedAt,
	}
}
