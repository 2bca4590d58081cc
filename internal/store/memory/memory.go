package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirpos/backend/internal/domain"
	"kasirpos/backend/internal/pricing"
	"kasirpos/backend/internal/store"
	"kasirpos/backend/internal/xid"
)

// Store is the in-memory repository used for dev/demo mode and tests. All
// maps hold canonical copies; every read and write goes through clone
// helpers so callers can never mutate shared state.
type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	productByBarcode map[string]string
	customersByID    map[string]domain.Customer
	heldCartsByID    map[string]*domain.HeldCart
	salesByInvoice   map[string]*domain.Transaction
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial user accounts for dev/demo mode. Credentials
// are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD environment
// variables; hardcoded dev defaults are used with a warning when unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: "prd-mie-01", Barcode: "8991002101014", Title: "Mie Goreng Instan", Category: "grocery", SellPriceCents: 3500, BuyPriceCents: 2700, Stock: 120, Active: true},
		{ID: "prd-telur-01", Barcode: "8991002102011", Title: "Telur 10 Butir", Category: "grocery", SellPriceCents: 26500, BuyPriceCents: 23000, Stock: 40, Active: true},
		{ID: "prd-susu-01", Barcode: "8991002103018", Title: "Susu UHT 1L", Category: "dairy", SellPriceCents: 18900, BuyPriceCents: 13600, Stock: 60, Active: true},
		{ID: "prd-roti-01", Barcode: "8991002104015", Title: "Roti Tawar", Category: "bakery", SellPriceCents: 17800, BuyPriceCents: 12400, Stock: 25, Active: true},
		{ID: "prd-kopi-01", Barcode: "8991002105012", Title: "Kopi Sachet", Category: "beverage", SellPriceCents: 2600, BuyPriceCents: 1700, Stock: 200, Active: true},
		{ID: "prd-gula-01", Barcode: "8991002106019", Title: "Gula 1kg", Category: "grocery", SellPriceCents: 17400, BuyPriceCents: 15300, Stock: 55, Active: true},
		{ID: "prd-teh-01", Barcode: "8991002107016", Title: "Teh Celup", Category: "beverage", SellPriceCents: 9800, BuyPriceCents: 7200, Stock: 80, Active: true},
		{ID: "prd-air-01", Barcode: "8991002108013", Title: "Air Mineral 600ml", Category: "beverage", SellPriceCents: 3900, BuyPriceCents: 3200, Stock: 300, Active: true},
		{ID: "prd-keripik-01", Barcode: "8991002109010", Title: "Keripik Singkong", Category: "snack", SellPriceCents: 12800, BuyPriceCents: 8000, Stock: 45, Active: true},
		{ID: "prd-coklat-01", Barcode: "8991002110016", Title: "Coklat Batang", Category: "snack", SellPriceCents: 8600, BuyPriceCents: 5600, Stock: 70, Active: true},
		{ID: "prd-sabun-01", Barcode: "8991002111013", Title: "Sabun Mandi", Category: "household", SellPriceCents: 7400, BuyPriceCents: 5000, Stock: 90, Active: true},
		{ID: "prd-shampoo-01", Barcode: "8991002112010", Title: "Shampoo Sachet", Category: "household", SellPriceCents: 3200, BuyPriceCents: 2100, Stock: 150, Active: true},
	}

	now := time.Now().UTC()
	customers := []domain.Customer{
		{ID: "cst-umum", Name: "Umum", CreatedAt: now},
		{ID: "cst-budi", Name: "Budi Santoso", Phone: "081234567001", CreatedAt: now},
		{ID: "cst-siti", Name: "Siti Rahayu", Phone: "081234567002", CreatedAt: now},
	}

	productMap := make(map[string]domain.Product, len(products))
	byBarcode := make(map[string]string, len(products))
	for _, p := range products {
		productMap[p.ID] = p
		byBarcode[p.Barcode] = p.ID
	}
	customerMap := make(map[string]domain.Customer, len(customers))
	for _, c := range customers {
		customerMap[c.ID] = c
	}

	return &Store{
		products:         productMap,
		productByBarcode: byBarcode,
		customersByID:    customerMap,
		heldCartsByID:    make(map[string]*domain.HeldCart),
		salesByInvoice:   make(map[string]*domain.Transaction),
		usersByUsername:  seedUsers(),
	}
}

// NewEmpty returns a store without seed data. Tests use it when they need
// full control over the catalog.
func NewEmpty() *Store {
	return &Store{
		products:         make(map[string]domain.Product),
		productByBarcode: make(map[string]string),
		customersByID:    make(map[string]domain.Customer),
		heldCartsByID:    make(map[string]*domain.HeldCart),
		salesByInvoice:   make(map[string]*domain.Transaction),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// PutProduct inserts or replaces a catalog row. Intended for seeding and tests.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.products[p.ID]; ok && old.Barcode != p.Barcode {
		delete(s.productByBarcode, old.Barcode)
	}
	s.products[p.ID] = p
	if p.Barcode != "" {
		s.productByBarcode[p.Barcode] = p.ID
	}
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok || !p.Active {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.productByBarcode[barcode]
	if !ok {
		return nil, store.ErrNotFound
	}
	p, ok := s.products[id]
	if !ok || !p.Active {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) SearchProducts(_ context.Context, query string, limit int) ([]domain.Product, error) {
	needle := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	result := make([]domain.Product, 0, 16)
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		if needle == "" || strings.Contains(strings.ToLower(p.Title), needle) || strings.HasPrefix(p.Barcode, needle) {
			result = append(result, p)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.Product) int {
		return cmpString(a.Title, b.Title)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	result := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		result = append(result, c)
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, fmt.Errorf("customer name required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cst")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.customersByID[customer.ID]; exists {
		return nil, fmt.Errorf("customer %s already exists", customer.ID)
	}
	s.customersByID[customer.ID] = customer
	return &customer, nil
}

func (s *Store) CreateHeldCart(_ context.Context, held domain.HeldCart) (*domain.HeldCart, error) {
	if held.CashierID == "" || len(held.Cart.Items) == 0 {
		return nil, fmt.Errorf("held cart requires a cashier and at least one item")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if held.ID == "" {
		held.ID = xid.New("hold")
	}
	if held.CreatedAt.IsZero() {
		held.CreatedAt = time.Now().UTC()
	}
	copied := cloneHeldCart(&held)
	s.heldCartsByID[held.ID] = copied
	return cloneHeldCart(copied), nil
}

func (s *Store) ListHeldCarts(_ context.Context, cashierID string) ([]domain.HeldCart, error) {
	s.mu.RLock()
	result := make([]domain.HeldCart, 0, 8)
	for _, held := range s.heldCartsByID {
		if held.CashierID != cashierID {
			continue
		}
		result = append(result, *cloneHeldCart(held))
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.HeldCart) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) PopHeldCart(_ context.Context, cashierID string, holdID string) (*domain.HeldCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.heldCartsByID[holdID]
	if !ok || held.CashierID != cashierID {
		return nil, store.ErrNotFound
	}
	delete(s.heldCartsByID, holdID)
	return held, nil
}

func (s *Store) DeleteHeldCart(_ context.Context, cashierID string, holdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, ok := s.heldCartsByID[holdID]
	if !ok || held.CashierID != cashierID {
		return store.ErrNotFound
	}
	delete(s.heldCartsByID, holdID)
	return nil
}

// CreateSale finalizes a sale: it re-checks stock for every line against the
// current catalog, decrements it, recomputes the money summary from the
// snapshotted line prices, and inserts the transaction. The whole operation
// happens under one write lock, so two concurrent sales of the last unit
// cannot both succeed.
//
// Line unit prices are trusted as submitted (they are cart-time snapshots);
// only the buy price used for profit is read fresh from the catalog.
func (s *Store) CreateSale(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.Invoice == "" || tx.CashierID == "" {
		return nil, fmt.Errorf("%w: invoice and cashier required", store.ErrInvalidSale)
	}
	if len(tx.Lines) == 0 {
		return nil, fmt.Errorf("%w: no lines", store.ErrInvalidSale)
	}
	if tx.DiscountCents < 0 {
		return nil, fmt.Errorf("%w: negative discount", store.ErrInvalidSale)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByInvoice[tx.Invoice]; exists {
		return nil, fmt.Errorf("%w: duplicate invoice %s", store.ErrInvalidSale, tx.Invoice)
	}

	// Check every line before touching stock so a conflict rolls back nothing.
	// Quantities are accumulated per product: two lines naming the same
	// product must fit the stock level together, not each on its own.
	subtotal := int64(0)
	totalProfit := int64(0)
	requested := make(map[string]int, len(tx.Lines))
	recomputed := make([]domain.TransactionLine, 0, len(tx.Lines))
	for _, line := range tx.Lines {
		if line.Qty < 1 || line.UnitPriceCents < 0 {
			return nil, fmt.Errorf("%w: bad line for product %s", store.ErrInvalidSale, line.ProductID)
		}
		product, exists := s.products[line.ProductID]
		if !exists || !product.Active {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		requested[line.ProductID] += line.Qty
		if product.Stock < requested[line.ProductID] {
			return nil, &store.StockConflictError{ProductID: line.ProductID}
		}
		lineTotal := line.UnitPriceCents * int64(line.Qty)
		profit := pricing.LineProfit(line.UnitPriceCents, product.BuyPriceCents, line.Qty)
		recomputed = append(recomputed, domain.TransactionLine{
			ProductID:      line.ProductID,
			Title:          product.Title,
			UnitPriceCents: line.UnitPriceCents,
			Qty:            line.Qty,
			LineTotalCents: lineTotal,
			ProfitCents:    profit,
		})
		subtotal += lineTotal
		totalProfit += profit
	}

	payable := subtotal - tx.DiscountCents
	if payable < 0 {
		payable = 0
	}

	if tx.PaymentMethod == domain.PaymentMethodCash {
		if tx.CashReceivedCents < payable {
			return nil, fmt.Errorf("%w: cash received below payable", store.ErrInvalidSale)
		}
		tx.ChangeCents = tx.CashReceivedCents - payable
		if tx.PaymentStatus == "" {
			tx.PaymentStatus = domain.PaymentStatusPaid
		}
	} else {
		tx.CashReceivedCents = payable
		tx.ChangeCents = 0
		if tx.PaymentStatus == "" {
			tx.PaymentStatus = domain.PaymentStatusPending
		}
	}

	for _, line := range recomputed {
		product := s.products[line.ProductID]
		product.Stock -= line.Qty
		s.products[line.ProductID] = product
	}

	tx.Lines = recomputed
	tx.SubtotalCents = subtotal
	tx.GrandTotalCents = payable
	tx.ProfitCents = totalProfit
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	copied := cloneTransaction(&tx)
	s.salesByInvoice[tx.Invoice] = copied
	return cloneTransaction(copied), nil
}

func (s *Store) GetTransactionByInvoice(_ context.Context, invoice string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.salesByInvoice[invoice]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

// UpdatePaymentStatus applies a gateway callback. Only pending sales may
// transition, and only to paid, failed, or expired.
func (s *Store) UpdatePaymentStatus(_ context.Context, invoice string, status string) (*domain.Transaction, error) {
	switch status {
	case domain.PaymentStatusPaid, domain.PaymentStatusFailed, domain.PaymentStatusExpired:
	default:
		return nil, fmt.Errorf("%w: status %q", store.ErrInvalidSale, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.salesByInvoice[invoice]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.PaymentStatus != domain.PaymentStatusPending {
		return nil, fmt.Errorf("%w: sale %s is %s, not pending", store.ErrInvalidSale, invoice, tx.PaymentStatus)
	}
	tx.PaymentStatus = status
	return cloneTransaction(tx), nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return fmt.Errorf("username required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("username %s already exists", username)
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		result = append(result, user)
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneHeldCart(held *domain.HeldCart) *domain.HeldCart {
	copied := *held
	copied.Cart.Items = slices.Clone(held.Cart.Items)
	return &copied
}

func cloneTransaction(tx *domain.Transaction) *domain.Transaction {
	copied := *tx
	copied.Lines = slices.Clone(tx.Lines)
	return &copied
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
