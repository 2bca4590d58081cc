package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirpos/backend/internal/domain"
	"kasirpos/backend/internal/pricing"
	"kasirpos/backend/internal/store"
	"kasirpos/backend/internal/xid"
)

// Store is the PostgreSQL-backed repository. The schema is provisioned
// outside the application; this package only reads and writes it.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, barcode, title, category, sell_price_cents, buy_price_cents, stock, active`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Barcode, &p.Title, &p.Category, &p.SellPriceCents, &p.BuyPriceCents, &p.Stock, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1 AND active = true
	`, id)
	return scanProduct(row)
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE barcode = $1 AND active = true
	`, barcode)
	return scanProduct(row)
}

func (s *Store) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 20
	}
	needle := strings.TrimSpace(query)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
			AND ($1 = '' OR title ILIKE '%' || $1 || '%' OR barcode LIKE $1 || '%')
		ORDER BY title
		LIMIT $2
	`, needle, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, created_at
		FROM customers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		var phone sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &phone, &c.CreatedAt); err != nil {
			return nil, err
		}
		if phone.Valid {
			c.Phone = phone.String
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	var phone sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &phone, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if phone.Valid {
		c.Phone = phone.String
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, fmt.Errorf("customer name required")
	}
	if customer.ID == "" {
		customer.ID = xid.New("cst")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, created_at)
		VALUES ($1,$2,$3,$4)
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("customer %s already exists", customer.ID)
		}
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) CreateHeldCart(ctx context.Context, held domain.HeldCart) (*domain.HeldCart, error) {
	if held.CashierID == "" || len(held.Cart.Items) == 0 {
		return nil, fmt.Errorf("held cart requires a cashier and at least one item")
	}
	if held.ID == "" {
		held.ID = xid.New("hold")
	}
	if held.CreatedAt.IsZero() {
		held.CreatedAt = time.Now().UTC()
	}

	cartJSON, err := json.Marshal(held.Cart)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO held_carts (id, cashier_id, label, cart, total_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, held.ID, held.CashierID, held.Label, cartJSON, held.TotalCents, held.CreatedAt)
	if err != nil {
		return nil, err
	}
	saved := held
	return &saved, nil
}

func (s *Store) ListHeldCarts(ctx context.Context, cashierID string) ([]domain.HeldCart, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cashier_id, label, cart, total_cents, created_at
		FROM held_carts
		WHERE cashier_id = $1
		ORDER BY created_at ASC
	`, cashierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	helds := make([]domain.HeldCart, 0, 16)
	for rows.Next() {
		held, err := scanHeldCart(rows)
		if err != nil {
			return nil, err
		}
		helds = append(helds, *held)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return helds, nil
}

// PopHeldCart atomically reads and deletes a hold so two registers resuming
// the same hold cannot both get it.
func (s *Store) PopHeldCart(ctx context.Context, cashierID string, holdID string) (*domain.HeldCart, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, cashier_id, label, cart, total_cents, created_at
		FROM held_carts
		WHERE id = $1 AND cashier_id = $2
		FOR UPDATE
	`, holdID, cashierID)
	held, err := scanHeldCart(row)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM held_carts WHERE id = $1`, holdID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return held, nil
}

func (s *Store) DeleteHeldCart(ctx context.Context, cashierID string, holdID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM held_carts WHERE id = $1 AND cashier_id = $2
	`, holdID, cashierID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanHeldCart(row interface{ Scan(...any) error }) (*domain.HeldCart, error) {
	var held domain.HeldCart
	var cartRaw []byte
	err := row.Scan(&held.ID, &held.CashierID, &held.Label, &cartRaw, &held.TotalCents, &held.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	held.CreatedAt = held.CreatedAt.UTC()
	if len(cartRaw) > 0 {
		if err := json.Unmarshal(cartRaw, &held.Cart); err != nil {
			return nil, err
		}
	}
	return &held, nil
}

// CreateSale finalizes a sale inside one serializable transaction: product
// rows are locked, stock is re-checked for every line before any decrement,
// and the money summary is recomputed from the snapshotted line prices. Only
// the buy price used for profit is read fresh from the catalog.
func (s *Store) CreateSale(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.Invoice == "" || tx.CashierID == "" {
		return nil, fmt.Errorf("%w: invoice and cashier required", store.ErrInvalidSale)
	}
	if len(tx.Lines) == 0 {
		return nil, fmt.Errorf("%w: no lines", store.ErrInvalidSale)
	}
	if tx.DiscountCents < 0 {
		return nil, fmt.Errorf("%w: negative discount", store.ErrInvalidSale)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	productIDs := uniqueProductIDs(tx.Lines)
	rows, err := pgTx.QueryContext(ctx, `
		SELECT id, title, buy_price_cents, stock
		FROM products
		WHERE active = true AND id = ANY($1)
		FOR UPDATE
	`, productIDs)
	if err != nil {
		return nil, err
	}
	type productState struct {
		title         string
		buyPriceCents int64
		stock         int
	}
	locked := make(map[string]productState, len(productIDs))
	for rows.Next() {
		var id string
		var p productState
		if err := rows.Scan(&id, &p.title, &p.buyPriceCents, &p.stock); err != nil {
			_ = rows.Close()
			return nil, err
		}
		locked[id] = p
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

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
		product, exists := locked[line.ProductID]
		if !exists {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		requested[line.ProductID] += line.Qty
		if product.stock < requested[line.ProductID] {
			return nil, &store.StockConflictError{ProductID: line.ProductID}
		}
		lineTotal := line.UnitPriceCents * int64(line.Qty)
		profit := pricing.LineProfit(line.UnitPriceCents, product.buyPriceCents, line.Qty)
		recomputed = append(recomputed, domain.TransactionLine{
			ProductID:      line.ProductID,
			Title:          product.title,
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
		_, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $1, updated_at = now()
			WHERE id = $2
		`, line.Qty, line.ProductID)
		if err != nil {
			return nil, err
		}
	}

	tx.Lines = recomputed
	tx.SubtotalCents = subtotal
	tx.GrandTotalCents = payable
	tx.ProfitCents = totalProfit
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			invoice, cashier_id, customer_id, subtotal_cents, discount_cents,
			grand_total_cents, payment_method, cash_received_cents, change_cents,
			profit_cents, payment_status, payment_url, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, tx.Invoice, tx.CashierID, nullIfEmpty(tx.CustomerID), tx.SubtotalCents, tx.DiscountCents,
		tx.GrandTotalCents, tx.PaymentMethod, tx.CashReceivedCents, tx.ChangeCents,
		tx.ProfitCents, tx.PaymentStatus, nullIfEmpty(tx.PaymentURL), tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: duplicate invoice %s", store.ErrInvalidSale, tx.Invoice)
		}
		return nil, err
	}

	for _, line := range tx.Lines {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (invoice, product_id, title, unit_price_cents, qty, line_total_cents, profit_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, tx.Invoice, line.ProductID, line.Title, line.UnitPriceCents, line.Qty, line.LineTotalCents, line.ProfitCents)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) GetTransactionByInvoice(ctx context.Context, invoice string) (*domain.Transaction, error) {
	return s.loadTransaction(ctx, s.db, invoice)
}

// UpdatePaymentStatus applies a gateway callback. Only pending sales may
// transition, and only to paid, failed, or expired.
func (s *Store) UpdatePaymentStatus(ctx context.Context, invoice string, status string) (*domain.Transaction, error) {
	switch status {
	case domain.PaymentStatusPaid, domain.PaymentStatusFailed, domain.PaymentStatusExpired:
	default:
		return nil, fmt.Errorf("%w: status %q", store.ErrInvalidSale, status)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `
		SELECT payment_status
		FROM sales
		WHERE invoice = $1
		FOR UPDATE
	`, invoice).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if current != domain.PaymentStatusPending {
		return nil, fmt.Errorf("%w: sale %s is %s, not pending", store.ErrInvalidSale, invoice, current)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales SET payment_status = $2 WHERE invoice = $1
	`, invoice, status)
	if err != nil {
		return nil, err
	}

	updated, err := s.loadTransaction(ctx, tx, invoice)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

// querier lets loadTransaction run against either the pool or an open tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) loadTransaction(ctx context.Context, q querier, invoice string) (*domain.Transaction, error) {
	var tx domain.Transaction
	var customerID sql.NullString
	var paymentURL sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT invoice, cashier_id, customer_id, subtotal_cents, discount_cents,
			grand_total_cents, payment_method, cash_received_cents, change_cents,
			profit_cents, payment_status, payment_url, created_at
		FROM sales
		WHERE invoice = $1
	`, invoice).Scan(
		&tx.Invoice, &tx.CashierID, &customerID, &tx.SubtotalCents, &tx.DiscountCents,
		&tx.GrandTotalCents, &tx.PaymentMethod, &tx.CashReceivedCents, &tx.ChangeCents,
		&tx.ProfitCents, &tx.PaymentStatus, &paymentURL, &tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		tx.CustomerID = customerID.String
	}
	if paymentURL.Valid {
		tx.PaymentURL = paymentURL.String
	}
	tx.CreatedAt = tx.CreatedAt.UTC()

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, title, unit_price_cents, qty, line_total_cents, profit_cents
		FROM sale_items
		WHERE invoice = $1
		ORDER BY product_id
	`, invoice)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.TransactionLine
		if err := rows.Scan(&line.ProductID, &line.Title, &line.UnitPriceCents, &line.Qty, &line.LineTotalCents, &line.ProfitCents); err != nil {
			return nil, err
		}
		tx.Lines = append(tx.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return fmt.Errorf("username required")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("username %s already exists", username)
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)), password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueProductIDs(lines []domain.TransactionLine) []string {
	set := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			continue
		}
		set[line.ProductID] = struct{}{}
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
