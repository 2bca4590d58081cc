package store

import (
	"context"
	"errors"
	"fmt"

	"kasirpos/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrStockConflict = errors.New("stock conflict")
	ErrInvalidSale   = errors.New("invalid sale")
)

// StockConflictError identifies which product lost the stock race during
// CreateSale. It unwraps to ErrStockConflict so callers can match either the
// sentinel or the typed payload.
type StockConflictError struct {
	ProductID string
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("stock conflict: product %s", e.ProductID)
}

func (e *StockConflictError) Unwrap() error {
	return ErrStockConflict
}

// Repository is the persistence contract shared by the in-memory and
// PostgreSQL stores. CreateSale is the only multi-step write: it must
// re-check stock, decrement it, and insert the sale atomically, so a
// concurrent sale of the last unit fails with StockConflictError instead
// of overselling.
type Repository interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error)

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)

	CreateHeldCart(ctx context.Context, held domain.HeldCart) (*domain.HeldCart, error)
	ListHeldCarts(ctx context.Context, cashierID string) ([]domain.HeldCart, error)
	PopHeldCart(ctx context.Context, cashierID string, holdID string) (*domain.HeldCart, error)
	DeleteHeldCart(ctx context.Context, cashierID string, holdID string) error

	CreateSale(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransactionByInvoice(ctx context.Context, invoice string) (*domain.Transaction, error)
	UpdatePaymentStatus(ctx context.Context, invoice string, status string) (*domain.Transaction, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
