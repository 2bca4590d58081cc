// Package catalog fronts product lookups for the register. The repository
// is the source of truth; an optional cache layer absorbs the scan-heavy
// read traffic a busy register generates.
package catalog

import (
	"context"

	"kasirpos/backend/internal/domain"
)

// Gateway is the product lookup contract the checkout engine depends on.
// Both store implementations satisfy it directly.
type Gateway interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error)
}
