// Package barcode routes the register's single input box. Scanner wedges
// type an EAN/UPC digit string and press enter; cashiers type fragments of
// a product name. The router decides which lookup to run.
package barcode

import (
	"context"
	"strings"

	"kasirpos/backend/internal/catalog"
	"kasirpos/backend/internal/domain"
	"kasirpos/backend/internal/store"
)

// Minimum digit count before an all-numeric input is treated as a barcode.
// EAN-8 is the shortest symbology the store's scanners emit.
const minBarcodeLen = 8

type Router struct {
	catalog catalog.Gateway
}

func NewRouter(gw catalog.Gateway) *Router {
	return &Router{catalog: gw}
}

// Normalize strips the whitespace a scanner wedge or clipboard paste can
// introduce around a code.
func Normalize(raw string) string {
	return strings.Join(strings.Fields(raw), "")
}

// IsBarcode reports whether the normalized input should be routed to an
// exact barcode lookup rather than a title search.
func IsBarcode(code string) bool {
	if len(code) < minBarcodeLen {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Resolve maps a raw scan/search input to a single product. Barcode-shaped
// input uses the exact lookup; anything else falls back to a title search
// and takes the first match. Misses surface as store.ErrNotFound either way.
func (r *Router) Resolve(ctx context.Context, raw string) (*domain.Product, error) {
	code := Normalize(raw)
	if code == "" {
		return nil, store.ErrNotFound
	}

	if IsBarcode(code) {
		return r.catalog.GetProductByBarcode(ctx, code)
	}

	matches, err := r.catalog.SearchProducts(ctx, code, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, store.ErrNotFound
	}
	return &matches[0], nil
}
