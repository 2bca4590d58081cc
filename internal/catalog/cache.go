package catalog

import (
	"context"
	"log"
	"time"

	"kasirpos/backend/internal/domain"
)

// ProductCache stores product lookups keyed by id or barcode. A miss is
// (nil, false, nil); errors are reported separately so callers can treat a
// broken cache as a miss.
type ProductCache interface {
	Get(ctx context.Context, key string) (*domain.Product, bool, error)
	Set(ctx context.Context, key string, value *domain.Product, ttl time.Duration) error
}

type NoopProductCache struct{}

func (NoopProductCache) Get(_ context.Context, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) Set(_ context.Context, _ string, _ *domain.Product, _ time.Duration) error {
	return nil
}

// Cached wraps a Gateway with a read-through product cache. Search results
// are never cached; only direct id and barcode hits are. Cache failures are
// logged and treated as misses, so a dead redis never blocks a sale.
type Cached struct {
	inner Gateway
	cache ProductCache
	ttl   time.Duration
}

func NewCached(inner Gateway, cache ProductCache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cached{inner: inner, cache: cache, ttl: ttl}
}

func (c *Cached) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return c.lookup(ctx, "product:id:"+id, func() (*domain.Product, error) {
		return c.inner.GetProduct(ctx, id)
	})
}

func (c *Cached) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return c.lookup(ctx, "product:barcode:"+barcode, func() (*domain.Product, error) {
		return c.inner.GetProductByBarcode(ctx, barcode)
	})
}

func (c *Cached) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	return c.inner.SearchProducts(ctx, query, limit)
}

func (c *Cached) lookup(ctx context.Context, key string, fetch func() (*domain.Product, error)) (*domain.Product, error) {
	cached, hit, err := c.cache.Get(ctx, key)
	if err != nil {
		log.Printf("[catalog] cache get %s: %v", key, err)
	}
	if hit {
		return cached, nil
	}

	product, err := fetch()
	if err != nil {
		return nil, err
	}
	if setErr := c.cache.Set(ctx, key, product, c.ttl); setErr != nil {
		log.Printf("[catalog] cache set %s: %v", key, setErr)
	}
	return product, nil
}
