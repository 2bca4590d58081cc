// Package payment holds the gateway contract for non-cash tenders and a
// registry mapping payment method names to gateway implementations.
package payment

import (
	"context"
	"fmt"
	"slices"
	"time"

	"kasirpos/backend/internal/domain"
)

// Session is a gateway-hosted payment page for one sale. The register shows
// the URL (usually as a QR code) and the sale stays pending until the
// gateway calls back.
type Session struct {
	URL       string
	ExpiresAt time.Time
}

// Gateway creates payment sessions for sales charged to a non-cash method.
type Gateway interface {
	CreateSession(ctx context.Context, tx domain.Transaction) (Session, error)
}

// Registry maps payment method names to gateways. Cash is always known and
// never has a gateway.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

func (r *Registry) Register(method string, gw Gateway) {
	r.gateways[method] = gw
}

// Known reports whether a payment method can be selected at the register.
func (r *Registry) Known(method string) bool {
	if method == domain.PaymentMethodCash {
		return true
	}
	_, ok := r.gateways[method]
	return ok
}

// Methods lists the selectable payment methods, cash first, gateways sorted.
func (r *Registry) Methods() []string {
	methods := make([]string, 0, len(r.gateways)+1)
	methods = append(methods, domain.PaymentMethodCash)
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	slices.Sort(names)
	return append(methods, names...)
}

func (r *Registry) CreateSession(ctx context.Context, method string, tx domain.Transaction) (Session, error) {
	gw, ok := r.gateways[method]
	if !ok {
		return Session{}, fmt.Errorf("no gateway registered for method %q", method)
	}
	return gw.CreateSession(ctx, tx)
}
