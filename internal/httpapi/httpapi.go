package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"kasirpos/backend/internal/barcode"
	"kasirpos/backend/internal/catalog"
	"kasirpos/backend/internal/checkout"
	"kasirpos/backend/internal/domain"
	"kasirpos/backend/internal/invoice"
	"kasirpos/backend/internal/payment"
	"kasirpos/backend/internal/store"
)

type API struct {
	engine        *checkout.Engine
	catalog       catalog.Gateway
	scanner       *barcode.Router
	repo          store.Repository
	payments      *payment.Registry
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(engine *checkout.Engine, gw catalog.Gateway, repo store.Repository, payments *payment.Registry, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// Fall back to a deterministic secret if crypto/rand fails (should not happen in practice).
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		engine:        engine,
		catalog:       gw,
		scanner:       barcode.NewRouter(gw),
		repo:          repo,
		payments:      payments,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

type actorContextKey struct{}

func withActor(r *http.Request, actor domain.Actor) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), actorContextKey{}, actor))
}

func actorFrom(r *http.Request) (domain.Actor, bool) {
	actor, ok := r.Context().Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

// generateCSRFToken returns a token valid for the current hour bucket.
func (a *API) generateCSRFToken() string {
	now := time.Now().UTC()
	bucket := now.Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken checks whether the provided token matches the current or
// previous hour bucket, giving a 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	now := time.Now().UTC()
	currentBucket := now.Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(prevBucket)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, "cashier", "admin"))
	mux.HandleFunc("/api/v1/payment-methods", a.requireAuth(a.handlePaymentMethods, "cashier", "admin"))
	mux.HandleFunc("/api/v1/customers", a.requireAuth(a.handleCustomers, "cashier", "admin"))

	mux.HandleFunc("/api/v1/cart", a.requireAuth(a.handleCart, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/items", a.requireAuth(a.handleCartItems, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/items/", a.requireAuth(a.handleCartItemActions, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/discount", a.requireAuth(a.handleCartDiscount, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/customer", a.requireAuth(a.handleCartCustomer, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/payment-method", a.requireAuth(a.handleCartPaymentMethod, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/clear", a.requireAuth(a.handleCartClear, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/hold", a.requireAuth(a.handleCartHold, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/holds", a.requireAuth(a.handleHolds, "cashier", "admin"))
	mux.HandleFunc("/api/v1/cart/holds/", a.requireAuth(a.handleHoldActions, "cashier", "admin"))

	mux.HandleFunc("/api/v1/checkout", a.requireAuth(a.handleCheckout, "cashier", "admin"))
	mux.HandleFunc("/api/v1/transactions/", a.requireAuth(a.handleTransactionLookup, "cashier", "admin"))

	mux.HandleFunc("/api/v1/payments/callback", a.handlePaymentCallback)

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, withActor(r, actor))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPaths lists paths that are exempt from CSRF validation.
// Login has no prior token fetch; the payment callback is posted by the
// gateway, not the browser.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
	"/api/v1/payments/callback",
}

// checkCSRF enforces CSRF token validation for state-changing methods.
// Returns false and writes an error response if validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

// handleProducts answers the register's scan/search box. An exact barcode
// wins; otherwise the query is a title search.
func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	if code := strings.TrimSpace(r.URL.Query().Get("barcode")); code != "" {
		product, err := a.catalog.GetProductByBarcode(r.Context(), barcode.Normalize(code))
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": []domain.Product{*product}})
		return
	}

	query := r.URL.Query().Get("query")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 100)
	products, err := a.catalog.SearchProducts(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handlePaymentMethods(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"methods": a.payments.Methods()})
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		customers, err := a.repo.ListCustomers(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
	case http.MethodPost:
		var req domain.CustomerCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, errors.New("customer name required"))
			return
		}
		customer, err := a.repo.CreateCustomer(r.Context(), domain.Customer{
			Name:  strings.TrimSpace(req.Name),
			Phone: strings.TrimSpace(req.Phone),
		})
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
	default:
		writeMethodNotAllowed(w)
	}
}

// handleCart renders the active cart. The register passes the cash amount
// currently typed into the tender box so the view can show change or the
// remaining shortfall live.
func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing actor"))
		return
	}

	cash := parseCents(r.URL.Query().Get("cash_received_cents"))
	writeJSON(w, http.StatusOK, map[string]any{"cart": a.engine.View(actor.Username, cash)})
}

func (a *API) handleCartItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing actor"))
		return
	}

	var req domain.AddItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Qty == 0 {
		req.Qty = 1
	}

	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		product, err := a.scanner.Resolve(r.Context(), req.Code)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		productID = product.ID
	}

	view, err := a.engine.AddItem(r.Context(), actor.Username, productID, req.Qty)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCartItemActions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing actor"))
		return
	}

	lineID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/cart/items/"), "/")
	if lineID == "" {
		writeError(w, http.StatusBadRequest, errors.New("cart line id required"))
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req domain.UpdateQtyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		view, err := a.engine.UpdateQty(actor.Username, lineID, req.Qty)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})
	case http.MethodDelete:
		view, err := a.engine.RemoveItem(actor.Username, lineID)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartDiscount(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.postActor(w, r)
	if !ok {
		return
	}

	var req domain.DiscountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.engine.SetDiscount(actor.Username, req.DiscountCents)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCartCustomer(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.postActor(w, r)
	if !ok {
		return
	}

	var req domain.CustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.engine.SetCustomer(r.Context(), actor.Username, strings.TrimSpace(req.CustomerID))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCartPaymentMethod(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.postActor(w, r)
	if !ok {
		return
	}

	var req domain.PaymentMethodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.engine.SetPaymentMethod(actor.Username, req.Method)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCartClear(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.postActor(w, r)
	if !ok {
		return
	}
	view, err := a.engine.Clear(actor.Username)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": view})
}

func (a *API) handleCartHold(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.postActor(w, r)
	if !ok {
		return
	}

	var req domain.HoldRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	summary, err := a.engine.Hold(r.Context(), actor.Username, req.Label)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"hold": summary})
}

func (a *API) handleHolds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing actor"))
		return
	}

	holds, err := a.engine.ListHolds(r.Context(), actor.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"holds": holds})
}

func (a *API) handleHoldActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing actor"))
		return
	}

	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/cart/holds/"), "/")
	holdID, action, found := strings.Cut(tail, "/")
	if !found || holdID == "" {
		writeError(w, http.StatusBadRequest, errors.New("hold action path must be /{id}/resume or /{id}/discard"))
		return
	}

	switch action {
	case "resume":
		view, err := a.engine.Resume(r.Context(), actor.Username, holdID)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": view})
	case "discard":
		if err := a.engine.Discard(r.Context(), actor.Username, holdID); err != nil {
			a.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"discarded": holdID})
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown hold action %q", action))
	}
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.postActor(w, r)
	if !ok {
		return
	}

	var req domain.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tx, err := a.engine.Submit(r.Context(), actor.Username, req.CashReceivedCents)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction": redactForActor(actor, tx)})
}

func (a *API) handleTransactionLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing actor"))
		return
	}

	invoiceNo := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/transactions/"), "/")
	if invoiceNo == "" {
		writeError(w, http.StatusBadRequest, errors.New("invoice required"))
		return
	}
	if !invoice.Valid(invoiceNo) {
		writeError(w, http.StatusBadRequest, errors.New("malformed invoice number"))
		return
	}

	tx, err := a.repo.GetTransactionByInvoice(r.Context(), invoiceNo)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": redactForActor(actor, tx)})
}

// redactForActor strips margin data from receipts for non-admin roles. The
// profit figures stay persisted; cashiers just never see them.
func redactForActor(actor domain.Actor, tx *domain.Transaction) *domain.Transaction {
	if actor.Role == "admin" {
		return tx
	}
	copied := *tx
	copied.ProfitCents = 0
	copied.Lines = make([]domain.TransactionLine, len(tx.Lines))
	copy(copied.Lines, tx.Lines)
	for i := range copied.Lines {
		copied.Lines[i].ProfitCents = 0
	}
	return &copied
}

// handlePaymentCallback applies an async settlement result from a gateway.
// Only pending sales can transition, which makes redelivered callbacks
// harmless.
func (a *API) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.PaymentCallbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tx, err := a.repo.UpdatePaymentStatus(r.Context(), strings.TrimSpace(req.Invoice), strings.TrimSpace(req.Status))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	log.Printf("[payments] %s -> %s", tx.Invoice, tx.PaymentStatus)
	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

// postActor is the shared prologue for POST-only cart endpoints.
func (a *API) postActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return domain.Actor{}, false
	}
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing actor"))
		return domain.Actor{}, false
	}
	return actor, true
}

// writeDomainError maps engine and store errors onto HTTP statuses and a
// machine-readable reason code the register UI can branch on.
func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	var stockConflict *store.StockConflictError
	var insufficientCash *checkout.InsufficientCashError

	switch {
	case errors.As(err, &stockConflict):
		writeReasonError(w, http.StatusConflict, err, "stock_conflict", map[string]any{
			"product_id": stockConflict.ProductID,
		})
	case errors.As(err, &insufficientCash):
		writeReasonError(w, http.StatusUnprocessableEntity, err, checkout.BlockInsufficientCash, map[string]any{
			"shortfall_cents": insufficientCash.ShortfallCents,
		})
	case errors.Is(err, checkout.ErrEmptyCart):
		writeReasonError(w, http.StatusUnprocessableEntity, err, checkout.BlockEmptyCart, nil)
	case errors.Is(err, checkout.ErrNoCustomer):
		writeReasonError(w, http.StatusUnprocessableEntity, err, checkout.BlockNoCustomer, nil)
	case errors.Is(err, checkout.ErrAlreadySubmitting):
		writeReasonError(w, http.StatusConflict, err, checkout.BlockAlreadySubmitting, nil)
	case errors.Is(err, checkout.ErrActiveCartExists):
		writeReasonError(w, http.StatusConflict, err, "active_cart_exists", nil)
	case errors.Is(err, checkout.ErrOutOfStock):
		writeReasonError(w, http.StatusConflict, err, "out_of_stock", nil)
	case errors.Is(err, checkout.ErrGatewayTimeout):
		writeReasonError(w, http.StatusGatewayTimeout, err, "gateway_timeout", nil)
	case errors.Is(err, checkout.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrInvalidDiscount),
		errors.Is(err, checkout.ErrUnknownPaymentMethod),
		errors.Is(err, store.ErrInvalidSale):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Enforce CSRF protection for all state-changing requests.
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func parseCents(raw string) int64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (stack traces, SQL errors, file paths, etc.).
	// 4xx responses are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeReasonError(w http.ResponseWriter, status int, err error, reason string, extra map[string]any) {
	payload := map[string]any{
		"error":  err.Error(),
		"reason": reason,
	}
	for k, v := range extra {
		payload[k] = v
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
