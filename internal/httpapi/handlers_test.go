package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kasirpos/backend/internal/checkout"
	"kasirpos/backend/internal/domain"
	"kasirpos/backend/internal/payment"
	"kasirpos/backend/internal/store/memory"
)

// newTestAPI builds a full API over the in-memory store with a real
// AuthManager and checkout engine so handler tests exercise the complete
// request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	registry := payment.NewRegistry()
	registry.Register("qris", payment.DevGateway{BaseURL: "https://pay.example.test"})
	engine := checkout.New(repo, repo, registry, 2*time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(engine, repo, repo, registry, auth, "*")
}

type apiClient struct {
	t       *testing.T
	token   string
	csrf    string
	handler http.Handler
}

func newClient(t *testing.T, api *API, username, password string) *apiClient {
	t.Helper()
	c := &apiClient{t: t, handler: api.Handler()}
	c.token = c.login(username, password)
	c.csrf = c.fetchCSRFToken()
	return c
}

func (c *apiClient) login(username, password string) string {
	c.t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	c.handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		c.t.Fatalf("login failed, status %d: %s", res.Code, res.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode login response: %v", err)
	}
	return payload.AccessToken
}

func (c *apiClient) fetchCSRFToken() string {
	c.t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	c.handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		c.t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode csrf-token response: %v", err)
	}
	return payload["csrf_token"]
}

func (c *apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()

	reader := bytes.NewReader(nil)
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-CSRF-Token", c.csrf)
	res := httptest.NewRecorder()
	c.handler.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body)
	}
}

func TestCartFlowEndToEnd(t *testing.T) {
	c := newClient(t, newTestAPI(t), "cashier", "cashier123")

	// Scan two cartons of milk via barcode.
	res := c.do(http.MethodPost, "/api/v1/cart/items", domain.AddItemRequest{Code: "8991002103018", Qty: 2})
	if res.Code != http.StatusOK {
		t.Fatalf("add item: %d %s", res.Code, res.Body.String())
	}
	cart := decodeBody(t, res)["cart"].(map[string]any)
	if cart["subtotal_cents"].(float64) != 37800 {
		t.Fatalf("subtotal = %v", cart["subtotal_cents"])
	}

	if res := c.do(http.MethodPost, "/api/v1/cart/discount", domain.DiscountRequest{DiscountCents: 2800}); res.Code != http.StatusOK {
		t.Fatalf("discount: %d %s", res.Code, res.Body.String())
	}
	if res := c.do(http.MethodPost, "/api/v1/cart/customer", domain.CustomerRequest{CustomerID: "cst-budi"}); res.Code != http.StatusOK {
		t.Fatalf("customer: %d %s", res.Code, res.Body.String())
	}

	// The live view shows change for the typed tender.
	res = c.do(http.MethodGet, "/api/v1/cart?cash_received_cents=40000", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("view: %d", res.Code)
	}
	cart = decodeBody(t, res)["cart"].(map[string]any)
	if cart["state"] != "ready_to_pay" || cart["change_cents"].(float64) != 5000 {
		t.Fatalf("unexpected view: %v", cart)
	}

	res = c.do(http.MethodPost, "/api/v1/checkout", domain.SubmitRequest{CashReceivedCents: 40000})
	if res.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", res.Code, res.Body.String())
	}
	tx := decodeBody(t, res)["transaction"].(map[string]any)
	if tx["grand_total_cents"].(float64) != 35000 || tx["change_cents"].(float64) != 5000 {
		t.Fatalf("unexpected transaction: %v", tx)
	}
	invoice := tx["invoice"].(string)

	// The sale is readable back by invoice.
	res = c.do(http.MethodGet, "/api/v1/transactions/"+invoice, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("lookup: %d", res.Code)
	}

	// And the register slot is empty again.
	res = c.do(http.MethodGet, "/api/v1/cart", nil)
	cart = decodeBody(t, res)["cart"].(map[string]any)
	if cart["state"] != "empty" {
		t.Fatalf("cart not emptied: %v", cart)
	}
}

func TestTransactionLookupRejectsMalformedInvoice(t *testing.T) {
	c := newClient(t, newTestAPI(t), "cashier", "cashier123")

	for _, path := range []string{
		"/api/v1/transactions/not-an-invoice",
		"/api/v1/transactions/INV-99999999-DEADBEEF",
		"/api/v1/transactions/INV-20260314-XYZ",
	} {
		res := c.do(http.MethodGet, path, nil)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, res.Code)
		}
	}

	// A well-formed but unissued invoice is missing, not malformed.
	res := c.do(http.MethodGet, "/api/v1/transactions/INV-20260314-0AB1C2D3", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("unknown invoice: expected 404, got %d", res.Code)
	}
}

func TestCheckoutGuardReasons(t *testing.T) {
	c := newClient(t, newTestAPI(t), "cashier", "cashier123")

	res := c.do(http.MethodPost, "/api/v1/checkout", domain.SubmitRequest{})
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty cart: %d", res.Code)
	}
	if body := decodeBody(t, res); body["reason"] != "empty_cart" {
		t.Fatalf("reason = %v", body["reason"])
	}

	if res := c.do(http.MethodPost, "/api/v1/cart/items", domain.AddItemRequest{ProductID: "prd-susu-01", Qty: 1}); res.Code != http.StatusOK {
		t.Fatalf("add item: %d", res.Code)
	}
	res = c.do(http.MethodPost, "/api/v1/checkout", domain.SubmitRequest{CashReceivedCents: 50000})
	if body := decodeBody(t, res); res.Code != http.StatusUnprocessableEntity || body["reason"] != "no_customer" {
		t.Fatalf("no customer: %d %v", res.Code, body)
	}

	if res := c.do(http.MethodPost, "/api/v1/cart/customer", domain.CustomerRequest{CustomerID: "cst-umum"}); res.Code != http.StatusOK {
		t.Fatalf("customer: %d", res.Code)
	}
	res = c.do(http.MethodPost, "/api/v1/checkout", domain.SubmitRequest{CashReceivedCents: 10000})
	body := decodeBody(t, res)
	if res.Code != http.StatusUnprocessableEntity || body["reason"] != "insufficient_cash" {
		t.Fatalf("insufficient cash: %d %v", res.Code, body)
	}
	if body["shortfall_cents"].(float64) != 8900 {
		t.Fatalf("shortfall = %v", body["shortfall_cents"])
	}
}

func TestAddItemUnknownCode(t *testing.T) {
	c := newClient(t, newTestAPI(t), "cashier", "cashier123")

	res := c.do(http.MethodPost, "/api/v1/cart/items", domain.AddItemRequest{Code: "0000000000000"})
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestHoldEndpoints(t *testing.T) {
	c := newClient(t, newTestAPI(t), "cashier", "cashier123")

	if res := c.do(http.MethodPost, "/api/v1/cart/items", domain.AddItemRequest{ProductID: "prd-kopi-01", Qty: 3}); res.Code != http.StatusOK {
		t.Fatalf("add item: %d", res.Code)
	}
	res := c.do(http.MethodPost, "/api/v1/cart/hold", domain.HoldRequest{Label: "Meja 3"})
	if res.Code != http.StatusCreated {
		t.Fatalf("hold: %d %s", res.Code, res.Body.String())
	}
	hold := decodeBody(t, res)["hold"].(map[string]any)
	holdID := hold["id"].(string)

	res = c.do(http.MethodGet, "/api/v1/cart/holds", nil)
	holds := decodeBody(t, res)["holds"].([]any)
	if len(holds) != 1 {
		t.Fatalf("holds = %v", holds)
	}

	res = c.do(http.MethodPost, "/api/v1/cart/holds/"+holdID+"/resume", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("resume: %d %s", res.Code, res.Body.String())
	}
	cart := decodeBody(t, res)["cart"].(map[string]any)
	if cart["item_count"].(float64) != 3 {
		t.Fatalf("resumed cart: %v", cart)
	}

	// The hold was consumed; discarding it again misses.
	res = c.do(http.MethodPost, "/api/v1/cart/holds/"+holdID+"/discard", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("discard after resume: %d", res.Code)
	}
}

func TestResumeConflictReturns409(t *testing.T) {
	c := newClient(t, newTestAPI(t), "cashier", "cashier123")

	if res := c.do(http.MethodPost, "/api/v1/cart/items", domain.AddItemRequest{ProductID: "prd-kopi-01", Qty: 1}); res.Code != http.StatusOK {
		t.Fatalf("add item: %d", res.Code)
	}
	res := c.do(http.MethodPost, "/api/v1/cart/hold", domain.HoldRequest{})
	holdID := decodeBody(t, res)["hold"].(map[string]any)["id"].(string)

	if res := c.do(http.MethodPost, "/api/v1/cart/items", domain.AddItemRequest{ProductID: "prd-susu-01", Qty: 1}); res.Code != http.StatusOK {
		t.Fatalf("add item: %d", res.Code)
	}

	res = c.do(http.MethodPost, "/api/v1/cart/holds/"+holdID+"/resume", nil)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
	if body := decodeBody(t, res); body["reason"] != "active_cart_exists" {
		t.Fatalf("reason = %v", body["reason"])
	}
}

func TestPaymentCallbackSettlesPendingSale(t *testing.T) {
	api := newTestAPI(t)
	c := newClient(t, api, "cashier", "cashier123")

	if res := c.do(http.MethodPost, "/api/v1/cart/items", domain.AddItemRequest{ProductID: "prd-susu-01", Qty: 1}); res.Code != http.StatusOK {
		t.Fatalf("add item: %d", res.Code)
	}
	if res := c.do(http.MethodPost, "/api/v1/cart/customer", domain.CustomerRequest{CustomerID: "cst-umum"}); res.Code != http.StatusOK {
		t.Fatalf("customer: %d", res.Code)
	}
	if res := c.do(http.MethodPost, "/api/v1/cart/payment-method", domain.PaymentMethodRequest{Method: "qris"}); res.Code != http.StatusOK {
		t.Fatalf("method: %d", res.Code)
	}

	res := c.do(http.MethodPost, "/api/v1/checkout", domain.SubmitRequest{})
	if res.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", res.Code, res.Body.String())
	}
	tx := decodeBody(t, res)["transaction"].(map[string]any)
	if tx["payment_status"] != "pending" || tx["payment_url"] == "" {
		t.Fatalf("unexpected pending tx: %v", tx)
	}
	invoice := tx["invoice"].(string)

	// The gateway callback needs no session token or CSRF token.
	payload, _ := json.Marshal(domain.PaymentCallbackRequest{Invoice: invoice, Status: "paid"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("callback: %d %s", rec.Code, rec.Body.String())
	}

	// Redelivery is refused: the sale is no longer pending.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("redelivered callback: %d", rec.Code)
	}
}

func TestProfitRedactedForCashier(t *testing.T) {
	api := newTestAPI(t)
	cashier := newClient(t, api, "cashier", "cashier123")

	if res := cashier.do(http.MethodPost, "/api/v1/cart/items", domain.AddItemRequest{ProductID: "prd-susu-01", Qty: 1}); res.Code != http.StatusOK {
		t.Fatalf("add item: %d", res.Code)
	}
	if res := cashier.do(http.MethodPost, "/api/v1/cart/customer", domain.CustomerRequest{CustomerID: "cst-umum"}); res.Code != http.StatusOK {
		t.Fatalf("customer: %d", res.Code)
	}
	res := cashier.do(http.MethodPost, "/api/v1/checkout", domain.SubmitRequest{CashReceivedCents: 20000})
	if res.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", res.Code, res.Body.String())
	}
	tx := decodeBody(t, res)["transaction"].(map[string]any)
	if tx["profit_cents"].(float64) != 0 {
		t.Fatalf("cashier should not see profit, got %v", tx["profit_cents"])
	}
	invoice := tx["invoice"].(string)

	admin := newClient(t, api, "admin", "admin123")
	res = admin.do(http.MethodGet, "/api/v1/transactions/"+invoice, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("admin lookup: %d", res.Code)
	}
	tx = decodeBody(t, res)["transaction"].(map[string]any)
	if tx["profit_cents"].(float64) != 5300 {
		t.Fatalf("expected admin to see profit 5300, got %v", tx["profit_cents"])
	}
}

func TestListCustomersAndPaymentMethods(t *testing.T) {
	c := newClient(t, newTestAPI(t), "cashier", "cashier123")

	res := c.do(http.MethodGet, "/api/v1/customers", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("customers: %d", res.Code)
	}
	if customers := decodeBody(t, res)["customers"].([]any); len(customers) < 3 {
		t.Fatalf("customers = %v", customers)
	}

	res = c.do(http.MethodGet, "/api/v1/payment-methods", nil)
	methods := decodeBody(t, res)["methods"].([]any)
	if len(methods) != 2 || methods[0] != "cash" || methods[1] != "qris" {
		t.Fatalf("methods = %v", methods)
	}
}

func TestProductSearchEndpoint(t *testing.T) {
	c := newClient(t, newTestAPI(t), "cashier", "cashier123")

	res := c.do(http.MethodGet, "/api/v1/products?query=susu", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("search: %d", res.Code)
	}
	products := decodeBody(t, res)["products"].([]any)
	if len(products) != 1 {
		t.Fatalf("products = %v", products)
	}

	res = c.do(http.MethodGet, "/api/v1/products?barcode=8991002103018", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("barcode lookup: %d", res.Code)
	}
	res = c.do(http.MethodGet, "/api/v1/products?barcode=0000000000000", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("barcode miss: %d", res.Code)
	}
}

func TestCartRequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMutationRequiresCSRF(t *testing.T) {
	api := newTestAPI(t)
	c := newClient(t, api, "cashier", "cashier123")

	payload, _ := json.Marshal(domain.AddItemRequest{ProductID: "prd-kopi-01"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
}

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}

func TestParseCents(t *testing.T) {
	if got := parseCents("40000"); got != 40000 {
		t.Fatalf("parseCents = %d", got)
	}
	for _, raw := range []string{"", "-5", "abc"} {
		if got := parseCents(raw); got != 0 {
			t.Fatalf("parseCents(%q) = %d, want 0", raw, got)
		}
	}
}
