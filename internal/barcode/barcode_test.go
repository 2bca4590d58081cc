package barcode

import (
	"context"
	"errors"
	"testing"

	"kasirpos/backend/internal/domain"
	"kasirpos/backend/internal/store"
	"kasirpos/backend/internal/store/memory"
)

func testRouter() *Router {
	repo := memory.NewEmpty()
	repo.PutProduct(domain.Product{
		ID: "prd-susu-01", Barcode: "8991002103018", Title: "Susu UHT 1L",
		SellPriceCents: 18900, Stock: 10, Active: true,
	})
	repo.PutProduct(domain.Product{
		ID: "prd-coklat-01", Barcode: "8991002110016", Title: "Coklat Batang",
		SellPriceCents: 8600, Stock: 10, Active: true,
	})
	return NewRouter(repo)
}

func TestIsBarcode(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"8991002103018", true},
		{"12345678", true},
		{"1234567", false},  // too short for EAN-8
		{"susu uht", false}, // not numeric
		{"899100210301a", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsBarcode(tc.in); got != tc.want {
			t.Fatalf("IsBarcode(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("  8991 0021 03018\n"); got != "8991002103018" {
		t.Fatalf("Normalize = %q", got)
	}
}

func TestResolveByBarcode(t *testing.T) {
	r := testRouter()

	p, err := r.Resolve(context.Background(), " 8991002103018 ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ID != "prd-susu-01" {
		t.Fatalf("resolved %s, want prd-susu-01", p.ID)
	}
}

func TestResolveBySearch(t *testing.T) {
	r := testRouter()

	p, err := r.Resolve(context.Background(), "coklat")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ID != "prd-coklat-01" {
		t.Fatalf("resolved %s, want prd-coklat-01", p.ID)
	}
}

func TestResolveMiss(t *testing.T) {
	r := testRouter()

	for _, input := range []string{"9999999999999", "tidak ada", "   "} {
		if _, err := r.Resolve(context.Background(), input); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("Resolve(%q): expected not found, got %v", input, err)
		}
	}
}
