package invoice

import (
	"testing"
	"time"
)

func TestNewFormat(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	inv := New(at)

	if !Valid(inv) {
		t.Fatalf("generated invoice %q failed validation", inv)
	}
	if inv[:12] != "INV-20260314" {
		t.Fatalf("invoice %q does not carry the sale date", inv)
	}
}

func TestNewUnique(t *testing.T) {
	seen := make(map[string]bool)
	at := time.Now()
	for i := 0; i < 200; i++ {
		inv := New(at)
		if seen[inv] {
			t.Fatalf("duplicate invoice %q", inv)
		}
		seen[inv] = true
	}
}

func TestValidRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"", "INV-20260314", "TRX-20260314-AB12CD34", "INV-2026031-AB12CD34", "INV-99999999-AB12CD34"} {
		if Valid(bad) {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
}
