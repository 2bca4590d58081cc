package money

import "testing"

func TestLineTotal(t *testing.T) {
	if got := LineTotal(15000, 2); got != 30000 {
		t.Fatalf("expected 30000, got %d", got)
	}
	if got := LineTotal(3500, 0); got != 0 {
		t.Fatalf("expected 0 for zero qty, got %d", got)
	}
}

func TestClampNonNegative(t *testing.T) {
	if got := ClampNonNegative(-500); got != 0 {
		t.Fatalf("expected negative amount clamped to 0, got %d", got)
	}
	if got := ClampNonNegative(2500); got != 2500 {
		t.Fatalf("expected positive amount unchanged, got %d", got)
	}
}

func TestFormatIDR(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "Rp 0"},
		{500, "Rp 500"},
		{3500, "Rp 3.500"},
		{1500000, "Rp 1.500.000"},
		{-26500, "-Rp 26.500"},
	}
	for _, tc := range cases {
		if got := FormatIDR(tc.in); got != tc.want {
			t.Fatalf("FormatIDR(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
