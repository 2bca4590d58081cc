package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "PAYMENT_METHODS", "PAYMENT_GATEWAY_TIMEOUT"} {
		if _, set := os.LookupEnv(key); set {
			t.Skipf("%s set in environment", key)
		}
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("address = %q", cfg.Address())
	}
	if cfg.GatewayTimeout != 5*time.Second {
		t.Fatalf("gateway timeout = %v", cfg.GatewayTimeout)
	}
	if len(cfg.PaymentMethods) != 2 || cfg.PaymentMethods[0] != "cash" || cfg.PaymentMethods[1] != "qris" {
		t.Fatalf("payment methods = %v", cfg.PaymentMethods)
	}
}

func TestLoadDoesNotInjectWeakAuthDefault(t *testing.T) {
	t.Setenv("AUTH_SECRET", "   ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PAYMENT_METHODS", "cash,qris,gopay")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("token ttl = %v", cfg.AccessTokenTTL)
	}
	if len(cfg.PaymentMethods) != 3 || cfg.PaymentMethods[2] != "gopay" {
		t.Fatalf("payment methods = %v", cfg.PaymentMethods)
	}
}
