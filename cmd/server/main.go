package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"kasirpos/backend/internal/catalog"
	"kasirpos/backend/internal/checkout"
	"kasirpos/backend/internal/config"
	"kasirpos/backend/internal/domain"
	"kasirpos/backend/internal/httpapi"
	"kasirpos/backend/internal/payment"
	"kasirpos/backend/internal/store"
	"kasirpos/backend/internal/store/memory"
	pgstore "kasirpos/backend/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	if err := ensureSeedUsers(ctx, repo); err != nil {
		log.Fatalf("seed users: %v", err)
	}

	productCache := catalog.ProductCache(catalog.NoopProductCache{})
	if cfg.RedisAddr != "" {
		redisCache := catalog.NewRedisProductCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop product cache", err)
		} else {
			productCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("product cache: redis")
		}
	} else {
		log.Println("product cache: noop")
	}
	gw := catalog.NewCached(repo, productCache, cfg.CatalogCacheTTL)

	registry := payment.NewRegistry()
	for _, method := range cfg.PaymentMethods {
		method = strings.ToLower(strings.TrimSpace(method))
		if method == "" || method == domain.PaymentMethodCash {
			continue
		}
		registry.Register(method, payment.DevGateway{BaseURL: cfg.PaymentBaseURL})
	}

	engine := checkout.New(repo, gw, registry, cfg.GatewayTimeout)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	api := httpapi.New(engine, gw, repo, registry, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

// ensureSeedUsers creates the initial admin and cashier accounts on first
// boot against an empty user table. A store that already has accounts, the
// in-memory one included, is left alone. Credentials come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; dev defaults are used with
// a warning when unset.
func ensureSeedUsers(ctx context.Context, repo store.Repository) error {
	users, err := repo.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, seed := range []struct {
		username string
		envKey   string
		fallback string
		role     string
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", "admin"},
		{"cashier", "SEED_CASHIER_PASSWORD", "cashier123", "cashier"},
	} {
		password := os.Getenv(seed.envKey)
		if password == "" {
			password = seed.fallback
			log.Printf("WARNING: seeding %s with default dev credentials. Set %s to override.", seed.username, seed.envKey)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash %s password: %w", seed.username, err)
		}
		if err := repo.CreateUser(ctx, domain.UserAccount{
			Username:  seed.username,
			Password:  string(hash),
			Role:      seed.role,
			Active:    true,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("create %s: %w", seed.username, err)
		}
	}
	log.Println("seeded initial admin and cashier accounts")
	return nil
}
