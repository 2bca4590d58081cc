package payment

import (
	"context"
	"fmt"
	"time"

	"kasirpos/backend/internal/domain"
)

// DevGateway is the stand-in gateway used in dev/demo mode. It issues a
// deterministic payment URL under BaseURL and optionally sleeps to simulate
// provider latency, which lets the timeout handling be exercised locally.
type DevGateway struct {
	BaseURL    string
	Latency    time.Duration
	SessionTTL time.Duration
}

func (g DevGateway) CreateSession(ctx context.Context, tx domain.Transaction) (Session, error) {
	if g.Latency > 0 {
		select {
		case <-time.After(g.Latency):
		case <-ctx.Done():
			return Session{}, ctx.Err()
		}
	}

	ttl := g.SessionTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return Session{
		URL:       fmt.Sprintf("%s/pay/%s", g.BaseURL, tx.Invoice),
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}
