package store

import (
	"context"
	"log"
	"strings"
)

// NewGateway creates a postgres-backed gateway when configured, otherwise
// in-memory. A postgres connect failure downgrades to the degraded no-op
// gateway instead of failing startup.
func NewGateway(ctx context.Context, databaseURL string) Gateway {
	if strings.TrimSpace(databaseURL) == "" {
		log.Printf("store: no DATABASE_URL, using in-memory gateway")
		return NewInMemoryGateway()
	}
	g, err := NewPostgresGateway(ctx, databaseURL)
	if err != nil {
		log.Printf("store: postgres unavailable, entering degraded mode: %v", err)
		return NewDegradedGateway()
	}
	return g
}
