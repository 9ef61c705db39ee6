package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

// NonceStore implements domain.NonceStore with SET NX, so a key can be
// claimed once across every instance sharing the namespace.
type NonceStore struct {
	c *Client
}

// NewNonceStore creates a NonceStore.
func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{c: c}
}

// Claim implements domain.NonceStore.
func (ns *NonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := ns.c.rdb.SetNX(ctx, ns.c.Key("nonce", key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim nonce: %w", err)
	}
	return ok, nil
}

var _ domain.NonceStore = (*NonceStore)(nil)
