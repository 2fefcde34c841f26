package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// NonceStore implements domain.NonceStore with SET NX, so every venue
// daemon sharing one Redis rejects the same replayed request.
type NonceStore struct {
	rdb    *redis.Client
	prefix string
}

// NewNonceStore creates a NonceStore backed by the given Client.
func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{rdb: c.Underlying(), prefix: "nonce:"}
}

// Claim marks key as used for ttl.
func (n *NonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := n.rdb.SetNX(ctx, n.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim nonce %s: %w", key, err)
	}
	return ok, nil
}

var _ domain.NonceStore = (*NonceStore)(nil)
