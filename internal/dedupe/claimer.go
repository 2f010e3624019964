// ABOUTME: Dedup claim abstraction shared by every switchboard instance
// ABOUTME: RedisClaimer uses SET NX EX so only one instance wins a nonce

package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a nonce claim is held
const DefaultTTL = 30 * time.Second

// Claimer atomically claims a key for a TTL. Claim returns true only for the
// first caller within the TTL window.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Key returns the claim key for an event nonce.
func Key(nonce string) string {
	return "dedup:" + nonce
}

// RedisClaimer claims keys in Redis with SET key 1 NX EX ttl.
type RedisClaimer struct {
	client redis.Cmdable
}

// NewRedisClaimer wraps an existing Redis client.
func NewRedisClaimer(client redis.Cmdable) *RedisClaimer {
	return &RedisClaimer{client: client}
}

// Claim sets key if absent. A false result means another caller already
// holds the claim.
func (c *RedisClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ok, err := c.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claiming %s: %w", key, err)
	}
	return ok, nil
}

var (
	_ Claimer = (*RedisClaimer)(nil)
	_ Claimer = (*Cache)(nil)
)
