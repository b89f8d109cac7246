package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tumodex/perpd/internal/domain"
)

// CooldownCache implements domain.CooldownCache with per-key SET EX
// entries. Expiry is handled by Redis, so the cache is naturally bounded.
type CooldownCache struct {
	rdb    *redis.Client
	prefix string
}

// NewCooldownCache creates a CooldownCache backed by the given Client.
// prefix namespaces the keys, e.g. "liq_cooldown".
func NewCooldownCache(c *Client, prefix string) *CooldownCache {
	return &CooldownCache{rdb: c.Underlying(), prefix: prefix}
}

func (cc *CooldownCache) key(k string) string {
	return cc.prefix + ":" + k
}

// Touch marks the key as recently seen for the given window.
func (cc *CooldownCache) Touch(ctx context.Context, key string, window time.Duration) error {
	if err := cc.rdb.Set(ctx, cc.key(key), "1", window).Err(); err != nil {
		return fmt.Errorf("redis: touch cooldown %s: %w", key, err)
	}
	return nil
}

// OnCooldown reports whether the key was touched within its window.
func (cc *CooldownCache) OnCooldown(ctx context.Context, key string) (bool, error) {
	n, err := cc.rdb.Exists(ctx, cc.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis: check cooldown %s: %w", key, err)
	}
	return n > 0, nil
}

// Compile-time interface check.
var _ domain.CooldownCache = (*CooldownCache)(nil)
