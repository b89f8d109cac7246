// Package memory provides in-process implementations of the domain cache
// interfaces. They back the mock operating mode and tests, where a Redis
// instance is not available.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tumodex/perpd/internal/domain"
)

// CooldownCache is a map-backed domain.CooldownCache. Expired entries are
// purged lazily on write so the map stays bounded.
type CooldownCache struct {
	mu      sync.Mutex
	expiry  map[string]time.Time
	now     func() time.Time
	sweepAt int
}

// NewCooldownCache creates an empty cooldown cache.
func NewCooldownCache() *CooldownCache {
	return &CooldownCache{
		expiry:  make(map[string]time.Time),
		now:     time.Now,
		sweepAt: 10000,
	}
}

// Touch marks the key as recently seen for the given window.
func (c *CooldownCache) Touch(ctx context.Context, key string, window time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.expiry) >= c.sweepAt {
		now := c.now()
		for k, exp := range c.expiry {
			if now.After(exp) {
				delete(c.expiry, k)
			}
		}
	}
	c.expiry[key] = c.now().Add(window)
	return nil
}

// OnCooldown reports whether the key was touched within its window.
func (c *CooldownCache) OnCooldown(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.expiry[key]
	if !ok {
		return false, nil
	}
	if c.now().After(exp) {
		delete(c.expiry, key)
		return false, nil
	}
	return true, nil
}

// PriceCache is a map-backed domain.PriceCache with per-entry TTL.
type PriceCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	samples map[string]priceEntry
}

type priceEntry struct {
	sample  domain.PriceSample
	expires time.Time
}

// NewPriceCache creates a price cache whose entries expire after ttl.
func NewPriceCache(ttl time.Duration) *PriceCache {
	return &PriceCache{
		ttl:     ttl,
		now:     time.Now,
		samples: make(map[string]priceEntry),
	}
}

// SetPrice stores the latest sample for a feed.
func (c *PriceCache) SetPrice(ctx context.Context, sample domain.PriceSample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[sample.FeedID] = priceEntry{sample: sample, expires: c.now().Add(c.ttl)}
	return nil
}

// GetPrice returns domain.ErrNotFound for missing or expired feeds.
func (c *PriceCache) GetPrice(ctx context.Context, feedID string) (domain.PriceSample, error) {
	c.mu.RLock()
	entry, ok := c.samples[feedID]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expires) {
		return domain.PriceSample{}, domain.ErrNotFound
	}
	return entry.sample, nil
}

// LogBroadcaster is a domain.Broadcaster that logs published payloads
// instead of delivering them anywhere.
type LogBroadcaster struct {
	logger *slog.Logger
}

// NewLogBroadcaster creates a broadcaster that writes to the given logger.
func NewLogBroadcaster(logger *slog.Logger) *LogBroadcaster {
	return &LogBroadcaster{logger: logger.With(slog.String("component", "log_broadcaster"))}
}

// Publish logs the payload at debug level.
func (b *LogBroadcaster) Publish(ctx context.Context, channel string, payload []byte) error {
	b.logger.Debug("broadcast",
		slog.String("channel", channel),
		slog.String("payload", string(payload)))
	return nil
}

var (
	_ domain.CooldownCache = (*CooldownCache)(nil)
	_ domain.PriceCache    = (*PriceCache)(nil)
	_ domain.Broadcaster   = (*LogBroadcaster)(nil)
)
