package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tumodex/perpd/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each feed's
// sample is stored at key "price:{feedID}" with fields "price", "conf" and
// "pub_ts" (Unix nanoseconds), expiring after the configured TTL so a dead
// oracle stream cannot serve stale quotes forever.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. ttl bounds
// how long a sample may be served after its last write.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(feedID string) string {
	return "price:" + feedID
}

// SetPrice stores the latest sample for a feed.
func (pc *PriceCache) SetPrice(ctx context.Context, sample domain.PriceSample) error {
	key := priceKey(sample.FeedID)
	fields := map[string]interface{}{
		"price":  strconv.FormatFloat(sample.Price, 'f', -1, 64),
		"conf":   strconv.FormatFloat(sample.Confidence, 'f', -1, 64),
		"pub_ts": strconv.FormatInt(sample.PublishedAt.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, pc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", sample.FeedID, err)
	}
	return nil
}

// GetPrice retrieves the latest sample for a feed. It returns
// domain.ErrNotFound when the key does not exist or has expired.
func (pc *PriceCache) GetPrice(ctx context.Context, feedID string) (domain.PriceSample, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(feedID)).Result()
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: get price %s: %w", feedID, err)
	}
	if len(vals) == 0 {
		return domain.PriceSample{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: parse price %s: %w", feedID, err)
	}
	conf, err := strconv.ParseFloat(vals["conf"], 64)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: parse confidence %s: %w", feedID, err)
	}
	tsNano, err := strconv.ParseInt(vals["pub_ts"], 10, 64)
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: parse publish time %s: %w", feedID, err)
	}

	return domain.PriceSample{
		FeedID:      feedID,
		Price:       price,
		Confidence:  conf,
		PublishedAt: time.Unix(0, tsNano).UTC(),
	}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
