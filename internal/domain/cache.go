package domain

import (
	"context"
	"time"
)

// CooldownCache debounces repeated evaluation of the same key. Entries
// expire on their own; implementations must bound memory growth.
type CooldownCache interface {
	// Touch marks the key as recently seen for the given window.
	Touch(ctx context.Context, key string, window time.Duration) error
	// OnCooldown reports whether the key was touched within its window.
	OnCooldown(ctx context.Context, key string) (bool, error)
}

// PriceCache stores the most recent oracle sample per feed.
type PriceCache interface {
	SetPrice(ctx context.Context, sample PriceSample) error
	// GetPrice returns ErrNotFound when no sample is cached for the feed.
	GetPrice(ctx context.Context, feedID string) (PriceSample, error)
}

// Broadcaster publishes fire-and-forget payloads to a named channel, e.g.
// for downstream WebSocket fan-out.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
