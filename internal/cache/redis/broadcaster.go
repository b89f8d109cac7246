package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tumodex/perpd/internal/domain"
)

// Broadcaster implements domain.Broadcaster using Redis Pub/Sub. The API
// gateway subscribes to these channels and fans messages out to WebSocket
// clients.
type Broadcaster struct {
	rdb *redis.Client
}

// NewBroadcaster creates a Broadcaster backed by the given Client.
func NewBroadcaster(c *Client) *Broadcaster {
	return &Broadcaster{rdb: c.Underlying()}
}

// Publish sends a raw byte payload to a Pub/Sub channel.
func (b *Broadcaster) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.Broadcaster = (*Broadcaster)(nil)
