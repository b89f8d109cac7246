package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tumodex/perpd/internal/domain"
)

// Stream subscribes to the Hermes WebSocket price feed and writes each
// update into the price cache, so pollers mostly hit warm entries.
// It reconnects with a fixed backoff on disconnect.
type Stream struct {
	wsURL   string
	feedIDs []string
	cache   domain.PriceCache
	logger  *slog.Logger
}

// NewStream creates a stream for the given feed IDs.
func NewStream(wsURL string, feedIDs []string, cache domain.PriceCache, logger *slog.Logger) *Stream {
	return &Stream{
		wsURL:   wsURL,
		feedIDs: feedIDs,
		cache:   cache,
		logger:  logger.With(slog.String("component", "pyth_stream")),
	}
}

type subscribeMessage struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

type streamMessage struct {
	Type      string    `json:"type"`
	PriceFeed priceFeed `json:"price_feed"`
}

// Run connects and consumes updates until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	if len(s.feedIDs) == 0 {
		s.logger.Info("no price feeds to stream, exiting")
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("price stream disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *Stream) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.wsURL, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", IDs: s.feedIDs}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Info("price stream subscribed", slog.Int("feeds", len(s.feedIDs)))

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("skipping malformed stream message", slog.String("error", err.Error()))
			continue
		}
		if msg.Type != "price_update" {
			continue
		}
		sample, err := msg.PriceFeed.sample(msg.PriceFeed.ID)
		if err != nil {
			s.logger.Warn("skipping malformed price update",
				slog.String("feed", msg.PriceFeed.ID),
				slog.String("error", err.Error()))
			continue
		}
		if err := s.cache.SetPrice(ctx, sample); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("price cache write failed",
				slog.String("feed", sample.FeedID),
				slog.String("error", err.Error()))
		}
	}
}
