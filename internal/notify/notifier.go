// Package notify delivers user and operator notifications. Each notification
// fans out to every registered sender (Telegram, Discord) and is published on
// a Redis channel for the WebSocket gateway; per-sender failures are logged
// and never propagate back into the core loops.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tumodex/perpd/internal/domain"
)

// Sender is one notification delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier implements domain.NotificationSink. It filters by notification
// type, dispatches to all senders, and publishes a JSON rendering to the
// broadcast channel for the owner (or the market-wide channel for
// notifications without an owner).
type Notifier struct {
	senders     []Sender
	broadcaster domain.Broadcaster
	allowed     map[domain.NotificationType]bool
	logger      *slog.Logger
}

// NewNotifier creates a Notifier for the given senders. Only notification
// types listed in allowed are dispatched; an empty list allows everything.
// broadcaster may be nil.
func NewNotifier(senders []Sender, broadcaster domain.Broadcaster, allowed []string, logger *slog.Logger) *Notifier {
	types := make(map[domain.NotificationType]bool, len(allowed))
	for _, t := range allowed {
		types[domain.NotificationType(strings.TrimSpace(t))] = true
	}
	return &Notifier{
		senders:     senders,
		broadcaster: broadcaster,
		allowed:     types,
		logger:      logger.With(slog.String("component", "notifier")),
	}
}

// Push delivers one notification. Errors are aggregated across senders; a
// failing sender does not block the others.
func (n *Notifier) Push(ctx context.Context, note domain.Notification) error {
	if len(n.allowed) > 0 && !n.allowed[note.Type] {
		n.logger.DebugContext(ctx, "notification filtered out",
			slog.String("type", string(note.Type)))
		return nil
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}

	var errs []string
	if n.broadcaster != nil {
		if err := n.broadcast(ctx, note); err != nil {
			errs = append(errs, fmt.Sprintf("broadcast: %v", err))
		}
	}
	for _, s := range n.senders {
		if err := s.Send(ctx, note.Title, note.Message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("type", string(note.Type)))
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d delivery failure(s): %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func (n *Notifier) broadcast(ctx context.Context, note domain.Notification) error {
	payload, err := json.Marshal(map[string]any{
		"id":         note.ID,
		"type":       note.Type,
		"user":       note.UserAddress,
		"market_id":  note.MarketID,
		"title":      note.Title,
		"message":    note.Message,
		"data":       note.Data,
		"created_at": note.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	channel := "notifications:market:" + note.MarketID
	if note.UserAddress != "" {
		channel = "notifications:user:" + note.UserAddress
	}
	return n.broadcaster.Publish(ctx, channel, payload)
}

// Compile-time interface check.
var _ domain.NotificationSink = (*Notifier)(nil)
