package domain

import (
	"context"
	"time"
)

// NotificationType classifies user and market notifications.
type NotificationType string

const (
	NotifyPositionOpened     NotificationType = "position_opened"
	NotifyPositionClosed     NotificationType = "position_closed"
	NotifyPositionUpdated    NotificationType = "position_updated"
	NotifyPositionLiquidated NotificationType = "position_liquidated"
	NotifyLiquidationWarning NotificationType = "liquidation_warning"
	NotifyFundingUpdate      NotificationType = "funding_update"
)

// Notification is one fire-and-forget message to a position owner (or, for
// funding updates, to a market-wide broadcast channel when UserAddress is
// empty).
type Notification struct {
	ID          string
	Type        NotificationType
	UserAddress string
	MarketID    string
	Title       string
	Message     string
	Data        map[string]any
	CreatedAt   time.Time
}

// NotificationSink receives notifications produced by the core loops.
// Delivery is best-effort, at-most-once; failures are logged by the sink and
// never propagate into state transactions.
type NotificationSink interface {
	Push(ctx context.Context, n Notification) error
}
