package domain

import (
	"encoding/json"
	"time"
)

// EventCategory identifies one of the four position lifecycle event streams
// emitted by the ledger.
type EventCategory string

const (
	EventPositionOpened     EventCategory = "position_opened"
	EventPositionClosed     EventCategory = "position_closed"
	EventPositionUpdated    EventCategory = "position_updated"
	EventPositionLiquidated EventCategory = "position_liquidated"
)

// RawEvent is an unparsed ledger event: a typed JSON payload plus the origin
// transaction reference and a millisecond timestamp.
type RawEvent struct {
	TxHash      string
	TimestampMs int64
	Payload     json.RawMessage
}

// Time converts the event's millisecond timestamp to UTC.
func (e RawEvent) Time() time.Time {
	return time.UnixMilli(e.TimestampMs).UTC()
}

// PositionOpenedEvent is a validated PositionOpened payload.
type PositionOpenedEvent struct {
	PositionID string
	Owner      string
	MarketID   string
	Side       PositionSide
	Size       float64
	Collateral float64
	EntryPrice float64
	TxHash     string
	Timestamp  time.Time
}

// PositionClosedEvent is a validated PositionClosed payload.
type PositionClosedEvent struct {
	PositionID         string
	Owner              string
	MarketID           string
	ClosePrice         float64
	Size               float64
	CollateralReturned float64
	PnL                float64
	TxHash             string
	Timestamp          time.Time
}

// PositionUpdatedEvent is a validated PositionUpdated payload. Side may
// differ from the stored position's side: a position can flip direction in
// a single update.
type PositionUpdatedEvent struct {
	PositionID    string
	Owner         string
	MarketID      string
	NewSide       PositionSide
	NewSize       float64
	NewCollateral float64
	NewEntryPrice float64
	TxHash        string
	Timestamp     time.Time
}

// PositionLiquidatedEvent is a validated PositionLiquidated payload. The
// liquidation fee is not carried by the event; the indexer derives it from
// the market's fee rate.
type PositionLiquidatedEvent struct {
	PositionID string
	Owner      string
	Liquidator string
	MarketID   string
	Size       float64
	Collateral float64
	PnL        float64
	TxHash     string
	Timestamp  time.Time
}
