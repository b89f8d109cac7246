package domain

import (
	"context"
	"time"
)

// SettleParams finalizes a position to closed or liquidated status.
type SettleParams struct {
	PositionID  string
	Status      PositionStatus
	RealizedPnL float64
	ExitPrice   *float64
	CloseTxHash string
	ClosedAt    time.Time
}

// OpenPositionJoin pairs an open position with its market row, as returned
// by the scanner's join query.
type OpenPositionJoin struct {
	Position Position
	Market   Market
}

// PositionStore persists mirrored positions.
type PositionStore interface {
	// Create inserts a new open position. ErrAlreadyExists is returned when
	// a row with the same position_id exists, which is how duplicate Opened
	// events are rejected.
	Create(ctx context.Context, pos Position) error
	GetByPositionID(ctx context.Context, positionID string) (Position, error)
	// GetOpenByPositionID returns ErrNotFound when no open position with
	// the id exists, including when a settled row exists.
	GetOpenByPositionID(ctx context.Context, positionID string) (Position, error)
	// Update replaces the mutable fields of an open position.
	Update(ctx context.Context, pos Position) error
	// Settle finalizes an open position. Settled positions are immutable.
	Settle(ctx context.Context, p SettleParams) error
	ListOpenWithMarkets(ctx context.Context) ([]OpenPositionJoin, error)
	// ListSettledBefore returns closed/liquidated positions whose closed_at
	// is older than the cutoff, for cold-storage export.
	ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]Position, error)
}

// MarketStore persists market configuration and aggregate state.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	GetByID(ctx context.Context, marketID string) (Market, error)
	ListActive(ctx context.Context) ([]Market, error)
	// AdjustOpenInterest applies signed deltas to the market's long and
	// short OI totals, clamping each at zero.
	AdjustOpenInterest(ctx context.Context, marketID string, longDelta, shortDelta float64) error
	// UpdateFunding sets the current funding rate and last update time.
	UpdateFunding(ctx context.Context, marketID string, rate float64, at time.Time) error
}

// LiquidationStore persists the append-only liquidation audit log.
type LiquidationStore interface {
	Create(ctx context.Context, rec LiquidationRecord) error
	ListRecent(ctx context.Context, limit int) ([]LiquidationRecord, error)
}

// FundingStore persists funding-rate history.
type FundingStore interface {
	Insert(ctx context.Context, fr FundingRate) error
	ListByMarketSince(ctx context.Context, marketID string, since time.Time) ([]FundingRate, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]FundingRate, error)
}

// CheckpointStore persists per-chain sync progress.
type CheckpointStore interface {
	// Get returns ErrNotFound when no checkpoint row exists for the chain.
	Get(ctx context.Context, chainID int64) (SyncCheckpoint, error)
	Init(ctx context.Context, chainID int64, cursor uint64) error
	// Advance moves the cursor forward. Implementations must never move it
	// backwards.
	Advance(ctx context.Context, chainID int64, cursor uint64) error
}

// Stores bundles every store participating in a transaction.
type Stores struct {
	Positions    PositionStore
	Markets      MarketStore
	Liquidations LiquidationStore
	Funding      FundingStore
	Checkpoints  CheckpointStore
}

// TxRunner executes fn against transaction-bound stores. All mutations made
// through the passed Stores commit atomically when fn returns nil and roll
// back entirely when it returns an error. This is the unit of the indexer's
// at-least-once contract: a failed sub-batch leaves the checkpoint untouched
// and the same range is retried on the next poll.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
