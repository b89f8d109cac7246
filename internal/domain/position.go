package domain

import "time"

// PositionSide is the direction of a leveraged exposure.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// IsLong reports whether the side is long.
func (s PositionSide) IsLong() bool { return s == SideLong }

// PositionStatus tracks the lifecycle of a position. Transitions are
// monotonic: open -> closed or open -> liquidated, never back.
type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

// Position mirrors one on-chain leveraged exposure. Rows are created by
// PositionOpened events, mutated by PositionUpdated events while open, and
// finalized by PositionClosed / PositionLiquidated events.
type Position struct {
	PositionID  string
	MarketID    string
	UserAddress string

	Side       PositionSide
	Size       float64
	Collateral float64
	Leverage   float64

	EntryPrice float64
	ExitPrice  *float64

	RealizedPnL        float64
	AccumulatedFunding float64

	Status PositionStatus

	// Origin transaction references, used for ingestion de-duplication.
	TransactionHash      string
	CloseTransactionHash *string
	BlockNumber          int64

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// Open reports whether the position is still open.
func (p Position) Open() bool { return p.Status == PositionStatusOpen }

// DeriveLeverage computes size/collateral, or 0 for zero collateral.
func DeriveLeverage(size, collateral float64) float64 {
	if collateral <= 0 {
		return 0
	}
	return size / collateral
}
