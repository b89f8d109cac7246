package domain

import "time"

// MarketStatus tracks whether a market accepts new activity.
type MarketStatus string

const (
	MarketStatusActive MarketStatus = "active"
	MarketStatusPaused MarketStatus = "paused"
	MarketStatusClosed MarketStatus = "closed"
)

// Market holds one trading pair's configuration and aggregate state.
//
// TotalLongOI and TotalShortOI are maintained incrementally by the indexer
// as position events are applied; at any quiescent point they equal the sum
// of Size over open positions grouped by side. They are clamped at zero and
// never recomputed by full re-scan.
type Market struct {
	MarketID string
	Symbol   string

	BaseToken   string
	QuoteToken  string
	PythPriceID string

	MaxLeverage           float64
	MinPositionSize       float64
	MaxPositionSize       float64
	MaintenanceMarginRate float64
	LiquidationFeeRate    float64

	FundingRateInterval time.Duration
	MaxFundingRate      float64

	Status MarketStatus

	TotalLongOI  float64
	TotalShortOI float64
	TotalVolume  float64

	CurrentFundingRate float64
	LastFundingUpdate  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
