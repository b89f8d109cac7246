package domain

import "time"

// FundingRate is one funding-rate history row, recorded each time the
// scheduler recomputes a market's rate.
type FundingRate struct {
	ID       int64
	MarketID string
	Rate     float64
	LongOI   float64
	ShortOI  float64

	Timestamp time.Time
}
