package domain

import "context"

// EventSource supplies ordered ledger events per category within a cursor
// range, plus the current head cursor. Backends (Move-chain RPC, EVM log
// filtering, mock) are selected by configuration.
type EventSource interface {
	LatestCursor(ctx context.Context) (uint64, error)
	// QueryEvents returns raw events of one category within the closed
	// cursor range [from, to], ordered by ledger position.
	QueryEvents(ctx context.Context, category EventCategory, from, to uint64) ([]RawEvent, error)
}

// PriceFeed supplies oracle price samples.
type PriceFeed interface {
	LatestPrice(ctx context.Context, feedID string) (PriceSample, error)
	// LatestPrices batch-fetches samples for multiple feeds. Feeds with no
	// available sample are omitted from the result.
	LatestPrices(ctx context.Context, feedIDs []string) (map[string]PriceSample, error)
}
