package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/tumodex/perpd/internal/domain"
)

// FundingStore implements domain.FundingStore using PostgreSQL.
type FundingStore struct {
	db Querier
}

// NewFundingStore creates a FundingStore over the given Querier.
func NewFundingStore(db Querier) *FundingStore {
	return &FundingStore{db: db}
}

// Insert appends one funding-rate history row.
func (s *FundingStore) Insert(ctx context.Context, fr domain.FundingRate) error {
	const query = `
		INSERT INTO funding_rates (market_id, rate, long_oi, short_oi, timestamp)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.Exec(ctx, query, fr.MarketID, fr.Rate, fr.LongOI, fr.ShortOI, fr.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: insert funding rate for %s: %w", fr.MarketID, err)
	}
	return nil
}

// ListByMarketSince returns a market's funding history from the given time,
// newest first.
func (s *FundingStore) ListByMarketSince(ctx context.Context, marketID string, since time.Time) ([]domain.FundingRate, error) {
	const query = `
		SELECT id, market_id, rate, long_oi, short_oi, timestamp
		FROM funding_rates
		WHERE market_id = $1 AND timestamp >= $2
		ORDER BY timestamp DESC`

	rows, err := s.db.Query(ctx, query, marketID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list funding rates for %s: %w", marketID, err)
	}
	defer rows.Close()

	var rates []domain.FundingRate
	for rows.Next() {
		var fr domain.FundingRate
		if err := rows.Scan(&fr.ID, &fr.MarketID, &fr.Rate, &fr.LongOI, &fr.ShortOI, &fr.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan funding rate: %w", err)
		}
		rates = append(rates, fr)
	}
	return rates, rows.Err()
}

// ListBefore returns funding history older than the cutoff, oldest first,
// for cold-storage export.
func (s *FundingStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.FundingRate, error) {
	const query = `
		SELECT id, market_id, rate, long_oi, short_oi, timestamp
		FROM funding_rates
		WHERE timestamp < $1
		ORDER BY timestamp
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list funding rates before cutoff: %w", err)
	}
	defer rows.Close()

	var rates []domain.FundingRate
	for rows.Next() {
		var fr domain.FundingRate
		if err := rows.Scan(&fr.ID, &fr.MarketID, &fr.Rate, &fr.LongOI, &fr.ShortOI, &fr.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan funding rate: %w", err)
		}
		rates = append(rates, fr)
	}
	return rates, rows.Err()
}
