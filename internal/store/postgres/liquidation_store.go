package postgres

import (
	"context"
	"fmt"

	"github.com/tumodex/perpd/internal/domain"
)

// LiquidationStore implements domain.LiquidationStore using PostgreSQL.
type LiquidationStore struct {
	db Querier
}

// NewLiquidationStore creates a LiquidationStore over the given Querier.
func NewLiquidationStore(db Querier) *LiquidationStore {
	return &LiquidationStore{db: db}
}

// Create appends one liquidation audit row.
func (s *LiquidationStore) Create(ctx context.Context, rec domain.LiquidationRecord) error {
	const query = `
		INSERT INTO liquidations (
			position_id, market_id, user_address, liquidator_address,
			liquidation_price, collateral, liquidation_fee,
			transaction_hash, block_number, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.Exec(ctx, query,
		rec.PositionID, rec.MarketID, rec.UserAddress, rec.LiquidatorAddress,
		rec.LiquidationPrice, rec.Collateral, rec.LiquidationFee,
		rec.TransactionHash, rec.BlockNumber, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: create liquidation for %s: %w", rec.PositionID, err)
	}
	return nil
}

// ListRecent returns the most recent liquidation rows, newest first.
func (s *LiquidationStore) ListRecent(ctx context.Context, limit int) ([]domain.LiquidationRecord, error) {
	const query = `
		SELECT id, position_id, market_id, user_address, liquidator_address,
			liquidation_price, collateral, liquidation_fee,
			transaction_hash, block_number, timestamp
		FROM liquidations
		ORDER BY timestamp DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list liquidations: %w", err)
	}
	defer rows.Close()

	var recs []domain.LiquidationRecord
	for rows.Next() {
		var r domain.LiquidationRecord
		if err := rows.Scan(
			&r.ID, &r.PositionID, &r.MarketID, &r.UserAddress, &r.LiquidatorAddress,
			&r.LiquidationPrice, &r.Collateral, &r.LiquidationFee,
			&r.TransactionHash, &r.BlockNumber, &r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan liquidation: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
