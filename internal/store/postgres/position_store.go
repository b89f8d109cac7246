package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tumodex/perpd/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	db Querier
}

// NewPositionStore creates a PositionStore over the given Querier.
func NewPositionStore(db Querier) *PositionStore {
	return &PositionStore{db: db}
}

const positionCols = `position_id, market_id, user_address, side, size, collateral,
	leverage, entry_price, exit_price, realized_pnl, accumulated_funding,
	status, transaction_hash, close_transaction_hash, block_number,
	created_at, updated_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status string

	err := row.Scan(
		&p.PositionID, &p.MarketID, &p.UserAddress,
		&side, &p.Size, &p.Collateral,
		&p.Leverage, &p.EntryPrice, &p.ExitPrice,
		&p.RealizedPnL, &p.AccumulatedFunding,
		&status, &p.TransactionHash, &p.CloseTransactionHash, &p.BlockNumber,
		&p.CreatedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.PositionSide(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

// Create inserts a new position row. A unique violation on position_id is
// reported as domain.ErrAlreadyExists so the indexer can reject duplicate
// Opened events.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			position_id, market_id, user_address, side, size, collateral,
			leverage, entry_price, realized_pnl, accumulated_funding,
			status, transaction_hash, block_number, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, NOW()
		)`

	_, err := s.db.Exec(ctx, query,
		p.PositionID, p.MarketID, p.UserAddress,
		string(p.Side), p.Size, p.Collateral,
		p.Leverage, p.EntryPrice, p.RealizedPnL, p.AccumulatedFunding,
		string(p.Status), p.TransactionHash, p.BlockNumber, p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create position %s: %w", p.PositionID, err)
	}
	return nil
}

// GetByPositionID returns the position regardless of status.
func (s *PositionStore) GetByPositionID(ctx context.Context, positionID string) (domain.Position, error) {
	query := `SELECT ` + positionCols + ` FROM positions WHERE position_id = $1`

	p, err := scanPosition(s.db.QueryRow(ctx, query, positionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", positionID, err)
	}
	return p, nil
}

// GetOpenByPositionID returns the position only while it is still open.
func (s *PositionStore) GetOpenByPositionID(ctx context.Context, positionID string) (domain.Position, error) {
	query := `SELECT ` + positionCols + ` FROM positions WHERE position_id = $1 AND status = 'open'`

	p, err := scanPosition(s.db.QueryRow(ctx, query, positionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get open position %s: %w", positionID, err)
	}
	return p, nil
}

// Update replaces the mutable fields of an open position. Settled rows are
// not matched, which keeps status transitions monotonic at the store level.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			side                = $2,
			size                = $3,
			collateral          = $4,
			leverage            = $5,
			entry_price         = $6,
			accumulated_funding = $7,
			updated_at          = NOW()
		WHERE position_id = $1 AND status = 'open'`

	tag, err := s.db.Exec(ctx, query,
		p.PositionID, string(p.Side), p.Size, p.Collateral,
		p.Leverage, p.EntryPrice, p.AccumulatedFunding,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.PositionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Settle finalizes an open position to closed or liquidated status.
func (s *PositionStore) Settle(ctx context.Context, sp domain.SettleParams) error {
	const query = `
		UPDATE positions SET
			status                 = $2,
			realized_pnl           = $3,
			exit_price             = $4,
			close_transaction_hash = $5,
			closed_at              = $6,
			updated_at             = NOW()
		WHERE position_id = $1 AND status = 'open'`

	tag, err := s.db.Exec(ctx, query,
		sp.PositionID, string(sp.Status), sp.RealizedPnL,
		sp.ExitPrice, sp.CloseTxHash, sp.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: settle position %s: %w", sp.PositionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListOpenWithMarkets joins all open positions to their market rows.
func (s *PositionStore) ListOpenWithMarkets(ctx context.Context) ([]domain.OpenPositionJoin, error) {
	const query = `
		SELECT
			p.position_id, p.market_id, p.user_address, p.side, p.size, p.collateral,
			p.leverage, p.entry_price, p.exit_price, p.realized_pnl, p.accumulated_funding,
			p.status, p.transaction_hash, p.close_transaction_hash, p.block_number,
			p.created_at, p.updated_at, p.closed_at,
			m.market_id, m.symbol, m.base_token, m.quote_token, m.pyth_price_id,
			m.max_leverage, m.min_position_size, m.max_position_size,
			m.maintenance_margin_rate, m.liquidation_fee_rate,
			m.funding_rate_interval, m.max_funding_rate, m.status,
			m.total_long_oi, m.total_short_oi, m.total_volume,
			m.current_funding_rate, m.last_funding_update,
			m.created_at, m.updated_at
		FROM positions p
		JOIN markets m ON m.market_id = p.market_id
		WHERE p.status = 'open'
		ORDER BY p.position_id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var joins []domain.OpenPositionJoin
	for rows.Next() {
		var j domain.OpenPositionJoin
		var pSide, pStatus, mStatus string
		var fundingIntervalSecs int64

		if err := rows.Scan(
			&j.Position.PositionID, &j.Position.MarketID, &j.Position.UserAddress,
			&pSide, &j.Position.Size, &j.Position.Collateral,
			&j.Position.Leverage, &j.Position.EntryPrice, &j.Position.ExitPrice,
			&j.Position.RealizedPnL, &j.Position.AccumulatedFunding,
			&pStatus, &j.Position.TransactionHash, &j.Position.CloseTransactionHash, &j.Position.BlockNumber,
			&j.Position.CreatedAt, &j.Position.UpdatedAt, &j.Position.ClosedAt,
			&j.Market.MarketID, &j.Market.Symbol, &j.Market.BaseToken, &j.Market.QuoteToken, &j.Market.PythPriceID,
			&j.Market.MaxLeverage, &j.Market.MinPositionSize, &j.Market.MaxPositionSize,
			&j.Market.MaintenanceMarginRate, &j.Market.LiquidationFeeRate,
			&fundingIntervalSecs, &j.Market.MaxFundingRate, &mStatus,
			&j.Market.TotalLongOI, &j.Market.TotalShortOI, &j.Market.TotalVolume,
			&j.Market.CurrentFundingRate, &j.Market.LastFundingUpdate,
			&j.Market.CreatedAt, &j.Market.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan open position join: %w", err)
		}
		j.Position.Side = domain.PositionSide(pSide)
		j.Position.Status = domain.PositionStatus(pStatus)
		j.Market.Status = domain.MarketStatus(mStatus)
		j.Market.FundingRateInterval = secondsToDuration(fundingIntervalSecs)
		joins = append(joins, j)
	}
	return joins, rows.Err()
}

// ListSettledBefore returns settled positions closed before the cutoff, for
// cold-storage export.
func (s *PositionStore) ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	query := `SELECT ` + positionCols + `
		FROM positions
		WHERE status IN ('closed', 'liquidated') AND closed_at < $1
		ORDER BY closed_at
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var side, status string
		if err := rows.Scan(
			&p.PositionID, &p.MarketID, &p.UserAddress,
			&side, &p.Size, &p.Collateral,
			&p.Leverage, &p.EntryPrice, &p.ExitPrice,
			&p.RealizedPnL, &p.AccumulatedFunding,
			&status, &p.TransactionHash, &p.CloseTransactionHash, &p.BlockNumber,
			&p.CreatedAt, &p.UpdatedAt, &p.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan settled position: %w", err)
		}
		p.Side = domain.PositionSide(side)
		p.Status = domain.PositionStatus(status)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func secondsToDuration(secs int64) time.Duration {
	return time.Duration(secs) * time.Second
}
