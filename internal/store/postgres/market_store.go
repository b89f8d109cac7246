package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tumodex/perpd/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	db Querier
}

// NewMarketStore creates a MarketStore over the given Querier.
func NewMarketStore(db Querier) *MarketStore {
	return &MarketStore{db: db}
}

const marketCols = `market_id, symbol, base_token, quote_token, pyth_price_id,
	max_leverage, min_position_size, max_position_size,
	maintenance_margin_rate, liquidation_fee_rate,
	funding_rate_interval, max_funding_rate, status,
	total_long_oi, total_short_oi, total_volume,
	current_funding_rate, last_funding_update, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	var fundingIntervalSecs int64

	err := row.Scan(
		&m.MarketID, &m.Symbol, &m.BaseToken, &m.QuoteToken, &m.PythPriceID,
		&m.MaxLeverage, &m.MinPositionSize, &m.MaxPositionSize,
		&m.MaintenanceMarginRate, &m.LiquidationFeeRate,
		&fundingIntervalSecs, &m.MaxFundingRate, &status,
		&m.TotalLongOI, &m.TotalShortOI, &m.TotalVolume,
		&m.CurrentFundingRate, &m.LastFundingUpdate, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	m.FundingRateInterval = secondsToDuration(fundingIntervalSecs)
	return m, nil
}

// Upsert inserts or replaces a market's configuration. Aggregate state
// columns (OI totals, funding) are preserved on conflict; they belong to
// the indexer and the funding scheduler.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			market_id, symbol, base_token, quote_token, pyth_price_id,
			max_leverage, min_position_size, max_position_size,
			maintenance_margin_rate, liquidation_fee_rate,
			funding_rate_interval, max_funding_rate, status,
			total_long_oi, total_short_oi, total_volume,
			current_funding_rate, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10,
			$11, $12, $13,
			$14, $15, $16,
			$17, NOW(), NOW()
		)
		ON CONFLICT (market_id) DO UPDATE SET
			symbol                  = EXCLUDED.symbol,
			base_token              = EXCLUDED.base_token,
			quote_token             = EXCLUDED.quote_token,
			pyth_price_id           = EXCLUDED.pyth_price_id,
			max_leverage            = EXCLUDED.max_leverage,
			min_position_size       = EXCLUDED.min_position_size,
			max_position_size       = EXCLUDED.max_position_size,
			maintenance_margin_rate = EXCLUDED.maintenance_margin_rate,
			liquidation_fee_rate    = EXCLUDED.liquidation_fee_rate,
			funding_rate_interval   = EXCLUDED.funding_rate_interval,
			max_funding_rate        = EXCLUDED.max_funding_rate,
			status                  = EXCLUDED.status,
			updated_at              = NOW()`

	_, err := s.db.Exec(ctx, query,
		m.MarketID, m.Symbol, m.BaseToken, m.QuoteToken, m.PythPriceID,
		m.MaxLeverage, m.MinPositionSize, m.MaxPositionSize,
		m.MaintenanceMarginRate, m.LiquidationFeeRate,
		int64(m.FundingRateInterval/time.Second), m.MaxFundingRate, string(m.Status),
		m.TotalLongOI, m.TotalShortOI, m.TotalVolume,
		m.CurrentFundingRate,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.MarketID, err)
	}
	return nil
}

// GetByID fetches one market by its external identifier.
func (s *MarketStore) GetByID(ctx context.Context, marketID string) (domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE market_id = $1`

	m, err := scanMarket(s.db.QueryRow(ctx, query, marketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", marketID, err)
	}
	return m, nil
}

// ListActive returns all markets currently accepting activity.
func (s *MarketStore) ListActive(ctx context.Context) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = 'active' ORDER BY market_id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// AdjustOpenInterest applies signed deltas to the OI totals in a single
// statement, clamping each side at zero. Clamping in SQL keeps the
// invariant even when a delta races with another writer.
func (s *MarketStore) AdjustOpenInterest(ctx context.Context, marketID string, longDelta, shortDelta float64) error {
	const query = `
		UPDATE markets SET
			total_long_oi  = GREATEST(0, total_long_oi + $2),
			total_short_oi = GREATEST(0, total_short_oi + $3),
			updated_at     = NOW()
		WHERE market_id = $1`

	tag, err := s.db.Exec(ctx, query, marketID, longDelta, shortDelta)
	if err != nil {
		return fmt.Errorf("postgres: adjust OI for %s: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateFunding sets the market's current funding rate and stamp.
func (s *MarketStore) UpdateFunding(ctx context.Context, marketID string, rate float64, at time.Time) error {
	const query = `
		UPDATE markets SET
			current_funding_rate = $2,
			last_funding_update  = $3,
			updated_at           = NOW()
		WHERE market_id = $1`

	tag, err := s.db.Exec(ctx, query, marketID, rate, at)
	if err != nil {
		return fmt.Errorf("postgres: update funding for %s: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
