package funding

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumodex/perpd/internal/domain"
	"github.com/tumodex/perpd/internal/store/memstore"
)

func TestRate(t *testing.T) {
	tests := []struct {
		name             string
		longOI, shortOI  float64
		maxRate          float64
		want             float64
	}{
		{"balanced", 100, 100, 0.0075, 0},
		{"all long clamps at cap", 100, 0, 0.0075, 0.0075},
		{"all short clamps at negative cap", 0, 100, 0.0075, -0.0075},
		{"skewed long", 150, 50, 0.01, 0.005},
		{"empty market", 0, 0, 0.0075, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Rate(tt.longOI, tt.shortOI, tt.maxRate), 1e-12)
		})
	}
}

func TestPayment(t *testing.T) {
	// Positive rate: longs pay, shorts receive.
	assert.InDelta(t, 0.05, Payment(10, 0.005, domain.SideLong), 1e-12)
	assert.InDelta(t, -0.05, Payment(10, 0.005, domain.SideShort), 1e-12)
	// Negative rate flips direction.
	assert.InDelta(t, -0.05, Payment(10, -0.005, domain.SideLong), 1e-12)
}

func seedFundingMarket(t *testing.T, store *memstore.Store, lastUpdate *time.Time) {
	t.Helper()
	m := domain.Market{
		MarketID:            "BTC-PERP",
		Symbol:              "BTC/USD",
		PythPriceID:         "feed-btc",
		FundingRateInterval: time.Hour,
		MaxFundingRate:      0.0075,
		Status:              domain.MarketStatusActive,
	}
	require.NoError(t, store.Stores().Markets.Upsert(context.Background(), m))
	// Upsert preserves aggregate state, so OI and the funding stamp are set
	// through their own operations.
	require.NoError(t, store.Stores().Markets.AdjustOpenInterest(context.Background(), "BTC-PERP", 150, 50))
	if lastUpdate != nil {
		require.NoError(t, store.Stores().Markets.UpdateFunding(context.Background(), "BTC-PERP", 0, *lastUpdate))
	}
}

func TestTickUpdatesDueMarket(t *testing.T) {
	store := memstore.New()
	seedFundingMarket(t, store, nil)
	sched := NewScheduler(store.Stores(), store, nil, nil, slog.Default())
	ctx := context.Background()

	require.NoError(t, sched.Tick(ctx))

	market, err := store.Stores().Markets.GetByID(ctx, "BTC-PERP")
	require.NoError(t, err)
	// (150-50)/200 * 0.0075
	assert.InDelta(t, 0.00375, market.CurrentFundingRate, 1e-12)
	require.NotNil(t, market.LastFundingUpdate)

	history, err := store.Stores().Funding.ListByMarketSince(ctx, "BTC-PERP", time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.InDelta(t, 0.00375, history[0].Rate, 1e-12)
	assert.InDelta(t, 150.0, history[0].LongOI, 1e-9)
}

func TestTickSkipsMarketWithinInterval(t *testing.T) {
	store := memstore.New()
	recent := time.Now().UTC().Add(-10 * time.Minute)
	seedFundingMarket(t, store, &recent)
	sched := NewScheduler(store.Stores(), store, nil, nil, slog.Default())
	ctx := context.Background()

	require.NoError(t, sched.Tick(ctx))

	history, err := store.Stores().Funding.ListByMarketSince(ctx, "BTC-PERP", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, history, "the hour-long interval has not elapsed")
}

// racingRunner mutates the store right before opening each transaction,
// standing in for a second instance or the indexer winning a race.
type racingRunner struct {
	store  *memstore.Store
	before func(ctx context.Context) error
}

func (r *racingRunner) InTx(ctx context.Context, fn func(ctx context.Context, s domain.Stores) error) error {
	if r.before != nil {
		if err := r.before(ctx); err != nil {
			return err
		}
		r.before = nil
	}
	return r.store.InTx(ctx, fn)
}

func TestTickSkipsMarketUpdatedConcurrently(t *testing.T) {
	store := memstore.New()
	stale := time.Now().UTC().Add(-2 * time.Hour)
	seedFundingMarket(t, store, &stale)
	// Another instance stamps the market between the list and the write.
	runner := &racingRunner{store: store, before: func(ctx context.Context) error {
		return store.Stores().Markets.UpdateFunding(ctx, "BTC-PERP", 0.001, time.Now().UTC())
	}}
	sched := NewScheduler(store.Stores(), runner, nil, nil, slog.Default())
	ctx := context.Background()

	require.NoError(t, sched.Tick(ctx))

	history, err := store.Stores().Funding.ListByMarketSince(ctx, "BTC-PERP", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, history, "the concurrent update already covered this interval")

	market, err := store.Stores().Markets.GetByID(ctx, "BTC-PERP")
	require.NoError(t, err)
	assert.InDelta(t, 0.001, market.CurrentFundingRate, 1e-12, "the winner's rate must stand")
}

func TestTickRatesFromTransactionSnapshot(t *testing.T) {
	store := memstore.New()
	seedFundingMarket(t, store, nil)
	// Indexer activity moves OI from 150/50 to 50/100 before the write.
	runner := &racingRunner{store: store, before: func(ctx context.Context) error {
		return store.Stores().Markets.AdjustOpenInterest(ctx, "BTC-PERP", -100, 50)
	}}
	sched := NewScheduler(store.Stores(), runner, nil, nil, slog.Default())
	ctx := context.Background()

	require.NoError(t, sched.Tick(ctx))

	history, err := store.Stores().Funding.ListByMarketSince(ctx, "BTC-PERP", time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	// (50-100)/150 * 0.0075
	assert.InDelta(t, -0.0025, history[0].Rate, 1e-12)
	assert.InDelta(t, 50.0, history[0].LongOI, 1e-9)
	assert.InDelta(t, 100.0, history[0].ShortOI, 1e-9)
}

func TestTickUpdatesMarketPastInterval(t *testing.T) {
	store := memstore.New()
	stale := time.Now().UTC().Add(-2 * time.Hour)
	seedFundingMarket(t, store, &stale)
	sched := NewScheduler(store.Stores(), store, nil, nil, slog.Default())
	ctx := context.Background()

	require.NoError(t, sched.Tick(ctx))

	history, err := store.Stores().Funding.ListByMarketSince(ctx, "BTC-PERP", time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 1)
}
