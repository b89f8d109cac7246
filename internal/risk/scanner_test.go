package risk

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumodex/perpd/internal/cache/memory"
	"github.com/tumodex/perpd/internal/domain"
	"github.com/tumodex/perpd/internal/store/memstore"
)

type fakeFeed struct {
	samples map[string]domain.PriceSample
}

func (f *fakeFeed) LatestPrice(ctx context.Context, feedID string) (domain.PriceSample, error) {
	s, ok := f.samples[feedID]
	if !ok {
		return domain.PriceSample{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeFeed) LatestPrices(ctx context.Context, feedIDs []string) (map[string]domain.PriceSample, error) {
	out := make(map[string]domain.PriceSample)
	for _, id := range feedIDs {
		if s, ok := f.samples[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func seedMarket(t *testing.T, store *memstore.Store) {
	t.Helper()
	require.NoError(t, store.Stores().Markets.Upsert(context.Background(), domain.Market{
		MarketID:              "BTC-PERP",
		Symbol:                "BTC/USD",
		PythPriceID:           "feed-btc",
		MaintenanceMarginRate: 0.05,
		LiquidationFeeRate:    0.01,
		Status:                domain.MarketStatusActive,
	}))
}

func seedPosition(t *testing.T, store *memstore.Store, id string, collateral float64) {
	t.Helper()
	require.NoError(t, store.Stores().Positions.Create(context.Background(), domain.Position{
		PositionID:  id,
		MarketID:    "BTC-PERP",
		UserAddress: "0xalice",
		Side:        domain.SideLong,
		Size:        10,
		Collateral:  collateral,
		Leverage:    domain.DeriveLeverage(10, collateral),
		EntryPrice:  50000,
		Status:      domain.PositionStatusOpen,
	}))
}

func newTestScanner(t *testing.T, store *memstore.Store, feed *fakeFeed, cfg ScannerConfig) *Scanner {
	t.Helper()
	sc := NewScanner(store.Stores(), feed, memory.NewCooldownCache(), nil, nil, cfg, slog.Default())
	return sc
}

func healthySample(now time.Time) domain.PriceSample {
	return domain.PriceSample{
		FeedID:      "feed-btc",
		Price:       40000, // deep under water for a 10-unit long from 50000
		Confidence:  10,
		PublishedAt: now,
	}
}

func TestScanFindsUnderwaterPosition(t *testing.T) {
	store := memstore.New()
	seedMarket(t, store)
	seedPosition(t, store, "pos-1", 1000)
	feed := &fakeFeed{samples: map[string]domain.PriceSample{
		"feed-btc": healthySample(time.Now()),
	}}
	sc := newTestScanner(t, store, feed, ScannerConfig{RewardRate: 0.5})

	cands, err := sc.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "pos-1", cands[0].PositionID)
	assert.Less(t, cands[0].HealthFactor, 1.0)
	// 1% fee on 1000 collateral, half to the liquidator.
	assert.InDelta(t, 5.0, cands[0].PotentialReward, 1e-9)
}

func TestScanSkipsStalePrice(t *testing.T) {
	store := memstore.New()
	seedMarket(t, store)
	seedPosition(t, store, "pos-1", 1000)
	sample := healthySample(time.Now().Add(-2 * time.Minute))
	feed := &fakeFeed{samples: map[string]domain.PriceSample{"feed-btc": sample}}
	sc := newTestScanner(t, store, feed, ScannerConfig{})

	cands, err := sc.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cands, "a stale price must never produce a candidate")
}

func TestScanSkipsLowConfidencePrice(t *testing.T) {
	store := memstore.New()
	seedMarket(t, store)
	seedPosition(t, store, "pos-1", 1000)
	sample := healthySample(time.Now())
	sample.Confidence = sample.Price * 0.05 // 5% interval, above the 1% gate
	feed := &fakeFeed{samples: map[string]domain.PriceSample{"feed-btc": sample}}
	sc := newTestScanner(t, store, feed, ScannerConfig{})

	cands, err := sc.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestScanSkipsHealthyPosition(t *testing.T) {
	store := memstore.New()
	seedMarket(t, store)
	seedPosition(t, store, "pos-1", 100000)
	sample := healthySample(time.Now())
	sample.Price = 50500
	feed := &fakeFeed{samples: map[string]domain.PriceSample{"feed-btc": sample}}
	sc := newTestScanner(t, store, feed, ScannerConfig{})

	cands, err := sc.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestScanHonorsCooldown(t *testing.T) {
	store := memstore.New()
	seedMarket(t, store)
	seedPosition(t, store, "pos-1", 1000)
	feed := &fakeFeed{samples: map[string]domain.PriceSample{
		"feed-btc": healthySample(time.Now()),
	}}
	sc := newTestScanner(t, store, feed, ScannerConfig{Cooldown: time.Minute})

	first, err := sc.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := sc.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second, "a just-evaluated position is on cooldown")
}

func TestScanSortsByRewardDescending(t *testing.T) {
	store := memstore.New()
	seedMarket(t, store)
	seedPosition(t, store, "pos-small", 1000)
	seedPosition(t, store, "pos-big", 5000)
	feed := &fakeFeed{samples: map[string]domain.PriceSample{
		"feed-btc": healthySample(time.Now()),
	}}
	sc := newTestScanner(t, store, feed, ScannerConfig{RewardRate: 0.5})

	cands, err := sc.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "pos-big", cands[0].PositionID)
	assert.Equal(t, "pos-small", cands[1].PositionID)
}

func TestSubmitterSkipsSettledPosition(t *testing.T) {
	store := memstore.New()
	seedMarket(t, store)
	seedPosition(t, store, "pos-1", 1000)
	sub := NewLoggingSubmitter(store.Stores(), slog.Default())

	ref, err := sub.SubmitLiquidation(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionSubmitted, ref.Status)

	// The indexer settles the position between scan and submit.
	require.NoError(t, store.Stores().Positions.Settle(context.Background(), domain.SettleParams{
		PositionID:  "pos-1",
		Status:      domain.PositionStatusLiquidated,
		RealizedPnL: -950,
		CloseTxHash: "0xtx",
		ClosedAt:    time.Now().UTC(),
	}))

	ref, err = sub.SubmitLiquidation(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionSkipped, ref.Status, "settled positions must be a verified no-op")
}
