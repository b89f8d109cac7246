package indexer

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumodex/perpd/internal/chain"
	"github.com/tumodex/perpd/internal/domain"
	"github.com/tumodex/perpd/internal/store/memstore"
)

const testChainID = 9000

type recordingSink struct {
	notes []domain.Notification
}

func (r *recordingSink) Push(ctx context.Context, n domain.Notification) error {
	r.notes = append(r.notes, n)
	return nil
}

// failingRunner rejects transactions while tripped, simulating a crash
// between apply and commit.
type failingRunner struct {
	inner domain.TxRunner
	fail  bool
}

func (f *failingRunner) InTx(ctx context.Context, fn func(ctx context.Context, s domain.Stores) error) error {
	if f.fail {
		return errors.New("connection reset")
	}
	return f.inner.InTx(ctx, fn)
}

func testMarket() domain.Market {
	return domain.Market{
		MarketID:              "BTC-PERP",
		Symbol:                "BTC/USD",
		PythPriceID:           "0xfeed",
		MaxLeverage:           50,
		MaintenanceMarginRate: 0.05,
		LiquidationFeeRate:    0.01,
		MaxFundingRate:        0.0075,
		Status:                domain.MarketStatusActive,
	}
}

func newTestIndexer(t *testing.T) (*Indexer, *memstore.Store, *chain.MockSource, *recordingSink) {
	t.Helper()
	store := memstore.New()
	require.NoError(t, store.Stores().Markets.Upsert(context.Background(), testMarket()))

	source := chain.NewMockSource()
	sink := &recordingSink{}
	ix := New(source, store, store.Stores(), sink, Config{ChainID: testChainID}, slog.Default())
	return ix, store, source, sink
}

func openedPayload(positionID string, size, collateral, entryPrice uint64, direction int) map[string]any {
	return map[string]any{
		"position_id": positionID,
		"user":        "0xAlice",
		"market_id":   "BTC-PERP",
		"size":        size,
		"collateral":  collateral,
		"entry_price": entryPrice,
		"direction":   direction,
	}
}

func TestSyncAppliesOpenedEvent(t *testing.T) {
	ix, store, source, sink := newTestIndexer(t)
	ctx := context.Background()

	// 10 units, 1.0 collateral, entry 50000, long: 10x leverage.
	require.NoError(t, source.Emit(domain.EventPositionOpened, 5, "0xtx1", 1700000000000,
		openedPayload("pos-1", 10_000_000, 1_000_000, 50_000_000_000, 0)))

	require.NoError(t, ix.Sync(ctx))

	pos, err := store.Stores().Positions.GetByPositionID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, "0xalice", pos.UserAddress)
	assert.InDelta(t, 10.0, pos.Size, 1e-9)
	assert.InDelta(t, 10.0, pos.Leverage, 1e-9)

	market, err := store.Stores().Markets.GetByID(ctx, "BTC-PERP")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, market.TotalLongOI, 1e-9)
	assert.InDelta(t, 0.0, market.TotalShortOI, 1e-9)

	cp, err := store.Stores().Checkpoints.Get(ctx, testChainID)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cp.LastSyncedCursor)

	require.Len(t, sink.notes, 1)
	assert.Equal(t, domain.NotifyPositionOpened, sink.notes[0].Type)
}

func TestSyncIsIdempotent(t *testing.T) {
	ix, store, source, _ := newTestIndexer(t)
	ctx := context.Background()

	require.NoError(t, source.Emit(domain.EventPositionOpened, 5, "0xtx1", 1700000000000,
		openedPayload("pos-1", 10_000_000, 1_000_000, 50_000_000_000, 0)))
	require.NoError(t, ix.Sync(ctx))

	// A replay of the same event at a later cursor must not double-count.
	require.NoError(t, source.Emit(domain.EventPositionOpened, 6, "0xtx1", 1700000000000,
		openedPayload("pos-1", 10_000_000, 1_000_000, 50_000_000_000, 0)))
	require.NoError(t, ix.Sync(ctx))

	market, err := store.Stores().Markets.GetByID(ctx, "BTC-PERP")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, market.TotalLongOI, 1e-9)
}

func TestSyncClosesPosition(t *testing.T) {
	ix, store, source, sink := newTestIndexer(t)
	ctx := context.Background()

	require.NoError(t, source.Emit(domain.EventPositionOpened, 5, "0xtx1", 1700000000000,
		openedPayload("pos-1", 10_000_000, 1_000_000, 50_000_000_000, 0)))
	require.NoError(t, source.Emit(domain.EventPositionClosed, 8, "0xtx2", 1700000100000, map[string]any{
		"position_id":         "pos-1",
		"user":                "0xAlice",
		"market_id":           "BTC-PERP",
		"close_price":         51_000_000_000,
		"size":                10_000_000,
		"collateral_returned": 1_010_000,
		"pnl":                 10_000_000_000,
		"is_profit":           true,
	}))

	require.NoError(t, ix.Sync(ctx))

	pos, err := store.Stores().Positions.GetByPositionID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.InDelta(t, 10000.0, pos.RealizedPnL, 1e-9)
	require.NotNil(t, pos.ExitPrice)
	assert.InDelta(t, 51000.0, *pos.ExitPrice, 1e-9)
	require.NotNil(t, pos.CloseTransactionHash)
	assert.Equal(t, "0xtx2", *pos.CloseTransactionHash)

	market, err := store.Stores().Markets.GetByID(ctx, "BTC-PERP")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, market.TotalLongOI, 1e-9)

	require.Len(t, sink.notes, 2)
	assert.Equal(t, domain.NotifyPositionClosed, sink.notes[1].Type)
}

func TestSyncOrdersCategoriesWithinRange(t *testing.T) {
	ix, store, source, _ := newTestIndexer(t)
	ctx := context.Background()

	// The close sits at an earlier cursor than the open, but opened events
	// are applied first within a range, so both land.
	require.NoError(t, source.Emit(domain.EventPositionClosed, 3, "0xtx2", 1700000100000, map[string]any{
		"position_id":         "pos-1",
		"user":                "0xAlice",
		"market_id":           "BTC-PERP",
		"close_price":         51_000_000_000,
		"size":                10_000_000,
		"collateral_returned": 1_010_000,
		"pnl":                 10_000_000_000,
		"is_profit":           true,
	}))
	require.NoError(t, source.Emit(domain.EventPositionOpened, 5, "0xtx1", 1700000000000,
		openedPayload("pos-1", 10_000_000, 1_000_000, 50_000_000_000, 0)))

	require.NoError(t, ix.Sync(ctx))

	pos, err := store.Stores().Positions.GetByPositionID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
}

func TestSyncDirectionFlipMovesOpenInterest(t *testing.T) {
	ix, store, source, _ := newTestIndexer(t)
	ctx := context.Background()

	require.NoError(t, source.Emit(domain.EventPositionOpened, 5, "0xtx1", 1700000000000,
		openedPayload("pos-1", 10_000_000, 1_000_000, 50_000_000_000, 0)))
	require.NoError(t, ix.Sync(ctx))

	// Flip LONG(10) to SHORT(4).
	require.NoError(t, source.Emit(domain.EventPositionUpdated, 9, "0xtx3", 1700000200000, map[string]any{
		"position_id":     "pos-1",
		"user":            "0xAlice",
		"market_id":       "BTC-PERP",
		"new_size":        4_000_000,
		"new_collateral":  500_000,
		"new_entry_price": 51_000_000_000,
		"direction":       1,
	}))
	require.NoError(t, ix.Sync(ctx))

	market, err := store.Stores().Markets.GetByID(ctx, "BTC-PERP")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, market.TotalLongOI, 1e-9)
	assert.InDelta(t, 4.0, market.TotalShortOI, 1e-9)

	pos, err := store.Stores().Positions.GetByPositionID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SideShort, pos.Side)
	assert.InDelta(t, 8.0, pos.Leverage, 1e-9)
}

func TestSyncLiquidationWritesAuditRow(t *testing.T) {
	ix, store, source, sink := newTestIndexer(t)
	ctx := context.Background()

	require.NoError(t, source.Emit(domain.EventPositionOpened, 5, "0xtx1", 1700000000000,
		openedPayload("pos-1", 10_000_000, 1_000_000, 50_000_000_000, 0)))
	require.NoError(t, source.Emit(domain.EventPositionLiquidated, 7, "0xtx4", 1700000300000, map[string]any{
		"position_id": "pos-1",
		"owner":       "0xAlice",
		"liquidator":  "0xKeeper",
		"market_id":   "BTC-PERP",
		"size":        10_000_000,
		"collateral":  1_000_000,
		"pnl":         950_000_000,
		"is_profit":   false,
	}))

	require.NoError(t, ix.Sync(ctx))

	pos, err := store.Stores().Positions.GetByPositionID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusLiquidated, pos.Status)
	assert.InDelta(t, -950.0, pos.RealizedPnL, 1e-9)

	recs, err := store.Stores().Liquidations.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "0xkeeper", recs[0].LiquidatorAddress)
	// Fee is derived from the market's 1% rate on the 1.0 collateral.
	assert.InDelta(t, 0.01, recs[0].LiquidationFee, 1e-9)
	// entry 50000, 10x long, 5% mmr: 50000*(1-0.1+0.05).
	assert.InDelta(t, 47500.0, recs[0].LiquidationPrice, 1e-6)

	market, err := store.Stores().Markets.GetByID(ctx, "BTC-PERP")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, market.TotalLongOI, 1e-9)

	require.Len(t, sink.notes, 2)
	assert.Equal(t, domain.NotifyPositionLiquidated, sink.notes[1].Type)
}

func TestSyncLiquidationOfSettledPositionIsNoOp(t *testing.T) {
	ix, store, source, _ := newTestIndexer(t)
	ctx := context.Background()

	require.NoError(t, source.Emit(domain.EventPositionOpened, 5, "0xtx1", 1700000000000,
		openedPayload("pos-1", 10_000_000, 1_000_000, 50_000_000_000, 0)))
	require.NoError(t, source.Emit(domain.EventPositionClosed, 6, "0xtx2", 1700000100000, map[string]any{
		"position_id":         "pos-1",
		"user":                "0xAlice",
		"market_id":           "BTC-PERP",
		"close_price":         51_000_000_000,
		"size":                10_000_000,
		"collateral_returned": 1_010_000,
		"pnl":                 10_000_000_000,
		"is_profit":           true,
	}))
	require.NoError(t, ix.Sync(ctx))

	// A late liquidation for the already-closed position is skipped, so OI
	// is not subtracted twice.
	require.NoError(t, source.Emit(domain.EventPositionLiquidated, 9, "0xtx4", 1700000300000, map[string]any{
		"position_id": "pos-1",
		"owner":       "0xAlice",
		"liquidator":  "0xKeeper",
		"market_id":   "BTC-PERP",
		"size":        10_000_000,
		"collateral":  1_000_000,
		"pnl":         950_000_000,
		"is_profit":   false,
	}))
	require.NoError(t, ix.Sync(ctx))

	pos, err := store.Stores().Positions.GetByPositionID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)

	recs, err := store.Stores().Liquidations.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	market, err := store.Stores().Markets.GetByID(ctx, "BTC-PERP")
	require.NoError(t, err)
	assert.InDelta(t, 0.0, market.TotalLongOI, 1e-9)
}

func TestSyncSkipsMalformedEvents(t *testing.T) {
	ix, store, source, _ := newTestIndexer(t)
	ctx := context.Background()

	source.EmitRaw(domain.EventPositionOpened, 4, domain.RawEvent{
		TxHash:      "0xbad",
		TimestampMs: 1700000000000,
		Payload:     []byte(`{"position_id": ""}`),
	})
	require.NoError(t, source.Emit(domain.EventPositionOpened, 5, "0xtx1", 1700000000000,
		openedPayload("pos-1", 10_000_000, 1_000_000, 50_000_000_000, 0)))

	require.NoError(t, ix.Sync(ctx))

	_, err := store.Stores().Positions.GetByPositionID(ctx, "pos-1")
	require.NoError(t, err)

	cp, err := store.Stores().Checkpoints.Get(ctx, testChainID)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cp.LastSyncedCursor)
}

func TestSyncRetriesFromCheckpointAfterFailure(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.Stores().Markets.Upsert(context.Background(), testMarket()))
	source := chain.NewMockSource()
	runner := &failingRunner{inner: store, fail: true}
	ix := New(source, runner, store.Stores(), nil, Config{ChainID: testChainID}, slog.Default())
	ctx := context.Background()

	require.NoError(t, source.Emit(domain.EventPositionOpened, 5, "0xtx1", 1700000000000,
		openedPayload("pos-1", 10_000_000, 1_000_000, 50_000_000_000, 0)))

	// The whole sub-batch fails; nothing may be visible.
	require.Error(t, ix.Sync(ctx))
	_, err := store.Stores().Positions.GetByPositionID(ctx, "pos-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cp, err := store.Stores().Checkpoints.Get(ctx, testChainID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cp.LastSyncedCursor)

	// Next poll replays the same range.
	runner.fail = false
	require.NoError(t, ix.Sync(ctx))

	pos, err := store.Stores().Positions.GetByPositionID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
}

func TestSyncSplitsIntoSubBatches(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.Stores().Markets.Upsert(context.Background(), testMarket()))
	source := chain.NewMockSource()
	ix := New(source, store, store.Stores(), nil, Config{ChainID: testChainID, BatchSize: 10}, slog.Default())
	ctx := context.Background()

	require.NoError(t, source.Emit(domain.EventPositionOpened, 5, "0xtx1", 1700000000000,
		openedPayload("pos-1", 10_000_000, 1_000_000, 50_000_000_000, 0)))
	require.NoError(t, source.Emit(domain.EventPositionOpened, 15, "0xtx2", 1700000100000,
		openedPayload("pos-2", 5_000_000, 1_000_000, 50_000_000_000, 1)))
	require.NoError(t, source.Emit(domain.EventPositionOpened, 25, "0xtx3", 1700000200000,
		openedPayload("pos-3", 2_000_000, 1_000_000, 50_000_000_000, 0)))
	source.SetHead(25)

	require.NoError(t, ix.Sync(ctx))

	cp, err := store.Stores().Checkpoints.Get(ctx, testChainID)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), cp.LastSyncedCursor)

	market, err := store.Stores().Markets.GetByID(ctx, "BTC-PERP")
	require.NoError(t, err)
	assert.InDelta(t, 12.0, market.TotalLongOI, 1e-9)
	assert.InDelta(t, 5.0, market.TotalShortOI, 1e-9)
}
