package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumodex/perpd/internal/domain"
)

func openPosition(id string) domain.Position {
	return domain.Position{
		PositionID:  id,
		MarketID:    "BTC-PERP",
		UserAddress: "0xalice",
		Side:        domain.SideLong,
		Size:        10,
		Collateral:  1000,
		EntryPrice:  50000,
		Status:      domain.PositionStatusOpen,
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	store := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(ctx context.Context, s domain.Stores) error {
		require.NoError(t, s.Positions.Create(ctx, openPosition("pos-1")))
		require.NoError(t, s.Checkpoints.Init(ctx, 1, 10))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Stores().Positions.GetByPositionID(ctx, "pos-1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "failed tx must leave no trace")
	_, err = store.Stores().Checkpoints.Get(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInTxCommitsOnSuccess(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.InTx(ctx, func(ctx context.Context, s domain.Stores) error {
		return s.Positions.Create(ctx, openPosition("pos-1"))
	})
	require.NoError(t, err)

	pos, err := store.Stores().Positions.GetByPositionID(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
}

func TestCheckpointAdvanceIsMonotonic(t *testing.T) {
	store := New()
	ctx := context.Background()
	cps := store.Stores().Checkpoints

	require.NoError(t, cps.Init(ctx, 1, 100))
	require.NoError(t, cps.Advance(ctx, 1, 150))

	// Moving backwards or standing still is rejected.
	assert.Error(t, cps.Advance(ctx, 1, 150))
	assert.Error(t, cps.Advance(ctx, 1, 120))

	cp, err := cps.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), cp.LastSyncedCursor)
}

func TestSettledPositionIsImmutable(t *testing.T) {
	store := New()
	ctx := context.Background()
	positions := store.Stores().Positions

	require.NoError(t, positions.Create(ctx, openPosition("pos-1")))
	require.NoError(t, positions.Settle(ctx, domain.SettleParams{
		PositionID:  "pos-1",
		Status:      domain.PositionStatusClosed,
		RealizedPnL: 5,
		CloseTxHash: "0xclose",
		ClosedAt:    time.Now().UTC(),
	}))

	_, err := positions.GetOpenByPositionID(ctx, "pos-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pos, err := positions.GetByPositionID(ctx, "pos-1")
	require.NoError(t, err)
	pos.Size = 99
	assert.Error(t, positions.Update(ctx, pos))
	assert.Error(t, positions.Settle(ctx, domain.SettleParams{
		PositionID: "pos-1",
		Status:     domain.PositionStatusLiquidated,
	}))
}

func TestOpenInterestClampsAtZero(t *testing.T) {
	store := New()
	ctx := context.Background()
	markets := store.Stores().Markets

	require.NoError(t, markets.Upsert(ctx, domain.Market{
		MarketID: "BTC-PERP",
		Symbol:   "BTC/USD",
		Status:   domain.MarketStatusActive,
	}))
	require.NoError(t, markets.AdjustOpenInterest(ctx, "BTC-PERP", 5, 0))
	require.NoError(t, markets.AdjustOpenInterest(ctx, "BTC-PERP", -8, -1))

	m, err := markets.GetByID(ctx, "BTC-PERP")
	require.NoError(t, err)
	assert.Zero(t, m.TotalLongOI)
	assert.Zero(t, m.TotalShortOI)
}
