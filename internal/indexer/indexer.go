// Package indexer mirrors on-ledger position lifecycle events into the
// relational store. Sync progress is tracked by a per-chain checkpoint
// cursor; each sub-batch of cursors is applied in a single transaction
// together with the cursor advance, so a crash never leaves half-applied
// state and re-processing is idempotent.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tumodex/perpd/internal/chain"
	"github.com/tumodex/perpd/internal/domain"
)

// Indexer drives the sync loop for one chain.
type Indexer struct {
	source      domain.EventSource
	runner      domain.TxRunner
	stores      domain.Stores
	sink        domain.NotificationSink
	chainID     int64
	startCursor uint64
	batchSize   uint64
	logger      *slog.Logger
}

// Config holds the indexer's construction parameters.
type Config struct {
	ChainID     int64
	StartCursor uint64
	// BatchSize is the maximum number of cursors applied per transaction.
	BatchSize uint64
}

// New creates an Indexer. stores are autocommit views used for reads
// outside transactions; writes go through runner. sink may be nil.
func New(source domain.EventSource, runner domain.TxRunner, stores domain.Stores, sink domain.NotificationSink, cfg Config, logger *slog.Logger) *Indexer {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
	return &Indexer{
		source:      source,
		runner:      runner,
		stores:      stores,
		sink:        sink,
		chainID:     cfg.ChainID,
		startCursor: cfg.StartCursor,
		batchSize:   cfg.BatchSize,
		logger:      logger.With(slog.String("component", "indexer")),
	}
}

// RunLoop runs Sync on the given interval until ctx is cancelled. The first
// sync happens immediately. Sync errors are logged; the next tick retries
// from the last committed checkpoint.
func (ix *Indexer) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := ix.Sync(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ix.logger.Error("sync failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sync advances the checkpoint cursor to the chain head, applying events in
// sub-batches of at most batchSize cursors.
func (ix *Indexer) Sync(ctx context.Context) error {
	cursor, err := ix.loadCursor(ctx)
	if err != nil {
		return err
	}
	head, err := ix.source.LatestCursor(ctx)
	if err != nil {
		return fmt.Errorf("indexer: latest cursor: %w", err)
	}
	if head <= cursor {
		return nil
	}

	ix.logger.Info("syncing",
		slog.Uint64("from", cursor+1),
		slog.Uint64("to", head))

	for from := cursor + 1; from <= head; {
		to := min(from+ix.batchSize-1, head)
		if err := ix.syncRange(ctx, from, to); err != nil {
			return err
		}
		from = to + 1
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Indexer) loadCursor(ctx context.Context) (uint64, error) {
	cp, err := ix.stores.Checkpoints.Get(ctx, ix.chainID)
	if err == nil {
		return cp.LastSyncedCursor, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("indexer: load checkpoint: %w", err)
	}
	if err := ix.stores.Checkpoints.Init(ctx, ix.chainID, ix.startCursor); err != nil {
		return 0, fmt.Errorf("indexer: init checkpoint: %w", err)
	}
	return ix.startCursor, nil
}

// eventBatch holds the four category slices for one cursor range, fetched
// before the transaction opens so no network call happens inside it.
type eventBatch struct {
	opened     []domain.RawEvent
	closed     []domain.RawEvent
	updated    []domain.RawEvent
	liquidated []domain.RawEvent
}

func (ix *Indexer) fetchBatch(ctx context.Context, from, to uint64) (eventBatch, error) {
	var b eventBatch
	var err error
	if b.opened, err = ix.source.QueryEvents(ctx, domain.EventPositionOpened, from, to); err != nil {
		return b, fmt.Errorf("indexer: query opened events: %w", err)
	}
	if b.closed, err = ix.source.QueryEvents(ctx, domain.EventPositionClosed, from, to); err != nil {
		return b, fmt.Errorf("indexer: query closed events: %w", err)
	}
	if b.updated, err = ix.source.QueryEvents(ctx, domain.EventPositionUpdated, from, to); err != nil {
		return b, fmt.Errorf("indexer: query updated events: %w", err)
	}
	if b.liquidated, err = ix.source.QueryEvents(ctx, domain.EventPositionLiquidated, from, to); err != nil {
		return b, fmt.Errorf("indexer: query liquidated events: %w", err)
	}
	return b, nil
}

// syncRange applies one sub-batch atomically: all four categories in fixed
// order, then the checkpoint advance, in a single transaction.
// Notifications are collected during the transaction and delivered only
// after it commits.
func (ix *Indexer) syncRange(ctx context.Context, from, to uint64) error {
	batch, err := ix.fetchBatch(ctx, from, to)
	if err != nil {
		return err
	}

	var notes []domain.Notification
	err = ix.runner.InTx(ctx, func(ctx context.Context, s domain.Stores) error {
		notes = notes[:0]
		for _, raw := range batch.opened {
			note, err := ix.applyOpened(ctx, s, raw)
			if err != nil {
				return err
			}
			if note != nil {
				notes = append(notes, *note)
			}
		}
		for _, raw := range batch.closed {
			note, err := ix.applyClosed(ctx, s, raw)
			if err != nil {
				return err
			}
			if note != nil {
				notes = append(notes, *note)
			}
		}
		for _, raw := range batch.updated {
			note, err := ix.applyUpdated(ctx, s, raw)
			if err != nil {
				return err
			}
			if note != nil {
				notes = append(notes, *note)
			}
		}
		for _, raw := range batch.liquidated {
			note, err := ix.applyLiquidated(ctx, s, raw)
			if err != nil {
				return err
			}
			if note != nil {
				notes = append(notes, *note)
			}
		}
		if err := s.Checkpoints.Advance(ctx, ix.chainID, to); err != nil {
			return fmt.Errorf("advance checkpoint to %d: %w", to, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("indexer: apply range [%d, %d]: %w", from, to, err)
	}

	ix.logger.Info("range applied",
		slog.Uint64("from", from),
		slog.Uint64("to", to),
		slog.Int("opened", len(batch.opened)),
		slog.Int("closed", len(batch.closed)),
		slog.Int("updated", len(batch.updated)),
		slog.Int("liquidated", len(batch.liquidated)))

	ix.deliver(ctx, notes)
	return nil
}

func (ix *Indexer) deliver(ctx context.Context, notes []domain.Notification) {
	if ix.sink == nil {
		return
	}
	for _, note := range notes {
		if err := ix.sink.Push(ctx, note); err != nil {
			ix.logger.Warn("notification delivery failed",
				slog.String("type", string(note.Type)),
				slog.String("error", err.Error()))
		}
	}
}

func (ix *Indexer) applyOpened(ctx context.Context, s domain.Stores, raw domain.RawEvent) (*domain.Notification, error) {
	ev, err := chain.ParseOpened(raw)
	if err != nil {
		ix.logger.Warn("skipping malformed opened event",
			slog.String("tx", raw.TxHash),
			slog.String("error", err.Error()))
		return nil, nil
	}

	pos := domain.Position{
		PositionID:      ev.PositionID,
		MarketID:        ev.MarketID,
		UserAddress:     strings.ToLower(ev.Owner),
		Side:            ev.Side,
		Size:            ev.Size,
		Collateral:      ev.Collateral,
		Leverage:        domain.DeriveLeverage(ev.Size, ev.Collateral),
		EntryPrice:      ev.EntryPrice,
		Status:          domain.PositionStatusOpen,
		TransactionHash: ev.TxHash,
		CreatedAt:       ev.Timestamp,
	}
	if err := s.Positions.Create(ctx, pos); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Replay of an already-indexed event.
			return nil, nil
		}
		return nil, fmt.Errorf("create position %s: %w", ev.PositionID, err)
	}

	if err := ix.adjustOI(ctx, s, ev.MarketID, ev.Side, ev.Size); err != nil {
		return nil, err
	}

	market := ix.marketOrZero(ctx, s, ev.MarketID)
	return openedNotification(pos, market), nil
}

func (ix *Indexer) applyClosed(ctx context.Context, s domain.Stores, raw domain.RawEvent) (*domain.Notification, error) {
	ev, err := chain.ParseClosed(raw)
	if err != nil {
		ix.logger.Warn("skipping malformed closed event",
			slog.String("tx", raw.TxHash),
			slog.String("error", err.Error()))
		return nil, nil
	}

	pos, err := s.Positions.GetOpenByPositionID(ctx, ev.PositionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			ix.logger.Warn("no open position for close",
				slog.String("position_id", ev.PositionID))
			return nil, nil
		}
		return nil, fmt.Errorf("load position %s: %w", ev.PositionID, err)
	}

	exitPrice := ev.ClosePrice
	err = s.Positions.Settle(ctx, domain.SettleParams{
		PositionID:  pos.PositionID,
		Status:      domain.PositionStatusClosed,
		RealizedPnL: ev.PnL,
		ExitPrice:   &exitPrice,
		CloseTxHash: ev.TxHash,
		ClosedAt:    ev.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("settle position %s: %w", pos.PositionID, err)
	}

	if err := ix.adjustOI(ctx, s, pos.MarketID, pos.Side, -pos.Size); err != nil {
		return nil, err
	}

	market := ix.marketOrZero(ctx, s, pos.MarketID)
	return closedNotification(pos, ev, market), nil
}

func (ix *Indexer) applyUpdated(ctx context.Context, s domain.Stores, raw domain.RawEvent) (*domain.Notification, error) {
	ev, err := chain.ParseUpdated(raw)
	if err != nil {
		ix.logger.Warn("skipping malformed updated event",
			slog.String("tx", raw.TxHash),
			slog.String("error", err.Error()))
		return nil, nil
	}

	pos, err := s.Positions.GetOpenByPositionID(ctx, ev.PositionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			ix.logger.Warn("no open position for update",
				slog.String("position_id", ev.PositionID))
			return nil, nil
		}
		return nil, fmt.Errorf("load position %s: %w", ev.PositionID, err)
	}

	oldSide, oldSize := pos.Side, pos.Size

	pos.Side = ev.NewSide
	pos.Size = ev.NewSize
	pos.Collateral = ev.NewCollateral
	pos.EntryPrice = ev.NewEntryPrice
	pos.Leverage = domain.DeriveLeverage(ev.NewSize, ev.NewCollateral)
	if err := s.Positions.Update(ctx, pos); err != nil {
		return nil, fmt.Errorf("update position %s: %w", pos.PositionID, err)
	}

	if err := ix.adjustOIOnUpdate(ctx, s, pos.MarketID, oldSide, oldSize, ev.NewSide, ev.NewSize); err != nil {
		return nil, err
	}

	market := ix.marketOrZero(ctx, s, pos.MarketID)
	return updatedNotification(pos, market), nil
}

func (ix *Indexer) applyLiquidated(ctx context.Context, s domain.Stores, raw domain.RawEvent) (*domain.Notification, error) {
	ev, err := chain.ParseLiquidated(raw)
	if err != nil {
		ix.logger.Warn("skipping malformed liquidated event",
			slog.String("tx", raw.TxHash),
			slog.String("error", err.Error()))
		return nil, nil
	}

	pos, err := s.Positions.GetOpenByPositionID(ctx, ev.PositionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			ix.logger.Warn("no open position for liquidation",
				slog.String("position_id", ev.PositionID))
			return nil, nil
		}
		return nil, fmt.Errorf("load position %s: %w", ev.PositionID, err)
	}

	market, err := s.Markets.GetByID(ctx, pos.MarketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			ix.logger.Warn("no market for liquidation",
				slog.String("market_id", pos.MarketID),
				slog.String("position_id", pos.PositionID))
			return nil, nil
		}
		return nil, fmt.Errorf("load market %s: %w", pos.MarketID, err)
	}

	// The event carries no fee; it is derived from the market's fee rate.
	fee := pos.Collateral * market.LiquidationFeeRate

	err = s.Positions.Settle(ctx, domain.SettleParams{
		PositionID:  pos.PositionID,
		Status:      domain.PositionStatusLiquidated,
		RealizedPnL: ev.PnL,
		CloseTxHash: ev.TxHash,
		ClosedAt:    ev.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("settle position %s: %w", pos.PositionID, err)
	}

	rec := domain.LiquidationRecord{
		PositionID:        pos.PositionID,
		MarketID:          pos.MarketID,
		UserAddress:       strings.ToLower(ev.Owner),
		LiquidatorAddress: strings.ToLower(ev.Liquidator),
		LiquidationPrice:  liquidationPrice(pos, market),
		Collateral:        ev.Collateral,
		LiquidationFee:    fee,
		TransactionHash:   ev.TxHash,
		Timestamp:         ev.Timestamp,
	}
	if err := s.Liquidations.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create liquidation record %s: %w", pos.PositionID, err)
	}

	if err := ix.adjustOI(ctx, s, pos.MarketID, pos.Side, -pos.Size); err != nil {
		return nil, err
	}

	return liquidatedNotification(pos, market, rec), nil
}

// adjustOI applies a signed size delta to one side of a market's open
// interest. A missing market is tolerated: positions can reference markets
// the mirror has not seen yet.
func (ix *Indexer) adjustOI(ctx context.Context, s domain.Stores, marketID string, side domain.PositionSide, delta float64) error {
	var longDelta, shortDelta float64
	if side.IsLong() {
		longDelta = delta
	} else {
		shortDelta = delta
	}
	err := s.Markets.AdjustOpenInterest(ctx, marketID, longDelta, shortDelta)
	if errors.Is(err, domain.ErrNotFound) {
		ix.logger.Warn("no market for OI update", slog.String("market_id", marketID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("adjust OI for %s: %w", marketID, err)
	}
	return nil
}

// adjustOIOnUpdate reconciles open interest after a position update. Same
// side applies the size delta; a direction flip removes the old size from
// one side and adds the new size to the other, in a single adjustment.
func (ix *Indexer) adjustOIOnUpdate(ctx context.Context, s domain.Stores, marketID string, oldSide domain.PositionSide, oldSize float64, newSide domain.PositionSide, newSize float64) error {
	var longDelta, shortDelta float64
	if oldSide == newSide {
		delta := newSize - oldSize
		if delta == 0 {
			return nil
		}
		if oldSide.IsLong() {
			longDelta = delta
		} else {
			shortDelta = delta
		}
	} else {
		if oldSide.IsLong() {
			longDelta = -oldSize
			shortDelta = newSize
		} else {
			shortDelta = -oldSize
			longDelta = newSize
		}
	}
	err := s.Markets.AdjustOpenInterest(ctx, marketID, longDelta, shortDelta)
	if errors.Is(err, domain.ErrNotFound) {
		ix.logger.Warn("no market for OI update", slog.String("market_id", marketID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("adjust OI for %s: %w", marketID, err)
	}
	return nil
}

// marketOrZero fetches a market for notification enrichment, returning the
// zero value when it is unknown.
func (ix *Indexer) marketOrZero(ctx context.Context, s domain.Stores, marketID string) domain.Market {
	market, err := s.Markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{MarketID: marketID, Symbol: marketID}
	}
	return market
}
