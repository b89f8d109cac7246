// Package funding periodically recomputes funding rates from open-interest
// imbalance. A skewed market pays the crowded side's rate to the other side,
// nudging open interest back toward balance.
package funding

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tumodex/perpd/internal/domain"
)

// Rate returns the funding rate for the given open-interest split: the
// imbalance ratio scaled by the market's cap and clamped to ±maxRate. Empty
// markets rate at zero.
func Rate(longOI, shortOI, maxRate float64) float64 {
	total := longOI + shortOI
	if total == 0 {
		return 0
	}
	rate := (longOI - shortOI) / total * maxRate
	if rate > maxRate {
		return maxRate
	}
	if rate < -maxRate {
		return -maxRate
	}
	return rate
}

// Payment returns what one position owes for a funding interval: positive
// when the position pays, negative when it receives. Longs pay when the
// rate is positive, shorts when it is negative.
func Payment(size, rate float64, side domain.PositionSide) float64 {
	if side.IsLong() {
		return size * rate
	}
	return -size * rate
}

// Scheduler updates each active market's funding rate once its interval has
// elapsed.
type Scheduler struct {
	stores      domain.Stores
	runner      domain.TxRunner
	broadcaster domain.Broadcaster
	sink        domain.NotificationSink
	now         func() time.Time
	logger      *slog.Logger
}

// NewScheduler creates a Scheduler. broadcaster and sink may be nil.
func NewScheduler(stores domain.Stores, runner domain.TxRunner, broadcaster domain.Broadcaster, sink domain.NotificationSink, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		stores:      stores,
		runner:      runner,
		broadcaster: broadcaster,
		sink:        sink,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "funding_scheduler")),
	}
}

// RunLoop runs Tick on the given interval until ctx is cancelled. The first
// tick happens immediately.
func (f *Scheduler) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := f.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Error("tick failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick checks every active market and updates the ones whose funding
// interval has elapsed. Per-market failures are isolated.
func (f *Scheduler) Tick(ctx context.Context) error {
	markets, err := f.stores.Markets.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("funding: list active markets: %w", err)
	}
	for _, market := range markets {
		if err := f.updateMarket(ctx, market); err != nil {
			f.logger.Error("market funding update failed",
				slog.String("market_id", market.MarketID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (f *Scheduler) updateMarket(ctx context.Context, market domain.Market) error {
	now := f.now().UTC()
	if market.LastFundingUpdate != nil && now.Sub(*market.LastFundingUpdate) < market.FundingRateInterval {
		return nil
	}

	// The interval gate and the OI snapshot are re-read inside the
	// transaction: the indexer or another instance may have moved the
	// market since Tick listed it. The rate change and its history row
	// land in the same transaction.
	var rate float64
	applied := false
	err := f.runner.InTx(ctx, func(ctx context.Context, s domain.Stores) error {
		fresh, err := s.Markets.GetByID(ctx, market.MarketID)
		if err != nil {
			return err
		}
		if fresh.LastFundingUpdate != nil && now.Sub(*fresh.LastFundingUpdate) < fresh.FundingRateInterval {
			return nil
		}
		rate = Rate(fresh.TotalLongOI, fresh.TotalShortOI, fresh.MaxFundingRate)
		if err := s.Markets.UpdateFunding(ctx, fresh.MarketID, rate, now); err != nil {
			return err
		}
		if err := s.Funding.Insert(ctx, domain.FundingRate{
			MarketID:  fresh.MarketID,
			Rate:      rate,
			LongOI:    fresh.TotalLongOI,
			ShortOI:   fresh.TotalShortOI,
			Timestamp: now,
		}); err != nil {
			return err
		}
		market = fresh
		applied = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("funding: update %s: %w", market.MarketID, err)
	}
	if !applied {
		return nil
	}

	f.logger.Info("funding rate updated",
		slog.String("market_id", market.MarketID),
		slog.Float64("rate", rate),
		slog.Float64("long_oi", market.TotalLongOI),
		slog.Float64("short_oi", market.TotalShortOI))

	f.broadcast(ctx, market, rate, now)
	return nil
}

func (f *Scheduler) broadcast(ctx context.Context, market domain.Market, rate float64, at time.Time) {
	if f.broadcaster != nil {
		payload, err := json.Marshal(map[string]any{
			"type":         "funding_rate_update",
			"market_id":    market.MarketID,
			"funding_rate": rate,
			"long_oi":      market.TotalLongOI,
			"short_oi":     market.TotalShortOI,
			"timestamp":    at,
		})
		if err == nil {
			if err := f.broadcaster.Publish(ctx, "market:"+market.MarketID, payload); err != nil {
				f.logger.Warn("funding broadcast failed",
					slog.String("market_id", market.MarketID),
					slog.String("error", err.Error()))
			}
		}
	}
	if f.sink != nil {
		note := domain.Notification{
			Type:     domain.NotifyFundingUpdate,
			MarketID: market.MarketID,
			Title:    fmt.Sprintf("Funding update: %s", market.Symbol),
			Message:  fmt.Sprintf("Rate %.6f", rate),
			Data: map[string]any{
				"funding_rate": rate,
				"long_oi":      market.TotalLongOI,
				"short_oi":     market.TotalShortOI,
			},
		}
		if err := f.sink.Push(ctx, note); err != nil {
			f.logger.Warn("funding notification failed",
				slog.String("market_id", market.MarketID),
				slog.String("error", err.Error()))
		}
	}
}
