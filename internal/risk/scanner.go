package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tumodex/perpd/internal/domain"
)

// ScannerConfig tunes the liquidation scan.
type ScannerConfig struct {
	// MinHealthFactor marks a position liquidatable at or below this value.
	MinHealthFactor float64
	// MaxPriceAge rejects oracle samples older than this.
	MaxPriceAge time.Duration
	// MaxConfidenceRatio rejects samples whose confidence interval exceeds
	// this fraction of the price.
	MaxConfidenceRatio float64
	// Cooldown debounces re-evaluation of the same position.
	Cooldown time.Duration
	// RewardRate is the liquidator's share of the liquidation fee.
	RewardRate float64
	// AutoSubmit hands candidates to the transaction submitter.
	AutoSubmit bool
}

// Scanner finds open positions whose health factor has fallen to the
// liquidation threshold. Candidates are recomputed from scratch every cycle;
// nothing about them is persisted.
type Scanner struct {
	stores    domain.Stores
	prices    domain.PriceFeed
	cooldown  domain.CooldownCache
	submitter domain.TransactionSubmitter
	sink      domain.NotificationSink
	cfg       ScannerConfig
	now       func() time.Time
	logger    *slog.Logger
}

// NewScanner creates a Scanner. submitter and sink may be nil.
func NewScanner(stores domain.Stores, prices domain.PriceFeed, cooldown domain.CooldownCache, submitter domain.TransactionSubmitter, sink domain.NotificationSink, cfg ScannerConfig, logger *slog.Logger) *Scanner {
	if cfg.MinHealthFactor == 0 {
		cfg.MinHealthFactor = 1.0
	}
	if cfg.MaxPriceAge == 0 {
		cfg.MaxPriceAge = 30 * time.Second
	}
	if cfg.MaxConfidenceRatio == 0 {
		cfg.MaxConfidenceRatio = 0.01
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Scanner{
		stores:    stores,
		prices:    prices,
		cooldown:  cooldown,
		submitter: submitter,
		sink:      sink,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "risk_scanner")),
	}
}

// RunLoop runs Check on the given interval until ctx is cancelled. The
// first check happens immediately.
func (sc *Scanner) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := sc.Check(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sc.logger.Error("check failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Check scans for candidates and, when auto-submit is on, hands each one to
// the submitter. Per-candidate submission failures are isolated.
func (sc *Scanner) Check(ctx context.Context) ([]domain.LiquidationCandidate, error) {
	candidates, err := sc.Scan(ctx)
	if err != nil {
		return nil, err
	}
	if !sc.cfg.AutoSubmit || sc.submitter == nil {
		return candidates, nil
	}

	for _, cand := range candidates {
		ref, err := sc.submitter.SubmitLiquidation(ctx, cand.PositionID)
		if err != nil {
			sc.logger.Error("liquidation submission failed",
				slog.String("position_id", cand.PositionID),
				slog.String("error", err.Error()))
			continue
		}
		sc.logger.Info("liquidation submitted",
			slog.String("position_id", cand.PositionID),
			slog.String("ref", ref.Ref),
			slog.String("status", string(ref.Status)))
	}
	return candidates, nil
}

// Scan evaluates every open position against its market's oracle price and
// returns the liquidatable ones, sorted by potential reward descending.
// Positions with stale, low-confidence, or missing prices are never
// candidates, and neither are positions checked within the cooldown window.
func (sc *Scanner) Scan(ctx context.Context) ([]domain.LiquidationCandidate, error) {
	joins, err := sc.stores.Positions.ListOpenWithMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk: list open positions: %w", err)
	}
	if len(joins) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	var feedIDs []string
	for _, j := range joins {
		if !seen[j.Market.PythPriceID] {
			seen[j.Market.PythPriceID] = true
			feedIDs = append(feedIDs, j.Market.PythPriceID)
		}
	}
	prices, err := sc.prices.LatestPrices(ctx, feedIDs)
	if err != nil {
		return nil, fmt.Errorf("risk: fetch prices: %w", err)
	}

	now := sc.now()
	var candidates []domain.LiquidationCandidate
	for _, j := range joins {
		pos, market := j.Position, j.Market

		onCooldown, err := sc.cooldown.OnCooldown(ctx, pos.PositionID)
		if err != nil {
			sc.logger.Warn("cooldown check failed",
				slog.String("position_id", pos.PositionID),
				slog.String("error", err.Error()))
		} else if onCooldown {
			continue
		}

		sample, ok := prices[market.PythPriceID]
		if !ok {
			sc.logger.Warn("no price for market", slog.String("market_id", market.MarketID))
			continue
		}
		if !sample.Fresh(now, sc.cfg.MaxPriceAge) {
			sc.logger.Warn("stale price for market",
				slog.String("market_id", market.MarketID),
				slog.Duration("age", sample.Age(now)))
			continue
		}
		if !sample.Confident(sc.cfg.MaxConfidenceRatio) {
			sc.logger.Warn("low confidence price for market",
				slog.String("market_id", market.MarketID))
			continue
		}

		// Funding owed reduces equity.
		equity := pos.Collateral - pos.AccumulatedFunding
		hf := HealthFactor(equity, pos.Size, pos.EntryPrice, sample.Price, pos.Side, market.MaintenanceMarginRate)
		if hf > sc.cfg.MinHealthFactor {
			continue
		}

		fee := pos.Collateral * market.LiquidationFeeRate
		cand := domain.LiquidationCandidate{
			PositionID:       pos.PositionID,
			UserAddress:      pos.UserAddress,
			MarketID:         pos.MarketID,
			CurrentPrice:     sample.Price,
			HealthFactor:     hf,
			LiquidationPrice: LiquidationPrice(pos.EntryPrice, pos.Leverage, pos.Side, market.MaintenanceMarginRate),
			Collateral:       pos.Collateral,
			PotentialReward:  fee * sc.cfg.RewardRate,
		}
		candidates = append(candidates, cand)

		if err := sc.cooldown.Touch(ctx, pos.PositionID, sc.cfg.Cooldown); err != nil {
			sc.logger.Warn("cooldown touch failed",
				slog.String("position_id", pos.PositionID),
				slog.String("error", err.Error()))
		}

		sc.logger.Info("liquidation candidate",
			slog.String("position_id", pos.PositionID),
			slog.Float64("health_factor", hf),
			slog.Float64("potential_reward", cand.PotentialReward))

		sc.warn(ctx, pos, market, cand)
	}

	// Highest reward first; position id breaks ties deterministically.
	sort.SliceStable(candidates, func(i, k int) bool {
		if candidates[i].PotentialReward != candidates[k].PotentialReward {
			return candidates[i].PotentialReward > candidates[k].PotentialReward
		}
		return candidates[i].PositionID < candidates[k].PositionID
	})
	return candidates, nil
}

func (sc *Scanner) warn(ctx context.Context, pos domain.Position, market domain.Market, cand domain.LiquidationCandidate) {
	if sc.sink == nil {
		return
	}
	note := domain.Notification{
		Type:        domain.NotifyLiquidationWarning,
		UserAddress: pos.UserAddress,
		MarketID:    pos.MarketID,
		Title:       fmt.Sprintf("Liquidation risk: %s", market.Symbol),
		Message: fmt.Sprintf("Health factor %.4f at price %.2f, liquidation near %.2f",
			cand.HealthFactor, cand.CurrentPrice, cand.LiquidationPrice),
		Data: map[string]any{
			"position_id":       pos.PositionID,
			"health_factor":     cand.HealthFactor,
			"current_price":     cand.CurrentPrice,
			"liquidation_price": cand.LiquidationPrice,
		},
	}
	if err := sc.sink.Push(ctx, note); err != nil {
		sc.logger.Warn("liquidation warning delivery failed",
			slog.String("position_id", pos.PositionID),
			slog.String("error", err.Error()))
	}
}
