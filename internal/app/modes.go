package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/tumodex/perpd/internal/chain"
	"github.com/tumodex/perpd/internal/domain"
	"github.com/tumodex/perpd/internal/funding"
	"github.com/tumodex/perpd/internal/indexer"
	"github.com/tumodex/perpd/internal/oracle"
	"github.com/tumodex/perpd/internal/pipeline"
	"github.com/tumodex/perpd/internal/risk"
)

func (a *App) intervals() pipeline.Intervals {
	return pipeline.Intervals{
		Indexer: a.cfg.Indexer.PollInterval(),
		Risk:    a.cfg.Risk.CheckInterval(),
		Funding: a.cfg.Funding.CheckInterval(),
	}
}

func (a *App) buildIndexer(deps *Dependencies) *indexer.Indexer {
	return indexer.New(deps.Source, deps.Runner, deps.Stores, deps.Notifier, indexer.Config{
		ChainID:     a.cfg.Chain.ChainID,
		StartCursor: a.cfg.Chain.StartCursor,
		BatchSize:   a.cfg.Indexer.BatchSize,
	}, a.logger)
}

func (a *App) buildScanner(deps *Dependencies) *risk.Scanner {
	submitter := risk.NewLoggingSubmitter(deps.Stores, a.logger)
	return risk.NewScanner(deps.Stores, deps.Prices, deps.Cooldown, submitter, deps.Notifier, risk.ScannerConfig{
		MinHealthFactor:    a.cfg.Risk.MinHealthFactor,
		MaxPriceAge:        a.cfg.Oracle.MaxPriceAge(),
		MaxConfidenceRatio: a.cfg.Oracle.MaxConfidenceRatio,
		Cooldown:           a.cfg.Risk.Cooldown(),
		RewardRate:         a.cfg.Risk.RewardRate,
		AutoSubmit:         a.cfg.Risk.AutoSubmit,
	}, a.logger)
}

func (a *App) buildScheduler(deps *Dependencies) *funding.Scheduler {
	return funding.NewScheduler(deps.Stores, deps.Runner, deps.Broadcaster, deps.Notifier, a.logger)
}

// buildStream constructs the Pyth price stream over the active markets' feed
// IDs. Returns nil when streaming is disabled or no market has a feed.
func (a *App) buildStream(ctx context.Context, deps *Dependencies) *oracle.Stream {
	if !a.cfg.Oracle.StreamEnabled {
		return nil
	}
	markets, err := deps.Stores.Markets.ListActive(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "price stream disabled: listing active markets failed",
			slog.String("error", err.Error()))
		return nil
	}
	seen := make(map[string]bool)
	var feedIDs []string
	for _, m := range markets {
		if m.PythPriceID == "" || seen[m.PythPriceID] {
			continue
		}
		seen[m.PythPriceID] = true
		feedIDs = append(feedIDs, m.PythPriceID)
	}
	if len(feedIDs) == 0 {
		a.logger.InfoContext(ctx, "price stream disabled: no active market has a price feed")
		return nil
	}
	return oracle.NewStream(a.cfg.Oracle.WSEndpoint, feedIDs, deps.PriceCache, a.logger)
}

func (a *App) buildArchiveRunner(deps *Dependencies) *pipeline.ArchiveRunner {
	if deps.Archiver == nil {
		return nil
	}
	return pipeline.NewArchiveRunner(
		deps.Archiver,
		a.cfg.Archive.Interval(),
		a.cfg.Archive.Retention(),
		a.logger,
	)
}

// FullMode runs every subsystem: indexer, risk scanner, funding scheduler,
// the price stream, and the archiver when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	orch := pipeline.NewOrchestrator(
		a.buildIndexer(deps),
		a.buildScanner(deps),
		a.buildScheduler(deps),
		a.buildStream(ctx, deps),
		a.buildArchiveRunner(deps),
		a.intervals(),
		a.logger,
	)
	return orch.Run(ctx)
}

// IndexerMode runs event ingestion only.
func (a *App) IndexerMode(ctx context.Context, deps *Dependencies) error {
	orch := pipeline.NewOrchestrator(
		a.buildIndexer(deps),
		nil, nil, nil, nil,
		a.intervals(),
		a.logger,
	)
	return orch.Run(ctx)
}

// RiskMode runs the liquidation scanner with the price stream.
func (a *App) RiskMode(ctx context.Context, deps *Dependencies) error {
	orch := pipeline.NewOrchestrator(
		nil,
		a.buildScanner(deps),
		nil,
		a.buildStream(ctx, deps),
		nil,
		a.intervals(),
		a.logger,
	)
	return orch.Run(ctx)
}

// FundingMode runs the funding scheduler only.
func (a *App) FundingMode(ctx context.Context, deps *Dependencies) error {
	orch := pipeline.NewOrchestrator(
		nil, nil,
		a.buildScheduler(deps),
		nil, nil,
		a.intervals(),
		a.logger,
	)
	return orch.Run(ctx)
}

// MockMode seeds a demo market, a scripted position event, and a cached
// price, then runs the engine entirely in-process. Useful for local
// development without Postgres, Redis, or a chain RPC.
func (a *App) MockMode(ctx context.Context, deps *Dependencies) error {
	if err := a.seedMockData(ctx, deps); err != nil {
		return err
	}
	orch := pipeline.NewOrchestrator(
		a.buildIndexer(deps),
		a.buildScanner(deps),
		a.buildScheduler(deps),
		nil, nil,
		a.intervals(),
		a.logger,
	)
	return orch.Run(ctx)
}

func (a *App) seedMockData(ctx context.Context, deps *Dependencies) error {
	err := deps.Stores.Markets.Upsert(ctx, domain.Market{
		MarketID:              "BTC-PERP",
		Symbol:                "BTC/USD",
		BaseToken:             "BTC",
		QuoteToken:            "USDC",
		PythPriceID:           "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
		MaxLeverage:           50,
		MaintenanceMarginRate: 0.05,
		LiquidationFeeRate:    0.01,
		FundingRateInterval:   time.Hour,
		MaxFundingRate:        0.0075,
		Status:                domain.MarketStatusActive,
	})
	if err != nil {
		return err
	}

	src, ok := deps.Source.(*chain.MockSource)
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	err = src.Emit(domain.EventPositionOpened, 1, "0xmock1", now.UnixMilli(), map[string]any{
		"position_id": "mock-pos-1",
		"user":        "0xdeadbeef",
		"market_id":   "BTC-PERP",
		"size":        "10000000",
		"collateral":  "1000000000000",
		"entry_price": "50000000000",
		"direction":   0,
	})
	if err != nil {
		return err
	}

	if err := deps.PriceCache.SetPrice(ctx, domain.PriceSample{
		FeedID:      "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
		Price:       50000,
		Confidence:  25,
		PublishedAt: now,
	}); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "seeded mock market, position event, and price")
	return nil
}
