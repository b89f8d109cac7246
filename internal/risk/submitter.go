package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tumodex/perpd/internal/domain"
)

// LoggingSubmitter implements domain.TransactionSubmitter without touching
// the ledger: it re-verifies the position and logs what would be submitted.
// The signing and broadcast service is external; this is the hand-off point.
type LoggingSubmitter struct {
	stores domain.Stores
	logger *slog.Logger
}

// NewLoggingSubmitter creates a LoggingSubmitter over the given stores.
func NewLoggingSubmitter(stores domain.Stores, logger *slog.Logger) *LoggingSubmitter {
	return &LoggingSubmitter{
		stores: stores,
		logger: logger.With(slog.String("component", "liquidation_submitter")),
	}
}

// SubmitLiquidation re-checks that the position is still open before acting.
// The scan races the indexer: an on-ledger liquidation may already have been
// mirrored since the candidate was computed, in which case the submission is
// a verified no-op.
func (s *LoggingSubmitter) SubmitLiquidation(ctx context.Context, positionID string) (domain.SubmissionRef, error) {
	ref := domain.SubmissionRef{
		Ref:        uuid.NewString(),
		PositionID: positionID,
		CreatedAt:  time.Now().UTC(),
	}

	pos, err := s.stores.Positions.GetOpenByPositionID(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Info("position no longer open, skipping submission",
				slog.String("position_id", positionID))
			ref.Status = domain.SubmissionSkipped
			return ref, nil
		}
		return domain.SubmissionRef{}, fmt.Errorf("risk: verify position %s: %w", positionID, err)
	}

	s.logger.Info("liquidation hand-off",
		slog.String("position_id", pos.PositionID),
		slog.String("market_id", pos.MarketID),
		slog.String("user", pos.UserAddress),
		slog.String("ref", ref.Ref))
	ref.Status = domain.SubmissionSubmitted
	return ref, nil
}

// Compile-time interface check.
var _ domain.TransactionSubmitter = (*LoggingSubmitter)(nil)
