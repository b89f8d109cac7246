package domain

import (
	"context"
	"time"
)

// LiquidationRecord is an immutable audit row written when a
// PositionLiquidated event is applied.
type LiquidationRecord struct {
	ID                int64
	PositionID        string
	MarketID          string
	UserAddress       string
	LiquidatorAddress string

	LiquidationPrice float64
	Collateral       float64
	LiquidationFee   float64

	TransactionHash string
	BlockNumber     int64

	Timestamp time.Time
}

// LiquidationCandidate is an open position currently eligible for forced
// closure. Candidates are ephemeral: recomputed every scan cycle from
// position, market, and price state, never persisted.
type LiquidationCandidate struct {
	PositionID  string
	UserAddress string
	MarketID    string

	CurrentPrice     float64
	HealthFactor     float64
	LiquidationPrice float64
	Collateral       float64
	PotentialReward  float64
}

// SubmissionStatus describes the outcome of a liquidation submission.
type SubmissionStatus string

const (
	SubmissionSubmitted SubmissionStatus = "submitted"
	// SubmissionSkipped means the position was already settled when the
	// submitter re-checked it; the call was a verified no-op.
	SubmissionSkipped SubmissionStatus = "skipped"
)

// SubmissionRef identifies one liquidation submission attempt.
type SubmissionRef struct {
	Ref        string
	PositionID string
	Status     SubmissionStatus
	CreatedAt  time.Time
}

// TransactionSubmitter hands a liquidation off to the external signing and
// broadcast service. Implementations must re-verify the position's current
// status before acting: submitting a position the indexer has already
// settled must be a no-op, never a double charge.
type TransactionSubmitter interface {
	SubmitLiquidation(ctx context.Context, positionID string) (SubmissionRef, error)
}
