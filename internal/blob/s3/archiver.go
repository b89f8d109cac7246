package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tumodex/perpd/internal/domain"
)

// Archiver exports aged rows to object storage as JSONL files. Settled
// positions and funding-rate history grow without bound in the primary
// store; anything older than the retention window is copied out so the hot
// tables can be pruned by an operator job.
type Archiver struct {
	writer    *Writer
	stores    domain.Stores
	batchSize int
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiver creates an Archiver writing through w.
func NewArchiver(w *Writer, stores domain.Stores, batchSize int, logger *slog.Logger) *Archiver {
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &Archiver{
		writer:    w,
		stores:    stores,
		batchSize: batchSize,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// positionRecord is the export shape for a settled position.
type positionRecord struct {
	PositionID         string     `json:"position_id"`
	MarketID           string     `json:"market_id"`
	UserAddress        string     `json:"user_address"`
	Side               string     `json:"side"`
	Size               float64    `json:"size"`
	Collateral         float64    `json:"collateral"`
	Leverage           float64    `json:"leverage"`
	EntryPrice         float64    `json:"entry_price"`
	ExitPrice          *float64   `json:"exit_price,omitempty"`
	RealizedPnL        float64    `json:"realized_pnl"`
	AccumulatedFunding float64    `json:"accumulated_funding"`
	Status             string     `json:"status"`
	TransactionHash    string     `json:"transaction_hash"`
	CloseTxHash        *string    `json:"close_transaction_hash,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
}

// fundingRecord is the export shape for one funding-rate history row.
type fundingRecord struct {
	MarketID  string    `json:"market_id"`
	Rate      float64   `json:"rate"`
	LongOI    float64   `json:"long_oi"`
	ShortOI   float64   `json:"short_oi"`
	Timestamp time.Time `json:"timestamp"`
}

// Archive exports every settled position and funding-rate row older than
// cutoff. Each data set lands under its own month-partitioned key. The export
// is additive: pruning the source rows is left to the operator so a failed
// upload can never lose data.
func (a *Archiver) Archive(ctx context.Context, cutoff time.Time) error {
	ran := a.now().UTC()
	if err := a.archivePositions(ctx, cutoff, ran); err != nil {
		return err
	}
	return a.archiveFunding(ctx, cutoff, ran)
}

func (a *Archiver) archivePositions(ctx context.Context, cutoff, ran time.Time) error {
	positions, err := a.stores.Positions.ListSettledBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return fmt.Errorf("s3blob: list settled positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}

	records := make([]any, 0, len(positions))
	for _, p := range positions {
		records = append(records, positionRecord{
			PositionID:         p.PositionID,
			MarketID:           p.MarketID,
			UserAddress:        p.UserAddress,
			Side:               string(p.Side),
			Size:               p.Size,
			Collateral:         p.Collateral,
			Leverage:           p.Leverage,
			EntryPrice:         p.EntryPrice,
			ExitPrice:          p.ExitPrice,
			RealizedPnL:        p.RealizedPnL,
			AccumulatedFunding: p.AccumulatedFunding,
			Status:             string(p.Status),
			TransactionHash:    p.TransactionHash,
			CloseTxHash:        p.CloseTransactionHash,
			CreatedAt:          p.CreatedAt,
			ClosedAt:           p.ClosedAt,
		})
	}

	path := archivePath("positions", cutoff, ran)
	if err := a.put(ctx, path, records); err != nil {
		return err
	}
	a.logger.Info("archived settled positions",
		slog.Int("count", len(positions)),
		slog.String("path", path))
	return nil
}

func (a *Archiver) archiveFunding(ctx context.Context, cutoff, ran time.Time) error {
	rates, err := a.stores.Funding.ListBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return fmt.Errorf("s3blob: list funding history: %w", err)
	}
	if len(rates) == 0 {
		return nil
	}

	records := make([]any, 0, len(rates))
	for _, fr := range rates {
		records = append(records, fundingRecord{
			MarketID:  fr.MarketID,
			Rate:      fr.Rate,
			LongOI:    fr.LongOI,
			ShortOI:   fr.ShortOI,
			Timestamp: fr.Timestamp,
		})
	}

	path := archivePath("funding_rates", cutoff, ran)
	if err := a.put(ctx, path, records); err != nil {
		return err
	}
	a.logger.Info("archived funding history",
		slog.Int("count", len(rates)),
		slog.String("path", path))
	return nil
}

func (a *Archiver) put(ctx context.Context, path string, records []any) error {
	body, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: marshal %s: %w", path, err)
	}
	if int64(body.Len()) > minPartSize {
		return a.writer.PutMultipart(ctx, path, body, minPartSize)
	}
	return a.writer.Put(ctx, path, body, "application/x-ndjson")
}

// archivePath partitions keys by cutoff month and stamps each pass, so
// repeated exports within a month never overwrite an earlier object:
// archive/<kind>/2006-01/20060102T150405Z.jsonl.
func archivePath(kind string, before, ran time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind,
		before.UTC().Format("2006-01"),
		ran.UTC().Format("20060102T150405Z"))
}

func marshalJSONL(records []any) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, err
		}
	}
	return &buf, nil
}
