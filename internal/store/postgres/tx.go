package postgres

import (
	"context"
	"fmt"

	"github.com/tumodex/perpd/internal/domain"
)

// NewStores builds the full store bundle over the given Querier, which may
// be the pool (for autocommit reads) or a transaction.
func NewStores(db Querier) domain.Stores {
	return domain.Stores{
		Positions:    NewPositionStore(db),
		Markets:      NewMarketStore(db),
		Liquidations: NewLiquidationStore(db),
		Funding:      NewFundingStore(db),
		Checkpoints:  NewCheckpointStore(db),
	}
}

// TxRunner implements domain.TxRunner over the pgx pool. Each InTx call
// opens one transaction, passes transaction-bound stores to fn, and commits
// or rolls back as a unit.
type TxRunner struct {
	client *Client
}

// NewTxRunner creates a TxRunner for the given client.
func NewTxRunner(c *Client) *TxRunner {
	return &TxRunner{client: c}
}

// InTx executes fn within a single database transaction.
func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context, s domain.Stores) error) error {
	tx, err := r.client.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(ctx, NewStores(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}
