package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tumodex/perpd/internal/domain"
)

// CheckpointStore implements domain.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	db Querier
}

// NewCheckpointStore creates a CheckpointStore over the given Querier.
func NewCheckpointStore(db Querier) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Get returns the sync checkpoint for a chain.
func (s *CheckpointStore) Get(ctx context.Context, chainID int64) (domain.SyncCheckpoint, error) {
	const query = `
		SELECT chain_id, last_synced_cursor, updated_at
		FROM sync_checkpoints
		WHERE chain_id = $1`

	var cp domain.SyncCheckpoint
	var cursor int64
	err := s.db.QueryRow(ctx, query, chainID).Scan(&cp.ChainID, &cursor, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SyncCheckpoint{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SyncCheckpoint{}, fmt.Errorf("postgres: get checkpoint for chain %d: %w", chainID, err)
	}
	cp.LastSyncedCursor = uint64(cursor)
	return cp, nil
}

// Init creates the checkpoint row if it does not exist yet. An existing row
// is left untouched.
func (s *CheckpointStore) Init(ctx context.Context, chainID int64, cursor uint64) error {
	const query = `
		INSERT INTO sync_checkpoints (chain_id, last_synced_cursor, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (chain_id) DO NOTHING`

	if _, err := s.db.Exec(ctx, query, chainID, int64(cursor)); err != nil {
		return fmt.Errorf("postgres: init checkpoint for chain %d: %w", chainID, err)
	}
	return nil
}

// Advance moves the cursor forward. The guard in the WHERE clause makes the
// cursor monotonic even under concurrent writers.
func (s *CheckpointStore) Advance(ctx context.Context, chainID int64, cursor uint64) error {
	const query = `
		UPDATE sync_checkpoints SET
			last_synced_cursor = $2,
			updated_at         = NOW()
		WHERE chain_id = $1 AND last_synced_cursor < $2`

	tag, err := s.db.Exec(ctx, query, chainID, int64(cursor))
	if err != nil {
		return fmt.Errorf("postgres: advance checkpoint for chain %d: %w", chainID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row is missing or the cursor would move backwards;
		// both indicate a caller bug or a concurrent advance.
		return domain.ErrNotFound
	}
	return nil
}
