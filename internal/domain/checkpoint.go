package domain

import "time"

// SyncCheckpoint tracks ingestion progress for one external chain. The
// cursor is monotonically non-decreasing and only advances atomically with
// the state mutations it authorizes.
type SyncCheckpoint struct {
	ChainID          int64
	LastSyncedCursor uint64
	UpdatedAt        time.Time
}
