package pipeline

import (
	"context"
	"log/slog"
	"time"

	s3blob "github.com/tumodex/perpd/internal/blob/s3"
)

// ArchiveRunner drives the cold-storage archiver on a fixed interval. The
// first run happens after a full interval, not at startup, so a restart loop
// cannot hammer the object store.
type ArchiveRunner struct {
	archiver  *s3blob.Archiver
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

// NewArchiveRunner creates an ArchiveRunner exporting rows older than the
// retention window every interval.
func NewArchiveRunner(archiver *s3blob.Archiver, interval, retention time.Duration, logger *slog.Logger) *ArchiveRunner {
	return &ArchiveRunner{
		archiver:  archiver,
		interval:  interval,
		retention: retention,
		logger:    logger.With(slog.String("component", "archive_runner")),
	}
}

// RunLoop runs archive passes until ctx is cancelled. A failed pass is
// logged and retried on the next interval.
func (a *ArchiveRunner) RunLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-a.retention)
			a.logger.Info("starting archive pass",
				slog.Time("cutoff", cutoff),
				slog.Duration("retention", a.retention))
			if err := a.archiver.Archive(ctx, cutoff); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
				continue
			}
			a.logger.Info("archive pass complete")
		}
	}
}
