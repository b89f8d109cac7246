// Package pipeline coordinates the long-running subsystems: event
// ingestion, risk scanning, funding updates, oracle streaming, and
// cold-storage archival.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tumodex/perpd/internal/funding"
	"github.com/tumodex/perpd/internal/indexer"
	"github.com/tumodex/perpd/internal/oracle"
	"github.com/tumodex/perpd/internal/risk"
)

// Intervals holds each subsystem's wake-up period.
type Intervals struct {
	Indexer time.Duration
	Risk    time.Duration
	Funding time.Duration
}

// Orchestrator manages the service goroutines. Any component may be nil, in
// which case its loop is not started; that is how the single-role operating
// modes are built.
type Orchestrator struct {
	indexer   *indexer.Indexer
	scanner   *risk.Scanner
	scheduler *funding.Scheduler
	stream    *oracle.Stream
	archiver  *ArchiveRunner
	intervals Intervals
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator over the given components.
func NewOrchestrator(
	ix *indexer.Indexer,
	scanner *risk.Scanner,
	scheduler *funding.Scheduler,
	stream *oracle.Stream,
	archiver *ArchiveRunner,
	intervals Intervals,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		indexer:   ix,
		scanner:   scanner,
		scheduler: scheduler,
		stream:    stream,
		archiver:  archiver,
		intervals: intervals,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts every configured subsystem in an errgroup and blocks until ctx
// is cancelled or one of them fails. A non-context error from any goroutine
// cancels the shared context and is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if o.indexer != nil {
		g.Go(func() error {
			o.logger.Info("starting indexer loop",
				slog.Duration("interval", o.intervals.Indexer))
			err := o.indexer.RunLoop(ctx, o.intervals.Indexer)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("indexer: %w", err)
		})
	}

	if o.scanner != nil {
		g.Go(func() error {
			o.logger.Info("starting risk scanner loop",
				slog.Duration("interval", o.intervals.Risk))
			err := o.scanner.RunLoop(ctx, o.intervals.Risk)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("risk scanner: %w", err)
		})
	}

	if o.scheduler != nil {
		g.Go(func() error {
			o.logger.Info("starting funding scheduler loop",
				slog.Duration("interval", o.intervals.Funding))
			err := o.scheduler.RunLoop(ctx, o.intervals.Funding)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("funding scheduler: %w", err)
		})
	}

	if o.stream != nil {
		g.Go(func() error {
			o.logger.Info("starting oracle price stream")
			err := o.stream.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("oracle stream: %w", err)
		})
	}

	if o.archiver != nil {
		g.Go(func() error {
			o.logger.Info("starting archive runner")
			err := o.archiver.RunLoop(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("orchestrator stopped cleanly")
	return nil
}
