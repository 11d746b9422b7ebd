package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Loop is a long-running background task that returns when ctx ends.
type Loop func(ctx context.Context) error

// Orchestrator manages the background goroutines: price ingestion,
// cold-storage archival and any extra loops such as the settlement sweeper.
type Orchestrator struct {
	ingestor       *Ingestor
	archiver       *Archiver // optional
	ingestInterval time.Duration
	archiveCron    string
	extra          map[string]Loop
	logger         *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. archiver may be nil.
func NewOrchestrator(
	ingestor *Ingestor,
	archiver *Archiver,
	ingestInterval time.Duration,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		ingestor:       ingestor,
		archiver:       archiver,
		ingestInterval: ingestInterval,
		archiveCron:    archiveCron,
		extra:          make(map[string]Loop),
		logger:         logger.With(slog.String("component", "pipeline")),
	}
}

// Add registers an extra named loop. Call before Run.
func (o *Orchestrator) Add(name string, loop Loop) {
	o.extra[name] = loop
}

// Run starts every loop under an errgroup. A loop returning a non-context
// error cancels the rest and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("ingest_interval", o.ingestInterval),
		slog.String("archive_cron", o.archiveCron),
		slog.Bool("archiver", o.archiver != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	o.spawn(ctx, g, "ingestor", func(ctx context.Context) error {
		return o.ingestor.RunLoop(ctx, o.ingestInterval)
	})
	if o.archiver != nil {
		o.spawn(ctx, g, "archiver", func(ctx context.Context) error {
			return o.archiver.RunCron(ctx, o.archiveCron)
		})
	}
	for name, loop := range o.extra {
		o.spawn(ctx, g, name, loop)
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

func (o *Orchestrator) spawn(ctx context.Context, g *errgroup.Group, name string, loop Loop) {
	g.Go(func() error {
		o.logger.Info("starting loop", slog.String("loop", name))
		err := loop(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%s: %w", name, err)
	})
}
