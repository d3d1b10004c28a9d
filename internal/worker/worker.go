package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cwygoda/postcatch/internal/orchestrator"
)

// Batcher runs one batch of link processing.
type Batcher interface {
	ProcessBatch(ctx context.Context, opts orchestrator.BatchOptions) (orchestrator.BatchReport, error)
}

// Worker polls for pending links and processes them in batches.
type Worker struct {
	batcher      Batcher
	opts         orchestrator.BatchOptions
	pollInterval time.Duration
	log          *zap.Logger
}

// New creates a new worker.
func New(batcher Batcher, opts orchestrator.BatchOptions, pollInterval time.Duration, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		batcher:      batcher,
		opts:         opts,
		pollInterval: pollInterval,
		log:          log.Named("worker"),
	}
}

// Run polls once right away and then on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started", zap.Duration("poll_interval", w.pollInterval), zap.Int("limit", w.opts.Limit))
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker shutting down")
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Worker) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := w.batcher.ProcessBatch(ctx, w.opts)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.log.Error("batch failed",
			zap.Int("processed", len(report.Outcomes)),
			zap.Error(err),
		)
		return
	}
	if report.Total == 0 {
		w.log.Debug("no pending links")
	}
}
