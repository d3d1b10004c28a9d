package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cwygoda/postcatch/internal/domain"
)

// BatchOptions selects the links for one batch run.
type BatchOptions struct {
	Limit      int
	Platform   string
	ClientCode int64
	// Window overrides how far back to look. Zero uses domain.PendingWindow.
	Window time.Duration
}

// BatchReport aggregates a batch run.
type BatchReport struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Outcomes  []Outcome
}

func (r *BatchReport) add(out Outcome) {
	r.Outcomes = append(r.Outcomes, out)
	switch out.Status {
	case domain.StatusSucceeded:
		r.Succeeded++
	case domain.StatusFailed:
		r.Failed++
	default:
		r.Skipped++
	}
}

// ProcessBatch fetches a page of selectable links and processes them in
// order, one at a time. Only a store failure or cancellation stops it early.
func (o *Orchestrator) ProcessBatch(ctx context.Context, opts BatchOptions) (BatchReport, error) {
	var report BatchReport

	q := domain.PendingQuery{
		Limit:      opts.Limit,
		Platform:   opts.Platform,
		ClientCode: opts.ClientCode,
	}
	if opts.Window > 0 {
		q.Since = o.now().Add(-opts.Window)
	}
	links, err := o.links.Pending(ctx, q)
	if err != nil {
		return report, fmt.Errorf("fetch pending links: %w", err)
	}
	report.Total = len(links)
	o.metrics.BatchFetched(len(links))
	o.log.Info("batch started",
		zap.Int("links", len(links)),
		zap.Int("limit", opts.Limit),
		zap.String("platform", opts.Platform),
	)

	for i := range links {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		out, err := o.process(ctx, &links[i])
		report.add(out)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if domain.KindOf(err) == domain.FailureStore {
			o.log.Error("aborting batch, link store unavailable", zap.Error(err))
			return report, err
		}
		if !errors.Is(err, domain.ErrTerminalStatus) {
			o.log.Warn("link not processed", zap.Int64("link_id", links[i].ID), zap.Error(err))
		}
	}

	o.log.Info("batch finished",
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
