// Package orchestrator turns queued links into captures, ingestion runs and
// status writes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cwygoda/postcatch/internal/adapter/ledger"
	"github.com/cwygoda/postcatch/internal/domain"
	"github.com/cwygoda/postcatch/internal/metrics"
	"github.com/cwygoda/postcatch/internal/retry"
)

const dateLayout = "2006-01-02"

// Strategies looks up the capture strategy for a platform.
type Strategies interface {
	For(p domain.Platform) domain.CaptureStrategy
}

// Deps are the collaborators of an Orchestrator. Ledger and Metrics are
// optional.
type Deps struct {
	Links      *domain.LinkService
	Pool       domain.SessionPool
	Strategies Strategies
	Retry      *retry.Controller
	Ingestor   domain.Ingestor
	Ledger     domain.ArtifactLedger
	Metrics    *metrics.Metrics
	// CaptureTimeout bounds a single capture attempt. Zero means no bound.
	CaptureTimeout time.Duration
}

// Orchestrator processes links one at a time.
type Orchestrator struct {
	links          *domain.LinkService
	pool           domain.SessionPool
	strategies     Strategies
	retry          *retry.Controller
	ingest         domain.Ingestor
	ledger         domain.ArtifactLedger
	metrics        *metrics.Metrics
	captureTimeout time.Duration
	log            *zap.Logger
	now            func() time.Time
}

// New creates an Orchestrator.
func New(d Deps, log *zap.Logger) *Orchestrator {
	if d.Retry == nil {
		d.Retry = retry.NewController(retry.DefaultPolicy())
	}
	if d.Ledger == nil {
		d.Ledger = ledger.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		links:          d.Links,
		pool:           d.Pool,
		strategies:     d.Strategies,
		retry:          d.Retry,
		ingest:         d.Ingestor,
		ledger:         d.Ledger,
		metrics:        d.Metrics,
		captureTimeout: d.CaptureTimeout,
		log:            log,
		now:            time.Now,
	}
}

// Outcome describes what happened to one link.
type Outcome struct {
	LinkID     int64
	Platform   domain.Platform
	Status     domain.Status
	Failure    domain.FailureKind
	Attempts   int
	ArtifactID *int64
	// Reused is set when a previous capture was ingested instead of a new one.
	Reused bool
	// Err is the per-link failure, already recorded as a status write.
	Err  error
	Took time.Duration
}

// Succeeded reports whether the link ended in StatusSucceeded.
func (o Outcome) Succeeded() bool {
	return o.Status == domain.StatusSucceeded
}

// ProcessLink runs the full pipeline for one link. Per-link failures are
// written as StatusFailed and reported in the Outcome with a nil error. The
// error is non-nil only when nothing could be recorded: the link is missing,
// terminal or holds an unknown status, the store is unreachable, or ctx was
// cancelled.
func (o *Orchestrator) ProcessLink(ctx context.Context, id int64) (Outcome, error) {
	link, err := o.links.Get(ctx, id)
	if err != nil {
		out := Outcome{LinkID: id}
		if errors.Is(err, domain.ErrStoreUnavailable) {
			out.Failure = domain.FailureStore
			err = &domain.ProcessError{Kind: domain.FailureStore, LinkID: id, Err: err}
		}
		out.Err = err
		return out, err
	}
	return o.process(ctx, link)
}

func (o *Orchestrator) process(ctx context.Context, link *domain.LinkRecord) (Outcome, error) {
	start := o.now()
	out := Outcome{LinkID: link.ID, Status: link.Status}
	log := o.log.With(zap.Int64("link_id", link.ID))

	// Nothing runs unless the record can reach Succeeded afterwards.
	switch {
	case link.Status.Terminal():
		out.Err = fmt.Errorf("%w: link %d is %s", domain.ErrTerminalStatus, link.ID, link.Status)
	case !domain.CanTransition(link.Status, domain.StatusSucceeded):
		out.Err = fmt.Errorf("%w: link %d has %s", domain.ErrInvalidTransition, link.ID, link.Status)
	}
	if out.Err != nil {
		log.Info("skipping link", zap.Stringer("status", link.Status))
		return out, out.Err
	}

	p, err := domain.Route(link.URL)
	out.Platform = p
	if err != nil {
		return o.fail(ctx, link, out, domain.FailureRouting, fmt.Errorf("%w: %s", err, link.URL), start)
	}
	strategy := o.strategies.For(p)
	if strategy == nil {
		return o.fail(ctx, link, out, domain.FailureRouting, fmt.Errorf("%w: no capture strategy for %s", domain.ErrUnroutable, p), start)
	}
	log = log.With(zap.String("platform", p.String()))
	log.Info("processing link", zap.String("url", link.URL))

	res, reused := o.reusableCapture(link.ID, p, log)
	out.Reused = reused
	if !reused {
		rep := o.retry.Do(ctx, o.attempt(link, p, strategy, log))
		out.Attempts = rep.Attempts
		if err := ctx.Err(); err != nil {
			log.Warn("cancelled mid-capture, status left unchanged")
			out.Err = err
			return out, err
		}
		if !rep.Succeeded() {
			kind, cause := captureFailure(rep)
			return o.fail(ctx, link, out, kind, cause, start)
		}
		res = rep.Result
		if err := o.ledger.RecordCapture(domain.LedgerEntry{
			LinkID:      link.ID,
			Platform:    p.String(),
			ImagePath:   res.ImagePath,
			TextPath:    res.TextPath,
			PublishedAt: res.PublishedAt,
		}); err != nil {
			log.Warn("recording capture in ledger failed", zap.Error(err))
		}
	}

	if err := checkArtifacts(res); err != nil {
		return o.fail(ctx, link, out, domain.FailureCapture, err, start)
	}

	req := o.ingestRequest(link, p, res)
	ingestStart := o.now()
	ir, err := o.ingest.Ingest(ctx, req)
	o.metrics.Ingested(err == nil, o.now().Sub(ingestStart))
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("cancelled during ingestion, status left unchanged")
			out.Err = ctx.Err()
			return out, ctx.Err()
		}
		if !errors.Is(err, domain.ErrIngestionFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrIngestionFailed, err)
		}
		return o.fail(ctx, link, out, domain.FailureIngestion, err, start)
	}

	if err := o.links.MarkSucceeded(ctx, link, ir.ArtifactID); err != nil {
		return o.storeFailure(link, out, err)
	}
	if err := o.ledger.MarkIngested(link.ID, ir.ArtifactID); err != nil {
		log.Warn("marking ledger entry ingested failed", zap.Error(err))
	}

	out.Status = domain.StatusSucceeded
	out.ArtifactID = ir.ArtifactID
	out.Took = o.now().Sub(start)
	o.metrics.LinkProcessed(p.String(), "succeeded", out.Took)

	fields := []zap.Field{
		zap.String("published_on", req.PublishedOn),
		zap.Int64("vehicle", req.VehicleCode),
		zap.Bool("reused", out.Reused),
		zap.Duration("took", out.Took),
	}
	if ir.ArtifactID != nil {
		fields = append(fields, zap.Int64("artifact_id", *ir.ArtifactID))
	}
	log.Info("link succeeded", fields...)
	return out, nil
}

// attempt acquires a fresh isolated session and runs one capture.
func (o *Orchestrator) attempt(link *domain.LinkRecord, p domain.Platform, strategy domain.CaptureStrategy, log *zap.Logger) retry.Attempt {
	return func(ctx context.Context, n int) (domain.CaptureResult, error) {
		if n > 1 {
			o.metrics.CaptureRetried(p.String())
			log.Info("retrying capture", zap.Int("attempt", n))
		}
		o.metrics.CaptureAttempted(p.String())

		sess, err := o.pool.Acquire(ctx, p)
		if err != nil {
			log.Warn("acquiring session failed", zap.Int("attempt", n), zap.Error(err))
			return domain.CaptureResult{}, err
		}
		defer o.pool.Release(sess)

		if o.captureTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.captureTimeout)
			defer cancel()
		}
		res := strategy.Capture(ctx, link, sess)
		if res.Outcome != domain.OutcomeSuccess {
			log.Warn("capture attempt failed",
				zap.Int("attempt", n),
				zap.Stringer("outcome", res.Outcome),
				zap.String("detail", res.Detail),
			)
		}
		return res, nil
	}
}

// reusableCapture returns a capture from an earlier run whose ingestion
// failed, if its files are still intact.
func (o *Orchestrator) reusableCapture(id int64, p domain.Platform, log *zap.Logger) (domain.CaptureResult, bool) {
	entry, err := o.ledger.Lookup(id)
	if err != nil {
		log.Warn("ledger lookup failed", zap.Error(err))
		return domain.CaptureResult{}, false
	}
	if !entry.Reusable() || entry.Platform != p.String() {
		return domain.CaptureResult{}, false
	}
	res := domain.CaptureSuccess(entry.ImagePath, entry.TextPath, entry.PublishedAt)
	if err := checkArtifacts(res); err != nil {
		log.Info("previous capture unusable, capturing again", zap.Error(err))
		return domain.CaptureResult{}, false
	}
	log.Info("reusing previous capture", zap.String("image", entry.ImagePath))
	return res, true
}

func captureFailure(rep retry.Report) (domain.FailureKind, error) {
	if rep.Err != nil {
		return domain.FailureSession, rep.Err
	}
	if errors.Is(rep.Result.Err, domain.ErrMissingCredentials) {
		return domain.FailureSession, fmt.Errorf("capture stopped: %w", rep.Result.Err)
	}
	if rep.Result.Outcome == domain.OutcomeNotFound {
		return domain.FailureNotFound, fmt.Errorf("content not found: %s", rep.Result.Detail)
	}
	return domain.FailureCapture, fmt.Errorf("capture failed after %d attempts: %s", rep.Attempts, rep.Result.Detail)
}

// checkArtifacts requires both files to exist and be non-empty.
func checkArtifacts(res domain.CaptureResult) error {
	for _, path := range []string{res.ImagePath, res.TextPath} {
		if path == "" {
			return fmt.Errorf("%w: empty path", domain.ErrArtifactMissing)
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrArtifactMissing, err)
		}
		if info.IsDir() || info.Size() == 0 {
			return fmt.Errorf("%w: %s", domain.ErrArtifactMissing, path)
		}
	}
	return nil
}

// ingestRequest normalizes the link metadata for the ingestion step.
func (o *Orchestrator) ingestRequest(link *domain.LinkRecord, p domain.Platform, res domain.CaptureResult) domain.IngestRequest {
	published := o.now()
	switch {
	case res.PublishedAt != nil:
		published = *res.PublishedAt
	case link.PublishedAt != nil:
		published = *link.PublishedAt
	}

	vehicle := domain.OverrideVehicleCode(p)
	if vehicle == 0 {
		vehicle = valueOr(link.VehicleCode, domain.FallbackVehicleCode())
	}
	return domain.IngestRequest{
		LinkID:      link.ID,
		ImagePath:   res.ImagePath,
		TextPath:    res.TextPath,
		PublishedOn: published.Format(dateLayout),
		VehicleCode: vehicle,
		ChannelCode: valueOr(link.ChannelCode, 0),
		ClientCode:  valueOr(link.ClientCode, 0),
	}
}

func valueOr(v *int64, def int64) int64 {
	if v == nil || *v == 0 {
		return def
	}
	return *v
}

// fail writes StatusFailed and records the failure kind in the ledger.
func (o *Orchestrator) fail(ctx context.Context, link *domain.LinkRecord, out Outcome, kind domain.FailureKind, cause error, start time.Time) (Outcome, error) {
	out.Failure = kind
	out.Err = &domain.ProcessError{Kind: kind, LinkID: link.ID, Err: cause}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	if err := o.links.MarkFailed(ctx, link); err != nil {
		return o.storeFailure(link, out, err)
	}
	if err := o.ledger.RecordFailure(link.ID, out.Platform, kind, cause.Error()); err != nil {
		o.log.Warn("recording failure in ledger failed", zap.Int64("link_id", link.ID), zap.Error(err))
	}

	out.Status = domain.StatusFailed
	out.Took = o.now().Sub(start)
	o.metrics.LinkProcessed(out.Platform.String(), string(kind), out.Took)
	o.log.Warn("link failed",
		zap.Int64("link_id", link.ID),
		zap.String("platform", out.Platform.String()),
		zap.String("kind", string(kind)),
		zap.Int("attempts", out.Attempts),
		zap.Error(cause),
	)
	return out, nil
}

func (o *Orchestrator) storeFailure(link *domain.LinkRecord, out Outcome, err error) (Outcome, error) {
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		o.log.Error("writing status failed", zap.Int64("link_id", link.ID), zap.Error(err))
		out.Err = err
		return out, err
	}
	out.Failure = domain.FailureStore
	out.Err = &domain.ProcessError{Kind: domain.FailureStore, LinkID: link.ID, Err: err}
	o.log.Error("writing status failed", zap.Int64("link_id", link.ID), zap.Error(err))
	return out, out.Err
}

// Reset clears the link's artifact, returns it to Pending and drops its
// ledger entry so the next run captures it from scratch.
func (o *Orchestrator) Reset(ctx context.Context, id int64) error {
	if err := o.links.Reset(ctx, id); err != nil {
		return err
	}
	if err := o.ledger.Forget(id); err != nil {
		o.log.Warn("forgetting ledger entry failed", zap.Int64("link_id", id), zap.Error(err))
	}
	o.log.Info("link reset", zap.Int64("link_id", id))
	return nil
}
