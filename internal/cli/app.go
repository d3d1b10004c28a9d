package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/cwygoda/postcatch/internal/adapter/browser"
	"github.com/cwygoda/postcatch/internal/adapter/capture"
	"github.com/cwygoda/postcatch/internal/adapter/ingest"
	"github.com/cwygoda/postcatch/internal/adapter/ledger"
	"github.com/cwygoda/postcatch/internal/adapter/sqlstore"
	"github.com/cwygoda/postcatch/internal/config"
	"github.com/cwygoda/postcatch/internal/domain"
	"github.com/cwygoda/postcatch/internal/logger"
	"github.com/cwygoda/postcatch/internal/metrics"
	"github.com/cwygoda/postcatch/internal/orchestrator"
	"github.com/cwygoda/postcatch/internal/retry"
)

// app carries the configuration and logger shared by every command, plus
// whatever components a command has opened so far.
type app struct {
	cfg *config.Config
	log *zap.Logger
	out io.Writer

	repo    *sqlstore.Repository
	ledger  ledger.Store
	pool    *browser.Pool
	metrics *metrics.Metrics
	closers []io.Closer
}

func newApp(cfg *config.Config, out io.Writer) (*app, error) {
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, out: out}, nil
}

// Close releases everything opened through the app, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.log.Sync()
	return errors.Join(errs...)
}

func (a *app) links(ctx context.Context) (*sqlstore.Repository, error) {
	if a.repo != nil {
		return a.repo, nil
	}
	open, err := sqlstore.NewOpener(sqlstore.Config{
		Driver:      a.cfg.Store.Driver,
		DSN:         a.cfg.Store.DSN,
		PingTimeout: a.cfg.Store.PingTimeout,
	})
	if err != nil {
		return nil, err
	}
	guard := sqlstore.NewGuard(open, a.log.Named("store"), sqlstore.WithPingTimeout(a.cfg.Store.PingTimeout))
	a.repo = sqlstore.New(guard)
	a.closers = append(a.closers, a.repo)
	if err := a.repo.Ping(ctx); err != nil {
		return nil, fmt.Errorf("link store: %w", err)
	}
	return a.repo, nil
}

func (a *app) artifactLedger() (ledger.Store, error) {
	if a.ledger != nil {
		return a.ledger, nil
	}
	l, err := ledger.New(a.cfg.Ledger.Type, a.cfg.Ledger.Path, ledger.Options{Retention: a.cfg.Ledger.Retention})
	if err != nil {
		return nil, fmt.Errorf("artifact ledger: %w", err)
	}
	a.ledger = l
	a.closers = append(a.closers, l)
	return l, nil
}

func (a *app) metricsRegistry() *metrics.Metrics {
	if a.metrics == nil {
		a.metrics = metrics.New()
	}
	return a.metrics
}

// sessionPool builds the browser pool. headless is forced off for
// interactive logins.
func (a *app) sessionPool(headless bool) *browser.Pool {
	if a.pool != nil {
		return a.pool
	}
	launcher := browser.NewChromeLauncher(browser.LaunchOptions{
		Headless:  headless,
		UserAgent: a.cfg.Browser.UserAgent,
		ExecPath:  a.cfg.Browser.ExecPath,
	})
	a.pool = browser.NewPool(launcher, browser.NewStateStore(a.cfg.Browser.StateDir), browser.Options{
		MinInterval: a.cfg.Browser.MinInterval,
		Credentials: a.cfg.Credentials,
		Observer:    a.metricsRegistry(),
	}, a.log.Named("browser"))
	a.closers = append(a.closers, a.pool)
	return a.pool
}

// orchestrator wires the full pipeline.
func (a *app) orchestrator(ctx context.Context) (*orchestrator.Orchestrator, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	repo, err := a.links(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.artifactLedger()
	if err != nil {
		return nil, err
	}
	ingestor, err := ingest.NewCommandIngestor(ingest.Options{
		Command: a.cfg.Ingest.Command,
		Args:    a.cfg.Ingest.Args,
		Dir:     a.cfg.Ingest.Dir,
		Timeout: a.cfg.Ingest.Timeout,
		Log:     a.log.Named("ingest"),
	})
	if err != nil {
		return nil, err
	}
	registry := capture.NewDefaultRegistry(capture.Options{
		Dir:         a.cfg.Capture.Dir,
		NavTimeout:  a.cfg.Browser.NavigationTimeout,
		WaitTimeout: a.cfg.Browser.WaitTimeout,
		Credentials: a.cfg.Credentials,
		Log:         a.log.Named("capture"),
	})

	ctrl := retry.NewController(retry.Policy{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		BaseDelay:   a.cfg.Retry.BaseDelay,
		MaxDelay:    a.cfg.Retry.MaxDelay,
	})
	return orchestrator.New(orchestrator.Deps{
		Links:          domain.NewLinkService(repo),
		Pool:           a.sessionPool(a.cfg.Browser.Headless),
		Strategies:     registry,
		Retry:          ctrl,
		Ingestor:       ingestor,
		Ledger:         store,
		Metrics:        a.metricsRegistry(),
		CaptureTimeout: a.cfg.Capture.Timeout,
	}, a.log), nil
}

func (a *app) batchOptions(limit int, platform string, client int64) orchestrator.BatchOptions {
	return orchestrator.BatchOptions{
		Limit:      limit,
		Platform:   platform,
		ClientCode: client,
		Window:     a.cfg.Batch.Window(),
	}
}
