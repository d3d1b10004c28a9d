package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpadapter "github.com/cwygoda/postcatch/internal/adapter/http"
	"github.com/cwygoda/postcatch/internal/domain"
	"github.com/cwygoda/postcatch/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(g *globals) *cobra.Command {
	var (
		addr     string
		noWorker bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the polling worker and the status HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr != "" {
				a.cfg.HTTP.Addr = addr
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			store, err := a.artifactLedger()
			if err != nil {
				return err
			}

			srv := httpadapter.NewServer(httpadapter.Deps{
				Links:    domain.NewLinkService(a.repo),
				Ledger:   store,
				Resetter: orch,
				Adder:    a.repo,
				Metrics:  a.metricsRegistry().Handler(),
			}, a.cfg.HTTP.Addr, a.cfg.HTTP.Secret, a.log)

			workerDone := make(chan struct{})
			if noWorker {
				close(workerDone)
			} else {
				w := worker.New(orch, a.batchOptions(a.cfg.Batch.Limit, a.cfg.Batch.Platform, 0), a.cfg.Batch.PollInterval, a.log)
				go func() {
					defer close(workerDone)
					w.Run(ctx)
				}()
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("HTTP server listening", zap.String("addr", a.cfg.HTTP.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			var runErr error
			select {
			case <-ctx.Done():
				a.log.Info("shutting down")
			case runErr = <-errCh:
				a.log.Error("HTTP server failed", zap.Error(runErr))
			}
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.Warn("HTTP server shutdown", zap.Error(err))
			}
			<-workerDone
			a.log.Info("shutdown complete")
			return runErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override http.addr")
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "serve HTTP only, do not poll for links")
	return cmd
}
