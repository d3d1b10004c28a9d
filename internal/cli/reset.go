package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwygoda/postcatch/internal/domain"
	"github.com/cwygoda/postcatch/internal/orchestrator"
)

func newResetCommand(g *globals) *cobra.Command {
	var ids []string
	cmd := &cobra.Command{
		Use:   "reset [id...]",
		Short: "Delete ingested artifacts and return links to Pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			targets := ParseIDs(append(append([]string{}, ids...), args...))
			if len(targets) == 0 {
				return errors.New("no valid IDs found to reset")
			}

			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.cfg.ValidateStore(); err != nil {
				return err
			}

			ctx := cmd.Context()
			repo, err := a.links(ctx)
			if err != nil {
				return err
			}
			store, err := a.artifactLedger()
			if err != nil {
				return err
			}
			orch := orchestrator.New(orchestrator.Deps{
				Links:  domain.NewLinkService(repo),
				Ledger: store,
			}, a.log)

			var errs []error
			for _, id := range targets {
				if err := orch.Reset(ctx, id); err != nil {
					errs = append(errs, fmt.Errorf("link %d: %w", id, err))
					continue
				}
				fmt.Fprintf(a.out, "Link %d reset to Pending (%d).\n", id, domain.StatusPending)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringArrayVar(&ids, "id", nil, "link IDs, comma separated lists allowed, repeatable")
	return cmd
}
