package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cwygoda/postcatch/internal/domain"
	"github.com/cwygoda/postcatch/internal/orchestrator"
)

func newProcessCommand(g *globals) *cobra.Command {
	var (
		ids      []string
		batch    bool
		limit    int
		platform string
		client   int64
	)
	cmd := &cobra.Command{
		Use:   "process [id...]",
		Short: "Process specific links or a batch of pending links",
		Example: `  postcatch process --id 101,102 --id 103
  postcatch process --batch --limit 20 --platform instagram`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := append(append([]string{}, ids...), args...)
			targets := ParseIDs(raw)
			switch {
			case len(raw) > 0 && len(targets) == 0:
				return errors.New("no valid IDs found")
			case len(targets) == 0 && !batch:
				return errors.New("specify --id or --batch")
			case len(targets) > 0 && batch:
				return errors.New("--id and --batch are mutually exclusive")
			}

			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}

			if batch {
				if !cmd.Flags().Changed("limit") {
					limit = a.cfg.Batch.Limit
				}
				if platform == "" {
					platform = a.cfg.Batch.Platform
				}
				report, err := orch.ProcessBatch(ctx, a.batchOptions(limit, platform, client))
				renderOutcomes(a.out, report.Outcomes)
				fmt.Fprintf(a.out, "%d links: %d succeeded, %d failed\n", report.Total, report.Succeeded, report.Failed)
				return err
			}

			var outcomes []orchestrator.Outcome
			defer func() { renderOutcomes(a.out, outcomes) }()
			for _, id := range targets {
				a.log.Info("processing requested link", zap.Int64("link_id", id))
				out, err := orch.ProcessLink(ctx, id)
				outcomes = append(outcomes, out)
				if err == nil {
					continue
				}
				if ctx.Err() != nil || domain.KindOf(err) == domain.FailureStore {
					return err
				}
				a.log.Warn("link not processed", zap.Int64("link_id", id), zap.Error(err))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&ids, "id", nil, "link IDs, comma separated lists allowed, repeatable")
	cmd.Flags().BoolVar(&batch, "batch", false, "process a batch of pending links")
	cmd.Flags().IntVar(&limit, "limit", 10, "batch size")
	cmd.Flags().StringVar(&platform, "platform", "", "only links of this platform (instagram, twitter, facebook)")
	cmd.Flags().Int64Var(&client, "client", 0, "only links of this client code")
	return cmd
}

func renderOutcomes(w io.Writer, outcomes []orchestrator.Outcome) {
	if len(outcomes) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Platform", "Status", "Failure", "Attempts", "Artifact", "Took"})
	for _, o := range outcomes {
		artifact := ""
		if o.ArtifactID != nil {
			artifact = strconv.FormatInt(*o.ArtifactID, 10)
		}
		failure := string(o.Failure)
		if failure == "" && o.Err != nil {
			failure = o.Err.Error()
		}
		t.AppendRow(table.Row{o.LinkID, o.Platform.Label(), o.Status, failure, o.Attempts, artifact, o.Took.Round(10 * time.Millisecond)})
	}
	t.Render()
}
