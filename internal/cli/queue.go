package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/cwygoda/postcatch/internal/domain"
)

func newQueueCommand(g *globals) *cobra.Command {
	var (
		limit    int
		platform string
		client   int64
	)
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show pending links",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			links, err := domain.NewLinkService(repo).Pending(ctx, domain.PendingQuery{
				Limit:      limit,
				Platform:   platform,
				ClientCode: client,
				Since:      time.Now().Add(-a.cfg.Batch.Window()),
			})
			if err != nil {
				return err
			}

			if len(links) == 0 {
				fmt.Fprintln(a.out, "Queue is empty.")
				return nil
			}
			fmt.Fprintf(a.out, "Pending links (%d):\n", len(links))
			t := table.NewWriter()
			t.SetOutputMirror(a.out)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "Platform", "Status", "Published", "URL"})
			for _, l := range links {
				p, _ := domain.Route(l.URL)
				published := ""
				if l.PublishedAt != nil {
					published = l.PublishedAt.Format("2006-01-02")
				}
				t.AppendRow(table.Row{l.ID, p.Label(), l.Status, published, text.Trim(l.URL, 80)})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of links to show")
	cmd.Flags().StringVar(&platform, "platform", "", "filter by platform")
	cmd.Flags().Int64Var(&client, "client", 0, "filter by client code")
	return cmd
}
