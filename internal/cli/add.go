package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwygoda/postcatch/internal/domain"
)

func newAddCommand(g *globals) *cobra.Command {
	var (
		id        int64
		url       string
		published string
		vehicle   int64
		channel   int64
		client    int64
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Queue a link in the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id <= 0 {
				return errors.New("--id must be a positive integer")
			}
			p, err := domain.Route(url)
			if err != nil {
				return err
			}
			link := domain.LinkRecord{
				ID:          id,
				URL:         url,
				Status:      domain.StatusPending,
				VehicleCode: optional(vehicle),
				ChannelCode: optional(channel),
				ClientCode:  optional(client),
			}
			if published != "" {
				ts, err := time.Parse("2006-01-02", published)
				if err != nil {
					return fmt.Errorf("--published: %w", err)
				}
				link.PublishedAt = &ts
			}

			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.cfg.ValidateStore(); err != nil {
				return err
			}
			repo, err := a.links(cmd.Context())
			if err != nil {
				return err
			}
			if err := repo.Add(cmd.Context(), link); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Link %d queued (%s).\n", id, p.Label())
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "link ID")
	cmd.Flags().StringVar(&url, "url", "", "post URL")
	cmd.Flags().StringVar(&published, "published", "", "publication date, YYYY-MM-DD")
	cmd.Flags().Int64Var(&vehicle, "vehicle", 0, "vehicle code")
	cmd.Flags().Int64Var(&channel, "channel", 0, "channel code")
	cmd.Flags().Int64Var(&client, "client", 0, "client code")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func optional(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
