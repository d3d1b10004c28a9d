package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cwygoda/postcatch/internal/domain"
)

func newLoginCommand(g *globals) *cobra.Command {
	var platforms []string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open a browser to log in by hand and save the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := parsePlatforms(platforms)
			if err != nil {
				return err
			}

			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			pool := a.sessionPool(false)
			in := bufio.NewReader(cmd.InOrStdin())
			for _, p := range targets {
				wait := func(ctx context.Context) error {
					fmt.Fprintf(a.out, "Log in to %s in the browser window, then press Enter here.\n", p.Label())
					return waitForLine(ctx, in)
				}
				if err := pool.Login(cmd.Context(), p, wait); err != nil {
					return fmt.Errorf("%s login: %w", p.Label(), err)
				}
				a.log.Info("session saved", zap.String("platform", p.String()))
				fmt.Fprintf(a.out, "%s session saved.\n", p.Label())
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&platforms, "platform", nil, "platforms to log in to (default all)")
	return cmd
}

func parsePlatforms(names []string) ([]domain.Platform, error) {
	if len(names) == 0 {
		return domain.Platforms(), nil
	}
	var out []domain.Platform
	for _, n := range names {
		p, ok := domain.ParsePlatform(n)
		if !ok {
			return nil, fmt.Errorf("unknown platform %q", n)
		}
		out = append(out, p)
	}
	return out, nil
}

// waitForLine returns once a line is read from r or ctx ends.
func waitForLine(ctx context.Context, r *bufio.Reader) error {
	done := make(chan error, 1)
	go func() {
		_, err := r.ReadString('\n')
		if err == io.EOF {
			err = nil
		}
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
