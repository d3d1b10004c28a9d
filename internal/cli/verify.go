package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/cwygoda/postcatch/internal/adapter/browser"
	"github.com/cwygoda/postcatch/internal/adapter/ingest"
	"github.com/cwygoda/postcatch/internal/domain"
)

type check struct {
	name   string
	err    error
	detail string
	// soft checks only warn.
	soft bool
}

func newVerifyCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check configuration, link store, ingestion command and saved sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			var checks []check
			checks = append(checks, check{name: "config", err: a.cfg.Validate()})

			_, err = a.links(ctx)
			checks = append(checks, check{name: "link store", err: err, detail: a.cfg.Store.Driver})

			_, err = ingest.NewCommandIngestor(ingest.Options{Command: a.cfg.Ingest.Command})
			checks = append(checks, check{name: "ingest command", err: err, detail: a.cfg.Ingest.Command})

			_, err = a.artifactLedger()
			checks = append(checks, check{name: "ledger", err: err, detail: a.cfg.Ledger.Type})

			states := browser.NewStateStore(a.cfg.Browser.StateDir)
			for _, p := range domain.Platforms() {
				checks = append(checks, sessionCheck(p, states, a.cfg.Credentials))
			}

			t := table.NewWriter()
			t.SetOutputMirror(a.out)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Check", "Result", "Detail"})
			failed := 0
			for _, c := range checks {
				result, detail := "ok", c.detail
				if c.err != nil {
					result, detail = "FAIL", c.err.Error()
					if c.soft {
						result = "warn"
					} else {
						failed++
					}
				}
				t.AppendRow(table.Row{c.name, result, detail})
			}
			t.Render()

			if failed > 0 {
				return fmt.Errorf("%d checks failed", failed)
			}
			return nil
		},
	}
}

// sessionCheck reports whether a platform can be captured: a saved session
// or credentials to log in with.
func sessionCheck(p domain.Platform, states *browser.StateStore, creds domain.Credentials) check {
	c := check{name: p.Label() + " session", soft: true}
	state, err := states.Load(p)
	_, hasCreds := creds.For(p)
	switch {
	case err != nil:
		c.err = err
	case state != nil:
		c.detail = fmt.Sprintf("saved %s, %d cookies", state.SavedAt.Format(time.DateTime), len(state.Cookies))
		if hasCreds {
			c.detail += ", credentials set"
		}
	case hasCreds:
		c.detail = "no saved session, will log in with credentials"
	default:
		c.err = fmt.Errorf("%w: no saved session and no credentials", domain.ErrMissingCredentials)
	}
	return c
}
