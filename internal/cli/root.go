// Package cli implements the postcatch operator commands.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cwygoda/postcatch/internal/config"
)

// globals are the flags shared by every command.
type globals struct {
	configPath string
	envFile    string
	logLevel   string
}

// load reads the configuration and builds an app for one command run.
func (g *globals) load(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(g.configPath, g.envFile)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	return newApp(cfg, cmd.OutOrStdout())
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:          "postcatch",
		Short:        "Capture queued social media posts and hand them to ingestion",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default is ./"+config.DefaultFile+" when present)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file with platform credentials")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newProcessCommand(g),
		newResetCommand(g),
		newQueueCommand(g),
		newAddCommand(g),
		newVerifyCommand(g),
		newServeCommand(g),
		newLoginCommand(g),
	)
	return root
}

// Execute runs the CLI until it finishes or receives SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}
