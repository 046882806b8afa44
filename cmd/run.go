package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/config"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/server"
)

// runner is the part of server.App the run command drives.
type runner interface {
	Run(ctx context.Context) error
}

// newRunner builds the application. Tests replace it.
var newRunner = func(ctx context.Context, cfg *config.Config) (runner, error) {
	return server.Build(ctx, cfg, server.WithVersion(Version))
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the crawl pipeline and admin API until interrupted",
		Long: `Starts the frontier consumer, crawl workers and link republishers together
with the admin HTTP server. On SIGINT or SIGTERM the pipeline stops taking
new work and flushes its local queues back to the frontier topic before
exiting. A flush that loses URLs exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: runPipelineCommand,
	}
}

func runPipelineCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return err
	}
	app, err := newRunner(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run pipeline: %w", err)
	}
	return nil
}
