package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/config"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/logging"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/server"
)

// openFrontier connects the publisher used by seed. Tests replace it.
var openFrontier = func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (crawler.FrontierPublisher, func(), error) {
	if cfg.Broker.Backend != "pubsub" {
		return nil, nil, errors.New("seed requires broker.backend=pubsub; the memory broker is local to one process")
	}
	b, err := server.OpenBroker(ctx, cfg, "seed", logger)
	if err != nil {
		return nil, nil, err
	}
	return b.Frontier, b.Close, nil
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <url>...",
		Short: "Publish URLs to the frontier topic",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSeedCommand,
	}
}

func runSeedCommand(cmd *cobra.Command, args []string) error {
	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	links := make([]crawler.Link, 0, len(args))
	for _, raw := range args {
		link, err := crawler.ParseLink(raw)
		if err != nil {
			return fmt.Errorf("seed %q: %w", raw, err)
		}
		links = append(links, link)
	}

	publisher, closeFn, err := openFrontier(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("open frontier: %w", err)
	}
	defer closeFn()

	for _, link := range links {
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Pipeline.PublishTimeout)
		err := publisher.Publish(ctx, link.URL)
		cancel()
		if err != nil {
			return fmt.Errorf("publish %s: %w", link.URL, err)
		}
		logger.Info("seeded", zap.String("url", link.URL))
		fmt.Fprintln(cmd.OutOrStdout(), link.URL)
	}
	return nil
}
