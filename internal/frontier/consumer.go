// Package frontier moves frontier messages from the broker into the local
// ingest queue.
package frontier

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/health"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/metrics"
)

// ErrIngestFull is returned to the broker when a message could not be placed
// on the ingest queue before stop. The broker redelivers it.
var ErrIngestFull = errors.New("ingest queue full at shutdown")

// Consumer is the single broker consumer of a pipeline instance.
type Consumer struct {
	source crawler.FrontierSource
	queue  crawler.Queue
	role   *health.Role
	logger *zap.Logger
}

// New wires a Consumer reading from source into queue.
func New(source crawler.FrontierSource, queue crawler.Queue, role *health.Role, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		source: source,
		queue:  queue,
		role:   role,
		logger: logger,
	}
}

// Run receives messages until stop is done. A message is acknowledged only
// once its URL is on the ingest queue.
func (c *Consumer) Run(stop context.Context) error {
	defer c.role.Terminated()
	c.role.Blocked()

	err := c.source.Receive(stop, func(_ context.Context, url string) error {
		c.role.Running()
		defer c.role.Blocked()
		return c.handle(stop, url)
	})
	if err != nil && stop.Err() == nil {
		c.logger.Error("frontier receive failed", zap.Error(err))
		return fmt.Errorf("consume frontier: %w", err)
	}
	return nil
}

func (c *Consumer) handle(stop context.Context, url string) error {
	if c.queue.TryEnqueue(url) {
		metrics.ObserveFrontier("ack")
		return nil
	}
	c.role.Blocked()
	if err := c.queue.Enqueue(stop, url); err != nil {
		// Stop arrived while the queue was full; one last non-blocking try
		// before handing the message back.
		if c.queue.TryEnqueue(url) {
			metrics.ObserveFrontier("ack")
			return nil
		}
		metrics.ObserveFrontier("nack")
		c.logger.Info("ingest queue full at stop, returning message", zap.String("url", url))
		return fmt.Errorf("%w: %w", ErrIngestFull, err)
	}
	metrics.ObserveFrontier("ack")
	return nil
}
