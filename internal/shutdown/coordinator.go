// Package shutdown stops the pipeline roles cooperatively and flushes every
// URL still held locally back to the broker.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/metrics"
)

// ErrFlushIncomplete is returned when at least one URL could not be
// republished during the final flush.
var ErrFlushIncomplete = errors.New("final flush incomplete")

const (
	defaultTimeout        = 30 * time.Second
	defaultPublishTimeout = 10 * time.Second
)

// Drainable is a local buffer the coordinator can empty without blocking.
type Drainable interface {
	Name() string
	Drain() []string
}

// Stopper is anything stopped at the very end of shutdown.
type Stopper interface {
	Stop()
}

// Config wires the coordinator.
//   - Timeout: bound on waiting for roles to exit (default 30s).
//   - PublishTimeout: per-URL publish timeout during the flush (default 10s).
//   - Stop: cancels the roles' stop context.
//   - Grace: extra wait for roles still running after Timeout; anything they
//     spill meanwhile is flushed in a second pass. Zero disables it.
//   - Buffers: drained in order after the wait.
type Config struct {
	Timeout        time.Duration
	PublishTimeout time.Duration
	Grace          time.Duration
	Stop           context.CancelFunc
	Latch          *Latch
	Buffers        []Drainable
	Publisher      crawler.FrontierPublisher
	Monitor        Stopper
	Logger         *zap.Logger
}

// Report summarizes a completed shutdown.
type Report struct {
	Flushed int
	Failed  int
	WaitErr error
}

// Coordinator runs the two-phase shutdown exactly once.
type Coordinator struct {
	cfg    Config
	logger *zap.Logger

	once   sync.Once
	report Report
	err    error
}

// New builds a Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Latch == nil {
		cfg.Latch = &Latch{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{cfg: cfg, logger: logger}
}

// Shutdown signals every role to stop, waits for them (bounded), then
// republishes whatever is left in the buffers one URL at a time. A failed
// publish does not stop the flush. The returned error wraps
// ErrFlushIncomplete when anything was not republished, and carries the wait
// error when roles did not exit in time. With a Grace period, roles that
// finish late get one more flush pass. Later calls return the first result.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.report, c.err = c.run(ctx)
	})
	return c.err
}

// Report returns the outcome of the completed shutdown.
func (c *Coordinator) Report() Report {
	return c.report
}

func (c *Coordinator) run(ctx context.Context) (Report, error) {
	if c.cfg.Monitor != nil {
		defer c.cfg.Monitor.Stop()
	}

	c.logger.Info("stopping pipeline roles", zap.Int("pending", c.cfg.Latch.Pending()))
	if c.cfg.Stop != nil {
		c.cfg.Stop()
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	waitErr := c.cfg.Latch.Wait(waitCtx)
	cancel()
	if waitErr != nil {
		c.logger.Warn("roles did not exit cleanly, flushing anyway",
			zap.Duration("timeout", c.cfg.Timeout),
			zap.Int("pending", c.cfg.Latch.Pending()),
			zap.Error(waitErr),
		)
	}

	report := Report{WaitErr: waitErr}
	flushCtx := context.WithoutCancel(ctx)
	failures := c.flush(flushCtx, &report)

	if errors.Is(waitErr, ErrShutdownTimeout) && c.cfg.Grace > 0 {
		graceCtx, cancel := context.WithTimeout(ctx, c.cfg.Grace)
		graceErr := c.cfg.Latch.Wait(graceCtx)
		cancel()
		if graceErr != nil {
			c.logger.Error("roles still running after grace period",
				zap.Duration("grace", c.cfg.Grace),
				zap.Int("pending", c.cfg.Latch.Pending()),
			)
		} else {
			c.logger.Info("late roles exited, flushing again")
		}
		failures = append(failures, c.flush(flushCtx, &report)...)
	}

	c.logger.Info("shutdown flush complete",
		zap.Int("flushed", report.Flushed),
		zap.Int("failed", report.Failed),
	)

	var errs []error
	if waitErr != nil {
		errs = append(errs, waitErr)
	}
	if report.Failed > 0 {
		errs = append(errs, fmt.Errorf("%w: %d of %d urls not republished",
			ErrFlushIncomplete, report.Failed, report.Failed+report.Flushed))
		errs = append(errs, failures...)
	}
	return report, errors.Join(errs...)
}

func (c *Coordinator) flush(ctx context.Context, report *Report) []error {
	var failures []error
	for _, buf := range c.cfg.Buffers {
		items := buf.Drain()
		if len(items) == 0 {
			continue
		}
		c.logger.Info("flushing buffer", zap.String("queue", buf.Name()), zap.Int("items", len(items)))
		for _, url := range items {
			if err := c.publish(ctx, url); err != nil {
				report.Failed++
				metrics.ObserveFlush("error")
				c.logger.Error("flush publish failed",
					zap.String("queue", buf.Name()),
					zap.String("url", url),
					zap.Error(err),
				)
				failures = append(failures, fmt.Errorf("flush %s: %w", url, err))
				continue
			}
			report.Flushed++
			metrics.ObserveFlush("ok")
		}
	}
	return failures
}

func (c *Coordinator) publish(ctx context.Context, url string) error {
	pubCtx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()
	if err := c.cfg.Publisher.Publish(pubCtx, url); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
