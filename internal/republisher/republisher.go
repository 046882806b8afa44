// Package republisher publishes discovered links from the shuffle queue back
// to the broker frontier topic.
package republisher

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/health"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/metrics"
)

const (
	defaultMaxAttempts    = 5
	defaultPublishTimeout = 10 * time.Second
)

// Spiller receives links that could not be published or requeued.
type Spiller interface {
	Add(urls ...string)
}

// Config controls retry behavior.
type Config struct {
	MaxAttempts    int
	PublishTimeout time.Duration
	Backoff        Backoff
}

// NewLimiter builds the shared publish limiter. A non-positive rate disables
// pacing and returns nil.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Republisher is one member of the republisher pool.
type Republisher struct {
	queue     crawler.Queue
	publisher crawler.FrontierPublisher
	limiter   *rate.Limiter
	spill     Spiller
	role      *health.Role
	cfg       Config
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// New wires a Republisher. limiter may be shared across the pool or nil.
func New(
	queue crawler.Queue,
	publisher crawler.FrontierPublisher,
	limiter *rate.Limiter,
	spill Spiller,
	role *health.Role,
	cfg Config,
	logger *zap.Logger,
) *Republisher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Backoff.Initial <= 0 || cfg.Backoff.Max <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Republisher{
		queue:     queue,
		publisher: publisher,
		limiter:   limiter,
		spill:     spill,
		role:      role,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// Run drains the shuffle queue until stop is done.
func (r *Republisher) Run(stop context.Context) {
	defer r.role.Terminated()
	for stop.Err() == nil {
		r.role.Blocked()
		url, err := r.queue.Dequeue(stop)
		if err != nil {
			if stop.Err() != nil {
				return
			}
			r.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		r.role.Running()
		r.deliver(stop, url)
	}
}

// deliver publishes url with retries. Once attempts run out the url goes back
// on the queue, or to the spill if the queue is full or stop has begun.
func (r *Republisher) deliver(stop context.Context, url string) {
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.ObservePublishRetry()
			if err := r.sleep(stop, r.cfg.Backoff.Delay(attempt-1)); err != nil {
				r.toSpill(url, "stopped during backoff")
				return
			}
		}
		if r.limiter != nil {
			r.role.Blocked()
			err := r.limiter.Wait(stop)
			r.role.Running()
			if err != nil {
				r.toSpill(url, "stopped while paced")
				return
			}
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(stop), r.cfg.PublishTimeout)
		err := r.publisher.Publish(ctx, url)
		cancel()
		if err == nil {
			metrics.ObservePublish("ok")
			return
		}
		metrics.ObservePublish("error")
		r.logger.Warn("publish failed",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	if stop.Err() == nil && r.queue.TryEnqueue(url) {
		metrics.ObservePublish("requeued")
		r.logger.Warn("publish attempts exhausted, requeued", zap.String("url", url))
		return
	}
	r.toSpill(url, "publish attempts exhausted")
}

func (r *Republisher) toSpill(url, reason string) {
	metrics.ObservePublish("spilled")
	if r.spill == nil {
		r.logger.Error("link lost, no spill configured", zap.String("url", url), zap.String("reason", reason))
		return
	}
	r.spill.Add(url)
	r.logger.Info("link spilled for shutdown flush", zap.String("url", url), zap.String("reason", reason))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
