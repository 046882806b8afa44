// Package pipeline assembles one crawler instance: the frontier consumer,
// the worker pool, the republisher pool, the health monitor and the
// shutdown coordinator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/dedup"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/frontier"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/health"
	queuememory "github.com/JakeFAU/realtime-crawl-pipeline/internal/queue/memory"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/republisher"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/shutdown"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/worker"
)

// Queue names, also used as metric and health labels.
const (
	IngestQueue  = "ingest"
	ShuffleQueue = "shuffle"
)

// Config sizes the pipeline.
type Config struct {
	Workers          int
	Republishers     int
	IngestCapacity   int
	ShuffleCapacity  int
	DomainTTL        time.Duration
	AcceptedLanguage string
	WorkTimeout      time.Duration

	ShutdownTimeout time.Duration
	HealthInterval  time.Duration

	PublishRate        float64
	PublishBurst       int
	PublishMaxAttempts int
	PublishTimeout     time.Duration
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
}

// Dependencies are the external collaborators. Pages and Sinks are optional.
type Dependencies struct {
	Source    crawler.FrontierSource
	Publisher crawler.FrontierPublisher
	Pages     crawler.PagePublisher
	Fetcher   crawler.PageFetcher
	Store     crawler.PageStore
	Index     crawler.PageIndex
	Visited   crawler.VisitedSet
	Clock     crawler.Clock
	Sinks     []health.Sink
}

func (d Dependencies) validate() error {
	switch {
	case d.Source == nil:
		return errors.New("frontier source is required")
	case d.Publisher == nil:
		return errors.New("frontier publisher is required")
	case d.Fetcher == nil:
		return errors.New("fetcher is required")
	case d.Store == nil:
		return errors.New("page store is required")
	case d.Index == nil:
		return errors.New("page index is required")
	case d.Visited == nil:
		return errors.New("visited set is required")
	case d.Clock == nil:
		return errors.New("clock is required")
	}
	return nil
}

// Pipeline owns the local queues and role goroutines of one instance.
type Pipeline struct {
	cfg    Config
	logger *zap.Logger

	ingest  *queuememory.Queue
	shuffle *queuememory.Queue
	spill   *shutdown.Spill
	domains *dedup.DomainCache
	tracker *health.Tracker
	monitor *health.Monitor
	latch   *shutdown.Latch
	coord   *shutdown.Coordinator

	consumer     *frontier.Consumer
	workers      []*worker.Worker
	republishers []*republisher.Republisher

	stopCtx context.Context
	stop    context.CancelFunc

	startOnce sync.Once
	started   atomic.Bool
	stopping  atomic.Bool
	failed    chan error
}

// New wires every role but starts nothing.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("pipeline dependencies: %w", err)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Republishers < 1 {
		cfg.Republishers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pipeline{
		cfg:     cfg,
		logger:  logger,
		ingest:  queuememory.NewQueue(IngestQueue, cfg.IngestCapacity),
		shuffle: queuememory.NewQueue(ShuffleQueue, cfg.ShuffleCapacity),
		spill:   shutdown.NewSpill(),
		domains: dedup.NewDomainCache(cfg.DomainTTL),
		tracker: health.NewTracker(),
		latch:   &shutdown.Latch{},
		failed:  make(chan error, 1),
	}
	p.stopCtx, p.stop = context.WithCancel(context.Background())

	p.monitor = health.NewMonitor(
		health.Config{Interval: cfg.HealthInterval, Domains: p.domains, Logger: logger.Named("health")},
		p.tracker,
		[]health.QueueGauge{p.ingest, p.shuffle},
		deps.Sinks...,
	)

	p.consumer = frontier.New(deps.Source, p.ingest, p.tracker.Register("consumer"), logger.Named("consumer"))

	coordinator := dedup.New(p.domains, deps.Visited, deps.Clock)
	for i := 0; i < cfg.Workers; i++ {
		name := fmt.Sprintf("worker-%d", i)
		p.workers = append(p.workers, worker.New(worker.Dependencies{
			In:      p.ingest,
			Out:     p.shuffle,
			Dedup:   coordinator,
			Fetcher: deps.Fetcher,
			Store:   deps.Store,
			Index:   deps.Index,
			Pages:   deps.Pages,
			Clock:   deps.Clock,
			Spill:   p.spill,
			Role:    p.tracker.Register(name),
		}, worker.Config{
			AcceptedLanguage: cfg.AcceptedLanguage,
			WorkTimeout:      cfg.WorkTimeout,
		}, logger.Named("worker").With(zap.Int("index", i))))
	}

	limiter := republisher.NewLimiter(cfg.PublishRate, cfg.PublishBurst)
	for i := 0; i < cfg.Republishers; i++ {
		name := fmt.Sprintf("republisher-%d", i)
		p.republishers = append(p.republishers, republisher.New(
			p.shuffle,
			deps.Publisher,
			limiter,
			p.spill,
			p.tracker.Register(name),
			republisher.Config{
				MaxAttempts:    cfg.PublishMaxAttempts,
				PublishTimeout: cfg.PublishTimeout,
				Backoff:        republisher.Backoff{Initial: cfg.BackoffInitial, Max: cfg.BackoffMax},
			},
			logger.Named("republisher").With(zap.Int("index", i)),
		))
	}

	// Late roles need at most one link or one publish to finish.
	grace := cfg.WorkTimeout
	if grace <= 0 {
		grace = worker.DefaultWorkTimeout
	}
	grace += cfg.PublishTimeout
	p.coord = shutdown.New(shutdown.Config{
		Timeout:        cfg.ShutdownTimeout,
		PublishTimeout: cfg.PublishTimeout,
		Grace:          grace,
		Stop:           p.stop,
		Latch:          p.latch,
		Buffers:        []shutdown.Drainable{p.ingest, p.shuffle, p.spill},
		Publisher:      deps.Publisher,
		Monitor:        p.monitor,
		Logger:         logger.Named("shutdown"),
	})
	return p, nil
}

// Start launches every role. Subsequent calls are no-ops.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		p.started.Store(true)
		go p.domains.Start()
		p.monitor.Start()

		p.latch.Go(func() {
			if err := p.consumer.Run(p.stopCtx); err != nil {
				select {
				case p.failed <- err:
				default:
				}
			}
		})
		for _, w := range p.workers {
			p.latch.Go(func() { w.Run(p.stopCtx) })
		}
		for _, r := range p.republishers {
			p.latch.Go(func() { r.Run(p.stopCtx) })
		}
		p.logger.Info("pipeline started",
			zap.Int("workers", len(p.workers)),
			zap.Int("republishers", len(p.republishers)),
			zap.Int("ingest_capacity", p.ingest.Cap()),
			zap.Int("shuffle_capacity", p.shuffle.Cap()),
		)
	})
}

// Run starts the pipeline and blocks until ctx ends or the consumer fails,
// then shuts down.
func (p *Pipeline) Run(ctx context.Context) error {
	p.Start()
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-p.failed:
		p.logger.Error("frontier consumer stopped", zap.Error(runErr))
	}
	shutdownErr := p.Shutdown(context.WithoutCancel(ctx))
	return errors.Join(runErr, shutdownErr)
}

// Shutdown stops every role and flushes local buffers to the broker.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.stopping.Store(true)
	err := p.coord.Shutdown(ctx)
	if p.started.Load() {
		p.domains.Stop()
		p.started.Store(false)
	}
	if err != nil {
		return fmt.Errorf("pipeline shutdown: %w", err)
	}
	return nil
}

// Stopping reports whether shutdown has begun.
func (p *Pipeline) Stopping() bool {
	return p.stopping.Load()
}

// Health takes a snapshot without delivering it to sinks.
func (p *Pipeline) Health() health.Snapshot {
	running, blocked, terminated := p.tracker.Counts()
	return health.Snapshot{
		At:         time.Now(),
		Running:    running,
		Blocked:    blocked,
		Terminated: terminated,
		QueueDepths: map[string]int{
			IngestQueue:  p.ingest.Len(),
			ShuffleQueue: p.shuffle.Len(),
		},
		ThrottledDomains: p.domains.Len(),
	}
}

// FlushReport returns the result of the shutdown flush.
func (p *Pipeline) FlushReport() shutdown.Report {
	return p.coord.Report()
}
