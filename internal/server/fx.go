// Package server builds the crawl pipeline and its admin API from
// configuration and runs them until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/api"
	brokermemory "github.com/JakeFAU/realtime-crawl-pipeline/internal/broker/memory"
	brokerpubsub "github.com/JakeFAU/realtime-crawl-pipeline/internal/broker/pubsub"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/clock/system"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/config"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
	collyfetcher "github.com/JakeFAU/realtime-crawl-pipeline/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/health"
	healthsinks "github.com/JakeFAU/realtime-crawl-pipeline/internal/health/sinks"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/id/uuid"
	elasticindex "github.com/JakeFAU/realtime-crawl-pipeline/internal/index/elastic"
	memoryindex "github.com/JakeFAU/realtime-crawl-pipeline/internal/index/memory"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/logging"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/metrics"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/pipeline"
	gcsstorage "github.com/JakeFAU/realtime-crawl-pipeline/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-crawl-pipeline/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-crawl-pipeline/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-crawl-pipeline/internal/storage/postgres"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/telemetry"
	memoryvisited "github.com/JakeFAU/realtime-crawl-pipeline/internal/visited/memory"
	redisvisited "github.com/JakeFAU/realtime-crawl-pipeline/internal/visited/redis"
	sqlitevisited "github.com/JakeFAU/realtime-crawl-pipeline/internal/visited/sqlite"
)

// App contains the application's dependencies.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	instanceID string
	version    string
	registerer prometheus.Registerer

	apiServer *api.Server
	pipeline  *pipeline.Pipeline
	broker    *Broker

	blobStore  *gcsstorage.BlobStore
	pageStore  *pgstore.PageStore
	redisSet   *redisvisited.Set
	sqliteSet  *sqlitevisited.Set
	tracer     *sdktrace.TracerProvider
	listenAddr chan net.Addr
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRegisterer sets where health gauges are registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// WithVersion sets the service version reported on traces.
func WithVersion(version string) Option {
	return func(a *App) { a.version = version }
}

// Build creates the application's dependencies. Nothing runs until Run.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{
		cfg:        cfg,
		registerer: prometheus.DefaultRegisterer,
		version:    "dev",
		listenAddr: make(chan net.Addr, 1),
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
		app.logger = logger
	}

	instanceID, err := uuid.NewUUIDGenerator().NewID()
	if err != nil {
		return nil, fmt.Errorf("instance id: %w", err)
	}
	app.instanceID = instanceID
	app.logger = app.logger.With(zap.String("instance", instanceID))
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("broker", cfg.Broker.Backend),
		zap.String("store", cfg.Store.Backend),
		zap.String("blob", cfg.Blob.Backend),
		zap.String("index", cfg.Index.Backend),
		zap.String("visited", cfg.Visited.Backend),
	)

	metrics.Init()
	app.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: app.version,
		InstanceID:     instanceID,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	if err := app.build(ctx); err != nil {
		app.closeInfrastructure(ctx)
		app.closeObservability(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	var err error
	a.broker, err = OpenBroker(ctx, a.cfg, a.instanceID, a.logger)
	if err != nil {
		return err
	}

	hasher := sha256.New()
	blobs, err := a.setupBlobStore(ctx)
	if err != nil {
		return err
	}
	store, err := a.setupPageStore(ctx, blobs, hasher)
	if err != nil {
		return err
	}
	index, err := a.setupIndex(hasher)
	if err != nil {
		return err
	}
	visited, err := a.setupVisited(ctx)
	if err != nil {
		return err
	}
	sinks, err := a.setupHealthSinks()
	if err != nil {
		return err
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Fetcher.UserAgent,
		RespectRobots: !a.cfg.Fetcher.IgnoreRobots,
		Timeout:       a.cfg.Fetcher.Timeout,
		MaxBodyBytes:  a.cfg.Fetcher.MaxBodyBytes,
	})
	a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.Fetcher.UserAgent))

	pc := a.cfg.Pipeline
	a.pipeline, err = pipeline.New(pipeline.Config{
		Workers:            pc.Workers,
		Republishers:       pc.Republishers,
		IngestCapacity:     pc.IngestQueueCapacity,
		ShuffleCapacity:    pc.ShuffleQueueCapacity,
		DomainTTL:          pc.DomainTTL,
		AcceptedLanguage:   pc.AcceptedLanguage,
		WorkTimeout:        pc.WorkTimeout,
		ShutdownTimeout:    pc.ShutdownTimeout,
		HealthInterval:     pc.HealthInterval,
		PublishRate:        pc.PublishRate,
		PublishBurst:       pc.PublishBurst,
		PublishMaxAttempts: pc.PublishMaxAttempts,
		PublishTimeout:     pc.PublishTimeout,
		BackoffInitial:     pc.BackoffInitial,
		BackoffMax:         pc.BackoffMax,
	}, pipeline.Dependencies{
		Source:    a.broker.Source,
		Publisher: a.broker.Frontier,
		Pages:     a.broker.Pages,
		Fetcher:   fetcher,
		Store:     store,
		Index:     index,
		Visited:   visited,
		Clock:     system.New(),
		Sinks:     sinks,
	}, a.logger.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.pipeline, a.broker.Frontier, api.Options{
		APIKey:         a.cfg.Server.APIKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
		PublishTimeout: pc.PublishTimeout,
	}, a.logger.Named("api"))
	return nil
}

// Run starts the pipeline and the admin server and blocks until ctx is
// canceled, a termination signal arrives, or either of them fails. The
// pipeline is drained before the server stops so /readyz can report it.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return errors.Join(fmt.Errorf("listen: %w", err), a.Close(context.WithoutCancel(ctx)))
	}
	a.listenAddr <- ln.Addr()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	pipelineDone := make(chan struct{})
	g.Go(func() error {
		defer close(pipelineDone)
		a.logger.Info("pipeline starting")
		if err := a.pipeline.Run(gctx); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-pipelineDone
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	runErr := g.Wait()
	if runErr == nil {
		report := a.pipeline.FlushReport()
		a.logger.Info("flush complete",
			zap.Int("flushed", report.Flushed),
			zap.Int("failed", report.Failed),
		)
	}
	return errors.Join(runErr, a.Close(context.WithoutCancel(ctx)))
}

// Addr blocks until Run is listening and returns the bound address.
func (a *App) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case addr := <-a.listenAddr:
		a.listenAddr <- addr
		return addr, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for listener: %w", ctx.Err())
	}
}

// Close gracefully shuts down the application's clients.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.broker != nil {
		a.broker.Close()
	}
	if a.blobStore != nil {
		if err := a.blobStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pageStore != nil {
		a.pageStore.Close()
	}
	if a.redisSet != nil {
		if err := a.redisSet.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.sqliteSet != nil {
		if err := a.sqliteSet.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on stdout/stderr on some platforms.
	_ = a.logger.Sync()
}

// Broker bundles the frontier source and publishers of one backend.
type Broker struct {
	Source   crawler.FrontierSource
	Frontier crawler.FrontierPublisher
	Pages    crawler.PagePublisher

	close func()
}

// Close flushes pending publishes and releases the client.
func (b *Broker) Close() {
	if b.close != nil {
		b.close()
	}
}

// OpenBroker connects the configured frontier broker. The memory backend is
// process-local and suits single-instance runs and tests.
func OpenBroker(ctx context.Context, cfg *config.Config, producer string, logger *zap.Logger) (*Broker, error) {
	switch cfg.Broker.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Broker.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		frontier := client.Publisher(cfg.Broker.FrontierTopic)
		var pages *pubsub.Publisher
		if cfg.Broker.PageTopic != "" {
			pages = client.Publisher(cfg.Broker.PageTopic)
		}
		sub := client.Subscriber(cfg.Broker.FrontierSubscription)
		publisher := brokerpubsub.New(frontier, pages, producer)
		logger.Info("Pub/Sub broker initialized",
			zap.String("project", cfg.Broker.ProjectID),
			zap.String("frontier_topic", cfg.Broker.FrontierTopic),
			zap.String("subscription", cfg.Broker.FrontierSubscription),
			zap.String("page_topic", cfg.Broker.PageTopic),
		)
		b := &Broker{
			Source:   brokerpubsub.NewSource(sub),
			Frontier: publisher,
			close: func() {
				publisher.Stop()
				if err := client.Close(); err != nil {
					logger.Warn("pubsub client close failed", zap.Error(err))
				}
			},
		}
		if pages != nil {
			b.Pages = publisher
		}
		return b, nil
	default:
		logger.Warn("using in-memory broker; frontier is not shared between instances")
		mem := brokermemory.New()
		b := &Broker{Source: mem, Frontier: mem}
		if cfg.Broker.PageTopic != "" {
			b.Pages = mem
		}
		return b, nil
	}
}

func (a *App) setupBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Blob.Backend {
	case "gcs":
		store, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: a.cfg.Blob.Bucket}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobStore = store
		a.logger.Info("using GCS blob store", zap.String("bucket", a.cfg.Blob.Bucket))
		return store, nil
	case "local":
		store, err := localstorage.New(a.cfg.Blob.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local blob store", zap.String("path", a.cfg.Blob.BaseDir))
		return store, nil
	case "memory":
		a.logger.Info("using in-memory blob store")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupPageStore(
	ctx context.Context,
	blobs crawler.BlobStore,
	hasher crawler.Hasher,
) (crawler.PageStore, error) {
	if a.cfg.Store.Backend != "postgres" {
		a.logger.Warn("using in-memory page store")
		return memorystorage.NewPageStore(), nil
	}
	var opts []pgstore.Option
	if blobs != nil {
		opts = append(opts, pgstore.WithBlobStore(blobs, hasher, a.cfg.Blob.Prefix))
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.Store.DSN,
		Table:           a.cfg.Store.Table,
		MaxConns:        a.cfg.Store.MaxConns,
		MinConns:        a.cfg.Store.MinConns,
		MaxConnLifetime: a.cfg.Store.MaxConnLifetime,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("page store init failed: %w", err)
	}
	a.pageStore = store
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("page store schema: %w", err)
	}
	a.logger.Info("page store initialized", zap.String("table", a.cfg.Store.Table))
	return store, nil
}

func (a *App) setupIndex(hasher crawler.Hasher) (crawler.PageIndex, error) {
	if a.cfg.Index.Backend != "elasticsearch" {
		a.logger.Warn("using in-memory page index")
		return memoryindex.New(), nil
	}
	index, err := elasticindex.New(elasticindex.Config{
		Addresses: a.cfg.Index.Addresses,
		Index:     a.cfg.Index.Name,
		Username:  a.cfg.Index.Username,
		Password:  a.cfg.Index.Password,
	}, hasher)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch index init failed: %w", err)
	}
	a.logger.Info("using elasticsearch index", zap.Strings("addresses", a.cfg.Index.Addresses))
	return index, nil
}

func (a *App) setupVisited(ctx context.Context) (crawler.VisitedSet, error) {
	switch a.cfg.Visited.Backend {
	case "redis":
		set, err := redisvisited.Dial(ctx, redisvisited.Config{
			Addr:     a.cfg.Visited.RedisAddr,
			Password: a.cfg.Visited.RedisPassword,
			DB:       a.cfg.Visited.RedisDB,
			Key:      a.cfg.Visited.RedisKey,
		})
		if err != nil {
			return nil, fmt.Errorf("redis visited set init failed: %w", err)
		}
		a.redisSet = set
		a.logger.Info("using redis visited set", zap.String("addr", a.cfg.Visited.RedisAddr))
		return set, nil
	case "sqlite":
		set, err := sqlitevisited.Open(ctx, a.cfg.Visited.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite visited set init failed: %w", err)
		}
		a.sqliteSet = set
		a.logger.Info("using sqlite visited set", zap.String("path", a.cfg.Visited.SQLitePath))
		return set, nil
	default:
		a.logger.Warn("using in-memory visited set; attempted URLs are not shared between instances")
		return memoryvisited.New(), nil
	}
}

func (a *App) setupHealthSinks() ([]health.Sink, error) {
	sinks := []health.Sink{healthsinks.NewLogSink(a.logger.Named("health"))}
	if a.registerer == nil {
		return sinks, nil
	}
	promSink, err := healthsinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return nil, fmt.Errorf("health sink init failed: %w", err)
	}
	return append(sinks, promSink), nil
}
