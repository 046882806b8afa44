// Package worker implements the crawl worker: dedup, fetch, persist and
// link emission for one URL at a time.
package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/health"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/metrics"
)

const defaultLanguage = "en"

// DefaultWorkTimeout bounds one link when Config.WorkTimeout is unset.
const DefaultWorkTimeout = 45 * time.Second

// Deduper is the dedup contract the worker relies on.
type Deduper interface {
	Decide(ctx context.Context, raw string) (crawler.Decision, crawler.Link, error)
	MarkDomain(link crawler.Link)
	MarkAttempted(ctx context.Context, link crawler.Link) error
}

// Spiller receives links the worker could not enqueue after stop.
type Spiller interface {
	Add(urls ...string)
}

// Config controls Worker behavior.
type Config struct {
	// AcceptedLanguage is the ISO 639-1 code pages must match (default "en").
	AcceptedLanguage string
	// WorkTimeout bounds fetch and persistence for a single link.
	WorkTimeout time.Duration
}

// Dependencies groups the collaborators of a Worker. Pages and Spill are
// optional.
type Dependencies struct {
	In      crawler.Queue
	Out     crawler.Queue
	Dedup   Deduper
	Fetcher crawler.PageFetcher
	Store   crawler.PageStore
	Index   crawler.PageIndex
	Pages   crawler.PagePublisher
	Clock   crawler.Clock
	Spill   Spiller
	Role    *health.Role
}

// Result is what processing one link produced.
type Result struct {
	Outcome crawler.Outcome
	Links   []string
}

// Worker consumes the ingest queue and feeds discovered links to the shuffle
// queue.
type Worker struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// New constructs a Worker.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *Worker {
	if cfg.AcceptedLanguage == "" {
		cfg.AcceptedLanguage = defaultLanguage
	}
	if cfg.WorkTimeout <= 0 {
		cfg.WorkTimeout = DefaultWorkTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("github.com/JakeFAU/realtime-crawl-pipeline/internal/worker"),
	}
}

// Run blocks, consuming the ingest queue until stop is done. A link that was
// already dequeued is always processed to completion and its results handed
// on before Run returns.
func (w *Worker) Run(stop context.Context) {
	defer w.deps.Role.Terminated()
	for stop.Err() == nil {
		w.deps.Role.Blocked()
		url, err := w.deps.In.Dequeue(stop)
		if err != nil {
			if stop.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.deps.Role.Running()

		workCtx, cancel := context.WithTimeout(context.WithoutCancel(stop), w.cfg.WorkTimeout)
		res := w.Process(workCtx, url)
		cancel()

		w.emit(stop, res.Links)
	}
}

// emit hands links to the shuffle queue. Once stop is done the queue may
// already have been flushed, so everything goes to the spill instead.
func (w *Worker) emit(stop context.Context, links []string) {
	if len(links) == 0 {
		return
	}
	if stop.Err() != nil && w.deps.Spill != nil {
		w.deps.Spill.Add(links...)
		w.logger.Debug("stopping, spilling links", zap.Int("links", len(links)))
		return
	}
	for i, link := range links {
		if w.deps.Out.TryEnqueue(link) {
			continue
		}
		w.deps.Role.Blocked()
		if err := w.deps.Out.Enqueue(stop, link); err != nil {
			rest := links[i:]
			if w.deps.Spill != nil {
				w.deps.Spill.Add(rest...)
			}
			w.logger.Warn("shuffle enqueue interrupted, spilling links",
				zap.Int("links", len(rest)),
				zap.Error(err),
			)
			return
		}
	}
}

// Process runs one link through dedup, fetch and persistence. It never
// panics; every failure is folded into the returned outcome.
func (w *Worker) Process(ctx context.Context, raw string) (res Result) {
	ctx, span := w.tracer.Start(ctx, "worker.process", trace.WithAttributes(attribute.String("url", raw)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while processing link",
				zap.String("url", raw),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			if link, err := crawler.ParseLink(raw); err == nil {
				w.markAttempted(ctx, link)
			}
			res = Result{Outcome: crawler.OutcomeUnexpectedFailure}
		}
		span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
		metrics.ObserveOutcome(string(res.Outcome))
	}()

	return w.process(ctx, raw)
}

func (w *Worker) process(ctx context.Context, raw string) Result {
	decision, link, err := w.deps.Dedup.Decide(ctx, raw)
	switch {
	case errors.Is(err, crawler.ErrMalformedLink):
		w.logger.Warn("dropping malformed link", zap.String("url", raw), zap.Error(err))
		return Result{Outcome: crawler.OutcomeMalformedLink}
	case err != nil:
		w.logger.Warn("visited set unavailable, recirculating link", zap.String("url", raw), zap.Error(err))
		return Result{Outcome: crawler.OutcomeStoreUnavailable, Links: []string{raw}}
	}

	switch decision {
	case crawler.DecisionSkipThrottled:
		w.logger.Debug("domain throttled, re-emitting link", zap.String("url", link.URL), zap.String("domain", link.Domain))
		return Result{Outcome: crawler.OutcomeThrottled, Links: []string{link.URL}}
	case crawler.DecisionAlreadyKnown:
		return Result{Outcome: crawler.OutcomeAlreadyKnown}
	default:
		return w.crawl(ctx, link)
	}
}

func (w *Worker) crawl(ctx context.Context, link crawler.Link) Result {
	doc, err := w.fetch(ctx, link)

	if err != nil {
		outcome := classifyFetchError(err)
		if outcome == crawler.OutcomeMalformedLink {
			w.logger.Warn("dropping malformed link", zap.String("url", link.URL), zap.Error(err))
			return Result{Outcome: outcome}
		}
		if outcome == crawler.OutcomeUnexpectedFailure {
			w.logger.Error("fetch failed", zap.String("url", link.URL), zap.Error(err))
		} else {
			w.logger.Info("page dropped", zap.String("url", link.URL), zap.String("outcome", string(outcome)), zap.Error(err))
		}
		w.markAttempted(ctx, link)
		return Result{Outcome: outcome}
	}

	if doc != nil && doc.RobotsFallback != "" {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("robots_fallback", doc.RobotsFallback))
		w.logger.Info("robots.txt unavailable, crawled as allow-all",
			zap.String("url", link.URL),
			zap.String("reason", doc.RobotsFallback),
		)
	}

	if doc == nil || strings.TrimSpace(doc.Text) == "" {
		w.logger.Warn("page has no text content", zap.String("url", link.URL))
		w.markAttempted(ctx, link)
		return Result{Outcome: crawler.OutcomeEmptyContent}
	}
	if !strings.EqualFold(doc.Language, w.cfg.AcceptedLanguage) {
		w.logger.Debug("page language not accepted",
			zap.String("url", link.URL),
			zap.String("language", doc.Language),
		)
		w.markAttempted(ctx, link)
		return Result{Outcome: crawler.OutcomeUnsupportedLanguage}
	}

	page := crawler.NewPage(link, *doc, w.deps.Clock.Now())
	return w.persist(ctx, page)
}

// fetch records the domain attempt even when the fetcher panics.
func (w *Worker) fetch(ctx context.Context, link crawler.Link) (*crawler.Document, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveFetch(link.URL, time.Since(start))
		w.deps.Dedup.MarkDomain(link)
	}()
	return w.deps.Fetcher.Fetch(ctx, link)
}

func (w *Worker) persist(ctx context.Context, page crawler.Page) Result {
	link := page.Link
	stored, err := w.deps.Store.Add(ctx, page)
	if err != nil || !stored {
		w.logger.Warn("store unavailable, recirculating link", zap.String("url", link.URL), zap.Error(err))
		return Result{Outcome: crawler.OutcomeStoreUnavailable, Links: []string{link.URL}}
	}

	if err := w.deps.Index.Save(ctx, page); err != nil {
		w.logger.Error("index save failed", zap.String("url", link.URL), zap.Error(err))
		w.markAttempted(ctx, link)
		return Result{Outcome: crawler.OutcomeUnexpectedFailure}
	}

	if w.deps.Pages != nil {
		if err := w.deps.Pages.PublishPage(ctx, page); err != nil {
			w.logger.Warn("page publish failed", zap.String("url", link.URL), zap.Error(err))
		}
	}

	w.markAttempted(ctx, link)
	w.logger.Debug("page stored",
		zap.String("url", link.URL),
		zap.Int("anchors", len(page.Anchors)),
	)
	return Result{Outcome: crawler.OutcomeStored, Links: page.OutboundLinks()}
}

func (w *Worker) markAttempted(ctx context.Context, link crawler.Link) {
	if err := w.deps.Dedup.MarkAttempted(ctx, link); err != nil {
		w.logger.Warn("mark attempted failed", zap.String("url", link.URL), zap.Error(err))
	}
}

func classifyFetchError(err error) crawler.Outcome {
	switch {
	case errors.Is(err, crawler.ErrMalformedLink):
		return crawler.OutcomeMalformedLink
	case errors.Is(err, crawler.ErrLanguageDetect):
		return crawler.OutcomeLanguageDetectFailure
	case errors.Is(err, crawler.ErrUnsupportedLanguage):
		return crawler.OutcomeUnsupportedLanguage
	case errors.Is(err, crawler.ErrEmptyContent):
		return crawler.OutcomeEmptyContent
	default:
		return crawler.OutcomeUnexpectedFailure
	}
}
