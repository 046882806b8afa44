// Package collyfetcher implements crawler.PageFetcher using gocolly, goquery
// and whatlanggo.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 10 << 20
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
}

// FetchError reports a failed request. Status is zero when no response was
// received.
type FetchError struct {
	URL    string
	Status int
	Cause  error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.Status, e.Cause)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Fetcher implements crawler.PageFetcher using the Colly collector.
//
// Clones of baseCollector share its HTTP client and robots cache, so the
// transport and client settings are fixed in New and never touched per fetch.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	guard         *robotsGuard
	// host -> reason its robots.txt was taken as allow-all
	fallbacks sync.Map
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type response struct {
	url         string
	status      int
	contentType string
	body        []byte
}

// fetchState collects what one collector run produced. It is written by the
// Visit goroutine and read only after Visit returned.
type fetchState struct {
	resp response
	err  error
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.MaxBodySize = cfg.MaxBodyBytes
	c.SetRequestTimeout(cfg.Timeout)

	f := &Fetcher{cfg: cfg, baseCollector: c}
	transport := newHTTPTransport()
	if cfg.RespectRobots {
		f.guard = &robotsGuard{
			next:       transport,
			delays:     robotsRetryDelays,
			onFallback: func(host, reason string) { f.fallbacks.Store(host, reason) },
		}
		c.WithTransport(f.guard)
	} else {
		c.WithTransport(transport)
	}
	return f
}

// Fetch downloads link and parses it into a Document. Non-HTML responses
// yield a nil document.
func (f *Fetcher) Fetch(ctx context.Context, link crawler.Link) (*crawler.Document, error) {
	state := &fetchState{}
	collector := f.buildCollector(ctx, state)
	if err := runCollector(ctx, collector, link.URL, state); err != nil {
		return nil, &FetchError{URL: link.URL, Status: state.resp.status, Cause: err}
	}
	if !isHTML(state.resp.contentType) {
		return nil, nil
	}

	doc, err := parseDocument(state.resp.body, state.resp.url)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", link.URL, err)
	}
	doc.RobotsFallback = f.robotsFallback(link.URL)
	if strings.TrimSpace(doc.Text) == "" {
		return doc, nil
	}
	lang, err := detectLanguage(doc.Text)
	if err != nil {
		return nil, fmt.Errorf("detect language of %s: %w", link.URL, err)
	}
	doc.Language = lang
	return doc, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, state *fetchState) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	configureCollectorHooks(collector, state)
	return collector
}

// robotsFallback reports why the robots.txt of rawURL's host was taken as
// allow-all. Colly caches robots per host, so the reason holds for every
// later page on that host.
func (f *Fetcher) robotsFallback(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if reason, ok := f.fallbacks.Load(u.Host); ok {
		return reason.(string)
	}
	return ""
}

func configureCollectorHooks(hooks collectorHooks, state *fetchState) {
	hooks.OnResponse(func(r *colly.Response) {
		state.resp = response{
			url:    r.Request.URL.String(),
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
		if r.Headers != nil {
			state.resp.contentType = r.Headers.Get("Content-Type")
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			state.resp.status = r.StatusCode
		}
		state.err = err
	})
}

// runCollector always waits for Visit to return so state is never read while
// the collector may still write it. The collector runs on ctx, so a cancel
// ends the request promptly.
func runCollector(ctx context.Context, collector *colly.Collector, url string, state *fetchState) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	var visitErr error
	select {
	case visitErr = <-done:
	case <-ctx.Done():
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	}

	if visitErr != nil {
		if errors.Is(visitErr, colly.ErrRobotsTxtBlocked) {
			return fmt.Errorf("disallowed by robots.txt: %w", visitErr)
		}
		if state.err == nil {
			return fmt.Errorf("colly visit failed: %w", visitErr)
		}
	}
	if state.err != nil {
		return fmt.Errorf("colly response failed: %w", state.err)
	}
	return nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
