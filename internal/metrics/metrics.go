// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerLinksTotal          *prometheus.CounterVec
	crawlerFetchDuration       *prometheus.HistogramVec
	crawlerPublishTotal        *prometheus.CounterVec
	crawlerPublishRetriesTotal prometheus.Counter
	crawlerFlushTotal          *prometheus.CounterVec
	crawlerFrontierTotal       *prometheus.CounterVec
	crawlerRobotsFallbackTotal *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerLinksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_links_processed_total",
				Help: "Links processed by crawl workers, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerFetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Page fetch latency, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		crawlerPublishTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_republish_total",
				Help: "Frontier republish attempts, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerPublishRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_republish_retries_total",
				Help: "Frontier publishes retried after a broker failure.",
			},
		)

		crawlerFlushTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_shutdown_flush_total",
				Help: "URLs republished during the shutdown flush, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerFrontierTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_frontier_messages_total",
				Help: "Frontier messages consumed, labeled by ack or nack.",
			},
			[]string{"result"},
		)

		crawlerRobotsFallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_robots_fallback_total",
				Help: "robots.txt fetches treated as allow-all after retries, labeled by reason.",
			},
			[]string{"reason"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOutcome counts one processed link.
func ObserveOutcome(outcome string) {
	Init()
	crawlerLinksTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records how long a fetch took.
func ObserveFetch(site string, duration time.Duration) {
	Init()
	crawlerFetchDuration.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObservePublish counts one republish attempt.
func ObservePublish(status string) {
	Init()
	crawlerPublishTotal.WithLabelValues(status).Inc()
}

// ObservePublishRetry counts one republish retry.
func ObservePublishRetry() {
	Init()
	crawlerPublishRetriesTotal.Inc()
}

// ObserveFlush counts one URL handled by the shutdown flush.
func ObserveFlush(status string) {
	Init()
	crawlerFlushTotal.WithLabelValues(status).Inc()
}

// ObserveFrontier counts one consumed frontier message.
func ObserveFrontier(result string) {
	Init()
	crawlerFrontierTotal.WithLabelValues(result).Inc()
}

// ObserveRobotsFallback counts one robots.txt treated as allow-all.
func ObserveRobotsFallback(reason string) {
	Init()
	crawlerRobotsFallbackTotal.WithLabelValues(reason).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
