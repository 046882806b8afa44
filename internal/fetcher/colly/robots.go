package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/metrics"
)

// Reasons a robots.txt was assumed allow-all. Also used as metric labels.
const (
	robotsReasonTimeout      = "timeout"
	robotsReasonTLSHandshake = "tls_handshake"
	robotsReasonServerError  = "server_error"
)

const allowAllRobots = "User-agent: *\nAllow: /"

var robotsRetryDelays = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsGuard wraps the collector transport. Page requests pass through.
// A robots.txt request that keeps failing transiently is answered with an
// allow-all body so the page is not lost to a flaky host, and the host and
// reason are handed to onFallback.
type robotsGuard struct {
	next       http.RoundTripper
	delays     []time.Duration
	onFallback func(host, reason string)
}

func (g *robotsGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots guard: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := g.next.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}

	for attempt := 0; ; attempt++ {
		resp, err := g.next.RoundTrip(req.Clone(req.Context()))
		reason := robotsRetryReason(req.Context(), resp, err)
		if reason == "" {
			if err != nil {
				return nil, fmt.Errorf("fetch robots.txt for %s: %w", req.URL.Host, err)
			}
			return resp, nil
		}
		discard(resp)

		if attempt >= len(g.delays) {
			metrics.ObserveRobotsFallback(reason)
			if g.onFallback != nil {
				g.onFallback(req.URL.Host, reason)
			}
			return allowAllResponse(req), nil
		}
		if err := sleepContext(req.Context(), g.delays[attempt]); err != nil {
			return nil, fmt.Errorf("robots.txt retry for %s: %w", req.URL.Host, err)
		}
	}
}

// robotsRetryReason is empty when the attempt should stand as is.
func robotsRetryReason(ctx context.Context, resp *http.Response, err error) string {
	if ctx.Err() != nil {
		return ""
	}
	if err == nil {
		if resp != nil && resp.StatusCode >= http.StatusInternalServerError {
			return robotsReasonServerError
		}
		return ""
	}
	if strings.Contains(err.Error(), "tls: handshake") {
		return robotsReasonTLSHandshake
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return robotsReasonTimeout
	}
	return ""
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Request:       req,
	}
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
