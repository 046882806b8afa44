package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	brokermemory "github.com/JakeFAU/realtime-crawl-pipeline/internal/broker/memory"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/health"
)

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(Options{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_ReadyzTurnsUnavailableWhenStopping(t *testing.T) {
	t.Parallel()

	server, pipeline, _ := newTestServer(Options{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	pipeline.stopping.Store(true)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"status":"stopping"}`, rec.Body.String())
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(Options{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_HealthReportsSnapshot(t *testing.T) {
	t.Parallel()

	server, pipeline, _ := newTestServer(Options{})
	pipeline.snapshot = health.Snapshot{
		At:               time.Unix(100, 0).UTC(),
		Running:          2,
		Blocked:          3,
		Terminated:       1,
		QueueDepths:      map[string]int{"ingest": 4, "shuffle": 0},
		ThrottledDomains: 7,
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Running)
	require.Equal(t, 3, body.Blocked)
	require.Equal(t, 1, body.Terminated)
	require.Equal(t, 4, body.QueueDepths["ingest"])
	require.False(t, body.Stopping)
	require.Equal(t, 7, body.ThrottledDomains)
}

func TestServer_SubmitSeedsPublishesValidURLs(t *testing.T) {
	t.Parallel()

	server, _, broker := newTestServer(Options{})
	payload := `{"urls":["https://Example.com/a","not a url","https://example.org/b"]}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/seeds", bytes.NewBufferString(payload))
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body seedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Published, 2)
	require.Contains(t, body.Rejected, "not a url")
	require.Len(t, broker.Frontier(), 2)
}

func TestServer_SubmitSeedsRejectsBadBodies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload string
		status  int
	}{
		{name: "invalid json", payload: `{`, status: http.StatusBadRequest},
		{name: "missing urls", payload: `{}`, status: http.StatusBadRequest},
		{name: "only malformed", payload: `{"urls":["::"]}`, status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server, _, broker := newTestServer(Options{})
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/seeds", bytes.NewBufferString(tc.payload))
			server.Handler().ServeHTTP(rec, req)

			require.Equal(t, tc.status, rec.Code)
			require.Empty(t, broker.Frontier())
		})
	}
}

func TestServer_SubmitSeedsPublishFailure(t *testing.T) {
	t.Parallel()

	server, _, broker := newTestServer(Options{})
	broker.FailWith(func(string) error { return errors.New("broker down") })

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/seeds", bytes.NewBufferString(`{"urls":["https://example.com"]}`))
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "broker down")
}

func TestServer_APIKeyGuardsV1Only(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(Options{APIKey: "secret"})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health?api_key=secret", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(Options{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(Options{})
	h := server.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type fakePipeline struct {
	stopping atomic.Bool
	snapshot health.Snapshot
}

func (p *fakePipeline) Stopping() bool {
	return p.stopping.Load()
}

func (p *fakePipeline) Health() health.Snapshot {
	return p.snapshot
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(opts Options) (*Server, *fakePipeline, *brokermemory.Broker) {
	pipeline := &fakePipeline{}
	broker := brokermemory.New()
	return NewServer(pipeline, broker, opts, zap.NewNop()), pipeline, broker
}
