package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
	"github.com/JakeFAU/realtime-crawl-pipeline/internal/visited/memory"
)

type fakeClock struct {
	now time.Time
}

func (f fakeClock) Now() time.Time { return f.now }

type countingVisited struct {
	mu       sync.Mutex
	inner    *memory.Set
	contains int
	err      error
}

func (c *countingVisited) Contains(ctx context.Context, url string) (bool, error) {
	c.mu.Lock()
	c.contains++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return false, err
	}
	return c.inner.Contains(ctx, url)
}

func (c *countingVisited) Add(ctx context.Context, url string) error {
	return c.inner.Add(ctx, url)
}

func (c *countingVisited) lookups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contains
}

func newCoordinator(t *testing.T) (*Coordinator, *countingVisited, *DomainCache) {
	t.Helper()
	domains := NewDomainCache(10 * time.Minute)
	visited := &countingVisited{inner: memory.New()}
	clock := fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return New(domains, visited, clock), visited, domains
}

func TestDecideProceedThenThrottled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coord, visited, domains := newCoordinator(t)

	decision, link, err := coord.Decide(ctx, "http://a.com/x")
	require.NoError(t, err)
	require.Equal(t, crawler.DecisionProceed, decision)
	require.Equal(t, "a.com", link.Domain)

	coord.MarkDomain(link)
	at, ok := domains.lastAttempt("a.com")
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), at)

	decision, link, err = coord.Decide(ctx, "http://www.a.com/y")
	require.NoError(t, err)
	require.Equal(t, crawler.DecisionSkipThrottled, decision)
	require.Equal(t, "http://www.a.com/y", link.URL)
	require.Equal(t, 1, visited.lookups(), "throttled links must not reach the visited set")
}

func TestDecideAlreadyKnown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coord, _, _ := newCoordinator(t)

	link, err := crawler.ParseLink("https://b.org/page")
	require.NoError(t, err)
	require.NoError(t, coord.MarkAttempted(ctx, link))

	decision, _, err := coord.Decide(ctx, "https://b.org/page")
	require.NoError(t, err)
	require.Equal(t, crawler.DecisionAlreadyKnown, decision)
}

func TestDecideMalformed(t *testing.T) {
	t.Parallel()

	coord, visited, _ := newCoordinator(t)
	_, _, err := coord.Decide(context.Background(), "not a url")
	require.ErrorIs(t, err, crawler.ErrMalformedLink)
	require.Zero(t, visited.lookups())
}

func TestDecideVisitedFailureIsStoreUnavailable(t *testing.T) {
	t.Parallel()

	coord, visited, _ := newCoordinator(t)
	visited.err = errors.New("connection refused")

	_, link, err := coord.Decide(context.Background(), "http://c.net/")
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, "c.net", link.Domain)
}

func TestDomainCacheExpires(t *testing.T) {
	t.Parallel()

	cache := NewDomainCache(40 * time.Millisecond)
	go cache.Start()
	t.Cleanup(cache.Stop)

	cache.Record("a.com", time.Now())
	require.True(t, cache.Seen("a.com"))
	require.False(t, cache.Seen("b.com"))

	require.Eventually(t, func() bool {
		return !cache.Seen("a.com")
	}, time.Second, 10*time.Millisecond)
}

func TestDomainCacheReadsDoNotExtendWindow(t *testing.T) {
	t.Parallel()

	cache := NewDomainCache(60 * time.Millisecond)
	cache.Record("a.com", time.Now())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !cache.Seen("a.com") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("repeated reads kept the domain entry alive")
}
