// Package dedup decides whether a link should be fetched now, dropped as
// already known, or skipped because its domain was attempted recently.
package dedup

import (
	"context"
	"fmt"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
)

// Coordinator runs the two-tier check: the process-local domain cache first,
// then the shared visited set.
type Coordinator struct {
	domains crawler.DomainCache
	visited crawler.VisitedSet
	clock   crawler.Clock
}

// New wires a Coordinator.
func New(domains crawler.DomainCache, visited crawler.VisitedSet, clock crawler.Clock) *Coordinator {
	return &Coordinator{
		domains: domains,
		visited: visited,
		clock:   clock,
	}
}

// Decide classifies raw. A malformed URL yields an error wrapping
// crawler.ErrMalformedLink; a failing visited-set lookup yields an error
// wrapping crawler.ErrStoreUnavailable.
func (c *Coordinator) Decide(ctx context.Context, raw string) (crawler.Decision, crawler.Link, error) {
	link, err := crawler.ParseLink(raw)
	if err != nil {
		return "", crawler.Link{}, err
	}
	if c.domains.Seen(link.Domain) {
		return crawler.DecisionSkipThrottled, link, nil
	}
	known, err := c.visited.Contains(ctx, link.URL)
	if err != nil {
		return "", link, fmt.Errorf("%w: visited lookup: %w", crawler.ErrStoreUnavailable, err)
	}
	if known {
		return crawler.DecisionAlreadyKnown, link, nil
	}
	return crawler.DecisionProceed, link, nil
}

// MarkDomain starts a new throttle window for the link's domain.
func (c *Coordinator) MarkDomain(link crawler.Link) {
	c.domains.Record(link.Domain, c.clock.Now())
}

// MarkAttempted adds the link to the shared visited set.
func (c *Coordinator) MarkAttempted(ctx context.Context, link crawler.Link) error {
	if err := c.visited.Add(ctx, link.URL); err != nil {
		return fmt.Errorf("mark attempted: %w", err)
	}
	return nil
}
