package crawler

import (
	"context"
	"time"
)

// PageFetcher retrieves and parses a page. A nil document with a nil error
// means the URL produced no content.
type PageFetcher interface {
	Fetch(ctx context.Context, link Link) (*Document, error)
}

// PageStore persists pages. A false result or an error is retryable.
type PageStore interface {
	Add(ctx context.Context, page Page) (bool, error)
}

// PageIndex makes stored pages searchable.
type PageIndex interface {
	Save(ctx context.Context, page Page) error
}

// VisitedSet is the shared, append-only record of URLs already attempted by
// any crawler instance.
type VisitedSet interface {
	Contains(ctx context.Context, url string) (bool, error)
	Add(ctx context.Context, url string) error
}

// DomainCache remembers when each domain was last attempted by this process.
// Entries expire after the cache TTL.
type DomainCache interface {
	Seen(domain string) bool
	Record(domain string, at time.Time)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// FrontierPublisher publishes a URL to the broker frontier topic.
type FrontierPublisher interface {
	Publish(ctx context.Context, url string) error
}

// PagePublisher publishes a stored page to the discovered-page topic.
type PagePublisher interface {
	PublishPage(ctx context.Context, page Page) error
}

// FrontierHandler receives one frontier URL. Returning nil acknowledges the
// message; returning an error asks the broker to redeliver it.
type FrontierHandler func(ctx context.Context, url string) error

// FrontierSource delivers frontier messages one at a time until ctx is done.
type FrontierSource interface {
	Receive(ctx context.Context, handle FrontierHandler) error
}

// Queue is a bounded local buffer of URLs.
type Queue interface {
	Enqueue(ctx context.Context, url string) error
	TryEnqueue(url string) bool
	Dequeue(ctx context.Context) (string, error)
	Len() int
}

// Hasher computes digests used as stable document keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
