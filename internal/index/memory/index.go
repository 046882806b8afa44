// Package memory is an in-process page index for local runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
)

// Index records saved pages by URL.
type Index struct {
	mu    sync.RWMutex
	pages map[string]crawler.Page
}

// New returns an empty Index.
func New() *Index {
	return &Index{pages: make(map[string]crawler.Page)}
}

// Save records page, replacing any earlier entry for its URL.
func (i *Index) Save(_ context.Context, page crawler.Page) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pages[page.Link.URL] = page
	return nil
}

// Contains reports whether url was indexed.
func (i *Index) Contains(url string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.pages[url]
	return ok
}

// Len reports the number of indexed pages.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.pages)
}
