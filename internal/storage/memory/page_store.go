package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
)

// PageStore keeps pages in memory, keyed by URL.
type PageStore struct {
	mu    sync.RWMutex
	pages map[string]crawler.Page
}

// NewPageStore constructs an empty PageStore.
func NewPageStore() *PageStore {
	return &PageStore{pages: make(map[string]crawler.Page)}
}

// Add stores or replaces the page.
func (s *PageStore) Add(_ context.Context, page crawler.Page) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page.Link.URL] = page
	return true, nil
}

// Get returns the page stored for url.
func (s *PageStore) Get(url string) (crawler.Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[url]
	return page, ok
}

// Len reports the number of stored pages.
func (s *PageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}
