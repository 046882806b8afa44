// Package memory provides a process-local visited set for development runs
// and tests.
package memory

import (
	"context"
	"sync"
)

// Set is a concurrent, append-only URL set.
type Set struct {
	seen sync.Map
}

// New creates an empty Set.
func New() *Set {
	return &Set{}
}

// Contains reports whether url was added before.
func (s *Set) Contains(_ context.Context, url string) (bool, error) {
	_, ok := s.seen.Load(url)
	return ok, nil
}

// Add records url. Adding twice is a no-op.
func (s *Set) Add(_ context.Context, url string) error {
	if url == "" {
		return nil
	}
	s.seen.LoadOrStore(url, struct{}{})
	return nil
}

// Len counts the stored URLs.
func (s *Set) Len() int {
	n := 0
	s.seen.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
