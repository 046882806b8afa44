package shutdown

import "sync"

// Spill collects URLs that a role was holding when it was told to stop and
// could not put back on a queue. The coordinator flushes it with the queues.
type Spill struct {
	mu    sync.Mutex
	items []string
}

// NewSpill creates an empty Spill.
func NewSpill() *Spill {
	return &Spill{}
}

// Name identifies the spill in logs and health snapshots.
func (s *Spill) Name() string {
	return "spill"
}

// Add appends urls.
func (s *Spill) Add(urls ...string) {
	if len(urls) == 0 {
		return
	}
	s.mu.Lock()
	s.items = append(s.items, urls...)
	s.mu.Unlock()
}

// Drain removes and returns everything collected so far.
func (s *Spill) Drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.items
	s.items = nil
	return out
}

// Len reports the number of collected URLs.
func (s *Spill) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
