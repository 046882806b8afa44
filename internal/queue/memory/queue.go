// Package memory provides the bounded in-process URL queues that sit between
// pipeline roles.
package memory

import (
	"context"
	"fmt"
)

// Queue is a bounded FIFO of URLs with context-aware blocking operations.
// It is safe for any number of concurrent producers and consumers.
type Queue struct {
	name string
	ch   chan string
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(name string, capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		name: name,
		ch:   make(chan string, capacity),
	}
}

// Name identifies the queue in logs and metrics.
func (q *Queue) Name() string {
	return q.name
}

// Enqueue blocks until the URL is accepted or the context ends.
func (q *Queue) Enqueue(ctx context.Context, url string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- url:
		return nil
	}
}

// TryEnqueue adds the URL only if there is room right now.
func (q *Queue) TryEnqueue(url string) bool {
	select {
	case q.ch <- url:
		return true
	default:
		return false
	}
}

// Dequeue blocks until a URL is available or the context ends.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case url := <-q.ch:
		return url, nil
	}
}

// Drain removes and returns everything currently buffered without blocking.
func (q *Queue) Drain() []string {
	var out []string
	for {
		select {
		case url := <-q.ch:
			out = append(out, url)
		default:
			return out
		}
	}
}

// Len reports the number of buffered URLs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
