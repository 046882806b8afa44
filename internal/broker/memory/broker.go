// Package memory is an in-process broker for local runs and tests. Published
// frontier URLs are recorded and looped back to Receive.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
)

// Topic names recorded on messages.
const (
	TopicFrontier = "frontier"
	TopicPages    = "pages"
)

// Message captures one publish call.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Broker records publishes and redelivers frontier URLs to its subscriber.
// The pending backlog is unbounded, like a real topic.
type Broker struct {
	mu       sync.Mutex
	messages []Message
	pending  []string
	acked    int
	nacked   int
	failFn   func(url string) error
	notify   chan struct{}
}

// New returns an empty Broker.
func New() *Broker {
	return &Broker{notify: make(chan struct{}, 1)}
}

// FailWith installs a hook consulted before every frontier publish; a non-nil
// result fails that publish. Pass nil to clear it.
func (b *Broker) FailWith(fn func(url string) error) {
	b.mu.Lock()
	b.failFn = fn
	b.mu.Unlock()
}

// Publish records url on the frontier topic (key = value = url) and queues
// it for delivery.
func (b *Broker) Publish(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish canceled: %w", err)
	}
	b.mu.Lock()
	if b.failFn != nil {
		if err := b.failFn(url); err != nil {
			b.mu.Unlock()
			return fmt.Errorf("publish message: %w", err)
		}
	}
	b.messages = append(b.messages, Message{Topic: TopicFrontier, Key: url, Value: []byte(url)})
	b.pending = append(b.pending, url)
	b.mu.Unlock()
	b.wake()
	return nil
}

// PublishPage records the page as JSON on the page topic.
func (b *Broker) PublishPage(_ context.Context, page crawler.Page) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal page: %w", err)
	}
	b.mu.Lock()
	b.messages = append(b.messages, Message{Topic: TopicPages, Key: page.Link.URL, Value: data})
	b.mu.Unlock()
	return nil
}

// Receive delivers pending URLs one at a time until ctx ends. A handler error
// requeues the URL at the back of the backlog.
func (b *Broker) Receive(ctx context.Context, handle crawler.FrontierHandler) error {
	for {
		url, ok := b.next()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-b.notify:
				continue
			}
		}
		if err := ctx.Err(); err != nil {
			b.requeue(url, false)
			return nil
		}
		if err := handle(ctx, url); err != nil {
			b.requeue(url, true)
			continue
		}
		b.mu.Lock()
		b.acked++
		b.mu.Unlock()
	}
}

func (b *Broker) next() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return "", false
	}
	url := b.pending[0]
	b.pending = b.pending[1:]
	return url, true
}

func (b *Broker) requeue(url string, nack bool) {
	b.mu.Lock()
	b.pending = append(b.pending, url)
	if nack {
		b.nacked++
	}
	b.mu.Unlock()
	b.wake()
}

func (b *Broker) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Messages returns the recorded publishes.
func (b *Broker) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Frontier returns the URLs published to the frontier topic, in order.
func (b *Broker) Frontier() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, m := range b.messages {
		if m.Topic == TopicFrontier {
			out = append(out, m.Key)
		}
	}
	return out
}

// Pending reports URLs published but not yet acknowledged.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Acks reports how many deliveries were acknowledged.
func (b *Broker) Acks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked
}

// Nacks reports how many deliveries were rejected by the handler.
func (b *Broker) Nacks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nacked
}
