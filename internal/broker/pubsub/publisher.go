// Package pubsub connects the pipeline to Google Cloud Pub/Sub: a frontier
// publisher, an optional discovered-page publisher and a frontier source.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
)

// Message attributes set on every publish.
const (
	AttrKey      = "key"
	AttrProducer = "producer"
)

// Publisher sends frontier URLs and stored pages to their topics.
type Publisher struct {
	frontier *pubsub.Publisher
	pages    *pubsub.Publisher
	producer string
}

// New creates a Publisher. pages may be nil when no page topic is configured.
// producer identifies this pipeline instance in message attributes.
func New(frontier, pages *pubsub.Publisher, producer string) *Publisher {
	return &Publisher{frontier: frontier, pages: pages, producer: producer}
}

// Publish sends url to the frontier topic with key = value = url and waits
// for the server acknowledgement.
func (p *Publisher) Publish(ctx context.Context, url string) error {
	if p.frontier == nil {
		return errors.New("frontier publisher is not configured")
	}
	if _, err := p.send(ctx, p.frontier, url, []byte(url)); err != nil {
		return fmt.Errorf("publish url: %w", err)
	}
	return nil
}

// PublishPage sends the page as JSON to the page topic, keyed by its URL.
func (p *Publisher) PublishPage(ctx context.Context, page crawler.Page) error {
	if p.pages == nil {
		return errors.New("page publisher is not configured")
	}
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal page: %w", err)
	}
	if _, err := p.send(ctx, p.pages, page.Link.URL, data); err != nil {
		return fmt.Errorf("publish page: %w", err)
	}
	return nil
}

func (p *Publisher) send(ctx context.Context, topic *pubsub.Publisher, key string, data []byte) (string, error) {
	msg := &pubsub.Message{Data: data}
	msg.Attributes = map[string]string{AttrKey: key}
	if p.producer != "" {
		msg.Attributes[AttrProducer] = p.producer
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	result := topic.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending publishes and stops the underlying publishers.
func (p *Publisher) Stop() {
	if p.frontier != nil {
		p.frontier.Stop()
	}
	if p.pages != nil {
		p.pages.Stop()
	}
}
