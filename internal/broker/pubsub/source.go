package pubsub

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/crawler"
)

// Source reads the frontier subscription one message at a time. A message is
// acked only after the handler accepted it.
type Source struct {
	sub *pubsub.Subscriber
}

// NewSource configures sub for strictly serial delivery: one outstanding
// message, held by the consumer until the ingest queue has room.
func NewSource(sub *pubsub.Subscriber) *Source {
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	sub.ReceiveSettings.NumGoroutines = 1
	return &Source{sub: sub}
}

// Receive blocks until ctx is done or the subscription fails.
func (s *Source) Receive(ctx context.Context, handle crawler.FrontierHandler) error {
	err := s.sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		msgCtx = otel.GetTextMapPropagator().Extract(msgCtx, &pubsubCarrier{attrs: msg.Attributes})
		if err := handle(msgCtx, string(msg.Data)); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive frontier: %w", err)
	}
	return nil
}
