// Package publisher implements the webhook publisher (C6) of spec.md §4.6:
// given a domain event, persist it write-through, fan it out to every
// matching active subscription, and enqueue one delivery message per
// subscription onto the webhook queue. Grounded on the pack's
// austindbirch-harbor_hook ingest-service PublishEvent handler (event
// persisted before any queue message is produced).
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flyoverhead/core/internal/domain"
	"github.com/flyoverhead/core/internal/logging"
	"github.com/flyoverhead/core/internal/queue"
	"github.com/flyoverhead/core/internal/repository"
)

// Publisher matches events to subscriptions and drives deliveries onto the
// webhook queue.
type Publisher struct {
	repo  *repository.Repository
	queue *queue.Queue
	log   *logging.Logger
}

// New builds a Publisher.
func New(repo *repository.Repository, q *queue.Queue, log *logging.Logger) *Publisher {
	return &Publisher{repo: repo, queue: q, log: log}
}

// Publish persists eventType/payload as a new webhook event and enqueues
// one delivery message per matching active subscription, per spec.md
// §4.6. Returns the number of subscriptions fanned out to.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload map[string]any) (int, error) {
	event := domain.WebhookEvent{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		Version:    "v1",
		OccurredAt: time.Now(),
		Payload:    payload,
	}

	if err := p.repo.InsertEvent(ctx, event); err != nil {
		return 0, fmt.Errorf("publish %s: %w", eventType, err)
	}

	subs, err := p.repo.ActiveSubscriptionsMatching(ctx, eventType)
	if err != nil {
		return 0, fmt.Errorf("publish %s: list subscriptions: %w", eventType, err)
	}

	fanned := 0
	for _, sub := range subs {
		deliveryID := uuid.NewString()

		delivery := domain.DeliveryAttempt{
			DeliveryID:     deliveryID,
			EventID:        event.EventID,
			SubscriptionID: sub.ID,
			Status:         domain.DeliveryPending,
		}
		if err := p.repo.InsertDelivery(ctx, delivery); err != nil {
			p.log.WithError(err).WithField("subscription_id", sub.ID).Warn("failed to create delivery row")
			continue
		}

		msg := domain.WebhookQueueMessage{
			DeliveryID:         deliveryID,
			EventID:            event.EventID,
			SubscriptionID:     sub.ID,
			CallbackURL:        sub.CallbackURL,
			SigningSecret:      sub.SigningSecret,
			Event:              event,
			Attempt:            0,
			MaxAttempts:        sub.MaxAttempts,
			BackoffMS:          sub.BackoffMS,
			RateLimitPerMinute: sub.RateLimitPerMinute,
			AvailableAt:        time.Now(),
		}
		if err := p.queue.EnqueueJSON(ctx, msg); err != nil {
			p.log.WithError(err).WithField("subscription_id", sub.ID).Warn("failed to enqueue delivery")
			continue
		}
		fanned++
	}

	return fanned, nil
}
