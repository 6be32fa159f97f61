package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/flyoverhead/core/internal/domain"
)

// InsertEvent persists a webhook event. Write-through per spec.md §4.6:
// this must complete before any delivery message is enqueued.
func (r *Repository) InsertEvent(ctx context.Context, e domain.WebhookEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO webhook_events (event_id, event_type, version, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, e.EventID, e.EventType, e.Version, e.OccurredAt, payload)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.EventID, err)
	}
	return nil
}

// ActiveSubscriptionsMatching returns every active subscription whose
// event-type filter matches eventType, per spec.md §4.6.
func (r *Repository) ActiveSubscriptionsMatching(ctx context.Context, eventType string) ([]domain.WebhookSubscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, subscriber_id, callback_url, event_type_filter, signing_secret,
			status, rate_limit_per_minute, max_attempts, backoff_ms
		FROM webhook_subscriptions
		WHERE status = 'active'
	`)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookSubscription
	for rows.Next() {
		var s domain.WebhookSubscription
		if err := rows.Scan(
			&s.ID, &s.SubscriberID, &s.CallbackURL, &s.EventTypeFilter, &s.SigningSecret,
			&s.Status, &s.RateLimitPerMinute, &s.MaxAttempts, &s.BackoffMS,
		); err != nil {
			return nil, fmt.Errorf("scan subscription row: %w", err)
		}
		if s.MatchesEventType(eventType) {
			out = append(out, s)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	return out, nil
}

// InsertDelivery creates a delivery-attempt row in pending status.
func (r *Repository) InsertDelivery(ctx context.Context, d domain.DeliveryAttempt) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_delivery_attempts (delivery_id, event_id, subscription_id, status, attempt_count)
		VALUES ($1, $2, $3, $4, $5)
	`, d.DeliveryID, d.EventID, d.SubscriptionID, d.Status, d.AttemptCount)
	if err != nil {
		return fmt.Errorf("insert delivery %s: %w", d.DeliveryID, err)
	}
	return nil
}

// UpdateDelivery records the outcome of one delivery attempt: the response
// status/body (truncated by the caller), either a next_attempt_at or a
// terminal status, and the attempt count. Exclusively called by the
// dispatcher (C7).
func (r *Repository) UpdateDelivery(ctx context.Context, d domain.DeliveryAttempt) error {
	var nextAttempt any
	if !d.NextAttemptAt.IsZero() {
		nextAttempt = d.NextAttemptAt
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_delivery_attempts
		SET status = $2, attempt_count = $3, next_attempt_at = $4,
			last_error = $5, response_status = $6, response_body = $7
		WHERE delivery_id = $1
	`, d.DeliveryID, d.Status, d.AttemptCount, nextAttempt, d.LastError, d.ResponseStatus, d.ResponseBody)
	if err != nil {
		return fmt.Errorf("update delivery %s: %w", d.DeliveryID, err)
	}
	return nil
}

// GetSubscription fetches one subscription by id. The dispatcher does not
// call it; a queued delivery carries its own copy of the subscription's
// callback settings.
func (r *Repository) GetSubscription(ctx context.Context, id string) (domain.WebhookSubscription, bool, error) {
	var s domain.WebhookSubscription
	err := r.pool.QueryRow(ctx, `
		SELECT id, subscriber_id, callback_url, event_type_filter, signing_secret,
			status, rate_limit_per_minute, max_attempts, backoff_ms
		FROM webhook_subscriptions WHERE id = $1
	`, id).Scan(
		&s.ID, &s.SubscriberID, &s.CallbackURL, &s.EventTypeFilter, &s.SigningSecret,
		&s.Status, &s.RateLimitPerMinute, &s.MaxAttempts, &s.BackoffMS,
	)
	if err == pgx.ErrNoRows {
		return domain.WebhookSubscription{}, false, nil
	}
	if err != nil {
		return domain.WebhookSubscription{}, false, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return s, true, nil
}
